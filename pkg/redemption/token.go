// Package redemption implements the redemption flow: short-lived signed
// redemption tokens, mirror-backed ownership confirmation, and the wipe-gated
// redemption orchestration.
package redemption

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chainperks/coupon-middleware/pkg/keys"
	"github.com/chainperks/coupon-middleware/pkg/ledger"
)

var (
	ErrTokenExpired          = errors.New("redemption token expired")
	ErrTokenSignatureInvalid = errors.New("redemption token signature invalid")
	ErrTokenMalformed        = errors.New("redemption token malformed")
)

// DefaultTokenTTL bounds how long a generated QR code stays redeemable.
const DefaultTokenTTL = 5 * time.Minute

// TokenClaims is the canonical signed payload of a redemption token. The
// token proves the backend vouched for (coupon, holder) at issue time; it is
// not proof of current ownership, which Redeem re-checks against the mirror.
type TokenClaims struct {
	CouponRef string           `json:"couponRef"`
	Holder    ledger.AccountID `json:"holder"`
	IssuedAt  time.Time        `json:"issuedAt"`
	Nonce     string           `json:"nonce"`
}

// Ref parses the coupon reference embedded in the claims.
func (c *TokenClaims) Ref() (ledger.NftRef, error) {
	return ledger.ParseNftRef(c.CouponRef)
}

type signedToken struct {
	Payload   json.RawMessage `json:"payload"`
	Signature []byte          `json:"signature"`
}

// TokenService issues and verifies operator-signed redemption tokens.
// Verification is pure local cryptography; it never touches the ledger.
type TokenService struct {
	operatorKey *keys.WalletKeyPair
	ttl         time.Duration
	now         func() time.Time
}

// NewTokenService creates a token service signing with the operator key.
// ttl <= 0 selects DefaultTokenTTL.
func NewTokenService(operatorKey *keys.WalletKeyPair, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{
		operatorKey: operatorKey,
		ttl:         ttl,
		now:         time.Now,
	}
}

// TTL returns the configured token lifetime.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a redemption token for the coupon and holder. Each call embeds
// a fresh nonce, so repeated issues produce distinct tokens.
func (s *TokenService) Issue(ref ledger.NftRef, holder ledger.AccountID) (string, time.Time, error) {
	issuedAt := s.now().UTC()
	claims := TokenClaims{
		CouponRef: ref.String(),
		Holder:    holder,
		IssuedAt:  issuedAt,
		Nonce:     uuid.NewString(),
	}
	payload, err := json.Marshal(&claims)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("marshal claims: %w", err)
	}

	signature, err := s.operatorKey.Sign(payload)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token signing failed: %w", err)
	}

	raw, err := json.Marshal(&signedToken{Payload: payload, Signature: signature})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("marshal token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), issuedAt.Add(s.ttl), nil
}

// Verify checks the token's operator signature and expiry and returns the
// embedded claims.
func (s *TokenService) Verify(token string) (*TokenClaims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	var st signedToken
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	if !s.operatorKey.Verify(st.Payload, st.Signature) {
		return nil, ErrTokenSignatureInvalid
	}

	var claims TokenClaims
	if err := json.Unmarshal(st.Payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if _, err := claims.Ref(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	// Expiry is inclusive: a token dies at expiresAt, not one instant later.
	if !s.now().Before(claims.IssuedAt.Add(s.ttl)) {
		return nil, ErrTokenExpired
	}
	return &claims, nil
}
