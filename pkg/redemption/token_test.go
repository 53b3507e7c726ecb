package redemption

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/chainperks/coupon-middleware/pkg/keys"
	"github.com/chainperks/coupon-middleware/pkg/ledger"
)

var testRef = ledger.NftRef{Collection: "0.0.5005", Serial: 42}

func newTokenService(t *testing.T, ttl time.Duration) *TokenService {
	t.Helper()
	kp, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("failed to generate operator key: %v", err)
	}
	return NewTokenService(kp, ttl)
}

func TestTokenRoundTrip(t *testing.T) {
	svc := newTokenService(t, time.Minute)

	token, expiresAt, err := svc.Issue(testRef, "0.0.9321")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Error("expiry must be in the future")
	}

	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.CouponRef != testRef.String() {
		t.Errorf("coupon ref mismatch: %s", claims.CouponRef)
	}
	if claims.Holder != "0.0.9321" {
		t.Errorf("holder mismatch: %s", claims.Holder)
	}
	if claims.Nonce == "" {
		t.Error("nonce missing")
	}
}

func TestTokenNoncesDiffer(t *testing.T) {
	svc := newTokenService(t, time.Minute)

	a, _, err := svc.Issue(testRef, "0.0.9321")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	b, _, err := svc.Issue(testRef, "0.0.9321")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if a == b {
		t.Error("two issues must produce distinct tokens")
	}
}

func TestTokenExpired(t *testing.T) {
	svc := newTokenService(t, time.Minute)

	token, expiresAt, err := svc.Issue(testRef, "0.0.9321")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	svc.now = func() time.Time { return expiresAt.Add(time.Minute) }
	if _, err := svc.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestTokenExpiresExactlyAtExpiry(t *testing.T) {
	svc := newTokenService(t, time.Minute)

	token, expiresAt, err := svc.Issue(testRef, "0.0.9321")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	svc.now = func() time.Time { return expiresAt }
	if _, err := svc.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired at the expiry instant, got %v", err)
	}

	svc.now = func() time.Time { return expiresAt.Add(-time.Millisecond) }
	if _, err := svc.Verify(token); err != nil {
		t.Fatalf("token must still verify just before expiry: %v", err)
	}
}

func TestTokenTamperedPayload(t *testing.T) {
	svc := newTokenService(t, time.Minute)

	token, _, err := svc.Issue(testRef, "0.0.9321")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		t.Fatalf("failed to decode token: %v", err)
	}
	var st signedToken
	if err := json.Unmarshal(raw, &st); err != nil {
		t.Fatalf("failed to unmarshal token: %v", err)
	}

	// Swap in a different holder behind the same signature
	var claims TokenClaims
	if err := json.Unmarshal(st.Payload, &claims); err != nil {
		t.Fatalf("failed to unmarshal claims: %v", err)
	}
	claims.Holder = "0.0.6666"
	st.Payload, _ = json.Marshal(&claims)
	forged, _ := json.Marshal(&st)

	_, err = svc.Verify(base64.RawURLEncoding.EncodeToString(forged))
	if !errors.Is(err, ErrTokenSignatureInvalid) {
		t.Fatalf("expected ErrTokenSignatureInvalid, got %v", err)
	}
}

func TestTokenWrongKey(t *testing.T) {
	issuer := newTokenService(t, time.Minute)
	verifier := newTokenService(t, time.Minute)

	token, _, err := issuer.Issue(testRef, "0.0.9321")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := verifier.Verify(token); !errors.Is(err, ErrTokenSignatureInvalid) {
		t.Fatalf("expected ErrTokenSignatureInvalid, got %v", err)
	}
}

func TestTokenMalformed(t *testing.T) {
	svc := newTokenService(t, time.Minute)

	for _, token := range []string{"", "not base64 ???", base64.RawURLEncoding.EncodeToString([]byte("{"))} {
		if _, err := svc.Verify(token); !errors.Is(err, ErrTokenMalformed) {
			t.Errorf("token %q: expected ErrTokenMalformed, got %v", token, err)
		}
	}
}
