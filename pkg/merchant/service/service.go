package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	apperrors "github.com/chainperks/coupon-middleware/pkg/app/errors"
	"github.com/chainperks/coupon-middleware/pkg/couponstore"
	"github.com/chainperks/coupon-middleware/pkg/keys"
	"github.com/chainperks/coupon-middleware/pkg/ledger"
	"github.com/chainperks/coupon-middleware/pkg/merchant"

	"github.com/google/uuid"
)

// compressedKeySize is the size of a compressed secp256k1 public key.
const compressedKeySize = 33

var (
	ErrCustodialDisabled = errors.New("operator custodial mode is disabled")
	ErrInvalidPublicKey  = errors.New("invalid public key")
	ErrNoLedgerAccount   = errors.New("merchant has no ledger account")
)

// TokenIssuer mints merchant API bearer tokens.
type TokenIssuer interface {
	Issue(merchantID string) (string, time.Time, error)
}

// Store is the narrow data-access interface for the custody service.
type Store interface {
	CreateMerchant(ctx context.Context, m *merchant.Merchant) error
	GetMerchant(ctx context.Context, id string) (*merchant.Merchant, error)
	SetMerchantCollection(ctx context.Context, id string, collection ledger.CollectionID) error
	AdvanceOnboarding(ctx context.Context, id string, status merchant.OnboardingStatus) error
}

// Service manages merchant registration, key custody, and lazy collection
// creation.
type Service interface {
	Register(ctx context.Context, req *merchant.RegisterRequest) (*merchant.RegisterResponse, error)
	Get(ctx context.Context, id string) (*merchant.Merchant, error)
	// EnsureCollection lazily creates the merchant's NFT collection on first
	// use. Safe to call repeatedly; only the first caller creates.
	EnsureCollection(ctx context.Context, merchantID string) (ledger.CollectionID, error)
	// CreateAccount creates an operator-funded ledger account controlled by a
	// device-held key. Only the public key crosses the wire.
	CreateAccount(ctx context.Context, publicKeyB64 string) (ledger.AccountID, error)
	// Activate marks the merchant fully onboarded. Called once their
	// collection has produced its first coupons.
	Activate(ctx context.Context, merchantID string) error
}

type custodyService struct {
	store           Store
	gateway         ledger.Gateway
	cipher          keys.KeyCipher
	tokens          TokenIssuer
	operatorAccount ledger.AccountID
	initialFunding  int64
	allowCustodial  bool
	logger          *zap.Logger
}

// NewService creates a merchant custody service.
func NewService(
	store Store,
	gateway ledger.Gateway,
	cipher keys.KeyCipher,
	tokens TokenIssuer,
	operatorAccount ledger.AccountID,
	initialFunding int64,
	allowCustodial bool,
	logger *zap.Logger,
) Service {
	return &custodyService{
		store:           store,
		gateway:         gateway,
		cipher:          cipher,
		tokens:          tokens,
		operatorAccount: operatorAccount,
		initialFunding:  initialFunding,
		allowCustodial:  allowCustodial,
		logger:          logger,
	}
}

// Register creates the merchant's ledger account and persists the merchant.
//
// device_key merchants submit the public key of a pair generated on their
// device; the backend never sees the private key. operator_custodial merchants
// get a server-generated pair whose private key is stored encrypted under the
// master key. Custodial registration is rejected unless explicitly enabled.
func (s *custodyService) Register(
	ctx context.Context,
	req *merchant.RegisterRequest,
) (*merchant.RegisterResponse, error) {
	mode := merchant.CustodyMode(req.CustodyMode)

	var (
		publicKey    []byte
		encryptedKey string
	)

	switch mode {
	case merchant.CustodyDeviceKey:
		decoded, err := base64.StdEncoding.DecodeString(req.PublicKey)
		if err != nil || len(decoded) != compressedKeySize {
			return nil, apperrors.BadRequestError(ErrInvalidPublicKey,
				fmt.Sprintf("publicKey must be a base64 %d-byte compressed key", compressedKeySize))
		}
		publicKey = decoded

	case merchant.CustodyOperatorCustodial:
		if !s.allowCustodial {
			return nil, apperrors.ForbiddenError(ErrCustodialDisabled, "operator custodial mode is disabled")
		}
		kp, err := keys.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("key generation failed: %w", err)
		}
		publicKey = kp.PublicKey
		encryptedKey, err = s.cipher.Encrypt(kp.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt key: %w", err)
		}

	default:
		return nil, apperrors.BadRequestError(nil, fmt.Sprintf("unknown custody mode %q", req.CustodyMode))
	}

	accountID, err := s.gateway.CreateAccount(ctx, publicKey, s.initialFunding)
	if err != nil {
		return nil, apperrors.DependencyError(err, apperrors.CodeLedgerCallFailed, "ledger account creation failed")
	}

	m := &merchant.Merchant{
		ID:                  uuid.NewString(),
		Name:                req.Name,
		ContactEmail:        req.ContactEmail,
		LedgerAccountID:     accountID,
		CustodyMode:         mode,
		PublicKey:           publicKey,
		OnboardingStatus:    merchant.OnboardingAccountCreated,
		EncryptedPrivateKey: encryptedKey,
	}
	if err := s.store.CreateMerchant(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to save merchant: %w", err)
	}

	s.logger.Info("merchant registered",
		zap.String("merchant_id", m.ID),
		zap.String("custody_mode", string(mode)),
		zap.String("ledger_account", string(accountID)),
	)

	resp := &merchant.RegisterResponse{
		MerchantID:       m.ID,
		LedgerAccountID:  accountID,
		CustodyMode:      mode,
		PublicKey:        base64.StdEncoding.EncodeToString(publicKey),
		OnboardingStatus: m.OnboardingStatus,
	}
	token, expiresAt, err := s.tokens.Issue(m.ID)
	if err != nil {
		// Registration already succeeded; the merchant can still obtain a
		// token later, so report the failure without rolling back.
		s.logger.Error("failed to issue merchant token",
			zap.String("merchant_id", m.ID), zap.Error(err))
	} else {
		resp.AuthToken = token
		resp.AuthTokenExpiresAt = expiresAt
	}
	return resp, nil
}

func (s *custodyService) Get(ctx context.Context, id string) (*merchant.Merchant, error) {
	m, err := s.store.GetMerchant(ctx, id)
	if errors.Is(err, couponstore.ErrNotFound) {
		return nil, apperrors.ResourceNotFoundError(err, "merchant not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load merchant: %w", err)
	}
	return m, nil
}

// EnsureCollection creates the merchant's collection on first use.
//
// device_key merchants get an operator-treasury collection: coupons sit in the
// operator account until claimed, so no merchant signature is needed.
// operator_custodial merchants act as their own treasury; the stored custodial
// key co-signs the creation alongside the operator.
func (s *custodyService) EnsureCollection(ctx context.Context, merchantID string) (ledger.CollectionID, error) {
	m, err := s.Get(ctx, merchantID)
	if err != nil {
		return "", err
	}
	if m.LedgerAccountID == "" {
		return "", apperrors.CodedNotFoundError(ErrNoLedgerAccount,
			apperrors.CodeMerchantAccountNotFound, "merchant has no ledger account")
	}
	if m.HasCollection() {
		return m.CollectionID, nil
	}

	req := &ledger.CreateCollectionRequest{
		Name:    m.Name + " Coupons",
		Symbol:  collectionSymbol(m.Name),
		AdminID: s.operatorAccount,
	}

	switch m.CustodyMode {
	case merchant.CustodyOperatorCustodial:
		req.TreasuryID = m.LedgerAccountID
		sig, err := s.custodialSignature(m, req)
		if err != nil {
			return "", err
		}
		req.Signatures = []ledger.Signature{sig}
	default:
		req.TreasuryID = s.operatorAccount
	}

	collectionID, err := s.gateway.CreateCollection(ctx, req)
	if err != nil {
		return "", apperrors.DependencyError(err, apperrors.CodeCollectionCreationFailed, "collection creation failed")
	}

	if err := s.store.SetMerchantCollection(ctx, m.ID, collectionID); err != nil {
		if errors.Is(err, couponstore.ErrStatusConflict) {
			// Lost the creation race; the first writer's collection wins.
			existing, gerr := s.store.GetMerchant(ctx, m.ID)
			if gerr != nil {
				return "", fmt.Errorf("failed to reload merchant: %w", gerr)
			}
			return existing.CollectionID, nil
		}
		return "", fmt.Errorf("failed to record collection: %w", err)
	}

	if err := s.store.AdvanceOnboarding(ctx, m.ID, merchant.OnboardingCollectionCreated); err != nil {
		s.logger.Warn("failed to advance onboarding status",
			zap.String("merchant_id", m.ID), zap.Error(err))
	}

	s.logger.Info("merchant collection created",
		zap.String("merchant_id", m.ID),
		zap.String("collection_id", string(collectionID)),
	)
	return collectionID, nil
}

// CreateAccount creates an operator-funded ledger account for a customer's
// device-generated key pair.
func (s *custodyService) CreateAccount(ctx context.Context, publicKeyB64 string) (ledger.AccountID, error) {
	publicKey, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil || len(publicKey) != compressedKeySize {
		return "", apperrors.BadRequestError(ErrInvalidPublicKey,
			fmt.Sprintf("publicKey must be a base64 %d-byte compressed key", compressedKeySize))
	}

	accountID, err := s.gateway.CreateAccount(ctx, publicKey, s.initialFunding)
	if err != nil {
		return "", apperrors.DependencyError(err, apperrors.CodeLedgerCallFailed, "ledger account creation failed")
	}

	s.logger.Info("ledger account created", zap.String("account_id", string(accountID)))
	return accountID, nil
}

// Activate advances the merchant to active. Onboarding never regresses, so
// calling it for an already-active merchant is a no-op.
func (s *custodyService) Activate(ctx context.Context, merchantID string) error {
	return s.store.AdvanceOnboarding(ctx, merchantID, merchant.OnboardingActive)
}

// custodialSignature signs the collection body with the merchant's stored key.
func (s *custodyService) custodialSignature(
	m *merchant.Merchant,
	req *ledger.CreateCollectionRequest,
) (ledger.Signature, error) {
	privateKey, err := s.cipher.Decrypt(m.EncryptedPrivateKey)
	if err != nil {
		return ledger.Signature{}, fmt.Errorf("failed to decrypt custodial key: %w", err)
	}
	kp, err := keys.KeyPairFromPrivateKey(privateKey)
	if err != nil {
		return ledger.Signature{}, fmt.Errorf("failed to load custodial key: %w", err)
	}
	payload, err := req.SigningPayload()
	if err != nil {
		return ledger.Signature{}, fmt.Errorf("failed to build signing payload: %w", err)
	}
	sig, err := kp.Sign(payload)
	if err != nil {
		return ledger.Signature{}, fmt.Errorf("custodial signing failed: %w", err)
	}
	return ledger.Signature{PublicKey: kp.PublicKey, Bytes: sig}, nil
}

// collectionSymbol derives a short ticker-style symbol from the merchant name,
// e.g. "Cafe Nine" -> "CAFE".
func collectionSymbol(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
		if b.Len() >= 4 {
			break
		}
	}
	if b.Len() == 0 {
		return "CPN"
	}
	return b.String()
}
