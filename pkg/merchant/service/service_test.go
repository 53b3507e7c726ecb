package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/chainperks/coupon-middleware/pkg/app/errors"
	"github.com/chainperks/coupon-middleware/pkg/couponstore"
	"github.com/chainperks/coupon-middleware/pkg/keys"
	"github.com/chainperks/coupon-middleware/pkg/ledger"
	"github.com/chainperks/coupon-middleware/pkg/merchant"
)

const operatorAccount = ledger.AccountID("0.0.2")

type mockStore struct {
	createMerchantFn func(ctx context.Context, m *merchant.Merchant) error
	getMerchantFn    func(ctx context.Context, id string) (*merchant.Merchant, error)
	setCollectionFn  func(ctx context.Context, id string, collection ledger.CollectionID) error
	advanceFn        func(ctx context.Context, id string, status merchant.OnboardingStatus) error
}

func (m *mockStore) CreateMerchant(ctx context.Context, mc *merchant.Merchant) error {
	return m.createMerchantFn(ctx, mc)
}

func (m *mockStore) GetMerchant(ctx context.Context, id string) (*merchant.Merchant, error) {
	return m.getMerchantFn(ctx, id)
}

func (m *mockStore) SetMerchantCollection(ctx context.Context, id string, collection ledger.CollectionID) error {
	return m.setCollectionFn(ctx, id, collection)
}

func (m *mockStore) AdvanceOnboarding(ctx context.Context, id string, status merchant.OnboardingStatus) error {
	if m.advanceFn == nil {
		return nil
	}
	return m.advanceFn(ctx, id, status)
}

type mockGateway struct {
	createAccountFn    func(ctx context.Context, publicKey []byte, initialFunding int64) (ledger.AccountID, error)
	createCollectionFn func(ctx context.Context, req *ledger.CreateCollectionRequest) (ledger.CollectionID, error)
}

func (g *mockGateway) CreateAccount(ctx context.Context, publicKey []byte, initialFunding int64) (ledger.AccountID, error) {
	return g.createAccountFn(ctx, publicKey, initialFunding)
}

func (g *mockGateway) CreateCollection(ctx context.Context, req *ledger.CreateCollectionRequest) (ledger.CollectionID, error) {
	return g.createCollectionFn(ctx, req)
}

func (g *mockGateway) MintNft(ctx context.Context, collection ledger.CollectionID, metadata []byte) (ledger.SerialNumber, error) {
	panic("unexpected MintNft call")
}

func (g *mockGateway) TransferNft(ctx context.Context, ref ledger.NftRef, from, to ledger.AccountID, sigs []ledger.Signature) (ledger.TxID, error) {
	panic("unexpected TransferNft call")
}

func (g *mockGateway) WipeNft(ctx context.Context, ref ledger.NftRef, holder ledger.AccountID) (ledger.TxID, error) {
	panic("unexpected WipeNft call")
}

func (g *mockGateway) AssociateToken(ctx context.Context, account ledger.AccountID, collection ledger.CollectionID, sigs []ledger.Signature) error {
	panic("unexpected AssociateToken call")
}

func testCipher(t *testing.T) *keys.MasterKeyCipher {
	t.Helper()
	masterKey := make([]byte, 32)
	if _, err := rand.Read(masterKey); err != nil {
		t.Fatalf("failed to generate master key: %v", err)
	}
	return keys.NewMasterKeyCipher(masterKey)
}

func devicePublicKey(t *testing.T) (string, []byte) {
	t.Helper()
	kp, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}
	return base64.StdEncoding.EncodeToString(kp.PublicKey), kp.PublicKey
}

type staticIssuer struct{}

func (staticIssuer) Issue(string) (string, time.Time, error) {
	return "test-token", time.Now().Add(time.Hour), nil
}

func newService(store Store, gw ledger.Gateway, cipher keys.KeyCipher, allowCustodial bool) Service {
	return NewService(store, gw, cipher, staticIssuer{}, operatorAccount, 1000, allowCustodial, zap.NewNop())
}

func TestRegisterDeviceKey(t *testing.T) {
	pubB64, pub := devicePublicKey(t)

	var saved *merchant.Merchant
	store := &mockStore{
		createMerchantFn: func(_ context.Context, m *merchant.Merchant) error {
			saved = m
			return nil
		},
	}
	gw := &mockGateway{
		createAccountFn: func(_ context.Context, publicKey []byte, funding int64) (ledger.AccountID, error) {
			if string(publicKey) != string(pub) {
				t.Errorf("account created with wrong public key")
			}
			if funding != 1000 {
				t.Errorf("expected funding 1000, got %d", funding)
			}
			return "0.0.7001", nil
		},
	}

	svc := newService(store, gw, testCipher(t), false)
	resp, err := svc.Register(context.Background(), &merchant.RegisterRequest{
		Name:         "Cafe Nine",
		ContactEmail: "owner@cafenine.example",
		CustodyMode:  string(merchant.CustodyDeviceKey),
		PublicKey:    pubB64,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if resp.LedgerAccountID != "0.0.7001" {
		t.Errorf("unexpected account id %s", resp.LedgerAccountID)
	}
	if saved == nil {
		t.Fatal("merchant not saved")
	}
	if saved.EncryptedPrivateKey != "" {
		t.Error("device_key merchant must not have a stored private key")
	}
	if saved.OnboardingStatus != merchant.OnboardingAccountCreated {
		t.Errorf("unexpected onboarding status %s", saved.OnboardingStatus)
	}
	if resp.AuthToken == "" {
		t.Error("registration must hand out a bearer token")
	}
}

func TestRegisterDeviceKeyRejectsBadPublicKey(t *testing.T) {
	svc := newService(&mockStore{}, &mockGateway{}, testCipher(t), false)

	for _, pub := range []string{"", "not-base64!!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		_, err := svc.Register(context.Background(), &merchant.RegisterRequest{
			Name:        "Cafe Nine",
			CustodyMode: string(merchant.CustodyDeviceKey),
			PublicKey:   pub,
		})
		if !apperrors.Is(err, apperrors.CategoryDataError) {
			t.Errorf("publicKey %q: expected data error, got %v", pub, err)
		}
	}
}

func TestRegisterCustodialDisabled(t *testing.T) {
	svc := newService(&mockStore{}, &mockGateway{}, testCipher(t), false)

	_, err := svc.Register(context.Background(), &merchant.RegisterRequest{
		Name:        "Cafe Nine",
		CustodyMode: string(merchant.CustodyOperatorCustodial),
	})
	if !apperrors.Is(err, apperrors.CategoryForbidden) {
		t.Fatalf("expected forbidden error, got %v", err)
	}
}

func TestRegisterCustodialStoresEncryptedKey(t *testing.T) {
	cipher := testCipher(t)

	var saved *merchant.Merchant
	store := &mockStore{
		createMerchantFn: func(_ context.Context, m *merchant.Merchant) error {
			saved = m
			return nil
		},
	}
	gw := &mockGateway{
		createAccountFn: func(_ context.Context, _ []byte, _ int64) (ledger.AccountID, error) {
			return "0.0.7002", nil
		},
	}

	svc := newService(store, gw, cipher, true)
	if _, err := svc.Register(context.Background(), &merchant.RegisterRequest{
		Name:        "Cafe Nine",
		CustodyMode: string(merchant.CustodyOperatorCustodial),
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if saved.EncryptedPrivateKey == "" {
		t.Fatal("custodial merchant must have an encrypted private key")
	}

	// The stored key decrypts back to the pair matching the stored public key
	privateKey, err := cipher.Decrypt(saved.EncryptedPrivateKey)
	if err != nil {
		t.Fatalf("failed to decrypt stored key: %v", err)
	}
	kp, err := keys.KeyPairFromPrivateKey(privateKey)
	if err != nil {
		t.Fatalf("failed to load decrypted key: %v", err)
	}
	if string(kp.PublicKey) != string(saved.PublicKey) {
		t.Error("decrypted key does not match stored public key")
	}
}

func TestEnsureCollectionIdempotent(t *testing.T) {
	store := &mockStore{
		getMerchantFn: func(_ context.Context, id string) (*merchant.Merchant, error) {
			return &merchant.Merchant{
				ID:              id,
				LedgerAccountID: "0.0.7001",
				CustodyMode:     merchant.CustodyDeviceKey,
				CollectionID:    "0.0.5005",
			}, nil
		},
	}
	gw := &mockGateway{
		createCollectionFn: func(_ context.Context, _ *ledger.CreateCollectionRequest) (ledger.CollectionID, error) {
			t.Fatal("collection must not be recreated")
			return "", nil
		},
	}

	svc := newService(store, gw, testCipher(t), false)
	got, err := svc.EnsureCollection(context.Background(), "m1")
	if err != nil {
		t.Fatalf("EnsureCollection failed: %v", err)
	}
	if got != "0.0.5005" {
		t.Errorf("expected existing collection, got %s", got)
	}
}

func TestEnsureCollectionDeviceKeyUsesOperatorTreasury(t *testing.T) {
	store := &mockStore{
		getMerchantFn: func(_ context.Context, id string) (*merchant.Merchant, error) {
			return &merchant.Merchant{
				ID:              id,
				Name:            "Cafe Nine",
				LedgerAccountID: "0.0.7001",
				CustodyMode:     merchant.CustodyDeviceKey,
			}, nil
		},
		setCollectionFn: func(_ context.Context, _ string, _ ledger.CollectionID) error {
			return nil
		},
	}
	gw := &mockGateway{
		createCollectionFn: func(_ context.Context, req *ledger.CreateCollectionRequest) (ledger.CollectionID, error) {
			if req.TreasuryID != operatorAccount {
				t.Errorf("expected operator treasury, got %s", req.TreasuryID)
			}
			if len(req.Signatures) != 0 {
				t.Errorf("device_key collection needs no co-signature, got %d", len(req.Signatures))
			}
			return "0.0.5005", nil
		},
	}

	svc := newService(store, gw, testCipher(t), false)
	got, err := svc.EnsureCollection(context.Background(), "m1")
	if err != nil {
		t.Fatalf("EnsureCollection failed: %v", err)
	}
	if got != "0.0.5005" {
		t.Errorf("unexpected collection %s", got)
	}
}

func TestOnboardingAdvancesThroughCollectionCreated(t *testing.T) {
	var advanced []merchant.OnboardingStatus
	store := &mockStore{
		getMerchantFn: func(_ context.Context, id string) (*merchant.Merchant, error) {
			return &merchant.Merchant{
				ID:               id,
				Name:             "Cafe Nine",
				LedgerAccountID:  "0.0.7001",
				CustodyMode:      merchant.CustodyDeviceKey,
				OnboardingStatus: merchant.OnboardingAccountCreated,
			}, nil
		},
		setCollectionFn: func(_ context.Context, _ string, _ ledger.CollectionID) error {
			return nil
		},
		advanceFn: func(_ context.Context, _ string, status merchant.OnboardingStatus) error {
			advanced = append(advanced, status)
			return nil
		},
	}
	gw := &mockGateway{
		createCollectionFn: func(_ context.Context, _ *ledger.CreateCollectionRequest) (ledger.CollectionID, error) {
			return "0.0.5005", nil
		},
	}

	svc := newService(store, gw, testCipher(t), false)
	if _, err := svc.EnsureCollection(context.Background(), "m1"); err != nil {
		t.Fatalf("EnsureCollection failed: %v", err)
	}
	if err := svc.Activate(context.Background(), "m1"); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	want := []merchant.OnboardingStatus{
		merchant.OnboardingCollectionCreated,
		merchant.OnboardingActive,
	}
	if len(advanced) != len(want) {
		t.Fatalf("expected advances %v, got %v", want, advanced)
	}
	for i := range want {
		if advanced[i] != want[i] {
			t.Fatalf("expected advances %v, got %v", want, advanced)
		}
	}
}

func TestEnsureCollectionCustodialCoSigns(t *testing.T) {
	cipher := testCipher(t)

	kp, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}
	encrypted, err := cipher.Encrypt(kp.PrivateKey)
	if err != nil {
		t.Fatalf("failed to encrypt key: %v", err)
	}

	store := &mockStore{
		getMerchantFn: func(_ context.Context, id string) (*merchant.Merchant, error) {
			return &merchant.Merchant{
				ID:                  id,
				Name:                "Cafe Nine",
				LedgerAccountID:     "0.0.7001",
				CustodyMode:         merchant.CustodyOperatorCustodial,
				PublicKey:           kp.PublicKey,
				EncryptedPrivateKey: encrypted,
			}, nil
		},
		setCollectionFn: func(_ context.Context, _ string, _ ledger.CollectionID) error {
			return nil
		},
	}
	gw := &mockGateway{
		createCollectionFn: func(_ context.Context, req *ledger.CreateCollectionRequest) (ledger.CollectionID, error) {
			if req.TreasuryID != "0.0.7001" {
				t.Errorf("custodial merchant must be its own treasury, got %s", req.TreasuryID)
			}
			if len(req.Signatures) != 1 {
				t.Fatalf("expected one co-signature, got %d", len(req.Signatures))
			}
			payload, err := req.SigningPayload()
			if err != nil {
				t.Fatalf("SigningPayload failed: %v", err)
			}
			sig := req.Signatures[0]
			if !keys.VerifyWithKey(sig.PublicKey, payload, sig.Bytes) {
				t.Error("co-signature does not verify against merchant key")
			}
			return "0.0.5005", nil
		},
	}

	svc := newService(store, gw, cipher, true)
	if _, err := svc.EnsureCollection(context.Background(), "m1"); err != nil {
		t.Fatalf("EnsureCollection failed: %v", err)
	}
}

func TestEnsureCollectionLostRaceReturnsWinner(t *testing.T) {
	calls := 0
	store := &mockStore{
		getMerchantFn: func(_ context.Context, id string) (*merchant.Merchant, error) {
			calls++
			m := &merchant.Merchant{
				ID:              id,
				Name:            "Cafe Nine",
				LedgerAccountID: "0.0.7001",
				CustodyMode:     merchant.CustodyDeviceKey,
			}
			if calls > 1 {
				m.CollectionID = "0.0.4004" // the winner's collection
			}
			return m, nil
		},
		setCollectionFn: func(_ context.Context, _ string, _ ledger.CollectionID) error {
			return couponstore.ErrStatusConflict
		},
	}
	gw := &mockGateway{
		createCollectionFn: func(_ context.Context, _ *ledger.CreateCollectionRequest) (ledger.CollectionID, error) {
			return "0.0.5005", nil
		},
	}

	svc := newService(store, gw, testCipher(t), false)
	got, err := svc.EnsureCollection(context.Background(), "m1")
	if err != nil {
		t.Fatalf("EnsureCollection failed: %v", err)
	}
	if got != "0.0.4004" {
		t.Errorf("expected the race winner's collection, got %s", got)
	}
}

func TestEnsureCollectionMerchantNotFound(t *testing.T) {
	store := &mockStore{
		getMerchantFn: func(_ context.Context, _ string) (*merchant.Merchant, error) {
			return nil, couponstore.ErrNotFound
		},
	}

	svc := newService(store, &mockGateway{}, testCipher(t), false)
	_, err := svc.EnsureCollection(context.Background(), "missing")
	if !apperrors.Is(err, apperrors.CategoryResourceNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestCreateAccountRejectsBadKey(t *testing.T) {
	svc := newService(&mockStore{}, &mockGateway{}, testCipher(t), false)

	_, err := svc.CreateAccount(context.Background(), "nope")
	if !apperrors.Is(err, apperrors.CategoryDataError) {
		t.Fatalf("expected data error, got %v", err)
	}
}

func TestCollectionSymbol(t *testing.T) {
	cases := map[string]string{
		"Cafe Nine": "CAFE",
		"9 Lives":   "9LIV",
		"":          "CPN",
		"ab":        "AB",
	}
	for name, want := range cases {
		if got := collectionSymbol(name); got != want {
			t.Errorf("collectionSymbol(%q) = %q, want %q", name, got, want)
		}
	}
}
