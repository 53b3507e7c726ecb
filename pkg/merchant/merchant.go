// Package merchant holds the domain model for registered merchants and their
// key custody modes.
package merchant

import (
	"time"

	"github.com/chainperks/coupon-middleware/pkg/ledger"
)

// CustodyMode says where a merchant's signing key lives. Chosen at
// registration and fixed for the life of the merchant.
type CustodyMode string

const (
	// CustodyDeviceKey is the secure path: the key pair is generated on the
	// merchant's device and only the public key ever reaches the backend.
	CustodyDeviceKey CustodyMode = "device_key"

	// CustodyOperatorCustodial is the legacy path: the operator generates the
	// key pair and retains an encrypted copy to co-sign treasury transactions.
	// Exists for backward compatibility only.
	CustodyOperatorCustodial CustodyMode = "operator_custodial"
)

// OnboardingStatus tracks merchant onboarding. It only ever advances.
type OnboardingStatus string

const (
	OnboardingPending           OnboardingStatus = "pending"
	OnboardingAccountCreated    OnboardingStatus = "account_created"
	OnboardingCollectionCreated OnboardingStatus = "collection_created"
	OnboardingActive            OnboardingStatus = "active"
)

// rank orders onboarding statuses for the monotonic-advance check.
func (s OnboardingStatus) rank() int {
	switch s {
	case OnboardingAccountCreated:
		return 1
	case OnboardingCollectionCreated:
		return 2
	case OnboardingActive:
		return 3
	default:
		return 0
	}
}

// CanAdvanceTo reports whether moving to next is a forward transition.
// Onboarding status never regresses.
func (s OnboardingStatus) CanAdvanceTo(next OnboardingStatus) bool {
	return next.rank() > s.rank()
}

// Merchant represents the domain model for a registered merchant.
type Merchant struct {
	ID               string
	Name             string
	ContactEmail     string
	LedgerAccountID  ledger.AccountID
	CustodyMode      CustodyMode
	PublicKey        []byte // 33-byte compressed secp256k1
	CollectionID     ledger.CollectionID // empty until first mint
	OnboardingStatus OnboardingStatus
	// EncryptedPrivateKey is set only for operator_custodial merchants; it is
	// the AES-GCM encrypted 32-byte signing key.
	EncryptedPrivateKey string
	CreatedAt           time.Time
}

// HasCollection reports whether the merchant's collection was already created.
func (m *Merchant) HasCollection() bool {
	return m.CollectionID != ""
}

// RegisterRequest is the merchant registration payload. For device_key
// merchants PublicKey carries the base64 compressed secp256k1 key generated on
// the merchant's device; the private key never appears in the request.
type RegisterRequest struct {
	Name         string `json:"name" validate:"required,max=128"`
	ContactEmail string `json:"contactEmail" validate:"required,email"`
	CustodyMode  string `json:"custodyMode" validate:"required,oneof=device_key operator_custodial"`
	PublicKey    string `json:"publicKey,omitempty"`
}

// RegisterResponse is returned after successful registration.
type RegisterResponse struct {
	MerchantID       string           `json:"merchantId"`
	LedgerAccountID  ledger.AccountID `json:"ledgerAccountId"`
	CustodyMode      CustodyMode      `json:"custodyMode"`
	PublicKey        string           `json:"publicKey"`
	OnboardingStatus OnboardingStatus `json:"onboardingStatus"`

	// AuthToken is a bearer token for the merchant API, issued so a freshly
	// registered merchant can call authenticated endpoints immediately.
	AuthToken          string    `json:"authToken,omitempty"`
	AuthTokenExpiresAt time.Time `json:"authTokenExpiresAt,omitempty"`
}
