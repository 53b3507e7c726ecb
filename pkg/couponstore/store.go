package couponstore

import (
	"context"
	"errors"

	"github.com/chainperks/coupon-middleware/pkg/campaign"
	"github.com/chainperks/coupon-middleware/pkg/coupon"
	"github.com/chainperks/coupon-middleware/pkg/ledger"
	"github.com/chainperks/coupon-middleware/pkg/merchant"
)

var (
	// ErrNotFound is returned when a lookup finds no matching record.
	ErrNotFound = errors.New("record not found")

	// ErrCapacityExhausted is returned by ReserveMintSlot when the campaign's
	// total limit leaves no room for another coupon.
	ErrCapacityExhausted = errors.New("campaign capacity exhausted")

	// ErrStatusConflict is returned when a conditional status transition finds
	// the coupon no longer in the expected state. The caller lost a race.
	ErrStatusConflict = errors.New("coupon status conflict")

	// ErrNoUnclaimedCoupon is returned when a claim finds no minted,
	// unclaimed coupon left in the campaign.
	ErrNoUnclaimedCoupon = errors.New("no unclaimed coupon available")

	// ErrDuplicateDiscountCode is returned when a discount code already exists
	// for the coupon.
	ErrDuplicateDiscountCode = errors.New("discount code already issued for coupon")
)

// MerchantStore persists merchants and their onboarding progress.
type MerchantStore interface {
	CreateMerchant(ctx context.Context, m *merchant.Merchant) error
	GetMerchant(ctx context.Context, id string) (*merchant.Merchant, error)
	// SetMerchantCollection records the merchant's collection exactly once;
	// a second call with a different collection returns ErrStatusConflict so
	// lazy creation stays idempotent under concurrency.
	SetMerchantCollection(ctx context.Context, id string, collection ledger.CollectionID) error
	// AdvanceOnboarding moves onboarding status forward. Regressions are
	// silently ignored; status is monotonic.
	AdvanceOnboarding(ctx context.Context, id string, status merchant.OnboardingStatus) error
}

// CampaignStore persists campaigns and owns the atomic capacity counter.
type CampaignStore interface {
	CreateCampaign(ctx context.Context, c *campaign.Campaign) error
	GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error)
	// ReserveMintSlot atomically increments minted_count iff it stays within
	// total_limit. This is the single check-and-decrement guarding against
	// over-minting; it must never be a read-then-write pair.
	ReserveMintSlot(ctx context.Context, campaignID string) error
	// ReleaseMintSlot returns a reserved slot after a ledger-side mint failure.
	ReleaseMintSlot(ctx context.Context, campaignID string) error
}

// CouponStore persists coupon NFTs and their lifecycle state.
type CouponStore interface {
	CreateCoupon(ctx context.Context, c *coupon.Coupon) error
	GetCoupon(ctx context.Context, ref ledger.NftRef) (*coupon.Coupon, error)
	// ClaimNextAvailable atomically assigns one unclaimed coupon of the
	// campaign to the holder and returns it.
	ClaimNextAvailable(ctx context.Context, campaignID string, holder ledger.AccountID) (*coupon.Coupon, error)
	// ReleaseClaim clears the holder assignment of an active coupon after a
	// ledger-side transfer failure, returning it to the claimable pool.
	ReleaseClaim(ctx context.Context, ref ledger.NftRef) error
	// CountClaims returns how many coupons of the campaign the holder has claimed.
	CountClaims(ctx context.Context, campaignID string, holder ledger.AccountID) (int, error)
	// TransitionStatus performs a compare-and-swap on the coupon status.
	// Returns ErrStatusConflict when the coupon is not in the expected state.
	TransitionStatus(ctx context.Context, ref ledger.NftRef, from, to coupon.RedemptionStatus) error
	// SetHolder updates the cached holder after a ledger-observed transfer.
	SetHolder(ctx context.Context, ref ledger.NftRef, holder ledger.AccountID) error
	// ListActiveByCampaign returns all locally-active coupons of a campaign.
	ListActiveByCampaign(ctx context.Context, campaignID string) ([]*coupon.Coupon, error)
	// ListActive returns all locally-active coupons, for the reconciler sweep.
	ListActive(ctx context.Context) ([]*coupon.Coupon, error)
}

// DiscountCodeStore persists discount codes minted on redemption.
type DiscountCodeStore interface {
	// CreateDiscountCode inserts a code; returns ErrDuplicateDiscountCode if
	// the coupon already has one.
	CreateDiscountCode(ctx context.Context, code *coupon.DiscountCode) error
	GetDiscountCodeByCoupon(ctx context.Context, ref ledger.NftRef) (*coupon.DiscountCode, error)
}

// Store aggregates all coupon platform persistence.
type Store interface {
	MerchantStore
	CampaignStore
	CouponStore
	DiscountCodeStore
}
