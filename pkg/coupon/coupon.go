// Package coupon holds the coupon NFT domain model.
package coupon

import (
	"time"

	"github.com/chainperks/coupon-middleware/pkg/ledger"
)

// RedemptionStatus is the local view of a coupon's lifecycle state. It is a
// read-through cache of ledger truth: every transition out of StatusActive is
// terminal, and the ledger wipe is what authorizes the transition.
type RedemptionStatus string

const (
	StatusActive   RedemptionStatus = "active"
	StatusRedeemed RedemptionStatus = "redeemed"
	StatusExpired  RedemptionStatus = "expired"
	StatusBurned   RedemptionStatus = "burned"
)

// Terminal reports whether the status can never change again.
func (s RedemptionStatus) Terminal() bool {
	return s == StatusRedeemed || s == StatusBurned
}

// Metadata is attached to every minted coupon NFT.
type Metadata struct {
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	DiscountTerms string    `json:"discountTerms"`
	ValidFrom     time.Time `json:"validFrom"`
	ValidUntil    time.Time `json:"validUntil"`
	// UnitID is a stable per-unit identifier assigned before the ledger mint,
	// so a retried mint can be matched to its unit.
	UnitID string `json:"unitId"`
}

// Coupon represents one coupon NFT instance. Uniquely identified by
// (collection, serial).
type Coupon struct {
	Ref        ledger.NftRef
	CampaignID string
	Metadata   Metadata
	// HolderAccountID is empty until claimed; afterwards it mirrors ledger
	// ownership as of the last sync.
	HolderAccountID ledger.AccountID
	Status          RedemptionStatus
	ClaimedAt       *time.Time
	RedeemedAt      *time.Time
	CreatedAt       time.Time
}

// EffectiveStatus classifies an active coupon past its campaign end as
// expired. Expiry is time-derived, not stored; the burn sweep later promotes
// expired coupons to burned.
func (c *Coupon) EffectiveStatus(campaignEnd time.Time, now time.Time) RedemptionStatus {
	if c.Status == StatusActive && !now.Before(campaignEnd) {
		return StatusExpired
	}
	return c.Status
}

// DiscountCode is the opaque secret produced by redeeming a discount_code
// campaign coupon. Immutable once created.
type DiscountCode struct {
	ID         string
	CouponRef  ledger.NftRef
	Code       string
	RedeemedAt time.Time
}
