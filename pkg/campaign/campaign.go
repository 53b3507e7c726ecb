// Package campaign holds the campaign domain model and its temporal and
// capacity predicates.
package campaign

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Type distinguishes how a campaign's coupons are redeemed.
type Type string

const (
	// TypeQrRedeem coupons are redeemed by merchant scan; the wipe is the receipt.
	TypeQrRedeem Type = "qr_redeem"
	// TypeDiscountCode coupons produce an opaque discount code on redemption.
	TypeDiscountCode Type = "discount_code"
)

// DiscountType classifies the discount a coupon grants.
type DiscountType string

const (
	DiscountPercentage  DiscountType = "percentage"
	DiscountFixedAmount DiscountType = "fixed_amount"
	DiscountFreeItem    DiscountType = "free_item"
)

// DiscountSpec describes the discount attached to every coupon of a campaign.
type DiscountSpec struct {
	Type  DiscountType    `json:"type"`
	Value decimal.Decimal `json:"value"`
}

// Campaign represents the domain model for a coupon campaign.
type Campaign struct {
	ID                    string
	MerchantID            string
	Name                  string
	Description           string
	CampaignType          Type
	Discount              DiscountSpec
	StartsAt              time.Time
	EndsAt                time.Time // exclusive
	MaxRedemptionsPerUser int
	// TotalLimit caps minted coupons; nil means unbounded.
	TotalLimit *int
	// MintedCount is maintained by the store via atomic reservation; it is a
	// cached aggregate, not an authoritative ledger count.
	MintedCount    int
	IsDiscoverable bool
	IsActive       bool
	CreatedAt      time.Time
}

var (
	ErrInvalidWindow        = errors.New("campaign end must be after start")
	ErrInvalidDiscountValue = errors.New("invalid discount value")
	ErrInvalidCampaignType  = errors.New("invalid campaign type")
)

var oneHundred = decimal.NewFromInt(100)

// Validate checks campaign invariants at creation time.
func (c *Campaign) Validate() error {
	if !c.EndsAt.After(c.StartsAt) {
		return ErrInvalidWindow
	}
	if c.CampaignType != TypeQrRedeem && c.CampaignType != TypeDiscountCode {
		return fmt.Errorf("%w: %q", ErrInvalidCampaignType, c.CampaignType)
	}
	switch c.Discount.Type {
	case DiscountPercentage:
		if c.Discount.Value.LessThanOrEqual(decimal.Zero) || c.Discount.Value.GreaterThan(oneHundred) {
			return fmt.Errorf("%w: percentage must be in (0,100], got %s", ErrInvalidDiscountValue, c.Discount.Value)
		}
	case DiscountFixedAmount:
		if c.Discount.Value.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%w: fixed amount must be positive, got %s", ErrInvalidDiscountValue, c.Discount.Value)
		}
	case DiscountFreeItem:
		// value unused
	default:
		return fmt.Errorf("%w: unknown discount type %q", ErrInvalidDiscountValue, c.Discount.Type)
	}
	if c.MaxRedemptionsPerUser <= 0 {
		return errors.New("max redemptions per user must be positive")
	}
	if c.TotalLimit != nil && *c.TotalLimit <= 0 {
		return errors.New("total limit must be positive when set")
	}
	return nil
}

// IsLive reports whether the campaign accepts claims and redemptions at now:
// active flag set and start <= now < end.
func (c *Campaign) IsLive(now time.Time) bool {
	return c.IsActive && !now.Before(c.StartsAt) && now.Before(c.EndsAt)
}

// Expired reports whether the campaign's activity window has closed.
func (c *Campaign) Expired(now time.Time) bool {
	return !now.Before(c.EndsAt)
}

// RemainingCapacity returns how many coupons may still be minted, or -1 when
// unbounded. The value is advisory: mint requests must re-reserve capacity
// atomically at mint time.
func (c *Campaign) RemainingCapacity() int {
	if c.TotalLimit == nil {
		return -1
	}
	remaining := *c.TotalLimit - c.MintedCount
	if remaining < 0 {
		return 0
	}
	return remaining
}
