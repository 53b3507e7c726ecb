package campaign

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func validCampaign() *Campaign {
	limit := 100
	return &Campaign{
		ID:           "c1",
		MerchantID:   "m1",
		Name:         "Spring Sale",
		CampaignType: TypeQrRedeem,
		Discount: DiscountSpec{
			Type:  DiscountPercentage,
			Value: decimal.NewFromInt(15),
		},
		StartsAt:              time.Now().Add(-time.Hour),
		EndsAt:                time.Now().Add(24 * time.Hour),
		MaxRedemptionsPerUser: 1,
		TotalLimit:            &limit,
		IsActive:              true,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Campaign)
		wantErr error
	}{
		{"valid", func(c *Campaign) {}, nil},
		{"end before start", func(c *Campaign) {
			c.EndsAt = c.StartsAt.Add(-time.Minute)
		}, ErrInvalidWindow},
		{"end equals start", func(c *Campaign) {
			c.EndsAt = c.StartsAt
		}, ErrInvalidWindow},
		{"zero percentage", func(c *Campaign) {
			c.Discount.Value = decimal.Zero
		}, ErrInvalidDiscountValue},
		{"percentage above 100", func(c *Campaign) {
			c.Discount.Value = decimal.NewFromInt(101)
		}, ErrInvalidDiscountValue},
		{"percentage exactly 100", func(c *Campaign) {
			c.Discount.Value = decimal.NewFromInt(100)
		}, nil},
		{"negative fixed amount", func(c *Campaign) {
			c.Discount.Type = DiscountFixedAmount
			c.Discount.Value = decimal.NewFromInt(-5)
		}, ErrInvalidDiscountValue},
		{"free item ignores value", func(c *Campaign) {
			c.Discount.Type = DiscountFreeItem
			c.Discount.Value = decimal.Zero
		}, nil},
		{"bad campaign type", func(c *Campaign) {
			c.CampaignType = "mystery"
		}, ErrInvalidCampaignType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCampaign()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsLive(t *testing.T) {
	c := validCampaign()
	now := time.Now()

	if !c.IsLive(now) {
		t.Error("campaign inside window should be live")
	}
	if c.IsLive(c.StartsAt.Add(-time.Second)) {
		t.Error("campaign before start should not be live")
	}
	if c.IsLive(c.EndsAt) {
		t.Error("campaign at end instant should not be live (end is exclusive)")
	}
	if !c.IsLive(c.StartsAt) {
		t.Error("campaign at start instant should be live (start is inclusive)")
	}

	c.IsActive = false
	if c.IsLive(now) {
		t.Error("inactive campaign should never be live")
	}
}

func TestRemainingCapacity(t *testing.T) {
	c := validCampaign()
	c.MintedCount = 40
	if got := c.RemainingCapacity(); got != 60 {
		t.Errorf("RemainingCapacity() = %d, want 60", got)
	}

	c.MintedCount = 100
	if got := c.RemainingCapacity(); got != 0 {
		t.Errorf("RemainingCapacity() = %d, want 0", got)
	}

	c.TotalLimit = nil
	if got := c.RemainingCapacity(); got != -1 {
		t.Errorf("RemainingCapacity() = %d, want -1 for unbounded", got)
	}
}
