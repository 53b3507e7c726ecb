package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/chainperks/coupon-middleware/pkg/app/errors"
	"github.com/chainperks/coupon-middleware/pkg/campaign"
	"github.com/chainperks/coupon-middleware/pkg/couponstore"
	"github.com/chainperks/coupon-middleware/pkg/merchant"
)

type mockStore struct {
	createCampaignFn func(ctx context.Context, c *campaign.Campaign) error
	getCampaignFn    func(ctx context.Context, id string) (*campaign.Campaign, error)
	getMerchantFn    func(ctx context.Context, id string) (*merchant.Merchant, error)
}

func (m *mockStore) CreateCampaign(ctx context.Context, c *campaign.Campaign) error {
	return m.createCampaignFn(ctx, c)
}

func (m *mockStore) GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error) {
	return m.getCampaignFn(ctx, id)
}

func (m *mockStore) GetMerchant(ctx context.Context, id string) (*merchant.Merchant, error) {
	if m.getMerchantFn == nil {
		return &merchant.Merchant{ID: id}, nil
	}
	return m.getMerchantFn(ctx, id)
}

func validCreateRequest() *CreateRequest {
	return &CreateRequest{
		MerchantID:            "m1",
		Name:                  "Spring Latte Promo",
		CampaignType:          "qr_redeem",
		DiscountType:          "percentage",
		DiscountValue:         "15",
		StartsAt:              time.Now().Add(-time.Hour),
		EndsAt:                time.Now().Add(24 * time.Hour),
		MaxRedemptionsPerUser: 1,
	}
}

func TestCreateCampaign(t *testing.T) {
	var saved *campaign.Campaign
	store := &mockStore{
		createCampaignFn: func(_ context.Context, c *campaign.Campaign) error {
			saved = c
			return nil
		},
	}

	svc := NewService(store, zap.NewNop())
	c, err := svc.Create(context.Background(), validCreateRequest())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if c.ID == "" {
		t.Error("campaign id not assigned")
	}
	if !c.IsActive {
		t.Error("new campaign must be active")
	}
	if saved == nil || saved.ID != c.ID {
		t.Error("campaign not saved")
	}
	if !c.Discount.Value.Equal(saved.Discount.Value) {
		t.Error("discount value mismatch")
	}
}

func TestCreateCampaignUnknownMerchant(t *testing.T) {
	store := &mockStore{
		getMerchantFn: func(_ context.Context, _ string) (*merchant.Merchant, error) {
			return nil, couponstore.ErrNotFound
		},
	}

	svc := NewService(store, zap.NewNop())
	_, err := svc.Create(context.Background(), validCreateRequest())
	if !apperrors.Is(err, apperrors.CategoryResourceNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestCreateCampaignInvalid(t *testing.T) {
	store := &mockStore{
		createCampaignFn: func(_ context.Context, _ *campaign.Campaign) error {
			t.Fatal("invalid campaign must not be saved")
			return nil
		},
	}
	svc := NewService(store, zap.NewNop())

	cases := map[string]func(*CreateRequest){
		"end before start":    func(r *CreateRequest) { r.EndsAt = r.StartsAt.Add(-time.Hour) },
		"percentage over 100": func(r *CreateRequest) { r.DiscountValue = "150" },
		"zero percentage":     func(r *CreateRequest) { r.DiscountValue = "0" },
		"bad decimal":         func(r *CreateRequest) { r.DiscountValue = "ten" },
	}
	for name, mutate := range cases {
		req := validCreateRequest()
		mutate(req)
		if _, err := svc.Create(context.Background(), req); !apperrors.Is(err, apperrors.CategoryDataError) {
			t.Errorf("%s: expected data error, got %v", name, err)
		}
	}
}

func TestGetCampaignNotFound(t *testing.T) {
	store := &mockStore{
		getCampaignFn: func(_ context.Context, _ string) (*campaign.Campaign, error) {
			return nil, couponstore.ErrNotFound
		},
	}

	svc := NewService(store, zap.NewNop())
	if _, err := svc.Get(context.Background(), "missing"); !apperrors.Is(err, apperrors.CategoryResourceNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}
