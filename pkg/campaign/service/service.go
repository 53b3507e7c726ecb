package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apperrors "github.com/chainperks/coupon-middleware/pkg/app/errors"
	"github.com/chainperks/coupon-middleware/pkg/campaign"
	"github.com/chainperks/coupon-middleware/pkg/couponstore"
	"github.com/chainperks/coupon-middleware/pkg/merchant"
)

// Store is the narrow data-access interface for the campaign service.
type Store interface {
	CreateCampaign(ctx context.Context, c *campaign.Campaign) error
	GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error)
	GetMerchant(ctx context.Context, id string) (*merchant.Merchant, error)
}

// CreateRequest is the campaign creation payload.
type CreateRequest struct {
	// MerchantID comes from the authenticated caller, never the request body.
	MerchantID            string    `json:"-" validate:"required"`
	Name                  string    `json:"name" validate:"required,max=128"`
	Description           string    `json:"description" validate:"max=1024"`
	CampaignType          string    `json:"campaignType" validate:"required,oneof=qr_redeem discount_code"`
	DiscountType          string    `json:"discountType" validate:"required,oneof=percentage fixed_amount free_item"`
	DiscountValue         string    `json:"discountValue"`
	StartsAt              time.Time `json:"startsAt" validate:"required"`
	EndsAt                time.Time `json:"endsAt" validate:"required"`
	MaxRedemptionsPerUser int       `json:"maxRedemptionsPerUser" validate:"required,min=1"`
	TotalLimit            *int      `json:"totalLimit,omitempty" validate:"omitempty,min=1"`
	IsDiscoverable        bool      `json:"isDiscoverable"`
}

// Service manages campaign lifecycle.
type Service interface {
	Create(ctx context.Context, req *CreateRequest) (*campaign.Campaign, error)
	Get(ctx context.Context, id string) (*campaign.Campaign, error)
}

type campaignService struct {
	store  Store
	logger *zap.Logger
}

// NewService creates a campaign service.
func NewService(store Store, logger *zap.Logger) Service {
	return &campaignService{store: store, logger: logger}
}

func (s *campaignService) Create(ctx context.Context, req *CreateRequest) (*campaign.Campaign, error) {
	if _, err := s.store.GetMerchant(ctx, req.MerchantID); err != nil {
		if errors.Is(err, couponstore.ErrNotFound) {
			return nil, apperrors.ResourceNotFoundError(err, "merchant not found")
		}
		return nil, fmt.Errorf("failed to load merchant: %w", err)
	}

	value := decimal.Zero
	if req.DiscountValue != "" {
		parsed, err := decimal.NewFromString(req.DiscountValue)
		if err != nil {
			return nil, apperrors.BadRequestError(err, "discountValue must be a decimal number")
		}
		value = parsed
	}

	c := &campaign.Campaign{
		ID:           uuid.NewString(),
		MerchantID:   req.MerchantID,
		Name:         req.Name,
		Description:  req.Description,
		CampaignType: campaign.Type(req.CampaignType),
		Discount: campaign.DiscountSpec{
			Type:  campaign.DiscountType(req.DiscountType),
			Value: value,
		},
		StartsAt:              req.StartsAt,
		EndsAt:                req.EndsAt,
		MaxRedemptionsPerUser: req.MaxRedemptionsPerUser,
		TotalLimit:            req.TotalLimit,
		IsDiscoverable:        req.IsDiscoverable,
		IsActive:              true,
	}
	if err := c.Validate(); err != nil {
		return nil, apperrors.BadRequestError(err, err.Error())
	}

	if err := s.store.CreateCampaign(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to save campaign: %w", err)
	}

	s.logger.Info("campaign created",
		zap.String("campaign_id", c.ID),
		zap.String("merchant_id", c.MerchantID),
		zap.String("type", string(c.CampaignType)),
	)
	return c, nil
}

func (s *campaignService) Get(ctx context.Context, id string) (*campaign.Campaign, error) {
	c, err := s.store.GetCampaign(ctx, id)
	if errors.Is(err, couponstore.ErrNotFound) {
		return nil, apperrors.ResourceNotFoundError(err, "campaign not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}
	return c, nil
}
