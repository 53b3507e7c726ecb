package service

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	apperrors "github.com/chainperks/coupon-middleware/pkg/app/errors"
	apphttp "github.com/chainperks/coupon-middleware/pkg/app/http"
	"github.com/chainperks/coupon-middleware/pkg/auth"
	"github.com/chainperks/coupon-middleware/pkg/campaign"
)

// HTTP wraps the Service to provide HTTP endpoints
type HTTP struct {
	service  Service
	validate *validator.Validate
	logger   *zap.Logger
}

// RegisterRoutes registers campaign endpoints on the given chi router
func RegisterRoutes(r chi.Router, service Service, requireMerchant func(http.Handler) http.Handler, logger *zap.Logger) {
	h := &HTTP{
		service:  service,
		validate: validator.New(),
		logger:   logger,
	}

	r.With(requireMerchant).Post("/campaigns", apphttp.HandleError(h.create))
	r.Get("/campaigns/{id}", apphttp.HandleError(h.get))
}

// campaignResponse is the wire form of a campaign.
type campaignResponse struct {
	ID                    string    `json:"id"`
	MerchantID            string    `json:"merchantId"`
	Name                  string    `json:"name"`
	Description           string    `json:"description,omitempty"`
	CampaignType          string    `json:"campaignType"`
	DiscountType          string    `json:"discountType"`
	DiscountValue         string    `json:"discountValue"`
	StartsAt              time.Time `json:"startsAt"`
	EndsAt                time.Time `json:"endsAt"`
	MaxRedemptionsPerUser int       `json:"maxRedemptionsPerUser"`
	TotalLimit            *int      `json:"totalLimit,omitempty"`
	MintedCount           int       `json:"mintedCount"`
	RemainingCapacity     int       `json:"remainingCapacity"`
	IsDiscoverable        bool      `json:"isDiscoverable"`
	IsLive                bool      `json:"isLive"`
}

func toCampaignResponse(c *campaign.Campaign) *campaignResponse {
	return &campaignResponse{
		ID:                    c.ID,
		MerchantID:            c.MerchantID,
		Name:                  c.Name,
		Description:           c.Description,
		CampaignType:          string(c.CampaignType),
		DiscountType:          string(c.Discount.Type),
		DiscountValue:         c.Discount.Value.String(),
		StartsAt:              c.StartsAt,
		EndsAt:                c.EndsAt,
		MaxRedemptionsPerUser: c.MaxRedemptionsPerUser,
		TotalLimit:            c.TotalLimit,
		MintedCount:           c.MintedCount,
		RemainingCapacity:     c.RemainingCapacity(),
		IsDiscoverable:        c.IsDiscoverable,
		IsLive:                c.IsLive(time.Now()),
	}
}

func (h *HTTP) create(w http.ResponseWriter, r *http.Request) error {
	actor, ok := auth.MerchantIDFromContext(r.Context())
	if !ok {
		return apperrors.UnAuthorizedError(nil, "merchant authentication required")
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return apperrors.BadRequestError(err, "failed to read request")
	}

	var req CreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return apperrors.BadRequestError(err, "invalid JSON")
	}
	req.MerchantID = actor
	if err := h.validate.Struct(&req); err != nil {
		return apperrors.BadRequestError(err, "invalid campaign request")
	}

	c, err := h.service.Create(r.Context(), &req)
	if err != nil {
		return err
	}

	apphttp.WriteJSON(w, http.StatusCreated, toCampaignResponse(c))
	return nil
}

func (h *HTTP) get(w http.ResponseWriter, r *http.Request) error {
	c, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}

	apphttp.WriteJSON(w, http.StatusOK, toCampaignResponse(c))
	return nil
}
