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
	"github.com/chainperks/coupon-middleware/pkg/coupon"
	"github.com/chainperks/coupon-middleware/pkg/ledger"
)

// HTTP wraps the Service to provide HTTP endpoints
type HTTP struct {
	service  Service
	validate *validator.Validate
	logger   *zap.Logger
}

// RegisterRoutes registers minting and claim endpoints on the given chi router
func RegisterRoutes(r chi.Router, service Service, requireMerchant func(http.Handler) http.Handler, logger *zap.Logger) {
	h := &HTTP{
		service:  service,
		validate: validator.New(),
		logger:   logger,
	}

	r.With(requireMerchant).Post("/coupons/mint", apphttp.HandleError(h.mint))
	r.Post("/campaigns/{id}/claim", apphttp.HandleError(h.claim))
}

func (h *HTTP) mint(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return apperrors.BadRequestError(err, "failed to read request")
	}

	var req MintRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return apperrors.BadRequestError(err, "invalid JSON")
	}
	if err := h.validate.Struct(&req); err != nil {
		return apperrors.BadRequestError(err, "invalid mint request")
	}

	actor, ok := auth.MerchantIDFromContext(r.Context())
	if !ok {
		return apperrors.UnAuthorizedError(nil, "merchant authentication required")
	}

	result, err := h.service.Mint(r.Context(), actor, &req)
	if err != nil {
		return err
	}

	apphttp.WriteJSON(w, http.StatusOK, result)
	return nil
}

// couponResponse is the wire form of a claimed coupon.
type couponResponse struct {
	NftID         string           `json:"nftId"`
	CampaignID    string           `json:"campaignId"`
	Metadata      coupon.Metadata  `json:"metadata"`
	UserAccountID ledger.AccountID `json:"userAccountId"`
	Status        string           `json:"status"`
	ClaimedAt     *time.Time       `json:"claimedAt,omitempty"`
}

func (h *HTTP) claim(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return apperrors.BadRequestError(err, "failed to read request")
	}

	var req struct {
		UserAccountID string `json:"userAccountId" validate:"required"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return apperrors.BadRequestError(err, "invalid JSON")
	}
	if err := h.validate.Struct(&req); err != nil {
		return apperrors.BadRequestError(err, "userAccountId is required")
	}

	cp, err := h.service.Claim(r.Context(), chi.URLParam(r, "id"), ledger.AccountID(req.UserAccountID))
	if err != nil {
		return err
	}

	resp := struct {
		Coupon couponResponse `json:"coupon"`
	}{couponResponse{
		NftID:         cp.Ref.String(),
		CampaignID:    cp.CampaignID,
		Metadata:      cp.Metadata,
		UserAccountID: ledger.AccountID(req.UserAccountID),
		Status:        string(cp.Status),
		ClaimedAt:     cp.ClaimedAt,
	}}
	apphttp.WriteJSON(w, http.StatusOK, resp)
	return nil
}
