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
	"github.com/chainperks/coupon-middleware/pkg/ledger"
	"github.com/chainperks/coupon-middleware/pkg/redemption"
)

// HTTP wraps the redemption Service to provide HTTP endpoints
type HTTP struct {
	service  redemption.Service
	validate *validator.Validate
	logger   *zap.Logger
}

// RegisterRoutes registers redemption endpoints on the given chi router
func RegisterRoutes(r chi.Router, service redemption.Service, requireMerchant func(http.Handler) http.Handler, logger *zap.Logger) {
	h := &HTTP{
		service:  service,
		validate: validator.New(),
		logger:   logger,
	}

	r.Post("/coupons/generate-redemption-token", apphttp.HandleError(h.generateToken))
	r.Post("/coupons/verify-redemption-token", apphttp.HandleError(h.verifyToken))
	r.Post("/coupons/redeem", apphttp.HandleError(h.redeem))
	r.Post("/coupons/redeem-discount-code", apphttp.HandleError(h.redeemDiscountCode))
	r.With(requireMerchant).Post("/campaigns/{id}/burn-expired", apphttp.HandleError(h.burnExpired))
}

func (h *HTTP) generateToken(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		NftID         string `json:"nftId" validate:"required"`
		UserAccountID string `json:"userAccountId" validate:"required"`
	}
	if err := h.decode(r, &req); err != nil {
		return err
	}

	ref, err := ledger.ParseNftRef(req.NftID)
	if err != nil {
		return apperrors.BadRequestError(err, "nftId must be <collection>:<serial>")
	}

	grant, err := h.service.GenerateToken(r.Context(), ref, ledger.AccountID(req.UserAccountID))
	if err != nil {
		return err
	}

	apphttp.WriteJSON(w, http.StatusOK, grant)
	return nil
}

func (h *HTTP) verifyToken(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Token string `json:"redemptionToken" validate:"required"`
	}
	if err := h.decode(r, &req); err != nil {
		return err
	}

	claims, err := h.service.VerifyToken(r.Context(), req.Token)
	if err != nil {
		return err
	}

	type couponData struct {
		NftID         string           `json:"nftId"`
		UserAccountID ledger.AccountID `json:"userAccountId"`
		IssuedAt      time.Time        `json:"issuedAt"`
	}
	resp := struct {
		Valid      bool       `json:"valid"`
		CouponData couponData `json:"couponData"`
	}{true, couponData{claims.CouponRef, claims.Holder, claims.IssuedAt}}
	apphttp.WriteJSON(w, http.StatusOK, resp)
	return nil
}

func (h *HTTP) redeem(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Token string `json:"redemptionToken" validate:"required"`
	}
	if err := h.decode(r, &req); err != nil {
		return err
	}

	result, err := h.service.Redeem(r.Context(), req.Token)
	if err != nil {
		return err
	}

	apphttp.WriteJSON(w, http.StatusOK, result)
	return nil
}

func (h *HTTP) redeemDiscountCode(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Token string `json:"redemptionToken" validate:"required"`
	}
	if err := h.decode(r, &req); err != nil {
		return err
	}

	result, err := h.service.RedeemDiscountCode(r.Context(), req.Token)
	if err != nil {
		return err
	}

	apphttp.WriteJSON(w, http.StatusOK, result)
	return nil
}

func (h *HTTP) burnExpired(w http.ResponseWriter, r *http.Request) error {
	actor, ok := auth.MerchantIDFromContext(r.Context())
	if !ok {
		return apperrors.UnAuthorizedError(nil, "merchant authentication required")
	}

	burned, err := h.service.BurnExpired(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		return err
	}

	resp := struct {
		Burned int `json:"burnedCount"`
	}{burned}
	apphttp.WriteJSON(w, http.StatusOK, resp)
	return nil
}

func (h *HTTP) decode(r *http.Request, into any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return apperrors.BadRequestError(err, "failed to read request")
	}
	if err := json.Unmarshal(body, into); err != nil {
		return apperrors.BadRequestError(err, "invalid JSON")
	}
	if err := h.validate.Struct(into); err != nil {
		return apperrors.BadRequestError(err, "missing required fields")
	}
	return nil
}
