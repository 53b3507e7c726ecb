package service

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	apperrors "github.com/chainperks/coupon-middleware/pkg/app/errors"
	apphttp "github.com/chainperks/coupon-middleware/pkg/app/http"
	"github.com/chainperks/coupon-middleware/pkg/ledger"
	"github.com/chainperks/coupon-middleware/pkg/merchant"
)

// HTTP wraps the Service to provide HTTP endpoints
type HTTP struct {
	service  Service
	validate *validator.Validate
	logger   *zap.Logger
}

// RegisterRoutes registers merchant and account endpoints on the given chi router
func RegisterRoutes(r chi.Router, service Service, logger *zap.Logger) {
	h := &HTTP{
		service:  service,
		validate: validator.New(),
		logger:   logger,
	}

	r.Post("/merchants/register", apphttp.HandleError(h.register))
	r.Get("/merchants/{id}", apphttp.HandleError(h.getMerchant))
	r.Post("/accounts", apphttp.HandleError(h.createAccount))
}

func (h *HTTP) register(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return apperrors.BadRequestError(err, "failed to read request")
	}

	var req merchant.RegisterRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return apperrors.BadRequestError(err, "invalid JSON")
	}
	if err := h.validate.Struct(&req); err != nil {
		return apperrors.BadRequestError(err, "invalid registration request")
	}

	resp, err := h.service.Register(r.Context(), &req)
	if err != nil {
		return err
	}

	apphttp.WriteJSON(w, http.StatusCreated, resp)
	return nil
}

func (h *HTTP) getMerchant(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	m, err := h.service.Get(r.Context(), id)
	if err != nil {
		return err
	}

	resp := struct {
		MerchantID       string                    `json:"merchantId"`
		Name             string                    `json:"name"`
		LedgerAccountID  ledger.AccountID          `json:"ledgerAccountId"`
		CustodyMode      merchant.CustodyMode      `json:"custodyMode"`
		PublicKey        string                    `json:"publicKey"`
		CollectionID     ledger.CollectionID       `json:"collectionId,omitempty"`
		OnboardingStatus merchant.OnboardingStatus `json:"onboardingStatus"`
	}{
		MerchantID:       m.ID,
		Name:             m.Name,
		LedgerAccountID:  m.LedgerAccountID,
		CustodyMode:      m.CustodyMode,
		PublicKey:        base64.StdEncoding.EncodeToString(m.PublicKey),
		CollectionID:     m.CollectionID,
		OnboardingStatus: m.OnboardingStatus,
	}
	apphttp.WriteJSON(w, http.StatusOK, resp)
	return nil
}

func (h *HTTP) createAccount(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return apperrors.BadRequestError(err, "failed to read request")
	}

	var req struct {
		PublicKey string `json:"publicKey" validate:"required"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return apperrors.BadRequestError(err, "invalid JSON")
	}
	if err := h.validate.Struct(&req); err != nil {
		return apperrors.BadRequestError(err, "publicKey is required")
	}

	accountID, err := h.service.CreateAccount(r.Context(), req.PublicKey)
	if err != nil {
		return err
	}

	resp := struct {
		AccountID ledger.AccountID `json:"accountId"`
	}{accountID}
	apphttp.WriteJSON(w, http.StatusCreated, resp)
	return nil
}
