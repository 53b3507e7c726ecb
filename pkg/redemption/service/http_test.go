package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainperks/coupon-middleware/pkg/auth"
	"github.com/chainperks/coupon-middleware/pkg/ledger"
	"github.com/chainperks/coupon-middleware/pkg/redemption"
)

type mockService struct {
	generateTokenFn func(ctx context.Context, ref ledger.NftRef, holder ledger.AccountID) (*redemption.TokenGrant, error)
	verifyTokenFn   func(ctx context.Context, token string) (*redemption.TokenClaims, error)
	redeemFn        func(ctx context.Context, token string) (*redemption.Result, error)
	redeemCodeFn    func(ctx context.Context, token string) (*redemption.DiscountResult, error)
	burnExpiredFn   func(ctx context.Context, actor, campaignID string) (int, error)
}

func (m *mockService) GenerateToken(ctx context.Context, ref ledger.NftRef, holder ledger.AccountID) (*redemption.TokenGrant, error) {
	return m.generateTokenFn(ctx, ref, holder)
}

func (m *mockService) VerifyToken(ctx context.Context, token string) (*redemption.TokenClaims, error) {
	return m.verifyTokenFn(ctx, token)
}

func (m *mockService) Redeem(ctx context.Context, token string) (*redemption.Result, error) {
	return m.redeemFn(ctx, token)
}

func (m *mockService) RedeemDiscountCode(ctx context.Context, token string) (*redemption.DiscountResult, error) {
	return m.redeemCodeFn(ctx, token)
}

func (m *mockService) BurnExpired(ctx context.Context, actor, campaignID string) (int, error) {
	return m.burnExpiredFn(ctx, actor, campaignID)
}

// asMerchant injects an authenticated merchant without a real bearer token.
func asMerchant(id string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithMerchantID(r.Context(), id)))
		})
	}
}

func newTestServer(svc redemption.Service, requireMerchant func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	RegisterRoutes(r, svc, requireMerchant, zap.NewNop())
	return r
}

func TestRedeemHTTP(t *testing.T) {
	svc := &mockService{
		redeemFn: func(_ context.Context, token string) (*redemption.Result, error) {
			require.Equal(t, "tok-1", token)
			return &redemption.Result{
				CouponRef:  "0.0.5005:42",
				CampaignID: "c1",
				Holder:     "0.0.9321",
				RedeemedAt: time.Now().UTC(),
				TxID:       "tx-1",
			}, nil
		},
	}
	handler := newTestServer(svc, asMerchant("m1"))

	req := httptest.NewRequest(http.MethodPost, "/coupons/redeem", bytes.NewBufferString(`{"redemptionToken":"tok-1"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got redemption.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "0.0.5005:42", got.CouponRef)
	require.Equal(t, ledger.TxID("tx-1"), got.TxID)
}

func TestRedeemHTTPInvalidJSON(t *testing.T) {
	handler := newTestServer(&mockService{}, asMerchant("m1"))

	req := httptest.NewRequest(http.MethodPost, "/coupons/redeem", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRedeemHTTPMissingToken(t *testing.T) {
	handler := newTestServer(&mockService{}, asMerchant("m1"))

	req := httptest.NewRequest(http.MethodPost, "/coupons/redeem", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateTokenHTTPBadRef(t *testing.T) {
	handler := newTestServer(&mockService{}, asMerchant("m1"))

	body := `{"nftId":"not-a-ref","userAccountId":"0.0.9321"}`
	req := httptest.NewRequest(http.MethodPost, "/coupons/generate-redemption-token", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBurnExpiredHTTP(t *testing.T) {
	svc := &mockService{
		burnExpiredFn: func(_ context.Context, actor, campaignID string) (int, error) {
			require.Equal(t, "m1", actor)
			require.Equal(t, "c1", campaignID)
			return 7, nil
		},
	}
	handler := newTestServer(svc, asMerchant("m1"))

	req := httptest.NewRequest(http.MethodPost, "/campaigns/c1/burn-expired", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Burned int `json:"burnedCount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 7, got.Burned)
}

func TestBurnExpiredHTTPUnauthenticated(t *testing.T) {
	manager := auth.NewManager([]byte("secret"), "coupon-middleware", time.Hour)
	handler := newTestServer(&mockService{}, auth.RequireMerchant(manager))

	req := httptest.NewRequest(http.MethodPost, "/campaigns/c1/burn-expired", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
