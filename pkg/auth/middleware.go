package auth

import (
	"net/http"
	"strings"

	apperrors "github.com/chainperks/coupon-middleware/pkg/app/errors"
	apphttp "github.com/chainperks/coupon-middleware/pkg/app/http"
)

// RequireMerchant returns chi-compatible middleware that rejects requests
// without a valid merchant bearer token and stores the merchant id in the
// request context.
func RequireMerchant(m *Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				apphttp.DefaultErrorHandler(w, apperrors.UnAuthorizedError(nil, "missing bearer token"))
				return
			}

			merchantID, err := m.Validate(token)
			if err != nil {
				apphttp.DefaultErrorHandler(w, apperrors.UnAuthorizedError(err, "invalid bearer token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithMerchantID(r.Context(), merchantID)))
		})
	}
}
