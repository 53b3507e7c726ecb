package auth

import "context"

type contextKey string

// ContextKeyMerchantID is the context key for the authenticated merchant id.
const ContextKeyMerchantID contextKey = "merchant_id"

// WithMerchantID adds the authenticated merchant id to the context.
func WithMerchantID(ctx context.Context, merchantID string) context.Context {
	return context.WithValue(ctx, ContextKeyMerchantID, merchantID)
}

// MerchantIDFromContext retrieves the authenticated merchant id.
func MerchantIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ContextKeyMerchantID).(string)
	return id, ok
}
