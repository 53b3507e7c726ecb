package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chainperks/coupon-middleware/pkg/ledger"
	"github.com/chainperks/coupon-middleware/pkg/redemption"
)

const serviceName = "RedemptionService"

// tokenDisplaySize bounds how much of a redemption token reaches the logs.
// Tokens are bearer secrets while they live; never log them in full.
const tokenDisplaySize = 12

// logService wraps the redemption Service with automatic logging of all
// method calls
type logService struct {
	svc    redemption.Service
	logger *zap.Logger
}

// NewLog creates a logging decorator for the redemption Service.
// It logs method entry/exit, duration, errors, and redacted token data.
func NewLog(svc redemption.Service, logger *zap.Logger) redemption.Service {
	return &logService{
		svc:    svc,
		logger: logger,
	}
}

func (ls *logService) GenerateToken(
	ctx context.Context,
	ref ledger.NftRef,
	holder ledger.AccountID,
) (grant *redemption.TokenGrant, err error) {
	start := time.Now()

	ls.logger.Info("GenerateToken started",
		zap.String("service", serviceName),
		zap.String("method", "GenerateToken"),
		zap.String("nft", ref.String()),
		zap.String("holder", string(holder)),
	)

	defer func() {
		duration := time.Since(start)
		if err != nil {
			ls.logger.Error("GenerateToken failed",
				zap.String("service", serviceName),
				zap.String("method", "GenerateToken"),
				zap.String("nft", ref.String()),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
		} else {
			ls.logger.Info("GenerateToken completed",
				zap.String("service", serviceName),
				zap.String("method", "GenerateToken"),
				zap.String("nft", ref.String()),
				zap.Time("expires_at", grant.ExpiresAt),
				zap.Duration("duration", duration),
			)
		}
	}()

	return ls.svc.GenerateToken(ctx, ref, holder)
}

func (ls *logService) VerifyToken(ctx context.Context, token string) (claims *redemption.TokenClaims, err error) {
	start := time.Now()

	defer func() {
		duration := time.Since(start)
		if err != nil {
			ls.logger.Info("VerifyToken rejected",
				zap.String("service", serviceName),
				zap.String("method", "VerifyToken"),
				zap.String("token", redactToken(token)),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
		} else {
			ls.logger.Info("VerifyToken completed",
				zap.String("service", serviceName),
				zap.String("method", "VerifyToken"),
				zap.String("coupon_ref", claims.CouponRef),
				zap.Duration("duration", duration),
			)
		}
	}()

	return ls.svc.VerifyToken(ctx, token)
}

func (ls *logService) Redeem(ctx context.Context, token string) (result *redemption.Result, err error) {
	start := time.Now()

	ls.logger.Info("Redeem started",
		zap.String("service", serviceName),
		zap.String("method", "Redeem"),
		zap.String("token", redactToken(token)),
	)

	defer func() {
		duration := time.Since(start)
		if err != nil {
			ls.logger.Error("Redeem failed",
				zap.String("service", serviceName),
				zap.String("method", "Redeem"),
				zap.String("token", redactToken(token)),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
		} else {
			ls.logger.Info("Redeem completed",
				zap.String("service", serviceName),
				zap.String("method", "Redeem"),
				zap.String("coupon_ref", result.CouponRef),
				zap.String("campaign_id", result.CampaignID),
				zap.String("tx_id", string(result.TxID)),
				zap.Duration("duration", duration),
			)
		}
	}()

	return ls.svc.Redeem(ctx, token)
}

func (ls *logService) RedeemDiscountCode(ctx context.Context, token string) (result *redemption.DiscountResult, err error) {
	start := time.Now()

	ls.logger.Info("RedeemDiscountCode started",
		zap.String("service", serviceName),
		zap.String("method", "RedeemDiscountCode"),
		zap.String("token", redactToken(token)),
	)

	defer func() {
		duration := time.Since(start)
		if err != nil {
			ls.logger.Error("RedeemDiscountCode failed",
				zap.String("service", serviceName),
				zap.String("method", "RedeemDiscountCode"),
				zap.String("token", redactToken(token)),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
		} else {
			// The code itself is the secret being sold; keep it out of logs.
			ls.logger.Info("RedeemDiscountCode completed",
				zap.String("service", serviceName),
				zap.String("method", "RedeemDiscountCode"),
				zap.String("coupon_ref", result.CouponRef),
				zap.String("campaign_id", result.CampaignID),
				zap.Duration("duration", duration),
			)
		}
	}()

	return ls.svc.RedeemDiscountCode(ctx, token)
}

func (ls *logService) BurnExpired(ctx context.Context, actor, campaignID string) (burned int, err error) {
	start := time.Now()

	ls.logger.Info("BurnExpired started",
		zap.String("service", serviceName),
		zap.String("method", "BurnExpired"),
		zap.String("merchant_id", actor),
		zap.String("campaign_id", campaignID),
	)

	defer func() {
		duration := time.Since(start)
		if err != nil {
			ls.logger.Error("BurnExpired failed",
				zap.String("service", serviceName),
				zap.String("method", "BurnExpired"),
				zap.String("campaign_id", campaignID),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
		} else {
			ls.logger.Info("BurnExpired completed",
				zap.String("service", serviceName),
				zap.String("method", "BurnExpired"),
				zap.String("campaign_id", campaignID),
				zap.Int("burned", burned),
				zap.Duration("duration", duration),
			)
		}
	}()

	return ls.svc.BurnExpired(ctx, actor, campaignID)
}

// redactToken shows only a short prefix of a redemption token.
func redactToken(token string) string {
	if len(token) <= tokenDisplaySize {
		return "<short token>"
	}
	return token[:tokenDisplaySize] + "..."
}
