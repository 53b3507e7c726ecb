package redemption

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainperks/coupon-middleware/internal/metrics"

	apperrors "github.com/chainperks/coupon-middleware/pkg/app/errors"
	"github.com/chainperks/coupon-middleware/pkg/campaign"
	"github.com/chainperks/coupon-middleware/pkg/coupon"
	"github.com/chainperks/coupon-middleware/pkg/couponstore"
	"github.com/chainperks/coupon-middleware/pkg/ledger"
	"github.com/chainperks/coupon-middleware/pkg/merchant"
)

// Store is the narrow data-access interface for the redemption orchestrator.
type Store interface {
	GetCoupon(ctx context.Context, ref ledger.NftRef) (*coupon.Coupon, error)
	GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error)
	GetMerchant(ctx context.Context, id string) (*merchant.Merchant, error)
	TransitionStatus(ctx context.Context, ref ledger.NftRef, from, to coupon.RedemptionStatus) error
	CreateDiscountCode(ctx context.Context, code *coupon.DiscountCode) error
	GetDiscountCodeByCoupon(ctx context.Context, ref ledger.NftRef) (*coupon.DiscountCode, error)
	ListActiveByCampaign(ctx context.Context, campaignID string) ([]*coupon.Coupon, error)
}

// Wiper is the slice of the ledger gateway the orchestrator needs.
type Wiper interface {
	WipeNft(ctx context.Context, ref ledger.NftRef, holder ledger.AccountID) (ledger.TxID, error)
}

// TokenGrant is an issued redemption token and its expiry.
type TokenGrant struct {
	Token     string    `json:"redemptionToken"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Result reports a completed redemption.
type Result struct {
	CouponRef  string           `json:"couponRef"`
	CampaignID string           `json:"campaignId"`
	Holder     ledger.AccountID `json:"holder"`
	RedeemedAt time.Time        `json:"redeemedAt"`
	TxID       ledger.TxID      `json:"transactionId"`
}

// DiscountResult is a redemption that produced a discount code.
type DiscountResult struct {
	Result
	Code string `json:"discountCode"`
}

// Service is the redemption flow: token issue/verify, wipe-gated redemption,
// and the expired-coupon burn sweep.
type Service interface {
	GenerateToken(ctx context.Context, ref ledger.NftRef, holder ledger.AccountID) (*TokenGrant, error)
	VerifyToken(ctx context.Context, token string) (*TokenClaims, error)
	Redeem(ctx context.Context, token string) (*Result, error)
	RedeemDiscountCode(ctx context.Context, token string) (*DiscountResult, error)
	BurnExpired(ctx context.Context, actor, campaignID string) (int, error)
}

type orchestrator struct {
	store           Store
	wiper           Wiper
	tokens          *TokenService
	ownership       *OwnershipVerifier
	operatorAccount ledger.AccountID
	logger          *zap.Logger
}

// NewService creates the redemption orchestrator.
func NewService(
	store Store,
	wiper Wiper,
	tokens *TokenService,
	ownership *OwnershipVerifier,
	operatorAccount ledger.AccountID,
	logger *zap.Logger,
) Service {
	return &orchestrator{
		store:           store,
		wiper:           wiper,
		tokens:          tokens,
		ownership:       ownership,
		operatorAccount: operatorAccount,
		logger:          logger,
	}
}

// GenerateToken issues a redemption token after local checks: the coupon is
// active, held by the requester, and its campaign is live. Tokens stay valid
// for the configured TTL; generating again just issues a fresh token.
func (o *orchestrator) GenerateToken(ctx context.Context, ref ledger.NftRef, holder ledger.AccountID) (*TokenGrant, error) {
	cp, err := o.coupon(ctx, ref)
	if err != nil {
		return nil, err
	}
	if cp.Status != coupon.StatusActive {
		return nil, apperrors.TerminalError(nil, apperrors.CodeAlreadyRedeemed,
			fmt.Sprintf("coupon is %s", cp.Status))
	}
	if cp.HolderAccountID != holder {
		return nil, apperrors.CodedConflictError(ErrNotOwned, apperrors.CodeNftNotOwned,
			"coupon is not held by this account")
	}

	c, err := o.campaign(ctx, cp.CampaignID)
	if err != nil {
		return nil, err
	}
	if !c.IsLive(time.Now()) {
		return nil, apperrors.CodedConflictError(nil, apperrors.CodeCampaignNotLive, "campaign is not live")
	}

	token, expiresAt, err := o.tokens.Issue(ref, holder)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	metrics.TokensIssued.Inc()
	return &TokenGrant{Token: token, ExpiresAt: expiresAt}, nil
}

// VerifyToken checks a token locally without touching the ledger.
func (o *orchestrator) VerifyToken(_ context.Context, token string) (*TokenClaims, error) {
	claims, err := o.tokens.Verify(token)
	if err != nil {
		return nil, mapTokenError(err)
	}
	return claims, nil
}

// Redeem performs the single-use redemption of a qr_redeem coupon.
//
// The wipe is the gate: it is intrinsically exclusive on the ledger, so of
// two concurrent redeemers exactly one sees the wipe succeed. The local
// status CAS afterwards only updates the cache; a wipe that succeeded with a
// failed local update is still a successful redemption, reconciled later.
func (o *orchestrator) Redeem(ctx context.Context, token string) (*Result, error) {
	res, _, err := o.redeem(ctx, token, campaign.TypeQrRedeem)
	return res, err
}

// RedeemDiscountCode redeems a discount_code coupon and returns the code.
// The per-coupon unique constraint guarantees one code per coupon even when
// the local update raced.
func (o *orchestrator) RedeemDiscountCode(ctx context.Context, token string) (*DiscountResult, error) {
	res, ref, err := o.redeem(ctx, token, campaign.TypeDiscountCode)
	if err != nil {
		return nil, err
	}

	code := &coupon.DiscountCode{
		ID:         uuid.NewString(),
		CouponRef:  ref,
		Code:       newDiscountCode(),
		RedeemedAt: res.RedeemedAt,
	}
	if err := o.store.CreateDiscountCode(ctx, code); err != nil {
		if errors.Is(err, couponstore.ErrDuplicateDiscountCode) {
			existing, gerr := o.store.GetDiscountCodeByCoupon(ctx, ref)
			if gerr != nil {
				return nil, fmt.Errorf("failed to load existing discount code: %w", gerr)
			}
			return &DiscountResult{Result: *res, Code: existing.Code}, nil
		}
		return nil, fmt.Errorf("failed to save discount code: %w", err)
	}
	return &DiscountResult{Result: *res, Code: code.Code}, nil
}

func (o *orchestrator) redeem(ctx context.Context, token string, wantType campaign.Type) (*Result, ledger.NftRef, error) {
	claims, err := o.tokens.Verify(token)
	if err != nil {
		return nil, ledger.NftRef{}, mapTokenError(err)
	}
	ref, err := claims.Ref()
	if err != nil {
		return nil, ledger.NftRef{}, apperrors.BadRequestError(err, "malformed coupon reference")
	}

	cp, err := o.coupon(ctx, ref)
	if err != nil {
		return nil, ref, err
	}
	if cp.Status.Terminal() {
		return nil, ref, apperrors.TerminalError(nil, apperrors.CodeAlreadyRedeemed,
			fmt.Sprintf("coupon is %s", cp.Status))
	}

	c, err := o.campaign(ctx, cp.CampaignID)
	if err != nil {
		return nil, ref, err
	}
	if c.CampaignType != wantType {
		return nil, ref, apperrors.BadRequestError(nil,
			fmt.Sprintf("campaign type is %s, wrong redemption endpoint", c.CampaignType))
	}
	if !c.IsLive(time.Now()) {
		return nil, ref, apperrors.CodedConflictError(nil, apperrors.CodeCampaignNotLive, "campaign is not live")
	}

	// The mirror has the authoritative owner; a token issued before a
	// transfer must not redeem.
	if err := o.ownership.ConfirmOwnership(ctx, ref, claims.Holder); err != nil {
		if errors.Is(err, ErrNotOwned) {
			return nil, ref, apperrors.TerminalError(err, apperrors.CodeNftNotOwned,
				"coupon is no longer held by the token holder")
		}
		return nil, ref, apperrors.DependencyError(err, apperrors.CodeOwnershipVerificationFail,
			"could not verify ownership")
	}

	txID, err := o.wiper.WipeNft(ctx, ref, claims.Holder)
	if err != nil {
		if errors.Is(err, ledger.ErrNftAlreadyWiped) {
			// Somebody else's wipe won the race.
			o.reconcileRedeemed(ctx, ref)
			metrics.RedemptionsTotal.WithLabelValues(string(wantType), "already_redeemed").Inc()
			return nil, ref, apperrors.TerminalError(err, apperrors.CodeAlreadyRedeemed, "coupon already redeemed")
		}
		metrics.RedemptionsTotal.WithLabelValues(string(wantType), "failed").Inc()
		return nil, ref, apperrors.DependencyError(err, apperrors.CodeLedgerCallFailed, "coupon wipe failed")
	}
	metrics.RedemptionsTotal.WithLabelValues(string(wantType), "redeemed").Inc()

	redeemedAt := time.Now().UTC()
	if err := o.store.TransitionStatus(ctx, ref, coupon.StatusActive, coupon.StatusRedeemed); err != nil {
		// The wipe already happened; the redemption stands. The reconciler
		// catches the stale local row.
		o.logger.Error("wipe succeeded but local status update failed",
			zap.String("nft", ref.String()),
			zap.String("tx_id", string(txID)),
			zap.Error(err))
	}

	o.logger.Info("coupon redeemed",
		zap.String("nft", ref.String()),
		zap.String("campaign_id", cp.CampaignID),
		zap.String("holder", string(claims.Holder)),
		zap.String("tx_id", string(txID)),
	)
	return &Result{
		CouponRef:  ref.String(),
		CampaignID: cp.CampaignID,
		Holder:     claims.Holder,
		RedeemedAt: redeemedAt,
		TxID:       txID,
	}, ref, nil
}

// BurnExpired wipes all still-active coupons of an ended campaign and marks
// them burned. Idempotent: already-terminal coupons are skipped, and a coupon
// found wiped on the ledger is reconciled to redeemed instead of counted.
func (o *orchestrator) BurnExpired(ctx context.Context, actor, campaignID string) (int, error) {
	c, err := o.campaign(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	if c.MerchantID != actor {
		return 0, apperrors.ForbiddenError(nil, "campaign belongs to another merchant")
	}
	if !c.Expired(time.Now()) {
		return 0, apperrors.BadRequestError(nil, "campaign has not ended yet")
	}

	m, err := o.store.GetMerchant(ctx, c.MerchantID)
	if err != nil {
		return 0, fmt.Errorf("failed to load merchant: %w", err)
	}
	treasury := o.operatorAccount
	if m.CustodyMode == merchant.CustodyOperatorCustodial {
		treasury = m.LedgerAccountID
	}

	coupons, err := o.store.ListActiveByCampaign(ctx, campaignID)
	if err != nil {
		return 0, fmt.Errorf("failed to list active coupons: %w", err)
	}

	burned := 0
	for _, cp := range coupons {
		holder := cp.HolderAccountID
		if holder == "" {
			// Unclaimed coupons still sit in the treasury.
			holder = treasury
		}

		if _, err := o.wiper.WipeNft(ctx, cp.Ref, holder); err != nil {
			if errors.Is(err, ledger.ErrNftAlreadyWiped) {
				o.reconcileRedeemed(ctx, cp.Ref)
				continue
			}
			o.logger.Error("failed to wipe expired coupon",
				zap.String("nft", cp.Ref.String()), zap.Error(err))
			continue
		}

		if err := o.store.TransitionStatus(ctx, cp.Ref, coupon.StatusActive, coupon.StatusBurned); err != nil {
			o.logger.Error("wiped expired coupon but local status update failed",
				zap.String("nft", cp.Ref.String()), zap.Error(err))
		}
		burned++
	}

	metrics.CouponsBurned.Add(float64(burned))
	o.logger.Info("expired coupons burned",
		zap.String("campaign_id", campaignID),
		zap.Int("burned", burned),
		zap.Int("scanned", len(coupons)),
	)
	return burned, nil
}

// reconcileRedeemed promotes a locally-active coupon to redeemed after the
// ledger showed it already wiped. Best effort; the reconciler covers misses.
func (o *orchestrator) reconcileRedeemed(ctx context.Context, ref ledger.NftRef) {
	if err := o.store.TransitionStatus(ctx, ref, coupon.StatusActive, coupon.StatusRedeemed); err != nil &&
		!errors.Is(err, couponstore.ErrStatusConflict) {
		o.logger.Warn("failed to reconcile wiped coupon",
			zap.String("nft", ref.String()), zap.Error(err))
	}
}

func (o *orchestrator) coupon(ctx context.Context, ref ledger.NftRef) (*coupon.Coupon, error) {
	cp, err := o.store.GetCoupon(ctx, ref)
	if errors.Is(err, couponstore.ErrNotFound) {
		return nil, apperrors.ResourceNotFoundError(err, "coupon not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load coupon: %w", err)
	}
	return cp, nil
}

func (o *orchestrator) campaign(ctx context.Context, id string) (*campaign.Campaign, error) {
	c, err := o.store.GetCampaign(ctx, id)
	if errors.Is(err, couponstore.ErrNotFound) {
		return nil, apperrors.ResourceNotFoundError(err, "campaign not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}
	return c, nil
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return apperrors.CodedBadRequestError(err, apperrors.CodeTokenExpired, "redemption token expired")
	case errors.Is(err, ErrTokenSignatureInvalid):
		return apperrors.UnAuthorizedCodedError(err, apperrors.CodeTokenSignatureInvalid, "redemption token signature invalid")
	default:
		return apperrors.BadRequestError(err, "malformed redemption token")
	}
}

// newDiscountCode renders an opaque human-enterable code, e.g. "7F3A-C94D-1B20".
func newDiscountCode() string {
	hex := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return hex[0:4] + "-" + hex[4:8] + "-" + hex[8:12]
}
