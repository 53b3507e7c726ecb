package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainperks/coupon-middleware/internal/metrics"

	apperrors "github.com/chainperks/coupon-middleware/pkg/app/errors"
	"github.com/chainperks/coupon-middleware/pkg/campaign"
	"github.com/chainperks/coupon-middleware/pkg/coupon"
	"github.com/chainperks/coupon-middleware/pkg/couponstore"
	"github.com/chainperks/coupon-middleware/pkg/keys"
	"github.com/chainperks/coupon-middleware/pkg/ledger"
	"github.com/chainperks/coupon-middleware/pkg/merchant"
)

var (
	ErrCampaignNotLive  = errors.New("campaign is not live")
	ErrClaimLimit       = errors.New("claim limit reached")
	ErrNotCampaignOwner = errors.New("campaign belongs to another merchant")
)

// Store is the narrow data-access interface for the minting service.
type Store interface {
	GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error)
	ReserveMintSlot(ctx context.Context, campaignID string) error
	ReleaseMintSlot(ctx context.Context, campaignID string) error
	GetMerchant(ctx context.Context, id string) (*merchant.Merchant, error)
	CreateCoupon(ctx context.Context, c *coupon.Coupon) error
	ClaimNextAvailable(ctx context.Context, campaignID string, holder ledger.AccountID) (*coupon.Coupon, error)
	ReleaseClaim(ctx context.Context, ref ledger.NftRef) error
	CountClaims(ctx context.Context, campaignID string, holder ledger.AccountID) (int, error)
}

// Custody is the slice of the merchant service the minting path needs.
type Custody interface {
	EnsureCollection(ctx context.Context, merchantID string) (ledger.CollectionID, error)
	Activate(ctx context.Context, merchantID string) error
}

// MintRequest asks for a batch of coupons in a campaign.
type MintRequest struct {
	CampaignID string `json:"campaignId" validate:"required"`
	Quantity   int    `json:"quantity" validate:"required,min=1,max=1000"`
}

// MintResult reports the successfully minted subset of a batch. Minted may be
// shorter than Requested when capacity ran out or the ledger failed partway.
type MintResult struct {
	CampaignID string          `json:"campaignId"`
	Requested  int             `json:"requestedQuantity"`
	Minted     []ledger.NftRef `json:"mintedCoupons"`
}

// Service mints coupon NFTs and hands them to claimants.
type Service interface {
	// Mint mints a batch for the campaign. actor is the authenticated
	// merchant; it must own the campaign.
	Mint(ctx context.Context, actor string, req *MintRequest) (*MintResult, error)
	Claim(ctx context.Context, campaignID string, claimant ledger.AccountID) (*coupon.Coupon, error)
}

type mintingService struct {
	store           Store
	gateway         ledger.Gateway
	custody         Custody
	cipher          keys.KeyCipher
	operatorAccount ledger.AccountID
	logger          *zap.Logger
}

// NewService creates a coupon minting service.
func NewService(
	store Store,
	gateway ledger.Gateway,
	custody Custody,
	cipher keys.KeyCipher,
	operatorAccount ledger.AccountID,
	logger *zap.Logger,
) Service {
	return &mintingService{
		store:           store,
		gateway:         gateway,
		custody:         custody,
		cipher:          cipher,
		operatorAccount: operatorAccount,
		logger:          logger,
	}
}

// Mint mints up to req.Quantity coupons for the campaign.
//
// Capacity is reserved per unit with a conditional update before each ledger
// mint, so concurrent batches can never overshoot the campaign limit. A
// ledger-side failure releases the reserved slot and ends the batch early with
// the subset minted so far.
func (s *mintingService) Mint(ctx context.Context, actor string, req *MintRequest) (*MintResult, error) {
	c, err := s.campaign(ctx, req.CampaignID)
	if err != nil {
		return nil, err
	}
	if c.MerchantID != actor {
		return nil, apperrors.ForbiddenError(ErrNotCampaignOwner, "campaign belongs to another merchant")
	}

	collection, err := s.custody.EnsureCollection(ctx, c.MerchantID)
	if err != nil {
		return nil, err
	}

	result := &MintResult{CampaignID: c.ID, Requested: req.Quantity}
	for i := 0; i < req.Quantity; i++ {
		if err := s.store.ReserveMintSlot(ctx, c.ID); err != nil {
			if errors.Is(err, couponstore.ErrCapacityExhausted) {
				if len(result.Minted) == 0 {
					return nil, apperrors.CodedConflictError(err, apperrors.CodeCapacityExhausted, "campaign capacity exhausted")
				}
				break
			}
			if len(result.Minted) == 0 {
				return nil, fmt.Errorf("failed to reserve mint slot: %w", err)
			}
			s.logger.Error("mint batch aborted on slot reservation",
				zap.String("campaign_id", c.ID), zap.Error(err))
			break
		}

		ref, err := s.mintOne(ctx, c, collection)
		if err != nil {
			if rerr := s.store.ReleaseMintSlot(ctx, c.ID); rerr != nil {
				s.logger.Error("failed to release mint slot",
					zap.String("campaign_id", c.ID), zap.Error(rerr))
			}
			if len(result.Minted) == 0 {
				return nil, apperrors.DependencyError(err, apperrors.CodeLedgerCallFailed, "coupon mint failed")
			}
			s.logger.Warn("mint batch ended early",
				zap.String("campaign_id", c.ID),
				zap.Int("minted", len(result.Minted)),
				zap.Error(err))
			break
		}
		result.Minted = append(result.Minted, ref)
	}

	if len(result.Minted) > 0 {
		// First successful mint completes onboarding. Advancing is
		// monotonic, so repeat batches are a no-op.
		if err := s.custody.Activate(ctx, c.MerchantID); err != nil {
			s.logger.Warn("failed to activate merchant",
				zap.String("merchant_id", c.MerchantID), zap.Error(err))
		}
	}

	s.logger.Info("coupons minted",
		zap.String("campaign_id", c.ID),
		zap.Int("requested", result.Requested),
		zap.Int("minted", len(result.Minted)),
	)
	return result, nil
}

func (s *mintingService) mintOne(
	ctx context.Context,
	c *campaign.Campaign,
	collection ledger.CollectionID,
) (ledger.NftRef, error) {
	md := coupon.Metadata{
		Name:          c.Name,
		Description:   c.Description,
		DiscountTerms: discountTerms(c),
		ValidFrom:     c.StartsAt,
		ValidUntil:    c.EndsAt,
		UnitID:        uuid.NewString(),
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return ledger.NftRef{}, fmt.Errorf("marshal metadata: %w", err)
	}

	serial, err := s.gateway.MintNft(ctx, collection, raw)
	if err != nil {
		metrics.MintsTotal.WithLabelValues("failed").Inc()
		return ledger.NftRef{}, err
	}
	metrics.MintsTotal.WithLabelValues("minted").Inc()

	ref := ledger.NftRef{Collection: collection, Serial: serial}
	if err := s.store.CreateCoupon(ctx, &coupon.Coupon{
		Ref:        ref,
		CampaignID: c.ID,
		Metadata:   md,
		Status:     coupon.StatusActive,
	}); err != nil {
		// The NFT exists on the ledger but not locally; the reconciler will
		// not recover records, so this needs operator attention.
		s.logger.Error("minted nft has no local record",
			zap.String("nft", ref.String()),
			zap.String("campaign_id", c.ID),
			zap.Error(err))
		return ledger.NftRef{}, err
	}
	return ref, nil
}

// Claim hands one unclaimed coupon of a live campaign to the claimant and
// transfers the NFT out of the treasury.
func (s *mintingService) Claim(
	ctx context.Context,
	campaignID string,
	claimant ledger.AccountID,
) (*coupon.Coupon, error) {
	c, err := s.campaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !c.IsLive(time.Now()) {
		return nil, apperrors.CodedConflictError(ErrCampaignNotLive, apperrors.CodeCampaignNotLive, "campaign is not live")
	}

	claimed, err := s.store.CountClaims(ctx, c.ID, claimant)
	if err != nil {
		return nil, fmt.Errorf("failed to count claims: %w", err)
	}
	if claimed >= c.MaxRedemptionsPerUser {
		return nil, apperrors.CodedConflictError(ErrClaimLimit, apperrors.CodeAlreadyClaimedLimit, "claim limit reached for this campaign")
	}

	m, err := s.store.GetMerchant(ctx, c.MerchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load merchant: %w", err)
	}

	cp, err := s.store.ClaimNextAvailable(ctx, c.ID, claimant)
	if err != nil {
		if errors.Is(err, couponstore.ErrNoUnclaimedCoupon) {
			return nil, apperrors.CodedConflictError(err, apperrors.CodeCapacityExhausted, "no unclaimed coupons left")
		}
		return nil, fmt.Errorf("failed to claim coupon: %w", err)
	}

	treasury, sigs, err := s.treasurySignatures(m, cp.Ref, claimant)
	if err != nil {
		s.releaseClaim(ctx, cp.Ref)
		return nil, err
	}

	if _, err := s.gateway.TransferNft(ctx, cp.Ref, treasury, claimant, sigs); err != nil {
		s.releaseClaim(ctx, cp.Ref)
		metrics.ClaimsTotal.WithLabelValues("failed").Inc()
		if errors.Is(err, ledger.ErrNotAssociated) {
			return nil, apperrors.BadRequestError(err, "claimant account is not associated with the collection")
		}
		return nil, apperrors.DependencyError(err, apperrors.CodeLedgerCallFailed, "coupon transfer failed")
	}
	metrics.ClaimsTotal.WithLabelValues("claimed").Inc()

	s.logger.Info("coupon claimed",
		zap.String("nft", cp.Ref.String()),
		zap.String("campaign_id", c.ID),
		zap.String("claimant", string(claimant)),
	)
	return cp, nil
}

func (s *mintingService) campaign(ctx context.Context, id string) (*campaign.Campaign, error) {
	c, err := s.store.GetCampaign(ctx, id)
	if errors.Is(err, couponstore.ErrNotFound) {
		return nil, apperrors.ResourceNotFoundError(err, "campaign not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}
	return c, nil
}

// treasurySignatures resolves the treasury account holding unclaimed coupons
// and, for custodial merchants acting as their own treasury, produces the
// merchant co-signature over the transfer body.
func (s *mintingService) treasurySignatures(
	m *merchant.Merchant,
	ref ledger.NftRef,
	claimant ledger.AccountID,
) (ledger.AccountID, []ledger.Signature, error) {
	if m.CustodyMode != merchant.CustodyOperatorCustodial {
		return s.operatorAccount, nil, nil
	}

	privateKey, err := s.cipher.Decrypt(m.EncryptedPrivateKey)
	if err != nil {
		return "", nil, fmt.Errorf("failed to decrypt custodial key: %w", err)
	}
	kp, err := keys.KeyPairFromPrivateKey(privateKey)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load custodial key: %w", err)
	}
	payload, err := ledger.TransferSigningPayload(ref, m.LedgerAccountID, claimant)
	if err != nil {
		return "", nil, fmt.Errorf("failed to build signing payload: %w", err)
	}
	sig, err := kp.Sign(payload)
	if err != nil {
		return "", nil, fmt.Errorf("custodial signing failed: %w", err)
	}
	return m.LedgerAccountID, []ledger.Signature{{PublicKey: kp.PublicKey, Bytes: sig}}, nil
}

func (s *mintingService) releaseClaim(ctx context.Context, ref ledger.NftRef) {
	if err := s.store.ReleaseClaim(ctx, ref); err != nil {
		s.logger.Error("failed to release claim after transfer failure",
			zap.String("nft", ref.String()), zap.Error(err))
	}
}

// discountTerms renders a human-readable summary of the campaign discount for
// the NFT metadata.
func discountTerms(c *campaign.Campaign) string {
	switch c.Discount.Type {
	case campaign.DiscountPercentage:
		return c.Discount.Value.String() + "% off"
	case campaign.DiscountFixedAmount:
		return c.Discount.Value.String() + " off"
	case campaign.DiscountFreeItem:
		return "free item"
	default:
		return ""
	}
}
