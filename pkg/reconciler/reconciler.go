package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chainperks/coupon-middleware/internal/metrics"
	"github.com/chainperks/coupon-middleware/pkg/campaign"
	"github.com/chainperks/coupon-middleware/pkg/coupon"
	"github.com/chainperks/coupon-middleware/pkg/ledger"
	"github.com/chainperks/coupon-middleware/pkg/merchant"
)

// Store provides the coupon state the reconciler reads and repairs.
type Store interface {
	ListActive(ctx context.Context) ([]*coupon.Coupon, error)
	GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error)
	GetMerchant(ctx context.Context, id string) (*merchant.Merchant, error)
	SetHolder(ctx context.Context, ref ledger.NftRef, holder ledger.AccountID) error
	ReleaseClaim(ctx context.Context, ref ledger.NftRef) error
	TransitionStatus(ctx context.Context, ref ledger.NftRef, from, to coupon.RedemptionStatus) error
}

// Reconciler repairs the local coupon cache against mirror node state. The
// ledger is authoritative; local rows drift when a wipe or transfer succeeded
// but the follow-up row update failed, or when an NFT moved hands directly on
// the ledger.
type Reconciler struct {
	store           Store
	mirror          ledger.MirrorQuery
	operatorAccount ledger.AccountID
	logger          *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a new Reconciler.
func New(store Store, mirror ledger.MirrorQuery, operatorAccount ledger.AccountID, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:           store,
		mirror:          mirror,
		operatorAccount: operatorAccount,
		logger:          logger,
		stopCh:          make(chan struct{}),
	}
}

// ReconcileAll sweeps every locally-active coupon and checks its owner against
// the mirror:
//
//   - gone from the mirror: the NFT was wiped, the row moves to redeemed
//   - owner differs from the cached holder: the NFT moved on the ledger, the
//     cached holder is corrected (back to the claimable pool when it returned
//     to the treasury)
//
// Mirror lag can make a just-transferred coupon look stale for a few seconds;
// a repair based on a lagging read is corrected again on the next sweep.
func (r *Reconciler) ReconcileAll(ctx context.Context) error {
	start := time.Now()

	coupons, err := r.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active coupons: %w", err)
	}

	treasuries := make(map[string]ledger.AccountID)
	var repaired, failed int

	for _, cp := range coupons {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		treasury, err := r.treasury(ctx, treasuries, cp.CampaignID)
		if err != nil {
			r.logger.Warn("skipping coupon, campaign lookup failed",
				zap.String("nft", cp.Ref.String()), zap.Error(err))
			failed++
			continue
		}

		owner, err := r.mirror.GetNftOwner(ctx, cp.Ref)
		if err != nil {
			r.logger.Warn("mirror lookup failed",
				zap.String("nft", cp.Ref.String()), zap.Error(err))
			failed++
			continue
		}

		if err := r.repair(ctx, cp, owner, treasury); err != nil {
			r.logger.Error("failed to repair coupon",
				zap.String("nft", cp.Ref.String()), zap.Error(err))
			failed++
			continue
		}
		if r.drifted(cp, owner, treasury) {
			repaired++
		}
	}

	r.logger.Info("reconciliation completed",
		zap.Int("scanned", len(coupons)),
		zap.Int("repaired", repaired),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// drifted reports whether the mirror state disagreed with the local row.
func (r *Reconciler) drifted(cp *coupon.Coupon, owner, treasury ledger.AccountID) bool {
	if owner == "" {
		return true
	}
	expected := cp.HolderAccountID
	if expected == "" {
		expected = treasury
	}
	return owner != expected
}

func (r *Reconciler) repair(ctx context.Context, cp *coupon.Coupon, owner, treasury ledger.AccountID) error {
	if owner == "" {
		// Wiped on the ledger but still active locally; the redemption's
		// local CAS never landed.
		if err := r.store.TransitionStatus(ctx, cp.Ref, coupon.StatusActive, coupon.StatusRedeemed); err != nil {
			return fmt.Errorf("mark redeemed: %w", err)
		}
		metrics.ReconcilerRepairs.WithLabelValues("wiped").Inc()
		r.logger.Info("reconciled wiped coupon to redeemed", zap.String("nft", cp.Ref.String()))
		return nil
	}

	expected := cp.HolderAccountID
	if expected == "" {
		expected = treasury
	}
	if owner == expected {
		return nil
	}

	if owner == treasury {
		// Back in the treasury: a claim's transfer never happened. Return
		// the coupon to the claimable pool.
		if err := r.store.ReleaseClaim(ctx, cp.Ref); err != nil {
			return fmt.Errorf("release claim: %w", err)
		}
		metrics.ReconcilerRepairs.WithLabelValues("released").Inc()
		r.logger.Info("reconciled coupon back to claimable pool",
			zap.String("nft", cp.Ref.String()),
			zap.String("stale_holder", string(cp.HolderAccountID)))
		return nil
	}

	// Transferred hand-to-hand on the ledger; follow the new owner.
	if err := r.store.SetHolder(ctx, cp.Ref, owner); err != nil {
		return fmt.Errorf("set holder: %w", err)
	}
	metrics.ReconcilerRepairs.WithLabelValues("transferred").Inc()
	r.logger.Info("reconciled coupon holder",
		zap.String("nft", cp.Ref.String()),
		zap.String("stale_holder", string(cp.HolderAccountID)),
		zap.String("owner", string(owner)))
	return nil
}

// treasury resolves, and caches per sweep, the treasury account of a campaign.
func (r *Reconciler) treasury(ctx context.Context, cache map[string]ledger.AccountID, campaignID string) (ledger.AccountID, error) {
	if t, ok := cache[campaignID]; ok {
		return t, nil
	}

	c, err := r.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return "", fmt.Errorf("failed to load campaign: %w", err)
	}
	t := r.operatorAccount
	if c.MerchantID != "" {
		m, err := r.store.GetMerchant(ctx, c.MerchantID)
		if err != nil {
			return "", fmt.Errorf("failed to load merchant: %w", err)
		}
		if m.CustodyMode == merchant.CustodyOperatorCustodial {
			t = m.LedgerAccountID
		}
	}
	cache[campaignID] = t
	return t, nil
}

// StartPeriodicReconciliation starts a background goroutine that reconciles periodically
func (r *Reconciler) StartPeriodicReconciliation(interval time.Duration) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		r.logger.Info("started periodic reconciliation", zap.Duration("interval", interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
				if err := r.ReconcileAll(ctx); err != nil {
					r.logger.Error("periodic reconciliation failed", zap.Error(err))
				}
				cancel()
			case <-r.stopCh:
				r.logger.Info("stopping periodic reconciliation")
				return
			}
		}
	}()
}

// Stop stops the periodic reconciliation
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}
