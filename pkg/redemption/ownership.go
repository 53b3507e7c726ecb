package redemption

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chainperks/coupon-middleware/pkg/ledger"
)

var (
	// ErrNotOwned is the authoritative answer: the mirror settled on a
	// different owner (or no owner at all). Not retryable.
	ErrNotOwned = errors.New("nft not owned by expected holder")

	// ErrVerificationFailed means the mirror could not be queried; ownership
	// is unknown and the caller may retry.
	ErrVerificationFailed = errors.New("ownership verification failed")
)

// DefaultRetryBackoff is the pause before the single mismatch re-read.
const DefaultRetryBackoff = 2 * time.Second

// OwnershipVerifier confirms NFT ownership against the mirror. The mirror
// lags the ledger, so a first-read mismatch gets one short-backoff re-read
// before it is treated as authoritative.
type OwnershipVerifier struct {
	mirror  ledger.MirrorQuery
	backoff time.Duration
	logger  *zap.Logger
}

// NewOwnershipVerifier creates an ownership verifier.
// backoff <= 0 selects DefaultRetryBackoff.
func NewOwnershipVerifier(mirror ledger.MirrorQuery, backoff time.Duration, logger *zap.Logger) *OwnershipVerifier {
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	return &OwnershipVerifier{
		mirror:  mirror,
		backoff: backoff,
		logger:  logger,
	}
}

// ConfirmOwnership checks that holder currently owns the NFT per the mirror.
// Returns nil when confirmed, ErrNotOwned on a settled mismatch, and
// ErrVerificationFailed when the mirror cannot answer.
func (v *OwnershipVerifier) ConfirmOwnership(ctx context.Context, ref ledger.NftRef, holder ledger.AccountID) error {
	owner, err := v.mirror.GetNftOwner(ctx, ref)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if owner == holder {
		return nil
	}

	v.logger.Debug("ownership mismatch, re-reading mirror",
		zap.String("nft", ref.String()),
		zap.String("expected", string(holder)),
		zap.String("observed", string(owner)),
	)

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrVerificationFailed, ctx.Err())
	case <-time.After(v.backoff):
	}

	owner, err = v.mirror.GetNftOwner(ctx, ref)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if owner == holder {
		return nil
	}
	return fmt.Errorf("%w: mirror reports owner %q", ErrNotOwned, owner)
}
