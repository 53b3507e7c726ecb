package reconciler

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/chainperks/coupon-middleware/pkg/campaign"
	"github.com/chainperks/coupon-middleware/pkg/coupon"
	"github.com/chainperks/coupon-middleware/pkg/ledger"
	"github.com/chainperks/coupon-middleware/pkg/merchant"
)

const operatorAccount = ledger.AccountID("0.0.2")

type mockStore struct {
	listActiveFn  func(ctx context.Context) ([]*coupon.Coupon, error)
	getCampaignFn func(ctx context.Context, id string) (*campaign.Campaign, error)
	getMerchantFn func(ctx context.Context, id string) (*merchant.Merchant, error)

	setHolderCalls  []ledger.AccountID
	releaseCalls    int
	transitionCalls []coupon.RedemptionStatus
}

func (m *mockStore) ListActive(ctx context.Context) ([]*coupon.Coupon, error) {
	return m.listActiveFn(ctx)
}

func (m *mockStore) GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error) {
	if m.getCampaignFn != nil {
		return m.getCampaignFn(ctx, id)
	}
	return &campaign.Campaign{ID: id, MerchantID: "m1"}, nil
}

func (m *mockStore) GetMerchant(ctx context.Context, id string) (*merchant.Merchant, error) {
	if m.getMerchantFn != nil {
		return m.getMerchantFn(ctx, id)
	}
	return &merchant.Merchant{ID: id, CustodyMode: merchant.CustodyDeviceKey, LedgerAccountID: "0.0.8001"}, nil
}

func (m *mockStore) SetHolder(_ context.Context, _ ledger.NftRef, holder ledger.AccountID) error {
	m.setHolderCalls = append(m.setHolderCalls, holder)
	return nil
}

func (m *mockStore) ReleaseClaim(_ context.Context, _ ledger.NftRef) error {
	m.releaseCalls++
	return nil
}

func (m *mockStore) TransitionStatus(_ context.Context, _ ledger.NftRef, _, to coupon.RedemptionStatus) error {
	m.transitionCalls = append(m.transitionCalls, to)
	return nil
}

type mockMirror struct {
	ownerFn func(ctx context.Context, ref ledger.NftRef) (ledger.AccountID, error)
}

func (m *mockMirror) GetNftOwner(ctx context.Context, ref ledger.NftRef) (ledger.AccountID, error) {
	return m.ownerFn(ctx, ref)
}

func (m *mockMirror) GetAccountBalance(context.Context, ledger.AccountID) (int64, error) {
	panic("unexpected call")
}

func activeCoupon(serial ledger.SerialNumber, holder ledger.AccountID) *coupon.Coupon {
	return &coupon.Coupon{
		Ref:             ledger.NftRef{Collection: "0.0.5005", Serial: serial},
		CampaignID:      "c1",
		HolderAccountID: holder,
		Status:          coupon.StatusActive,
	}
}

func TestReconcileHealthyRowsUntouched(t *testing.T) {
	store := &mockStore{
		listActiveFn: func(context.Context) ([]*coupon.Coupon, error) {
			return []*coupon.Coupon{
				activeCoupon(1, ""),         // unclaimed, sits in treasury
				activeCoupon(2, "0.0.9321"), // claimed
			}, nil
		},
	}
	mirror := &mockMirror{
		ownerFn: func(_ context.Context, ref ledger.NftRef) (ledger.AccountID, error) {
			if ref.Serial == 1 {
				return operatorAccount, nil
			}
			return "0.0.9321", nil
		},
	}

	r := New(store, mirror, operatorAccount, zap.NewNop())
	if err := r.ReconcileAll(context.Background()); err != nil {
		t.Fatalf("ReconcileAll failed: %v", err)
	}

	if len(store.setHolderCalls) != 0 || store.releaseCalls != 0 || len(store.transitionCalls) != 0 {
		t.Error("healthy rows must not be repaired")
	}
}

func TestReconcileWipedCoupon(t *testing.T) {
	store := &mockStore{
		listActiveFn: func(context.Context) ([]*coupon.Coupon, error) {
			return []*coupon.Coupon{activeCoupon(1, "0.0.9321")}, nil
		},
	}
	mirror := &mockMirror{
		ownerFn: func(context.Context, ledger.NftRef) (ledger.AccountID, error) {
			return "", nil
		},
	}

	r := New(store, mirror, operatorAccount, zap.NewNop())
	if err := r.ReconcileAll(context.Background()); err != nil {
		t.Fatalf("ReconcileAll failed: %v", err)
	}

	if len(store.transitionCalls) != 1 || store.transitionCalls[0] != coupon.StatusRedeemed {
		t.Errorf("wiped coupon must be marked redeemed, got %v", store.transitionCalls)
	}
}

func TestReconcileTransferredCoupon(t *testing.T) {
	store := &mockStore{
		listActiveFn: func(context.Context) ([]*coupon.Coupon, error) {
			return []*coupon.Coupon{activeCoupon(1, "0.0.9321")}, nil
		},
	}
	mirror := &mockMirror{
		ownerFn: func(context.Context, ledger.NftRef) (ledger.AccountID, error) {
			return "0.0.9555", nil
		},
	}

	r := New(store, mirror, operatorAccount, zap.NewNop())
	if err := r.ReconcileAll(context.Background()); err != nil {
		t.Fatalf("ReconcileAll failed: %v", err)
	}

	if len(store.setHolderCalls) != 1 || store.setHolderCalls[0] != "0.0.9555" {
		t.Errorf("expected holder corrected to new owner, got %v", store.setHolderCalls)
	}
}

func TestReconcileReturnedToTreasury(t *testing.T) {
	store := &mockStore{
		listActiveFn: func(context.Context) ([]*coupon.Coupon, error) {
			return []*coupon.Coupon{activeCoupon(1, "0.0.9321")}, nil
		},
	}
	mirror := &mockMirror{
		ownerFn: func(context.Context, ledger.NftRef) (ledger.AccountID, error) {
			return operatorAccount, nil
		},
	}

	r := New(store, mirror, operatorAccount, zap.NewNop())
	if err := r.ReconcileAll(context.Background()); err != nil {
		t.Fatalf("ReconcileAll failed: %v", err)
	}

	if store.releaseCalls != 1 {
		t.Errorf("expected claim released, got %d release calls", store.releaseCalls)
	}
	if len(store.setHolderCalls) != 0 {
		t.Error("a treasury return must not set a holder")
	}
}

func TestReconcileCustodialTreasury(t *testing.T) {
	store := &mockStore{
		listActiveFn: func(context.Context) ([]*coupon.Coupon, error) {
			return []*coupon.Coupon{activeCoupon(1, "")}, nil
		},
		getMerchantFn: func(_ context.Context, id string) (*merchant.Merchant, error) {
			return &merchant.Merchant{
				ID:              id,
				CustodyMode:     merchant.CustodyOperatorCustodial,
				LedgerAccountID: "0.0.8001",
			}, nil
		},
	}
	mirror := &mockMirror{
		ownerFn: func(context.Context, ledger.NftRef) (ledger.AccountID, error) {
			// Custodial merchants treasury their own coupons.
			return "0.0.8001", nil
		},
	}

	r := New(store, mirror, operatorAccount, zap.NewNop())
	if err := r.ReconcileAll(context.Background()); err != nil {
		t.Fatalf("ReconcileAll failed: %v", err)
	}

	if len(store.setHolderCalls) != 0 || store.releaseCalls != 0 || len(store.transitionCalls) != 0 {
		t.Error("unclaimed custodial coupon in merchant treasury is healthy")
	}
}

func TestReconcileMirrorErrorSkipsRow(t *testing.T) {
	store := &mockStore{
		listActiveFn: func(context.Context) ([]*coupon.Coupon, error) {
			return []*coupon.Coupon{activeCoupon(1, "0.0.9321"), activeCoupon(2, "")}, nil
		},
	}
	mirror := &mockMirror{
		ownerFn: func(_ context.Context, ref ledger.NftRef) (ledger.AccountID, error) {
			if ref.Serial == 1 {
				return "", errors.New("mirror unavailable")
			}
			return operatorAccount, nil
		},
	}

	r := New(store, mirror, operatorAccount, zap.NewNop())
	if err := r.ReconcileAll(context.Background()); err != nil {
		t.Fatalf("a single failed row must not fail the sweep: %v", err)
	}

	if len(store.transitionCalls) != 0 {
		t.Error("a failed mirror read must not trigger a repair")
	}
}
