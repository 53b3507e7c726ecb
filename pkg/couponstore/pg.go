package couponstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/chainperks/coupon-middleware/pkg/campaign"
	"github.com/chainperks/coupon-middleware/pkg/coupon"
	"github.com/chainperks/coupon-middleware/pkg/ledger"
	"github.com/chainperks/coupon-middleware/pkg/merchant"
)

type pgStore struct {
	db *bun.DB
}

// NewStore creates a new postgres implementation of the coupon platform store
func NewStore(db *bun.DB) *pgStore {
	return &pgStore{db: db}
}

var _ Store = (*pgStore)(nil)

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	// pgdriver surfaces some constraint errors only through the message
	return strings.Contains(err.Error(), "duplicate key value")
}

// --- merchants ---

func (s *pgStore) CreateMerchant(ctx context.Context, m *merchant.Merchant) error {
	dao := toMerchantDao(m)

	_, err := s.db.NewInsert().
		Model(dao).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create merchant: %w", err)
	}
	return nil
}

func (s *pgStore) GetMerchant(ctx context.Context, id string) (*merchant.Merchant, error) {
	dao := new(MerchantDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get merchant: %w", err)
	}
	return toMerchant(dao), nil
}

func (s *pgStore) SetMerchantCollection(ctx context.Context, id string, collection ledger.CollectionID) error {
	res, err := s.db.NewUpdate().
		Model((*MerchantDao)(nil)).
		Set("collection_id = ?", string(collection)).
		Where("id = ?", id).
		Where("collection_id IS NULL OR collection_id = ?", string(collection)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set merchant collection: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		// Either the merchant is missing or another collection was set first.
		if _, gerr := s.GetMerchant(ctx, id); gerr != nil {
			return gerr
		}
		return ErrStatusConflict
	}
	return nil
}

func (s *pgStore) AdvanceOnboarding(ctx context.Context, id string, status merchant.OnboardingStatus) error {
	// Status ranks are encoded in SQL so the forward-only check is atomic.
	rank := `CASE onboarding_status
		WHEN 'account_created' THEN 1
		WHEN 'collection_created' THEN 2
		WHEN 'active' THEN 3
		ELSE 0 END`
	newRank := map[merchant.OnboardingStatus]int{
		merchant.OnboardingPending:           0,
		merchant.OnboardingAccountCreated:    1,
		merchant.OnboardingCollectionCreated: 2,
		merchant.OnboardingActive:            3,
	}[status]

	_, err := s.db.NewUpdate().
		Model((*MerchantDao)(nil)).
		Set("onboarding_status = ?", string(status)).
		Where("id = ?", id).
		Where("("+rank+") < ?", newRank).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to advance onboarding: %w", err)
	}
	return nil
}

// --- campaigns ---

func (s *pgStore) CreateCampaign(ctx context.Context, c *campaign.Campaign) error {
	dao := toCampaignDao(c)

	_, err := s.db.NewInsert().
		Model(dao).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

func (s *pgStore) GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error) {
	dao := new(CampaignDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return toCampaign(dao)
}

func (s *pgStore) ReserveMintSlot(ctx context.Context, campaignID string) error {
	// Single conditional UPDATE: the capacity check and the decrement are one
	// statement, so concurrent mint requests cannot overshoot total_limit.
	res, err := s.db.NewUpdate().
		Model((*CampaignDao)(nil)).
		Set("minted_count = minted_count + 1").
		Where("id = ?", campaignID).
		Where("total_limit IS NULL OR minted_count < total_limit").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to reserve mint slot: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		if _, gerr := s.GetCampaign(ctx, campaignID); gerr != nil {
			return gerr
		}
		return ErrCapacityExhausted
	}
	return nil
}

func (s *pgStore) ReleaseMintSlot(ctx context.Context, campaignID string) error {
	_, err := s.db.NewUpdate().
		Model((*CampaignDao)(nil)).
		Set("minted_count = minted_count - 1").
		Where("id = ?", campaignID).
		Where("minted_count > 0").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to release mint slot: %w", err)
	}
	return nil
}

// --- coupons ---

func (s *pgStore) CreateCoupon(ctx context.Context, c *coupon.Coupon) error {
	dao, err := toCouponDao(c)
	if err != nil {
		return fmt.Errorf("failed to encode coupon: %w", err)
	}

	_, err = s.db.NewInsert().
		Model(dao).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create coupon: %w", err)
	}
	return nil
}

func (s *pgStore) GetCoupon(ctx context.Context, ref ledger.NftRef) (*coupon.Coupon, error) {
	dao := new(CouponDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("collection_id = ?", string(ref.Collection)).
		Where("serial_number = ?", int64(ref.Serial)).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}
	return toCoupon(dao)
}

func (s *pgStore) ClaimNextAvailable(ctx context.Context, campaignID string, holder ledger.AccountID) (*coupon.Coupon, error) {
	// SKIP LOCKED lets concurrent claimants pick different serials instead of
	// queueing on the same row.
	dao := new(CouponDao)
	err := s.db.NewRaw(`
		UPDATE coupons SET holder_account_id = ?, claimed_at = NOW()
		WHERE (collection_id, serial_number) IN (
			SELECT collection_id, serial_number FROM coupons
			WHERE campaign_id = ? AND holder_account_id IS NULL AND status = 'active'
			ORDER BY serial_number
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`,
		string(holder), campaignID,
	).Scan(ctx, dao)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoUnclaimedCoupon
		}
		return nil, fmt.Errorf("failed to claim coupon: %w", err)
	}
	return toCoupon(dao)
}

func (s *pgStore) ReleaseClaim(ctx context.Context, ref ledger.NftRef) error {
	_, err := s.db.NewUpdate().
		Model((*CouponDao)(nil)).
		Set("holder_account_id = NULL").
		Set("claimed_at = NULL").
		Where("collection_id = ?", string(ref.Collection)).
		Where("serial_number = ?", int64(ref.Serial)).
		Where("status = ?", string(coupon.StatusActive)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}
	return nil
}

func (s *pgStore) CountClaims(ctx context.Context, campaignID string, holder ledger.AccountID) (int, error) {
	count, err := s.db.NewSelect().
		Model((*CouponDao)(nil)).
		Where("campaign_id = ?", campaignID).
		Where("holder_account_id = ?", string(holder)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count claims: %w", err)
	}
	return count, nil
}

func (s *pgStore) TransitionStatus(ctx context.Context, ref ledger.NftRef, from, to coupon.RedemptionStatus) error {
	q := s.db.NewUpdate().
		Model((*CouponDao)(nil)).
		Set("status = ?", string(to)).
		Where("collection_id = ?", string(ref.Collection)).
		Where("serial_number = ?", int64(ref.Serial)).
		Where("status = ?", string(from))
	if to == coupon.StatusRedeemed {
		q = q.Set("redeemed_at = NOW()")
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to transition coupon status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		if _, gerr := s.GetCoupon(ctx, ref); gerr != nil {
			return gerr
		}
		return ErrStatusConflict
	}
	return nil
}

func (s *pgStore) SetHolder(ctx context.Context, ref ledger.NftRef, holder ledger.AccountID) error {
	_, err := s.db.NewUpdate().
		Model((*CouponDao)(nil)).
		Set("holder_account_id = ?", string(holder)).
		Where("collection_id = ?", string(ref.Collection)).
		Where("serial_number = ?", int64(ref.Serial)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set coupon holder: %w", err)
	}
	return nil
}

func (s *pgStore) ListActiveByCampaign(ctx context.Context, campaignID string) ([]*coupon.Coupon, error) {
	var daos []CouponDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("campaign_id = ?", campaignID).
		Where("status = ?", string(coupon.StatusActive)).
		Order("serial_number").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaign coupons: %w", err)
	}
	return toCoupons(daos)
}

func (s *pgStore) ListActive(ctx context.Context) ([]*coupon.Coupon, error) {
	var daos []CouponDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("status = ?", string(coupon.StatusActive)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active coupons: %w", err)
	}
	return toCoupons(daos)
}

func toCoupons(daos []CouponDao) ([]*coupon.Coupon, error) {
	coupons := make([]*coupon.Coupon, len(daos))
	for i := range daos {
		c, err := toCoupon(&daos[i])
		if err != nil {
			return nil, err
		}
		coupons[i] = c
	}
	return coupons, nil
}

// --- discount codes ---

func (s *pgStore) CreateDiscountCode(ctx context.Context, code *coupon.DiscountCode) error {
	dao := &DiscountCodeDao{
		ID:           code.ID,
		CollectionID: string(code.CouponRef.Collection),
		SerialNumber: int64(code.CouponRef.Serial),
		Code:         code.Code,
		RedeemedAt:   code.RedeemedAt,
	}

	_, err := s.db.NewInsert().
		Model(dao).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateDiscountCode
		}
		return fmt.Errorf("failed to create discount code: %w", err)
	}
	return nil
}

func (s *pgStore) GetDiscountCodeByCoupon(ctx context.Context, ref ledger.NftRef) (*coupon.DiscountCode, error) {
	dao := new(DiscountCodeDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("collection_id = ?", string(ref.Collection)).
		Where("serial_number = ?", int64(ref.Serial)).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get discount code: %w", err)
	}
	return toDiscountCode(dao), nil
}
