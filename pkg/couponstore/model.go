package couponstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/chainperks/coupon-middleware/pkg/campaign"
	"github.com/chainperks/coupon-middleware/pkg/coupon"
	"github.com/chainperks/coupon-middleware/pkg/ledger"
	"github.com/chainperks/coupon-middleware/pkg/merchant"
)

// MerchantDao maps to the 'merchants' table in PostgreSQL.
type MerchantDao struct {
	bun.BaseModel       `bun:"table:merchants,alias:m"`
	ID                  string    `bun:"id,pk,type:varchar(36)"`
	Name                string    `bun:"name,notnull,type:varchar(255)"`
	ContactEmail        string    `bun:"contact_email,type:varchar(255)"`
	LedgerAccountID     string    `bun:"ledger_account_id,type:varchar(64)"`
	CustodyMode         string    `bun:"custody_mode,notnull,type:varchar(32)"`
	PublicKey           []byte    `bun:"public_key,type:bytea"`
	CollectionID        *string   `bun:"collection_id,type:varchar(64)"`
	OnboardingStatus    string    `bun:"onboarding_status,notnull,type:varchar(32)"`
	EncryptedPrivateKey *string   `bun:"encrypted_private_key,type:text"`
	CreatedAt           time.Time `bun:"created_at,nullzero,default:current_timestamp"`
}

func toMerchantDao(m *merchant.Merchant) *MerchantDao {
	dao := &MerchantDao{
		ID:               m.ID,
		Name:             m.Name,
		ContactEmail:     m.ContactEmail,
		LedgerAccountID:  string(m.LedgerAccountID),
		CustodyMode:      string(m.CustodyMode),
		PublicKey:        m.PublicKey,
		OnboardingStatus: string(m.OnboardingStatus),
	}
	if m.CollectionID != "" {
		id := string(m.CollectionID)
		dao.CollectionID = &id
	}
	if m.EncryptedPrivateKey != "" {
		dao.EncryptedPrivateKey = &m.EncryptedPrivateKey
	}
	return dao
}

func toMerchant(dao *MerchantDao) *merchant.Merchant {
	m := &merchant.Merchant{
		ID:               dao.ID,
		Name:             dao.Name,
		ContactEmail:     dao.ContactEmail,
		LedgerAccountID:  ledger.AccountID(dao.LedgerAccountID),
		CustodyMode:      merchant.CustodyMode(dao.CustodyMode),
		PublicKey:        dao.PublicKey,
		OnboardingStatus: merchant.OnboardingStatus(dao.OnboardingStatus),
		CreatedAt:        dao.CreatedAt,
	}
	if dao.CollectionID != nil {
		m.CollectionID = ledger.CollectionID(*dao.CollectionID)
	}
	if dao.EncryptedPrivateKey != nil {
		m.EncryptedPrivateKey = *dao.EncryptedPrivateKey
	}
	return m
}

// CampaignDao maps to the 'campaigns' table in PostgreSQL.
type CampaignDao struct {
	bun.BaseModel         `bun:"table:campaigns,alias:c"`
	ID                    string    `bun:"id,pk,type:varchar(36)"`
	MerchantID            string    `bun:"merchant_id,notnull,type:varchar(36)"`
	Name                  string    `bun:"name,notnull,type:varchar(255)"`
	Description           string    `bun:"description,type:text"`
	CampaignType          string    `bun:"campaign_type,notnull,type:varchar(32)"`
	DiscountType          string    `bun:"discount_type,notnull,type:varchar(32)"`
	DiscountValue         string    `bun:"discount_value,notnull,type:numeric(12,4)"`
	StartsAt              time.Time `bun:"starts_at,notnull"`
	EndsAt                time.Time `bun:"ends_at,notnull"`
	MaxRedemptionsPerUser int       `bun:"max_redemptions_per_user,notnull"`
	TotalLimit            *int      `bun:"total_limit"`
	MintedCount           int       `bun:"minted_count,notnull,default:0"`
	IsDiscoverable        bool      `bun:"is_discoverable,notnull,default:false"`
	IsActive              bool      `bun:"is_active,notnull,default:true"`
	CreatedAt             time.Time `bun:"created_at,nullzero,default:current_timestamp"`
}

func toCampaignDao(c *campaign.Campaign) *CampaignDao {
	return &CampaignDao{
		ID:                    c.ID,
		MerchantID:            c.MerchantID,
		Name:                  c.Name,
		Description:           c.Description,
		CampaignType:          string(c.CampaignType),
		DiscountType:          string(c.Discount.Type),
		DiscountValue:         c.Discount.Value.String(),
		StartsAt:              c.StartsAt,
		EndsAt:                c.EndsAt,
		MaxRedemptionsPerUser: c.MaxRedemptionsPerUser,
		TotalLimit:            c.TotalLimit,
		MintedCount:           c.MintedCount,
		IsDiscoverable:        c.IsDiscoverable,
		IsActive:              c.IsActive,
	}
}

func toCampaign(dao *CampaignDao) (*campaign.Campaign, error) {
	value, err := decimalFromString(dao.DiscountValue)
	if err != nil {
		return nil, err
	}
	return &campaign.Campaign{
		ID:           dao.ID,
		MerchantID:   dao.MerchantID,
		Name:         dao.Name,
		Description:  dao.Description,
		CampaignType: campaign.Type(dao.CampaignType),
		Discount: campaign.DiscountSpec{
			Type:  campaign.DiscountType(dao.DiscountType),
			Value: value,
		},
		StartsAt:              dao.StartsAt,
		EndsAt:                dao.EndsAt,
		MaxRedemptionsPerUser: dao.MaxRedemptionsPerUser,
		TotalLimit:            dao.TotalLimit,
		MintedCount:           dao.MintedCount,
		IsDiscoverable:        dao.IsDiscoverable,
		IsActive:              dao.IsActive,
		CreatedAt:             dao.CreatedAt,
	}, nil
}

// CouponDao maps to the 'coupons' table in PostgreSQL. A coupon is uniquely
// identified by (collection_id, serial_number).
type CouponDao struct {
	bun.BaseModel   `bun:"table:coupons,alias:cp"`
	CollectionID    string     `bun:"collection_id,pk,type:varchar(64)"`
	SerialNumber    int64      `bun:"serial_number,pk"`
	CampaignID      string     `bun:"campaign_id,notnull,type:varchar(36)"`
	Metadata        []byte     `bun:"metadata,type:jsonb"`
	HolderAccountID *string    `bun:"holder_account_id,type:varchar(64)"`
	Status          string     `bun:"status,notnull,type:varchar(16)"`
	ClaimedAt       *time.Time `bun:"claimed_at"`
	RedeemedAt      *time.Time `bun:"redeemed_at"`
	CreatedAt       time.Time  `bun:"created_at,nullzero,default:current_timestamp"`
}

func toCouponDao(c *coupon.Coupon) (*CouponDao, error) {
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return nil, err
	}
	dao := &CouponDao{
		CollectionID: string(c.Ref.Collection),
		SerialNumber: int64(c.Ref.Serial),
		CampaignID:   c.CampaignID,
		Metadata:     metadata,
		Status:       string(c.Status),
		ClaimedAt:    c.ClaimedAt,
		RedeemedAt:   c.RedeemedAt,
	}
	if c.HolderAccountID != "" {
		holder := string(c.HolderAccountID)
		dao.HolderAccountID = &holder
	}
	return dao, nil
}

func toCoupon(dao *CouponDao) (*coupon.Coupon, error) {
	c := &coupon.Coupon{
		Ref: ledger.NftRef{
			Collection: ledger.CollectionID(dao.CollectionID),
			Serial:     ledger.SerialNumber(dao.SerialNumber),
		},
		CampaignID: dao.CampaignID,
		Status:     coupon.RedemptionStatus(dao.Status),
		ClaimedAt:  dao.ClaimedAt,
		RedeemedAt: dao.RedeemedAt,
		CreatedAt:  dao.CreatedAt,
	}
	if len(dao.Metadata) > 0 {
		if err := json.Unmarshal(dao.Metadata, &c.Metadata); err != nil {
			return nil, err
		}
	}
	if dao.HolderAccountID != nil {
		c.HolderAccountID = ledger.AccountID(*dao.HolderAccountID)
	}
	return c, nil
}

// DiscountCodeDao maps to the 'discount_codes' table in PostgreSQL. The unique
// index on (collection_id, serial_number) is what guarantees at most one code
// per coupon even under racing redemptions.
type DiscountCodeDao struct {
	bun.BaseModel `bun:"table:discount_codes,alias:dc"`
	ID            string    `bun:"id,pk,type:varchar(36)"`
	CollectionID  string    `bun:"collection_id,notnull,type:varchar(64)"`
	SerialNumber  int64     `bun:"serial_number,notnull"`
	Code          string    `bun:"code,notnull,type:varchar(64)"`
	RedeemedAt    time.Time `bun:"redeemed_at,notnull"`
}

func decimalFromString(s string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse discount value %q: %w", s, err)
	}
	return value, nil
}

func toDiscountCode(dao *DiscountCodeDao) *coupon.DiscountCode {
	return &coupon.DiscountCode{
		ID: dao.ID,
		CouponRef: ledger.NftRef{
			Collection: ledger.CollectionID(dao.CollectionID),
			Serial:     ledger.SerialNumber(dao.SerialNumber),
		},
		Code:       dao.Code,
		RedeemedAt: dao.RedeemedAt,
	}
}
