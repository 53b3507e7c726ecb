package coupondb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	"github.com/chainperks/coupon-middleware/pkg/couponstore"
	mghelper "github.com/chainperks/coupon-middleware/pkg/pgutil/migrations"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating discount_codes table...")
		if err := mghelper.CreateSchema(ctx, db, &couponstore.DiscountCodeDao{}); err != nil {
			return err
		}
		// One code per coupon, enforced by the database even under racing
		// redemptions.
		_, err := db.ExecContext(ctx,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_discount_codes_coupon
			 ON discount_codes (collection_id, serial_number)`)
		return err
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping discount_codes table...")
		return mghelper.DropTables(ctx, db, &couponstore.DiscountCodeDao{})
	})
}
