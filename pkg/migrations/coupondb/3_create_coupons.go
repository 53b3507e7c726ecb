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
		log.Println("creating coupons table...")
		if err := mghelper.CreateSchema(ctx, db, &couponstore.CouponDao{}); err != nil {
			return err
		}
		// Claims filter on campaign + holder; the burn sweep filters on status.
		return mghelper.CreateModelIndexes(ctx, db, &couponstore.CouponDao{},
			"campaign_id", "holder_account_id", "status")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping coupons table...")
		return mghelper.DropTables(ctx, db, &couponstore.CouponDao{})
	})
}
