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
		log.Println("creating merchants table...")
		if err := mghelper.CreateSchema(ctx, db, &couponstore.MerchantDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &couponstore.MerchantDao{}, "ledger_account_id")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping merchants table...")
		return mghelper.DropTables(ctx, db, &couponstore.MerchantDao{})
	})
}
