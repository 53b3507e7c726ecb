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
		log.Println("creating campaigns table...")
		if err := mghelper.CreateSchema(ctx, db, &couponstore.CampaignDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &couponstore.CampaignDao{}, "merchant_id", "ends_at")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping campaigns table...")
		return mghelper.DropTables(ctx, db, &couponstore.CampaignDao{})
	})
}
