// Package coupondb holds all the migrations for the coupon platform database
package coupondb

import (
	"github.com/uptrace/bun/migrate"
)

// Migrations is the collection of all migrations for the coupon database
var Migrations = migrate.NewMigrations()
