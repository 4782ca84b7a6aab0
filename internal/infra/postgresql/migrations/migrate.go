package migrations

import (
	"context"
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// All lists the status store migrations in apply order.
func All() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		createNotificationStatusesTable(),
		createNotificationAttemptsTable(),
	}
}

// Migrate applies pending migrations. Status rows may already exist from producers, so the
// tables are only created or extended, never rewritten.
func Migrate(ctx context.Context, db *gorm.DB) error {
	opts := *gormigrate.DefaultOptions
	opts.TableName = "notify_relay_migrations"
	opts.UseTransaction = true

	m := gormigrate.New(db.WithContext(ctx), &opts, All())
	if err := m.Migrate(); err != nil {
		return fmt.Errorf("apply status store migrations: %w", err)
	}
	return nil
}
