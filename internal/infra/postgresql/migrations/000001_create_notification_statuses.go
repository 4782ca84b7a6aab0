package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notify-relay/internal/repository"
	"gorm.io/gorm"
)

func createNotificationStatusesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_notification_statuses",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DeliveryStatusModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_notification_statuses_notification_id ON notification_statuses (notification_id)`,
				`CREATE INDEX IF NOT EXISTS idx_notification_statuses_status_kind ON notification_statuses (status, kind)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeliveryStatusModel{})
		},
	}
}
