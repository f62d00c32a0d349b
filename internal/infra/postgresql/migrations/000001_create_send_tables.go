package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kbridge/unity-send/internal/repository"
	"gorm.io/gorm"
)

func createSendTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_send_tables",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SendMasterModel{}, &repository.SendDetailModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_send_detail_master_id ON send_detail (unity_send_master_id)`,
				`CREATE INDEX IF NOT EXISTS idx_send_detail_status_created ON send_detail (status, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_send_detail_wake ON send_detail (next_wake_at) WHERE status = 'SEND_FAIL_RETRYABLE'`,
				`CREATE INDEX IF NOT EXISTS idx_send_detail_external_ref ON send_detail (external_ref) WHERE external_ref IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_send_master_status ON send_master (aggregate_status, created_at)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.SendDetailModel{},
				&repository.SendMasterModel{},
			)
		},
	}
}
