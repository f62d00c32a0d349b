package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kbridge/unity-send/internal/repository"
	"gorm.io/gorm"
)

func createMessageTemplatesTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_message_templates",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.MessageTemplateModel{}, &repository.TemplateStepModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_template_steps_order ON template_steps (template_id, step_order)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.TemplateStepModel{},
				&repository.MessageTemplateModel{},
			)
		},
	}
}
