package repository

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/kbridge/unity-send/internal/domain"
	"gorm.io/gorm"
)

// TemplateRecord is a template row joined with its ordered channel steps.
type TemplateRecord struct {
	TemplateID string
	Name       string
	UseAt      string
	Steps      []TemplateStepRecord
}

type TemplateStepRecord struct {
	StepOrder         int
	ChannelCode       string
	MaxAttempts       int
	RetryDelayMinutes []int
}

type TemplateRepository interface {
	GetByID(ctx context.Context, templateID string) (*TemplateRecord, error)
}

type GormTemplateRepo struct {
	db *gorm.DB
}

func NewGormTemplateRepo(db *gorm.DB) *GormTemplateRepo {
	return &GormTemplateRepo{db: db}
}

func (r *GormTemplateRepo) GetByID(ctx context.Context, templateID string) (*TemplateRecord, error) {
	var model MessageTemplateModel
	err := r.db.WithContext(ctx).First(&model, "template_id = ?", templateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var stepModels []TemplateStepModel
	err = r.db.WithContext(ctx).
		Where("template_id = ?", templateID).
		Order("step_order ASC").
		Find(&stepModels).Error
	if err != nil {
		return nil, err
	}

	record := &TemplateRecord{
		TemplateID: model.TemplateID,
		Name:       model.Name,
		UseAt:      model.UseAt,
		Steps:      make([]TemplateStepRecord, 0, len(stepModels)),
	}
	for _, step := range stepModels {
		record.Steps = append(record.Steps, TemplateStepRecord{
			StepOrder:         step.StepOrder,
			ChannelCode:       step.ChannelCode,
			MaxAttempts:       step.MaxAttempts,
			RetryDelayMinutes: parseDelayMinutes(step.RetryDelayMinutes),
		})
	}

	return record, nil
}

// parseDelayMinutes reads the comma-separated delay column, e.g. "5,15".
// Malformed entries are dropped rather than failing the whole template.
func parseDelayMinutes(raw string) []int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	delays := make([]int, 0, len(parts))
	for _, part := range parts {
		value, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || value < 0 {
			continue
		}
		delays = append(delays, value)
	}
	return delays
}
