package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kbridge/unity-send/internal/domain"
	"gorm.io/gorm"
)

// SendRepository is the recipient batch store: master and detail records
// plus the optimistic-concurrency update primitive every detail mutation
// goes through.
type SendRepository interface {
	CreateMasterWithDetails(ctx context.Context, master *domain.SendMaster, details []*domain.SendDetail) error
	GetMaster(ctx context.Context, masterID string) (*domain.SendMaster, error)
	GetDetail(ctx context.Context, detailID string) (*domain.SendDetail, error)
	ListDetailsByMaster(ctx context.Context, masterID string) ([]domain.SendDetail, error)

	// ListPendingDispatch returns dispatchable details oldest first across
	// all masters, so no batch starves another.
	ListPendingDispatch(ctx context.Context, limit int) ([]domain.SendDetail, error)
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]domain.SendDetail, error)
	ListAwaitingConfirmation(ctx context.Context, limit int) ([]domain.SendDetail, error)
	FindDetailByExternalRef(ctx context.Context, externalRef string) (*domain.SendDetail, error)

	// UpdateDetailIfStatus applies a decision to a detail iff its status and
	// version still match. Returns false when another worker advanced the
	// row first; the caller discards its work.
	UpdateDetailIfStatus(ctx context.Context, detailID string, expectedStatus domain.DetailStatus, expectedVersion int64, dec domain.Decision) (bool, error)

	CountDetailsByStatus(ctx context.Context, masterID string) (map[domain.DetailStatus]int, error)

	// CloseMaster marks a master CLOSED, setting closed_at only the first
	// time. Returns false when the master was already closed.
	CloseMaster(ctx context.Context, masterID string, closedAt time.Time) (bool, error)

	// ListOpenMasters returns ids of masters still PROCESSING, oldest first.
	ListOpenMasters(ctx context.Context, limit int) ([]string, error)
}

type GormSendRepo struct {
	db *gorm.DB
}

func NewGormSendRepo(db *gorm.DB) *GormSendRepo {
	return &GormSendRepo{db: db}
}

func (r *GormSendRepo) CreateMasterWithDetails(ctx context.Context, master *domain.SendMaster, details []*domain.SendDetail) error {
	masterModel := masterModelFromDomain(master)

	detailModels := make([]SendDetailModel, 0, len(details))
	for _, d := range details {
		if model := detailModelFromDomain(d); model != nil {
			detailModels = append(detailModels, *model)
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(masterModel).Error; err != nil {
			return err
		}
		if len(detailModels) == 0 {
			return nil
		}
		return tx.CreateInBatches(&detailModels, 100).Error
	})
}

func (r *GormSendRepo) GetMaster(ctx context.Context, masterID string) (*domain.SendMaster, error) {
	var model SendMasterModel
	err := r.db.WithContext(ctx).First(&model, "unity_send_master_id = ?", masterID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return masterModelToDomain(&model), nil
}

func (r *GormSendRepo) GetDetail(ctx context.Context, detailID string) (*domain.SendDetail, error) {
	var model SendDetailModel
	err := r.db.WithContext(ctx).First(&model, "unity_detail_id = ?", detailID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return detailModelToDomain(&model), nil
}

func (r *GormSendRepo) ListDetailsByMaster(ctx context.Context, masterID string) ([]domain.SendDetail, error) {
	var models []SendDetailModel
	err := r.db.WithContext(ctx).
		Where("unity_send_master_id = ?", masterID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return detailsToDomain(models), nil
}

func (r *GormSendRepo) ListPendingDispatch(ctx context.Context, limit int) ([]domain.SendDetail, error) {
	var models []SendDetailModel
	err := r.db.WithContext(ctx).
		Where("status IN ?", []domain.DetailStatus{domain.StatusPendingDispatch, domain.StatusChannelExhausted}).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return detailsToDomain(models), nil
}

func (r *GormSendRepo) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]domain.SendDetail, error) {
	var models []SendDetailModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_wake_at <= ?", domain.StatusFailRetryable, now).
		Order("next_wake_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return detailsToDomain(models), nil
}

func (r *GormSendRepo) ListAwaitingConfirmation(ctx context.Context, limit int) ([]domain.SendDetail, error) {
	var models []SendDetailModel
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.StatusAwaitingConfirm).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return detailsToDomain(models), nil
}

func (r *GormSendRepo) FindDetailByExternalRef(ctx context.Context, externalRef string) (*domain.SendDetail, error) {
	var model SendDetailModel
	err := r.db.WithContext(ctx).
		Where("external_ref = ?", externalRef).
		Order("updated_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return detailModelToDomain(&model), nil
}

func (r *GormSendRepo) UpdateDetailIfStatus(
	ctx context.Context,
	detailID string,
	expectedStatus domain.DetailStatus,
	expectedVersion int64,
	dec domain.Decision,
) (bool, error) {
	if !dec.Applied {
		return false, nil
	}

	result := r.db.WithContext(ctx).
		Model(&SendDetailModel{}).
		Where("unity_detail_id = ? AND status = ? AND version = ?", detailID, expectedStatus, expectedVersion).
		Updates(map[string]any{
			"status":             dec.Status,
			"channel_plan_index": dec.ChannelPlanIndex,
			"attempt_count":      dec.AttemptCount,
			"next_wake_at":       dec.NextWakeAt,
			"external_ref":       dec.ExternalRef,
			"last_error_code":    dec.ErrorCode,
			"last_error_message": dec.ErrorMessage,
			"version":            expectedVersion + 1,
		})
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

func (r *GormSendRepo) CountDetailsByStatus(ctx context.Context, masterID string) (map[domain.DetailStatus]int, error) {
	type statusCount struct {
		Status domain.DetailStatus `gorm:"column:status"`
		Count  int                 `gorm:"column:count"`
	}

	var rows []statusCount
	err := r.db.WithContext(ctx).
		Model(&SendDetailModel{}).
		Select("status, COUNT(*) as count").
		Where("unity_send_master_id = ?", masterID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.DetailStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *GormSendRepo) CloseMaster(ctx context.Context, masterID string, closedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&SendMasterModel{}).
		Where("unity_send_master_id = ? AND aggregate_status = ?", masterID, domain.AggregateProcessing).
		Updates(map[string]any{
			"aggregate_status": domain.AggregateClosed,
			"closed_at":        closedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormSendRepo) ListOpenMasters(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&SendMasterModel{}).
		Where("aggregate_status = ?", domain.AggregateProcessing).
		Order("created_at ASC").
		Limit(limit).
		Pluck("unity_send_master_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func detailsToDomain(models []SendDetailModel) []domain.SendDetail {
	details := make([]domain.SendDetail, 0, len(models))
	for i := range models {
		details = append(details, *detailModelToDomain(&models[i]))
	}
	return details
}
