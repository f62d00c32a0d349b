package repository

import (
	"time"

	"github.com/kbridge/unity-send/internal/domain"
)

// SendMasterModel is the persistence model for the send_master table.
type SendMasterModel struct {
	UnitySendMasterID string                 `gorm:"type:uuid;primaryKey;column:unity_send_master_id"`
	SignguCode        string                 `gorm:"type:varchar(10);not null"`
	TemplateID        string                 `gorm:"type:varchar(36);not null"`
	TotalCount        int                    `gorm:"not null"`
	AggregateStatus   domain.AggregateStatus `gorm:"type:varchar(20);not null"`
	PlanJSON          string                 `gorm:"type:text;not null"`
	CreatedAt         time.Time
	ClosedAt          *time.Time
}

func (SendMasterModel) TableName() string {
	return "send_master"
}

// SendDetailModel is the persistence model for send_detail. Version backs
// the optimistic-concurrency update primitive.
type SendDetailModel struct {
	UnityDetailID     string              `gorm:"type:uuid;primaryKey;column:unity_detail_id"`
	UnitySendMasterID string              `gorm:"type:uuid;not null;column:unity_send_master_id"`
	RecipientName     string              `gorm:"type:varchar(100);not null"`
	RecipientCI       string              `gorm:"type:varchar(88);column:recipient_ci"`
	RecipientPhone    string              `gorm:"type:varchar(20)"`
	RecipientZip      string              `gorm:"type:varchar(10)"`
	RecipientAddress  string              `gorm:"type:varchar(255)"`
	ChannelPlanIndex  int                 `gorm:"not null;default:0"`
	AttemptCount      int                 `gorm:"not null;default:0"`
	Status            domain.DetailStatus `gorm:"type:varchar(30);not null"`
	LastErrorCode     *string             `gorm:"type:varchar(40)"`
	LastErrorMessage  *string             `gorm:"type:text"`
	NextWakeAt        *time.Time
	ExternalRef       *string `gorm:"type:varchar(100)"`
	Version           int64   `gorm:"not null;default:0"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (SendDetailModel) TableName() string {
	return "send_detail"
}

// DispatchAttemptModel is the persistence model for dispatch_attempts.
type DispatchAttemptModel struct {
	ID             string             `gorm:"type:uuid;primaryKey"`
	UnityDetailID  string             `gorm:"type:uuid;not null;column:unity_detail_id"`
	Channel        domain.ChannelCode `gorm:"type:varchar(10);not null"`
	AttemptNumber  int                `gorm:"not null"`
	ExternalRef    *string            `gorm:"type:varchar(100)"`
	OutcomeCode    *string            `gorm:"type:varchar(40)"`
	OutcomeMessage *string            `gorm:"type:text"`
	CreatedAt      time.Time
}

func (DispatchAttemptModel) TableName() string {
	return "dispatch_attempts"
}

// MessageTemplateModel is the persistence model for message_templates.
type MessageTemplateModel struct {
	TemplateID string `gorm:"type:varchar(36);primaryKey;column:template_id"`
	Name       string `gorm:"type:varchar(100);not null"`
	UseAt      string `gorm:"type:char(1);not null;default:'Y';column:use_at"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (MessageTemplateModel) TableName() string {
	return "message_templates"
}

// TemplateStepModel is one ordered fallback entry of a template.
type TemplateStepModel struct {
	ID                int64  `gorm:"primaryKey;autoIncrement"`
	TemplateID        string `gorm:"type:varchar(36);not null;index;column:template_id"`
	StepOrder         int    `gorm:"not null"`
	ChannelCode       string `gorm:"type:varchar(10);not null"`
	MaxAttempts       int    `gorm:"not null;default:1"`
	RetryDelayMinutes string `gorm:"type:varchar(100)"`
}

func (TemplateStepModel) TableName() string {
	return "template_steps"
}

func masterModelFromDomain(m *domain.SendMaster) *SendMasterModel {
	if m == nil {
		return nil
	}

	return &SendMasterModel{
		UnitySendMasterID: m.UnitySendMasterID,
		SignguCode:        m.SignguCode,
		TemplateID:        m.TemplateID,
		TotalCount:        m.TotalCount,
		AggregateStatus:   m.AggregateStatus,
		PlanJSON:          m.PlanJSON,
		CreatedAt:         m.CreatedAt,
		ClosedAt:          m.ClosedAt,
	}
}

func masterModelToDomain(m *SendMasterModel) *domain.SendMaster {
	if m == nil {
		return nil
	}

	return &domain.SendMaster{
		UnitySendMasterID: m.UnitySendMasterID,
		SignguCode:        m.SignguCode,
		TemplateID:        m.TemplateID,
		TotalCount:        m.TotalCount,
		AggregateStatus:   m.AggregateStatus,
		PlanJSON:          m.PlanJSON,
		CreatedAt:         m.CreatedAt,
		ClosedAt:          m.ClosedAt,
	}
}

func detailModelFromDomain(d *domain.SendDetail) *SendDetailModel {
	if d == nil {
		return nil
	}

	return &SendDetailModel{
		UnityDetailID:     d.UnityDetailID,
		UnitySendMasterID: d.UnitySendMasterID,
		RecipientName:     d.Recipient.Name,
		RecipientCI:       d.Recipient.CI,
		RecipientPhone:    d.Recipient.Phone,
		RecipientZip:      d.Recipient.ZipCode,
		RecipientAddress:  d.Recipient.Address,
		ChannelPlanIndex:  d.ChannelPlanIndex,
		AttemptCount:      d.AttemptCount,
		Status:            d.Status,
		LastErrorCode:     d.LastErrorCode,
		LastErrorMessage:  d.LastErrorMessage,
		NextWakeAt:        d.NextWakeAt,
		ExternalRef:       d.ExternalRef,
		Version:           d.Version,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

func detailModelToDomain(m *SendDetailModel) *domain.SendDetail {
	if m == nil {
		return nil
	}

	return &domain.SendDetail{
		UnityDetailID:     m.UnityDetailID,
		UnitySendMasterID: m.UnitySendMasterID,
		Recipient: domain.Recipient{
			Name:    m.RecipientName,
			CI:      m.RecipientCI,
			Phone:   m.RecipientPhone,
			ZipCode: m.RecipientZip,
			Address: m.RecipientAddress,
		},
		ChannelPlanIndex: m.ChannelPlanIndex,
		AttemptCount:     m.AttemptCount,
		Status:           m.Status,
		LastErrorCode:    m.LastErrorCode,
		LastErrorMessage: m.LastErrorMessage,
		NextWakeAt:       m.NextWakeAt,
		ExternalRef:      m.ExternalRef,
		Version:          m.Version,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.DispatchAttempt) *DispatchAttemptModel {
	if a == nil {
		return nil
	}

	return &DispatchAttemptModel{
		ID:             a.ID,
		UnityDetailID:  a.UnityDetailID,
		Channel:        a.Channel,
		AttemptNumber:  a.AttemptNumber,
		ExternalRef:    a.ExternalRef,
		OutcomeCode:    a.OutcomeCode,
		OutcomeMessage: a.OutcomeMessage,
		CreatedAt:      a.CreatedAt,
	}
}

func attemptModelToDomain(m *DispatchAttemptModel) *domain.DispatchAttempt {
	if m == nil {
		return nil
	}

	return &domain.DispatchAttempt{
		ID:             m.ID,
		UnityDetailID:  m.UnityDetailID,
		Channel:        m.Channel,
		AttemptNumber:  m.AttemptNumber,
		ExternalRef:    m.ExternalRef,
		OutcomeCode:    m.OutcomeCode,
		OutcomeMessage: m.OutcomeMessage,
		CreatedAt:      m.CreatedAt,
	}
}
