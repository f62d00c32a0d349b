package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kbridge/unity-send/internal/domain"
)

// SendService is the orchestrator surface exposed over HTTP.
type SendService interface {
	AcceptBatch(ctx context.Context, meta domain.MasterMeta, recipients []domain.Recipient) (*domain.SendMaster, error)
	AbortMaster(ctx context.Context, masterID string) error
	Abort(ctx context.Context, detailID string) error
}

// SendReader provides the read side for status queries.
type SendReader interface {
	GetMaster(ctx context.Context, masterID string) (*domain.SendMaster, error)
	ListDetailsByMaster(ctx context.Context, masterID string) ([]domain.SendDetail, error)
	CountDetailsByStatus(ctx context.Context, masterID string) (map[domain.DetailStatus]int, error)
}

type SendHandler struct {
	service SendService
	reader  SendReader
}

func NewSendHandler(service SendService, reader SendReader) (*SendHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("send service is required")
	}
	if reader == nil {
		return nil, fmt.Errorf("send reader is required")
	}
	return &SendHandler{service: service, reader: reader}, nil
}

func RegisterSendRoutes(router fiber.Router, service SendService, reader SendReader) error {
	h, err := NewSendHandler(service, reader)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/sends", h.CreateSend)
	v1.Get("/sends/:masterId", h.GetSend)
	v1.Get("/sends/:masterId/details", h.ListSendDetails)
	v1.Post("/sends/:masterId/abort", h.AbortSend)
	v1.Post("/sends/details/:detailId/abort", h.AbortDetail)

	return nil
}

type recipientRequest struct {
	Name    string `json:"name"`
	CI      string `json:"ci,omitempty"`
	Phone   string `json:"phone,omitempty"`
	ZipCode string `json:"zipCode,omitempty"`
	Address string `json:"address,omitempty"`
}

type createSendRequest struct {
	SignguCode string             `json:"signguCode"`
	TemplateID string             `json:"templateId"`
	Recipients []recipientRequest `json:"recipients"`
}

type createSendResponse struct {
	MasterID        string    `json:"masterId"`
	AggregateStatus string    `json:"aggregateStatus"`
	TotalCount      int       `json:"totalCount"`
	CreatedAt       time.Time `json:"createdAt"`
}

type sendStatusResponse struct {
	MasterID        string           `json:"masterId"`
	SignguCode      string           `json:"signguCode"`
	TemplateID      string           `json:"templateId"`
	AggregateStatus string           `json:"aggregateStatus"`
	TotalCount      int              `json:"totalCount"`
	Counts          []statusCountRow `json:"counts"`
	CreatedAt       time.Time        `json:"createdAt"`
	ClosedAt        *time.Time       `json:"closedAt,omitempty"`
}

type statusCountRow struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

type sendDetailResponse struct {
	DetailID         string     `json:"detailId"`
	RecipientName    string     `json:"recipientName"`
	Status           string     `json:"status"`
	ChannelPlanIndex int        `json:"channelPlanIndex"`
	AttemptCount     int        `json:"attemptCount"`
	LastErrorCode    *string    `json:"lastErrorCode,omitempty"`
	LastErrorMessage *string    `json:"lastErrorMessage,omitempty"`
	NextWakeAt       *time.Time `json:"nextWakeAt,omitempty"`
	ExternalRef      *string    `json:"externalRef,omitempty"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func (h *SendHandler) CreateSend(c *fiber.Ctx) error {
	var req createSendRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	meta := domain.MasterMeta{
		SignguCode: strings.TrimSpace(req.SignguCode),
		TemplateID: strings.TrimSpace(req.TemplateID),
	}

	recipients := make([]domain.Recipient, 0, len(req.Recipients))
	for _, item := range req.Recipients {
		recipients = append(recipients, domain.Recipient{
			Name:    strings.TrimSpace(item.Name),
			CI:      strings.TrimSpace(item.CI),
			Phone:   strings.TrimSpace(item.Phone),
			ZipCode: strings.TrimSpace(item.ZipCode),
			Address: strings.TrimSpace(item.Address),
		})
	}

	master, err := h.service.AcceptBatch(c.Context(), meta, recipients)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(createSendResponse{
		MasterID:        master.UnitySendMasterID,
		AggregateStatus: master.AggregateStatus.String(),
		TotalCount:      master.TotalCount,
		CreatedAt:       master.CreatedAt,
	})
}

func (h *SendHandler) GetSend(c *fiber.Ctx) error {
	masterID := strings.TrimSpace(c.Params("masterId"))

	master, err := h.reader.GetMaster(c.Context(), masterID)
	if err != nil {
		return toHTTPError(err)
	}

	counts, err := h.reader.CountDetailsByStatus(c.Context(), masterID)
	if err != nil {
		return toHTTPError(err)
	}

	rows := make([]statusCountRow, 0, len(counts))
	for _, status := range orderedStatuses {
		if count, ok := counts[status]; ok {
			rows = append(rows, statusCountRow{Status: status.String(), Count: count})
		}
	}

	return c.Status(fiber.StatusOK).JSON(sendStatusResponse{
		MasterID:        master.UnitySendMasterID,
		SignguCode:      master.SignguCode,
		TemplateID:      master.TemplateID,
		AggregateStatus: master.AggregateStatus.String(),
		TotalCount:      master.TotalCount,
		Counts:          rows,
		CreatedAt:       master.CreatedAt,
		ClosedAt:        master.ClosedAt,
	})
}

func (h *SendHandler) ListSendDetails(c *fiber.Ctx) error {
	masterID := strings.TrimSpace(c.Params("masterId"))

	if _, err := h.reader.GetMaster(c.Context(), masterID); err != nil {
		return toHTTPError(err)
	}

	details, err := h.reader.ListDetailsByMaster(c.Context(), masterID)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]sendDetailResponse, 0, len(details))
	for i := range details {
		responses = append(responses, toDetailResponse(&details[i]))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"masterId": masterID,
		"details":  responses,
	})
}

func (h *SendHandler) AbortSend(c *fiber.Ctx) error {
	masterID := strings.TrimSpace(c.Params("masterId"))
	if err := h.service.AbortMaster(c.Context(), masterID); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"masterId": masterID,
		"status":   "aborted",
	})
}

func (h *SendHandler) AbortDetail(c *fiber.Ctx) error {
	detailID := strings.TrimSpace(c.Params("detailId"))
	if err := h.service.Abort(c.Context(), detailID); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"detailId": detailID,
		"status":   "aborted",
	})
}

var orderedStatuses = []domain.DetailStatus{
	domain.StatusPendingDispatch,
	domain.StatusSending,
	domain.StatusAwaitingConfirm,
	domain.StatusFailRetryable,
	domain.StatusChannelExhausted,
	domain.StatusClosedSuccess,
	domain.StatusClosedFailed,
}

func toDetailResponse(d *domain.SendDetail) sendDetailResponse {
	return sendDetailResponse{
		DetailID:         d.UnityDetailID,
		RecipientName:    d.Recipient.Name,
		Status:           d.Status.String(),
		ChannelPlanIndex: d.ChannelPlanIndex,
		AttemptCount:     d.AttemptCount,
		LastErrorCode:    d.LastErrorCode,
		LastErrorMessage: d.LastErrorMessage,
		NextWakeAt:       d.NextWakeAt,
		ExternalRef:      d.ExternalRef,
		UpdatedAt:        d.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrConfig):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrClosed):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
