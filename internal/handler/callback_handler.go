package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kbridge/unity-send/internal/domain"
	"github.com/kbridge/unity-send/internal/queue"
)

// CallbackPublisher enqueues delivery reports for asynchronous processing.
type CallbackPublisher interface {
	Publish(ctx context.Context, queueName string, msg queue.CallbackMessage) error
}

// CallbackRunner applies a delivery report synchronously. Used when the
// handler is wired without a queue.
type CallbackRunner interface {
	RunCallback(ctx context.Context, externalRef string, ok bool, errorCode, errorMessage string) error
}

type CallbackHandler struct {
	publisher CallbackPublisher
	runner    CallbackRunner
}

// NewCallbackHandler accepts either a publisher or a runner. With both set
// the publisher wins; delivery reports then flow through the queue consumer.
func NewCallbackHandler(publisher CallbackPublisher, runner CallbackRunner) (*CallbackHandler, error) {
	if publisher == nil && runner == nil {
		return nil, fmt.Errorf("callback publisher or runner is required")
	}
	return &CallbackHandler{publisher: publisher, runner: runner}, nil
}

func RegisterCallbackRoutes(router fiber.Router, publisher CallbackPublisher, runner CallbackRunner) error {
	h, err := NewCallbackHandler(publisher, runner)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/callbacks/:provider", h.ReceiveCallback)

	return nil
}

type callbackRequest struct {
	ExternalRef  string `json:"externalRef"`
	OK           bool   `json:"ok"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

func (h *CallbackHandler) ReceiveCallback(c *fiber.Ctx) error {
	provider := strings.TrimSpace(c.Params("provider"))
	if provider == "" {
		return fiber.NewError(fiber.StatusBadRequest, "provider is required")
	}

	var req callbackRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.ExternalRef) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "externalRef is required")
	}

	if h.publisher != nil {
		msg := queue.CallbackMessage{
			ExternalRef:  strings.TrimSpace(req.ExternalRef),
			Provider:     provider,
			OK:           req.OK,
			ErrorCode:    strings.TrimSpace(req.ErrorCode),
			ErrorMessage: req.ErrorMessage,
		}
		if err := h.publisher.Publish(c.Context(), queue.CallbackQueueName, msg); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusAccepted)
	}

	err := h.runner.RunCallback(c.Context(), strings.TrimSpace(req.ExternalRef), req.OK, strings.TrimSpace(req.ErrorCode), req.ErrorMessage)
	if err != nil {
		// A ref we have never issued is likely a late report for a purged
		// row; acknowledge so the provider stops retrying.
		if errors.Is(err, domain.ErrNotFound) {
			return c.SendStatus(fiber.StatusAccepted)
		}
		return toHTTPError(err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}
