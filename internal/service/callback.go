package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/kbridge/unity-send/internal/domain"
	"github.com/kbridge/unity-send/internal/queue"
)

// CallbackMessageHandler adapts the orchestrator's callback path to the queue
// consumer. A DLR whose external ref nobody owns is benign (the provider may
// report on sends we never made, or on rows already purged): it is logged and
// acked, never requeued. Every other error propagates so the consumer can
// requeue the delivery.
func CallbackMessageHandler(orch *Orchestrator, logger *zap.Logger) queue.MessageHandler {
	return func(ctx context.Context, msg queue.CallbackMessage) error {
		err := orch.RunCallback(ctx, msg.ExternalRef, msg.OK, msg.ErrorCode, msg.ErrorMessage)
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("dropping delivery report for unknown external ref",
				zap.String("externalRef", msg.ExternalRef),
				zap.String("provider", msg.Provider),
			)
			return nil
		}
		return err
	}
}
