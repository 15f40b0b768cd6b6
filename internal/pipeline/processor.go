package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// Broadcaster runs one broadcast dispatch.
type Broadcaster interface {
	Dispatch(ctx context.Context, req push.BroadcastRequest) (*push.DispatchResult, error)
}

// NewProcessor hands each request to the broadcaster. An invalid request is
// acked and dropped; any other failure is returned so the message is redelivered.
func NewProcessor(
	broadcaster Broadcaster,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[push.BroadcastRequest] {

	return func(ctx context.Context, original messagepipeline.Message, request *push.BroadcastRequest) error {
		procLogger := logger.With(
			"pubsub_msg_id", original.ID,
			"recipients", len(request.UserIDs),
		)

		// Pipeline shutdown must not cut a started fan-out short.
		res, err := broadcaster.Dispatch(context.WithoutCancel(ctx), *request)
		if err != nil {
			if errors.Is(err, push.ErrInvalidRequest) {
				procLogger.Warn("Dropping invalid broadcast request", "err", err)
				return nil
			}
			procLogger.Error("Broadcast dispatch failed", "err", err)
			return err
		}

		procLogger.Info("Broadcast dispatched",
			"notif_id", res.NotificationID,
			"tokens", res.TokensSent,
			"invalid_users", len(res.InvalidTokensByUser))
		return nil
	}
}
