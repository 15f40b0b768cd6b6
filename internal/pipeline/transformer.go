// Package pipeline turns broadcast requests arriving on Pub/Sub into dispatches.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// BroadcastRequestTransformer unmarshals a message payload into a
// push.BroadcastRequest. Malformed payloads are skipped so the streaming
// service can dead-letter them.
func BroadcastRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*push.BroadcastRequest, bool, error) {
	var req push.BroadcastRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal broadcast request from message %s: %w", msg.ID, err)
	}
	req.Type = push.TypeManual
	return &req, false, nil
}
