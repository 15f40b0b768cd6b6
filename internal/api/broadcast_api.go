package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// Broadcaster runs one broadcast dispatch. The dispatch engine satisfies it.
type Broadcaster interface {
	Dispatch(ctx context.Context, req push.BroadcastRequest) (*push.DispatchResult, error)
}

// BroadcastAPI serves the admin send-notification endpoint.
type BroadcastAPI struct {
	broadcaster Broadcaster
	logger      *slog.Logger
}

func NewBroadcastAPI(broadcaster Broadcaster, logger *slog.Logger) *BroadcastAPI {
	return &BroadcastAPI{
		broadcaster: broadcaster,
		logger:      logger.With("component", "BroadcastAPI"),
	}
}

type broadcastResponse struct {
	Success       bool                `json:"success"`
	TokensSent    int                 `json:"tokensSent"`
	InvalidTokens map[string][]string `json:"invalidTokens"`
	Results       []push.SendOutcome  `json:"results"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

const missingFieldsMsg = "Missing userIds, title, or body"

// SendNotification handles POST /api/admin/send-notification.
func (api *BroadcastAPI) SendNotification(w http.ResponseWriter, r *http.Request) {
	var req push.BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: missingFieldsMsg})
		return
	}
	req.Type = push.TypeManual

	// The fan-out outlives the caller: once the feed record exists every
	// token must be attempted and evictions applied.
	res, err := api.broadcaster.Dispatch(context.WithoutCancel(r.Context()), req)
	if err != nil {
		if errors.Is(err, push.ErrInvalidRequest) {
			response.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: missingFieldsMsg})
			return
		}
		api.logger.Error("Broadcast failed", "err", err)
		response.WriteJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "Failed to send notification",
			Details: err.Error(),
		})
		return
	}

	invalid := res.InvalidTokensByUser
	if invalid == nil {
		invalid = map[string][]string{}
	}
	results := res.Results
	if results == nil {
		results = []push.SendOutcome{}
	}
	api.logger.Info("Broadcast sent", "notif_id", res.NotificationID, "tokens", res.TokensSent)
	response.WriteJSON(w, http.StatusOK, broadcastResponse{
		Success:       true,
		TokensSent:    res.TokensSent,
		InvalidTokens: invalid,
		Results:       results,
	})
}
