package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// TokenAPI lets an authenticated user manage their own device tokens.
type TokenAPI struct {
	Store  push.TokenStore
	Logger *slog.Logger
}

func NewTokenAPI(store push.TokenStore, logger *slog.Logger) *TokenAPI {
	return &TokenAPI{
		Store:  store,
		Logger: logger.With("component", "TokenAPI"),
	}
}

type RegisterFCMRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform,omitempty"`
}

type UnregisterFCMRequest struct {
	Token string `json:"token"`
}

func (api *TokenAPI) RegisterFCM(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok || userID == "" {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RegisterFCMRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	token := push.DeviceToken{Token: req.Token, Platform: push.ParsePlatform(req.Platform)}
	if err := api.Store.RegisterToken(ctx, userID, token); err != nil {
		if errors.Is(err, push.ErrInvalidRequest) {
			response.WriteJSONError(w, http.StatusBadRequest, "invalid token")
			return
		}
		api.Logger.Error("Failed to register fcm token", "uid", userID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("FCM token registered", "uid", userID, "platform", token.Platform)

	w.WriteHeader(http.StatusNoContent)
}

// UnregisterFCM is idempotent: a storage failure is logged and still answers 204.
func (api *TokenAPI) UnregisterFCM(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok || userID == "" {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req UnregisterFCMRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	if err := api.Store.UnregisterToken(ctx, userID, req.Token); err != nil {
		api.Logger.Warn("Failed to unregister fcm token", "uid", userID, "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}
