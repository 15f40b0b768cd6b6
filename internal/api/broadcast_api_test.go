package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-service/internal/api"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) Dispatch(ctx context.Context, req push.BroadcastRequest) (*push.DispatchResult, error) {
	args := m.Called(ctx, req)
	var res *push.DispatchResult
	if v := args.Get(0); v != nil {
		res = v.(*push.DispatchResult)
	}
	return res, args.Error(1)
}

func TestSendNotification(t *testing.T) {
	const path = "/api/admin/send-notification"

	t.Run("Success", func(t *testing.T) {
		b := new(MockBroadcaster)
		handler := api.NewBroadcastAPI(b, newTestLogger())

		expectedReq := push.BroadcastRequest{
			UserIDs:  []string{"u1", "u2"},
			Title:    "Hi",
			Body:     "There",
			ImageURL: "https://img/x.png",
			Type:     push.TypeManual,
		}
		b.On("Dispatch", mock.Anything, expectedReq).Return(&push.DispatchResult{
			NotificationID:      "n-1",
			TokensSent:          3,
			InvalidTokensByUser: map[string][]string{"u1": {"t2"}, "u2": {"t2"}},
			Results: []push.SendOutcome{
				{Token: "t1", Success: true},
				{Token: "t2", ErrorCode: push.CodeTokenNotRegistered},
				{Token: "t3", Success: true},
			},
		}, nil)

		body := jsonBody(t, map[string]interface{}{
			"userIds":  []string{"u1", "u2"},
			"title":    "Hi",
			"body":     "There",
			"imageUrl": "https://img/x.png",
		})
		w := httptest.NewRecorder()
		handler.SendNotification(w, httptest.NewRequest(http.MethodPost, path, body))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

		var got map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, true, got["success"])
		assert.Equal(t, float64(3), got["tokensSent"])
		assert.Equal(t, map[string]interface{}{
			"u1": []interface{}{"t2"},
			"u2": []interface{}{"t2"},
		}, got["invalidTokens"])
		assert.Len(t, got["results"], 3)
		b.AssertExpectations(t)
	})

	t.Run("Empty result renders empty collections", func(t *testing.T) {
		b := new(MockBroadcaster)
		handler := api.NewBroadcastAPI(b, newTestLogger())
		b.On("Dispatch", mock.Anything, mock.Anything).Return(&push.DispatchResult{NotificationID: "n-2"}, nil)

		body := jsonBody(t, map[string]interface{}{"userIds": []string{"u1"}, "title": "a", "body": "b"})
		w := httptest.NewRecorder()
		handler.SendNotification(w, httptest.NewRequest(http.MethodPost, path, body))

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"success":true,"tokensSent":0,"invalidTokens":{},"results":[]}`, w.Body.String())
	})

	t.Run("Invalid request is 400", func(t *testing.T) {
		b := new(MockBroadcaster)
		handler := api.NewBroadcastAPI(b, newTestLogger())
		b.On("Dispatch", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("%w: userIds must not be empty", push.ErrInvalidRequest))

		body := jsonBody(t, map[string]interface{}{"userIds": []string{}, "title": "a", "body": "b"})
		w := httptest.NewRecorder()
		handler.SendNotification(w, httptest.NewRequest(http.MethodPost, path, body))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"Missing userIds, title, or body"}`, w.Body.String())
	})

	t.Run("Malformed JSON is 400 without dispatch", func(t *testing.T) {
		b := new(MockBroadcaster)
		handler := api.NewBroadcastAPI(b, newTestLogger())

		w := httptest.NewRecorder()
		handler.SendNotification(w, httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(`{"userIds":`))))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		b.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
	})

	t.Run("Internal failure is 500 with details", func(t *testing.T) {
		b := new(MockBroadcaster)
		handler := api.NewBroadcastAPI(b, newTestLogger())
		b.On("Dispatch", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("%w: %v", push.ErrRecordCreation, errors.New("firestore down")))

		body := jsonBody(t, map[string]interface{}{"userIds": []string{"u1"}, "title": "a", "body": "b"})
		w := httptest.NewRecorder()
		handler.SendNotification(w, httptest.NewRequest(http.MethodPost, path, body))

		require.Equal(t, http.StatusInternalServerError, w.Code)
		var got map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, "Failed to send notification", got["error"])
		assert.Contains(t, got["details"], "firestore down")
	})
	t.Run("Client disconnect does not cancel the dispatch", func(t *testing.T) {
		b := new(MockBroadcaster)
		handler := api.NewBroadcastAPI(b, newTestLogger())

		reqCtx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var dispatchErr error
		b.On("Dispatch", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				ctx := args.Get(0).(context.Context)
				// Caller goes away mid fan-out.
				cancel()
				dispatchErr = ctx.Err()
			}).
			Return(&push.DispatchResult{NotificationID: "n-1", TokensSent: 1}, nil)

		body := jsonBody(t, map[string]interface{}{"userIds": []string{"u1"}, "title": "a", "body": "b"})
		req := httptest.NewRequest(http.MethodPost, path, body).WithContext(reqCtx)
		w := httptest.NewRecorder()
		handler.SendNotification(w, req)

		require.Error(t, reqCtx.Err())
		assert.NoError(t, dispatchErr)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
