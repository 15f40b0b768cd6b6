// Package fcm sends single-token pushes through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

const (
	// DataKeyNotificationID carries the feed record id for tap-to-open.
	DataKeyNotificationID = "notifId"
	// DataKeyClickAction is the client-side open action.
	DataKeyClickAction = "click_action"
	ClickActionOpen    = "FLUTTER_NOTIFICATION_CLICK"

	defaultSound     = "default"
	defaultChannelID = "default"
	defaultWebIcon   = "/logo192.png"
)

var webVibratePattern = []int{100, 50, 100}

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

type Transport struct {
	client  MessagingClient
	webIcon string
	logger  *slog.Logger
}

type Option func(*Transport)

// WithWebIcon overrides the icon shown by browser notifications.
func WithWebIcon(icon string) Option {
	return func(t *Transport) {
		if icon != "" {
			t.webIcon = icon
		}
	}
}

func NewTransport(client MessagingClient, logger *slog.Logger, opts ...Option) *Transport {
	t := &Transport{
		client:  client,
		webIcon: defaultWebIcon,
		logger:  logger.With("component", "FCMTransport"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send performs exactly one FCM call for msg.Token. It never retries.
func (t *Transport) Send(ctx context.Context, msg push.Message) push.SendOutcome {
	if strings.TrimSpace(msg.Token) == "" {
		t.logger.Warn("Skipping invalid or empty token")
		return push.SendOutcome{Token: msg.Token, Success: false, ErrorCode: push.CodeInvalidToken}
	}

	fcmMsg := t.buildMessage(msg)
	t.logger.Debug("Sending FCM message", "token", msg.Token, "notif_id", msg.NotificationID)

	id, err := t.client.Send(ctx, fcmMsg)
	if err != nil {
		code := ClassifyError(err)
		t.logger.Warn("FCM send failed", "token", msg.Token, "code", code, "err", err)
		return push.SendOutcome{Token: msg.Token, Success: false, ErrorCode: code}
	}
	return push.SendOutcome{Token: msg.Token, Success: true, Response: id}
}

func (t *Transport) buildMessage(msg push.Message) *messaging.Message {
	c := msg.Content

	data := make(map[string]string, len(msg.Data)+2)
	for k, v := range msg.Data {
		data[k] = v
	}
	// Reserved keys win over caller-supplied ones.
	data[DataKeyNotificationID] = msg.NotificationID
	data[DataKeyClickAction] = ClickActionOpen

	return &messaging.Message{
		Token: msg.Token,
		Notification: &messaging.Notification{
			Title:    c.Title,
			Body:     c.Body,
			ImageURL: c.ImageURL,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Title:     c.Title,
				Body:      c.Body,
				ImageURL:  c.ImageURL,
				Sound:     defaultSound,
				ChannelID: defaultChannelID,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: c.Title,
						Body:  c.Body,
					},
					Sound:          defaultSound,
					MutableContent: true,
				},
			},
			FCMOptions: &messaging.APNSFCMOptions{
				ImageURL: c.ImageURL,
			},
		},
		Webpush: &messaging.WebpushConfig{
			Headers: map[string]string{"Urgency": "high"},
			Notification: &messaging.WebpushNotification{
				Title:   c.Title,
				Body:    c.Body,
				Icon:    t.webIcon,
				Image:   c.ImageURL,
				Vibrate: webVibratePattern,
				CustomData: map[string]interface{}{
					"sound": defaultSound,
				},
			},
		},
		Data: data,
	}
}

// ClassifyError maps an FCM send error onto a stable error code.
// Only push.CodeTokenNotRegistered should ever lead to token eviction; timeouts
// and cancellations are reported as generic failures.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return push.CodeDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return push.CodeCancelled
	case messaging.IsUnregistered(err):
		return push.CodeTokenNotRegistered
	case messaging.IsInvalidArgument(err):
		return push.CodeInvalidArgument
	case messaging.IsSenderIDMismatch(err):
		return push.CodeSenderIDMismatch
	case messaging.IsQuotaExceeded(err):
		return push.CodeQuotaExceeded
	case messaging.IsUnavailable(err):
		return push.CodeUnavailable
	case messaging.IsInternal(err):
		return push.CodeInternal
	case messaging.IsThirdPartyAuthError(err):
		return push.CodeThirdPartyAuth
	default:
		return push.CodeUnknown
	}
}
