package firestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

type deliveryDoc struct {
	UID       string     `firestore:"uid"`
	Seen      bool       `firestore:"seen"`
	Clicked   bool       `firestore:"clicked"`
	SeenAt    *time.Time `firestore:"seenAt"`
	ClickedAt *time.Time `firestore:"clickedAt"`
}

type notificationDoc struct {
	Title     string        `firestore:"title"`
	Body      string        `firestore:"body"`
	ImageURL  *string       `firestore:"imageUrl"`
	Type      string        `firestore:"type"`
	Delivery  []deliveryDoc `firestore:"delivery"`
	CreatedAt time.Time     `firestore:"createdAt"`
	SourceID  string        `firestore:"sourceId,omitempty"`
}

type resultDoc struct {
	Token     string `firestore:"token"`
	Success   bool   `firestore:"success"`
	ErrorCode string `firestore:"errorCode,omitempty"`
	Response  string `firestore:"response,omitempty"`
}

type auditDoc struct {
	ScheduledID string      `firestore:"scheduledId"`
	Title       string      `firestore:"title"`
	Body        string      `firestore:"body"`
	ImageURL    *string     `firestore:"imageUrl"`
	UserTokens  []string    `firestore:"userTokens"`
	UserIDs     []string    `firestore:"userIds"`
	Type        string      `firestore:"type"`
	Method      string      `firestore:"method"`
	Status      string      `firestore:"status"`
	Outcome     string      `firestore:"outcome"`
	SentCount   int         `firestore:"sentCount"`
	FailedCount int         `firestore:"failedCount"`
	Results     []resultDoc `firestore:"results"`
	Timestamp   time.Time   `firestore:"timestamp"`
}

// RecordStore writes the notifications feed and the logs audit collection.
type RecordStore struct {
	client *firestore.Client
	logger *slog.Logger
}

func NewRecordStore(client *firestore.Client, logger *slog.Logger) *RecordStore {
	return &RecordStore{
		client: client,
		logger: logger.With("component", "FirestoreRecordStore"),
	}
}

// CreateNotification adds a feed record with a generated id.
func (s *RecordStore) CreateNotification(ctx context.Context, n push.Notification) (string, error) {
	ref, _, err := s.client.Collection(notificationsColl).Add(ctx, toNotificationDoc(n))
	if err != nil {
		return "", fmt.Errorf("failed to create notification: %w", err)
	}
	s.logger.Debug("Notification record created", "notif_id", ref.ID, "type", n.Type, "recipients", len(n.Delivery))
	return ref.ID, nil
}

func (s *RecordStore) AppendAuditLog(ctx context.Context, entry push.AuditEntry) error {
	if _, _, err := s.client.Collection(logsCollection).Add(ctx, toAuditDoc(entry)); err != nil {
		return fmt.Errorf("failed to append audit log for %s: %w", entry.ScheduledID, err)
	}
	return nil
}

func toNotificationDoc(n push.Notification) notificationDoc {
	delivery := make([]deliveryDoc, 0, len(n.Delivery))
	for _, d := range n.Delivery {
		delivery = append(delivery, deliveryDoc(d))
	}
	return notificationDoc{
		Title:     n.Title,
		Body:      n.Body,
		ImageURL:  nullableString(n.ImageURL),
		Type:      string(n.Type),
		Delivery:  delivery,
		CreatedAt: n.CreatedAt,
		SourceID:  n.SourceID,
	}
}

func toAuditDoc(e push.AuditEntry) auditDoc {
	results := make([]resultDoc, 0, len(e.Results))
	for _, r := range e.Results {
		results = append(results, resultDoc(r))
	}
	userTokens := e.UserTokens
	if userTokens == nil {
		userTokens = []string{}
	}
	userIDs := e.UserIDs
	if userIDs == nil {
		userIDs = []string{}
	}
	return auditDoc{
		ScheduledID: e.ScheduledID,
		Title:       e.Title,
		Body:        e.Body,
		ImageURL:    nullableString(e.ImageURL),
		UserTokens:  userTokens,
		UserIDs:     userIDs,
		Type:        string(e.Type),
		Method:      e.Method,
		Status:      string(e.Status),
		Outcome:     e.Outcome,
		SentCount:   e.SentCount,
		FailedCount: e.FailedCount,
		Results:     results,
		Timestamp:   e.Timestamp,
	}
}

// nullableString maps "" to a stored null so the key is always present.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
