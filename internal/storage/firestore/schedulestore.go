package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// errClaimLost aborts a claim transaction without retrying it.
var errClaimLost = errors.New("claim lost")

// ScheduleStore reads and transitions documents in scheduledNotifications.
type ScheduleStore struct {
	client   *firestore.Client
	queryDue bool
	logger   *slog.Logger
}

type ScheduleStoreOption func(*ScheduleStore)

// WithDueQuery makes Due ask Firestore for due items only, instead of
// scanning the whole collection. It needs a composite index on
// (status, scheduledAt).
func WithDueQuery(enabled bool) ScheduleStoreOption {
	return func(s *ScheduleStore) {
		s.queryDue = enabled
	}
}

func NewScheduleStore(client *firestore.Client, logger *slog.Logger, opts ...ScheduleStoreOption) *ScheduleStore {
	s := &ScheduleStore{
		client: client,
		logger: logger.With("component", "FirestoreScheduleStore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Due returns candidate items. Documents that cannot be decoded are logged and skipped.
func (s *ScheduleStore) Due(ctx context.Context, now time.Time) ([]push.ScheduledNotification, error) {
	coll := s.client.Collection(scheduledCollection)
	var iter *firestore.DocumentIterator
	if s.queryDue {
		iter = coll.Where("status", "==", string(push.StatusScheduled)).
			Where("scheduledAt", "<=", now).
			Documents(ctx)
	} else {
		iter = coll.Documents(ctx)
	}
	defer iter.Stop()

	var items []push.ScheduledNotification
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("scheduled notification iteration failed: %w", err)
		}
		item, err := decodeScheduled(doc.Ref.ID, doc.Data())
		if err != nil {
			s.logger.Warn("Skipping unreadable scheduled notification", "scheduled_id", doc.Ref.ID, "err", err)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Claim marks the item as taken by claimant when it is still scheduled and no
// other claim younger than lease exists.
func (s *ScheduleStore) Claim(ctx context.Context, id, claimant string, now time.Time, lease time.Duration) (bool, error) {
	ref := s.client.Collection(scheduledCollection).Doc(id)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		item, err := decodeScheduled(id, snap.Data())
		if err != nil {
			return err
		}
		if item.Status != push.StatusScheduled {
			return errClaimLost
		}
		if item.ClaimedAt != nil && now.Sub(*item.ClaimedAt) < lease {
			return errClaimLost
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "claimedAt", Value: now},
			{Path: "claimedBy", Value: claimant},
		})
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errClaimLost):
		return false, nil
	case status.Code(err) == codes.NotFound:
		return false, fmt.Errorf("claim %s: %w", id, push.ErrNotFound)
	default:
		return false, fmt.Errorf("failed to claim %s: %w", id, err)
	}
}

func (s *ScheduleStore) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := s.client.Collection(scheduledCollection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "status", Value: string(push.StatusSent)},
		{Path: "sentAt", Value: sentAt},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("mark sent %s: %w", id, push.ErrNotFound)
		}
		return fmt.Errorf("failed to mark %s sent: %w", id, err)
	}
	return nil
}
