// Package scheduler periodically sends scheduled notifications whose time has come.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-service/internal/metrics"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

const (
	DefaultInterval   = 60 * time.Second
	DefaultClaimLease = 10 * time.Minute
	deliveryMethod    = "FCM"
)

// Sender fans content out to a fixed token list. The dispatch engine satisfies it.
type Sender interface {
	SendToTokens(ctx context.Context, tokens []push.DeviceToken, content push.Content, notifID string) []push.SendOutcome
}

// TickReport summarises one sweep.
type TickReport struct {
	Scanned   int
	Due       int
	Processed int
	Skipped   int
	Failed    int
}

type Scheduler struct {
	store      push.ScheduleStore
	sender     Sender
	records    push.RecordWriter
	interval   time.Duration
	claimLease time.Duration
	now        func() time.Time
	instanceID string
	logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Scheduler)

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClaimLease sets how long a claim blocks other instances before it may be re-taken.
func WithClaimLease(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.claimLease = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func New(
	store push.ScheduleStore,
	sender Sender,
	records push.RecordWriter,
	logger *slog.Logger,
	opts ...Option,
) *Scheduler {
	id := uuid.NewString()
	s := &Scheduler{
		store:      store,
		sender:     sender,
		records:    records,
		interval:   DefaultInterval,
		claimLease: DefaultClaimLease,
		now:        time.Now,
		instanceID: id,
		logger:     logger.With("component", "Scheduler", "instance_id", id),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the first tick immediately and then one tick per interval until
// Stop is called or ctx is cancelled. Ticks never overlap.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx, s.done)
	s.logger.Info("Scheduler started", "interval", s.interval.String(), "claim_lease", s.claimLease.String())
	return nil
}

// Stop cancels the loop and waits for the current tick to finish, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Scheduler tick failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick performs one sweep over the scheduled notifications.
// Only a failure to list candidates is returned; per-item failures are logged.
func (s *Scheduler) Tick(ctx context.Context) (TickReport, error) {
	var report TickReport
	now := s.now()
	tickLogger := s.logger.With("tick_id", uuid.NewString())

	items, err := s.store.Due(ctx, now)
	if err != nil {
		metrics.SchedulerTicks.WithLabelValues("scan_error").Inc()
		return report, fmt.Errorf("failed to scan scheduled notifications: %w", err)
	}
	report.Scanned = len(items)

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		if !item.IsDue(now) {
			continue
		}
		report.Due++

		claimed, err := s.store.Claim(ctx, item.ID, s.instanceID, now, s.claimLease)
		if err != nil {
			tickLogger.Warn("Failed to claim scheduled notification", "scheduled_id", item.ID, "err", err)
			report.Failed++
			continue
		}
		if !claimed {
			tickLogger.Debug("Scheduled notification claimed elsewhere", "scheduled_id", item.ID)
			report.Skipped++
			continue
		}

		if s.process(ctx, tickLogger, item) {
			report.Processed++
		} else {
			report.Failed++
		}
	}

	metrics.SchedulerTicks.WithLabelValues("ok").Inc()
	if report.Due > 0 {
		tickLogger.Info("Scheduler tick complete",
			"scanned", report.Scanned, "due", report.Due,
			"processed", report.Processed, "skipped", report.Skipped, "failed", report.Failed)
	}
	return report, nil
}

// process sends a claimed item and writes its bookkeeping. It reports false
// if any bookkeeping write failed.
func (s *Scheduler) process(ctx context.Context, logger *slog.Logger, item push.ScheduledNotification) bool {
	itemLogger := logger.With("scheduled_id", item.ID)
	ok := true

	results := s.sender.SendToTokens(ctx, item.UserTokens, item.Content(), item.ID)
	sent, failed, outcome := push.SummarizeOutcomes(results)
	metrics.ScheduledProcessed.WithLabelValues(outcome).Inc()

	sentAt := s.now()
	if err := s.store.MarkSent(ctx, item.ID, sentAt); err != nil {
		itemLogger.Error("Failed to mark scheduled notification sent", "err", err)
		ok = false
	}

	tokenValues := make([]string, 0, len(item.UserTokens))
	for _, t := range item.UserTokens {
		tokenValues = append(tokenValues, t.Token)
	}
	entry := push.AuditEntry{
		ScheduledID: item.ID,
		Title:       item.Title,
		Body:        item.Body,
		ImageURL:    item.ImageURL,
		UserIDs:     item.UserIDs,
		UserTokens:  tokenValues,
		Type:        push.TypeScheduled,
		Method:      deliveryMethod,
		Status:      push.StatusSent,
		Outcome:     outcome,
		SentCount:   sent,
		FailedCount: failed,
		Results:     results,
		Timestamp:   sentAt,
	}
	if err := s.records.AppendAuditLog(ctx, entry); err != nil {
		itemLogger.Error("Failed to append audit log", "err", err)
		ok = false
	}

	_, err := s.records.CreateNotification(ctx, push.Notification{
		Title:     item.Title,
		Body:      item.Body,
		ImageURL:  item.ImageURL,
		Type:      push.TypeScheduled,
		Delivery:  push.NewDelivery(item.UserIDs),
		CreatedAt: sentAt,
		SourceID:  item.ID,
	})
	if err != nil {
		itemLogger.Error("Failed to create notification record", "err", err)
		ok = false
	}

	itemLogger.Info("Scheduled notification processed", "outcome", outcome, "sent", sent, "failed", failed)
	return ok
}
