// Package dispatch resolves recipients to device tokens, fans out sends and
// keeps token collections clean.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-push-service/internal/metrics"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

const defaultMaxConcurrency = 16

type Engine struct {
	tokens         push.TokenStore
	records        push.RecordWriter
	transport      push.Transport
	maxConcurrency int
	sendTimeout    time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

type Option func(*Engine)

// WithMaxConcurrency bounds the number of in-flight sends and token loads.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxConcurrency = n
		}
	}
}

// WithSendTimeout gives every single-token send its own deadline.
func WithSendTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.sendTimeout = d
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(
	tokens push.TokenStore,
	records push.RecordWriter,
	transport push.Transport,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		tokens:         tokens,
		records:        records,
		transport:      transport,
		maxConcurrency: defaultMaxConcurrency,
		now:            time.Now,
		logger:         logger.With("component", "DispatchEngine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dispatch sends req's content to every device of every targeted user.
//
// It fails only when the request is malformed (push.ErrInvalidRequest) or the
// notification record cannot be created (push.ErrRecordCreation). Per-token
// failures are reported in the result.
func (e *Engine) Dispatch(ctx context.Context, req push.BroadcastRequest) (*push.DispatchResult, error) {
	uids, err := validate(req)
	if err != nil {
		return nil, err
	}
	if req.Type == "" {
		req.Type = push.TypeManual
	}
	start := time.Now()
	defer func() {
		metrics.DispatchDuration.WithLabelValues(string(req.Type)).Observe(time.Since(start).Seconds())
	}()

	// 1. Resolve
	byUser := e.resolve(ctx, uids)
	flat := flatten(uids, byUser)

	// 2. Tracking shell
	notifID, err := e.records.CreateNotification(ctx, push.Notification{
		Title:     req.Title,
		Body:      req.Body,
		ImageURL:  req.ImageURL,
		Type:      req.Type,
		Delivery:  push.NewDelivery(uids),
		CreatedAt: e.now(),
	})
	if err != nil {
		e.logger.Error("Failed to create notification record", "err", err)
		return nil, fmt.Errorf("%w: %v", push.ErrRecordCreation, err)
	}
	procLogger := e.logger.With("notif_id", notifID)

	// 3. Fan-out
	results := e.SendToTokens(ctx, flat, req.Content(), notifID)

	// 4. Classify
	invalid := classify(uids, byUser, results)

	// 5. Evict
	for _, uid := range uids {
		dead, ok := invalid[uid]
		if !ok {
			continue
		}
		if err := e.tokens.PruneTokens(ctx, uid, dead); err != nil {
			procLogger.Warn("Failed to prune invalid tokens", "uid", uid, "count", len(dead), "err", err)
			metrics.TokenEvictions.WithLabelValues("error").Add(float64(len(dead)))
			continue
		}
		procLogger.Info("Removed invalid tokens", "uid", uid, "count", len(dead))
		metrics.TokenEvictions.WithLabelValues("removed").Add(float64(len(dead)))
	}

	procLogger.Info("Dispatch complete", "users", len(uids), "tokens", len(flat), "invalid_users", len(invalid))
	return &push.DispatchResult{
		NotificationID:      notifID,
		TokensSent:          len(flat),
		InvalidTokensByUser: invalid,
		Results:             results,
	}, nil
}

// SendToTokens sends content to every token concurrently and waits for all of
// them. Outcomes are returned in input order. Tokens are not resolved or
// evicted here.
func (e *Engine) SendToTokens(ctx context.Context, tokens []push.DeviceToken, content push.Content, notifID string) []push.SendOutcome {
	results := make([]push.SendOutcome, len(tokens))

	var g errgroup.Group
	g.SetLimit(e.maxConcurrency)
	for i, tok := range tokens {
		g.Go(func() error {
			sendCtx := ctx
			if e.sendTimeout > 0 {
				var cancel context.CancelFunc
				sendCtx, cancel = context.WithTimeout(ctx, e.sendTimeout)
				defer cancel()
			}
			out := e.transport.Send(sendCtx, push.Message{
				Token:          tok.Token,
				NotificationID: notifID,
				Content:        content,
			})
			out.Token = tok.Token
			metrics.ObserveSend(out.Success, out.ErrorCode)
			results[i] = out
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) resolve(ctx context.Context, uids []string) map[string][]push.DeviceToken {
	loaded := make([][]push.DeviceToken, len(uids))

	var g errgroup.Group
	g.SetLimit(e.maxConcurrency)
	for i, uid := range uids {
		g.Go(func() error {
			tokens, err := e.tokens.LoadTokens(ctx, uid)
			if err != nil {
				e.logger.Warn("Failed to load device tokens; user receives nothing", "uid", uid, "err", err)
				return nil
			}
			loaded[i] = tokens
			return nil
		})
	}
	_ = g.Wait()

	byUser := make(map[string][]push.DeviceToken, len(uids))
	for i, uid := range uids {
		byUser[uid] = loaded[i]
	}
	return byUser
}

func validate(req push.BroadcastRequest) ([]string, error) {
	if len(req.UserIDs) == 0 {
		return nil, fmt.Errorf("%w: userIds must not be empty", push.ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Body) == "" {
		return nil, fmt.Errorf("%w: title and body are required", push.ErrInvalidRequest)
	}
	seen := make(map[string]struct{}, len(req.UserIDs))
	uids := make([]string, 0, len(req.UserIDs))
	for _, uid := range req.UserIDs {
		if strings.TrimSpace(uid) == "" {
			return nil, fmt.Errorf("%w: blank user id", push.ErrInvalidRequest)
		}
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		uids = append(uids, uid)
	}
	return uids, nil
}

// flatten returns every distinct token value across users, in user order.
func flatten(uids []string, byUser map[string][]push.DeviceToken) []push.DeviceToken {
	seen := make(map[string]struct{})
	var flat []push.DeviceToken
	for _, uid := range uids {
		for _, tok := range byUser[uid] {
			if _, dup := seen[tok.Token]; dup {
				continue
			}
			seen[tok.Token] = struct{}{}
			flat = append(flat, tok)
		}
	}
	return flat
}

// classify attributes every not-registered token to each targeted user whose
// snapshot holds it.
func classify(uids []string, byUser map[string][]push.DeviceToken, results []push.SendOutcome) map[string][]string {
	invalid := make(map[string][]string)
	for _, res := range results {
		if res.Success || res.ErrorCode != push.CodeTokenNotRegistered {
			continue
		}
		for _, uid := range uids {
			if !holds(byUser[uid], res.Token) || contains(invalid[uid], res.Token) {
				continue
			}
			invalid[uid] = append(invalid[uid], res.Token)
		}
	}
	return invalid
}

func holds(tokens []push.DeviceToken, token string) bool {
	for _, t := range tokens {
		if t.Token == token {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
