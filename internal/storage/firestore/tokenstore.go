package firestore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// TokenStore keeps device tokens in users/{uid}.messaging.fcmTokens.
type TokenStore struct {
	client *firestore.Client
	logger *slog.Logger
}

func NewTokenStore(client *firestore.Client, logger *slog.Logger) *TokenStore {
	return &TokenStore{
		client: client,
		logger: logger.With("component", "FirestoreTokenStore"),
	}
}

// LoadTokens returns the user's normalized tokens. A missing user document or
// token field is an empty result.
func (s *TokenStore) LoadTokens(ctx context.Context, uid string) ([]push.DeviceToken, error) {
	snap, err := s.userRef(uid).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return []push.DeviceToken{}, nil
		}
		return nil, fmt.Errorf("failed to load tokens for %s: %w", uid, err)
	}
	return normalizeTokens(tokenArray(snap.Data())), nil
}

// PruneTokens removes the given token values inside a transaction, against
// whatever the array holds at commit time.
func (s *TokenStore) PruneTokens(ctx context.Context, uid string, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		drop[t] = struct{}{}
	}

	ref := s.userRef(uid)
	var removed int
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				removed = 0
				return nil
			}
			return err
		}
		var kept []interface{}
		kept, removed = withoutTokens(tokenArray(snap.Data()), drop)
		if removed == 0 {
			return nil
		}
		return tx.Update(ref, []firestore.Update{
			{FieldPath: firestore.FieldPath{messagingField, fcmTokensField}, Value: kept},
		})
	})
	if err != nil {
		return fmt.Errorf("failed to prune tokens for %s: %w", uid, err)
	}
	s.logger.Debug("Pruned tokens", "uid", uid, "requested", len(tokens), "removed", removed)
	return nil
}

// RegisterToken appends the token unless the user already holds its value.
// The user document is created if needed.
func (s *TokenStore) RegisterToken(ctx context.Context, uid string, token push.DeviceToken) error {
	if strings.TrimSpace(token.Token) == "" {
		return fmt.Errorf("%w: blank token", push.ErrInvalidRequest)
	}

	ref := s.userRef(uid)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current []interface{}
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			current = tokenArray(snap.Data())
		case status.Code(err) == codes.NotFound:
		default:
			return err
		}

		for _, existing := range normalizeTokens(current) {
			if existing.Token == token.Token {
				return nil
			}
		}
		next := append(current, encodeToken(token))
		return tx.Set(ref, map[string]interface{}{
			messagingField: map[string]interface{}{fcmTokensField: next},
		}, firestore.MergeAll)
	})
	if err != nil {
		return fmt.Errorf("failed to register token for %s: %w", uid, err)
	}
	return nil
}

// UnregisterToken removes a single token value.
func (s *TokenStore) UnregisterToken(ctx context.Context, uid string, token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: blank token", push.ErrInvalidRequest)
	}
	return s.PruneTokens(ctx, uid, []string{token})
}

func (s *TokenStore) userRef(uid string) *firestore.DocumentRef {
	return s.client.Collection(usersCollection).Doc(uid)
}
