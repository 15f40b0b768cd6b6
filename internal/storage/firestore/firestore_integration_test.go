//go:build integration

package firestore_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs "github.com/tinywideclouds/go-push-service/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupSuite(t *testing.T, projectID string) (context.Context, *firestore.Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)

	conn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	client, err := firestore.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return ctx, client
}

func TestTokenStore_Integration(t *testing.T) {
	ctx, client := setupSuite(t, "test-token-store")
	store := fs.NewTokenStore(client, newTestLogger())

	t.Run("missing user has no tokens", func(t *testing.T) {
		tokens, err := store.LoadTokens(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, tokens)
	})

	t.Run("mixed legacy shapes are normalized", func(t *testing.T) {
		_, err := client.Collection("users").Doc("legacy").Set(ctx, map[string]interface{}{
			"name": "Legacy User",
			"messaging": map[string]interface{}{
				"fcmTokens": []interface{}{
					"bare-token",
					map[string]interface{}{"token": "obj-token", "platform": "android"},
				},
			},
		})
		require.NoError(t, err)

		tokens, err := store.LoadTokens(ctx, "legacy")
		require.NoError(t, err)
		assert.Equal(t, []push.DeviceToken{
			{Token: "bare-token", Platform: push.PlatformUnknown},
			{Token: "obj-token", Platform: push.PlatformAndroid},
		}, tokens)
	})

	t.Run("register lifecycle", func(t *testing.T) {
		uid := "user-reg"
		require.NoError(t, store.RegisterToken(ctx, uid, push.DeviceToken{Token: "t1", Platform: push.PlatformIOS}))
		require.NoError(t, store.RegisterToken(ctx, uid, push.DeviceToken{Token: "t1", Platform: push.PlatformIOS}))
		require.NoError(t, store.RegisterToken(ctx, uid, push.DeviceToken{Token: "t2", Platform: push.PlatformWeb}))

		tokens, err := store.LoadTokens(ctx, uid)
		require.NoError(t, err)
		assert.Len(t, tokens, 2)

		require.NoError(t, store.UnregisterToken(ctx, uid, "t1"))
		tokens, err = store.LoadTokens(ctx, uid)
		require.NoError(t, err)
		assert.Equal(t, []push.DeviceToken{{Token: "t2", Platform: push.PlatformWeb}}, tokens)
	})

	t.Run("prune keeps tokens added after the read", func(t *testing.T) {
		uid := "user-prune"
		require.NoError(t, store.RegisterToken(ctx, uid, push.DeviceToken{Token: "dead"}))
		require.NoError(t, store.RegisterToken(ctx, uid, push.DeviceToken{Token: "alive"}))

		snapshot, err := store.LoadTokens(ctx, uid)
		require.NoError(t, err)
		require.Len(t, snapshot, 2)

		require.NoError(t, store.RegisterToken(ctx, uid, push.DeviceToken{Token: "fresh"}))
		require.NoError(t, store.PruneTokens(ctx, uid, []string{"dead"}))

		tokens, err := store.LoadTokens(ctx, uid)
		require.NoError(t, err)
		values := make([]string, 0, len(tokens))
		for _, tok := range tokens {
			values = append(values, tok.Token)
		}
		assert.ElementsMatch(t, []string{"alive", "fresh"}, values)

		doc, err := client.Collection("users").Doc(uid).Get(ctx)
		require.NoError(t, err)
		assert.True(t, doc.Exists())
	})

	t.Run("prune on missing user is a no-op", func(t *testing.T) {
		assert.NoError(t, store.PruneTokens(ctx, "ghost", []string{"x"}))
	})
}

func TestRecordStore_Integration(t *testing.T) {
	ctx, client := setupSuite(t, "test-record-store")
	store := fs.NewRecordStore(client, newTestLogger())

	id, err := store.CreateNotification(ctx, push.Notification{
		Title:     "Hello",
		Body:      "World",
		Type:      push.TypeManual,
		Delivery:  push.NewDelivery([]string{"u1", "u2"}),
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	snap, err := client.Collection("notifications").Doc(id).Get(ctx)
	require.NoError(t, err)
	data := snap.Data()
	assert.Equal(t, "Hello", data["title"])
	assert.Equal(t, "manual", data["type"])
	delivery, ok := data["delivery"].([]interface{})
	require.True(t, ok)
	assert.Len(t, delivery, 2)
	first := delivery[0].(map[string]interface{})
	assert.Equal(t, "u1", first["uid"])
	assert.Equal(t, false, first["seen"])
	assert.Nil(t, first["seenAt"])

	err = store.AppendAuditLog(ctx, push.AuditEntry{
		ScheduledID: "s1",
		Title:       "Hello",
		Body:        "World",
		UserIDs:     []string{"u1"},
		UserTokens:  []string{"t1"},
		Type:        push.TypeScheduled,
		Method:      "FCM",
		Status:      push.StatusSent,
		Outcome:     push.OutcomeDelivered,
		SentCount:   1,
		Results:     []push.SendOutcome{{Token: "t1", Success: true}},
		Timestamp:   time.Now().UTC(),
	})
	require.NoError(t, err)

	docs, err := client.Collection("logs").Where("scheduledId", "==", "s1").Documents(ctx).GetAll()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "FCM", docs[0].Data()["method"])
}

func TestScheduleStore_Integration(t *testing.T) {
	ctx, client := setupSuite(t, "test-schedule-store")
	now := time.Now().UTC().Truncate(time.Millisecond)

	seed := func(id string, at time.Time, status string) {
		_, err := client.Collection("scheduledNotifications").Doc(id).Set(ctx, map[string]interface{}{
			"title":       "T-" + id,
			"body":        "B",
			"scheduledAt": at,
			"status":      status,
			"userIds":     []interface{}{"u1"},
			"userTokens":  []interface{}{"tok-" + id},
		})
		require.NoError(t, err)
	}
	seed("past", now.Add(-time.Minute), "scheduled")
	seed("future", now.Add(time.Hour), "scheduled")
	seed("done", now.Add(-time.Hour), "sent")

	t.Run("full scan returns everything", func(t *testing.T) {
		store := fs.NewScheduleStore(client, newTestLogger())
		items, err := store.Due(ctx, now)
		require.NoError(t, err)
		assert.Len(t, items, 3)
	})

	t.Run("query mode returns only due items", func(t *testing.T) {
		store := fs.NewScheduleStore(client, newTestLogger(), fs.WithDueQuery(true))
		items, err := store.Due(ctx, now)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "past", items[0].ID)
		assert.Equal(t, []push.DeviceToken{{Token: "tok-past", Platform: push.PlatformUnknown}}, items[0].UserTokens)
	})

	t.Run("claim then mark sent", func(t *testing.T) {
		store := fs.NewScheduleStore(client, newTestLogger())

		ok, err := store.Claim(ctx, "past", "inst-a", now, 10*time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.Claim(ctx, "past", "inst-b", now.Add(time.Minute), 10*time.Minute)
		require.NoError(t, err)
		assert.False(t, ok, "live lease must block a second claimant")

		ok, err = store.Claim(ctx, "past", "inst-b", now.Add(11*time.Minute), 10*time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "expired lease may be re-taken")

		require.NoError(t, store.MarkSent(ctx, "past", now))

		ok, err = store.Claim(ctx, "past", "inst-c", now.Add(time.Hour), 10*time.Minute)
		require.NoError(t, err)
		assert.False(t, ok, "sent items are never claimable")
	})

	t.Run("missing document", func(t *testing.T) {
		store := fs.NewScheduleStore(client, newTestLogger())
		_, err := store.Claim(ctx, "nope", "inst", now, time.Minute)
		assert.ErrorIs(t, err, push.ErrNotFound)
		assert.ErrorIs(t, store.MarkSent(ctx, "nope", now), push.ErrNotFound)
	})
}
