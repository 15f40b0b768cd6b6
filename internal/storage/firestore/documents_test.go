package firestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

func TestNormalizeTokens(t *testing.T) {
	arr := []interface{}{
		"plain-token",
		map[string]interface{}{"token": "ios-token", "platform": "iOS"},
		map[string]interface{}{"token": "web-token", "platform": "web"},
		map[string]interface{}{"token": "odd-token", "platform": "toaster"},
		map[string]interface{}{"platform": "android"},
		"   ",
		42,
		"plain-token",
	}

	got := normalizeTokens(arr)

	assert.Equal(t, []push.DeviceToken{
		{Token: "plain-token", Platform: push.PlatformUnknown},
		{Token: "ios-token", Platform: push.PlatformIOS},
		{Token: "web-token", Platform: push.PlatformWeb},
		{Token: "odd-token", Platform: push.PlatformUnknown},
	}, got)
}

func TestTokenArray(t *testing.T) {
	t.Run("missing messaging map", func(t *testing.T) {
		assert.Nil(t, tokenArray(map[string]interface{}{"name": "x"}))
	})
	t.Run("missing field", func(t *testing.T) {
		assert.Nil(t, tokenArray(map[string]interface{}{"messaging": map[string]interface{}{}}))
	})
	t.Run("present", func(t *testing.T) {
		data := map[string]interface{}{
			"messaging": map[string]interface{}{"fcmTokens": []interface{}{"a", "b"}},
		}
		assert.Equal(t, []interface{}{"a", "b"}, tokenArray(data))
	})
}

func TestWithoutTokens(t *testing.T) {
	mapped := map[string]interface{}{"token": "t2", "platform": "android"}
	late := map[string]interface{}{"token": "t4", "platform": "web"}
	arr := []interface{}{"t1", mapped, "t3", late, 7}

	kept, removed := withoutTokens(arr, map[string]struct{}{"t2": {}, "t3": {}, "absent": {}})

	assert.Equal(t, 2, removed)
	assert.Equal(t, []interface{}{"t1", late, 7}, kept)
}

func TestEncodeToken(t *testing.T) {
	assert.Equal(t,
		map[string]interface{}{"token": "abc", "platform": "unknown"},
		encodeToken(push.DeviceToken{Token: "abc"}))
	assert.Equal(t,
		map[string]interface{}{"token": "abc", "platform": "android"},
		encodeToken(push.DeviceToken{Token: "abc", Platform: push.PlatformAndroid}))
}

func TestDecodeScheduled(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("full document", func(t *testing.T) {
		item, err := decodeScheduled("s1", map[string]interface{}{
			"title":       "T",
			"body":        "B",
			"imageUrl":    "https://img",
			"scheduledAt": at,
			"status":      "scheduled",
			"userIds":     []interface{}{"u1", "", "u2"},
			"userTokens":  []interface{}{"a", map[string]interface{}{"token": "b", "platform": "ios"}},
			"claimedAt":   at,
			"claimedBy":   "inst-1",
		})
		require.NoError(t, err)
		assert.Equal(t, "s1", item.ID)
		assert.Equal(t, "T", item.Title)
		assert.Equal(t, "https://img", item.ImageURL)
		assert.Equal(t, at, item.ScheduledAt)
		assert.Equal(t, push.StatusScheduled, item.Status)
		assert.Equal(t, []string{"u1", "u2"}, item.UserIDs)
		assert.Len(t, item.UserTokens, 2)
		assert.Equal(t, push.PlatformIOS, item.UserTokens[1].Platform)
		require.NotNil(t, item.ClaimedAt)
		assert.Equal(t, "inst-1", item.ClaimedBy)
		assert.Nil(t, item.SentAt)
	})

	t.Run("string timestamp", func(t *testing.T) {
		item, err := decodeScheduled("s2", map[string]interface{}{
			"scheduledAt": "2026-01-02T03:04:05Z",
			"status":      "sent",
		})
		require.NoError(t, err)
		assert.Equal(t, at, item.ScheduledAt.UTC())
		assert.Equal(t, push.StatusSent, item.Status)
	})

	t.Run("missing scheduledAt", func(t *testing.T) {
		_, err := decodeScheduled("s3", map[string]interface{}{"status": "scheduled"})
		assert.Error(t, err)
	})
}

func TestToAuditDoc_NilSlicesBecomeEmpty(t *testing.T) {
	doc := toAuditDoc(push.AuditEntry{ScheduledID: "s1", Type: push.TypeScheduled, Status: push.StatusSent})
	assert.NotNil(t, doc.UserTokens)
	assert.NotNil(t, doc.UserIDs)
	assert.Equal(t, "scheduled", doc.Type)
	assert.Equal(t, "sent", doc.Status)
}

func TestToNotificationDoc_ImageURL(t *testing.T) {
	t.Run("empty is stored as null", func(t *testing.T) {
		doc := toNotificationDoc(push.Notification{Title: "Sale", Body: "50% off", Type: push.TypeManual})
		assert.Nil(t, doc.ImageURL)

		audit := toAuditDoc(push.AuditEntry{ScheduledID: "s1"})
		assert.Nil(t, audit.ImageURL)
	})

	t.Run("set value is kept", func(t *testing.T) {
		doc := toNotificationDoc(push.Notification{Title: "Sale", ImageURL: "https://img"})
		require.NotNil(t, doc.ImageURL)
		assert.Equal(t, "https://img", *doc.ImageURL)
	})
}
