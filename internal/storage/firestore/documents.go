package firestore

import (
	"fmt"
	"strings"
	"time"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

const (
	usersCollection     = "users"
	notificationsColl   = "notifications"
	logsCollection      = "logs"
	scheduledCollection = "scheduledNotifications"

	messagingField = "messaging"
	fcmTokensField = "fcmTokens"
)

// tokenArray extracts users/{uid}.messaging.fcmTokens from raw document data.
// A missing map or field yields nil.
func tokenArray(data map[string]interface{}) []interface{} {
	msg, ok := data[messagingField].(map[string]interface{})
	if !ok {
		return nil
	}
	arr, _ := msg[fcmTokensField].([]interface{})
	return arr
}

// normalizeToken reads one stored element. Elements are either a bare token
// string or a {token, platform} map. ok is false for anything unusable.
func normalizeToken(raw interface{}) (push.DeviceToken, bool) {
	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return push.DeviceToken{}, false
		}
		return push.DeviceToken{Token: v, Platform: push.PlatformUnknown}, true
	case map[string]interface{}:
		tok, _ := v["token"].(string)
		if strings.TrimSpace(tok) == "" {
			return push.DeviceToken{}, false
		}
		platform, _ := v["platform"].(string)
		return push.DeviceToken{Token: tok, Platform: push.ParsePlatform(platform)}, true
	default:
		return push.DeviceToken{}, false
	}
}

// normalizeTokens converts a stored array, dropping unusable elements and
// repeated token values.
func normalizeTokens(arr []interface{}) []push.DeviceToken {
	seen := make(map[string]struct{}, len(arr))
	out := make([]push.DeviceToken, 0, len(arr))
	for _, raw := range arr {
		dt, ok := normalizeToken(raw)
		if !ok {
			continue
		}
		if _, dup := seen[dt.Token]; dup {
			continue
		}
		seen[dt.Token] = struct{}{}
		out = append(out, dt)
	}
	return out
}

// withoutTokens returns arr minus every element whose token value is in drop.
// Elements that cannot be read are kept untouched.
func withoutTokens(arr []interface{}, drop map[string]struct{}) (kept []interface{}, removed int) {
	kept = make([]interface{}, 0, len(arr))
	for _, raw := range arr {
		if dt, ok := normalizeToken(raw); ok {
			if _, gone := drop[dt.Token]; gone {
				removed++
				continue
			}
		}
		kept = append(kept, raw)
	}
	return kept, removed
}

func encodeToken(dt push.DeviceToken) map[string]interface{} {
	platform := dt.Platform
	if platform == "" {
		platform = push.PlatformUnknown
	}
	return map[string]interface{}{
		"token":    dt.Token,
		"platform": string(platform),
	}
}

// decodeScheduled maps a scheduledNotifications document onto the domain type.
func decodeScheduled(id string, data map[string]interface{}) (push.ScheduledNotification, error) {
	item := push.ScheduledNotification{ID: id}
	item.Title, _ = data["title"].(string)
	item.Body, _ = data["body"].(string)
	item.ImageURL, _ = data["imageUrl"].(string)
	item.ClaimedBy, _ = data["claimedBy"].(string)

	status, _ := data["status"].(string)
	item.Status = push.ScheduleStatus(status)

	at, ok := asTime(data["scheduledAt"])
	if !ok {
		return item, fmt.Errorf("scheduled notification %s: unreadable scheduledAt", id)
	}
	item.ScheduledAt = at

	if t, ok := asTime(data["sentAt"]); ok {
		item.SentAt = &t
	}
	if t, ok := asTime(data["claimedAt"]); ok {
		item.ClaimedAt = &t
	}

	if ids, ok := data["userIds"].([]interface{}); ok {
		for _, raw := range ids {
			if uid, ok := raw.(string); ok && uid != "" {
				item.UserIDs = append(item.UserIDs, uid)
			}
		}
	}
	if arr, ok := data["userTokens"].([]interface{}); ok {
		item.UserTokens = normalizeTokens(arr)
	}
	return item, nil
}

func asTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}
