// Package push contains the public domain models and collaborator contracts
// for the push broadcast service.
package push

import (
	"strings"
	"time"
)

// Platform identifies the device family a token was issued for.
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformWeb     Platform = "web"
	PlatformUnknown Platform = "unknown"
)

// ParsePlatform maps a stored platform string onto a known Platform.
// Anything unrecognised becomes PlatformUnknown.
func ParsePlatform(s string) Platform {
	switch Platform(strings.ToLower(strings.TrimSpace(s))) {
	case PlatformAndroid:
		return PlatformAndroid
	case PlatformIOS:
		return PlatformIOS
	case PlatformWeb:
		return PlatformWeb
	default:
		return PlatformUnknown
	}
}

// DeviceToken is the normalised shape of a registered device.
type DeviceToken struct {
	Token    string   `json:"token"`
	Platform Platform `json:"platform"`
}

// NotificationType records which entry point produced a Notification.
type NotificationType string

const (
	TypeManual    NotificationType = "manual"
	TypeScheduled NotificationType = "scheduled"
)

// ScheduleStatus is the lifecycle state of a ScheduledNotification.
// The only transition is StatusScheduled -> StatusSent.
type ScheduleStatus string

const (
	StatusScheduled ScheduleStatus = "scheduled"
	StatusSent      ScheduleStatus = "sent"
)

// Content is the user-visible part of a push message.
type Content struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// Message is a single outbound push to one device token.
type Message struct {
	Token          string
	NotificationID string
	Content        Content
	Data           map[string]string
}

// DeliveryEntry tracks read/click state for one targeted user.
type DeliveryEntry struct {
	UID       string     `json:"uid"`
	Seen      bool       `json:"seen"`
	Clicked   bool       `json:"clicked"`
	SeenAt    *time.Time `json:"seenAt"`
	ClickedAt *time.Time `json:"clickedAt"`
}

// NewDelivery builds the unseen/unclicked delivery list for a target set.
func NewDelivery(uids []string) []DeliveryEntry {
	delivery := make([]DeliveryEntry, 0, len(uids))
	for _, uid := range uids {
		delivery = append(delivery, DeliveryEntry{UID: uid})
	}
	return delivery
}

// Notification is the in-app feed record written once per dispatch.
type Notification struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	ImageURL  string           `json:"imageUrl,omitempty"`
	Type      NotificationType `json:"type"`
	Delivery  []DeliveryEntry  `json:"delivery"`
	CreatedAt time.Time        `json:"createdAt"`
	// SourceID points at the ScheduledNotification that produced this record, if any.
	SourceID string `json:"sourceId,omitempty"`
}

// ScheduledNotification is a notification queued for a future send.
type ScheduledNotification struct {
	ID          string
	Title       string
	Body        string
	ImageURL    string
	ScheduledAt time.Time
	UserIDs     []string
	UserTokens  []DeviceToken
	Status      ScheduleStatus
	SentAt      *time.Time
	ClaimedAt   *time.Time
	ClaimedBy   string
}

// Content returns the message content of the scheduled item.
func (s ScheduledNotification) Content() Content {
	return Content{Title: s.Title, Body: s.Body, ImageURL: s.ImageURL}
}

// IsDue reports whether the item is still scheduled and its time has come.
func (s ScheduledNotification) IsDue(now time.Time) bool {
	return s.Status == StatusScheduled && !s.ScheduledAt.IsZero() && !s.ScheduledAt.After(now)
}

// SendOutcome is the result of one transport call.
type SendOutcome struct {
	Token     string `json:"token"`
	Success   bool   `json:"success"`
	ErrorCode string `json:"errorCode,omitempty"`
	Response  string `json:"response,omitempty"`
}

// BroadcastRequest asks the engine to notify a set of users.
type BroadcastRequest struct {
	UserIDs  []string         `json:"userIds"`
	Title    string           `json:"title"`
	Body     string           `json:"body"`
	ImageURL string           `json:"imageUrl,omitempty"`
	Type     NotificationType `json:"-"`
}

// Content returns the message content of the request.
func (r BroadcastRequest) Content() Content {
	return Content{Title: r.Title, Body: r.Body, ImageURL: r.ImageURL}
}

// DispatchResult aggregates a single dispatch.
type DispatchResult struct {
	NotificationID      string              `json:"notificationId"`
	TokensSent          int                 `json:"tokensSent"`
	InvalidTokensByUser map[string][]string `json:"invalidTokens"`
	Results             []SendOutcome       `json:"results"`
}

// Audit outcome values.
const (
	OutcomeDelivered = "delivered"
	OutcomePartial   = "partial"
	OutcomeFailed    = "failed"
	OutcomeNoTargets = "no-targets"
)

// AuditEntry is one append-only log line for a processed scheduled item.
type AuditEntry struct {
	ScheduledID string
	Title       string
	Body        string
	ImageURL    string
	UserIDs     []string
	UserTokens  []string
	Type        NotificationType
	Method      string
	Status      ScheduleStatus
	Outcome     string
	SentCount   int
	FailedCount int
	Results     []SendOutcome
	Timestamp   time.Time
}

// SummarizeOutcomes counts successes and failures and names the overall result.
func SummarizeOutcomes(results []SendOutcome) (sent, failed int, outcome string) {
	for _, r := range results {
		if r.Success {
			sent++
		} else {
			failed++
		}
	}
	switch {
	case len(results) == 0:
		outcome = OutcomeNoTargets
	case failed == 0:
		outcome = OutcomeDelivered
	case sent == 0:
		outcome = OutcomeFailed
	default:
		outcome = OutcomePartial
	}
	return sent, failed, outcome
}
