package push

import "errors"

// Error codes reported in SendOutcome.ErrorCode.
const (
	// CodeTokenNotRegistered is the only code that causes token eviction.
	CodeTokenNotRegistered = "messaging/registration-token-not-registered"
	CodeInvalidArgument    = "messaging/invalid-argument"
	CodeSenderIDMismatch   = "messaging/mismatched-credential"
	CodeQuotaExceeded      = "messaging/message-rate-exceeded"
	CodeUnavailable        = "messaging/server-unavailable"
	CodeInternal           = "messaging/internal-error"
	CodeThirdPartyAuth     = "messaging/third-party-auth-error"
	CodeInvalidToken       = "invalid-token"
	CodeDeadlineExceeded   = "deadline-exceeded"
	CodeCancelled          = "cancelled"
	CodeUnknown            = "unknown-error"
)

var (
	// ErrInvalidRequest marks caller input that was rejected before any side effect.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRecordCreation marks a failure to create the notification tracking record.
	ErrRecordCreation = errors.New("notification record creation failed")
	// ErrNotFound is returned by stores for a missing document.
	ErrNotFound = errors.New("not found")
)
