package job

import (
	"errors"
	"fmt"
)

// Kind classifies why a job did not complete (or completed with a warning).
type Kind string

const (
	AdmissionDenied  Kind = "admission_denied"
	ProbeFailed      Kind = "probe_failed"
	TooLong          Kind = "too_long"
	FetchFailed      Kind = "fetch_failed"
	FileTooLarge     Kind = "file_too_large"
	DeliveryFailed   Kind = "delivery_failed"
	CancelledByUser  Kind = "cancelled_by_user"
	PersistenceError Kind = "persistence_error"
)

var kindMessages = map[Kind]string{
	AdmissionDenied:  "⚠️ You already have an active download. Use /cancel to stop it.",
	ProbeFailed:      "❌ Could not fetch video information.",
	TooLong:          "❌ Video is too long (max 30 minutes).",
	FetchFailed:      "❌ Failed to process video.",
	FileTooLarge:     "❌ File size exceeds Telegram's limit (50MB).\nTry a lower quality or use /mp3 for audio only.",
	DeliveryFailed:   "❌ Failed to send the file to Telegram.",
	CancelledByUser:  "❌ Download cancelled.",
	PersistenceError: "⚠️ Delivered, but your statistics could not be saved.",
}

// Message is the single user-facing text for k.
func (k Kind) Message() string {
	if m, ok := kindMessages[k]; ok {
		return m
	}
	return "❌ An error occurred."
}

// Error is the only error type that leaves the job boundary.
type Error struct {
	Kind Kind
	Err  error
}

func newError(k Kind, err error) *Error { return &Error{Kind: k, Err: err} }

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err carries a *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
