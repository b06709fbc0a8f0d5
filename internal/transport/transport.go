// Package transport defines the interchangeable delivery mechanisms and the
// shared sequential batch loop that drives them.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/shineum/mailmerge-lite/internal/message"
)

// Method names a transport variant. It is recorded in campaign evidence.
type Method string

const (
	MethodDirectSMTP  Method = "direct-smtp"
	MethodProviderAPI Method = "provider-api"
	MethodSES         Method = "ses"
	MethodDryRun      Method = "dry-run"
)

// ErrNotReady is returned when a transport cannot establish its session or
// credentials before a batch starts.
var ErrNotReady = errors.New("transport: not ready")

// Transport submits one message at a time to a delivery path.
type Transport interface {
	// Method returns the transport variant.
	Method() Method
	// Sender returns the From identity used for every message.
	Sender() string
	// Ready connects or authenticates. A non-nil error fails the whole batch.
	Ready(ctx context.Context) error
	// Send submits msg, retrying in place according to the transport's policy.
	Send(ctx context.Context, msg *message.Message) (*Receipt, error)
	// Close releases the session. Errors are not batch failures.
	Close() error
}

// Receipt describes a message the transport accepted.
type Receipt struct {
	ProviderMessageID string
	ThreadID          string
	HistoryID         string
	MessageID         string
	Headers           map[string]string
	AttachmentHashes  []message.AttachmentHash
	RawSHA256         string
	Raw               []byte
	Attempts          int
}

// NewReceipt builds a receipt for a raw message, computing its digests.
func NewReceipt(msg *message.Message, raw []byte, headers map[string]string) *Receipt {
	return &Receipt{
		MessageID:        msg.MessageID,
		Headers:          headers,
		AttachmentHashes: message.HashAttachments(msg.Attachments),
		RawSHA256:        message.SHA256Hex(raw),
		Raw:              raw,
	}
}

// Reason is the stable category of a delivery failure.
type Reason string

const (
	ReasonConnection        Reason = "connection failure"
	ReasonAuthentication    Reason = "authentication failure"
	ReasonRecipientRejected Reason = "recipient rejected"
	ReasonRateLimited       Reason = "rate limited"
	ReasonQuotaExceeded     Reason = "quota exceeded"
	ReasonTransient         Reason = "transient"
	ReasonUnknown           Reason = "unknown"
)

// Retryable reports whether failures of this category are retried in place.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonConnection, ReasonTransient, ReasonRateLimited, ReasonUnknown:
		return true
	default:
		return false
	}
}

// Error is a classified delivery failure.
type Error struct {
	Reason Reason
	// Status is the protocol status code (SMTP reply code or HTTP status), if any.
	Status int
	Detail string
	// Attempts is set once the retry policy has given up.
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	msg := string(e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf creates a classified error with a formatted detail.
func Errorf(reason Reason, format string, args ...any) *Error {
	return &Error{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under reason.
func Wrap(reason Reason, err error) *Error {
	return &Error{Reason: reason, Err: err}
}

// ReasonOf returns the category of err, or ReasonUnknown for unclassified errors.
func ReasonOf(err error) Reason {
	var te *Error
	if errors.As(err, &te) {
		return te.Reason
	}
	return ReasonUnknown
}
