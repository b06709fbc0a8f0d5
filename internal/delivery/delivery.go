// Package delivery holds the per-recipient result types shared by the
// transports, the campaign runner and the evidence recorder.
package delivery

import (
	"time"

	"github.com/shineum/mailmerge-lite/internal/message"
)

// Status is the final state of one recipient in a campaign.
type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// Outcome is the result of delivering one message to one recipient.
// Exactly one Outcome is produced per recipient per run.
type Outcome struct {
	Email   string
	Subject string
	Status  Status
	Message string

	// Provider assigned identifiers, empty for transports that do not report them.
	ProviderMessageID string
	ThreadID          string
	HistoryID         string

	MessageID        string
	Headers          map[string]string
	AttachmentCount  int
	AttachmentHashes []message.AttachmentHash
	RawSHA256        string
	// Raw is the message exactly as submitted. Only set for sent outcomes.
	Raw []byte

	Attempts  int
	Timestamp time.Time
}

// Sent reports whether the outcome is a successful delivery.
func (o Outcome) Sent() bool {
	return o.Status == StatusSent
}

// Stats are the running totals of a campaign.
type Stats struct {
	Total  int
	Sent   int
	Failed int
}

// Add counts one outcome.
func (s *Stats) Add(o Outcome) {
	if o.Sent() {
		s.Sent++
	} else {
		s.Failed++
	}
}
