package evidence

import (
	"time"

	"github.com/shineum/mailmerge-lite/internal/delivery"
	"github.com/shineum/mailmerge-lite/internal/message"
)

// Ledger status values as written to the summary.
const (
	StatusSent   = "enviado"
	StatusFailed = "erro"
)

// Summary is the final campaign record written to resumo.json.
type Summary struct {
	Campaign   string     `json:"campanha"`
	StartedAt  time.Time  `json:"timestamp_inicio"`
	FinishedAt *time.Time `json:"timestamp_fim"`
	Total      int        `json:"total"`
	Sent       int        `json:"enviados"`
	Failed     int        `json:"erros"`
	Method     string     `json:"metodo_envio"`
	Sender     string     `json:"remetente"`
	Subject    string     `json:"assunto"`
	Directory  string     `json:"diretorio"`
	Entries    []Entry    `json:"emails"`
}

// Entry is one delivery outcome in the ledger.
type Entry struct {
	Email             string                   `json:"email"`
	Subject           string                   `json:"subject"`
	Status            string                   `json:"status"`
	Timestamp         time.Time                `json:"timestamp"`
	Message           string                   `json:"mensagem"`
	EMLPath           string                   `json:"eml_path,omitempty"`
	EMLSize           int64                    `json:"eml_size_bytes,omitempty"`
	ProviderMessageID string                   `json:"provider_message_id,omitempty"`
	ThreadID          string                   `json:"provider_thread_id,omitempty"`
	HistoryID         string                   `json:"provider_history_id,omitempty"`
	MessageID         string                   `json:"message_id,omitempty"`
	Headers           map[string]string        `json:"headers"`
	AttachmentCount   int                      `json:"attachments_count"`
	AttachmentHashes  []message.AttachmentHash `json:"attachment_hashes,omitempty"`
	RawSHA256         string                   `json:"raw_sha256,omitempty"`
	MessageSize       int64                    `json:"message_size_bytes,omitempty"`
	Attempts          int                      `json:"attempts,omitempty"`
}

func newEntry(o delivery.Outcome) Entry {
	status := StatusFailed
	if o.Sent() {
		status = StatusSent
	}
	ts := o.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	headers := o.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	return Entry{
		Email:             o.Email,
		Subject:           o.Subject,
		Status:            status,
		Timestamp:         ts,
		Message:           o.Message,
		ProviderMessageID: o.ProviderMessageID,
		ThreadID:          o.ThreadID,
		HistoryID:         o.HistoryID,
		MessageID:         o.MessageID,
		Headers:           headers,
		AttachmentCount:   o.AttachmentCount,
		AttachmentHashes:  o.AttachmentHashes,
		RawSHA256:         o.RawSHA256,
		MessageSize:       int64(len(o.Raw)),
		Attempts:          o.Attempts,
	}
}

func (s Summary) clone() Summary {
	c := s
	c.Entries = append([]Entry(nil), s.Entries...)
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		c.FinishedAt = &t
	}
	return c
}
