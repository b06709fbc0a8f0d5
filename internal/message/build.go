package message

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// Build renders msg as a multipart/mixed RFC 5322 message. The body is a
// UTF-8 text part and every attachment is a base64 encoded binary part.
// Message-ID and Date are filled in on msg when absent. The returned map
// holds the top-level header fields of the produced message.
func Build(msg *Message) ([]byte, map[string]string, error) {
	if msg.To == "" {
		return nil, nil, fmt.Errorf("message has no recipient")
	}
	if msg.MessageID == "" {
		msg.MessageID = NewMessageID(msg.From)
	}
	if msg.Date.IsZero() {
		msg.Date = time.Now()
	}

	var h mail.Header
	h.Set("MIME-Version", "1.0")
	if msg.From != "" {
		h.SetAddressList("From", []*mail.Address{{Address: msg.From}})
	}
	h.SetAddressList("To", []*mail.Address{{Address: msg.To}})
	h.SetSubject(msg.Subject)
	h.SetDate(msg.Date)
	h.SetMessageID(strings.Trim(msg.MessageID, "<>"))
	for k, v := range msg.Headers {
		h.Set(k, v)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	if err := writeBody(mw, msg); err != nil {
		return nil, nil, err
	}

	for _, att := range msg.Attachments {
		if err := writeAttachment(mw, att); err != nil {
			return nil, nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, nil, fmt.Errorf("failed to close message writer: %w", err)
	}

	raw := buf.Bytes()
	headers, err := Headers(raw)
	if err != nil {
		return nil, nil, err
	}
	return raw, headers, nil
}

// NewMessageID returns a globally unique Message-ID in angle brackets,
// using the domain of from when it has one.
func NewMessageID(from string) string {
	domain := "localhost"
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		domain = from[i+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

func writeBody(mw *mail.Writer, msg *Message) error {
	tw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("failed to create body part: %w", err)
	}

	contentType := "text/plain"
	if msg.HTML {
		contentType = "text/html"
	}
	var th mail.InlineHeader
	th.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	th.Set("Content-Transfer-Encoding", "quoted-printable")

	w, err := tw.CreatePart(th)
	if err != nil {
		return fmt.Errorf("failed to create body part: %w", err)
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		return fmt.Errorf("failed to write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close body part: %w", err)
	}
	return tw.Close()
}

func writeAttachment(mw *mail.Writer, att Attachment) error {
	contentType := att.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	var ah mail.AttachmentHeader
	ah.SetContentType(contentType, nil)
	ah.SetFilename(att.Filename)
	ah.Set("Content-Transfer-Encoding", "base64")

	w, err := mw.CreateAttachment(ah)
	if err != nil {
		return fmt.Errorf("failed to create attachment part %q: %w", att.Filename, err)
	}
	if _, err := w.Write(att.Content); err != nil {
		return fmt.Errorf("failed to write attachment %q: %w", att.Filename, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close attachment %q: %w", att.Filename, err)
	}
	return nil
}
