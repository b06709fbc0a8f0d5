// Package message defines the outbound email model used by every transport
// and builds the raw RFC 5322 bytes that are submitted and archived.
package message

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// defaultContentType is used for attachments whose extension is unknown.
const defaultContentType = "application/octet-stream"

// Message is one personalized email addressed to a single recipient.
type Message struct {
	From        string
	To          string
	Subject     string
	Body        string
	HTML        bool
	Attachments []Attachment
	// MessageID and Date are generated by Build when empty.
	MessageID string
	Date      time.Time
	// Headers holds extra top-level header fields.
	Headers map[string]string
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
	// Path is the file the content was loaded from, if any.
	Path string
}

// LoadAttachments reads the given files into memory in order. The content
// type is derived from the file extension.
func LoadAttachments(paths []string) ([]Attachment, error) {
	atts := make([]Attachment, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment %q: %w", p, err)
		}
		atts = append(atts, Attachment{
			Filename:    filepath.Base(p),
			ContentType: contentTypeFor(p),
			Content:     data,
			Path:        p,
		})
	}
	return atts, nil
}

// TotalSize returns the combined size of all attachment contents.
func TotalSize(atts []Attachment) int {
	n := 0
	for _, a := range atts {
		n += len(a.Content)
	}
	return n
}

func contentTypeFor(path string) string {
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if ct == "" {
		return defaultContentType
	}
	return ct
}
