// Package dryrun implements a transport that prints messages instead of
// delivering them.
package dryrun

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/shineum/mailmerge-lite/internal/message"
	"github.com/shineum/mailmerge-lite/internal/transport"
)

// Transport writes a human-readable rendition of every message.
type Transport struct {
	sender string
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a dry-run Transport that writes to os.Stdout.
func New(sender string) *Transport {
	return &Transport{sender: sender, writer: os.Stdout}
}

// NewWithWriter creates a dry-run Transport that writes to w.
func NewWithWriter(sender string, w io.Writer) *Transport {
	return &Transport{sender: sender, writer: w}
}

// Method returns the transport variant.
func (t *Transport) Method() transport.Method { return transport.MethodDryRun }

// Sender returns the From identity.
func (t *Transport) Sender() string { return t.sender }

// Ready always succeeds.
func (t *Transport) Ready(context.Context) error { return nil }

// Close is a no-op.
func (t *Transport) Close() error { return nil }

// Send builds the message exactly as a real transport would and prints it.
// Write errors are ignored.
func (t *Transport) Send(_ context.Context, msg *message.Message) (*transport.Receipt, error) {
	if msg.From == "" {
		msg.From = t.sender
	}
	raw, headers, err := message.Build(msg)
	if err != nil {
		return nil, transport.Errorf(transport.ReasonRecipientRejected, "failed to build message: %v", err)
	}

	var b strings.Builder
	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "From: %s\n", msg.From)
	fmt.Fprintf(&b, "To: %s\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&b, "Message-ID: %s\n", msg.MessageID)
	b.WriteString("Body:\n")
	b.WriteString(msg.Body + "\n")

	if len(msg.Attachments) > 0 {
		attachments := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s)", att.Filename, humanize.IBytes(uint64(len(att.Content)))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}
	fmt.Fprintf(&b, "Size: %s\n", humanize.IBytes(uint64(len(raw))))
	b.WriteString("========================================\n")

	_, _ = fmt.Fprint(t.writer, b.String())

	receipt := transport.NewReceipt(msg, raw, headers)
	receipt.Attempts = 1
	receipt.ProviderMessageID = "dry-run-" + uuid.NewString()
	return receipt, nil
}
