package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shineum/mailmerge-lite/internal/delivery"
	"github.com/shineum/mailmerge-lite/internal/message"
	"github.com/shineum/mailmerge-lite/internal/recipient"
)

// ReasonMissingAddress is the outcome message for recipients without an email.
const ReasonMissingAddress = "missing address"

// RenderFunc produces the personalized body for one recipient.
type RenderFunc func(r recipient.Recipient) (string, error)

// Batch is one sequential run over a recipient list.
type Batch struct {
	Subject     string
	Recipients  []recipient.Recipient
	Render      RenderFunc
	HTML        bool
	Attachments []message.Attachment
	// Headers are added to every message.
	Headers map[string]string
	// Delay is the pacing pause between two recipients.
	Delay time.Duration
	Stop  StopSignal
	// OnOutcome is called once per processed recipient, in input order,
	// after its outcome is known. index is 1-based.
	OnOutcome func(index, total int, r recipient.Recipient, o delivery.Outcome)
	// Sleep overrides the pacing wait, used by tests.
	Sleep SleepFunc
}

// SendBatch delivers b through t one recipient at a time and returns the
// outcomes of every recipient processed before the stop signal was seen.
// Recipients without an address fail without rendering or sending; render
// failures fail without sending. The transport must already be ready.
func SendBatch(ctx context.Context, t Transport, b Batch, logger *slog.Logger) []delivery.Outcome {
	total := len(b.Recipients)
	outcomes := make([]delivery.Outcome, 0, total)
	logger = logger.With("transport", string(t.Method()))
	if b.Render == nil {
		b.Render = func(recipient.Recipient) (string, error) { return "", nil }
	}

	for i, r := range b.Recipients {
		if stopped(ctx, b.Stop) {
			logger.Info("batch stopped", "processed", i, "total", total)
			break
		}

		o := sendOne(ctx, t, b, r, logger)
		outcomes = append(outcomes, o)
		if b.OnOutcome != nil {
			b.OnOutcome(i+1, total, r, o)
		}

		if i < total-1 && b.Delay > 0 {
			pace(ctx, b, logger)
		}
	}
	return outcomes
}

func sendOne(ctx context.Context, t Transport, b Batch, r recipient.Recipient, logger *slog.Logger) delivery.Outcome {
	o := delivery.Outcome{
		Email:           r.Email,
		Subject:         b.Subject,
		AttachmentCount: len(b.Attachments),
	}

	if r.Email == "" {
		return failed(o, ReasonMissingAddress)
	}

	body, err := b.Render(r)
	if err != nil {
		return failed(o, fmt.Sprintf("render failed: %v", err))
	}

	msg := &message.Message{
		From:        t.Sender(),
		To:          r.Email,
		Subject:     b.Subject,
		Body:        body,
		HTML:        b.HTML,
		Attachments: b.Attachments,
		Headers:     b.Headers,
	}

	receipt, err := t.Send(ctx, msg)
	if err != nil {
		logger.Warn("delivery failed", "recipient", r.Email, "error", err)
		o = failed(o, err.Error())
		o.MessageID = msg.MessageID
		var te *Error
		if errors.As(err, &te) {
			o.Attempts = te.Attempts
		}
		return o
	}

	o.Status = delivery.StatusSent
	o.Message = "sent"
	o.Timestamp = time.Now()
	o.ProviderMessageID = receipt.ProviderMessageID
	o.ThreadID = receipt.ThreadID
	o.HistoryID = receipt.HistoryID
	o.MessageID = receipt.MessageID
	o.Headers = receipt.Headers
	o.AttachmentHashes = receipt.AttachmentHashes
	o.RawSHA256 = receipt.RawSHA256
	o.Raw = receipt.Raw
	o.Attempts = receipt.Attempts
	if o.ProviderMessageID != "" {
		o.Message = fmt.Sprintf("sent (id %s)", o.ProviderMessageID)
	}
	logger.Info("delivered", "recipient", r.Email, "message_id", o.MessageID)
	return o
}

func failed(o delivery.Outcome, msg string) delivery.Outcome {
	o.Status = delivery.StatusFailed
	o.Message = msg
	o.Timestamp = time.Now()
	return o
}

// pace waits for the batch delay. A stop signal or context cancellation
// cuts the wait short.
func pace(ctx context.Context, b Batch, logger *slog.Logger) {
	if stopped(ctx, b.Stop) {
		return
	}
	if b.Sleep != nil {
		_ = b.Sleep(ctx, b.Delay)
		return
	}

	var done <-chan struct{}
	if b.Stop != nil {
		done = b.Stop.Done()
	}
	timer := time.NewTimer(b.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-done:
		logger.Debug("pacing interrupted by stop signal")
	case <-ctx.Done():
	}
}

func stopped(ctx context.Context, s StopSignal) bool {
	if ctx.Err() != nil {
		return true
	}
	return s != nil && s.Stopped()
}
