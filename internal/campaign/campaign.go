// Package campaign runs one mail-merge campaign: it checks the transport,
// drives the sequential batch, feeds every outcome to the evidence recorder
// and finalizes the record exactly once.
package campaign

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shineum/mailmerge-lite/internal/delivery"
	"github.com/shineum/mailmerge-lite/internal/evidence"
	"github.com/shineum/mailmerge-lite/internal/message"
	"github.com/shineum/mailmerge-lite/internal/recipient"
	"github.com/shineum/mailmerge-lite/internal/transport"
)

// Recorder is the evidence sink of a run. *evidence.Recorder satisfies it.
type Recorder interface {
	SetCampaignInfo(method, sender, subject string)
	RecordDelivery(o delivery.Outcome)
	Log(level, msg string)
	Finalize() evidence.Summary
	Dir() string
}

// HistoryStore indexes finished campaigns. *history.Store satisfies it.
type HistoryStore interface {
	RecordCampaign(ctx context.Context, summary evidence.Summary) (int64, error)
}

// Archiver copies a finished campaign directory elsewhere.
// *archive.Archiver satisfies it.
type Archiver interface {
	UploadDir(ctx context.Context, dir string) ([]string, error)
}

// Callbacks report progress to the caller. They are invoked from the
// goroutine running Run, one at a time and in recipient order.
type Callbacks struct {
	// Progress is called after each recipient's outcome is known. index is 1-based.
	Progress func(index, total int, r recipient.Recipient, o delivery.Outcome)
	// Stats is called with the running totals after each recipient and once
	// more at the end of the run.
	Stats func(s delivery.Stats)
	// Log receives the human-readable progress lines.
	Log func(line string)
}

// Job is one campaign run.
type Job struct {
	Subject     string
	Recipients  []recipient.Recipient
	Render      transport.RenderFunc
	HTML        bool
	Attachments []message.Attachment
	Delay       time.Duration
	Transport   transport.Transport
	Recorder    Recorder
	Stop        transport.StopSignal
	Callbacks   Callbacks
}

// Result is the outcome of a run.
type Result struct {
	Stats    delivery.Stats
	Outcomes []delivery.Outcome
	Summary  evidence.Summary
}

// Runner executes campaigns. History and Archive are optional hooks run
// after the record is finalized; their failures are only logged.
type Runner struct {
	History HistoryStore
	Archive Archiver
	// Sleep overrides the pacing wait, used by tests.
	Sleep  transport.SleepFunc
	logger *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger.With("component", "campaign")}
}

// Run delivers the job. When the transport is not ready no message is
// attempted, every recipient is recorded as failed and the returned error
// wraps transport.ErrNotReady. Otherwise the error is nil: per-recipient
// failures are reported in the outcomes.
func (rn *Runner) Run(ctx context.Context, job Job) (Result, error) {
	t := job.Transport
	rec := job.Recorder
	total := len(job.Recipients)
	logger := rn.logger.With("transport", string(t.Method()), "recipients", total)

	rec.SetCampaignInfo(string(t.Method()), t.Sender(), job.Subject)
	defer func() {
		if err := t.Close(); err != nil {
			logger.Warn("failed to close transport", "error", err)
		}
	}()

	if err := t.Ready(ctx); err != nil {
		logger.Error("transport not ready, aborting campaign", "error", err)
		rec.Log("ERROR", "Transporte indisponível: "+err.Error())
		res := rn.abort(job, err)
		res.Summary = rn.finish(ctx, job, rec, res.Stats)
		return res, err
	}

	var stats delivery.Stats
	stats.Total = total
	outcomes := transport.SendBatch(ctx, t, transport.Batch{
		Subject:     job.Subject,
		Recipients:  job.Recipients,
		Render:      job.Render,
		HTML:        job.HTML,
		Attachments: job.Attachments,
		Delay:       job.Delay,
		Stop:        job.Stop,
		Sleep:       rn.Sleep,
		OnOutcome: func(index, total int, r recipient.Recipient, o delivery.Outcome) {
			rec.RecordDelivery(o)
			stats.Add(o)
			rn.emit(job.Callbacks, fmt.Sprintf("[%d/%d] %s: %s", index, total, displayAddress(r), o.Message))
			if job.Callbacks.Progress != nil {
				job.Callbacks.Progress(index, total, r, o)
			}
			if job.Callbacks.Stats != nil {
				job.Callbacks.Stats(stats)
			}
		},
	}, logger)

	if len(outcomes) < total {
		rec.Log("WARNING", fmt.Sprintf("Envio interrompido após %d de %d destinatários", len(outcomes), total))
		rn.emit(job.Callbacks, fmt.Sprintf("stopped after %d of %d recipients", len(outcomes), total))
	}

	stats.Total = len(outcomes)
	res := Result{Stats: stats, Outcomes: outcomes}
	res.Summary = rn.finish(ctx, job, rec, stats)
	return res, nil
}

// abort records every recipient as failed without rendering or sending.
func (rn *Runner) abort(job Job, cause error) Result {
	res := Result{Stats: delivery.Stats{Total: len(job.Recipients)}}
	msg := "transport not ready: " + cause.Error()
	for _, r := range job.Recipients {
		o := delivery.Outcome{
			Email:           r.Email,
			Subject:         job.Subject,
			Status:          delivery.StatusFailed,
			Message:         msg,
			AttachmentCount: len(job.Attachments),
			Timestamp:       time.Now(),
		}
		job.Recorder.RecordDelivery(o)
		res.Stats.Add(o)
		res.Outcomes = append(res.Outcomes, o)
	}
	return res
}

// finish finalizes the record, emits the final stats and runs the hooks.
func (rn *Runner) finish(ctx context.Context, job Job, rec Recorder, stats delivery.Stats) evidence.Summary {
	summary := rec.Finalize()
	if job.Callbacks.Stats != nil {
		job.Callbacks.Stats(stats)
	}
	rn.emit(job.Callbacks, fmt.Sprintf("done: %d sent, %d failed, evidence in %s", stats.Sent, stats.Failed, rec.Dir()))

	if rn.History != nil {
		if id, err := rn.History.RecordCampaign(ctx, summary); err != nil {
			rn.logger.Warn("failed to record campaign history", "error", err)
		} else {
			rn.logger.Debug("campaign indexed", "id", id)
		}
	}
	if rn.Archive != nil {
		if keys, err := rn.Archive.UploadDir(ctx, rec.Dir()); err != nil {
			rn.logger.Warn("failed to archive campaign evidence", "error", err, "uploaded", len(keys))
		}
	}
	return summary
}

func (rn *Runner) emit(cb Callbacks, line string) {
	if cb.Log != nil {
		cb.Log(line)
	}
}

func displayAddress(r recipient.Recipient) string {
	if r.Email == "" {
		return "(sem email)"
	}
	return r.Email
}
