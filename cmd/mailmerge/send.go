package main

import (
	"context"
	"flag"
	"fmt"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/shineum/mailmerge-lite/internal/archive"
	"github.com/shineum/mailmerge-lite/internal/campaign"
	"github.com/shineum/mailmerge-lite/internal/config"
	"github.com/shineum/mailmerge-lite/internal/evidence"
	"github.com/shineum/mailmerge-lite/internal/history"
	"github.com/shineum/mailmerge-lite/internal/message"
	"github.com/shineum/mailmerge-lite/internal/oauth"
	"github.com/shineum/mailmerge-lite/internal/recipient"
	"github.com/shineum/mailmerge-lite/internal/template"
)

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func (a *app) send(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	recipientsPath := fs.String("recipients", "", "CSV file with an email column (required)")
	templatePath := fs.String("template", "", ".txt or .html body template (required)")
	subject := fs.String("subject", "", "message subject (required)")
	name := fs.String("name", "", "campaign name used for the evidence directory")
	delay := fs.Float64("delay", -1, "seconds between recipients (default from EMAIL_DELAY)")
	var attachments stringList
	fs.Var(&attachments, "attach", "file attached to every message (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *recipientsPath == "" || *templatePath == "" || strings.TrimSpace(*subject) == "" {
		return fmt.Errorf("%w: send requires -recipients, -template and -subject", errUsage)
	}
	if *delay >= 0 {
		a.cfg.Delay = *delay
	}
	if err := a.cfg.Validate(""); err != nil {
		return err
	}

	recipients, err := recipient.ReadCSVFile(*recipientsPath)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients in %s", *recipientsPath)
	}

	tmpl, err := template.Load(*templatePath)
	if err != nil {
		return err
	}
	a.warnMissingColumns(tmpl, recipients)

	atts, err := message.LoadAttachments(attachments)
	if err != nil {
		return err
	}
	if len(atts) > 0 {
		a.logger.Info("attachments loaded",
			"count", len(atts),
			"size", humanize.IBytes(uint64(message.TotalSize(atts))),
		)
	}

	t, err := a.newTransport(ctx)
	if err != nil {
		return err
	}
	if a.cfg.Transport == config.TransportProviderAPI {
		m, err := a.oauthManager()
		if err != nil {
			return err
		}
		if err := a.ensureAuthorized(ctx, m); err != nil {
			return err
		}
	}

	rec, err := evidence.New(evidence.Options{
		Root:         a.cfg.Evidence.Dir,
		Name:         *name,
		TemplatePath: *templatePath,
		Attachments:  attachments,
		Recipients:   recipient.Emails(recipients),
	}, a.logger)
	if err != nil {
		return err
	}

	runner := campaign.NewRunner(a.logger)
	if a.cfg.HistoryEnabled() {
		store, err := history.Open(ctx, a.cfg.History.DB)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		runner.History = store
	}
	if a.cfg.ArchiveEnabled() {
		arch, err := archive.New(ctx, archive.Config{
			Bucket:   a.cfg.Archive.Bucket,
			Region:   a.cfg.Archive.Region,
			Prefix:   a.cfg.Archive.Prefix,
			Endpoint: a.cfg.Archive.Endpoint,
		}, a.logger)
		if err != nil {
			return err
		}
		runner.Archive = arch
	}

	a.logger.Info("starting campaign",
		"recipients", len(recipients),
		"transport", a.cfg.Transport,
		"delay", a.cfg.DelayDuration(),
		"evidence_dir", rec.Dir(),
	)

	res, err := runner.Run(ctx, campaign.Job{
		Subject:     *subject,
		Recipients:  recipients,
		Render:      tmpl.Render,
		HTML:        tmpl.IsHTML(),
		Attachments: atts,
		Delay:       a.cfg.DelayDuration(),
		Transport:   t,
		Recorder:    rec,
		Stop:        a.stop,
		Callbacks: campaign.Callbacks{
			Log: func(line string) { fmt.Fprintln(a.out, line) },
		},
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "\nsent: %d  failed: %d  processed: %d of %d\nevidence: %s\n",
		res.Stats.Sent, res.Stats.Failed, res.Stats.Total, len(recipients), rec.Dir())
	return nil
}

// ensureAuthorized runs the interactive grant when no usable token exists.
func (a *app) ensureAuthorized(ctx context.Context, m *oauth.Manager) error {
	if m.IsAuthenticated(ctx) {
		return nil
	}
	fmt.Fprintf(a.out, "Authorization required for %s.\n", m.Identity())
	if err := m.Authenticate(ctx); err != nil {
		return err
	}
	m.VerifyIdentity(ctx)
	return nil
}

// warnMissingColumns reports template placeholders that no CSV column
// provides. They render as empty strings.
func (a *app) warnMissingColumns(tmpl *template.Template, recipients []recipient.Recipient) {
	columns := make([]string, 0)
	for k := range recipients[0].Fields() {
		columns = append(columns, k)
	}
	var missing []string
	for _, p := range tmpl.Placeholders() {
		if !slices.Contains(columns, p) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		a.logger.Warn("template placeholders without a matching column render empty",
			"placeholders", strings.Join(missing, ", "),
		)
	}
}
