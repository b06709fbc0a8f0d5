package main

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/shineum/mailmerge-lite/internal/config"
	"github.com/shineum/mailmerge-lite/internal/history"
	"github.com/shineum/mailmerge-lite/internal/recipient"
	"github.com/shineum/mailmerge-lite/internal/template"
)

func (a *app) preview(args []string) error {
	fs := flag.NewFlagSet("preview", flag.ContinueOnError)
	templatePath := fs.String("template", "", ".txt or .html body template (required)")
	recipientsPath := fs.String("recipients", "", "CSV file to take the sample row from (optional)")
	row := fs.Int("row", 1, "1-based recipient row used for the preview")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *templatePath == "" {
		return fmt.Errorf("%w: preview requires -template", errUsage)
	}

	tmpl, err := template.Load(*templatePath)
	if err != nil {
		return err
	}

	if *recipientsPath == "" {
		fmt.Fprintln(a.out, tmpl.Preview(nil))
		return nil
	}

	recipients, err := recipient.ReadCSVFile(*recipientsPath)
	if err != nil {
		return err
	}
	if *row < 1 || *row > len(recipients) {
		return fmt.Errorf("%w: row %d out of range 1..%d", errUsage, *row, len(recipients))
	}
	a.warnMissingColumns(tmpl, recipients)

	body, err := tmpl.Render(recipients[*row-1])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "To: %s\n\n%s\n", recipients[*row-1].Email, body)
	return nil
}

// check connects and authenticates without sending anything.
func (a *app) check(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.cfg.Validate(""); err != nil {
		return err
	}

	t, err := a.newTransport(ctx)
	if err != nil {
		return err
	}
	defer t.Close()

	if err := t.Ready(ctx); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s transport ready, sending as %s\n", t.Method(), t.Sender())
	return nil
}

func (a *app) auth(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	m, err := a.oauthManager()
	if err != nil {
		return err
	}
	if err := m.Authenticate(ctx); err != nil {
		return err
	}

	addr, err := m.AuthenticatedAddress(ctx)
	if err != nil {
		a.logger.Warn("could not read authenticated address", "error", err)
		fmt.Fprintf(a.out, "authorized %s\n", m.Identity())
		return nil
	}
	if !m.VerifyIdentity(ctx) {
		fmt.Fprintf(a.out, "authorized as %s, which differs from GOOGLE_EMAIL %s\n", addr, m.Identity())
		return nil
	}
	fmt.Fprintf(a.out, "authorized %s\n", addr)
	return nil
}

func (a *app) revoke(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("revoke", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	m, err := a.oauthManager()
	if err != nil {
		return err
	}
	m.Revoke(ctx)
	fmt.Fprintf(a.out, "token for %s revoked\n", m.Identity())
	return nil
}

// configure persists transport settings to the env file after validating
// them, mirroring what a settings dialog would save.
func (a *app) configure(args []string) error {
	cfg := *a.cfg
	fs := flag.NewFlagSet("configure", flag.ContinueOnError)
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "direct-smtp, provider-api, ses or dry-run")
	fs.StringVar(&cfg.SMTP.Server, "smtp-server", cfg.SMTP.Server, "SMTP server host")
	fs.IntVar(&cfg.SMTP.Port, "smtp-port", cfg.SMTP.Port, "SMTP server port")
	fs.StringVar(&cfg.SMTP.Email, "smtp-email", cfg.SMTP.Email, "SMTP login and sender address")
	fs.StringVar(&cfg.SMTP.Password, "smtp-password", cfg.SMTP.Password, "SMTP password or app password")
	fs.StringVar(&cfg.Google.Email, "google-email", cfg.Google.Email, "provider API sender identity")
	fs.StringVar(&cfg.SES.Region, "ses-region", cfg.SES.Region, "SES region")
	fs.StringVar(&cfg.SES.Sender, "ses-sender", cfg.SES.Sender, "SES sender address")
	fs.Float64Var(&cfg.Delay, "delay", cfg.Delay, "seconds between recipients")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := cfg.Validate(""); err != nil {
		return err
	}
	if err := cfg.SaveEnv(a.envPath); err != nil {
		return err
	}
	a.logger.Info("configuration saved", "path", a.envPath, "transport", cfg.Transport)
	fmt.Fprintf(a.out, "settings saved to %s\n", a.envPath)
	return nil
}

func (a *app) history(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "number of campaigns to list")
	id := fs.Int64("id", 0, "list the deliveries of one campaign")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !a.cfg.HistoryEnabled() {
		return fmt.Errorf("%w: HISTORY_DB is not set", config.ErrInvalidConfig)
	}

	store, err := history.Open(ctx, a.cfg.History.DB)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	if *id > 0 {
		deliveries, err := store.Deliveries(ctx, *id)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "EMAIL\tSTATUS\tWHEN\tPROVIDER ID\tMESSAGE")
		for _, d := range deliveries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				d.Email, d.Status, d.Timestamp.Format("2006-01-02 15:04:05"), d.ProviderMessageID, d.Message)
		}
		return nil
	}

	campaigns, err := store.ListCampaigns(ctx, *limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "ID\tNAME\tSTARTED\tMETHOD\tSENT\tFAILED\tDIRECTORY")
	for _, c := range campaigns {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%s\n",
			c.ID, c.Name, humanize.Time(c.StartedAt), c.Method, c.Sent, c.Failed, c.Directory)
	}
	return nil
}
