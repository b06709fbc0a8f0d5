package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mailmerge-lite/internal/config"
	"github.com/shineum/mailmerge-lite/internal/evidence"
	"github.com/shineum/mailmerge-lite/internal/transport"
)

func newTestApp(t *testing.T, cfg *config.Config) (*app, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	return &app{
		cfg:     cfg,
		envPath: filepath.Join(t.TempDir(), ".env"),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		out:     out,
		stop:    transport.NewStopFlag(),
	}, out
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestRun_UnknownCommand(t *testing.T) {
	a, _ := newTestApp(t, &config.Config{})
	err := a.run(context.Background(), "launch", nil)
	assert.True(t, errors.Is(err, errUsage))
}

func TestSend_DryRunCampaign(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeFile(t, dir, "lista.csv", "nome,email\nAna,ana@example.com\nBruno,bruno@example.com\n")
	tmplPath := writeFile(t, dir, "corpo.txt", "Olá {{nome}}, seu código é {{codigo}}.")
	attPath := writeFile(t, dir, "edital.pdf", "%PDF-1.4 fake")

	cfg := &config.Config{
		Transport: config.TransportDryRun,
		Evidence:  config.EvidenceConfig{Dir: filepath.Join(dir, "comprovacoes")},
		History:   config.HistoryConfig{DB: filepath.Join(dir, "history.db")},
	}
	a, out := newTestApp(t, cfg)

	err := a.run(context.Background(), "send", []string{
		"-recipients", csvPath,
		"-template", tmplPath,
		"-subject", "Convite",
		"-name", "Convite Março",
		"-attach", attPath,
	})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Olá Ana, seu código é .")
	assert.Contains(t, out.String(), "[2/2] bruno@example.com")
	assert.Contains(t, out.String(), "sent: 2  failed: 0")

	campaigns, err := filepath.Glob(filepath.Join(cfg.Evidence.Dir, "convite-marco-*"))
	require.NoError(t, err)
	require.Len(t, campaigns, 1)
	assert.FileExists(t, filepath.Join(campaigns[0], evidence.SummaryFile))
	assert.FileExists(t, filepath.Join(campaigns[0], evidence.AttachmentsDir, "edital.pdf"))

	out.Reset()
	require.NoError(t, a.run(context.Background(), "history", nil))
	assert.Contains(t, out.String(), "convite-marco")
	assert.Contains(t, out.String(), string(config.TransportDryRun))
}

func TestSend_RequiresFlags(t *testing.T) {
	a, _ := newTestApp(t, &config.Config{Transport: config.TransportDryRun})
	err := a.run(context.Background(), "send", []string{"-subject", "x"})
	assert.True(t, errors.Is(err, errUsage))
}

func TestSend_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeFile(t, dir, "lista.csv", "email\nana@example.com\n")
	tmplPath := writeFile(t, dir, "corpo.txt", "oi")

	a, _ := newTestApp(t, &config.Config{Transport: config.TransportDirectSMTP, Delay: 2.5})
	err := a.run(context.Background(), "send", []string{
		"-recipients", csvPath, "-template", tmplPath, "-subject", "x",
	})
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
}

func TestPreview(t *testing.T) {
	dir := t.TempDir()
	tmplPath := writeFile(t, dir, "corpo.html", "<p>Prezado(a) {{Nome}}</p>")
	csvPath := writeFile(t, dir, "lista.csv", "Nome,Email\nAna,ana@example.com\nBruno,bruno@example.com\n")

	a, out := newTestApp(t, &config.Config{})
	require.NoError(t, a.run(context.Background(), "preview", []string{"-template", tmplPath, "-recipients", csvPath, "-row", "2"}))
	assert.Contains(t, out.String(), "To: bruno@example.com")
	assert.Contains(t, out.String(), "<p>Prezado(a) Bruno</p>")

	out.Reset()
	require.NoError(t, a.run(context.Background(), "preview", []string{"-template", tmplPath}))
	assert.Contains(t, out.String(), "Nome do Destinatário")

	err := a.run(context.Background(), "preview", []string{"-template", tmplPath, "-recipients", csvPath, "-row", "5"})
	assert.True(t, errors.Is(err, errUsage))
}

func TestCheck_DryRun(t *testing.T) {
	a, out := newTestApp(t, &config.Config{Transport: config.TransportDryRun})
	require.NoError(t, a.run(context.Background(), "check", nil))
	assert.Contains(t, out.String(), "dry-run transport ready, sending as "+dryRunSender)
}

func TestConfigure_SavesEnv(t *testing.T) {
	a, out := newTestApp(t, &config.Config{
		Transport: config.TransportDirectSMTP,
		Delay:     2.5,
		SMTP:      config.SMTPConfig{Server: "smtp.gmail.com", Port: 587, TLSMode: "starttls"},
	})
	require.NoError(t, a.run(context.Background(), "configure", []string{
		"-smtp-email", "me@example.com",
		"-smtp-password", "app-password",
		"-delay", "1",
	}))
	assert.Contains(t, out.String(), "settings saved")

	data, err := os.ReadFile(a.envPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "SMTP_EMAIL=")
	assert.Contains(t, string(data), "me@example.com")
}

func TestConfigure_RejectsMissingPassword(t *testing.T) {
	a, _ := newTestApp(t, &config.Config{
		Transport: config.TransportDirectSMTP,
		SMTP:      config.SMTPConfig{Server: "smtp.gmail.com", Port: 587, TLSMode: "starttls"},
	})
	err := a.run(context.Background(), "configure", []string{"-smtp-email", "me@example.com"})
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
	assert.NoFileExists(t, a.envPath)
}

func TestAuth_RequiresIdentity(t *testing.T) {
	a, _ := newTestApp(t, &config.Config{Transport: config.TransportProviderAPI})
	err := a.run(context.Background(), "auth", nil)
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
}

func TestProviderAPI_SharesOneManager(t *testing.T) {
	dir := t.TempDir()
	logs := &bytes.Buffer{}
	a, _ := newTestApp(t, &config.Config{
		Transport: config.TransportProviderAPI,
		Google: config.GoogleConfig{
			Email:           "me@example.com",
			CredentialsFile: filepath.Join(dir, "credentials.json"),
			CredentialsDir:  filepath.Join(dir, "credentials"),
		},
	})
	a.logger = slog.New(slog.NewTextHandler(logs, nil))

	tr, err := a.newTransport(context.Background())
	require.NoError(t, err)
	defer tr.Close()
	first, err := a.oauthManager()
	require.NoError(t, err)
	second, err := a.oauthManager()
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, strings.Count(logs.String(), "oauth client secrets not found"))
}
