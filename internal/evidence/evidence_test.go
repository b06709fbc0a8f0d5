package evidence

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mailmerge-lite/internal/delivery"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var campaignStart = time.Date(2026, 1, 15, 15, 58, 7, 0, time.Local)

func sentOutcome(email string) delivery.Outcome {
	return delivery.Outcome{
		Email:             email,
		Subject:           "Hello",
		Status:            delivery.StatusSent,
		Message:           "sent",
		ProviderMessageID: "pm-" + email,
		MessageID:         "<id@example.com>",
		Headers:           map[string]string{"Subject": "Hello"},
		Raw:               []byte("Subject: Hello\r\n\r\nHi " + email + "\r\n"),
		Timestamp:         campaignStart,
		Attempts:          1,
	}
}

func failedOutcome(email, msg string) delivery.Outcome {
	return delivery.Outcome{Email: email, Subject: "Hello", Status: delivery.StatusFailed, Message: msg, Timestamp: campaignStart}
}

func readSummary(t *testing.T, path string) Summary {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var s Summary
	require.NoError(t, json.Unmarshal(data, &s))
	return s
}

func emlFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.eml"))
	require.NoError(t, err)
	return matches
}

func TestSanitizeName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"Campanha Ação", "campanha-acao"},
		{"  --Hello__World--  ", "hello-world"},
		{"Promo 2026/01", "promo-202601"},
		{"!!!", "campanha"},
		{"", "campanha"},
		{"Já  é   Natal", "ja-e-natal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeName(tt.in), "input %q", tt.in)
	}
}

func TestSafeAddress(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "ana_silva_at_example_com", SafeAddress("ana.silva@example.com"))
}

func TestNew_CreatesCampaignDirectory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	src := t.TempDir()
	tpl := filepath.Join(src, "body.TXT")
	att := filepath.Join(src, "doc.pdf")
	require.NoError(t, os.WriteFile(tpl, []byte("Hi {{nome}}"), 0o644))
	require.NoError(t, os.WriteFile(att, []byte("%PDF"), 0o644))

	r, err := New(Options{
		Root:         root,
		Name:         "Campanha Ação",
		TemplatePath: tpl,
		Attachments:  []string{att, filepath.Join(src, "missing.bin")},
		Recipients:   []string{"a@x.com", "b@x.com"},
		Now:          fixedClock(campaignStart),
	}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "campanha-acao-150126-1558"), r.Dir())
	assert.Equal(t, filepath.Join(r.Dir(), "log_20260115_155807.txt"), r.LogPath())

	got, err := os.ReadFile(filepath.Join(r.Dir(), "template.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Hi {{nome}}", string(got))

	got, err = os.ReadFile(filepath.Join(r.Dir(), AttachmentsDir, "doc.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(got))

	manifest, err := os.ReadFile(filepath.Join(r.Dir(), ManifestFile))
	require.NoError(t, err)
	assert.Contains(t, string(manifest), "Total: 2")
	assert.Contains(t, string(manifest), "   1. a@x.com\n")
	assert.Contains(t, string(manifest), "   2. b@x.com\n")

	logData, err := os.ReadFile(r.LogPath())
	require.NoError(t, err)
	assert.Contains(t, string(logData), "CAMPANHA: Campanha Ação")
	assert.Contains(t, string(logData), "[WARNING] Erro ao copiar anexo")
}

func TestNew_DirectoryCollision(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	opts := Options{Root: root, Name: "news", Now: fixedClock(campaignStart)}

	first, err := New(opts, testLogger())
	require.NoError(t, err)
	second, err := New(opts, testLogger())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "news-150126-1558"), first.Dir())
	assert.Equal(t, filepath.Join(root, "news-150126-1558-2"), second.Dir())
}

func TestNew_DefaultName(t *testing.T) {
	t.Parallel()

	r, err := New(Options{Root: t.TempDir(), Now: fixedClock(campaignStart)}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "campanha_20260115_155807", r.Summary().Campaign)
	assert.Equal(t, "campanha-20260115-155807-150126-1558", filepath.Base(r.Dir()))
}

func TestRecorder_HappyPath(t *testing.T) {
	t.Parallel()

	r, err := New(Options{Root: t.TempDir(), Name: "happy", Now: fixedClock(campaignStart)}, testLogger())
	require.NoError(t, err)
	r.SetCampaignInfo("direct-smtp", "sender@example.com", "Hello")

	for _, e := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		r.RecordDelivery(sentOutcome(e))
	}
	s := r.Finalize()

	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 3, s.Sent)
	assert.Equal(t, 0, s.Failed)
	assert.Len(t, emlFiles(t, r.Dir()), 3)

	onDisk := readSummary(t, r.SummaryPath())
	assert.Equal(t, 3, onDisk.Total)
	assert.Equal(t, 3, onDisk.Sent)
	assert.Equal(t, "direct-smtp", onDisk.Method)
	assert.Equal(t, "sender@example.com", onDisk.Sender)
	require.Len(t, onDisk.Entries, 3)
	assert.Equal(t, StatusSent, onDisk.Entries[0].Status)
	assert.Equal(t, "pm-a@x.com", onDisk.Entries[0].ProviderMessageID)
	require.NotNil(t, onDisk.FinishedAt)

	eml, err := os.ReadFile(onDisk.Entries[1].EMLPath)
	require.NoError(t, err)
	assert.Equal(t, sentOutcome("b@x.com").Raw, eml)
	assert.Equal(t, int64(len(eml)), onDisk.Entries[1].EMLSize)
	assert.Equal(t, filepath.Join(r.Dir(), "b_at_x_com_20260115_155807.eml"), onDisk.Entries[1].EMLPath)

	raw, err := os.ReadFile(r.SummaryPath())
	require.NoError(t, err)
	for _, key := range []string{`"campanha"`, `"timestamp_inicio"`, `"timestamp_fim"`, `"enviados"`, `"erros"`, `"metodo_envio"`, `"remetente"`, `"assunto"`, `"emails"`, `"mensagem"`} {
		assert.Contains(t, string(raw), key)
	}
}

func TestRecorder_FailureHasNoEML(t *testing.T) {
	t.Parallel()

	r, err := New(Options{Root: t.TempDir(), Name: "mixed", Now: fixedClock(campaignStart)}, testLogger())
	require.NoError(t, err)

	r.RecordDelivery(sentOutcome("a@x.com"))
	r.RecordDelivery(failedOutcome("", "missing address"))
	r.RecordDelivery(sentOutcome("c@x.com"))
	s := r.Finalize()

	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Sent)
	assert.Equal(t, 1, s.Failed)
	assert.Len(t, emlFiles(t, r.Dir()), 2)
	assert.Equal(t, StatusFailed, s.Entries[1].Status)
	assert.Empty(t, s.Entries[1].EMLPath)
	assert.Equal(t, "missing address", s.Entries[1].Message)

	logData, err := os.ReadFile(r.LogPath())
	require.NoError(t, err)
	assert.Contains(t, string(logData), "[ERROR] ✗ Erro ao enviar:  - missing address")
	assert.Contains(t, string(logData), "Erros: 1")
}

func TestRecorder_EMLNamesDeduplicated(t *testing.T) {
	t.Parallel()

	r, err := New(Options{Root: t.TempDir(), Name: "dup", Now: fixedClock(campaignStart)}, testLogger())
	require.NoError(t, err)

	r.RecordDelivery(sentOutcome("a@x.com"))
	r.RecordDelivery(sentOutcome("a@x.com"))
	s := r.Finalize()

	require.Len(t, s.Entries, 2)
	assert.NotEqual(t, s.Entries[0].EMLPath, s.Entries[1].EMLPath)
	assert.True(t, strings.HasSuffix(s.Entries[1].EMLPath, "a_at_x_com_20260115_155807-1.eml"))
}

func TestRecorder_FinalizeOnce(t *testing.T) {
	t.Parallel()

	r, err := New(Options{Root: t.TempDir(), Name: "once", Now: fixedClock(campaignStart)}, testLogger())
	require.NoError(t, err)

	r.RecordDelivery(sentOutcome("a@x.com"))
	first := r.Finalize()
	before, err := os.ReadFile(r.SummaryPath())
	require.NoError(t, err)

	r.RecordDelivery(sentOutcome("b@x.com"))
	second := r.Finalize()
	after, err := os.ReadFile(r.SummaryPath())
	require.NoError(t, err)

	assert.Equal(t, before, after, "summary must not change after finalize")
	assert.Equal(t, first.Total, second.Total)
	assert.Equal(t, 1, readSummary(t, r.SummaryPath()).Sent)
	assert.Len(t, emlFiles(t, r.Dir()), 1)
	assert.True(t, r.Finalized())
}

func TestRecorder_IOFailuresAreSwallowed(t *testing.T) {
	t.Parallel()

	r, err := New(Options{Root: t.TempDir(), Name: "gone", Now: fixedClock(campaignStart)}, testLogger())
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(r.Dir()))

	assert.NotPanics(t, func() {
		r.RecordDelivery(sentOutcome("a@x.com"))
		r.Log("INFO", "still running")
		s := r.Finalize()
		assert.Equal(t, 1, s.Sent)
	})
}
