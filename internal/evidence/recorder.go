// Package evidence keeps the on-disk audit record of a campaign: the raw
// message of every successful send, copies of the template and attachments,
// the recipient manifest, a human-readable log and the final JSON summary.
package evidence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shineum/mailmerge-lite/internal/delivery"
)

// File names inside a campaign directory.
const (
	SummaryFile     = "resumo.json"
	ManifestFile    = "destinatarios.txt"
	AttachmentsDir  = "anexos"
	templateBase    = "template"
	logTimeLayout   = "2006-01-02 15:04:05"
	fileStampLayout = "20060102_150405"
	dirStampLayout  = "020106-1504"
)

var rule = strings.Repeat("=", 80)

// Options describe a new campaign record.
type Options struct {
	// Root is the directory that holds all campaign directories.
	Root string
	// Name is the user supplied campaign name. A timestamped default is used
	// when empty.
	Name string
	// TemplatePath is copied as template.<ext> when set.
	TemplatePath string
	// Attachments are copied into anexos/.
	Attachments []string
	// Recipients is the full address manifest.
	Recipients []string
	// Now overrides the clock, used by tests.
	Now func() time.Time
}

// Recorder owns one campaign directory. All write failures after the
// directory exists are logged and never returned.
type Recorder struct {
	dir     string
	logPath string
	now     func() time.Time
	logger  *slog.Logger

	mu        sync.Mutex
	logFile   *os.File
	summary   Summary
	finalized bool
}

// New creates the campaign directory and seeds it with the template,
// attachment copies and the recipient manifest.
func New(opts Options, logger *slog.Logger) (*Recorder, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	started := now()

	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = "campanha_" + started.Format(fileStampLayout)
	}

	dir, err := createCampaignDir(opts.Root, SanitizeName(name)+"-"+started.Format(dirStampLayout))
	if err != nil {
		return nil, err
	}

	r := &Recorder{
		dir:     dir,
		logPath: filepath.Join(dir, "log_"+started.Format(fileStampLayout)+".txt"),
		now:     now,
		logger:  logger.With("component", "evidence", "dir", dir),
		summary: Summary{
			Campaign:  name,
			StartedAt: started,
			Directory: dir,
			Entries:   []Entry{},
		},
	}

	f, err := os.OpenFile(r.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		r.logger.Error("failed to open campaign log", "error", err)
	} else {
		r.logFile = f
	}

	r.Log("INFO", rule)
	r.Log("INFO", "CAMPANHA: "+name)
	r.Log("INFO", "INÍCIO: "+started.Format(logTimeLayout))
	r.Log("INFO", rule)

	r.copyCampaignFiles(opts.TemplatePath, opts.Attachments)
	if len(opts.Recipients) > 0 {
		r.writeManifest(opts.Recipients)
	}
	return r, nil
}

// createCampaignDir creates root/base, adding -2, -3... when it already exists.
func createCampaignDir(root, base string) (string, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("failed to create evidence root: %w", err)
	}
	for i := 1; ; i++ {
		name := base
		if i > 1 {
			name = fmt.Sprintf("%s-%d", base, i)
		}
		dir := filepath.Join(root, name)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("failed to create campaign directory: %w", err)
		}
	}
}

// Dir returns the campaign directory.
func (r *Recorder) Dir() string { return r.dir }

// LogPath returns the human-readable log file path.
func (r *Recorder) LogPath() string { return r.logPath }

// SummaryPath returns the path of resumo.json.
func (r *Recorder) SummaryPath() string { return filepath.Join(r.dir, SummaryFile) }

// Log appends one line to the campaign log, falling back to the process
// logger when the file cannot be written.
func (r *Recorder) Log(level, msg string) {
	line := fmt.Sprintf("[%s] [%s] %s\n", r.now().Format(logTimeLayout), level, msg)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeLogLocked(line)
}

func (r *Recorder) writeLogLocked(line string) {
	if r.logFile != nil {
		if _, err := io.WriteString(r.logFile, line); err == nil {
			return
		}
	}
	r.logger.Warn("campaign log unavailable", "line", strings.TrimSpace(line))
}

func (r *Recorder) logf(level, format string, args ...any) {
	r.Log(level, fmt.Sprintf(format, args...))
}

// SetCampaignInfo records the transport, sender and subject of the run.
func (r *Recorder) SetCampaignInfo(method, sender, subject string) {
	r.mu.Lock()
	r.summary.Method = method
	r.summary.Sender = sender
	r.summary.Subject = subject
	r.mu.Unlock()

	r.logf("INFO", "Método de envio: %s", method)
	r.logf("INFO", "Remetente: %s", sender)
	r.logf("INFO", "Assunto: %s", subject)
}

// RecordDelivery appends one outcome to the ledger. Successful outcomes also
// get their raw message saved as an .eml file. Calls after Finalize are
// ignored.
func (r *Recorder) RecordDelivery(o delivery.Outcome) {
	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		r.logger.Warn("delivery recorded after finalize ignored", "email", o.Email)
		return
	}

	entry := newEntry(o)
	if o.Sent() {
		if len(o.Raw) == 0 {
			r.logger.Warn("sent outcome without raw message", "email", o.Email)
		} else if path, size, err := r.saveEML(o.Email, entry.Timestamp, o.Raw); err != nil {
			r.logger.Error("failed to save eml", "email", o.Email, "error", err)
		} else {
			entry.EMLPath = path
			entry.EMLSize = size
		}
		r.summary.Sent++
	} else {
		r.summary.Failed++
	}
	r.summary.Entries = append(r.summary.Entries, entry)
	r.mu.Unlock()

	if !o.Sent() {
		r.logf("ERROR", "✗ Erro ao enviar: %s - %s", o.Email, o.Message)
		return
	}
	r.logf("INFO", "✓ Email enviado: %s", o.Email)
	if o.ProviderMessageID != "" {
		r.logf("INFO", "  Provider Message ID: %s", o.ProviderMessageID)
	}
	if o.ThreadID != "" {
		r.logf("INFO", "  Provider Thread ID: %s", o.ThreadID)
	}
	if o.MessageID != "" {
		r.logf("INFO", "  Message-ID: %s", o.MessageID)
	}
	keys := make([]string, 0, len(o.Headers))
	for k := range o.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r.logf("INFO", "  %s: %s", k, o.Headers[k])
	}
}

// saveEML writes raw to a file named after the address and send time,
// adding -1, -2... when several sends share the same second.
func (r *Recorder) saveEML(addr string, ts time.Time, raw []byte) (string, int64, error) {
	base := SafeAddress(addr) + "_" + ts.Format(fileStampLayout)
	for i := 0; ; i++ {
		name := base + ".eml"
		if i > 0 {
			name = fmt.Sprintf("%s-%d.eml", base, i)
		}
		path := filepath.Join(r.dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", 0, err
		}
		n, err := f.Write(raw)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return "", 0, err
		}
		return path, int64(n), nil
	}
}

// Finalize writes resumo.json exactly once and closes the log. Later calls
// are no-ops.
func (r *Recorder) Finalize() Summary {
	r.mu.Lock()
	if r.finalized {
		s := r.summary.clone()
		r.mu.Unlock()
		return s
	}
	r.finalized = true
	finished := r.now()
	r.summary.FinishedAt = &finished
	r.summary.Total = len(r.summary.Entries)
	s := r.summary.clone()
	r.mu.Unlock()

	if err := writeJSON(r.SummaryPath(), s); err != nil {
		r.logger.Error("failed to write campaign summary", "error", err)
		r.Log("ERROR", "Erro ao salvar resumo: "+err.Error())
	} else {
		r.Log("INFO", rule)
		r.Log("INFO", "FIM: "+finished.Format(logTimeLayout))
		r.logf("INFO", "Total: %d", s.Total)
		r.logf("INFO", "Enviados: %d", s.Sent)
		r.logf("INFO", "Erros: %d", s.Failed)
		r.logf("INFO", "Diretório: %s", r.dir)
		r.Log("INFO", rule)
	}

	r.mu.Lock()
	if r.logFile != nil {
		if err := r.logFile.Close(); err != nil {
			r.logger.Warn("failed to close campaign log", "error", err)
		}
		r.logFile = nil
	}
	r.mu.Unlock()

	r.logger.Info("campaign finalized", "total", s.Total, "sent", s.Sent, "failed", s.Failed)
	return s
}

// Summary returns a snapshot of the ledger.
func (r *Recorder) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary.clone()
}

// Finalized reports whether Finalize has run.
func (r *Recorder) Finalized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalized
}

// writeJSON writes v atomically through a temp file and rename.
func writeJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".resumo-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (r *Recorder) copyCampaignFiles(templatePath string, attachments []string) {
	if templatePath != "" {
		dst := filepath.Join(r.dir, templateBase+strings.ToLower(filepath.Ext(templatePath)))
		if err := copyFile(templatePath, dst); err != nil {
			r.logf("WARNING", "Erro ao copiar template %s: %v", templatePath, err)
		} else {
			r.logf("INFO", "Template copiado: %s", filepath.Base(dst))
		}
	}

	if len(attachments) == 0 {
		return
	}
	anexos := filepath.Join(r.dir, AttachmentsDir)
	if err := os.MkdirAll(anexos, 0o755); err != nil {
		r.logf("ERROR", "Erro ao criar pasta de anexos: %v", err)
		return
	}
	for _, src := range attachments {
		dst := filepath.Join(anexos, filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			r.logf("WARNING", "Erro ao copiar anexo %s: %v", src, err)
			continue
		}
		r.logf("INFO", "Anexo copiado: %s", filepath.Base(dst))
	}
}

func (r *Recorder) writeManifest(emails []string) {
	var b strings.Builder
	b.WriteString("LISTA DE DESTINATÁRIOS\n")
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Total: %d\n\n", len(emails))
	for i, e := range emails {
		fmt.Fprintf(&b, "%4d. %s\n", i+1, e)
	}

	if err := os.WriteFile(filepath.Join(r.dir, ManifestFile), []byte(b.String()), 0o644); err != nil {
		r.logf("ERROR", "Erro ao salvar lista de destinatários: %v", err)
		return
	}
	r.logf("INFO", "Resumo de destinatários salvo: %d emails", len(emails))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
