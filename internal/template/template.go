// Package template renders the per-recipient message body from a shared
// template containing {{column}} placeholders. Markdown templates are
// converted to HTML after substitution.
package template

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/shineum/mailmerge-lite/internal/recipient"
)

var (
	// placeholderPattern matches placeholders made of word characters only.
	placeholderPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)
	// tokenPattern matches any placeholder-shaped token, including ones that
	// can never resolve such as {{full name}} or {{endereço}}.
	tokenPattern = regexp.MustCompile(`\{\{([^{}]*)\}\}`)
	wordPattern  = regexp.MustCompile(`^\w+$`)
)

// ErrUnsupportedFormat is returned by Load for template files other than
// plain text, HTML or Markdown.
var ErrUnsupportedFormat = errors.New("template: unsupported file format")

var markdown = goldmark.New()

// Template is a loaded message body template.
type Template struct {
	content string
	path    string
	ext     string
}

// New creates a Template from in-memory content.
func New(content string) *Template {
	return &Template{content: content, ext: ".txt"}
}

// Load reads a .txt, .html or .md template from disk.
func Load(path string) (*Template, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt", ".html", ".htm", ".md", ".markdown":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	return &Template{content: string(data), path: path, ext: ext}, nil
}

// Path returns the file the template was loaded from, or "" for in-memory templates.
func (t *Template) Path() string { return t.path }

// Ext returns the template's file extension including the dot.
func (t *Template) Ext() string { return t.ext }

// IsHTML reports whether the template renders an HTML body.
func (t *Template) IsHTML() bool { return t.ext == ".html" || t.ext == ".htm" || t.isMarkdown() }

func (t *Template) isMarkdown() bool { return t.ext == ".md" || t.ext == ".markdown" }

// Content returns the raw template text.
func (t *Template) Content() string { return t.content }

// Render substitutes every {{key}} placeholder with the recipient's value
// for the lower-cased key. The exact, upper-case and capitalized spellings
// of a placeholder all resolve to the same value. Missing keys render as
// empty strings and placeholder-shaped tokens that do not resolve are
// removed.
func (t *Template) Render(r recipient.Recipient) (string, error) {
	out := t.substitute(r.Fields())
	if !t.isMarkdown() {
		return out, nil
	}
	return toHTML(out)
}

// RenderFields renders against a plain column mapping. A Markdown template
// that fails to convert yields the substituted Markdown source.
func (t *Template) RenderFields(data map[string]string) string {
	out := t.substitute(data)
	if !t.isMarkdown() {
		return out
	}
	if html, err := toHTML(out); err == nil {
		return html
	}
	return out
}

func toHTML(src string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown: %w", err)
	}
	return buf.String(), nil
}

func (t *Template) substitute(data map[string]string) string {
	lookup := make(map[string]string, len(data))
	for k, v := range data {
		lookup[strings.ToLower(k)] = v
	}

	// Single pass, so substituted values are never expanded again.
	return tokenPattern.ReplaceAllStringFunc(t.content, func(token string) string {
		key := token[2 : len(token)-2]
		if !wordPattern.MatchString(key) {
			return ""
		}
		return lookup[strings.ToLower(key)]
	})
}

// Preview renders the template with sample values. When sample is nil a
// generic name and address are used.
func (t *Template) Preview(sample map[string]string) string {
	if sample == nil {
		sample = map[string]string{
			"nome":  "Nome do Destinatário",
			"email": "email@exemplo.com",
		}
	}
	return t.RenderFields(sample)
}

// Placeholders lists the distinct lower-cased keys referenced by the
// template, in order of first appearance.
func (t *Template) Placeholders() []string {
	seen := make(map[string]bool)
	var keys []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(t.content, -1) {
		key := strings.ToLower(m[1])
		if seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys
}
