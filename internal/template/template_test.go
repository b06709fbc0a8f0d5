package template

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mailmerge-lite/internal/recipient"
)

func TestRender_CaseVariants(t *testing.T) {
	t.Parallel()

	tmpl := New("a={{col}} b={{COL}} c={{Col}} d={{cOl}}")
	r := recipient.New(map[string]string{"email": "x@example.com", "col": "V"})

	got, err := tmpl.Render(r)
	require.NoError(t, err)
	assert.Equal(t, "a=V b=V c=V d=V", got)
}

func TestRender_StripsUnresolvedTokens(t *testing.T) {
	t.Parallel()

	tmpl := New("Dear {{full name}}, from {{endereço}} and {{ }}!")
	got, err := tmpl.Render(recipient.New(map[string]string{"email": "x@example.com"}))
	require.NoError(t, err)
	assert.Equal(t, "Dear , from  and !", got)
}

func TestRender_MissingKeyIsEmpty(t *testing.T) {
	t.Parallel()

	tmpl := New("Hi {{nome}} <{{email}}> {{cidade}}.")
	got, err := tmpl.Render(recipient.New(map[string]string{"email": "a@x.com", "nome": "A"}))
	require.NoError(t, err)
	assert.Equal(t, "Hi A <a@x.com> .", got)
}

func TestRender_Idempotent(t *testing.T) {
	t.Parallel()

	tmpl := New("Hi {{nome}}, {{NOME}}! {{bad key}}")
	r := recipient.New(map[string]string{"email": "a@x.com", "nome": "Ana"})

	first, err := tmpl.Render(r)
	require.NoError(t, err)
	second, err := tmpl.Render(r)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRender_ValuesAreNotReexpanded(t *testing.T) {
	t.Parallel()

	tmpl := New("{{a}}")
	got := tmpl.RenderFields(map[string]string{"a": "{{b}}", "b": "x"})
	assert.Equal(t, "{{b}}", got)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	txt := filepath.Join(dir, "body.txt")
	require.NoError(t, os.WriteFile(txt, []byte("Olá {{nome}}"), 0o644))

	tmpl, err := Load(txt)
	require.NoError(t, err)
	assert.Equal(t, ".txt", tmpl.Ext())
	assert.Equal(t, txt, tmpl.Path())
	assert.False(t, tmpl.IsHTML())
	assert.Equal(t, "Olá Nome do Destinatário", tmpl.Preview(nil))

	docx := filepath.Join(dir, "body.docx")
	require.NoError(t, os.WriteFile(docx, []byte("x"), 0o644))
	_, err = Load(docx)
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Load(filepath.Join(dir, "missing.txt"))
	require.Error(t, err)
}

func TestLoad_Markdown(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	md := filepath.Join(dir, "convite.md")
	require.NoError(t, os.WriteFile(md, []byte("# Olá {{Nome}}\n\nSeu código: **{{codigo}}**\n"), 0o644))

	tmpl, err := Load(md)
	require.NoError(t, err)
	assert.True(t, tmpl.IsHTML())
	assert.Equal(t, []string{"nome", "codigo"}, tmpl.Placeholders())

	got, err := tmpl.Render(recipient.New(map[string]string{"email": "ana@example.com", "nome": "Ana", "codigo": "A-17"}))
	require.NoError(t, err)
	assert.Contains(t, got, "<h1>Olá Ana</h1>")
	assert.Contains(t, got, "<strong>A-17</strong>")
}

func TestPlaceholders(t *testing.T) {
	t.Parallel()

	tmpl := New("{{Nome}} {{email}} {{NOME}} {{full name}} {{cidade}}")
	assert.Equal(t, []string{"nome", "email", "cidade"}, tmpl.Placeholders())
}
