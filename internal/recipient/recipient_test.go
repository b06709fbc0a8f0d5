package recipient

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	t.Parallel()

	input := "\ufeffNome, Email ,Cidade\n" +
		"Ana,ana@example.com,Recife\n" +
		",,\n" +
		"Bruno, bruno@example.com \n" +
		"Sem Email,invalid,SP\n"

	list, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, "ana@example.com", list[0].Email)
	assert.Equal(t, "Ana", list[0].Extra["nome"])
	assert.Equal(t, "Recife", list[0].Extra["cidade"])
	assert.Equal(t, "bruno@example.com", list[1].Email)
	assert.Equal(t, "", list[1].Extra["cidade"])
	assert.Equal(t, []string{"ana@example.com", "bruno@example.com"}, Emails(list))
}

func TestReadCSV_MissingEmailColumn(t *testing.T) {
	t.Parallel()

	_, err := ReadCSV(strings.NewReader("nome,cidade\nAna,Recife\n"))
	require.ErrorIs(t, err, ErrMissingEmailColumn)

	_, err = ReadCSV(strings.NewReader(""))
	require.ErrorIs(t, err, ErrMissingEmailColumn)
}

func TestReadCSVFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "list.csv")
	require.NoError(t, os.WriteFile(path, []byte("email,nome\nc@example.com,C\n"), 0o644))

	list, err := ReadCSVFile(path)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "C", list[0].Extra["nome"])

	_, err = ReadCSVFile(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}

func TestRecipientFields(t *testing.T) {
	t.Parallel()

	r := New(map[string]string{"EMAIL": " x@example.com ", "Nome": "X"})
	assert.Equal(t, "x@example.com", r.Email)

	v, ok := r.Get("NOME")
	assert.True(t, ok)
	assert.Equal(t, "X", v)

	v, ok = r.Get("email")
	assert.True(t, ok)
	assert.Equal(t, "x@example.com", v)

	assert.Equal(t, map[string]string{"email": "x@example.com", "nome": "X"}, r.Fields())
}

func TestValidateEmail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr string
		want bool
	}{
		{"user@example.com", true},
		{"first.last+tag@sub.example.co", true},
		{" padded@example.com ", true},
		{"no-at-sign.example.com", false},
		{"user@host", false},
		{"user@example.c", false},
		{"", false},
		{"joão@example.com", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidateEmail(tt.addr), tt.addr)
	}
}
