package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"
)

// TokenStore persists one token file per sender identity. Deleting the
// file is equivalent to revoking local access.
type TokenStore struct {
	dir string
}

// NewTokenStore creates a store rooted at dir. The directory is created on
// the first Save.
func NewTokenStore(dir string) *TokenStore {
	return &TokenStore{dir: dir}
}

// SafeIdentity turns an address into a file name fragment:
// "ana.silva@example.com" becomes "ana_silva_at_example_com".
func SafeIdentity(identity string) string {
	s := strings.ReplaceAll(strings.TrimSpace(identity), "@", "_at_")
	return strings.ReplaceAll(s, ".", "_")
}

// Path returns the token file for identity.
func (s *TokenStore) Path(identity string) string {
	return filepath.Join(s.dir, "token_"+SafeIdentity(identity)+".json")
}

// Load reads the persisted token for identity. It returns ErrNoToken when
// nothing is stored and ErrInvalidToken when the file cannot be decoded or
// carries neither an access nor a refresh token.
func (s *TokenStore) Load(identity string) (*oauth2.Token, error) {
	data, err := os.ReadFile(s.Path(identity))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, errors.Join(ErrInvalidToken, fmt.Errorf("decode token: %w", err))
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, ErrInvalidToken
	}
	return &tok, nil
}

// Save writes tok atomically with owner-only permissions.
func (s *TokenStore) Save(identity string, tok *oauth2.Token) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".token-*")
	if err != nil {
		return fmt.Errorf("failed to create token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set token file permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path(identity)); err != nil {
		return fmt.Errorf("failed to persist token file: %w", err)
	}
	return nil
}

// Delete removes the token file. A missing file is not an error.
func (s *TokenStore) Delete(identity string) error {
	err := os.Remove(s.Path(identity))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete token file: %w", err)
	}
	return nil
}
