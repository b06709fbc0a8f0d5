package oauth

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	// GmailSendScope allows sending mail on the user's behalf.
	GmailSendScope = "https://www.googleapis.com/auth/gmail.send"
	// GmailMetadataScope allows reading message metadata after a send.
	GmailMetadataScope = "https://www.googleapis.com/auth/gmail.metadata"
	// UserinfoEmailScope allows reading the authenticated address.
	UserinfoEmailScope = "https://www.googleapis.com/auth/userinfo.email"
)

// DefaultScopes returns the scopes requested by the interactive grant.
func DefaultScopes() []string {
	return []string{GmailSendScope, GmailMetadataScope, UserinfoEmailScope}
}

// ConfigFromFile reads a Google OAuth client file (credentials.json) for an
// installed application.
func ConfigFromFile(path string, scopes ...string) (*oauth2.Config, error) {
	if len(scopes) == 0 {
		scopes = DefaultScopes()
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissingClientSecrets, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read client secrets: %w", err)
	}
	cfg, err := google.ConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse client secrets: %w", err)
	}
	return cfg, nil
}
