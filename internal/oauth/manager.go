// Package oauth manages the OAuth credential lifecycle of one sender
// identity: loading persisted tokens, silent refresh, interactive grant and
// revocation.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultGrantTimeout = 300 * time.Second
	defaultRevokeURL    = "https://oauth2.googleapis.com/revoke"
	defaultProfileURL   = "https://gmail.googleapis.com/gmail/v1/users/me/profile"
	defaultUserinfoURL  = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// State is the lifecycle state of the credential held by a Manager.
type State string

const (
	StateNoToken              State = "no-token"
	StateValid                State = "valid"
	StateExpiredRefreshable   State = "expired-refreshable"
	StateExpiredUnrefreshable State = "expired-unrefreshable"
	StateRevoked              State = "revoked"
)

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets the HTTP client used for token, revocation and
// identity requests, and as the base transport of authorized clients.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) { m.httpClient = client }
}

// WithGranter sets the interactive authorization flow.
func WithGranter(g Granter) Option {
	return func(m *Manager) { m.granter = g }
}

// WithGrantTimeout bounds the interactive authorization wait.
func WithGrantTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.grantTimeout = d
		}
	}
}

// WithEndpoints overrides the revocation and identity endpoints.
func WithEndpoints(revokeURL, profileURL, userinfoURL string) Option {
	return func(m *Manager) {
		if revokeURL != "" {
			m.revokeURL = revokeURL
		}
		if profileURL != "" {
			m.profileURL = profileURL
		}
		if userinfoURL != "" {
			m.userinfoURL = userinfoURL
		}
	}
}

// Manager owns the token of one sender identity. All methods are safe for
// concurrent use; the in-memory token is the authoritative copy until a
// provider reports it invalid.
type Manager struct {
	identity     string
	config       *oauth2.Config
	store        *TokenStore
	granter      Granter
	grantTimeout time.Duration
	httpClient   *http.Client
	revokeURL    string
	profileURL   string
	userinfoURL  string
	logger       *slog.Logger

	mu            sync.Mutex
	token         *oauth2.Token
	revoked       bool
	unrefreshable bool // provider rejected the refresh token
}

// NewManager creates a Manager. cfg may be nil when no client secrets are
// available; persisted tokens are then usable until they expire.
func NewManager(identity string, cfg *oauth2.Config, store *TokenStore, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		identity:     identity,
		config:       cfg,
		store:        store,
		grantTimeout: defaultGrantTimeout,
		revokeURL:    defaultRevokeURL,
		profileURL:   defaultProfileURL,
		userinfoURL:  defaultUserinfoURL,
		logger:       logger.With("component", "oauth", "identity", identity),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.granter == nil {
		m.granter = &LoopbackGranter{HTTPClient: m.httpClient, Logger: m.logger}
	}
	return m
}

// Identity returns the configured sender identity.
func (m *Manager) Identity() string { return m.identity }

// State reports the lifecycle state, loading the persisted token if needed.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.revoked {
		return StateRevoked
	}
	m.loadLocked()
	return m.stateLocked()
}

func (m *Manager) stateLocked() State {
	switch {
	case m.token == nil:
		return StateNoToken
	case m.token.Valid():
		return StateValid
	case m.token.RefreshToken != "" && m.config != nil && !m.unrefreshable:
		return StateExpiredRefreshable
	default:
		return StateExpiredUnrefreshable
	}
}

// IsAuthenticated loads the persisted token and silently refreshes it when
// expired. It never starts an interactive flow.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureValidLocked(ctx) == nil
}

// Authenticate succeeds immediately when a valid or silently refreshable
// token exists. Otherwise it runs the interactive grant and persists the
// result. When the grant reports an error but a structurally valid token was
// nonetheless persisted, Authenticate reports success.
func (m *Manager) Authenticate(ctx context.Context) error {
	m.mu.Lock()
	err := m.ensureValidLocked(ctx)
	m.mu.Unlock()
	if err == nil {
		return nil
	}

	if m.config == nil {
		return authError(ReasonMissingClientSecrets, ErrMissingClientSecrets)
	}

	m.mu.Lock()
	previous := m.token
	m.mu.Unlock()

	m.logger.Info("starting interactive authorization")
	tok, grantErr := m.granter.Grant(ctx, m.config, m.grantTimeout)

	m.mu.Lock()
	defer m.mu.Unlock()

	if grantErr != nil {
		if recovered := m.recoverPersistedLocked(previous); recovered {
			m.logger.Warn("authorization reported an error but a valid token was persisted", "error", grantErr)
			return nil
		}
		m.logger.Warn("interactive authorization failed", "error", grantErr)
		var ae *AuthError
		if errors.As(grantErr, &ae) {
			return ae
		}
		return authError(ReasonTransport, grantErr)
	}

	if !usable(tok) {
		return authError(ReasonTransport, ErrInvalidToken)
	}
	if err := m.store.Save(m.identity, tok); err != nil {
		return authError(ReasonPersist, err)
	}
	m.token = tok
	m.revoked = false
	m.unrefreshable = false
	m.logger.Info("authorization complete", "expiry", tok.Expiry)
	return nil
}

// recoverPersistedLocked reloads the store after a failed grant and adopts
// the token if it was written during the grant and is structurally usable.
func (m *Manager) recoverPersistedLocked(previous *oauth2.Token) bool {
	tok, err := m.store.Load(m.identity)
	if err != nil || !usable(tok) {
		return false
	}
	if previous != nil && tok.AccessToken == previous.AccessToken {
		return false
	}
	m.token = tok
	m.revoked = false
	return true
}

// usable reports whether tok can authorize requests now or after a refresh.
func usable(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	return tok.Valid() || tok.RefreshToken != ""
}

// Client returns an HTTP client that authorizes every request with the
// current token, refreshing it transparently when it expires.
func (m *Manager) Client(ctx context.Context) (*http.Client, error) {
	m.mu.Lock()
	err := m.ensureValidLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	base := http.DefaultTransport
	if m.httpClient != nil && m.httpClient.Transport != nil {
		base = m.httpClient.Transport
	}
	return &http.Client{
		Transport: &oauth2.Transport{Source: m, Base: base},
		Timeout:   60 * time.Second,
	}, nil
}

// Token implements oauth2.TokenSource for authorized clients.
func (m *Manager) Token() (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureValidLocked(context.Background()); err != nil {
		return nil, err
	}
	return m.token, nil
}

// Refresh forces a refresh of the current token, used after the provider
// rejected it.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loadLocked()
	if m.token == nil {
		return ErrNotAuthenticated
	}
	return m.refreshLocked(ctx)
}

// Revoke revokes the token remotely on a best-effort basis and always
// deletes the local copy.
func (m *Manager) Revoke(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loadLocked()
	if m.token != nil {
		value := m.token.RefreshToken
		if value == "" {
			value = m.token.AccessToken
		}
		if err := m.revokeRemote(ctx, value); err != nil {
			m.logger.Warn("remote token revocation failed", "error", err)
		}
	}

	if err := m.store.Delete(m.identity); err != nil {
		m.logger.Warn("failed to delete persisted token", "error", err)
	}
	m.token = nil
	m.revoked = true
	m.logger.Info("credentials revoked")
}

// loadLocked reads the persisted token once.
func (m *Manager) loadLocked() {
	if m.token != nil || m.revoked {
		return
	}
	tok, err := m.store.Load(m.identity)
	if err != nil {
		if !errors.Is(err, ErrNoToken) {
			m.logger.Warn("ignoring unreadable token file", "error", err)
		}
		return
	}
	m.token = tok
}

func (m *Manager) ensureValidLocked(ctx context.Context) error {
	if m.revoked {
		return ErrNotAuthenticated
	}
	m.loadLocked()

	switch m.stateLocked() {
	case StateValid:
		return nil
	case StateExpiredRefreshable:
		m.logger.Info("refreshing expired token")
		return m.refreshLocked(ctx)
	default:
		return ErrNotAuthenticated
	}
}

func (m *Manager) refreshLocked(ctx context.Context) error {
	if m.config == nil || m.token.RefreshToken == "" {
		return errors.Join(ErrNotAuthenticated, ErrRefreshFailed)
	}

	expired := *m.token
	expired.Expiry = time.Now().Add(-time.Hour)
	expired.AccessToken = ""

	tok, err := m.config.TokenSource(m.clientContext(ctx), &expired).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
			m.unrefreshable = true
		}
		return errors.Join(ErrRefreshFailed, err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = m.token.RefreshToken
	}

	m.token = tok
	m.unrefreshable = false
	if err := m.store.Save(m.identity, tok); err != nil {
		m.logger.Warn("failed to persist refreshed token", "error", err)
	}
	m.logger.Info("token refreshed", "expiry", tok.Expiry)
	return nil
}

func (m *Manager) clientContext(ctx context.Context) context.Context {
	if m.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}
	return ctx
}

func (m *Manager) plainClient() *http.Client {
	if m.httpClient != nil {
		return m.httpClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (m *Manager) revokeRemote(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.plainClient().Do(req)
	if err != nil {
		return fmt.Errorf("revoke request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("revoke endpoint returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// AuthenticatedAddress asks the provider which address the token belongs
// to, falling back to the userinfo endpoint when the profile endpoint is
// not permitted by the granted scopes.
func (m *Manager) AuthenticatedAddress(ctx context.Context) (string, error) {
	client, err := m.Client(ctx)
	if err != nil {
		return "", err
	}

	var profile struct {
		EmailAddress string `json:"emailAddress"`
	}
	status, err := getJSON(ctx, client, m.profileURL, &profile)
	if err == nil && profile.EmailAddress != "" {
		return profile.EmailAddress, nil
	}
	if status != http.StatusForbidden && err != nil {
		return "", err
	}

	var info struct {
		Email string `json:"email"`
	}
	if _, err := getJSON(ctx, client, m.userinfoURL, &info); err != nil {
		return "", err
	}
	return info.Email, nil
}

// VerifyIdentity compares the authenticated address with the configured
// identity. A mismatch or lookup failure is only logged.
func (m *Manager) VerifyIdentity(ctx context.Context) bool {
	addr, err := m.AuthenticatedAddress(ctx)
	if err != nil {
		m.logger.Info("could not verify authenticated address", "error", err)
		return false
	}
	if addr != "" && !strings.EqualFold(addr, m.identity) {
		m.logger.Warn("authenticated address differs from configured sender", "authenticated", addr)
		return false
	}
	return true
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, v any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, fmt.Errorf("%s returned %d: %s", endpoint, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}
