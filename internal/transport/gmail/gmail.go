// Package gmail implements the provider API transport on top of the Gmail
// REST API, authorized by an OAuth credential manager.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/shineum/mailmerge-lite/internal/message"
	"github.com/shineum/mailmerge-lite/internal/oauth"
	"github.com/shineum/mailmerge-lite/internal/recipient"
	"github.com/shineum/mailmerge-lite/internal/transport"
)

const defaultBaseURL = "https://gmail.googleapis.com/gmail/v1/users/me/messages"

// detailAuthExpired is reported when a refresh did not restore access.
const detailAuthExpired = "authentication expired"

// Authorizer supplies authorized HTTP clients and can force a token refresh.
// *oauth.Manager satisfies it.
type Authorizer interface {
	Client(ctx context.Context) (*http.Client, error)
	Refresh(ctx context.Context) error
}

// Transport sends messages through the Gmail API as one sender identity.
// It is not safe for concurrent use.
type Transport struct {
	sender  string
	baseURL string
	auth    Authorizer
	policy  transport.Policy
	logger  *slog.Logger
	client  *http.Client
}

// New creates a Transport for sender.
func New(sender string, auth Authorizer, logger *slog.Logger) *Transport {
	return newWithOverrides(sender, auth, defaultBaseURL, logger)
}

// newWithOverrides creates a Transport against a custom API base URL, used
// for testing.
func newWithOverrides(sender string, auth Authorizer, baseURL string, logger *slog.Logger) *Transport {
	return &Transport{
		sender:  sender,
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
		policy:  transport.DefaultPolicy(),
		logger:  logger.With("transport", string(transport.MethodProviderAPI), "sender", sender),
	}
}

// WithPolicy replaces the retry policy.
func (t *Transport) WithPolicy(p transport.Policy) *Transport {
	t.policy = p
	return t
}

// Method returns the transport variant.
func (t *Transport) Method() transport.Method { return transport.MethodProviderAPI }

// Sender returns the From identity.
func (t *Transport) Sender() string { return t.sender }

// Ready obtains an authorized client. It never starts interactive
// authorization.
func (t *Transport) Ready(ctx context.Context) error {
	client, err := t.auth.Client(ctx)
	if err != nil {
		t.logger.Error("provider api not authenticated", "error", err)
		return errors.Join(transport.ErrNotReady, err)
	}
	t.client = client
	return nil
}

// Close releases the cached client.
func (t *Transport) Close() error {
	t.client = nil
	return nil
}

// Send validates the address, submits the raw message and enriches the
// receipt with provider metadata. An authorization failure triggers one
// refresh and one immediate resend that do not count as retry attempts.
func (t *Transport) Send(ctx context.Context, msg *message.Message) (*transport.Receipt, error) {
	if !recipient.ValidateEmail(msg.To) {
		return nil, transport.Errorf(transport.ReasonRecipientRejected, "invalid address %q", msg.To)
	}
	if msg.From == "" {
		msg.From = t.sender
	}
	raw, headers, err := message.Build(msg)
	if err != nil {
		return nil, transport.Errorf(transport.ReasonRecipientRejected, "failed to build message: %v", err)
	}
	body, err := json.Marshal(sendRequest{Raw: base64.URLEncoding.EncodeToString(raw)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	var sent *sentMessage
	refreshed := false
	attempts, err := t.policy.Do(ctx, t.logger, func(attempt int) error {
		var err error
		sent, err = t.submit(ctx, body)
		if transport.ReasonOf(err) != transport.ReasonAuthentication {
			return err
		}
		if refreshed {
			return authExpired(err)
		}

		refreshed = true
		t.logger.Info("refreshing token after authorization failure", "error", err)
		if rerr := t.auth.Refresh(ctx); rerr != nil {
			return authExpired(rerr)
		}
		sent, err = t.submit(ctx, body)
		if transport.ReasonOf(err) == transport.ReasonAuthentication {
			return authExpired(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	receipt := transport.NewReceipt(msg, raw, headers)
	receipt.Attempts = attempts
	receipt.ProviderMessageID = sent.ID
	receipt.ThreadID = sent.ThreadID
	receipt.HistoryID = sent.HistoryID
	t.enrich(ctx, receipt)
	return receipt, nil
}

func authExpired(err error) *transport.Error {
	e := &transport.Error{Reason: transport.ReasonAuthentication, Detail: detailAuthExpired, Err: err}
	var te *transport.Error
	if errors.As(err, &te) {
		e.Status = te.Status
	}
	return e
}

func (t *Transport) httpClient(ctx context.Context) (*http.Client, error) {
	if t.client != nil {
		return t.client, nil
	}
	client, err := t.auth.Client(ctx)
	if err != nil {
		return nil, err
	}
	t.client = client
	return client, nil
}

// submit performs a single messages.send request.
func (t *Transport) submit(ctx context.Context, body []byte) (*sentMessage, error) {
	client, err := t.httpClient(ctx)
	if err != nil {
		return nil, transport.Wrap(transport.ReasonAuthentication, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, classifyResponse(resp.StatusCode, respBody)
	}

	var sent sentMessage
	if err := json.Unmarshal(respBody, &sent); err != nil {
		return nil, transport.Wrap(transport.ReasonTransient, fmt.Errorf("failed to decode send response: %w", err))
	}
	return &sent, nil
}

// enrich fetches the stored message metadata. Failures keep the locally
// built headers and never fail the send.
func (t *Transport) enrich(ctx context.Context, receipt *transport.Receipt) {
	if receipt.ProviderMessageID == "" {
		return
	}
	meta, err := t.fetchMetadata(ctx, receipt.ProviderMessageID)
	if err != nil {
		t.logger.Warn("failed to fetch sent message metadata, using local headers",
			"provider_message_id", receipt.ProviderMessageID,
			"error", err,
		)
		return
	}

	if meta.ThreadID != "" {
		receipt.ThreadID = meta.ThreadID
	}
	if meta.HistoryID != "" {
		receipt.HistoryID = meta.HistoryID
	}
	if meta.Payload == nil || len(meta.Payload.Headers) == 0 {
		return
	}
	headers := make(map[string]string, len(meta.Payload.Headers))
	for _, h := range meta.Payload.Headers {
		if _, ok := headers[h.Name]; !ok {
			headers[h.Name] = h.Value
		}
	}
	receipt.Headers = headers
	for name, value := range headers {
		if strings.EqualFold(name, "Message-ID") {
			receipt.MessageID = value
		}
	}
}

func (t *Transport) fetchMetadata(ctx context.Context, id string) (*sentMessage, error) {
	client, err := t.httpClient(ctx)
	if err != nil {
		return nil, err
	}
	endpoint := t.baseURL + "/" + url.PathEscape(id) + "?format=metadata"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("metadata request returned %d: %s", resp.StatusCode, string(body))
	}
	var meta sentMessage
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &meta, nil
}

// classifyTransportError maps client-side failures. Token acquisition
// errors surface here through the authorizing round tripper.
func classifyTransportError(err error) *transport.Error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) ||
		errors.Is(err, oauth.ErrNotAuthenticated) ||
		errors.Is(err, oauth.ErrRefreshFailed) {
		return transport.Wrap(transport.ReasonAuthentication, err)
	}
	return transport.Wrap(transport.ReasonConnection, err)
}

// classifyResponse categorizes an API error response for retry decisions.
func classifyResponse(status int, body []byte) *transport.Error {
	e := &transport.Error{Status: status}

	var apiResp apiErrorResponse
	reasons := map[string]bool{}
	if err := json.Unmarshal(body, &apiResp); err == nil && apiResp.Error.Message != "" {
		e.Detail = apiResp.Error.Message
		for _, entry := range apiResp.Error.Errors {
			reasons[entry.Reason] = true
		}
	} else {
		e.Detail = strings.TrimSpace(string(body))
		if e.Detail == "" {
			e.Detail = http.StatusText(status)
		}
	}
	lower := strings.ToLower(string(body))

	switch {
	case reasons["quotaExceeded"] || reasons["dailyLimitExceeded"]:
		e.Reason = transport.ReasonQuotaExceeded
	case status == http.StatusTooManyRequests || reasons["rateLimitExceeded"] || reasons["userRateLimitExceeded"]:
		e.Reason = transport.ReasonRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden || strings.Contains(lower, "invalid_grant"):
		e.Reason = transport.ReasonAuthentication
	default:
		e.Reason = transport.ReasonTransient
	}
	return e
}
