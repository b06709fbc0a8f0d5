// Package smtp implements the direct SMTP submission transport.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/mailmerge-lite/internal/message"
	"github.com/shineum/mailmerge-lite/internal/transport"
)

// TLS modes.
const (
	TLSModeStartTLS = "starttls"
	TLSModeImplicit = "implicit"
	TLSModeNone     = "none"
)

const defaultTimeout = 30 * time.Second

// Config holds the configuration for creating a Transport.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// From defaults to Username.
	From      string
	TLSMode   string
	TLSConfig *tls.Config
	Timeout   time.Duration
}

// Transport submits messages over one authenticated SMTP session.
// It is not safe for concurrent use.
type Transport struct {
	cfg    Config
	policy transport.Policy
	logger *slog.Logger
	client *gosmtp.Client
}

// New creates a Transport. No connection is made until Ready.
func New(cfg Config, logger *slog.Logger) *Transport {
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.TLSMode == "" {
		cfg.TLSMode = TLSModeStartTLS
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.TLSConfig == nil {
		cfg.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	}
	return &Transport{
		cfg:    cfg,
		policy: transport.DefaultPolicy(),
		logger: logger.With("transport", string(transport.MethodDirectSMTP), "server", cfg.Host),
	}
}

// WithPolicy replaces the retry policy.
func (t *Transport) WithPolicy(p transport.Policy) *Transport {
	t.policy = p
	return t
}

// Method returns the transport variant.
func (t *Transport) Method() transport.Method { return transport.MethodDirectSMTP }

// Sender returns the envelope and header sender.
func (t *Transport) Sender() string { return t.cfg.From }

// Ready establishes the encrypted, authenticated session.
func (t *Transport) Ready(ctx context.Context) error {
	if t.client != nil {
		return nil
	}
	if err := t.connect(ctx); err != nil {
		t.logger.Error("smtp connection failed", "error", err)
		return errors.Join(transport.ErrNotReady, err)
	}
	t.logger.Info("connected to smtp server")
	return nil
}

// Send submits one message. Transient failures are retried on the open
// session, reconnecting when the connection was lost. Rejected recipients
// and rejected message data are not retried.
func (t *Transport) Send(ctx context.Context, msg *message.Message) (*transport.Receipt, error) {
	if msg.From == "" {
		msg.From = t.cfg.From
	}
	raw, headers, err := message.Build(msg)
	if err != nil {
		return nil, transport.Errorf(transport.ReasonRecipientRejected, "failed to build message: %v", err)
	}

	attempts, err := t.policy.Do(ctx, t.logger, func(attempt int) error {
		if t.client == nil {
			if err := t.connect(ctx); err != nil {
				return err
			}
		}
		return t.submit(msg.To, raw)
	})
	if err != nil {
		return nil, err
	}

	receipt := transport.NewReceipt(msg, raw, headers)
	receipt.Attempts = attempts
	return receipt, nil
}

// Close ends the session. Errors are logged and swallowed.
func (t *Transport) Close() error {
	if t.client == nil {
		return nil
	}
	if err := t.client.Quit(); err != nil {
		t.logger.Debug("smtp quit failed", "error", err)
		_ = t.client.Close()
	}
	t.client = nil
	return nil
}

func (t *Transport) connect(ctx context.Context) error {
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	dialer := &net.Dialer{Timeout: t.cfg.Timeout}

	var conn net.Conn
	var err error
	if t.cfg.TLSMode == TLSModeImplicit {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: t.cfg.TLSConfig}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return transport.Wrap(transport.ReasonConnection, err)
	}

	var c *gosmtp.Client
	if t.cfg.TLSMode == TLSModeStartTLS {
		c, err = gosmtp.NewClientStartTLS(conn, t.cfg.TLSConfig)
		if err != nil {
			return transport.Wrap(transport.ReasonConnection, fmt.Errorf("starttls: %w", err))
		}
	} else {
		c = gosmtp.NewClient(conn)
	}
	c.CommandTimeout = t.cfg.Timeout

	if t.cfg.Username != "" {
		if err := c.Auth(saslClient(c, t.cfg.Username, t.cfg.Password)); err != nil {
			c.Close()
			return transport.Wrap(transport.ReasonAuthentication, err)
		}
	}

	t.client = c
	return nil
}

// saslClient prefers PLAIN and falls back to LOGIN when that is the only
// mechanism the server advertises.
func saslClient(c *gosmtp.Client, username, password string) sasl.Client {
	if ok, mechs := c.Extension("AUTH"); ok {
		upper := strings.Fields(strings.ToUpper(mechs))
		hasPlain, hasLogin := false, false
		for _, m := range upper {
			switch m {
			case sasl.Plain:
				hasPlain = true
			case sasl.Login:
				hasLogin = true
			}
		}
		if hasLogin && !hasPlain {
			return sasl.NewLoginClient(username, password)
		}
	}
	return sasl.NewPlainClient("", username, password)
}

func (t *Transport) submit(to string, raw []byte) error {
	c := t.client
	if err := c.Mail(t.cfg.From, nil); err != nil {
		return t.fail(classifySession(err))
	}
	if err := c.Rcpt(to, nil); err != nil {
		return t.fail(classifyRcpt(err))
	}

	w, err := c.Data()
	if err != nil {
		return t.fail(classifyData(err))
	}
	if _, err := io.Copy(w, bytes.NewReader(raw)); err != nil {
		_ = w.Close()
		return t.fail(classifyData(err))
	}
	if err := w.Close(); err != nil {
		return t.fail(classifyData(err))
	}
	return nil
}

// fail resets the transaction after a protocol error, or drops the session
// after a connection error so the next attempt reconnects.
func (t *Transport) fail(err *transport.Error) error {
	if err.Reason == transport.ReasonConnection {
		_ = t.client.Close()
		t.client = nil
		return err
	}
	if rerr := t.client.Reset(); rerr != nil {
		t.logger.Debug("smtp reset failed, dropping session", "error", rerr)
		_ = t.client.Close()
		t.client = nil
	}
	return err
}

func classifyRcpt(err error) *transport.Error {
	var se *gosmtp.SMTPError
	if errors.As(err, &se) && se.Code >= 500 {
		return &transport.Error{Reason: transport.ReasonRecipientRejected, Status: se.Code, Detail: se.Message, Err: err}
	}
	return classifySession(err)
}

func classifyData(err error) *transport.Error {
	var se *gosmtp.SMTPError
	if errors.As(err, &se) && se.Code >= 500 {
		return &transport.Error{
			Reason: transport.ReasonRecipientRejected,
			Status: se.Code,
			Detail: "message rejected: " + se.Message,
			Err:    err,
		}
	}
	return classifySession(err)
}

// classifySession maps a session level error. Reply codes 4xx are transient;
// anything that is not an SMTP reply is a lost connection.
func classifySession(err error) *transport.Error {
	var se *gosmtp.SMTPError
	if !errors.As(err, &se) {
		return transport.Wrap(transport.ReasonConnection, err)
	}
	e := &transport.Error{Status: se.Code, Detail: se.Message, Err: err}
	switch {
	case se.Code == 421:
		e.Reason = transport.ReasonConnection
	case se.Code == 530 || se.Code == 535:
		e.Reason = transport.ReasonAuthentication
	case se.Code >= 500:
		e.Reason = transport.ReasonRecipientRejected
	default:
		e.Reason = transport.ReasonTransient
	}
	return e
}
