package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/shineum/mailmerge-lite/internal/config"
	"github.com/shineum/mailmerge-lite/internal/oauth"
	"github.com/shineum/mailmerge-lite/internal/transport"
	"github.com/shineum/mailmerge-lite/internal/transport/dryrun"
	"github.com/shineum/mailmerge-lite/internal/transport/gmail"
	"github.com/shineum/mailmerge-lite/internal/transport/ses"
	"github.com/shineum/mailmerge-lite/internal/transport/smtp"
	smtptls "github.com/shineum/mailmerge-lite/internal/tls"
)

const dryRunSender = "dry-run@localhost"

// newTransport builds the configured delivery mechanism. Nothing is
// connected until Ready.
func (a *app) newTransport(ctx context.Context) (transport.Transport, error) {
	cfg := a.cfg
	switch cfg.Transport {
	case config.TransportDirectSMTP:
		tlsConfig, err := smtptls.ClientConfig(cfg.SMTP.Server, cfg.SMTP.CAFile, false)
		if err != nil {
			return nil, fmt.Errorf("failed to setup TLS: %w", err)
		}
		a.logger.Info("using direct SMTP transport",
			"server", cfg.SMTP.Server,
			"port", cfg.SMTP.Port,
			"tls_mode", cfg.SMTP.TLSMode,
		)
		return smtp.New(smtp.Config{
			Host:      cfg.SMTP.Server,
			Port:      cfg.SMTP.Port,
			Username:  cfg.SMTP.Email,
			Password:  cfg.SMTP.Password,
			TLSMode:   cfg.SMTP.TLSMode,
			TLSConfig: tlsConfig,
		}, a.logger), nil

	case config.TransportProviderAPI:
		m, err := a.oauthManager()
		if err != nil {
			return nil, err
		}
		a.logger.Info("using provider API transport", "sender", cfg.Google.Email)
		return gmail.New(cfg.Google.Email, m, a.logger), nil

	case config.TransportSES:
		a.logger.Info("using AWS SES transport",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
		t, err := ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SES transport: %w", err)
		}
		return t, nil

	case config.TransportDryRun:
		sender := cfg.Sender()
		if sender == "" {
			sender = dryRunSender
		}
		a.logger.Info("using dry-run transport")
		return dryrun.NewWithWriter(sender, a.out), nil
	}
	return nil, fmt.Errorf("%w: unknown transport %q", config.ErrInvalidConfig, cfg.Transport)
}

// oauthManager returns the credential manager of the configured identity,
// creating it on first use. A missing client secrets file is tolerated: a
// persisted token keeps working until it can no longer be refreshed.
func (a *app) oauthManager() (*oauth.Manager, error) {
	if a.manager != nil {
		return a.manager, nil
	}
	cfg := a.cfg
	if cfg.Google.Email == "" {
		return nil, fmt.Errorf("%w: GOOGLE_EMAIL is required for the provider API", config.ErrInvalidConfig)
	}

	clientConfig, err := oauth.ConfigFromFile(cfg.Google.CredentialsFile)
	if err != nil {
		if !errors.Is(err, oauth.ErrMissingClientSecrets) {
			return nil, err
		}
		a.logger.Warn("oauth client secrets not found, only a saved token can be used",
			"credentials_file", cfg.Google.CredentialsFile,
		)
		clientConfig = nil
	}

	store := oauth.NewTokenStore(cfg.Google.CredentialsDir)
	a.manager = oauth.NewManager(cfg.Google.Email, clientConfig, store, a.logger,
		oauth.WithGrantTimeout(cfg.Google.OAuthTimeout),
	)
	return a.manager, nil
}
