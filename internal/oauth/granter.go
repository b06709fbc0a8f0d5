package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Granter performs the interactive authorization-code grant. It blocks until
// the user completes or abandons the flow, or timeout elapses.
type Granter interface {
	Grant(ctx context.Context, cfg *oauth2.Config, timeout time.Duration) (*oauth2.Token, error)
}

// GranterFunc adapts a function to the Granter interface.
type GranterFunc func(ctx context.Context, cfg *oauth2.Config, timeout time.Duration) (*oauth2.Token, error)

// Grant calls f.
func (f GranterFunc) Grant(ctx context.Context, cfg *oauth2.Config, timeout time.Duration) (*oauth2.Token, error) {
	return f(ctx, cfg, timeout)
}

// LoopbackGranter runs the authorization-code flow with PKCE against a
// callback listener bound to the loopback interface.
type LoopbackGranter struct {
	// Open presents the authorization URL to the user. The default prints it
	// to Output.
	Open func(authURL string) error
	// Output receives the default prompt, os.Stderr when nil.
	Output io.Writer
	// ListenAddr defaults to 127.0.0.1:0.
	ListenAddr string
	// HTTPClient is used for the code exchange.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type callbackResult struct {
	code string
	err  error
}

// Grant implements Granter.
func (g *LoopbackGranter) Grant(ctx context.Context, cfg *oauth2.Config, timeout time.Duration) (*oauth2.Token, error) {
	logger := g.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	addr := g.ListenAddr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, authError(ReasonTransport, fmt.Errorf("listen for callback: %w", err))
	}

	flow := *cfg
	flow.RedirectURL = "http://" + l.Addr().String() + "/"
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	results := make(chan callbackResult, 1)
	srv := &http.Server{
		Handler:           callbackHandler(state, results),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("oauth callback server stopped", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := flow.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier),
	)
	if err := g.open(authURL); err != nil {
		logger.Warn("failed to open authorization url", "error", err)
	}
	logger.Info("waiting for oauth authorization", "redirect_url", flow.RedirectURL, "timeout", timeout)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var res callbackResult
	select {
	case res = <-results:
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, authError(ReasonCancelled, ctx.Err())
		}
		return nil, authError(ReasonTimeout, fmt.Errorf("no authorization received within %s", timeout))
	}
	if res.err != nil {
		return nil, res.err
	}

	exchangeCtx := ctx
	if g.HTTPClient != nil {
		exchangeCtx = context.WithValue(ctx, oauth2.HTTPClient, g.HTTPClient)
	}
	tok, err := flow.Exchange(exchangeCtx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, authError(ReasonTransport, fmt.Errorf("exchange authorization code: %w", err))
	}
	return tok, nil
}

func (g *LoopbackGranter) open(authURL string) error {
	if g.Open != nil {
		return g.Open(authURL)
	}
	out := g.Output
	if out == nil {
		out = os.Stderr
	}
	_, err := fmt.Fprintf(out, "Open the following URL in your browser to authorize access:\n\n%s\n\n", authURL)
	return err
}

// callbackHandler accepts the first redirect carrying either a code or an
// error for the expected state. Other requests get 404.
func callbackHandler(state string, results chan<- callbackResult) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		code, errCode := q.Get("code"), q.Get("error")
		if code == "" && errCode == "" {
			http.NotFound(w, r)
			return
		}
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}

		var res callbackResult
		switch {
		case errCode == "access_denied":
			res.err = authError(ReasonDenied, errors.New("user denied access"))
		case errCode != "":
			res.err = authError(ReasonTransport, fmt.Errorf("authorization server returned %q", errCode))
		default:
			res.code = code
		}

		select {
		case results <- res:
		default:
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if res.err != nil {
			fmt.Fprint(w, "<html><body><p>Authorization was not completed. You can close this window.</p></body></html>")
			return
		}
		fmt.Fprint(w, "<html><body><p>Authorization complete. You can close this window.</p></body></html>")
	})
}
