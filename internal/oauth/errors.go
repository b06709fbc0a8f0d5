package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingClientSecrets is returned when the OAuth client file is absent.
	ErrMissingClientSecrets = errors.New("oauth: missing client secrets file")

	// ErrNoToken is returned by the store when no token is persisted for an identity.
	ErrNoToken = errors.New("oauth: no persisted token")

	// ErrInvalidToken is returned when a persisted token cannot be used.
	ErrInvalidToken = errors.New("oauth: invalid token")

	// ErrNotAuthenticated is returned when no usable token is available and
	// interactive authorization is required.
	ErrNotAuthenticated = errors.New("oauth: not authenticated")

	// ErrRefreshFailed is returned when the provider rejects a refresh.
	ErrRefreshFailed = errors.New("oauth: token refresh failed")
)

// AuthReason classifies a failed interactive authorization.
type AuthReason string

const (
	ReasonMissingClientSecrets AuthReason = "missing_client_secrets"
	ReasonCancelled            AuthReason = "cancelled"
	ReasonTimeout              AuthReason = "timeout"
	ReasonDenied               AuthReason = "denied"
	ReasonTransport            AuthReason = "transport"
	ReasonPersist              AuthReason = "persist"
)

// AuthError is the structured failure of an interactive authorization.
type AuthError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("oauth: authorization failed (%s)", e.Reason)
	}
	return fmt.Sprintf("oauth: authorization failed (%s): %v", e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

func authError(reason AuthReason, err error) *AuthError {
	return &AuthError{Reason: reason, Err: err}
}
