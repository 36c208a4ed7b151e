package portal

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrAuthentication is returned when login fails for any reason.
	ErrAuthentication = errors.New("authentication failed")
	// ErrInvalidCredentials means the portal rejected the username/password.
	// It also matches ErrAuthentication.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLoginForm means the login page no longer has the expected shape. It
	// also matches ErrAuthentication.
	ErrLoginForm = errors.New("login form not usable")
	// ErrSessionExpired means the portal sent us back to the login page.
	ErrSessionExpired = errors.New("session expired")
	// ErrTokenMissing means no p_auth token was found on any page.
	ErrTokenMissing = errors.New("authorization token missing")
	// ErrNetwork covers transport failures, timeouts and unexpected statuses.
	ErrNetwork = errors.New("network error")
	// ErrDataFormat means the data endpoint did not return JSON.
	ErrDataFormat = errors.New("unexpected data format")
)

func invalidCredentialsError(format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrAuthentication, ErrInvalidCredentials, fmt.Sprintf(format, args...))
}

func loginFormError(format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrAuthentication, ErrLoginForm, fmt.Sprintf(format, args...))
}

// networkError wraps a transport error, noting when it was a timeout.
func networkError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: timed out: %w", ErrNetwork, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrNetwork, op, err)
}

func statusError(op string, status int) error {
	return fmt.Errorf("%w: %s: status %d", ErrNetwork, op, status)
}

// Kind returns a short stable name for the kind of err, suitable for metrics
// labels or status reporting. It returns "" for nil and "unknown" for errors
// not produced by this package. A login that failed on the network is
// reported as "network".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLoginForm):
		return "login_form"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrTokenMissing):
		return "token_missing"
	case errors.Is(err, ErrDataFormat):
		return "data_format"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	default:
		return "unknown"
	}
}
