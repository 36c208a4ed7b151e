package portal

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/raterudder/aigueshorta/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginURLDetection(t *testing.T) {
	tests := []struct {
		raw       string
		login     bool
		loginFail bool
	}{
		{"https://www.aigueshorta.es/es/group/aigues-de-l-horta/inicio", false, false},
		{"https://www.aigueshorta.es/login", true, true},
		{"https://www.aigueshorta.es/c/portal/LOGIN?redirect=x", true, true},
		{"https://www.aigueshorta.es/es/web/guest/claveacceso", true, true},
		{"https://www.aigueshorta.es/es/group/aigues-de-l-horta/inicio?error=1", false, true},
		{"https://signin.example.com/es/group/aigues-de-l-horta/mis-consumos", false, false},
		{"https://www.aigueshorta.es/es/group/aigues-de-l-horta/inicio?redirect=%2Flogin", false, false},
		{"https://www.aigueshorta.es/es/group/aigues-de-l-horta/mis-consumos?p_auth=LoginErr1", false, false},
		{"https://www.aigueshorta.es/es/web/guest/error", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			u, err := url.Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.login, isLoginURL(u))
			assert.Equal(t, tt.loginFail, isLoginFailureURL(u))
		})
	}
	assert.False(t, isLoginURL(nil))
	assert.False(t, isLoginFailureURL(nil))
}

func TestCheckExpired(t *testing.T) {
	login, _ := url.Parse("https://www.aigueshorta.es/login")
	page, _ := url.Parse("https://www.aigueshorta.es/es/group/aigues-de-l-horta/mis-consumos")

	assert.ErrorIs(t, checkExpired(response{status: 200, finalURL: login}, "op"), ErrSessionExpired)
	assert.ErrorIs(t, checkExpired(response{status: 401, finalURL: page}, "op"), ErrSessionExpired)
	assert.NoError(t, checkExpired(response{status: 500, finalURL: page}, "op"))
	assert.NoError(t, checkExpired(response{status: 200, finalURL: page}, "op"))

	withQuery, _ := url.Parse("https://www.aigueshorta.es/es/group/aigues-de-l-horta/mis-consumos?redirect=/login&p_auth=Xlogin1")
	assert.NoError(t, checkExpired(response{status: 200, finalURL: withQuery}, "op"))
}

func TestSessionState(t *testing.T) {
	assert.Equal(t, "unauthenticated", StateUnauthenticated.String())
	assert.Equal(t, "authenticating", StateAuthenticating.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "expired", StateExpired.String())
	assert.Equal(t, "SessionState(9)", SessionState(9).String())

	f := newFakePortal(t)
	s, err := NewSession(f.config(), types.Credentials{Username: testUsername, Password: testPassword})
	require.NoError(t, err)

	s.Expire()
	assert.Equal(t, StateUnauthenticated, s.State(), "only an authenticated session can expire")

	require.NoError(t, s.Login(context.Background()))
	assert.Equal(t, StateAuthenticated, s.State())
	s.Expire()
	assert.Equal(t, StateExpired, s.State())

	require.NoError(t, s.Login(context.Background()))
	assert.Equal(t, StateAuthenticated, s.State())
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "unknown", Kind(fmt.Errorf("boom")))
	assert.Equal(t, "login_form", Kind(loginFormError("x")))
	assert.Equal(t, "invalid_credentials", Kind(invalidCredentialsError("x")))
	assert.Equal(t, "authentication", Kind(ErrAuthentication))
	assert.Equal(t, "token_missing", Kind(fmt.Errorf("wrapped: %w", ErrTokenMissing)))
	assert.Equal(t, "network", Kind(statusError("op", 503)))
	assert.Equal(t, "network", Kind(networkError("op", context.DeadlineExceeded)))
	assert.Equal(t, "data_format", Kind(ErrDataFormat))
	assert.Equal(t, "session_expired", Kind(ErrSessionExpired))

	err := networkError("op", fmt.Errorf("dial: %w", context.DeadlineExceeded))
	assert.Contains(t, err.Error(), "timed out")
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"Empty Base URL", func(c *Config) { c.BaseURL = "" }},
		{"Relative Base URL", func(c *Config) { c.BaseURL = "/portal" }},
		{"Missing Path", func(c *Config) { c.ContractsPath = "" }},
		{"Zero Timeout", func(c *Config) { c.DataTimeout = 0 }},
		{"Negative Window", func(c *Config) { c.Window = -time.Hour }},
		{"Zero Page Size", func(c *Config) { c.PageSize = 0 }},
		{"No Location", func(c *Config) { c.Location = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := DefaultConfig()
	cfg.BaseURL = "https://example.com/base/"
	assert.Equal(t, "https://example.com/base/login", cfg.endpoint("/login"))
}
