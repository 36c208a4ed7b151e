package portal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/raterudder/aigueshorta/pkg/common"
	"github.com/raterudder/aigueshorta/pkg/log"
	"github.com/raterudder/aigueshorta/pkg/types"
)

const (
	loginUsernameField = "_CustomLoginPortlet_login"
	loginPasswordField = "_CustomLoginPortlet_password"

	// a response body is never larger than this
	maxBodyBytes = 16 << 20
)

var (
	// path segments that mean the portal wants us to log in again
	loginURLMarkers = []string{"login", "signin", "claveacceso"}
	// after a login POST an error page or error parameter is a failure as well
	loginErrorMarker = "error"
)

// SessionState is where a Session is in the authentication lifecycle.
type SessionState int

const (
	StateUnauthenticated SessionState = iota
	StateAuthenticating
	StateAuthenticated
	StateExpired
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Session owns the cookies and authentication state for one portal login.
// It is not safe for concurrent use; Client serializes access.
type Session struct {
	cfg    Config
	creds  types.Credentials
	client *http.Client

	state      SessionState
	loginToken string
}

// NewSession returns an unauthenticated session with an empty cookie jar.
func NewSession(cfg Config, creds types.Credentials) (*Session, error) {
	jar, err := common.NewCookieJar()
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &Session{
		cfg:    cfg,
		creds:  creds,
		client: common.BrowserClient(jar, cfg.AcceptLanguage),
		state:  StateUnauthenticated,
	}, nil
}

// State returns the current state.
func (s *Session) State() SessionState {
	return s.state
}

// LoginToken returns the token captured from the login page, if any.
func (s *Session) LoginToken() string {
	return s.loginToken
}

// Expire marks the session as expired so the next fetch logs in again.
func (s *Session) Expire() {
	if s.state == StateAuthenticated {
		s.state = StateExpired
	}
}

// isLoginURL reports whether u is a login page. Only the path is checked so
// a query like ?redirect=/login or a token that happens to contain a marker
// doesn't count.
func isLoginURL(u *url.URL) bool {
	if u == nil {
		return false
	}
	p := strings.ToLower(u.Path)
	for _, m := range loginURLMarkers {
		if strings.Contains(p, m) {
			return true
		}
	}
	return false
}

// isLoginFailureURL reports whether a login POST landed on a login or error
// page.
func isLoginFailureURL(u *url.URL) bool {
	if u == nil {
		return false
	}
	if isLoginURL(u) {
		return true
	}
	return strings.Contains(strings.ToLower(u.Path+"?"+u.RawQuery), loginErrorMarker)
}

// response is a fully read HTTP response.
type response struct {
	status   int
	finalURL *url.URL
	body     []byte
}

// do sends req with a deadline of timeout and reads the whole body. Transport
// errors, including the deadline, are ErrNetwork.
func (s *Session) do(req *http.Request, timeout time.Duration, op string) (response, error) {
	ctx, cancel := context.WithTimeout(req.Context(), timeout)
	defer cancel()
	req = req.WithContext(ctx)

	resp, err := s.client.Do(req)
	if err != nil {
		return response{}, networkError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return response{}, networkError(op, err)
	}
	log.Ctx(req.Context()).DebugContext(req.Context(), "portal response",
		slog.String("op", op),
		slog.Int("status", resp.StatusCode),
		slog.String("finalURL", resp.Request.URL.Path),
	)
	return response{
		status:   resp.StatusCode,
		finalURL: resp.Request.URL,
		body:     body,
	}, nil
}

func (s *Session) get(ctx context.Context, rawURL string, header http.Header, timeout time.Duration, op string) (response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return response{}, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return s.do(req, timeout, op)
}

// loginForm is what we need from the login page to submit credentials.
type loginForm struct {
	action string
	hidden url.Values
	token  string
}

// findLoginForm locates the login form, resolves its action against pageURL
// and collects hidden fields to send back unchanged.
func findLoginForm(doc *goquery.Document, pageURL *url.URL) (loginForm, error) {
	form := doc.Find("form#loginForm").First()
	if form.Length() == 0 {
		form = doc.Find("form").FilterFunction(func(_ int, f *goquery.Selection) bool {
			return f.Find(`input[type="password"]`).Length() > 0
		}).First()
	}
	if form.Length() == 0 {
		return loginForm{}, loginFormError("no login form on page")
	}

	action, _ := form.Attr("action")
	action = strings.TrimSpace(action)
	if action == "" {
		return loginForm{}, loginFormError("login form has no action")
	}
	actionURL, err := pageURL.Parse(action)
	if err != nil {
		return loginForm{}, loginFormError("invalid login form action %q: %v", action, err)
	}

	lf := loginForm{
		action: actionURL.String(),
		hidden: url.Values{},
	}
	form.Find(`input[type="hidden"]`).Each(func(_ int, in *goquery.Selection) {
		name, ok := in.Attr("name")
		if !ok || name == "" {
			return
		}
		value, _ := in.Attr("value")
		lf.hidden.Set(name, value)
	})

	if t, ok := tokenFromURL(action); ok {
		lf.token = t
	} else if t, ok := hiddenTokenInput(form); ok {
		lf.token = t
	}
	return lf, nil
}

// Login fetches the login page and submits the credentials along with the
// form's hidden fields. On success the session is Authenticated and any token
// on the login page is kept as a fallback.
func (s *Session) Login(ctx context.Context) error {
	if s.creds.Username == "" || s.creds.Password == "" {
		return invalidCredentialsError("missing username or password")
	}

	s.state = StateAuthenticating
	if err := s.login(ctx); err != nil {
		s.state = StateUnauthenticated
		s.loginToken = ""
		if !errors.Is(err, ErrAuthentication) {
			err = fmt.Errorf("%w: %w", ErrAuthentication, err)
		}
		return err
	}
	s.state = StateAuthenticated
	return nil
}

// checkExpired returns ErrSessionExpired if the portal answered with a 401 or
// sent us to a login page.
func checkExpired(resp response, op string) error {
	if resp.status == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s: status %d", ErrSessionExpired, op, resp.status)
	}
	if isLoginURL(resp.finalURL) {
		return fmt.Errorf("%w: %s: redirected to %s", ErrSessionExpired, op, resp.finalURL.Path)
	}
	return nil
}

func (s *Session) login(ctx context.Context) error {
	loginURL := s.cfg.endpoint(s.cfg.LoginPath)
	log.Ctx(ctx).DebugContext(ctx, "loading login page", slog.String("url", loginURL))

	page, err := s.get(ctx, loginURL, nil, s.cfg.PageTimeout, "login page")
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "login page request failed", slog.Any("error", err))
		return err
	}
	if page.status != http.StatusOK {
		return statusError("login page", page.status)
	}

	doc, err := parseHTML(bytes.NewReader(page.body))
	if err != nil {
		return loginFormError("failed to parse login page: %v", err)
	}
	form, err := findLoginForm(doc, page.finalURL)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "login form not usable", slog.Any("error", err))
		return err
	}
	if form.token != "" {
		log.Ctx(ctx).InfoContext(ctx, "extracted login token", log.Secret("token", form.token))
	} else {
		log.Ctx(ctx).WarnContext(ctx, "no token on login page")
	}

	data := url.Values{}
	for k, v := range form.hidden {
		data[k] = v
	}
	data.Set(loginUsernameField, s.creds.Username)
	data.Set(loginPasswordField, s.creds.Password)

	req, err := http.NewRequestWithContext(ctx, "POST", form.action, strings.NewReader(data.Encode()))
	if err != nil {
		return loginFormError("failed to build login request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", loginURL)

	log.Ctx(ctx).DebugContext(ctx, "submitting login form", slog.String("action", form.action), slog.String("username", s.creds.Username))
	resp, err := s.do(req, s.cfg.PageTimeout, "login submit")
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "login request failed", slog.Any("error", err))
		return err
	}
	if isLoginFailureURL(resp.finalURL) {
		log.Ctx(ctx).ErrorContext(ctx, "login rejected", slog.String("finalURL", resp.finalURL.Path))
		return invalidCredentialsError("portal returned to %s", resp.finalURL.Path)
	}
	if resp.status != http.StatusOK {
		return statusError("login submit", resp.status)
	}

	s.loginToken = form.token
	log.Ctx(ctx).InfoContext(ctx, "login successful", slog.String("username", s.creds.Username), slog.String("finalURL", resp.finalURL.Path))
	return nil
}
