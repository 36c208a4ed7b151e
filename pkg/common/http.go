package common

import (
	_ "embed"
	"net/http"
	"net/http/cookiejar"
	"strings"

	"golang.org/x/net/publicsuffix"
)

//go:embed VERSION
var version string

// BrowserUserAgent is sent on every portal request. The portal serves a
// different (script-only) login page to clients it doesn't recognize.
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/98.0.4758.102 Safari/537.36"

// AcceptHTML is the default Accept header for page loads.
const AcceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"

// Version returns the embedded release version.
func Version() string {
	return strings.TrimSpace(version)
}

type headerTransport struct {
	transport http.RoundTripper
	headers   http.Header
}

// RoundTrip implements http.RoundTripper. Headers already present on the
// request win over the defaults.
func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original request's headers
	// which might be shared or reused
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if req.Header.Get(k) == "" {
			req.Header[k] = v
		}
	}
	return t.transport.RoundTrip(req)
}

// NewCookieJar returns a cookie jar that scopes cookies by the public suffix
// list so portal cookies set on the registrable domain are sent back.
func NewCookieJar() (http.CookieJar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}

// BrowserClient returns an http client that looks like a desktop browser to
// the remote portal and keeps cookies in jar. The client has no overall
// timeout; callers bound each request with a context deadline.
func BrowserClient(jar http.CookieJar, acceptLanguage string) *http.Client {
	h := make(http.Header)
	h.Set("User-Agent", BrowserUserAgent)
	h.Set("Accept", AcceptHTML)
	if acceptLanguage != "" {
		h.Set("Accept-Language", acceptLanguage)
	}
	return &http.Client{
		Transport: &headerTransport{
			transport: http.DefaultTransport,
			headers:   h,
		},
		Jar: jar,
	}
}
