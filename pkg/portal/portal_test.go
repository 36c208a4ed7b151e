package portal

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/raterudder/aigueshorta/pkg/types"
	"github.com/stretchr/testify/require"
)

const (
	testUsername   = "user@example.com"
	testPassword   = "secret"
	testCSRF       = "csrf-123"
	testLoginToken = "LoginTok1"
	testFreshToken = "FreshTok2"

	testLoginPage = `<html><body>
<form id="loginForm" method="post" action="/c/portal/acceso?p_p_id=CustomPortlet&amp;p_auth=` + testLoginToken + `">
  <input type="hidden" name="_csrf" value="` + testCSRF + `">
  <input type="text" name="_CustomLoginPortlet_login">
  <input type="password" name="_CustomLoginPortlet_password">
  <button type="submit">Acceder</button>
</form>
</body></html>`

	testConsumptionPage = `<html><head>
<script>var chartURL = "/es/group/aigues-de-l-horta/mis-consumos?p_p_id=MisConsumos&p_auth=` + testFreshToken + `&p_p_lifecycle=2";</script>
</head><body><div id="p_p_id_MisConsumos_"><form action="/x"></form></div></body></html>`

	testContractsPage = `<html><body>
<div class="contract-card">
  <span>Nº Contrato: 12345678</span>
  <p>Dirección Suministro: Calle Mayor 1, Valencia</p>
  <p>Titular: Usuario</p>
</div>
</body></html>`

	testData = `{"consumos":[
  {"fechaConsumo":"26 abr 2025","horaConsumo":"09:00","consumo":"0,012","lectura":"1.234,500"},
  {"fechaConsumo":"26 abr 2025","horaConsumo":"10:00","consumo":"0,020","lectura":"1.234,520"}
]}`
)

// fakePortal emulates the pages and endpoints of the portal.
type fakePortal struct {
	t      *testing.T
	server *httptest.Server

	mu             sync.Mutex
	loginPage      string
	consumption    string
	contracts      string
	contractsCode  int
	data           string
	dataCode       int
	dataDelay      time.Duration
	expireData     int
	expirePage     int
	logins         int
	loginForms     []url.Values
	dataRequests   int
	dataQueries    []url.Values
	dataHeaders    []http.Header
	contractsLoads int
	sessionID      int
}

func newFakePortal(t *testing.T) *fakePortal {
	f := &fakePortal{
		t:             t,
		loginPage:     testLoginPage,
		consumption:   testConsumptionPage,
		contracts:     testContractsPage,
		contractsCode: http.StatusOK,
		data:          testData,
		dataCode:      http.StatusOK,
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakePortal) config() Config {
	cfg := DefaultConfig()
	cfg.BaseURL = f.server.URL
	cfg.Location = time.UTC
	return cfg
}

func (f *fakePortal) client(t *testing.T) *Client {
	c, err := NewClient(f.config(), types.Credentials{Username: testUsername, Password: testPassword})
	require.NoError(t, err)
	return c
}

func (f *fakePortal) authenticated(r *http.Request) bool {
	cookie, err := r.Cookie("JSESSIONID")
	return err == nil && cookie.Value == fmt.Sprintf("session-%d", f.sessionID)
}

func (f *fakePortal) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/login":
		_, _ = w.Write([]byte(f.loginPage))
	case "/c/portal/acceso":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.logins++
		f.loginForms = append(f.loginForms, r.PostForm)
		if r.PostForm.Get("_CustomLoginPortlet_login") != testUsername || r.PostForm.Get("_CustomLoginPortlet_password") != testPassword {
			http.Redirect(w, r, "/login?error=true", http.StatusFound)
			return
		}
		f.sessionID++
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: fmt.Sprintf("session-%d", f.sessionID), Path: "/"})
		http.Redirect(w, r, "/es/group/aigues-de-l-horta/inicio", http.StatusFound)
	case "/es/group/aigues-de-l-horta/inicio":
		_, _ = w.Write([]byte("<html><body>Bienvenido</body></html>"))
	case "/es/group/aigues-de-l-horta/mis-consumos":
		if r.URL.Query().Get("p_p_lifecycle") == "2" {
			f.handleData(w, r)
			return
		}
		if !f.authenticated(r) || f.expirePage > 0 {
			if f.expirePage > 0 {
				f.expirePage--
			}
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte(f.consumption))
	case "/es/group/aigues-de-l-horta/contratos":
		f.contractsLoads++
		if f.contractsCode != http.StatusOK {
			http.Error(w, "error", f.contractsCode)
			return
		}
		_, _ = w.Write([]byte(f.contracts))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakePortal) handleData(w http.ResponseWriter, r *http.Request) {
	f.dataRequests++
	f.dataQueries = append(f.dataQueries, r.URL.Query())
	f.dataHeaders = append(f.dataHeaders, r.Header.Clone())
	if f.dataDelay > 0 {
		select {
		case <-time.After(f.dataDelay):
		case <-r.Context().Done():
			return
		}
	}
	if !f.authenticated(r) || f.expireData > 0 {
		if f.expireData > 0 {
			f.expireData--
		}
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	if f.dataCode != http.StatusOK {
		http.Error(w, "error", f.dataCode)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(f.data))
}
