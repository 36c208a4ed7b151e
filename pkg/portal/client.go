// Package portal is a client for the Aigües de l'Horta customer portal. The
// portal has no API: the client logs in through the HTML login form, scrapes
// a short-lived p_auth token from the consumption page and calls the JSON
// endpoint behind the consumption chart with it.
package portal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/raterudder/aigueshorta/pkg/log"
	"github.com/raterudder/aigueshorta/pkg/normalize"
	"github.com/raterudder/aigueshorta/pkg/types"
)

const (
	portletID = "MisConsumos"

	acceptJSON = "application/json, text/javascript, */*; q=0.01"
)

// Client fetches hourly consumption for one portal account. Calls are
// serialized; one fetch completes before the next begins.
type Client struct {
	cfg       Config
	session   *Session
	tokens    *TokenResolver
	parser    *ResponseParser
	contracts *ContractExtractor

	mu              sync.Mutex
	cachedContracts []types.Contract
	now             func() time.Time
}

// NewClient returns a client for the account in creds. No request is made
// until Login or FetchConsumption is called.
func NewClient(cfg Config, creds types.Credentials) (*Client, error) {
	c := &Client{}
	if err := c.init(cfg, creds.Username, creds.Password); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) init(cfg Config, username, password string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	session, err := NewSession(cfg, types.Credentials{Username: username, Password: password})
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.session = session
	c.tokens = NewTokenResolver()
	c.parser = NewResponseParser(normalize.NewDateTimeNormalizer(normalize.Spanish(cfg.Location)))
	c.contracts = NewContractExtractor()
	c.now = time.Now
	return nil
}

// State returns the authentication state of the underlying session.
func (c *Client) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.State()
}

// Login authenticates the session. Errors match ErrAuthentication, and
// ErrInvalidCredentials or ErrLoginForm when the cause is known.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Login(ctx)
}

// DefaultRange returns the range used when FetchConsumption is given none:
// the configured window, in whole days, ending today.
func (c *Client) DefaultRange() types.DateRange {
	days := int(c.cfg.Window / (24 * time.Hour))
	return types.LastDays(c.now().In(c.cfg.Location), days)
}

// FetchConsumption returns the hourly consumption for r, or DefaultRange when
// r is nil. The session logs in first if needed. If the portal reports the
// session expired the client logs in again once and retries; a second expiry
// is returned as ErrSessionExpired.
func (c *Client) FetchConsumption(ctx context.Context, r *types.DateRange) (types.ConsumptionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dr := c.DefaultRange()
	if r != nil {
		dr = *r
	}
	if err := dr.Validate(); err != nil {
		return types.ConsumptionResult{}, err
	}

	// we try up to 2 times because the session might have expired
	for i := 0; i < 2; i++ {
		loggedIn := false
		if c.session.State() != StateAuthenticated {
			log.Ctx(ctx).DebugContext(ctx, "session not authenticated, logging in", slog.String("state", c.session.State().String()))
			if err := c.session.Login(ctx); err != nil {
				return types.ConsumptionResult{}, err
			}
			loggedIn = true
		}

		res, err := c.fetch(ctx, dr)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrSessionExpired) {
			return types.ConsumptionResult{}, err
		}
		c.session.Expire()
		if loggedIn {
			// we just logged in, another login won't help
			return types.ConsumptionResult{}, err
		}
		log.Ctx(ctx).InfoContext(ctx, "portal session expired, logging in again", slog.Any("error", err))
	}
	return types.ConsumptionResult{}, fmt.Errorf("%w: retry limit reached", ErrSessionExpired)
}

func (c *Client) fetch(ctx context.Context, dr types.DateRange) (types.ConsumptionResult, error) {
	token, err := c.currentToken(ctx)
	if err != nil {
		return types.ConsumptionResult{}, err
	}

	body, err := c.fetchData(ctx, token, dr)
	if err != nil {
		return types.ConsumptionResult{}, err
	}

	res, err := c.parser.Parse(ctx, body)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "consumption response not parseable", slog.Any("error", err), slog.String("body", truncate(body, 500)))
		return types.ConsumptionResult{}, err
	}
	res.Range = dr

	contracts, err := c.getContracts(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "could not get contract info", slog.Any("error", err))
	} else if len(contracts) > 0 {
		res.ContractNumber = contracts[0].Number
		res.Address = contracts[0].Address
	}
	return res, nil
}

// currentToken loads the consumption page and resolves a fresh token from it,
// falling back to the token seen at login.
func (c *Client) currentToken(ctx context.Context) (string, error) {
	pageURL := c.cfg.endpoint(c.cfg.ConsumptionPath)
	log.Ctx(ctx).DebugContext(ctx, "loading consumption page", slog.String("url", pageURL))

	page, err := c.session.get(ctx, pageURL, nil, c.cfg.PageTimeout, "consumption page")
	if err != nil {
		return "", err
	}
	if err := checkExpired(page, "consumption page"); err != nil {
		return "", err
	}
	if page.status != http.StatusOK {
		return "", statusError("consumption page", page.status)
	}

	doc, err := parseHTML(bytes.NewReader(page.body))
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to parse consumption page", slog.Any("error", err))
	} else if token, strategy, ok := c.tokens.Resolve(doc); ok {
		log.Ctx(ctx).InfoContext(ctx, "found fresh token", slog.String("strategy", strategy), log.Secret("token", token))
		return token, nil
	}

	if t := c.session.LoginToken(); t != "" {
		log.Ctx(ctx).WarnContext(ctx, "no fresh token on consumption page, using login token")
		return t, nil
	}
	return "", fmt.Errorf("%w: not on consumption page or login page", ErrTokenMissing)
}

// dataURL builds the hourly consumption request for dr.
func (c *Client) dataURL(token string, dr types.DateRange) string {
	params := url.Values{}
	params.Set("p_p_id", portletID)
	params.Set("p_p_lifecycle", "2")
	params.Set("p_p_state", "normal")
	params.Set("p_p_mode", "view")
	params.Set("p_p_cacheability", "cacheLevelPage")
	params.Set(tokenParam, token)
	params.Set("_MisConsumos_op", "buscarConsumosHoraria")
	params.Set("_MisConsumos_fechaInicio", dr.Start.Format(types.PortalDateLayout))
	params.Set("_MisConsumos_fechaFin", dr.End.Format(types.PortalDateLayout))
	params.Set("_MisConsumos_inicio", "0")
	params.Set("_MisConsumos_fin", strconv.Itoa(c.cfg.PageSize))
	return c.cfg.endpoint(c.cfg.ConsumptionPath) + "?" + params.Encode()
}

func (c *Client) fetchData(ctx context.Context, token string, dr types.DateRange) ([]byte, error) {
	log.Ctx(ctx).DebugContext(ctx, "requesting hourly consumption",
		slog.String("start", dr.Start.Format(types.PortalDateLayout)),
		slog.String("end", dr.End.Format(types.PortalDateLayout)),
	)

	h := make(http.Header)
	h.Set("Accept", acceptJSON)
	h.Set("X-Requested-With", "XMLHttpRequest")
	h.Set("Referer", c.cfg.endpoint(c.cfg.ConsumptionPath))

	resp, err := c.session.get(ctx, c.dataURL(token, dr), h, c.cfg.DataTimeout, "consumption data")
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "consumption data request failed", slog.Any("error", err))
		return nil, err
	}
	if err := checkExpired(resp, "consumption data"); err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, statusError("consumption data", resp.status)
	}
	return resp.body, nil
}

// Contracts returns the contracts listed for the account. The session logs in
// first if needed.
func (c *Client) Contracts(ctx context.Context) ([]types.Contract, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.State() != StateAuthenticated {
		if err := c.session.Login(ctx); err != nil {
			return nil, err
		}
	}
	return c.getContracts(ctx)
}

// getContracts returns a copy of the cached contracts or scrapes the contracts
// page. Only a non-empty result is cached.
func (c *Client) getContracts(ctx context.Context) ([]types.Contract, error) {
	if len(c.cachedContracts) > 0 {
		return slices.Clone(c.cachedContracts), nil
	}

	pageURL := c.cfg.endpoint(c.cfg.ContractsPath)
	log.Ctx(ctx).DebugContext(ctx, "fetching contracts", slog.String("url", pageURL))

	page, err := c.session.get(ctx, pageURL, nil, c.cfg.ContractsTimeout, "contracts page")
	if err != nil {
		return nil, err
	}
	if err := checkExpired(page, "contracts page"); err != nil {
		return nil, err
	}
	if page.status != http.StatusOK {
		return nil, statusError("contracts page", page.status)
	}

	doc, err := parseHTML(bytes.NewReader(page.body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse contracts page: %w", err)
	}
	contracts := c.contracts.Extract(ctx, doc)
	if len(contracts) == 0 {
		log.Ctx(ctx).WarnContext(ctx, "no contracts found", slog.String("url", pageURL))
		return nil, nil
	}
	c.cachedContracts = contracts
	return slices.Clone(contracts), nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
