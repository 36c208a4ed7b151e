package portal

import (
	"errors"
	"fmt"
	"net/url"
	"time"
	_ "time/tzdata"

	"github.com/levenlabs/go-lflag"
)

// Config holds everything needed to talk to the portal.
type Config struct {
	BaseURL         string
	LoginPath       string
	ConsumptionPath string
	ContractsPath   string

	// PageTimeout bounds login and HTML page loads, DataTimeout bounds the
	// JSON data request and ContractsTimeout bounds the contracts page.
	PageTimeout      time.Duration
	DataTimeout      time.Duration
	ContractsTimeout time.Duration

	// Window is how far back FetchConsumption looks when no range is given.
	Window time.Duration
	// PageSize is the number of entries requested from the data endpoint.
	PageSize int

	AcceptLanguage string
	Location       *time.Location
}

// DefaultConfig returns the configuration for the public portal.
func DefaultConfig() Config {
	return Config{
		BaseURL:          "https://www.aigueshorta.es",
		LoginPath:        "/login",
		ConsumptionPath:  "/es/group/aigues-de-l-horta/mis-consumos",
		ContractsPath:    "/es/group/aigues-de-l-horta/contratos",
		PageTimeout:      30 * time.Second,
		DataTimeout:      45 * time.Second,
		ContractsTimeout: 20 * time.Second,
		Window:           48 * time.Hour,
		PageSize:         200,
		AcceptLanguage:   "es-ES,es;q=0.9",
		Location:         madridLocation,
	}
}

var madridLocation = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		panic(fmt.Errorf("failed to load madrid location: %w", err))
	}
	return loc
}()

// Validate ensures the configuration is valid.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse base url (%s): %w", c.BaseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base url must be absolute: %s", c.BaseURL)
	}
	if c.LoginPath == "" || c.ConsumptionPath == "" || c.ContractsPath == "" {
		return errors.New("portal paths are required")
	}
	if c.PageTimeout <= 0 || c.DataTimeout <= 0 || c.ContractsTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.Window < 0 {
		return errors.New("window must not be negative")
	}
	if c.PageSize <= 0 {
		return errors.New("page size must be positive")
	}
	if c.Location == nil {
		return errors.New("location is required")
	}
	return nil
}

func (c Config) endpoint(path string) string {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return c.BaseURL + path
	}
	return u.JoinPath(path).String()
}

// Configured registers the portal flags and returns a Client that is usable
// once lflag.Configure has run.
func Configured() *Client {
	c := &Client{}
	cfg := DefaultConfig()

	baseURL := lflag.String("aigues-base-url", cfg.BaseURL, "Base URL of the Aigües de l'Horta portal")
	username := lflag.String("aigues-username", "", "Portal username")
	password := lflag.String("aigues-password", "", "Portal password")
	pageTimeout := lflag.Duration("aigues-page-timeout", cfg.PageTimeout, "Timeout for login and HTML page loads")
	dataTimeout := lflag.Duration("aigues-data-timeout", cfg.DataTimeout, "Timeout for the hourly consumption data request")
	contractsTimeout := lflag.Duration("aigues-contracts-timeout", cfg.ContractsTimeout, "Timeout for the contracts page")
	window := lflag.Duration("aigues-window", cfg.Window, "Default lookback window when no range is given (rounded down to days)")
	timezone := lflag.String("aigues-timezone", "Europe/Madrid", "Time zone of the portal's timestamps")
	acceptLanguage := lflag.String("aigues-accept-language", cfg.AcceptLanguage, "Accept-Language header sent to the portal")

	lflag.Do(func() {
		cfg.BaseURL = *baseURL
		cfg.PageTimeout = *pageTimeout
		cfg.DataTimeout = *dataTimeout
		cfg.ContractsTimeout = *contractsTimeout
		cfg.Window = *window
		cfg.AcceptLanguage = *acceptLanguage

		loc, err := time.LoadLocation(*timezone)
		if err != nil {
			panic(fmt.Errorf("failed to load aigues-timezone %q: %w", *timezone, err))
		}
		cfg.Location = loc

		if err := c.init(cfg, *username, *password); err != nil {
			panic(fmt.Errorf("failed to configure portal client: %w", err))
		}
	})

	return c
}
