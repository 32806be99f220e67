// Package flash implements the client for the Flash payment backend. It
// speaks two transport shapes against the same host, a single GraphQL
// endpoint and a set of JSON REST endpoints, and applies one uniform policy
// to both: bearer-token auth with a single silent refresh on 401, bounded
// exponential backoff on transient failures, and classification of every
// failure mode into the APIError taxonomy.
package flash

import (
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultBaseURL is the production Flash API host.
const DefaultBaseURL = "https://api.flashapp.me"

const (
	defaultMaxRetries     = 3
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
)

// AuthState tracks where a client is in the phone authentication flow.
type AuthState int

const (
	StateUnauthenticated AuthState = iota
	StateCodeRequested
	StateAuthenticated
)

func (s AuthState) String() string {
	switch s {
	case StateCodeRequested:
		return "code_requested"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Config carries everything a Client needs. There is no ambient environment
// access; callers resolve configuration and pass it in.
type Config struct {
	// BaseURL overrides the production API host.
	BaseURL string
	// APIKey, when set, is sent as X-API-Key on every call, authenticated
	// or not.
	APIKey string
	// AuthToken statically injects an initial bearer token.
	AuthToken string
	// Features is the capability map governing money-movement operations.
	Features Features
	// TokenStore receives token changes; nil disables persistence.
	TokenStore TokenStore
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Logger defaults to the standard logrus logger.
	Logger *logrus.Entry

	// Retry tuning; zero values take the defaults (3 retries, 1s base
	// delay doubling up to a 10s cap).
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Client talks to the Flash backend. One instance is expected to serve one
// logical caller at a time; the retry/refresh recursion inside a call is
// sequential, and concurrent silent refreshes collapse into one.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *logrus.Entry

	session *AuthSession
	gate    featureGate

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	mu             sync.Mutex
	authState      AuthState
	pendingCountry string
	user           *User

	refreshMu sync.Mutex

	now func() time.Time
}

// New builds a client from cfg, applying defaults for anything unset.
func New(cfg Config) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	if maxRetries < 0 {
		return nil, errors.New("max retries must not be negative")
	}
	baseDelay := cfg.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultRetryBaseDelay
	}
	maxDelay := cfg.RetryMaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	if maxDelay < baseDelay {
		return nil, errors.New("max retry delay below base delay")
	}

	c := &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		http:       httpClient,
		log:        log,
		session:    newAuthSession(cfg.TokenStore, log),
		gate:       newFeatureGate(cfg.Features),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		authState:  StateUnauthenticated,
		now:        time.Now,
	}
	c.session.Restore()
	if cfg.AuthToken != "" {
		c.session.setInitialToken(cfg.AuthToken)
	}
	if c.session.AccessToken() != "" {
		c.authState = StateAuthenticated
	}
	return c, nil
}

// Session exposes the auth session, mainly so callers can check validity.
func (c *Client) Session() *AuthSession {
	return c.session
}

// AuthState returns the current position in the phone auth flow.
func (c *Client) AuthState() AuthState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authState
}

// IsAuthenticated reports whether the client holds a usable session.
func (c *Client) IsAuthenticated() bool {
	return c.session.IsValid()
}

func (c *Client) setAuthState(s AuthState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authState = s
}
