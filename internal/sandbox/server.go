// Package sandbox is a local stand-in for the Flash payment backend. It
// serves the same REST endpoints and GraphQL schema the production API does,
// with in-memory accounts, per-process JWT sessions, and a rate limiter that
// produces real 429 responses, so the client's failure paths can be exercised
// end to end without touching production.
package sandbox

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	defaultAccessTokenTTL       = 15 * time.Minute
	defaultRefreshTokenTTL      = 24 * time.Hour
	defaultRatePerSecond        = 25
	defaultRateBurst            = 50
	defaultSettlementDailyLimit = 10000
	defaultStartingBalance      = 500
	defaultVerificationCode     = "123456"
)

// Config tunes the sandbox. Zero values take the defaults.
type Config struct {
	// APIKey, when set, must be presented as X-API-Key on every request.
	APIKey string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Requests per second per remote address before 429s kick in.
	RatePerSecond float64
	RateBurst     int

	// SettlementDailyLimit is the per-request settlement ceiling.
	SettlementDailyLimit float64

	// VerificationCode is the fixed code accepted by phone login.
	VerificationCode string
}

func (c Config) withDefaults() Config {
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = defaultAccessTokenTTL
	}
	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = defaultRefreshTokenTTL
	}
	if c.RatePerSecond == 0 {
		c.RatePerSecond = defaultRatePerSecond
	}
	if c.RateBurst == 0 {
		c.RateBurst = defaultRateBurst
	}
	if c.SettlementDailyLimit == 0 {
		c.SettlementDailyLimit = defaultSettlementDailyLimit
	}
	if c.VerificationCode == "" {
		c.VerificationCode = defaultVerificationCode
	}
	return c
}

type account struct {
	ID       string
	Username string
	Phone    string
	Balance  float64
	History  []ledgerEntry
}

type ledgerEntry struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Memo      string  `json:"memo"`
	CreatedAt string  `json:"created_at"`
}

// transfer is an in-flight settlement or top-up. Its status advances one step
// on every status poll so callers see the full pending lifecycle.
type transfer struct {
	ID        string
	Kind      string // "settlement" or "topup"
	AccountID string
	Amount    float64
	Currency  string
	Status    string // pending -> processing -> completed
}

// Server implements the Flash backend surface over in-memory state.
type Server struct {
	cfg    Config
	log    *logrus.Entry
	router chi.Router
	tokens *tokenIssuer

	mu           sync.Mutex
	accounts     map[string]*account // by ID
	byUsername   map[string]*account
	byPhone      map[string]*account
	pendingCodes map[string]string
	transfers    map[string]*transfer
	limiters     map[string]*rate.Limiter

	requestsTotal *prometheus.CounterVec
	registry      *prometheus.Registry
}

// New builds a sandbox server. The returned Server is an http.Handler.
func New(cfg Config, log *logrus.Entry) (*Server, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	tokens, err := newTokenIssuer(cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sandbox_requests_total",
		Help: "HTTP requests served, by method and status code.",
	}, []string{"method", "code"})
	registry.MustRegister(requestsTotal)

	s := &Server{
		cfg:           cfg,
		log:           log,
		tokens:        tokens,
		accounts:      map[string]*account{},
		byUsername:    map[string]*account{},
		byPhone:       map[string]*account{},
		pendingCodes:  map[string]string{},
		transfers:     map[string]*transfer{},
		limiters:      map[string]*rate.Limiter{},
		requestsTotal: requestsTotal,
		registry:      registry,
	}
	s.seedAccounts()
	s.router = s.buildRouter()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// seedAccounts gives the sandbox a couple of known counterparties so
// send-to-username has someone to pay.
func (s *Server) seedAccounts() {
	for _, seed := range []struct {
		username string
		phone    string
		balance  float64
	}{
		{"alice", "+18764250250", 1000},
		{"bob", "+18765550100", 250},
	} {
		acct := &account{
			ID:       uuid.NewString(),
			Username: seed.username,
			Phone:    seed.phone,
			Balance:  seed.balance,
		}
		s.accounts[acct.ID] = acct
		s.byUsername[acct.Username] = acct
		s.byPhone[acct.Phone] = acct
	}
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Use(func(next http.Handler) http.Handler {
		return promhttp.InstrumentHandlerCounter(s.requestsTotal, next)
	})
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
	}).Handler)
	r.Use(s.rateLimit)
	r.Use(s.requireAPIKey)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh", s.handleRefresh)

	r.Method(http.MethodPost, "/graphql", s.graphqlHandler())

	r.Route("/flash", func(r chi.Router) {
		r.Use(s.requireAccessToken)
		r.Post("/send-to-username", s.handleSendToUsername)
		r.Post("/settle-to-bank", s.handleSettleToBank)
		r.Get("/settlement-status/{id}", s.handleSettlementStatus)
		r.Post("/topup-bank", s.handleTopupBank)
		r.Post("/fygaro-payment-link", s.handleFygaroPaymentLink)
		r.Get("/topup-status/{id}", s.handleTopupStatus)
		r.Get("/supported-banks", s.handleSupportedBanks)
		r.Post("/validate-bank-account", s.handleValidateBankAccount)
		r.Get("/balance", s.handleBalance)
		r.Get("/transactions", s.handleTransactions)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Debug("request")
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiterFor(clientHost(r)).Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"message": "rate limited",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientHost strips the ephemeral port so one client maps to one limiter
// across connections.
func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) limiterFor(addr string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[addr]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RatePerSecond), s.cfg.RateBurst)
		s.limiters[addr] = limiter
	}
	return limiter
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" && r.Header.Get("X-API-Key") != s.cfg.APIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"message": "invalid api key",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
