package flash

import (
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Keys under which tokens are persisted in the TokenStore.
const (
	StoreKeyAccessToken  = "flash_token"
	StoreKeyRefreshToken = "flash_refresh_token"
)

// TokenStore is the external persistence collaborator for session tokens.
// The client writes tokens on every successful login/verify/refresh and
// removes them on logout; it does not own storage semantics beyond that.
type TokenStore interface {
	Set(key, value string) error
	Get(key string) (string, bool)
	Delete(key string) error
}

// AuthSession holds the bearer-token session for one client. It is mutated
// only by successful authenticate/verify/refresh calls and cleared by logout;
// its own mutex makes reads and writes safe for concurrent callers.
type AuthSession struct {
	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time // zero means no known expiry

	store TokenStore
	log   *logrus.Entry
	now   func() time.Time
}

func newAuthSession(store TokenStore, log *logrus.Entry) *AuthSession {
	return &AuthSession{store: store, log: log, now: time.Now}
}

// IsValid reports whether the session holds an access token that has not
// expired. A session with no known expiry is valid as long as a token is
// present.
func (s *AuthSession) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accessToken == "" {
		return false
	}
	return s.expiresAt.IsZero() || s.expiresAt.After(s.now())
}

// Apply installs a new token set. A zero expiresIn leaves the expiry unknown.
// The refresh token is only replaced when the backend returned one.
func (s *AuthSession) Apply(accessToken, refreshToken string, expiresIn time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = accessToken
	if refreshToken != "" {
		s.refreshToken = refreshToken
	}
	if expiresIn > 0 {
		s.expiresAt = s.now().Add(expiresIn)
	} else {
		s.expiresAt = time.Time{}
	}
	s.persist()
}

// Clear drops all session state and removes the persisted tokens.
func (s *AuthSession) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = ""
	s.refreshToken = ""
	s.expiresAt = time.Time{}
	if s.store == nil {
		return
	}
	if err := s.store.Delete(StoreKeyAccessToken); err != nil {
		s.log.WithError(err).Warn("removing persisted access token")
	}
	if err := s.store.Delete(StoreKeyRefreshToken); err != nil {
		s.log.WithError(err).Warn("removing persisted refresh token")
	}
}

// Restore loads previously persisted tokens, if any. Expiry is not persisted,
// so a restored access token is validated server-side on first use.
func (s *AuthSession) Restore() {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if token, ok := s.store.Get(StoreKeyAccessToken); ok && token != "" {
		s.accessToken = token
	}
	if token, ok := s.store.Get(StoreKeyRefreshToken); ok && token != "" {
		s.refreshToken = token
	}
}

// AuthorizationHeader formats the access token as a bearer credential.
// Upstream token formats vary; a token that already carries the prefix is
// passed through unchanged.
func (s *AuthSession) AuthorizationHeader() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accessToken == "" {
		return ""
	}
	if strings.HasPrefix(s.accessToken, "Bearer ") {
		return s.accessToken
	}
	return "Bearer " + s.accessToken
}

// AccessToken returns the raw access token, empty when logged out.
func (s *AuthSession) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

// RefreshToken returns the raw refresh token, empty when none was issued.
func (s *AuthSession) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshToken
}

// setInitialToken seeds a statically injected bearer token without writing
// it to the store.
func (s *AuthSession) setInitialToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = token
}

// persist is called with the mutex held.
func (s *AuthSession) persist() {
	if s.store == nil {
		return
	}
	if err := s.store.Set(StoreKeyAccessToken, s.accessToken); err != nil {
		s.log.WithError(err).Warn("persisting access token")
	}
	if s.refreshToken != "" {
		if err := s.store.Set(StoreKeyRefreshToken, s.refreshToken); err != nil {
			s.log.WithError(err).Warn("persisting refresh token")
		}
	}
}
