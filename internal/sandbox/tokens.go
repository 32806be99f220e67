package sandbox

import (
	"crypto/rand"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// TokenPair is the wire shape of login and refresh responses.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

type sessionClaims struct {
	jwt.RegisteredClaims
	TokenType string `json:"typ"`
}

// tokenIssuer mints and verifies the sandbox's HS256 session tokens. The
// signing key is generated per process, so restarting the sandbox invalidates
// every outstanding session, which is what a dev environment wants.
type tokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func newTokenIssuer(accessTTL, refreshTTL time.Duration) (*tokenIssuer, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, errors.Wrap(err, "generating signing key")
	}
	return &tokenIssuer{secret: secret, accessTTL: accessTTL, refreshTTL: refreshTTL}, nil
}

func (i *tokenIssuer) issuePair(accountID string) (TokenPair, error) {
	access, err := i.issue(accountID, tokenTypeAccess, i.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := i.issue(accountID, tokenTypeRefresh, i.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(i.accessTTL.Seconds()),
	}, nil
}

func (i *tokenIssuer) issue(accountID, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType: tokenType,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	return signed, errors.Wrap(err, "signing token")
}

// verify checks signature, expiry and token type, returning the account ID.
func (i *tokenIssuer) verify(token, wantType string) (string, error) {
	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return "", errors.Wrap(err, "parsing token")
	}
	if !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if claims.TokenType != wantType {
		return "", errors.Errorf("expected %s token, got %s", wantType, claims.TokenType)
	}
	return claims.Subject, nil
}
