package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/deeres/config"
	"golang.org/x/crypto/bcrypt"
)

const (
	apiKeyHeader = "X-API-Key"
	apiKeyQuery  = "api_key"
	msgBadAPIKey = "Invalid or missing API Key"
)

// Authenticator accepts a client when it presents a configured API key, a
// key matching one of the bcrypt hashes, or a Bearer token signed with the
// JWT secret.
type Authenticator struct {
	keys   [][]byte
	hashes [][]byte
	secret []byte
}

func NewAuthenticator(cfg config.ServerConfig) *Authenticator {
	a := &Authenticator{}
	for _, k := range cfg.APIKeys {
		if k != "" {
			a.keys = append(a.keys, []byte(k))
		}
	}
	for _, h := range cfg.APIKeyHashes {
		if h != "" {
			a.hashes = append(a.hashes, []byte(h))
		}
	}
	if cfg.JWTSecret != "" {
		a.secret = []byte(cfg.JWTSecret)
	}
	return a
}

// Middleware rejects unauthenticated requests with 401. When allowQuery is
// set the key may also come from the api_key query parameter, which browsers
// need for websocket upgrades.
func (a *Authenticator) Middleware(allowQuery bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			key := req.Header.Get(apiKeyHeader)
			if key == "" && allowQuery {
				key = c.QueryParam(apiKeyQuery)
			}
			if key != "" && a.validKey(key) {
				return next(c)
			}
			if tok := bearerToken(req); tok != "" {
				if sub, ok := a.validToken(tok); ok {
					c.Set("subject", sub)
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusUnauthorized, msgBadAPIKey)
		}
	}
}

func (a *Authenticator) validKey(key string) bool {
	k := []byte(key)
	for _, want := range a.keys {
		if subtle.ConstantTimeCompare(k, want) == 1 {
			return true
		}
	}
	for _, h := range a.hashes {
		if bcrypt.CompareHashAndPassword(h, k) == nil {
			return true
		}
	}
	return false
}

func (a *Authenticator) validToken(tok string) (string, bool) {
	if a.secret == nil {
		return "", false
	}
	parsed, err := jwt.Parse(tok, func(*jwt.Token) (interface{}, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return "", false
	}
	sub, _ := parsed.Claims.GetSubject()
	return sub, true
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return h[7:]
	}
	return ""
}

// SignToken issues an HS256 token for subject valid for ttl.
func SignToken(subject string, secret []byte, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
