// Package auth resolves the session of every request: a verified JWT subject
// when authentication is enabled, an anonymous cookie session otherwise.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/book-expert/logger"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Context keys set by the middleware.
const (
	ContextSessionIDKey = "sessionID"
	ContextScopesKey    = "scopes"
)

// SessionCookieName names the anonymous session cookie.
const SessionCookieName = "podcast_session"

const (
	bearerPrefix      = "Bearer "
	accessTokenQuery  = "access_token"
	sessionCookieLife = 30 * 24 * time.Hour
)

var (
	// ErrMissingToken is returned when a request carries no bearer token.
	ErrMissingToken = errors.New("authorization header is required")
	// ErrInvalidToken is returned when a token fails verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingSubject is returned when a valid token has no subject.
	ErrMissingSubject = errors.New("token has no subject")
)

// Claims are the JWT claims the service reads.
type Claims struct {
	jwt.RegisteredClaims
	Scopes string `json:"scope,omitempty"`
}

// Identity is the authenticated caller of a request.
type Identity struct {
	SessionID string
	Scopes    []string
}

// Authenticator resolves the identity of a request.
type Authenticator interface {
	Authenticate(c *gin.Context) (Identity, error)
}

// Middleware stores the caller's identity on the gin context. Requests
// matching an entry of public are served without an identity. An entry is a
// path, or a prefix when it ends in "/", optionally preceded by a method
// ("GET /api/storage/").
func Middleware(authenticator Authenticator, log *logger.Logger, public ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isPublic(c.Request.Method, c.Request.URL.Path, public) {
			c.Next()

			return
		}

		identity, err := authenticator.Authenticate(c)
		if err != nil {
			log.Warn("Rejected request %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})

			return
		}

		c.Set(ContextSessionIDKey, identity.SessionID)
		c.Set(ContextScopesKey, identity.Scopes)
		c.Next()
	}
}

// SessionID returns the session id the middleware stored on c.
func SessionID(c *gin.Context) string {
	return c.GetString(ContextSessionIDKey)
}

func isPublic(method, path string, public []string) bool {
	for _, entry := range public {
		prefix := entry

		if entryMethod, entryPath, ok := strings.Cut(entry, " "); ok {
			if entryMethod != method {
				continue
			}

			prefix = entryPath
		}

		if path == prefix || (strings.HasSuffix(prefix, "/") && strings.HasPrefix(path, prefix)) {
			return true
		}
	}

	return false
}

// JWTAuthenticator verifies bearer tokens against a JWKS endpoint.
type JWTAuthenticator struct {
	keyfunc jwt.Keyfunc
	parser  *jwt.Parser
	jwks    *keyfunc.JWKS
}

// NewJWTAuthenticator downloads the key set at jwksURL and keeps it refreshed.
// When issuer is non-empty, tokens must be issued by it.
func NewJWTAuthenticator(jwksURL, issuer string, log *logger.Logger) (*JWTAuthenticator, error) {
	options := keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			log.Error("There was an error with the jwt.Keyfunc: %v", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	}

	jwks, err := keyfunc.Get(jwksURL, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS from resource at %s: %w", jwksURL, err)
	}

	authenticator := NewJWTAuthenticatorWithKeyfunc(jwks.Keyfunc, issuer)
	authenticator.jwks = jwks

	return authenticator, nil
}

// NewJWTAuthenticatorWithKeyfunc verifies tokens with a fixed key function.
func NewJWTAuthenticatorWithKeyfunc(keyFunc jwt.Keyfunc, issuer string) *JWTAuthenticator {
	parserOptions := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(issuer))
	}

	return &JWTAuthenticator{
		keyfunc: keyFunc,
		parser:  jwt.NewParser(parserOptions...),
		jwks:    nil,
	}
}

// Authenticate verifies the bearer token of the request. Websocket clients,
// which cannot set headers, may pass it in the access_token query parameter.
func (a *JWTAuthenticator) Authenticate(c *gin.Context) (Identity, error) {
	tokenString := strings.TrimPrefix(c.GetHeader("Authorization"), bearerPrefix)
	if tokenString == "" {
		tokenString = c.Query(accessTokenQuery)
	}

	if tokenString == "" {
		return Identity{}, ErrMissingToken
	}

	var claims Claims

	token, err := a.parser.ParseWithClaims(tokenString, &claims, a.keyfunc)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	if claims.Subject == "" {
		return Identity{}, ErrMissingSubject
	}

	return Identity{
		SessionID: claims.Subject,
		Scopes:    strings.Fields(claims.Scopes),
	}, nil
}

// Close stops the background JWKS refresh.
func (a *JWTAuthenticator) Close() {
	if a.jwks != nil {
		a.jwks.EndBackground()
	}
}

// CookieAuthenticator issues anonymous sessions in a cookie.
type CookieAuthenticator struct {
	secure bool
}

// NewCookieAuthenticator creates an anonymous session authenticator. secure
// marks the cookie HTTPS-only.
func NewCookieAuthenticator(secure bool) *CookieAuthenticator {
	return &CookieAuthenticator{secure: secure}
}

// Authenticate returns the session of the cookie, issuing one if needed.
func (a *CookieAuthenticator) Authenticate(c *gin.Context) (Identity, error) {
	sessionID, err := c.Cookie(SessionCookieName)
	if err == nil {
		_, parseErr := uuid.Parse(sessionID)
		if parseErr == nil {
			return Identity{SessionID: sessionID, Scopes: nil}, nil
		}
	}

	sessionID = uuid.NewString()

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, sessionID, int(sessionCookieLife.Seconds()), "/", "", a.secure, true)

	return Identity{SessionID: sessionID, Scopes: nil}, nil
}
