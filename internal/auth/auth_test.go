package auth_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/podcast-service/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-signing-secret")

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "auth-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	return log
}

func hmacKeyfunc(token *jwt.Token) (any, error) {
	return testSecret, nil
}

func signToken(t *testing.T, claims auth.Claims) string {
	t.Helper()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	return signed
}

func validClaims(subject string) auth.Claims {
	return auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "https://issuer.test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Scopes: "podcasts:read podcasts:write",
	}
}

func newRouter(t *testing.T, authenticator auth.Authenticator) *gin.Engine {
	t.Helper()

	router := gin.New()
	router.Use(auth.Middleware(authenticator, newTestLogger(t), "/health", "/api/uploads/", "GET /api/storage/"))
	router.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, auth.SessionID(c))
	})
	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.POST("/api/uploads/:token", func(c *gin.Context) {
		c.String(http.StatusOK, "uploaded")
	})
	router.GET("/api/storage/:id", func(c *gin.Context) {
		c.String(http.StatusOK, "audio")
	})
	router.POST("/api/storage/upload-url", func(c *gin.Context) {
		c.String(http.StatusOK, "url")
	})

	return router
}

func TestJWTAuthenticator(t *testing.T) {
	t.Parallel()

	authenticator := auth.NewJWTAuthenticatorWithKeyfunc(hmacKeyfunc, "https://issuer.test")
	router := newRouter(t, authenticator)

	expired := validClaims("alice")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	wrongIssuer := validClaims("alice")
	wrongIssuer.Issuer = "https://elsewhere.test"

	testCases := []struct {
		name     string
		target   string
		header   string
		status   int
		expected string
	}{
		{name: "bearer header", target: "/whoami", header: "Bearer " + signToken(t, validClaims("alice")), status: http.StatusOK, expected: "alice"},
		{name: "query token", target: "/whoami?access_token=" + signToken(t, validClaims("bob")), status: http.StatusOK, expected: "bob"},
		{name: "missing token", target: "/whoami", status: http.StatusUnauthorized},
		{name: "expired token", target: "/whoami", header: "Bearer " + signToken(t, expired), status: http.StatusUnauthorized},
		{name: "wrong issuer", target: "/whoami", header: "Bearer " + signToken(t, wrongIssuer), status: http.StatusUnauthorized},
		{name: "missing subject", target: "/whoami", header: "Bearer " + signToken(t, validClaims("")), status: http.StatusUnauthorized},
		{name: "garbage token", target: "/whoami", header: "Bearer not-a-jwt", status: http.StatusUnauthorized},
		{name: "public health", target: "/health", status: http.StatusOK, expected: "ok"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, testCase.target, http.NoBody)
			if testCase.header != "" {
				req.Header.Set("Authorization", testCase.header)
			}

			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, req)

			assert.Equal(t, testCase.status, recorder.Code)

			if testCase.expected != "" {
				assert.Equal(t, testCase.expected, recorder.Body.String())
			}
		})
	}
}

func TestMiddleware_PublicPrefix(t *testing.T) {
	t.Parallel()

	router := newRouter(t, auth.NewJWTAuthenticatorWithKeyfunc(hmacKeyfunc, ""))

	req := httptest.NewRequest(http.MethodPost, "/api/uploads/some-token", http.NoBody)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)

	download := httptest.NewRecorder()
	router.ServeHTTP(download, httptest.NewRequest(http.MethodGet, "/api/storage/some-id", http.NoBody))
	assert.Equal(t, http.StatusOK, download.Code)

	issue := httptest.NewRecorder()
	router.ServeHTTP(issue, httptest.NewRequest(http.MethodPost, "/api/storage/upload-url", http.NoBody))
	assert.Equal(t, http.StatusUnauthorized, issue.Code)
}

func TestCookieAuthenticator(t *testing.T) {
	t.Parallel()

	router := newRouter(t, auth.NewCookieAuthenticator(false))

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/whoami", http.NoBody))
	require.Equal(t, http.StatusOK, first.Code)

	cookies := first.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, auth.SessionCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, cookies[0].Value, first.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/whoami", http.NoBody)
	req.AddCookie(cookies[0])

	second := httptest.NewRecorder()
	router.ServeHTTP(second, req)
	assert.Equal(t, cookies[0].Value, second.Body.String())
	assert.Empty(t, second.Result().Cookies())

	forged := httptest.NewRequest(http.MethodGet, "/whoami", http.NoBody)
	forged.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "not-a-uuid"})

	third := httptest.NewRecorder()
	router.ServeHTTP(third, forged)
	assert.NotEqual(t, "not-a-uuid", third.Body.String())
	assert.Len(t, third.Result().Cookies(), 1)
}
