package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/domain/services/audit"
	"github.com/etrid/flarebridge/pkg/auth"
	"github.com/etrid/flarebridge/pkg/logger"
	"github.com/etrid/flarebridge/pkg/ratelimit"
)

const testSigningSecret = "middleware-test-signing-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *logger.Logger {
	return logger.NewLogger(zap.NewNop())
}

func doRequest(router *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	router.ServeHTTP(w, req)
	return w
}

func bearerToken(t *testing.T, subject, role string) string {
	t.Helper()
	token, err := auth.GenerateToken(subject, role, testSigningSecret, "flarebridge", time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("request_id"))
	})

	w := doRequest(router, http.MethodGet, "/ping", nil)
	generated := w.Header().Get("X-Request-ID")
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, w.Body.String())

	w = doRequest(router, http.MethodGet, "/ping", map[string]string{"X-Request-ID": "req-123"})
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-123", w.Body.String())
}

func TestAuthentication(t *testing.T) {
	router := gin.New()
	router.Use(Authentication(testSigningSecret, testLogger()))
	router.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"subject": c.GetString("subject"),
			"role":    c.GetString("role"),
		})
	})

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Token abc", want: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer not-a-jwt", want: http.StatusUnauthorized},
		{name: "valid token", header: bearerToken(t, "attester-1", auth.RoleAttester), want: http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			headers := map[string]string{}
			if tc.header != "" {
				headers["Authorization"] = tc.header
			}
			w := doRequest(router, http.MethodGet, "/whoami", headers)
			assert.Equal(t, tc.want, w.Code)
		})
	}

	t.Run("wrong secret", func(t *testing.T) {
		token, err := auth.GenerateToken("attester-1", auth.RoleAttester, "some-other-secret", "flarebridge", time.Hour)
		require.NoError(t, err)
		w := doRequest(router, http.MethodGet, "/whoami", map[string]string{"Authorization": "Bearer " + token})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("claims reach the handler", func(t *testing.T) {
		w := doRequest(router, http.MethodGet, "/whoami", map[string]string{
			"Authorization": bearerToken(t, "attester-1", auth.RoleAttester),
		})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "attester-1")
		assert.Contains(t, w.Body.String(), auth.RoleAttester)
	})
}

func TestAdminOnly(t *testing.T) {
	router := gin.New()
	router.Use(Authentication(testSigningSecret, testLogger()))
	router.Use(AdminOnly())
	router.POST("/admin-action", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := doRequest(router, http.MethodPost, "/admin-action", map[string]string{
		"Authorization": bearerToken(t, "attester-1", auth.RoleAttester),
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(router, http.MethodPost, "/admin-action", map[string]string{
		"Authorization": bearerToken(t, "ops-1", auth.RoleAdmin),
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTOTPGuardWithoutSecretIsPassThrough(t *testing.T) {
	router := gin.New()
	router.Use(TOTPGuard("", testLogger()))
	router.POST("/guarded", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := doRequest(router, http.MethodPost, "/guarded", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTOTPGuard(t *testing.T) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "flarebridge", AccountName: "ops"})
	require.NoError(t, err)
	secret := key.Secret()

	router := gin.New()
	router.Use(TOTPGuard(secret, testLogger()))
	router.POST("/guarded", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := doRequest(router, http.MethodPost, "/guarded", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(router, http.MethodPost, "/guarded", map[string]string{"X-TOTP-Code": "000000"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	w = doRequest(router, http.MethodPost, "/guarded", map[string]string{"X-TOTP-Code": code})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecoveryHandlesPanics(t *testing.T) {
	router := gin.New()
	router.Use(Recovery(testLogger()))
	router.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := doRequest(router, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Internal server error")
}

func TestCORS(t *testing.T) {
	router := gin.New()
	router.Use(CORS([]string{"https://ops.etrid.io"}))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := doRequest(router, http.MethodGet, "/ping", map[string]string{"Origin": "https://ops.etrid.io"})
	assert.Equal(t, "https://ops.etrid.io", w.Header().Get("Access-Control-Allow-Origin"))

	w = doRequest(router, http.MethodGet, "/ping", map[string]string{"Origin": "https://evil.example"})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	// Preflight short-circuits before the handler.
	w = doRequest(router, http.MethodOptions, "/ping", map[string]string{"Origin": "https://ops.etrid.io"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-TOTP-Code")

	wildcard := gin.New()
	wildcard.Use(CORS([]string{"*"}))
	wildcard.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	w = doRequest(wildcard, http.MethodGet, "/ping", map[string]string{"Origin": "https://anywhere.example"})
	assert.Equal(t, "https://anywhere.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitPerIP(t *testing.T) {
	router := gin.New()
	router.Use(RateLimit(2))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/ping", nil).Code)
	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/ping", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(router, http.MethodGet, "/ping", nil).Code)
}

func TestSecurityHeaders(t *testing.T) {
	router := gin.New()
	router.Use(SecurityHeaders())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := doRequest(router, http.MethodGet, "/ping", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
	assert.NotEmpty(t, w.Header().Get("Content-Security-Policy"))
}

func TestRequestSizeLimit(t *testing.T) {
	router := gin.New()
	router.Use(RequestSizeLimit())
	router.POST("/submit", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	small := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader("payload"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, small)
	assert.Equal(t, http.StatusOK, w.Code)

	large := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(strings.Repeat("a", MaxRequestSize+1)))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, large)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestSubjectRateLimitFailsOpenWithoutRedis(t *testing.T) {
	// Port 1 is never listening; the check errors and the request proceeds.
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	limiter := ratelimit.NewLimiter(client, ratelimit.Config{SubjectLimit: 1, SubjectWindow: time.Minute}, zap.NewNop())

	router := gin.New()
	router.Use(func(c *gin.Context) { c.Set("subject", "attester-1") })
	router.Use(SubjectRateLimit(limiter, testLogger()))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := doRequest(router, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSubjectRateLimitSkipsAnonymousRequests(t *testing.T) {
	// No subject in context means nothing to key on; the limiter does not
	// touch Redis at all, so even an unreachable backend stays silent.
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	limiter := ratelimit.NewLimiter(client, ratelimit.Config{SubjectLimit: 1, SubjectWindow: time.Minute}, zap.NewNop())

	router := gin.New()
	router.Use(SubjectRateLimit(limiter, testLogger()))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/ping", nil).Code)
	assert.Equal(t, http.StatusOK, doRequest(router, http.MethodGet, "/ping", nil).Code)
}

func TestAuditContextPropagatesActor(t *testing.T) {
	router := gin.New()
	router.Use(func(c *gin.Context) { c.Set("subject", "ops-1") })
	router.Use(AuditContext())
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, audit.ActorFromContext(c.Request.Context()))
	})

	w := doRequest(router, http.MethodGet, "/ping", nil)
	assert.Equal(t, "ops-1", w.Body.String())
}
