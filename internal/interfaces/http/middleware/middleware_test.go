package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"

	"github.com/nicoladebbia/CredLink-sub020/internal/infrastructure/ratelimit"
	"github.com/nicoladebbia/CredLink-sub020/internal/interfaces/http/middleware"
	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
	"github.com/nicoladebbia/CredLink-sub020/pkg/errors"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

type adminStub struct{ token string }

func (a adminStub) AuthorizeAdmin(_ context.Context, token string) error {
	if token == "" || token != a.token {
		return errors.ErrAdminAuthentication()
	}
	return nil
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.Request.Context().Value(constants.ContextKeyRequestID).(string))
	})

	t.Run("should keep a well-formed inbound id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(constants.HeaderRequestID, "abc-123")
		w := serve(r, req)
		assert.Equal(t, "abc-123", w.Body.String())
		assert.Equal(t, "abc-123", w.Header().Get(constants.HeaderRequestID))
	})

	t.Run("should replace a malformed inbound id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(constants.HeaderRequestID, "bad id\n")
		w := serve(r, req)
		assert.Len(t, w.Body.String(), 36)
	})
}

func TestIPRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("should return 429 once the bucket is empty", func(t *testing.T) {
		r := gin.New()
		r.Use(middleware.IPRateLimit(ratelimit.NewLimiterPool(0.001, 1), nil, logger.NewNoopLogger()))
		r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

		assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
		w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.JSONEq(t, `{"success":false,"error":"rate limit exceeded"}`, w.Body.String())
	})
}

func TestCredentials(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/key", func(c *gin.Context) { c.String(http.StatusOK, middleware.APIKey(c)) })

	t.Run("should read the X-API-Key header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/key", nil)
		req.Header.Set(constants.HeaderAPIKey, "k1")
		assert.Equal(t, "k1", serve(r, req).Body.String())
	})

	t.Run("should read the ApiKey authorization scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/key", nil)
		req.Header.Set(constants.HeaderAuthorization, "ApiKey k2")
		assert.Equal(t, "k2", serve(r, req).Body.String())
	})

	t.Run("should ignore other schemes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/key", nil)
		req.Header.Set(constants.HeaderAuthorization, "Bearer k3")
		assert.Empty(t, serve(r, req).Body.String())
	})
}

func TestAdminAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.AdminAuth(adminStub{token: "good"}))
	r.POST("/drain", func(c *gin.Context) { c.Status(http.StatusOK) })

	t.Run("should pass a valid bearer token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/drain", nil)
		req.Header.Set(constants.HeaderAuthorization, "Bearer good")
		assert.Equal(t, http.StatusOK, serve(r, req).Code)
	})

	t.Run("should reject a tenant api key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/drain", nil)
		req.Header.Set(constants.HeaderAPIKey, "good")
		assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
	})
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Recovery(logger.NewNoopLogger()), middleware.Tracing(otel.Tracer("test")))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	t.Run("should answer 500 with a correlation id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/boom", nil)
		req.Header.Set(constants.HeaderRequestID, "corr-1")
		w := serve(r, req)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"success":false,"error":"internal error","correlation_id":"corr-1"}`, w.Body.String())
	})
}
