package bridge

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestAuthenticatorValid(t *testing.T) {
	a := NewAuthenticator([]string{"sk-one", "sk-two"})
	assert.True(t, a.Valid("sk-one"))
	assert.True(t, a.Valid("sk-two"))
	assert.False(t, a.Valid("sk-three"))
	assert.False(t, a.Valid(""))
}

func TestAuthenticatorEmptyAllowListPassesEverything(t *testing.T) {
	a := NewAuthenticator(nil)
	assert.True(t, a.Valid("anything"))
	assert.True(t, a.Valid(""))
}

func TestExtractBearerKeyPriorityBasicThenBearerThenXAPIKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	r.Header.Set("x-api-key", "from-x-api-key")
	assert.Equal(t, "from-x-api-key", extractBearerKey(r))

	r.Header.Set("Authorization", "Bearer from-bearer")
	assert.Equal(t, "from-bearer", extractBearerKey(r))

	r.SetBasicAuth("user", "from-basic")
	assert.Equal(t, "from-basic", extractBearerKey(r))
}

func TestAuthenticatorMiddlewareRejectsUnauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	a := NewAuthenticator([]string{"sk-good"})
	engine.GET("/x", a.Middleware(), func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer sk-bad")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":{"type":"invalid_request_error","code":"invalid_api_key"}}`, rec.Body.String())
}

func TestAuthenticatorMiddlewareStripsCredentialHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	a := NewAuthenticator([]string{"sk-good"})

	var sawAuthHeader, sawAPIKeyHeader string
	engine.GET("/x", a.Middleware(), func(c *gin.Context) {
		sawAuthHeader = c.Request.Header.Get("Authorization")
		sawAPIKeyHeader = c.Request.Header.Get("x-api-key")
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer sk-good")
	req.Header.Set("x-api-key", "also-set")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, sawAuthHeader)
	assert.Empty(t, sawAPIKeyHeader)
}
