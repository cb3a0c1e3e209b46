package bridge

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/llmbridge/fc-bridge/bridge/compat"
)

// Authenticator validates the client-supplied bearer key against the
// allow-list before a request is allowed to reach the router. Unlike the
// teacher's apiKeyAuth, which used a plain == comparison, key comparison
// here is constant-time (spec.md §4.5): timing differences between a
// near-miss and a correct key must not leak information about the key.
type Authenticator struct {
	allowedKeys [][]byte
}

// NewAuthenticator builds an Authenticator from a snapshot's allow-list.
// An empty list means the bridge is unauthenticated: every request passes.
func NewAuthenticator(allowedKeys []string) *Authenticator {
	a := &Authenticator{allowedKeys: make([][]byte, len(allowedKeys))}
	for i, k := range allowedKeys {
		a.allowedKeys[i] = []byte(k)
	}
	return a
}

// Valid reports whether key matches one of the allowed keys. Every
// candidate is compared in constant time and the loop does not
// short-circuit on the first match, so elapsed time does not correlate
// with which (if any) key matched.
func (a *Authenticator) Valid(key string) bool {
	if len(a.allowedKeys) == 0 {
		return true
	}
	provided := []byte(key)
	ok := 0
	for _, candidate := range a.allowedKeys {
		if len(candidate) != len(provided) {
			continue
		}
		ok |= subtle.ConstantTimeCompare(candidate, provided)
	}
	return ok == 1
}

// extractBearerKey pulls the client's credential out of the request the
// same way the teacher's apiKeyAuth did: Basic auth password, then Bearer
// token, then x-api-key, in that priority order.
func extractBearerKey(r *http.Request) string {
	var bearerKey, basicKey string
	if auth := r.Header.Get("Authorization"); auth != "" {
		switch {
		case strings.HasPrefix(auth, "Bearer "):
			bearerKey = strings.TrimPrefix(auth, "Bearer ")
		case strings.HasPrefix(auth, "Basic "):
			if decoded, ok := decodeBasicPassword(strings.TrimPrefix(auth, "Basic ")); ok {
				basicKey = decoded
			}
		}
	}
	if basicKey != "" {
		return basicKey
	}
	if bearerKey != "" {
		return bearerKey
	}
	return r.Header.Get("x-api-key")
}

func decodeBasicPassword(encoded string) (string, bool) {
	_, password, ok := parseBasicAuthHeader("Basic " + encoded)
	return password, ok
}

// parseBasicAuthHeader is a thin indirection over net/http's own Basic
// auth decoder so we don't hand-roll base64/colon splitting.
func parseBasicAuthHeader(header string) (username, password string, ok bool) {
	req := &http.Request{Header: http.Header{"Authorization": []string{header}}}
	return req.BasicAuth()
}

// Middleware returns a gin.HandlerFunc that rejects unauthenticated
// requests with an OpenAI-shaped 401 before any upstream is contacted,
// and strips credential headers so they are never forwarded upstream.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := extractBearerKey(c.Request)
		if !a.Valid(key) {
			c.Header("WWW-Authenticate", `Bearer realm="fc-bridge"`)
			c.JSON(http.StatusUnauthorized, compat.NewInvalidAPIKeyError())
			c.Abort()
			return
		}
		c.Request.Header.Del("Authorization")
		c.Request.Header.Del("x-api-key")
		c.Next()
	}
}
