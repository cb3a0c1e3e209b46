package bridge

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/llmbridge/fc-bridge/bridge/compat"
	"github.com/llmbridge/fc-bridge/bridge/errtype"
	"github.com/llmbridge/fc-bridge/config"
)

// extractStreamDeltaContent pulls the content delta out of one upstream
// chat.completion.chunk payload without a full struct unmarshal.
func extractStreamDeltaContent(payload string) string {
	return gjson.Get(payload, "choices.0.delta.content").String()
}

// Server wires the Authenticator, PromptInjector, Router, and
// ResponseParser into a gin engine, grounded on the teacher's
// proxyInferenceHandler/sendErrorResponse wiring.
type Server struct {
	store    *config.Store
	injector *PromptInjector
	router   *Router
	logger   *LogMonitor
	engine   *gin.Engine
	registry compat.Registry
}

// NewServer builds a Server bound to store; store.Load() is consulted
// fresh on every request so config hot-reloads apply without restart.
func NewServer(store *config.Store, upstream *UpstreamClient, logger *LogMonitor) *Server {
	if logger == nil {
		logger = NewLogMonitorWriter(nil)
	}
	s := &Server{
		store:    store,
		injector: NewPromptInjector(),
		router:   NewRouter(upstream, logger.Named("router")),
		logger:   logger.Named("server"),
		registry: compat.NewDefaultRegistry(),
	}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.mount()
	return s
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) mount() {
	s.engine.POST("/v1/chat/completions", s.authMiddleware(), s.handleChatCompletions)
	s.engine.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
}

// authMiddleware builds a fresh Authenticator from the current snapshot
// on every request, since the allow-list can change on config reload.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := s.store.Load()
		auth := NewAuthenticator(snap.Config.ClientAuthentication.AllowedKeys)
		auth.Middleware()(c)
	}
}

func (s *Server) handleChatCompletions(c *gin.Context) {
	snap := s.store.Load()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.sendError(c, errtype.InvalidRequest("failed to read request body: %v", err))
		return
	}

	norm, err := compat.NormalizeInferenceRequest(c.Request, body)
	if err != nil {
		s.sendError(c, errtype.InvalidRequest("%v", err))
		return
	}
	if !compat.IsSupportedEndpoint(norm.Endpoint) {
		s.sendError(c, errtype.InvalidRequest("unsupported endpoint: %s", c.Request.URL.Path))
		return
	}
	if err := s.registry.Validate(norm.Canonical); err != nil {
		s.sendError(c, errtype.InvalidRequest("%v", err))
		return
	}

	clientKey := extractBearerKey(c.Request)
	injected, rc, err := s.injector.Inject(body, snap, clientKey)
	if err != nil {
		s.sendError(c, err)
		return
	}

	if rc.Streaming {
		s.handleStreaming(c, rc, injected, snap.Config.Features.KeyPassthrough)
		return
	}
	s.handleNonStreaming(c, rc, injected, snap.Config.Features.KeyPassthrough)
}

func (s *Server) handleNonStreaming(c *gin.Context, rc *RequestContext, body []byte, keyPassthrough bool) {
	respBody, status, _, err := s.router.Dispatch(c.Request.Context(), rc, body, keyPassthrough)
	if err != nil {
		s.sendError(c, err)
		return
	}
	if !isSuccessStatus(status) {
		// Terminal 4xx: relayed verbatim, not re-wrapped (spec.md §4.2,
		// invariant E5).
		c.Data(status, "application/json", respBody)
		return
	}

	out, err := ParseNonStreamingResponse(respBody, rc)
	if err != nil {
		s.sendError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", out)
}

func (s *Server) handleStreaming(c *gin.Context, rc *RequestContext, body []byte, keyPassthrough bool) {
	stream, ch, err := s.router.DispatchStream(c.Request.Context(), rc, body, keyPassthrough)
	if err != nil {
		s.sendError(c, err)
		return
	}
	defer stream.Close()

	if !isSuccessStatus(stream.StatusCode()) {
		s.relayUpstreamErrorStream(c, stream)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, _ := c.Writer.(http.Flusher)

	if !rc.FunctionCalling {
		s.relayRawStream(c, stream, flusher)
		return
	}

	proc := NewStreamProcessor(rc.RequestedModel, rc.TriggerToken, rc.ThinkMode, 0)
	s.logger.Debugf("streaming via channel %s for model %s", ch.Name, rc.RequestedModel)

	for {
		select {
		case <-c.Request.Context().Done():
			return
		default:
		}

		payload, err := stream.Next()
		if err != nil {
			break
		}
		if payload == "[DONE]" {
			break
		}
		delta := extractStreamDeltaContent(payload)
		if delta == "" {
			continue
		}
		frames := proc.Feed(delta)
		if len(frames) > 0 {
			_, _ = c.Writer.Write(frames)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}

	frames := proc.Close()
	if len(frames) > 0 {
		_, _ = c.Writer.Write(frames)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// relayRawStream forwards upstream SSE frames byte-for-byte when
// function calling is not active, satisfying invariant 8's round-trip
// requirement for streaming non-tool replies.
func (s *Server) relayRawStream(c *gin.Context, stream *UpstreamStream, flusher http.Flusher) {
	for {
		payload, err := stream.Next()
		if err != nil {
			return
		}
		_, _ = c.Writer.Write([]byte("data: " + payload + "\n\n"))
		if flusher != nil {
			flusher.Flush()
		}
		if payload == "[DONE]" {
			return
		}
	}
}

func (s *Server) relayUpstreamErrorStream(c *gin.Context, stream *UpstreamStream) {
	c.Status(stream.StatusCode())
	c.Header("Content-Type", "application/json")
	for {
		payload, err := stream.Next()
		if err != nil {
			return
		}
		_, _ = c.Writer.Write([]byte(payload))
	}
}

func (s *Server) sendError(c *gin.Context, err error) {
	var te *errtype.Error
	if !errtype.As(err, &te) {
		te = errtype.InvalidRequest(err.Error())
	}
	s.logger.Warnf("request failed: %v", te)
	if te.Kind == errtype.KindUnauthorized {
		// spec.md §6's invalid-API-key wire contract is a fixed
		// type/code pair, not derivable from the generic status->type
		// mapping NewErrorEnvelope otherwise applies.
		c.JSON(te.Status(), compat.NewInvalidAPIKeyError())
		return
	}
	c.JSON(te.Status(), compat.NewErrorEnvelope(te.Status(), te.Message, string(te.Kind)))
}
