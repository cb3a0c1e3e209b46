package bridge

import (
	"context"
	"net/http"

	"github.com/llmbridge/fc-bridge/bridge/errtype"
	"github.com/llmbridge/fc-bridge/config"
)

// Attempt records one dispatched call to a channel, for logging and for
// the invariant-7 "first attempted channel" test property.
type Attempt struct {
	Channel    config.Channel
	StatusCode int
	Err        error
}

// Router drives the channel resolution and sequential-attempt algorithm
// of spec.md §4.2, against an UpstreamClient collaborator.
type Router struct {
	upstream *UpstreamClient
	logger   *LogMonitor
}

func NewRouter(upstream *UpstreamClient, logger *LogMonitor) *Router {
	if logger == nil {
		logger = NewLogMonitorWriter(nil)
	}
	return &Router{upstream: upstream, logger: logger}
}

// Dispatch implements the non-streaming attempt loop: try each eligible
// channel in order, absorbing retryable failures, returning on the first
// terminal outcome (success or non-retryable failure).
func (r *Router) Dispatch(ctx context.Context, rc *RequestContext, body []byte, keyPassthrough bool) ([]byte, int, []Attempt, error) {
	if len(rc.Channels) == 0 {
		return nil, 0, nil, errtype.NoUpstreamAvailable("no eligible upstream channel for model %q", rc.RequestedModel)
	}

	var attempts []Attempt
	var lastErr error
	var lastStatus int

	for _, ch := range rc.Channels {
		respBody, status, err := r.attempt(ctx, ch, rc, body, keyPassthrough)
		attempts = append(attempts, Attempt{Channel: ch, StatusCode: status, Err: err})

		if err == nil && isSuccessStatus(status) {
			return respBody, status, attempts, nil
		}

		if err == nil && !isRetryableStatus(status) {
			// Terminal 4xx failure: the same request would be rejected
			// everywhere, do not try further channels.
			return respBody, status, attempts, nil
		}

		lastErr = err
		lastStatus = status
		if err != nil {
			lastErr = err
		} else {
			lastErr = errtype.UpstreamServerError("upstream %s returned status %d", ch.Name, status)
		}
	}

	if lastStatus == http.StatusTooManyRequests {
		return nil, 0, attempts, errtype.UpstreamRateLimited("all eligible channels exhausted, last status 429: %v", lastErr)
	}
	return nil, 0, attempts, errtype.UpstreamServerError("all eligible channels exhausted: %v", lastErr)
}

func (r *Router) attempt(ctx context.Context, ch config.Channel, rc *RequestContext, body []byte, keyPassthrough bool) ([]byte, int, error) {
	key := ch.APIKey
	if keyPassthrough {
		key = rc.ClientKey
	}
	resp, err := r.upstream.Do(ctx, ch, key, body)
	if err != nil {
		return nil, 0, classifyTransportError(err)
	}
	defer resp.Body.Close()
	respBody, err := readAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errtype.UpstreamTimeout("reading upstream body from %s: %v", ch.Name, err)
	}
	return respBody, resp.StatusCode, nil
}

// DispatchStream implements spec.md §4.2's streaming rule: only the first
// eligible channel is ever used. A pre-first-byte failure may still fall
// over (treated the same as non-streaming up to that point); once any
// byte has reached the caller, failover becomes structurally impossible
// and this method never retries.
func (r *Router) DispatchStream(ctx context.Context, rc *RequestContext, body []byte, keyPassthrough bool) (*UpstreamStream, config.Channel, error) {
	if len(rc.Channels) == 0 {
		return nil, config.Channel{}, errtype.NoUpstreamAvailable("no eligible upstream channel for model %q", rc.RequestedModel)
	}

	for _, ch := range rc.Channels {
		key := ch.APIKey
		if keyPassthrough {
			key = rc.ClientKey
		}
		stream, status, err := r.upstream.DoStream(ctx, ch, key, body)
		if err != nil {
			r.logger.Warnf("stream attempt on channel %s failed before first byte: %v", ch.Name, err)
			continue
		}
		if isSuccessStatus(status) {
			return stream, ch, nil
		}
		if !isRetryableStatus(status) {
			return stream, ch, nil // terminal 4xx: caller relays it verbatim
		}
		stream.Close()
	}
	return nil, config.Channel{}, errtype.NoUpstreamAvailable("all eligible channels failed before first byte for model %q", rc.RequestedModel)
}

func isSuccessStatus(status int) bool {
	return status >= 200 && status < 300
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// classifyTransportError maps a network-level failure (connect error,
// timeout, reset) to the retryable UpstreamTimeout kind per spec.md
// §4.2's "network error, connect timeout, read timeout before any bytes"
// rule.
func classifyTransportError(err error) error {
	return errtype.UpstreamTimeout("upstream transport error: %v", err)
}
