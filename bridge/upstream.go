package bridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/llmbridge/fc-bridge/config"
)

// DefaultUpstreamTimeout is the connect+total timeout for a non-streaming
// completion call (spec.md §4.3).
const DefaultUpstreamTimeout = 180 * time.Second

// UpstreamClient is the thin HTTP wrapper spec.md §4.3 describes: no full
// response buffering for streaming calls, status code propagated
// untouched to the Router for classification.
type UpstreamClient struct {
	client *http.Client
}

// NewUpstreamClient builds a client with a shared, internally thread-safe
// connection pool (spec.md §5 "per-process HTTP client pool").
func NewUpstreamClient(timeout time.Duration) *UpstreamClient {
	if timeout <= 0 {
		timeout = DefaultUpstreamTimeout
	}
	return &UpstreamClient{
		client: &http.Client{Timeout: timeout},
	}
}

func (u *UpstreamClient) buildRequest(ctx context.Context, ch config.Channel, key string, body []byte, stream bool) (*http.Request, error) {
	url := strings.TrimRight(ch.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	return req, nil
}

// Do performs a non-streaming call, returning the raw *http.Response for
// the Router to classify by status code and read to completion.
func (u *UpstreamClient) Do(ctx context.Context, ch config.Channel, key string, body []byte) (*http.Response, error) {
	req, err := u.buildRequest(ctx, ch, key, body, false)
	if err != nil {
		return nil, err
	}
	return u.client.Do(req)
}

// UpstreamStream exposes the streaming response as a byte-chunk iterator,
// per spec.md §4.3's "must not buffer full response" contract.
type UpstreamStream struct {
	resp   *http.Response
	reader *sseReader
}

// Next returns the next SSE data frame's payload (the bytes after
// "data: ", before the trailing newline), io.EOF when the upstream
// stream closes, or the literal "[DONE]" sentinel string passed through
// unchanged for the caller to recognize.
func (s *UpstreamStream) Next() (string, error) {
	return s.reader.next()
}

// StatusCode is the HTTP status the upstream responded with.
func (s *UpstreamStream) StatusCode() int {
	if s.resp == nil {
		return 0
	}
	return s.resp.StatusCode
}

// Close releases the underlying connection.
func (s *UpstreamStream) Close() error {
	if s.resp == nil {
		return nil
	}
	return s.resp.Body.Close()
}

// DoStream performs a streaming call and wraps the response body in an
// UpstreamStream. The request is issued and headers read (so the status
// code is known) but the body is never buffered in full.
func (u *UpstreamClient) DoStream(ctx context.Context, ch config.Channel, key string, body []byte) (*UpstreamStream, int, error) {
	req, err := u.buildRequest(ctx, ch, key, body, true)
	if err != nil {
		return nil, 0, err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	return &UpstreamStream{resp: resp, reader: newSSEReader(resp.Body)}, resp.StatusCode, nil
}

// sseReader incrementally parses "data: <payload>\n\n" frames out of a
// live io.Reader without reading the whole body into memory at once.
type sseReader struct {
	r   io.Reader
	buf []byte
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{r: r}
}

func (s *sseReader) next() (string, error) {
	for {
		if frame, rest, ok := splitOneFrame(s.buf); ok {
			s.buf = rest
			return frame, nil
		}
		chunk := make([]byte, 4096)
		n, err := s.r.Read(chunk)
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
		}
		if err != nil {
			if frame, _, ok := splitOneFrame(s.buf); ok {
				return frame, nil
			}
			return "", err
		}
	}
}

// splitOneFrame extracts the payload of the first complete "data: ...\n\n"
// frame from buf, if any, and returns the remainder.
func splitOneFrame(buf []byte) (frame string, rest []byte, ok bool) {
	sep := []byte("\n\n")
	idx := bytes.Index(buf, sep)
	if idx == -1 {
		return "", buf, false
	}
	line := buf[:idx]
	rest = buf[idx+len(sep):]
	line = bytes.TrimPrefix(line, []byte("data:"))
	line = bytes.TrimSpace(line)
	return string(line), rest, true
}

func readAll(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	return b, nil
}
