package httpclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxResponseBytes caps how much of a response body ReadBody buffers.
const MaxResponseBytes int64 = 16 << 20

// ErrBodyTooLarge is returned by ReadBody when a body exceeds its limit.
var ErrBodyTooLarge = errors.New("response body too large")

// BodySource produces fresh readers over the same request payload so a
// request can be replayed on redirect or retry by the transport.
type BodySource interface {
	NewReader() (io.ReadCloser, error)
	ContentLength() (int64, bool)
}

// NewJSONBody encodes v once and serves it as a BodySource.
func NewJSONBody(v any) (BodySource, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return &inlineBodySource{data: data}, nil
}

type inlineBodySource struct {
	data []byte
}

func (s *inlineBodySource) NewReader() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func (s *inlineBodySource) ContentLength() (int64, bool) {
	return int64(len(s.data)), true
}

// ReadBody reads and closes body. Bodies longer than limit fail with
// ErrBodyTooLarge; limit <= 0 means MaxResponseBytes.
func ReadBody(body io.ReadCloser, limit int64) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	defer body.Close()
	if limit <= 0 {
		limit = MaxResponseBytes
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}
	return data, nil
}

// Snippet returns at most n bytes of body as a string for error messages.
func Snippet(body []byte, n int) string {
	body = bytes.TrimSpace(body)
	if n <= 0 || len(body) <= n {
		return string(body)
	}
	return string(body[:n]) + "..."
}
