package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

// JSONRPCVersion is the protocol version sent with every request.
const JSONRPCVersion = "2.0"

var requestIDs atomic.Uint64

// RPCRequest is a JSON-RPC 2.0 call envelope.
type RPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// NewRPCRequest returns a call to method with a process-unique id.
func NewRPCRequest(method string, params ...any) RPCRequest {
	return RPCRequest{
		JSONRPC: JSONRPCVersion,
		ID:      requestIDs.Add(1),
		Method:  method,
		Params:  params,
	}
}

// Build returns a POST of r to endpoint. Extra headers are copied onto the
// request after validation.
func (r RPCRequest) Build(ctx context.Context, endpoint string, header http.Header) (*http.Request, error) {
	if strings.TrimSpace(r.Method) == "" {
		return nil, errors.New("rpc method is required")
	}
	target, err := validateEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	body, err := NewJSONBody(r)
	if err != nil {
		return nil, err
	}
	reader, err := body.NewReader()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, reader)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}
	for key, values := range header {
		canonical := http.CanonicalHeaderKey(strings.TrimSpace(key))
		if canonical == "" || strings.ContainsAny(canonical, "\r\n") {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		for _, v := range values {
			if strings.ContainsAny(v, "\r\n") {
				return nil, fmt.Errorf("invalid header value for %s", canonical)
			}
			req.Header.Add(canonical, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if length, ok := body.ContentLength(); ok {
		req.ContentLength = length
	}
	req.GetBody = body.NewReader
	return req, nil
}

func validateEndpoint(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", errors.New("endpoint is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid endpoint %q: scheme must be http or https", endpoint)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid endpoint %q: missing host", endpoint)
	}
	return u.String(), nil
}

func NewClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	// Providers are few and hit repeatedly, so keep plenty of idle
	// connections per host.
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
