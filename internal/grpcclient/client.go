// Package grpcclient dials provider gRPC endpoints and checks them with the
// standard gRPC health checking protocol.
package grpcclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/torosent/lopnur/internal/clientmetrics"
)

// NotServingError reports a health check that completed but did not return
// SERVING.
type NotServingError struct {
	Status healthpb.HealthCheckResponse_ServingStatus
}

func (e *NotServingError) Error() string {
	return fmt.Sprintf("service not serving: %s", e.Status)
}

// Config holds configuration for the gRPC client.
type Config struct {
	Target   string
	Metadata map[string]string
	UseTLS   bool
	// Insecure skips certificate verification when UseTLS is set.
	Insecure    bool
	DialOptions []grpc.DialOption
	// Counters receives this channel's traffic. Nil gives the client
	// private counters.
	Counters *clientmetrics.Counters
}

// Client issues health checks over one gRPC channel.
type Client struct {
	conn     *grpc.ClientConn
	health   healthpb.HealthClient
	md       metadata.MD
	counters *clientmetrics.Counters
	mu       sync.Mutex
}

// NewClient creates the channel for cfg. Dialing is lazy; the first Check
// establishes the connection.
func NewClient(cfg Config) (*Client, error) {
	conn, err := Dial(cfg)
	if err != nil {
		return nil, err
	}
	return NewClientWithConn(conn, cfg), nil
}

// NewClientWithConn creates a Client on an existing channel.
func NewClientWithConn(conn *grpc.ClientConn, cfg Config) *Client {
	counters := cfg.Counters
	if counters == nil {
		counters = clientmetrics.New()
	}
	c := &Client{
		conn:     conn,
		health:   healthpb.NewHealthClient(conn),
		md:       metadata.New(cfg.Metadata),
		counters: counters,
	}
	c.counters.MarkConnected()
	return c
}

// Dial creates a gRPC channel based on cfg.
func Dial(cfg Config) (*grpc.ClientConn, error) {
	if strings.TrimSpace(cfg.Target) == "" {
		return nil, errors.New("grpc target is required")
	}
	var opts []grpc.DialOption
	if cfg.UseTLS {
		if cfg.Insecure {
			creds := credentials.NewTLS(&tls.Config{InsecureSkipVerify: true})
			opts = append(opts, grpc.WithTransportCredentials(creds))
		} else {
			creds := credentials.NewClientTLSFromCert(nil, "")
			opts = append(opts, grpc.WithTransportCredentials(creds))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts, cfg.DialOptions...)

	return grpc.NewClient(cfg.Target, opts...)
}

// Check calls grpc.health.v1.Health/Check for service. An empty service
// asks about the server as a whole. md is merged into the client metadata.
func (c *Client) Check(ctx context.Context, service string, md metadata.MD) (healthpb.HealthCheckResponse_ServingStatus, error) {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return healthpb.HealthCheckResponse_UNKNOWN, errors.New("client not connected")
	}
	health := c.health
	c.mu.Unlock()

	if merged := metadata.Join(c.md, md); len(merged) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, merged)
	}

	req := &healthpb.HealthCheckRequest{Service: service}
	resp, err := health.Check(ctx, req)
	c.counters.Sent(proto.Size(req))
	if err != nil {
		c.counters.Failed()
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check failed: %s: %w", status.Code(err), err)
	}
	c.counters.Received(proto.Size(resp))

	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return resp.GetStatus(), &NotServingError{Status: resp.GetStatus()}
	}
	return resp.GetStatus(), nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.counters.MarkDisconnected()
	return err
}

// ParseTarget turns a provider's gRPC endpoint into a dial target. Endpoints
// may be a bare host:port or carry a grpc, grpcs, http or https scheme; a
// secure scheme or port 443 selects TLS.
func ParseTarget(endpoint string) (target string, useTLS bool, err error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", false, errors.New("grpc endpoint is required")
	}
	if !strings.Contains(endpoint, "://") {
		_, port, err := net.SplitHostPort(endpoint)
		if err != nil {
			return "", false, fmt.Errorf("invalid grpc endpoint %q: %w", endpoint, err)
		}
		return endpoint, port == "443", nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid grpc endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid grpc endpoint %q: missing host", endpoint)
	}
	switch u.Scheme {
	case "grpcs", "https":
		useTLS = true
	case "grpc", "http":
	default:
		return "", false, fmt.Errorf("invalid grpc endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}

	host := u.Host
	if u.Port() == "" {
		port := "80"
		if useTLS {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	return host, useTLS, nil
}
