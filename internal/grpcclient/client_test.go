package grpcclient

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/torosent/lopnur/internal/clientmetrics"
)

type headerRecorder struct {
	healthpb.HealthServer
	mu   sync.Mutex
	seen metadata.MD
}

func (h *headerRecorder) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	h.mu.Lock()
	h.seen = md
	h.mu.Unlock()
	return h.HealthServer.Check(ctx, req)
}

func startHealthServer(t *testing.T, counters *clientmetrics.Counters) (*health.Server, *headerRecorder, *Client) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	hs := health.NewServer()
	rec := &headerRecorder{HealthServer: hs}
	healthpb.RegisterHealthServer(srv, rec)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := NewClient(Config{
		Target:   "passthrough:///bufnet",
		Metadata: map[string]string{"x-api-key": "secret"},
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
		Counters: counters,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return hs, rec, client
}

func TestCheckServing(t *testing.T) {
	counters := clientmetrics.New()
	_, rec, client := startHealthServer(t, counters)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := client.Check(ctx, "", metadata.Pairs("traceparent", "00-abc"))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if st != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %s", st)
	}

	rec.mu.Lock()
	seen := rec.seen
	rec.mu.Unlock()
	if got := seen.Get("x-api-key"); len(got) != 1 || got[0] != "secret" {
		t.Errorf("x-api-key metadata = %v", got)
	}
	if got := seen.Get("traceparent"); len(got) != 1 {
		t.Errorf("traceparent metadata = %v", got)
	}

	m := counters.Snapshot()
	if m.Connections != 1 || m.MessagesSent != 1 || m.MessagesReceived != 1 || m.Errors != 0 {
		t.Errorf("counters = %+v", m)
	}
	if m.BytesReceived == 0 {
		t.Error("expected response bytes to be counted")
	}
}

func TestCheckNotServing(t *testing.T) {
	hs, _, client := startHealthServer(t, nil)
	hs.SetServingStatus("solana.Geyser", healthpb.HealthCheckResponse_NOT_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := client.Check(ctx, "solana.Geyser", nil)
	var notServing *NotServingError
	if !errors.As(err, &notServing) {
		t.Fatalf("err = %v, want NotServingError", err)
	}
	if st != healthpb.HealthCheckResponse_NOT_SERVING || notServing.Status != st {
		t.Errorf("status = %s", st)
	}
}

func TestCheckUnknownService(t *testing.T) {
	counters := clientmetrics.New()
	_, _, client := startHealthServer(t, counters)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Check(ctx, "missing.Service", nil)
	if status.Code(errors.Unwrap(err)) != codes.NotFound {
		t.Fatalf("err = %v, want NotFound", err)
	}
	m := counters.Snapshot()
	if m.Errors != 1 || m.MessagesReceived != 0 {
		t.Errorf("counters = %+v", m)
	}
}

func TestCheckAfterClose(t *testing.T) {
	counters := clientmetrics.New()
	_, _, client := startHealthServer(t, counters)
	if err := client.Close(); err != nil {
		t.Fatal(err)
	}
	if open := counters.Snapshot().OpenConnections; open != 0 {
		t.Errorf("open connections = %d after Close", open)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if _, err := client.Check(context.Background(), "", nil); err == nil || err.Error() != "client not connected" {
		t.Fatalf("err = %v", err)
	}
}

func TestDialRequiresTarget(t *testing.T) {
	if _, err := Dial(Config{}); err == nil {
		t.Fatal("expected error for empty target")
	}
	for _, cfg := range []Config{
		{Target: "localhost:50051"},
		{Target: "localhost:50051", UseTLS: true},
		{Target: "localhost:50051", UseTLS: true, Insecure: true},
	} {
		conn, err := Dial(cfg)
		if err != nil {
			t.Fatalf("Dial(%+v) error = %v", cfg, err)
		}
		_ = conn.Close()
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in      string
		target  string
		tls     bool
		wantErr bool
	}{
		{in: "localhost:10000", target: "localhost:10000"},
		{in: "grpc.example.com:443", target: "grpc.example.com:443", tls: true},
		{in: "grpcs://grpc.example.com", target: "grpc.example.com:443", tls: true},
		{in: "https://grpc.example.com:8443", target: "grpc.example.com:8443", tls: true},
		{in: "grpc://127.0.0.1:9000", target: "127.0.0.1:9000"},
		{in: "http://node.local", target: "node.local:80"},
		{in: "wss://nope.example.com", wantErr: true},
		{in: "no-port", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			target, useTLS, err := ParseTarget(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseTarget(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if target != tt.target || useTLS != tt.tls {
				t.Errorf("ParseTarget(%q) = %q, %v; want %q, %v", tt.in, target, useTLS, tt.target, tt.tls)
			}
		})
	}
}
