package requester

import (
	"context"
	"errors"
	"sync"

	"google.golang.org/grpc/metadata"

	"github.com/torosent/lopnur/internal/clientmetrics"
	"github.com/torosent/lopnur/internal/grpcclient"
	"github.com/torosent/lopnur/internal/model"
	"github.com/torosent/lopnur/internal/tracing"
)

// ErrNoGRPCEndpoint is returned by grpcHealth for providers without a gRPC
// endpoint.
var ErrNoGRPCEndpoint = errors.New("grpcHealth: provider has no grpc endpoint")

// healthChecker keeps one gRPC channel per provider and endpoint for the
// life of the catalog.
type healthChecker struct {
	service   string
	propagate bool
	traffic   *clientmetrics.Registry

	mu      sync.Mutex
	clients map[string]*grpcclient.Client
}

func newHealthChecker(service string, propagate bool, traffic *clientmetrics.Registry) *healthChecker {
	return &healthChecker{
		service:   service,
		propagate: propagate,
		traffic:   traffic,
		clients:   make(map[string]*grpcclient.Client),
	}
}

func (h *healthChecker) client(p model.Provider) (*grpcclient.Client, error) {
	key := p.Name + "|" + p.GRPCEndpoint
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[key]; ok {
		return c, nil
	}
	target, useTLS, err := grpcclient.ParseTarget(p.GRPCEndpoint)
	if err != nil {
		return nil, err
	}
	c, err := grpcclient.NewClient(grpcclient.Config{
		Target:   target,
		UseTLS:   useTLS,
		Counters: h.traffic.For(p.Name, ProtocolGRPC),
	})
	if err != nil {
		return nil, err
	}
	h.clients[key] = c
	return c, nil
}

func (h *healthChecker) Do(ctx context.Context, p model.Provider) error {
	if p.GRPCEndpoint == "" {
		return ErrNoGRPCEndpoint
	}
	c, err := h.client(p)
	if err != nil {
		return err
	}
	md := metadata.MD{}
	if h.propagate {
		tracing.InjectGRPCMetadata(ctx, md)
	}
	_, err = c.Check(ctx, h.service, md)
	return err
}

func (h *healthChecker) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	for key, c := range h.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(h.clients, key)
	}
	return errors.Join(errs...)
}
