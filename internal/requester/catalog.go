// Package requester implements the request types lopnur can benchmark and
// registers them in a runner.Catalog.
//
// JSON-RPC methods are sent over HTTP to the provider's Endpoint.
// slotSubscribe opens (or reuses) a websocket to the provider and waits for
// the first slot notification. grpcHealth calls the standard health check
// on the provider's optional gRPC endpoint.
package requester

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/torosent/lopnur/internal/clientmetrics"
	"github.com/torosent/lopnur/internal/httpclient"
	"github.com/torosent/lopnur/internal/model"
	"github.com/torosent/lopnur/internal/pool"
	"github.com/torosent/lopnur/internal/runner"
	"github.com/torosent/lopnur/internal/websocket"
)

// Request type tags.
const (
	GetHealth          = "getHealth"
	GetSlot            = "getSlot"
	GetBlockHeight     = "getBlockHeight"
	GetLatestBlockhash = "getLatestBlockhash"
	GetVersion         = "getVersion"
	GetDLMMPositions   = "getDLMMPositions"
	SlotSubscribe      = "slotSubscribe"
	GRPCHealth         = "grpcHealth"
)

// Protocols under which websocket and gRPC traffic is counted.
const (
	ProtocolWebsocket = "websocket"
	ProtocolGRPC      = "grpc"
)

// DefaultDLMMProgramID is the Meteora DLMM program on mainnet.
const DefaultDLMMProgramID = "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo"

// Options configures the built-in requesters.
type Options struct {
	// Client sends JSON-RPC requests. Nil means httpclient.NewClient(Timeout).
	Client  *http.Client
	Timeout time.Duration
	// Headers are added to every HTTP request and websocket handshake.
	Headers http.Header
	// Propagate injects W3C trace context into outgoing requests.
	Propagate bool
	// DLMMOwner is the wallet whose DLMM positions getDLMMPositions lists.
	DLMMOwner string
	// DLMMProgramID defaults to DefaultDLMMProgramID.
	DLMMProgramID string
	// GRPCService is the service name sent in health checks. Empty asks
	// about the server as a whole.
	GRPCService string
	// PoolSize bounds idle websocket connections kept per endpoint.
	PoolSize int
	// Traffic counts websocket and gRPC traffic per provider. Nil keeps
	// the counts private to the catalog.
	Traffic *clientmetrics.Registry
	Log     logrus.FieldLogger
}

func (o *Options) normalize() {
	if o.Client == nil {
		o.Client = httpclient.NewClient(o.Timeout)
	}
	if o.DLMMProgramID == "" {
		o.DLMMProgramID = DefaultDLMMProgramID
	}
	if o.PoolSize <= 0 {
		o.PoolSize = pool.DefaultSize
	}
	if o.Traffic == nil {
		o.Traffic = clientmetrics.NewRegistry()
	}
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
}

// Unavailable maps each built-in request type that cannot run with opts
// against providers to the reason why. Types not in the map can run.
func Unavailable(opts Options, providers []model.Provider) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(opts.DLMMOwner) == "" {
		out[GetDLMMPositions] = "no DLMM owner wallet configured (meteora.owner)"
	}
	var missing []string
	for _, p := range providers {
		if p.GRPCEndpoint == "" {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		out[GRPCHealth] = "no grpc endpoint for " + strings.Join(missing, ", ")
	}
	return out
}

// DefaultTypes returns the types in known, in order, that are not
// unavailable. It is the workload used when none is selected.
func DefaultTypes(known []string, unavailable map[string]string) []string {
	types := make([]string, 0, len(known))
	for _, t := range known {
		if _, skip := unavailable[t]; !skip {
			types = append(types, t)
		}
	}
	return types
}

// DefaultCatalog registers every built-in request type. The returned
// function releases pooled websocket and gRPC connections and must be
// called once the catalog is no longer used.
func DefaultCatalog(opts Options) (*runner.Catalog, func() error) {
	opts.normalize()

	rpc := &rpcClient{http: opts.Client, headers: opts.Headers, propagate: opts.Propagate}
	ws := &subscriber{
		pool:      pool.New[*websocket.Client](opts.PoolSize),
		headers:   opts.Headers,
		propagate: opts.Propagate,
		traffic:   opts.Traffic,
		log:       opts.Log,
	}
	health := newHealthChecker(opts.GRPCService, opts.Propagate, opts.Traffic)

	c := runner.NewCatalog()
	mustRegister(c, GetHealth, rpc.method(GetHealth, nil, expectString("ok")))
	mustRegister(c, GetSlot, rpc.method(GetSlot, nil, expectNumber))
	mustRegister(c, GetBlockHeight, rpc.method(GetBlockHeight, nil, expectNumber))
	mustRegister(c, GetLatestBlockhash, rpc.method(GetLatestBlockhash, nil, expectPath("value.blockhash")))
	mustRegister(c, GetVersion, rpc.method(GetVersion, nil, expectPath("solana-core")))
	mustRegister(c, GetDLMMPositions, &dlmmPositions{rpc: rpc, owner: opts.DLMMOwner, programID: opts.DLMMProgramID})
	mustRegister(c, SlotSubscribe, ws)
	mustRegister(c, GRPCHealth, health)

	closeFn := func() error {
		return errors.Join(ws.pool.Close(), health.Close())
	}
	return c, closeFn
}

func mustRegister(c *runner.Catalog, tag string, req runner.Requester) {
	if err := c.Register(tag, req); err != nil {
		panic(err)
	}
}
