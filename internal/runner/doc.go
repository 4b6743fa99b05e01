// Package runner provides the work-distribution scheduler for lopnur.
//
// A [Runner] drives Count × len(RequestTypes) work items against a single
// provider with bounded parallelism and returns one [model.Outcome] per
// executed item.
//
// # Basic Usage
//
//	catalog := runner.NewCatalog()
//	_ = catalog.Register("getSlot", slotRequester)
//
//	r := runner.New(runner.Options{
//		Provider:     provider,
//		RequestTypes: []string{"getSlot", "getHealth"},
//		Count:        10,
//		Concurrency:  3,
//		Catalog:      catalog,
//	})
//	outcomes := r.Run(ctx)
//
// # Work Distribution
//
// The repeats × types expansion is a single logical queue indexed
// 0..total-1. Item i has request type RequestTypes[i % len(RequestTypes)].
// Exactly min(Concurrency, total) workers are launched; each claims the next
// index with an atomic increment, so no index runs twice and request types
// are interleaved round-robin even when a run is cut short.
//
// # Requester Interface
//
// The [Requester] interface performs one unit of work:
//
//	type Requester interface {
//		Do(ctx context.Context, target model.Provider) error
//	}
//
// Requesters are registered per request-type tag in a [Catalog]. Errors and
// panics are converted into failed outcomes; they never abort the batch.
//
// # Middleware
//
//   - [WithLogging]: log request failures
//
// # Pacing
//
// When Delay is set, item starts across all workers are spaced at least Delay
// apart using a token bucket from golang.org/x/time/rate.
package runner
