// Package metrics turns benchmark outcomes into provider summaries and
// keeps live statistics while a provider is being benchmarked.
//
// # Analyzer
//
// [Summarize] produces one [model.Summary] per provider of a session, in
// session order. Latency statistics only consider successful outcomes, and a
// provider without outcomes yields an all-zero summary:
//
//	summaries := metrics.Summarize(session)
//	best, ok := metrics.FindBest(summaries)
//
// Percentiles interpolate linearly between order statistics, see
// [Percentile]. Providers are ranked with [Compare]: a success rate gap of
// more than five points decides, otherwise the lower average latency wins.
// The comparison is not transitive, so [Rank] and [FindBest] always apply it
// through a stable sort.
//
// # Collector
//
// [Collector] aggregates outcomes as they complete, backed by an
// HdrHistogram, for interim progress output:
//
//	collector := metrics.NewCollector()
//	collector.RecordOutcome(outcome)
//	stats := collector.Stats(elapsed)
//
// It is safe to record from multiple goroutines.
package metrics
