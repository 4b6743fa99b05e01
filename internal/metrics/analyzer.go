package metrics

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/torosent/lopnur/internal/model"
)

// SuccessRateMargin is the success rate difference, in percentage points,
// above which success rate alone decides between two providers.
const SuccessRateMargin = 5.0

// Percentile returns the p-th percentile of sorted values, interpolating
// linearly between the two nearest ranks. An empty input yields 0.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := float64(n-1) * p / 100
	base := int(math.Floor(rank))
	if base < 0 {
		return sorted[0]
	}
	if base >= n {
		return sorted[n-1]
	}
	frac := rank - float64(base)
	if base+1 < n {
		return sorted[base] + frac*(sorted[base+1]-sorted[base])
	}
	return sorted[base]
}

// SummarizeProvider computes the summary of one provider from the outcomes
// recorded for it. Outcomes of other providers are ignored.
func SummarizeProvider(provider string, outcomes []model.Outcome) model.Summary {
	summary := model.Summary{Provider: provider}

	var latencies []float64
	for _, o := range outcomes {
		if o.Provider != provider {
			continue
		}
		summary.RequestCount++
		if o.Success {
			latencies = append(latencies, o.LatencyMs)
		}
	}
	if summary.RequestCount == 0 {
		return summary
	}

	summary.ErrorCount = summary.RequestCount - len(latencies)
	summary.SuccessRate = float64(len(latencies)) / float64(summary.RequestCount) * 100
	if len(latencies) == 0 {
		return summary
	}

	sort.Float64s(latencies)
	// stats only fails on empty input, which is excluded above.
	summary.AverageLatencyMs, _ = stats.Mean(latencies)
	summary.MinLatencyMs, _ = stats.Min(latencies)
	summary.MaxLatencyMs, _ = stats.Max(latencies)
	summary.P50LatencyMs = Percentile(latencies, 50)
	summary.P90LatencyMs = Percentile(latencies, 90)
	summary.P99LatencyMs = Percentile(latencies, 99)
	return summary
}

// Summarize returns one summary per provider of the session, in
// session.Providers order. It does not modify the session.
func Summarize(session model.Session) []model.Summary {
	summaries := make([]model.Summary, 0, len(session.Providers))
	for _, name := range session.Providers {
		summaries = append(summaries, SummarizeProvider(name, session.Results))
	}
	return summaries
}

// Compare orders two summaries for ranking. It returns a negative value when
// a ranks before b, a positive value when b ranks before a, and 0 otherwise.
func Compare(a, b model.Summary) int {
	if math.Abs(a.SuccessRate-b.SuccessRate) > SuccessRateMargin {
		if a.SuccessRate > b.SuccessRate {
			return -1
		}
		return 1
	}
	switch {
	case a.AverageLatencyMs < b.AverageLatencyMs:
		return -1
	case a.AverageLatencyMs > b.AverageLatencyMs:
		return 1
	default:
		return 0
	}
}

// Rank returns a copy of summaries ordered best first using Compare and a
// stable sort.
func Rank(summaries []model.Summary) []model.Summary {
	ranked := make([]model.Summary, len(summaries))
	copy(ranked, summaries)
	sort.SliceStable(ranked, func(i, j int) bool {
		return Compare(ranked[i], ranked[j]) < 0
	})
	return ranked
}

// FindBest returns the top ranked summary. It reports false when summaries
// is empty.
func FindBest(summaries []model.Summary) (model.Summary, bool) {
	if len(summaries) == 0 {
		return model.Summary{}, false
	}
	return Rank(summaries)[0], true
}
