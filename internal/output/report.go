// Package output renders benchmark sessions for people and machines: a
// console comparison table, a JSON document, a standalone HTML page and a
// live progress line.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/torosent/lopnur/internal/metrics"
	"github.com/torosent/lopnur/internal/model"
	"github.com/torosent/lopnur/internal/threshold"
)

// Report is the JSON document written by --json-output.
type Report struct {
	Session    model.Session           `json:"session"`
	Summaries  []model.Summary         `json:"summaries"`
	Best       *model.Summary          `json:"best"`
	Failures   []metrics.FailureBucket `json:"failures,omitempty"`
	Thresholds *ThresholdSummary       `json:"thresholds,omitempty"`
}

// ThresholdSummary aggregates threshold results for reports.
type ThresholdSummary struct {
	Total   int                   `json:"total"`
	Passed  int                   `json:"passed"`
	Failed  int                   `json:"failed"`
	Results []ThresholdResultJSON `json:"results"`
}

// ThresholdResultJSON is one evaluated threshold.
type ThresholdResultJSON struct {
	Threshold string  `json:"threshold"`
	Provider  string  `json:"provider"`
	Metric    string  `json:"metric"`
	Aggregate string  `json:"aggregate"`
	Operator  string  `json:"operator"`
	Expected  float64 `json:"expected"`
	Actual    float64 `json:"actual"`
	Pass      bool    `json:"pass"`
}

// NewReport derives summaries, the best provider and failure buckets from
// session. Summaries keep the session's provider order.
func NewReport(session model.Session, results []threshold.Result) Report {
	r := Report{
		Session:    session,
		Summaries:  metrics.Summarize(session),
		Failures:   metrics.FailureBuckets(session.Results),
		Thresholds: summarizeThresholds(results),
	}
	if best, ok := metrics.FindBest(r.Summaries); ok {
		r.Best = &best
	}
	return r
}

func summarizeThresholds(results []threshold.Result) *ThresholdSummary {
	if len(results) == 0 {
		return nil
	}
	s := &ThresholdSummary{Total: len(results), Results: make([]ThresholdResultJSON, len(results))}
	for i, tr := range results {
		s.Results[i] = ThresholdResultJSON{
			Threshold: tr.Threshold.Raw,
			Provider:  tr.Provider,
			Metric:    tr.Threshold.Metric,
			Aggregate: tr.Threshold.Aggregate,
			Operator:  tr.Threshold.Operator,
			Expected:  tr.Threshold.Value,
			Actual:    tr.Actual,
			Pass:      tr.Pass,
		}
		if tr.Pass {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	return s
}

// PrintReport writes a human-readable comparison of every provider, ranked
// best first.
func PrintReport(w io.Writer, r Report) {
	fmt.Fprintln(w, "\n--- Benchmark Results ---")
	fmt.Fprintf(w, "Session:           %s\n", r.Session.ID)
	fmt.Fprintf(w, "Providers:         %d\n", len(r.Session.Providers))
	fmt.Fprintf(w, "Total Requests:    %d\n", len(r.Session.Results))
	if d := sessionDuration(r.Session); d > 0 {
		fmt.Fprintf(w, "Duration:          %s\n", d)
	}
	fmt.Fprintln(w)

	if len(r.Summaries) == 0 {
		fmt.Fprintln(w, "No providers were benchmarked.")
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Provider", "Success", "Avg", "P50", "P90", "P99", "Min", "Max", "Requests", "Errors"})
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, s := range metrics.Rank(r.Summaries) {
		table.Append([]string{
			s.Provider,
			formatPercent(s.SuccessRate),
			formatMs(s.AverageLatencyMs),
			formatMs(s.P50LatencyMs),
			formatMs(s.P90LatencyMs),
			formatMs(s.P99LatencyMs),
			formatMs(s.MinLatencyMs),
			formatMs(s.MaxLatencyMs),
			strconv.Itoa(s.RequestCount),
			strconv.Itoa(s.ErrorCount),
		})
	}
	table.Render()

	if r.Best != nil {
		fmt.Fprintf(w, "\nBest provider: %s (success %s, avg %s)\n",
			r.Best.Provider, formatPercent(r.Best.SuccessRate), formatMs(r.Best.AverageLatencyMs))
	}

	if len(r.Failures) > 0 {
		fmt.Fprintln(w, "\nFailures:")
		ft := tablewriter.NewWriter(w)
		ft.SetHeader([]string{"Provider", "Request Type", "Count"})
		ft.SetAutoFormatHeaders(false)
		for _, b := range r.Failures {
			ft.Append([]string{b.Provider, b.RequestType, strconv.Itoa(b.Count)})
		}
		ft.Render()
	}

	if r.Thresholds != nil {
		PrintThresholds(w, r.Thresholds)
	}
}

// PrintThresholds writes one line per evaluated threshold.
func PrintThresholds(w io.Writer, s *ThresholdSummary) {
	if s == nil {
		return
	}
	fmt.Fprintf(w, "\nThresholds (%d/%d passed):\n", s.Passed, s.Total)
	for _, r := range s.Results {
		mark := "PASS"
		if !r.Pass {
			mark = "FAIL"
		}
		fmt.Fprintf(w, "  [%s] %s on %s: actual %.2f\n", mark, r.Threshold, r.Provider, r.Actual)
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func sessionDuration(s model.Session) time.Duration {
	if s.EndTime == nil {
		return 0
	}
	return time.Duration(*s.EndTime-s.StartTime) * time.Millisecond
}

func formatMs(v float64) string {
	return fmt.Sprintf("%.2fms", v)
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%.2f%%", v)
}
