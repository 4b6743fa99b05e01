package output

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/torosent/lopnur/internal/metrics"
	"github.com/torosent/lopnur/internal/model"
)

// HTMLReportData contains all data needed for the HTML report template.
type HTMLReportData struct {
	GeneratedAt string
	Report      Report
	Ranked      []ProviderRow
	Duration    time.Duration
	RequestType string
}

// ProviderRow is one provider line of the comparison table. BarWidth scales
// the average latency against the slowest provider for the inline bar.
type ProviderRow struct {
	model.Summary
	Rank     int
	Best     bool
	BarWidth float64
}

// GenerateHTMLReport writes a standalone HTML comparison page for r.
func GenerateHTMLReport(w io.Writer, r Report) error {
	ranked := metrics.Rank(r.Summaries)
	slowest := 0.0
	for _, s := range ranked {
		if s.AverageLatencyMs > slowest {
			slowest = s.AverageLatencyMs
		}
	}

	rows := make([]ProviderRow, len(ranked))
	for i, s := range ranked {
		row := ProviderRow{Summary: s, Rank: i + 1}
		if r.Best != nil && r.Best.Provider == s.Provider {
			row.Best = true
		}
		if slowest > 0 {
			row.BarWidth = s.AverageLatencyMs / slowest * 100
		}
		rows[i] = row
	}

	data := HTMLReportData{
		GeneratedAt: time.Now().Format(time.RFC3339),
		Report:      r,
		Ranked:      rows,
		Duration:    sessionDuration(r.Session),
		RequestType: strings.Join(r.Session.Config.RequestTypes, ", "),
	}

	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"ms": func(f float64) string {
			return fmt.Sprintf("%.2f", f)
		},
		"pct": func(f float64) string {
			return fmt.Sprintf("%.1f", f)
		},
		"epoch": func(ms int64) string {
			return time.UnixMilli(ms).UTC().Format(time.RFC3339)
		},
	}).Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>lopnur RPC Benchmark {{.Report.Session.ID}}</title>
    <style>
        body { font-family: -apple-system, 'Segoe UI', Roboto, Arial, sans-serif; background: #f5f7fa; color: #1f2937; margin: 0; padding: 24px; }
        main { max-width: 1200px; margin: 0 auto; background: #fff; border-radius: 8px; box-shadow: 0 2px 8px rgba(0,0,0,0.08); }
        header { background: #1e3a5f; color: #fff; padding: 24px 32px; border-radius: 8px 8px 0 0; }
        header h1 { margin: 0 0 8px; font-size: 1.6rem; }
        header .meta { opacity: 0.85; font-size: 0.9rem; }
        section { padding: 24px 32px; }
        h2 { font-size: 1.2rem; border-bottom: 2px solid #e5e7eb; padding-bottom: 8px; }
        .cards { display: grid; grid-template-columns: repeat(auto-fit, minmax(200px, 1fr)); gap: 16px; }
        .card { background: #f8fafc; border-left: 4px solid #1e3a5f; border-radius: 6px; padding: 16px; }
        .card .label { font-size: 0.8rem; text-transform: uppercase; color: #6b7280; }
        .card .value { font-size: 1.6rem; font-weight: bold; }
        .card.best { border-left-color: #10b981; }
        table { width: 100%; border-collapse: collapse; }
        th, td { text-align: right; padding: 10px; border-bottom: 1px solid #e5e7eb; font-size: 0.9rem; }
        th:first-child, td:first-child, td.name { text-align: left; }
        th { background: #f8fafc; color: #4b5563; text-transform: uppercase; font-size: 0.75rem; }
        tr.best td { background: #ecfdf5; }
        .bar { background: #dbeafe; height: 8px; border-radius: 4px; }
        .bar span { display: block; background: #3b82f6; height: 8px; border-radius: 4px; }
        .badge { padding: 2px 10px; border-radius: 10px; font-size: 0.8rem; font-weight: 600; }
        .pass { background: #d1fae5; color: #065f46; }
        .fail { background: #fee2e2; color: #991b1b; }
        .none { color: #6b7280; font-style: italic; }
    </style>
</head>
<body>
<main>
    <header>
        <h1>RPC Provider Benchmark</h1>
        <div class="meta">Session {{.Report.Session.ID}} | Started {{epoch .Report.Session.StartTime}}{{if .Duration}} | Duration {{.Duration}}{{end}}</div>
        <div class="meta">Request types: {{.RequestType}} | Count {{.Report.Session.Config.RequestCount}} | Concurrency {{.Report.Session.Config.Concurrency}}</div>
        <div class="meta">Generated {{.GeneratedAt}}</div>
    </header>

    <section>
        <div class="cards">
            <div class="card"><div class="label">Providers</div><div class="value">{{len .Report.Session.Providers}}</div></div>
            <div class="card"><div class="label">Requests</div><div class="value">{{len .Report.Session.Results}}</div></div>
            {{with .Report.Best}}
            <div class="card best"><div class="label">Best Provider</div><div class="value">{{.Provider}}</div>
                <div>{{pct .SuccessRate}}% success, {{ms .AverageLatencyMs}} ms avg</div></div>
            {{end}}
        </div>
    </section>

    <section>
        <h2>Provider Comparison</h2>
        {{if .Ranked}}
        <table>
            <thead>
                <tr>
                    <th>#</th><th>Provider</th><th>Success %</th><th>Avg (ms)</th><th></th>
                    <th>P50</th><th>P90</th><th>P99</th><th>Min</th><th>Max</th><th>Requests</th><th>Errors</th>
                </tr>
            </thead>
            <tbody>
                {{range .Ranked}}
                <tr{{if .Best}} class="best"{{end}}>
                    <td>{{.Rank}}</td>
                    <td class="name"><strong>{{.Provider}}</strong></td>
                    <td>{{pct .SuccessRate}}</td>
                    <td>{{ms .AverageLatencyMs}}</td>
                    <td style="width: 120px"><div class="bar"><span style="width: {{pct .BarWidth}}%"></span></div></td>
                    <td>{{ms .P50LatencyMs}}</td>
                    <td>{{ms .P90LatencyMs}}</td>
                    <td>{{ms .P99LatencyMs}}</td>
                    <td>{{ms .MinLatencyMs}}</td>
                    <td>{{ms .MaxLatencyMs}}</td>
                    <td>{{.RequestCount}}</td>
                    <td>{{.ErrorCount}}</td>
                </tr>
                {{end}}
            </tbody>
        </table>
        {{else}}
        <p class="none">No providers were benchmarked.</p>
        {{end}}
    </section>

    {{with .Report.Thresholds}}
    <section>
        <h2>Thresholds ({{.Passed}}/{{.Total}} Passed)</h2>
        <table>
            <thead><tr><th>Threshold</th><th>Provider</th><th>Expected</th><th>Actual</th><th>Status</th></tr></thead>
            <tbody>
                {{range .Results}}
                <tr>
                    <td class="name">{{.Threshold}}</td>
                    <td>{{.Provider}}</td>
                    <td>{{.Operator}} {{ms .Expected}}</td>
                    <td>{{ms .Actual}}</td>
                    <td>{{if .Pass}}<span class="badge pass">PASS</span>{{else}}<span class="badge fail">FAIL</span>{{end}}</td>
                </tr>
                {{end}}
            </tbody>
        </table>
    </section>
    {{end}}

    {{if .Report.Failures}}
    <section>
        <h2>Failures</h2>
        <table>
            <thead><tr><th>Provider</th><th>Request Type</th><th>Count</th></tr></thead>
            <tbody>
                {{range .Report.Failures}}
                <tr><td class="name">{{.Provider}}</td><td>{{.RequestType}}</td><td>{{.Count}}</td></tr>
                {{end}}
            </tbody>
        </table>
    </section>
    {{end}}
</main>
</body>
</html>
`
