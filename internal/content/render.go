package content

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"digestflow/internal/domain"
)

// Achievement below two thirds is shown as at risk.
const achievementWarn = 200.0 / 3

var tableHeader = []string{"Group", "Metric", "Latest", "Actual", "Fail x2", "Fail x3", "Achievement", "Linked Cases"}

// RenderText produces the plain-text body: overview, optional case summary,
// pipe-delimited statistics table, concerns.
func RenderText(r Report, rows []domain.PerformanceRow) string {
	var b strings.Builder

	b.WriteString("EXECUTIVE OVERVIEW\n")
	b.WriteString(strings.TrimSpace(r.ExecutiveSummary))
	b.WriteString("\n")

	if a3 := strings.TrimSpace(r.A3Summary); a3 != "" {
		b.WriteString("\nCASE SUMMARY\n")
		b.WriteString(a3)
		b.WriteString("\n")
	}

	b.WriteString("\nPERFORMANCE STATISTICS\n")
	if len(rows) == 0 {
		b.WriteString("No metrics with data for this period.\n")
	} else {
		b.WriteString(strings.Join(tableHeader, " | "))
		b.WriteString("\n")
		for _, row := range rows {
			b.WriteString(strings.Join([]string{
				row.GroupName,
				row.MetricName,
				row.LatestMet.String(),
				orDash(row.LatestActual),
				yesNo(row.Fail2),
				yesNo(row.Fail3),
				rateText(row.AchievementRate),
				linkedText(row),
			}, " | "))
			b.WriteString("\n")
		}
	}

	if len(r.AreasOfConcern) > 0 {
		b.WriteString("\nAREAS OF CONCERN\n")
		for _, c := range r.AreasOfConcern {
			fmt.Fprintf(&b, "- %s (%s): %s\n", c.MetricName, c.GroupName, c.Issue)
			if s := strings.TrimSpace(c.Suggestion); s != "" {
				fmt.Fprintf(&b, "  Suggestion: %s\n", s)
			}
		}
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func rateText(r *float64) string {
	if r == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", *r)
}

func linkedText(row domain.PerformanceRow) string {
	if !row.AtRisk() {
		return "-"
	}
	return fmt.Sprint(row.LinkedCaseCount)
}

type htmlRow struct {
	domain.PerformanceRow
	Latest    string
	Rate      string
	RateClass string
	Linked    string
}

type htmlView struct {
	Report
	Headers []string
	Rows    []htmlRow
}

const htmlSource = `<div style="font-family:Arial,Helvetica,sans-serif;color:#222;">
<h2 style="margin:0 0 8px;">Executive Overview</h2>
<p>{{.ExecutiveSummary}}</p>
{{- if .A3Summary}}
<h3>Case Summary</h3>
<p>{{.A3Summary}}</p>
{{- end}}
<h3>Performance Statistics</h3>
{{- if .Rows}}
<table style="border-collapse:collapse;font-size:13px;" cellpadding="6" border="1">
<thead><tr style="background:#f3f4f6;">{{range .Headers}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{- range .Rows}}
<tr>
<td>{{.GroupName}}</td>
<td>{{.MetricName}}</td>
<td>{{if eq .Latest "met"}}<span class="status-met" style="color:#15803d;">&#10004; Met</span>{{else if eq .Latest "missed"}}<span class="status-missed" style="color:#b91c1c;">&#10008; Missed</span>{{else}}<span class="status-unknown" style="color:#6b7280;">&ndash; No data</span>{{end}}</td>
<td>{{if .LatestActual}}{{.LatestActual}}{{else}}&ndash;{{end}}</td>
<td>{{if .Fail2}}<span class="fail2" style="color:#b45309;">&#9888; 2 periods</span>{{end}}</td>
<td>{{if .Fail3}}<span class="fail3" style="color:#fff;background:#b91c1c;padding:2px 6px;border-radius:4px;font-weight:bold;">&#9940; 3 periods</span>{{end}}</td>
<td>{{if eq .RateClass "rate-risk"}}<span class="rate-risk" style="color:#b91c1c;font-weight:bold;">{{.Rate}}</span>{{else}}<span class="{{.RateClass}}">{{.Rate}}</span>{{end}}</td>
<td>{{if eq .Linked "0"}}<span class="cases-none" style="color:#6b7280;border:1px solid #d1d5db;padding:1px 6px;border-radius:8px;">0</span>{{else if .Linked}}<span class="cases-open" style="color:#fff;background:#d97706;padding:1px 6px;border-radius:8px;">{{.Linked}}</span>{{end}}</td>
</tr>
{{- end}}
</tbody>
</table>
{{- else}}
<p>No metrics with data for this period.</p>
{{- end}}
{{- if .AreasOfConcern}}
<h3>Areas of Concern</h3>
<ul>
{{- range .AreasOfConcern}}
<li><strong>{{.MetricName}}</strong> ({{.GroupName}}): {{.Issue}}{{if .Suggestion}}<br><em>Suggestion:</em> {{.Suggestion}}{{end}}</li>
{{- end}}
</ul>
{{- end}}
</div>
`

var htmlTmpl = template.Must(template.New("digest").Parse(htmlSource))

// RenderHTML mirrors RenderText. All interpolated values are escaped by
// html/template.
func RenderHTML(r Report, rows []domain.PerformanceRow) string {
	view := htmlView{Report: r, Headers: tableHeader}
	for _, row := range rows {
		hr := htmlRow{PerformanceRow: row, Latest: row.LatestMet.String(), Rate: rateText(row.AchievementRate), RateClass: "rate-ok"}
		switch {
		case row.AchievementRate == nil:
			hr.RateClass = "rate-unknown"
		case *row.AchievementRate < achievementWarn:
			hr.RateClass = "rate-risk"
		}
		if row.AtRisk() {
			hr.Linked = fmt.Sprint(row.LinkedCaseCount)
		}
		view.Rows = append(view.Rows, hr)
	}

	var buf bytes.Buffer
	if err := htmlTmpl.Execute(&buf, view); err != nil {
		// the template is static; an error here means a programming mistake
		return FallbackHTML(RenderText(r, rows))
	}
	return buf.String()
}

// FallbackHTML escapes raw text and keeps its line breaks.
func FallbackHTML(raw string) string {
	escaped := template.HTMLEscapeString(raw)
	escaped = strings.ReplaceAll(escaped, "\r\n", "\n")
	return "<div>" + strings.ReplaceAll(escaped, "\n", "<br>\n") + "</div>"
}
