package content

import (
	"context"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digestflow/internal/domain"
	"digestflow/internal/textgen"
)

type stubGen struct {
	reply string
	err   error
	got   []textgen.Request
}

func (s *stubGen) Generate(_ context.Context, req textgen.Request) (string, error) {
	s.got = append(s.got, req)
	return s.reply, s.err
}

func rate(v float64) *float64 { return &v }

func sampleRows() []domain.PerformanceRow {
	return []domain.PerformanceRow{
		{GroupName: "Quality", MetricID: "q1", MetricName: "Defects <ppm>", LatestMet: domain.MetNo, LatestActual: "12", Fail2: true, Fail3: true, AchievementRate: rate(40), LinkedCaseCount: 2},
		{GroupName: "Quality", MetricID: "q2", MetricName: "Scrap", LatestMet: domain.MetNo, LatestActual: "3", Fail2: true, AchievementRate: rate(70), LinkedCaseCount: 0},
		{GroupName: "Safety", MetricID: "s1", MetricName: "Incidents", LatestMet: domain.MetYes, LatestActual: "0", AchievementRate: rate(100)},
	}
}

func TestParseReply(t *testing.T) {
	body := `{"executiveSummary":"All good","a3Summary":"two open","areasOfConcern":[{"metricName":"Scrap","groupName":"Quality","issue":"up","suggestion":"fix"}]}`
	for name, raw := range map[string]string{
		"bare":        body,
		"fenced":      "```\n" + body + "\n```",
		"json fenced": "```json\n" + body + "\n```",
		"inline":      "```json" + body + "```",
		"padded":      "\n  " + body + "  \n",
	} {
		r, ok := ParseReply(raw)
		require.True(t, ok, name)
		assert.Equal(t, "All good", r.ExecutiveSummary, name)
		assert.Equal(t, "two open", r.A3Summary, name)
		require.Len(t, r.AreasOfConcern, 1, name)
		assert.Equal(t, "fix", r.AreasOfConcern[0].Suggestion, name)
	}

	_, ok := ParseReply(`{"a3Summary":"no overview"}`)
	assert.False(t, ok)
	_, ok = ParseReply(`{"executiveSummary":"   "}`)
	assert.False(t, ok)
	_, ok = ParseReply("not json at all")
	assert.False(t, ok)
}

func TestGenerateFallsBackToRawReply(t *testing.T) {
	raw := "Sorry, I can't help with <that> & \"this\".\nSecond line"
	g := NewGenerator(&stubGen{reply: raw})

	var out Output
	require.NotPanics(t, func() {
		out = g.Generate(context.Background(), Input{Rows: sampleRows()})
	})
	assert.False(t, out.Structured)
	assert.Equal(t, raw, out.Text)
	assert.Equal(t, "<div>Sorry, I can&#39;t help with &lt;that&gt; &amp; &#34;this&#34;.<br>\nSecond line</div>", out.HTML)
}

func TestGenerateUpstreamError(t *testing.T) {
	g := NewGenerator(&stubGen{err: errors.Wrap(domain.ErrUpstreamUnavailable, "timeout")})
	out := g.Generate(context.Background(), Input{Rows: sampleRows()})

	assert.True(t, out.Structured)
	assert.Contains(t, out.Text, unavailableSummary)
	assert.Contains(t, out.Text, "Quality | Scrap | missed | 3 | yes | no | 70.0% | 0")

	nilGen := NewGenerator(nil).Generate(context.Background(), Input{Rows: sampleRows()})
	assert.Equal(t, out, nilGen)
}

func TestGenerateStructured(t *testing.T) {
	stub := &stubGen{reply: "```json\n" + `{"executiveSummary":"Quality slipped.","a3Summary":"Case <A3> open","areasOfConcern":[{"metricName":"Defects <ppm>","groupName":"Quality","issue":"3 misses","suggestion":"Audit line 2"}]}` + "\n```"}
	g := NewGenerator(stub)
	out := g.Generate(context.Background(), Input{Model: "m1", OwnerName: "Plant A", Rows: sampleRows()})

	require.Len(t, stub.got, 1)
	assert.Equal(t, "m1", stub.got[0].Model)

	want := strings.Join([]string{
		"EXECUTIVE OVERVIEW",
		"Quality slipped.",
		"",
		"CASE SUMMARY",
		"Case <A3> open",
		"",
		"PERFORMANCE STATISTICS",
		"Group | Metric | Latest | Actual | Fail x2 | Fail x3 | Achievement | Linked Cases",
		"Quality | Defects <ppm> | missed | 12 | yes | yes | 40.0% | 2",
		"Quality | Scrap | missed | 3 | yes | no | 70.0% | 0",
		"Safety | Incidents | met | 0 | no | no | 100.0% | -",
		"",
		"AREAS OF CONCERN",
		"- Defects <ppm> (Quality): 3 misses",
		"  Suggestion: Audit line 2",
		"",
	}, "\n")
	assert.Equal(t, want, out.Text)

	assert.Contains(t, out.HTML, "Defects &lt;ppm&gt;")
	assert.NotContains(t, out.HTML, "Defects <ppm>")
	assert.Contains(t, out.HTML, "Case &lt;A3&gt; open")
	assert.Contains(t, out.HTML, `class="fail3"`)
	assert.Contains(t, out.HTML, `class="fail2"`)
	assert.Contains(t, out.HTML, `class="cases-open"`)
	assert.Contains(t, out.HTML, `class="cases-none"`)
	assert.Contains(t, out.HTML, `class="status-met"`)
	assert.Contains(t, out.HTML, `class="status-missed"`)
	assert.Equal(t, 1, strings.Count(out.HTML, `class="rate-risk"`))
}

func TestRenderHTMLUnknownStatus(t *testing.T) {
	html := RenderHTML(Report{ExecutiveSummary: "x"}, []domain.PerformanceRow{{GroupName: "G", MetricName: "M"}})
	assert.Contains(t, html, `class="status-unknown"`)
	assert.Contains(t, html, `class="rate-unknown"`)
	assert.NotContains(t, html, "cases-")

	empty := RenderText(Report{ExecutiveSummary: "x"}, nil)
	assert.Contains(t, empty, "No metrics with data for this period.")
	assert.NotContains(t, empty, "AREAS OF CONCERN")
}

func TestBuildPromptEmbedsOnlyAtRiskRows(t *testing.T) {
	in := Input{
		Rows: sampleRows(),
		Snapshot: domain.MetricsSnapshot{
			OwnerName: "Plant A",
			Entities:  []domain.Entity{{ID: "e1"}, {ID: "e2"}},
			Cases: []domain.RemediationCase{
				{ID: "c1", Title: "Line audit", Status: "Open", LinkedMetricIDs: []string{"q1"}},
				{ID: "c2", Title: "Closed one", Status: "closed"},
			},
		},
	}
	system, user := BuildPrompt(in)

	assert.Contains(t, system, "executiveSummary")
	assert.Contains(t, user, "Defects \\u003cppm\\u003e")
	assert.Contains(t, user, `"metric":"Scrap"`)
	assert.NotContains(t, user, "Incidents")
	assert.Contains(t, user, `"owner":"Plant A"`)
	assert.Contains(t, user, `"entities":2`)
	assert.Contains(t, user, `"cases_by_status":{"closed":1,"open":1}`)
	assert.Contains(t, user, `"achievement_pct":40`)
}
