package content

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"digestflow/internal/stats"
)

const systemPrompt = `You are an operations analyst writing a monthly performance digest.
Respond with a single JSON object and nothing else, using exactly this shape:
{"executiveSummary": string, "a3Summary": string, "areasOfConcern": [{"metricName": string, "groupName": string, "issue": string, "suggestion": string}]}
"a3Summary" summarises open remediation cases and may be empty.
List one area of concern per at-risk metric. Be concise and factual; do not invent numbers.`

type atRiskEntry struct {
	Group        string   `json:"group"`
	Metric       string   `json:"metric"`
	Latest       string   `json:"latest"`
	LatestActual string   `json:"latest_actual,omitempty"`
	Fail2        bool     `json:"fail_2"`
	Fail3        bool     `json:"fail_3"`
	Achievement  *float64 `json:"achievement_pct,omitempty"`
	LinkedCases  int      `json:"linked_cases"`
}

type caseEntry struct {
	Title   string `json:"title"`
	Status  string `json:"status"`
	Metrics int    `json:"linked_metrics"`
}

type promptContext struct {
	Owner         string         `json:"owner,omitempty"`
	Entities      int            `json:"entities"`
	Totals        stats.Totals   `json:"totals"`
	CasesByStatus map[string]int `json:"cases_by_status,omitempty"`
	Cases         []caseEntry    `json:"cases,omitempty"`
}

// maxPromptCases bounds the narrative case list; counts by status stay complete.
const maxPromptCases = 20

// BuildPrompt returns the system and user prompts. Only at-risk rows are
// embedded; the full dataset never leaves the process.
func BuildPrompt(in Input) (string, string) {
	var risky []atRiskEntry
	for _, r := range stats.AtRisk(in.Rows) {
		risky = append(risky, atRiskEntry{
			Group:        r.GroupName,
			Metric:       r.MetricName,
			Latest:       r.LatestMet.String(),
			LatestActual: r.LatestActual,
			Fail2:        r.Fail2,
			Fail3:        r.Fail3,
			Achievement:  roundedRate(r.AchievementRate),
			LinkedCases:  r.LinkedCaseCount,
		})
	}

	ctx := promptContext{
		Owner:    ownerName(in),
		Entities: len(in.Snapshot.Entities),
		Totals:   stats.Summarize(in.Rows),
	}
	if len(in.Snapshot.Cases) > 0 {
		ctx.CasesByStatus = map[string]int{}
	}
	for _, c := range in.Snapshot.Cases {
		status := strings.ToLower(strings.TrimSpace(c.Status))
		if status == "" {
			status = "unknown"
		}
		ctx.CasesByStatus[status]++
		if len(ctx.Cases) < maxPromptCases {
			ctx.Cases = append(ctx.Cases, caseEntry{Title: c.Title, Status: status, Metrics: len(c.LinkedMetricIDs)})
		}
	}
	sort.SliceStable(ctx.Cases, func(i, j int) bool { return ctx.Cases[i].Status < ctx.Cases[j].Status })

	riskJSON, _ := json.Marshal(risky)
	ctxJSON, _ := json.Marshal(ctx)

	var b strings.Builder
	fmt.Fprintf(&b, "At-risk metrics (failed target for consecutive periods):\n%s\n\n", riskJSON)
	fmt.Fprintf(&b, "Context:\n%s\n", ctxJSON)
	if len(risky) == 0 {
		b.WriteString("\nNo metric is currently at risk; keep areasOfConcern empty.\n")
	}
	return systemPrompt, b.String()
}

func ownerName(in Input) string {
	if in.OwnerName != "" {
		return in.OwnerName
	}
	return in.Snapshot.OwnerName
}

func roundedRate(r *float64) *float64 {
	if r == nil {
		return nil
	}
	v := float64(int(*r*10+0.5)) / 10
	return &v
}
