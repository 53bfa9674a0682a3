// Package stats turns raw per-entity metric series into performance rows:
// latest status, consecutive-failure flags, achievement rate and linked
// remediation cases.
package stats

import (
	"slices"
	"sort"
	"strings"

	"digestflow/internal/domain"
)

type groupRows struct {
	name string
	rows []domain.PerformanceRow
}

// Aggregate computes one row per metric that has at least one qualifying data
// point. Groups are ordered by name; rows keep source order inside a group.
func Aggregate(snap domain.MetricsSnapshot) []domain.PerformanceRow {
	var groups []*groupRows
	byName := map[string]*groupRows{}

	for _, e := range snap.Entities {
		name := strings.TrimSpace(e.Group)
		if name == "" {
			name = domain.UngroupedLabel
		}
		for _, m := range e.Metrics {
			row, ok := metricRow(m, snap.Cases)
			if !ok {
				continue
			}
			row.GroupName = name
			row.OwnerEntityID = e.ID
			g := byName[name]
			if g == nil {
				g = &groupRows{name: name}
				byName[name] = g
				groups = append(groups, g)
			}
			g.rows = append(g.rows, row)
		}
	}

	sort.SliceStable(groups, func(i, j int) bool { return groups[i].name < groups[j].name })

	var out []domain.PerformanceRow
	for _, g := range groups {
		out = append(out, g.rows...)
	}
	return out
}

func metricRow(m domain.Metric, cases []domain.RemediationCase) (domain.PerformanceRow, bool) {
	keys := qualifyingKeys(m.Data)
	if len(keys) == 0 {
		return domain.PerformanceRow{}, false
	}

	violated := func(key string) bool {
		p := m.Data[key]
		return IsViolation(m.Rule, p.Target, p.Actual)
	}

	row := domain.PerformanceRow{MetricID: m.ID, MetricName: m.Name}

	last := keys[len(keys)-1]
	row.LatestActual = strings.TrimSpace(m.Data[last].Actual)
	row.LatestMet = domain.MetYes
	if violated(last) {
		row.LatestMet = domain.MetNo
	}

	row.Fail2 = allViolate(keys, 2, violated)
	row.Fail3 = allViolate(keys, 3, violated)

	met := 0
	for _, k := range keys {
		if !violated(k) {
			met++
		}
	}
	rate := float64(met) / float64(len(keys)) * 100
	row.AchievementRate = &rate

	if row.AtRisk() {
		row.LinkedCaseCount = linkedCases(m.ID, cases)
	}
	return row, true
}

// allViolate is true only when at least n qualifying keys exist and the last n
// all violate.
func allViolate(keys []string, n int, violated func(string) bool) bool {
	if len(keys) < n {
		return false
	}
	for _, k := range keys[len(keys)-n:] {
		if !violated(k) {
			return false
		}
	}
	return true
}

func qualifyingKeys(data map[string]domain.DataPoint) []string {
	keys := make([]string, 0, len(data))
	for k, p := range data {
		if strings.TrimSpace(p.Actual) == "" || strings.TrimSpace(p.Target) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func linkedCases(metricID string, cases []domain.RemediationCase) int {
	n := 0
	for _, c := range cases {
		if slices.Contains(c.LinkedMetricIDs, metricID) {
			n++
		}
	}
	return n
}

// AtRisk keeps the rows flagged by either consecutive-failure window.
func AtRisk(rows []domain.PerformanceRow) []domain.PerformanceRow {
	var out []domain.PerformanceRow
	for _, r := range rows {
		if r.AtRisk() {
			out = append(out, r)
		}
	}
	return out
}

type Totals struct {
	Metrics         int      `json:"metrics"`
	AtRisk          int      `json:"at_risk"`
	Fail3           int      `json:"fail_3"`
	LatestMissed    int      `json:"latest_missed"`
	MeanAchievement *float64 `json:"mean_achievement,omitempty"`
}

func Summarize(rows []domain.PerformanceRow) Totals {
	t := Totals{Metrics: len(rows)}
	var sum float64
	var n int
	for _, r := range rows {
		if r.AtRisk() {
			t.AtRisk++
		}
		if r.Fail3 {
			t.Fail3++
		}
		if r.LatestMet == domain.MetNo {
			t.LatestMissed++
		}
		if r.AchievementRate != nil {
			sum += *r.AchievementRate
			n++
		}
	}
	if n > 0 {
		mean := sum / float64(n)
		t.MeanAchievement = &mean
	}
	return t
}
