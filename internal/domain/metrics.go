package domain

// Rule tags understood by the violation check.
const (
	RuleGTE         = "gte"
	RuleLTE         = "lte"
	RuleWithinRange = "within_range"
)

const UngroupedLabel = "Ungrouped"

type DataPoint struct {
	Actual string `json:"actual,omitempty"`
	Target string `json:"target,omitempty"`
}

type Metric struct {
	ID   string               `json:"id"`
	Name string               `json:"name"`
	Rule string               `json:"rule,omitempty"`
	Data map[string]DataPoint `json:"data"` // keyed by period, YYYY-MM
}

type Entity struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Group   string   `json:"group,omitempty"`
	Metrics []Metric `json:"metrics"`
}

// RemediationCase is an externally tracked corrective action linked to metrics.
type RemediationCase struct {
	ID              string   `json:"id"`
	Title           string   `json:"title,omitempty"`
	Status          string   `json:"status"`
	LinkedMetricIDs []string `json:"linked_metric_ids"`
}

type MetricsSnapshot struct {
	OwnerName string            `json:"owner_name,omitempty"`
	Entities  []Entity          `json:"entities"`
	Cases     []RemediationCase `json:"cases"`
}

type MetStatus int

const (
	MetUnknown MetStatus = iota
	MetYes
	MetNo
)

func (s MetStatus) String() string {
	switch s {
	case MetYes:
		return "met"
	case MetNo:
		return "missed"
	default:
		return "unknown"
	}
}

type PerformanceRow struct {
	GroupName       string    `json:"group"`
	MetricID        string    `json:"metric_id"`
	MetricName      string    `json:"metric"`
	OwnerEntityID   string    `json:"entity_id"`
	LatestMet       MetStatus `json:"-"`
	LatestActual    string    `json:"latest_actual,omitempty"`
	Fail2           bool      `json:"fail_2"`
	Fail3           bool      `json:"fail_3"`
	AchievementRate *float64  `json:"achievement_rate,omitempty"`
	LinkedCaseCount int       `json:"linked_cases"` // only computed when AtRisk
}

func (r PerformanceRow) AtRisk() bool { return r.Fail2 || r.Fail3 }
