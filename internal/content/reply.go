package content

import (
	"encoding/json"
	"strings"
	"unicode"
)

// Report is the reply schema requested from the text-generation service.
type Report struct {
	ExecutiveSummary string    `json:"executiveSummary"`
	A3Summary        string    `json:"a3Summary,omitempty"`
	AreasOfConcern   []Concern `json:"areasOfConcern"`
}

type Concern struct {
	MetricName string `json:"metricName"`
	GroupName  string `json:"groupName"`
	Issue      string `json:"issue"`
	Suggestion string `json:"suggestion"`
}

// ParseReply decodes raw into a Report. It accepts the JSON bare or inside a
// ``` / ```json fence and rejects replies without an executive summary.
func ParseReply(raw string) (Report, bool) {
	var r Report
	if err := json.Unmarshal([]byte(stripFence(raw)), &r); err != nil {
		return Report{}, false
	}
	if strings.TrimSpace(r.ExecutiveSummary) == "" {
		return Report{}, false
	}
	return r, true
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, "```"))
	s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	// language tag, e.g. "json"
	s = strings.TrimLeftFunc(s, unicode.IsLetter)
	return strings.TrimSpace(s)
}
