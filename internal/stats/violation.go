package stats

import (
	"strconv"
	"strings"

	"digestflow/internal/domain"
)

// IsViolation reports whether actual breaks target under rule. Values that do
// not parse as numbers never count as a violation.
func IsViolation(rule, target, actual string) bool {
	a, ok := parseNumber(actual)
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(rule)) {
	case domain.RuleLTE:
		t, ok := parseNumber(target)
		return ok && a > t
	case domain.RuleWithinRange:
		lo, hi, ok := ParseRange(target)
		return ok && (a < lo || a > hi)
	default:
		t, ok := parseNumber(target)
		return ok && a < t
	}
}

// ParseRange reads "a,b", "{a,b}" or "[a,b]" and returns the bounds in
// ascending order.
func ParseRange(v string) (float64, float64, bool) {
	v = strings.TrimSpace(v)
	if len(v) >= 2 {
		open, end := v[0], v[len(v)-1]
		if (open == '{' && end == '}') || (open == '[' && end == ']') {
			v = v[1 : len(v)-1]
		}
	}
	first, second, found := strings.Cut(v, ",")
	if !found {
		return 0, 0, false
	}
	lo, ok := parseNumber(first)
	if !ok {
		return 0, 0, false
	}
	hi, ok := parseNumber(second)
	if !ok {
		return 0, 0, false
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi, true
}

func parseNumber(v string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
