package models

import (
	"strings"
	"time"
)

// PlanType is the commercial plan a subscription was bought with
type PlanType string

const (
	PlanMonthly  PlanType = "monthly"
	PlanYearly   PlanType = "yearly"
	PlanLifetime PlanType = "lifetime"
)

// Valid reports whether p is one of the known plans
func (p PlanType) Valid() bool {
	switch p {
	case PlanMonthly, PlanYearly, PlanLifetime:
		return true
	}
	return false
}

// ParsePlanType maps free-form provider plan labels to a plan. The second
// return value is false when nothing matched.
func ParsePlanType(raw string) (PlanType, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", false
	}
	if p := PlanType(s); p.Valid() {
		return p, true
	}
	switch {
	case strings.Contains(s, "month"), strings.Contains(s, "mensal"):
		return PlanMonthly, true
	case strings.Contains(s, "year"), strings.Contains(s, "annual"), strings.Contains(s, "anual"):
		return PlanYearly, true
	case strings.Contains(s, "life"), strings.Contains(s, "vital"):
		return PlanLifetime, true
	}
	return "", false
}

// ExpiresAt computes the end of the access window that starts at startedAt.
// Lifetime plans never expire and yield nil. Month arithmetic follows
// time.AddDate normalization (Jan 31 + 1 month lands in March).
func (p PlanType) ExpiresAt(startedAt time.Time) *time.Time {
	var t time.Time
	switch p {
	case PlanMonthly:
		t = startedAt.AddDate(0, 1, 0)
	case PlanYearly:
		t = startedAt.AddDate(1, 0, 0)
	default:
		return nil
	}
	return &t
}
