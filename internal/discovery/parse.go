package discovery

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"

	"weave/internal/domain"
)

type rawAnalysis struct {
	Category                  string   `json:"category"`
	Priority                  *float64 `json:"priority"`
	Urgency                   string   `json:"urgency"`
	EstimatedScope            string   `json:"estimated_scope"`
	IsValid                   *bool    `json:"is_valid"`
	RequiredResources         []string `json:"required_resources"`
	RequiresResources         []string `json:"requires_resources"`
	EstimatedVolunteersNeeded *float64 `json:"estimated_volunteers_needed"`
	EstimatedDurationDays     *float64 `json:"estimated_duration_days"`
	Confidence                *float64 `json:"confidence"`
	Reasoning                 string   `json:"reasoning"`
	Tags                      []string `json:"tags"`
}

var (
	urgencies = []string{"low", "medium", "high", "critical"}
	scopes    = []string{"small", "medium", "large", "very_large"}
)

// ParseAnalysis validates a completion payload. An unknown category rejects
// the payload; other missing or out-of-range fields are defaulted.
func ParseAnalysis(payload []byte) (domain.DiscoveryAnalysis, error) {
	var raw rawAnalysis
	if err := json.Unmarshal(payload, &raw); err != nil {
		return domain.DiscoveryAnalysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	category := strings.ToLower(strings.TrimSpace(raw.Category))
	if !slices.Contains(domain.Categories, category) {
		return domain.DiscoveryAnalysis{}, fmt.Errorf("unknown category %q", raw.Category)
	}
	a := domain.DiscoveryAnalysis{
		Category:                  category,
		Priority:                  0.5,
		Urgency:                   normalizeEnum(raw.Urgency, urgencies, "medium"),
		EstimatedScope:            normalizeEnum(raw.EstimatedScope, scopes, "medium"),
		IsValid:                   true,
		RequiredResources:         raw.RequiredResources,
		EstimatedVolunteersNeeded: 5,
		EstimatedDurationDays:     3,
		Confidence:                0.5,
		Reasoning:                 strings.TrimSpace(raw.Reasoning),
		Tags:                      raw.Tags,
	}
	if raw.Priority != nil {
		a.Priority = clamp01(*raw.Priority)
	}
	if raw.Confidence != nil {
		a.Confidence = clamp01(*raw.Confidence)
	}
	if raw.IsValid != nil {
		a.IsValid = *raw.IsValid
	}
	if len(a.RequiredResources) == 0 {
		a.RequiredResources = raw.RequiresResources
	}
	if a.RequiredResources == nil {
		a.RequiredResources = []string{}
	}
	if a.Tags == nil {
		a.Tags = []string{}
	}
	if n := positiveCount(raw.EstimatedVolunteersNeeded); n > 0 {
		a.EstimatedVolunteersNeeded = n
	}
	if n := positiveCount(raw.EstimatedDurationDays); n > 0 {
		a.EstimatedDurationDays = n
	}
	return a, nil
}

// positiveCount rounds a model-supplied count; zero means absent or unusable.
func positiveCount(v *float64) int {
	if v == nil {
		return 0
	}
	n := int(math.Round(*v))
	if n < 0 {
		return 0
	}
	return n
}

func normalizeEnum(v string, allowed []string, def string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if slices.Contains(allowed, v) {
		return v
	}
	return def
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
