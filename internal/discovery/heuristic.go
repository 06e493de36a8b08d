package discovery

import (
	"fmt"
	"strings"

	"weave/internal/domain"
)

// HeuristicConfidence marks keyword analysis as less trusted than a model result.
const HeuristicConfidence = 0.75

var categoryKeywords = []struct {
	category string
	words    []string
}{
	{"environment", []string{"park", "garden", "clean", "trash", "environment", "graffiti", "paint"}},
	{"infrastructure", []string{"road", "pothole", "bridge", "infrastructure", "repair"}},
	{"social", []string{"food", "homeless", "community", "families", "shelter"}},
	{"safety", []string{"crime", "safety", "danger", "security"}},
}

var (
	crisisWords = []string{"urgent", "critical", "danger", "immediate", "emergency"}
	minorWords  = []string{"minor", "small", "eventually"}
	largeWords  = []string{"large", "major", "extensive", "significant"}
	smallWords  = []string{"small", "minor", "quick"}
)

// Heuristic classifies an issue from keywords alone. It is pure.
func Heuristic(title, description, address string) domain.DiscoveryAnalysis {
	text := strings.ToLower(strings.Join([]string{title, description, address}, "\n"))

	category := "civic"
	for _, fam := range categoryKeywords {
		if containsAny(text, fam.words) {
			category = fam.category
			break
		}
	}

	urgency := "medium"
	switch {
	case containsAny(text, crisisWords):
		urgency = "high"
	case containsAny(text, minorWords):
		urgency = "low"
	}

	scope := "medium"
	switch {
	case containsAny(text, largeWords):
		scope = "large"
	case containsAny(text, smallWords):
		scope = "small"
	}

	priority := 0.6
	switch urgency {
	case "high":
		priority = 0.85
	case "low":
		priority = 0.4
	}

	volunteers, days := 5, 5
	switch scope {
	case "large":
		volunteers = 10
	case "small":
		volunteers, days = 3, 2
	}

	var tags []string
	if strings.Contains(text, "clean") {
		tags = append(tags, "cleanup")
	}
	if strings.Contains(text, "paint") {
		tags = append(tags, "painting")
	}
	if strings.Contains(text, "garden") {
		tags = append(tags, "gardening", "maintenance")
	}
	if strings.Contains(text, "volunteer") {
		tags = append(tags, "volunteer-friendly")
	}
	if len(tags) == 0 {
		tags = []string{"community"}
	}

	return domain.DiscoveryAnalysis{
		Category:                  category,
		Priority:                  priority,
		Urgency:                   urgency,
		EstimatedScope:            scope,
		IsValid:                   true,
		RequiredResources:         []string{"volunteers", "supplies"},
		EstimatedVolunteersNeeded: volunteers,
		EstimatedDurationDays:     days,
		Confidence:                HeuristicConfidence,
		Reasoning:                 fmt.Sprintf("Analyzed as %s issue with %s urgency based on keyword analysis. Fallback agent used.", category, urgency),
		Tags:                      tags,
	}
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
