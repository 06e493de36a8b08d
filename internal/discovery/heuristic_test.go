package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeuristic(t *testing.T) {
	cases := []struct {
		name        string
		title, desc string
		category    string
		urgency     string
		scope       string
		priority    float64
		volunteers  int
		days        int
		tags        []string
	}{
		{
			name:  "urgent large pothole",
			title: "Large pothole on Main road", desc: "Urgent: cars swerve around it every morning.",
			category: "infrastructure", urgency: "high", scope: "large", priority: 0.85, volunteers: 10, days: 5,
			tags: []string{"community"},
		},
		{
			name:  "minor crack",
			title: "Minor crack in sidewalk", desc: "There is a minor crack near the bus stop.",
			category: "civic", urgency: "low", scope: "small", priority: 0.4, volunteers: 3, days: 2,
			tags: []string{"community"},
		},
		{
			name:  "first family wins",
			title: "Pothole by the park gate", desc: "The garden path needs paint and a clean sweep.",
			category: "environment", urgency: "medium", scope: "medium", priority: 0.6, volunteers: 5, days: 5,
			tags: []string{"cleanup", "painting", "gardening", "maintenance"},
		},
		{
			name:  "volunteer friendly shelter",
			title: "Shelter needs hands", desc: "Looking for volunteer cooks for the winter shelter.",
			category: "social", urgency: "medium", scope: "medium", priority: 0.6, volunteers: 5, days: 5,
			tags: []string{"volunteer-friendly"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := Heuristic(tc.title, tc.desc, "")
			assert.Equal(t, tc.category, a.Category)
			assert.Equal(t, tc.urgency, a.Urgency)
			assert.Equal(t, tc.scope, a.EstimatedScope)
			assert.InDelta(t, tc.priority, a.Priority, 1e-9)
			assert.Equal(t, tc.volunteers, a.EstimatedVolunteersNeeded)
			assert.Equal(t, tc.days, a.EstimatedDurationDays)
			assert.Equal(t, tc.tags, a.Tags)
			assert.True(t, a.IsValid)
			assert.Equal(t, HeuristicConfidence, a.Confidence)
			assert.Equal(t, []string{"volunteers", "supplies"}, a.RequiredResources)
			assert.Contains(t, a.Reasoning, "Fallback agent used")
		})
	}
}

func TestHeuristicReadsAddress(t *testing.T) {
	a := Heuristic("Broken lamp", "The lamp has been out for a week.", "Riverside Park")
	assert.Equal(t, "environment", a.Category)
}
