package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnalysisDefaults(t *testing.T) {
	a, err := ParseAnalysis([]byte(`{"category":" Safety ","urgency":"EXTREME","priority":1.7,"confidence":-2}`))
	require.NoError(t, err)
	assert.Equal(t, "safety", a.Category)
	assert.Equal(t, "medium", a.Urgency)
	assert.Equal(t, "medium", a.EstimatedScope)
	assert.Equal(t, 1.0, a.Priority)
	assert.Equal(t, 0.0, a.Confidence)
	assert.True(t, a.IsValid)
	assert.Equal(t, 5, a.EstimatedVolunteersNeeded)
	assert.Equal(t, 3, a.EstimatedDurationDays)
	assert.Equal(t, []string{}, a.RequiredResources)
	assert.Equal(t, []string{}, a.Tags)
}

func TestParseAnalysisFields(t *testing.T) {
	a, err := ParseAnalysis([]byte(`{
		"category":"environment","priority":0.7,"urgency":"critical","estimated_scope":"very_large",
		"is_valid":false,"requires_resources":["bags"],"estimated_volunteers_needed":12,
		"estimated_duration_days":0,"confidence":0.9,"reasoning":" spam ","tags":["x"]}`))
	require.NoError(t, err)
	assert.Equal(t, "critical", a.Urgency)
	assert.Equal(t, "very_large", a.EstimatedScope)
	assert.False(t, a.IsValid)
	assert.Equal(t, []string{"bags"}, a.RequiredResources)
	assert.Equal(t, 12, a.EstimatedVolunteersNeeded)
	assert.Equal(t, 3, a.EstimatedDurationDays)
	assert.Equal(t, "spam", a.Reasoning)
}

func TestParseAnalysisRejects(t *testing.T) {
	for _, payload := range []string{
		`{"category":"weather"}`,
		`{"priority":0.5}`,
		`[1,2]`,
	} {
		_, err := ParseAnalysis([]byte(payload))
		assert.Error(t, err, payload)
	}
}

func TestParseAnalysisRoundsFractionalCounts(t *testing.T) {
	cases := []struct {
		payload         string
		volunteers, day int
	}{
		{`{"category":"environment","estimated_volunteers_needed":5.0,"estimated_duration_days":2.5}`, 5, 3},
		{`{"category":"environment","estimated_volunteers_needed":7.4,"estimated_duration_days":1}`, 7, 1},
		{`{"category":"environment","estimated_volunteers_needed":0.2,"estimated_duration_days":-4.0}`, 5, 3},
	}
	for _, tc := range cases {
		a, err := ParseAnalysis([]byte(tc.payload))
		require.NoError(t, err, tc.payload)
		assert.Equal(t, tc.volunteers, a.EstimatedVolunteersNeeded, tc.payload)
		assert.Equal(t, tc.day, a.EstimatedDurationDays, tc.payload)
	}
}
