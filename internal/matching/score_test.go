package matching

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"weave/internal/domain"
)

func loc(lat, lng float64) *domain.Location {
	return &domain.Location{Lat: &lat, Lng: &lng}
}

func TestSkillScore(t *testing.T) {
	cases := []struct {
		name     string
		required []string
		held     []string
		want     float64
	}{
		{"no requirements", nil, []string{"painting"}, NeutralScore},
		{"no skills held", []string{"painting"}, nil, 0},
		{"case insensitive full match", []string{"Painting"}, []string{" painting "}, 1},
		{"half match", []string{"painting", "cleanup"}, []string{"painting"}, 0.5},
		{"surplus bonus", []string{"a", "b"}, []string{"a", "c", "d"}, 0.52},
		{"bonus capped", []string{"a", "b"}, []string{"a", "c", "d", "e", "f", "g", "h", "i", "j"}, 0.6},
		{"no bonus without a match", []string{"a"}, []string{"b", "c", "d"}, 0},
		{"clamped to one", []string{"a"}, []string{"a", "b", "c"}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, SkillScore(tc.required, tc.held), 1e-9)
		})
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// One degree of latitude.
	assert.InDelta(t, 111.19, Haversine(0, 0, 1, 0), 0.01)
	// Manhattan to Brooklyn Bridge Park.
	assert.InDelta(t, 1.42, Haversine(40.7128, -74.0060, 40.7021, -73.9967), 0.05)
}

func TestLocationScore(t *testing.T) {
	s, d := LocationScore(nil, loc(1, 1))
	assert.Equal(t, NeutralScore, s)
	assert.Nil(t, d)

	s, d = LocationScore(&domain.Location{Address: "Main St"}, loc(1, 1))
	assert.Equal(t, NeutralScore, s)
	assert.Nil(t, d)

	s, d = LocationScore(loc(40, -74), loc(40, -74))
	assert.Equal(t, 1.0, s)
	if assert.NotNil(t, d) {
		assert.Zero(t, *d)
	}

	s, _ = LocationScore(loc(0, 0), loc(1, 0))
	assert.Zero(t, s)
}

func TestScoreWeights(t *testing.T) {
	rel := 0.9
	task := domain.Task{SkillsRequired: []string{"painting"}}
	v := domain.Volunteer{Skills: []string{"painting"}, ReliabilityScore: &rel}
	b := Score(task, v, nil)
	assert.InDelta(t, 0.4*1+0.3*0.5+0.3*0.9, b.Total, 1e-9)
	assert.Contains(t, Notes(b), "Location: N/A")
}

func TestHaversineProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lat1 := rapid.Float64Range(-90, 90).Draw(t, "lat1")
		lng1 := rapid.Float64Range(-180, 180).Draw(t, "lng1")
		lat2 := rapid.Float64Range(-90, 90).Draw(t, "lat2")
		lng2 := rapid.Float64Range(-180, 180).Draw(t, "lng2")

		if d := Haversine(lat1, lng1, lat1, lng1); d > 1e-6 {
			t.Fatalf("distance to self = %v", d)
		}
		ab := Haversine(lat1, lng1, lat2, lng2)
		ba := Haversine(lat2, lng2, lat1, lng1)
		if math.Abs(ab-ba) > 1e-6 {
			t.Fatalf("asymmetric: %v vs %v", ab, ba)
		}
		if ab < 0 || ab > math.Pi*EarthRadiusKM+1e-6 {
			t.Fatalf("distance out of range: %v", ab)
		}
	})
}

func TestScoreBounds(t *testing.T) {
	skills := []string{"painting", "cleanup", "logistics", "carpentry", "first aid", "PAINTING"}
	rapid.Check(t, func(t *rapid.T) {
		task := domain.Task{SkillsRequired: rapid.SliceOf(rapid.SampledFrom(skills)).Draw(t, "required")}
		v := domain.Volunteer{Skills: rapid.SliceOf(rapid.SampledFrom(skills)).Draw(t, "held")}
		if rapid.Bool().Draw(t, "has_reliability") {
			r := rapid.Float64Range(-1, 2).Draw(t, "reliability")
			v.ReliabilityScore = &r
		}
		if rapid.Bool().Draw(t, "has_location") {
			v.Location = loc(rapid.Float64Range(-90, 90).Draw(t, "vlat"), rapid.Float64Range(-180, 180).Draw(t, "vlng"))
		}
		issue := loc(rapid.Float64Range(-90, 90).Draw(t, "ilat"), rapid.Float64Range(-180, 180).Draw(t, "ilng"))

		b := Score(task, v, issue)
		for name, s := range map[string]float64{"skill": b.Skill, "location": b.Location, "reliability": b.Reliability, "total": b.Total} {
			if s < 0 || s > 1+1e-9 {
				t.Fatalf("%s score %v outside [0,1]", name, s)
			}
		}
	})
}

func TestPartition(t *testing.T) {
	vols := []domain.Volunteer{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	pool, busy, overflow := Partition(vols, map[string]int{"a": 2, "c": 1}, 2)
	assert.False(t, overflow)
	assert.Equal(t, []string{"a"}, busy)
	assert.Equal(t, []string{"b", "c"}, ids(pool))

	pool, busy, overflow = Partition(vols, map[string]int{"a": 5, "b": 3, "c": 4}, 2)
	assert.True(t, overflow)
	assert.Len(t, busy, 3)
	assert.Equal(t, []string{"b", "c", "a"}, ids(pool))

	pool, _, overflow = Partition(nil, nil, 2)
	assert.False(t, overflow)
	assert.Empty(t, pool)
}

func TestRankKeepsPoolOrderOnTies(t *testing.T) {
	vols := []domain.Volunteer{{ID: "first"}, {ID: "second"}, {ID: "third", Skills: []string{"painting"}}}
	ranked := Rank(domain.Task{SkillsRequired: []string{"painting"}}, vols, nil)
	got := make([]string, len(ranked))
	for i, c := range ranked {
		got[i] = c.Volunteer.ID
	}
	assert.Equal(t, []string{"third", "first", "second"}, got)
}

func TestRankPrefersReliabilityWhenOtherwiseEqual(t *testing.T) {
	task := domain.Task{SkillsRequired: []string{"cleanup"}}
	site := loc(40.7128, -74.0060)
	low, high := 0.6, 0.9
	vols := []domain.Volunteer{
		{ID: "steady", Skills: []string{"cleanup"}, ReliabilityScore: &low, Location: loc(40.72, -74.0)},
		{ID: "reliable", Skills: []string{"cleanup"}, ReliabilityScore: &high, Location: loc(40.72, -74.0)},
	}
	ranked := Rank(task, vols, site)
	assert.Equal(t, "reliable", ranked[0].Volunteer.ID)
	assert.Equal(t, ranked[0].Scores.Skill, ranked[1].Scores.Skill)
	assert.Equal(t, ranked[0].Scores.Location, ranked[1].Scores.Location)
	assert.Greater(t, ranked[0].Scores.Total, ranked[1].Scores.Total)
}

func ids(vols []domain.Volunteer) []string {
	out := make([]string, len(vols))
	for i, v := range vols {
		out[i] = v.ID
	}
	return out
}
