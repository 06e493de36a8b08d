package matching

import (
	"math"
	"strings"

	"weave/internal/domain"
)

const (
	WeightSkill       = 0.4
	WeightLocation    = 0.3
	WeightReliability = 0.3

	EarthRadiusKM = 6371.0
	// MaxDistanceKM is where the location score reaches zero.
	MaxDistanceKM = 10.0
	NeutralScore  = 0.5

	surplusSkillBonus = 0.02
	maxSkillBonus     = 0.1
)

// Breakdown holds the sub-scores of one volunteer for one task.
type Breakdown struct {
	Skill       float64  `json:"skill_score"`
	Location    float64  `json:"location_score"`
	Reliability float64  `json:"reliability_score"`
	Total       float64  `json:"total_score"`
	DistanceKM  *float64 `json:"distance_km,omitempty"`
}

// SkillScore is the share of required skills the volunteer holds, compared
// case-insensitively. A volunteer matching at least one skill and holding more
// skills than required earns 0.02 per surplus skill, at most 0.1. Tasks
// without requirements score a neutral 0.5.
func SkillScore(required, held []string) float64 {
	req := skillSet(required)
	if len(req) == 0 {
		return NeutralScore
	}
	have := skillSet(held)
	if len(have) == 0 {
		return 0
	}
	matches := 0
	for s := range req {
		if have[s] {
			matches++
		}
	}
	score := float64(matches) / float64(len(req))
	if matches > 0 && len(have) > len(req) {
		score += math.Min(maxSkillBonus, float64(len(have)-len(req))*surplusSkillBonus)
	}
	return math.Min(1, score)
}

func skillSet(skills []string) map[string]bool {
	set := make(map[string]bool, len(skills))
	for _, s := range skills {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			set[s] = true
		}
	}
	return set
}

// Haversine returns the great-circle distance in kilometres.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	a = math.Min(1, math.Max(0, a))
	return 2 * EarthRadiusKM * math.Asin(math.Sqrt(a))
}

// LocationScore decays linearly from 1 at the issue to 0 at MaxDistanceKM.
// Without coordinates on both sides it is neutral and the distance is nil.
func LocationScore(issue, volunteer *domain.Location) (float64, *float64) {
	if !issue.HasCoordinates() || !volunteer.HasCoordinates() {
		return NeutralScore, nil
	}
	d := Haversine(*issue.Lat, *issue.Lng, *volunteer.Lat, *volunteer.Lng)
	return math.Max(0, 1-d/MaxDistanceKM), &d
}

func ReliabilityScore(v domain.Volunteer) float64 {
	return math.Max(0, math.Min(1, v.Reliability()))
}

// Score computes the weighted fitness of a volunteer for a task.
func Score(task domain.Task, v domain.Volunteer, issueLocation *domain.Location) Breakdown {
	b := Breakdown{
		Skill:       SkillScore(task.SkillsRequired, v.Skills),
		Reliability: ReliabilityScore(v),
	}
	b.Location, b.DistanceKM = LocationScore(issueLocation, v.Location)
	b.Total = WeightSkill*b.Skill + WeightLocation*b.Location + WeightReliability*b.Reliability
	return b
}
