package matching

import (
	"fmt"
	"sort"

	"weave/internal/domain"
)

// DefaultMaxConcurrentTasks is the soft cap on live assignments per volunteer.
const DefaultMaxConcurrentTasks = 10

// Partition returns the candidate pool: every volunteer below the cap, in
// input order. When all are at or above the cap the pool is every volunteer,
// least busy first, and overflow is true.
func Partition(volunteers []domain.Volunteer, active map[string]int, limit int) (pool []domain.Volunteer, busy []string, overflow bool) {
	for _, v := range volunteers {
		if active[v.ID] >= limit {
			busy = append(busy, v.ID)
			continue
		}
		pool = append(pool, v)
	}
	if len(pool) > 0 || len(volunteers) == 0 {
		return pool, busy, false
	}
	pool = append([]domain.Volunteer(nil), volunteers...)
	sort.SliceStable(pool, func(i, j int) bool {
		return active[pool[i].ID] < active[pool[j].ID]
	})
	return pool, busy, true
}

type Candidate struct {
	Volunteer domain.Volunteer
	Scores    Breakdown
}

// Rank scores every volunteer in the pool for the task, best first. Ties keep
// pool order.
func Rank(task domain.Task, pool []domain.Volunteer, issueLocation *domain.Location) []Candidate {
	out := make([]Candidate, len(pool))
	for i, v := range pool {
		out[i] = Candidate{Volunteer: v, Scores: Score(task, v, issueLocation)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Scores.Total > out[j].Scores.Total
	})
	return out
}

// Notes renders the justification stored on an automatic assignment.
func Notes(b Breakdown) string {
	distance := "N/A"
	if b.DistanceKM != nil {
		distance = fmt.Sprintf("%.1fkm", *b.DistanceKM)
	}
	return fmt.Sprintf("Auto-assigned by matching agent. Skill match: %.2f, Location: %s (score %.2f), Reliability: %.2f, Total: %.2f",
		b.Skill, distance, b.Location, b.Reliability, b.Total)
}
