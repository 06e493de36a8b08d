package planning

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrNoTasks rejects a plan payload without any task.
var ErrNoTasks = errors.New("plan has no tasks")

// Draft is a plan before it is stored.
type Draft struct {
	Title                 string      `json:"plan_title"`
	Description           string      `json:"plan_description"`
	EstimatedDurationDays int         `json:"estimated_duration_days"`
	RequiredVolunteers    int         `json:"required_volunteers"`
	Priority              string      `json:"priority"`
	Tasks                 []TaskDraft `json:"tasks"`
	SuccessCriteria       string      `json:"success_criteria"`
	SafetyConsiderations  []string    `json:"safety_considerations"`
	Confidence            float64     `json:"confidence"`
}

type TaskDraft struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	RequiredPeople int      `json:"required_people"`
	EstimatedHours float64  `json:"estimated_hours"`
	Priority       int      `json:"priority"`
	SkillsRequired []string `json:"skills_required"`
	Prerequisites  []string `json:"prerequisites"`
}

// PeopleTotal sums required_people over all tasks.
func (d Draft) PeopleTotal() int {
	n := 0
	for _, t := range d.Tasks {
		n += t.RequiredPeople
	}
	return n
}

type rawDraft struct {
	Title                 string    `json:"plan_title"`
	Description           string    `json:"plan_description"`
	EstimatedDurationDays *float64  `json:"estimated_duration_days"`
	RequiredVolunteers    *float64  `json:"required_volunteers"`
	Priority              any       `json:"priority"`
	Tasks                 []rawTask `json:"tasks"`
	SuccessCriteria       string    `json:"success_criteria"`
	SafetyConsiderations  []string  `json:"safety_considerations"`
	Confidence            *float64  `json:"confidence"`
}

type rawTask struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	RequiredPeople *float64 `json:"required_people"`
	EstimatedHours *float64 `json:"estimated_hours"`
	Priority       *float64 `json:"priority"`
	SkillsRequired []string `json:"skills_required"`
	Prerequisites  []string `json:"prerequisites"`
}

const (
	defaultDurationDays = 5
	defaultTaskHours    = 2.0
	defaultConfidence   = 0.5
)

// ParseDraft validates a completion payload and fills missing fields.
// Title and description stay empty when absent; the caller knows the issue.
func ParseDraft(payload []byte) (Draft, error) {
	var raw rawDraft
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Draft{}, fmt.Errorf("decode plan: %w", err)
	}
	if len(raw.Tasks) == 0 {
		return Draft{}, ErrNoTasks
	}
	d := Draft{
		Title:                 strings.TrimSpace(raw.Title),
		Description:           strings.TrimSpace(raw.Description),
		EstimatedDurationDays: defaultDurationDays,
		SuccessCriteria:       strings.TrimSpace(raw.SuccessCriteria),
		SafetyConsiderations:  raw.SafetyConsiderations,
		Confidence:            defaultConfidence,
	}
	if s, ok := raw.Priority.(string); ok {
		d.Priority = NormalizePriority(s)
	} else {
		d.Priority = NormalizePriority("")
	}
	if raw.EstimatedDurationDays != nil && *raw.EstimatedDurationDays >= 1 {
		d.EstimatedDurationDays = int(math.Round(*raw.EstimatedDurationDays))
	}
	if raw.Confidence != nil {
		d.Confidence = math.Max(0, math.Min(1, *raw.Confidence))
	}
	if d.SafetyConsiderations == nil {
		d.SafetyConsiderations = []string{}
	}
	for i, rt := range raw.Tasks {
		d.Tasks = append(d.Tasks, normalizeTask(i, rt))
	}
	d.RequiredVolunteers = d.PeopleTotal()
	if raw.RequiredVolunteers != nil && *raw.RequiredVolunteers >= 1 {
		d.RequiredVolunteers = int(math.Round(*raw.RequiredVolunteers))
	}
	return d, nil
}

func normalizeTask(i int, rt rawTask) TaskDraft {
	t := TaskDraft{
		Name:           strings.TrimSpace(rt.Name),
		Description:    strings.TrimSpace(rt.Description),
		RequiredPeople: 1,
		EstimatedHours: defaultTaskHours,
		Priority:       i + 1,
		SkillsRequired: cleanList(rt.SkillsRequired),
		Prerequisites:  cleanList(rt.Prerequisites),
	}
	if t.Name == "" {
		t.Name = fmt.Sprintf("Task %d", i+1)
	}
	if rt.RequiredPeople != nil && *rt.RequiredPeople >= 1 {
		t.RequiredPeople = int(math.Round(*rt.RequiredPeople))
	}
	if rt.EstimatedHours != nil && *rt.EstimatedHours > 0 {
		t.EstimatedHours = *rt.EstimatedHours
	}
	if rt.Priority != nil && *rt.Priority >= 1 {
		t.Priority = int(math.Round(*rt.Priority))
	}
	return t
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// NormalizePriority maps a declared plan priority onto low, medium or high.
func NormalizePriority(p string) string {
	switch v := strings.ToLower(strings.TrimSpace(p)); v {
	case "low", "medium", "high":
		return v
	}
	return "medium"
}
