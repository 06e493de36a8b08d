package planning

import (
	"fmt"
	"strings"
)

// FallbackConfidence is recorded when the fallback template is used.
const FallbackConfidence = 0.5

var (
	infrastructureTemplate = []TaskDraft{
		{Name: "Assessment and Documentation", Description: "Inspect the issue, take photos, and document extent of work needed",
			RequiredPeople: 2, EstimatedHours: 1.5, SkillsRequired: []string{"documentation", "assessment"}},
		{Name: "Gather Materials and Tools", Description: "Acquire necessary materials, tools, and safety equipment",
			RequiredPeople: 2, EstimatedHours: 3.0, SkillsRequired: []string{"logistics"}},
		{Name: "Execute Repair Work", Description: "Perform the actual repair or improvement work",
			RequiredPeople: 4, EstimatedHours: 6.0, SkillsRequired: []string{"manual labor", "construction"}},
		{Name: "Cleanup and Verification", Description: "Clean up work area and verify issue is resolved",
			RequiredPeople: 2, EstimatedHours: 1.5, SkillsRequired: []string{"cleanup"}},
	}
	environmentTemplate = []TaskDraft{
		{Name: "Planning and Outreach", Description: "Plan the event, recruit volunteers, and promote participation",
			RequiredPeople: 3, EstimatedHours: 4.0, SkillsRequired: []string{"coordination", "communication"}},
		{Name: "Gather Supplies", Description: "Collect bags, gloves, tools, and refreshments for volunteers",
			RequiredPeople: 2, EstimatedHours: 2.0, SkillsRequired: []string{"logistics"}},
		{Name: "Execute Cleanup", Description: "Conduct the cleanup or environmental improvement activity",
			RequiredPeople: 10, EstimatedHours: 4.0, SkillsRequired: []string{"manual labor"}},
		{Name: "Document and Celebrate", Description: "Document results, thank volunteers, and share impact",
			RequiredPeople: 2, EstimatedHours: 1.5, SkillsRequired: []string{"documentation", "social media"}},
	}
	genericTemplate = []TaskDraft{
		{Name: "Planning and Assessment", Description: "Assess the situation and create detailed plan",
			RequiredPeople: 3, EstimatedHours: 3.0, SkillsRequired: []string{"planning", "assessment"}},
		{Name: "Resource Gathering", Description: "Gather all necessary resources, materials, and volunteers",
			RequiredPeople: 3, EstimatedHours: 4.0, SkillsRequired: []string{"logistics", "coordination"}},
		{Name: "Implementation", Description: "Execute the planned solution",
			RequiredPeople: 8, EstimatedHours: 6.0, SkillsRequired: []string{"manual labor", "coordination"}},
		{Name: "Follow-up and Documentation", Description: "Verify completion and document outcomes",
			RequiredPeople: 2, EstimatedHours: 2.0, SkillsRequired: []string{"documentation"}},
	}
)

// Fallback returns the fixed four-task plan for a category. Each task depends
// on the one before it.
func Fallback(category, title string) Draft {
	var tmpl []TaskDraft
	switch category {
	case "infrastructure":
		tmpl = infrastructureTemplate
	case "environment":
		tmpl = environmentTemplate
	default:
		tmpl = genericTemplate
	}
	tasks := make([]TaskDraft, len(tmpl))
	for i, t := range tmpl {
		t.Priority = i + 1
		t.SkillsRequired = append([]string(nil), t.SkillsRequired...)
		t.Prerequisites = []string{}
		if i > 0 {
			t.Prerequisites = []string{tmpl[i-1].Name}
		}
		tasks[i] = t
	}
	d := Draft{
		Title:                 fmt.Sprintf("Action Plan: %s", title),
		Description:           fmt.Sprintf("Structured plan to address %s", strings.ToLower(title)),
		EstimatedDurationDays: 7,
		Priority:              "medium",
		Tasks:                 tasks,
		SuccessCriteria:       "Issue is resolved and community is satisfied",
		SafetyConsiderations:  []string{"Wear appropriate safety equipment", "Follow safety protocols"},
		Confidence:            0.6,
	}
	d.RequiredVolunteers = d.PeopleTotal()
	return d
}
