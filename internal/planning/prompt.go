package planning

import (
	"fmt"
	"strings"

	"weave/internal/domain"
)

const systemInstruction = "You are an expert community project planner creating actionable plans."

const promptTemplate = `You are an expert community organizer and project planner. Create a detailed action plan to address this community issue.

**Issue Title:** %s

**Issue Description:** %s

**Issue Analysis:**
- Category: %s
- Priority: %.2f
- Urgency: %s
- Estimated Scope: %s
- Required Volunteers: %d

**Location:** %s

Create a comprehensive action plan with 3-7 specific tasks. Return ONLY valid JSON with this structure:

{
  "plan_title": "Clear, action-oriented title for the plan",
  "plan_description": "Brief overview of what this plan will accomplish",
  "estimated_duration_days": 5,
  "required_volunteers": 8,
  "priority": "high",
  "tasks": [
    {
      "name": "Task 1: Specific action item",
      "description": "Detailed description of what needs to be done",
      "required_people": 3,
      "estimated_hours": 2.5,
      "priority": 1,
      "skills_required": ["skill1", "skill2"],
      "prerequisites": []
    },
    {
      "name": "Task 2: Next action item",
      "description": "What happens in this task",
      "required_people": 2,
      "estimated_hours": 4,
      "priority": 2,
      "skills_required": ["skill3"],
      "prerequisites": ["Task 1"]
    }
  ],
  "success_criteria": "How we'll know this plan succeeded",
  "safety_considerations": ["Important safety notes"],
  "confidence": 0.88
}

**Guidelines:**
- Tasks should be specific and actionable
- Order tasks logically (preparation → execution → completion)
- Priority: 1=highest, higher numbers = lower priority
- Include realistic time estimates
- Consider safety and logistics
- prerequisites: list task names that must complete first

Return ONLY the JSON, no markdown or extra text.
`

func buildPrompt(issue domain.Issue, a domain.DiscoveryAnalysis) string {
	location := issue.Location.Address
	if issue.Location.HasCoordinates() {
		location = strings.TrimSpace(fmt.Sprintf("%s (%.5f, %.5f)", location, *issue.Location.Lat, *issue.Location.Lng))
	}
	if location == "" {
		location = "unknown"
	}
	return fmt.Sprintf(promptTemplate, issue.Title, issue.Description, a.Category, a.Priority, a.Urgency,
		a.EstimatedScope, a.EstimatedVolunteersNeeded, location)
}
