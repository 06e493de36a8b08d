package discovery

import (
	"fmt"

	"weave/internal/domain"
)

const systemInstruction = "You are an expert community organizer and issue analyst."

const promptTemplate = `You are a community issue analysis agent. Analyze the following community issue and provide structured metadata.

**Issue Title:** %s

**Issue Description:** %s

**Location:** %s

Analyze this issue and return a JSON response with the following structure:

{
  "category": "one of: environment, civic, social, safety, infrastructure",
  "priority": 0.75,
  "urgency": "one of: low, medium, high, critical",
  "estimated_scope": "one of: small, medium, large, very_large",
  "is_valid": true,
  "required_resources": ["list of required resources"],
  "estimated_volunteers_needed": 5,
  "estimated_duration_days": 3,
  "confidence": 0.92,
  "reasoning": "Brief explanation of your analysis",
  "tags": ["relevant", "tags", "for", "this", "issue"]
}

**Guidelines:**
- category: Choose the most relevant category
- priority: Score from 0.0 to 1.0 (higher = more urgent)
- urgency: Based on time-sensitivity and community impact
- estimated_scope: Based on complexity and resources needed
- is_valid: false only for spam, duplicates, or nonsensical submissions
- confidence: Your confidence in this analysis (0.0 to 1.0)

Return ONLY valid JSON, no additional text or markdown.
`

func buildPrompt(issue domain.Issue) string {
	return fmt.Sprintf(promptTemplate, issue.Title, issue.Description, describeLocation(issue.Location))
}

func describeLocation(l domain.Location) string {
	switch {
	case l.HasCoordinates() && l.Address != "":
		return fmt.Sprintf("%s (%.5f, %.5f)", l.Address, *l.Lat, *l.Lng)
	case l.HasCoordinates():
		return fmt.Sprintf("%.5f, %.5f", *l.Lat, *l.Lng)
	case l.Address != "":
		return l.Address
	}
	return "unknown"
}
