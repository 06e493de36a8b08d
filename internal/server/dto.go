package server

import (
	"weave/internal/domain"
	"weave/internal/matching"
	"weave/internal/pipeline"
)

// Request payloads

type CreateIssueRequest struct {
	Title       string   `json:"title" minLength:"5" maxLength:"255"`
	Description string   `json:"description" minLength:"10"`
	Lat         *float64 `json:"lat,omitempty" minimum:"-90" maximum:"90"`
	Lng         *float64 `json:"lng,omitempty" minimum:"-180" maximum:"180"`
	Address     string   `json:"address,omitempty"`
	Category    string   `json:"category,omitempty"`
	Images      []string `json:"images,omitempty"`
}

type CreateVolunteerRequest struct {
	Name             string   `json:"name" minLength:"1"`
	Email            string   `json:"email,omitempty"`
	Skills           []string `json:"skills,omitempty"`
	Availability     []string `json:"availability,omitempty"`
	Lat              *float64 `json:"lat,omitempty" minimum:"-90" maximum:"90"`
	Lng              *float64 `json:"lng,omitempty" minimum:"-180" maximum:"180"`
	ReliabilityScore *float64 `json:"reliability_score,omitempty" minimum:"0" maximum:"1"`
}

type AssignRequest struct {
	Notes string `json:"notes,omitempty"`
}

// Response payloads

type HealthResponse struct {
	Status       string `json:"status"`
	QueuePending int    `json:"queue_pending"`
}

type IssueCreatedResponse struct {
	Issue  domain.Issue `json:"issue"`
	Queued bool         `json:"queued"`
}

type paginatedIssues struct {
	Items      []domain.Issue `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type ProcessResponse struct {
	Queued  bool              `json:"queued"`
	Outcome *pipeline.Outcome `json:"outcome,omitempty"`
}

type PlanDetailResponse struct {
	Plan  domain.ActionPlan `json:"plan"`
	Tasks []domain.Task     `json:"tasks"`
}

type MatchResponse = matching.Summary

type paginatedPlans struct {
	Items []domain.ActionPlan `json:"items"`
}

type paginatedTasks struct {
	Items []domain.Task `json:"items"`
}

type paginatedVolunteers struct {
	Items []domain.Volunteer `json:"items"`
}

type paginatedAssignments struct {
	Items []domain.TaskAssignment `json:"items"`
}

type paginatedLogs struct {
	Items []domain.ExecutionLogEntry `json:"items"`
}
