package domain

// Issue statuses.
const (
	IssueStatusPending    = "pending"
	IssueStatusAnalyzing  = "analyzing"
	IssueStatusPlanning   = "planning"
	IssueStatusInProgress = "in_progress"
	IssueStatusResolved   = "resolved"
)

// Action plan statuses.
const (
	PlanStatusDraft     = "draft"
	PlanStatusActive    = "active"
	PlanStatusCompleted = "completed"
)

// Task statuses. A fully staffed task is "pending": ready to be accepted.
const (
	TaskStatusPending    = "pending"
	TaskStatusAssigned   = "assigned"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
)

// Assignment statuses. Assigned and in_progress count as live.
const (
	AssignmentAssigned   = "assigned"
	AssignmentInProgress = "in_progress"
	AssignmentCompleted  = "completed"
	AssignmentWithdrawn  = "withdrawn"
)

// Assignment sources.
const (
	SourceAuto   = "auto"
	SourceManual = "manual"
)

// Agent types recorded in the execution ledger.
const (
	AgentDiscovery = "issue_discovery"
	AgentPlanning  = "action_planning"
	AgentMatching  = "volunteer_matching"
)

// DefaultReliability applies to volunteers without a recorded score.
const DefaultReliability = 0.8

// Categories understood by the classifier.
var Categories = []string{"environment", "civic", "social", "safety", "infrastructure"}

type Location struct {
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
	Address string   `json:"address,omitempty"`
}

// HasCoordinates reports whether both lat and lng are present.
func (l *Location) HasCoordinates() bool {
	return l != nil && l.Lat != nil && l.Lng != nil
}

type Issue struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Location    Location       `json:"location"`
	Category    string         `json:"category"`
	Priority    float64        `json:"priority" minimum:"0" maximum:"1"`
	Status      string         `json:"status" enum:"pending,analyzing,planning,in_progress,resolved"`
	Images      []string       `json:"images"`
	Metadata    map[string]any `json:"metadata"`
	CreatedBy   string         `json:"created_by,omitempty"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
	UpdatedAt   string         `json:"updated_at" format:"date-time"`
}

// DiscoveryAnalysis is the classifier output embedded in issue metadata.
type DiscoveryAnalysis struct {
	Category                  string   `json:"category"`
	Priority                  float64  `json:"priority"`
	Urgency                   string   `json:"urgency" enum:"low,medium,high,critical"`
	EstimatedScope            string   `json:"estimated_scope" enum:"small,medium,large,very_large"`
	IsValid                   bool     `json:"is_valid"`
	RequiredResources         []string `json:"required_resources"`
	EstimatedVolunteersNeeded int      `json:"estimated_volunteers_needed"`
	EstimatedDurationDays     int      `json:"estimated_duration_days"`
	Confidence                float64  `json:"confidence"`
	Reasoning                 string   `json:"reasoning"`
	Tags                      []string `json:"tags"`
}

type ActionPlan struct {
	ID                    string         `json:"id"`
	IssueID               string         `json:"issue_id"`
	Title                 string         `json:"title"`
	Description           string         `json:"description,omitempty"`
	Status                string         `json:"status" enum:"draft,active,completed"`
	Priority              string         `json:"priority" enum:"low,medium,high"`
	EstimatedDurationDays int            `json:"estimated_duration_days"`
	RequiredVolunteers    int            `json:"required_volunteers"`
	AssignedVolunteers    int            `json:"assigned_volunteers"`
	ProgressPercentage    float64        `json:"progress_percentage"`
	Metadata              map[string]any `json:"metadata"`
	CreatedAt             string         `json:"created_at" format:"date-time"`
	UpdatedAt             string         `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID              string   `json:"id"`
	ActionPlanID    string   `json:"action_plan_id"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	RequiredPeople  int      `json:"required_people" minimum:"1"`
	EstimatedHours  float64  `json:"estimated_hours"`
	Status          string   `json:"status" enum:"pending,assigned,in_progress,completed"`
	Priority        int      `json:"priority"`
	Prerequisites   []string `json:"prerequisites"`
	PrerequisiteIDs []string `json:"prerequisite_ids,omitempty"`
	SkillsRequired  []string `json:"skills_required"`
	CreatedAt       string   `json:"created_at" format:"date-time"`
	UpdatedAt       string   `json:"updated_at" format:"date-time"`
}

type Volunteer struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Email            string    `json:"email,omitempty"`
	Skills           []string  `json:"skills"`
	Availability     []string  `json:"availability,omitempty"`
	Location         *Location `json:"location,omitempty"`
	ReliabilityScore *float64  `json:"reliability_score,omitempty"`
	CreatedAt        string    `json:"created_at" format:"date-time"`
}

// Reliability returns the recorded reliability score or the default.
func (v Volunteer) Reliability() float64 {
	if v.ReliabilityScore == nil {
		return DefaultReliability
	}
	return *v.ReliabilityScore
}

type TaskAssignment struct {
	ID          string  `json:"id"`
	TaskID      string  `json:"task_id"`
	VolunteerID string  `json:"volunteer_id"`
	Status      string  `json:"status" enum:"assigned,in_progress,completed,withdrawn"`
	Source      string  `json:"source" enum:"auto,manual"`
	AssignedAt  string  `json:"assigned_at" format:"date-time"`
	StartedAt   *string `json:"started_at,omitempty" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
	Notes       string  `json:"notes,omitempty"`
}

// Live reports whether the assignment still occupies volunteer capacity.
func (a TaskAssignment) Live() bool {
	return a.Status == AssignmentAssigned || a.Status == AssignmentInProgress
}

type ExecutionLogEntry struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"session_id"`
	AgentType       string         `json:"agent_type" enum:"issue_discovery,action_planning,volunteer_matching"`
	Action          string         `json:"action"`
	SubjectID       string         `json:"subject_id,omitempty"`
	InputData       map[string]any `json:"input_data"`
	OutputData      map[string]any `json:"output_data"`
	ConfidenceScore *float64       `json:"confidence_score,omitempty"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	Success         bool           `json:"success"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
}

// Stage outcome statuses shared by the pipeline stages.
const (
	StageOK       = "ok"
	StageNotFound = "not_found"
	StageEmpty    = "empty"
	StageError    = "error"
)

// Ledger actions, one per stage.
const (
	ActionAnalyzeIssue     = "analyze_issue"
	ActionCreateActionPlan = "create_action_plan"
	ActionMatchVolunteers  = "match_volunteers"
)
