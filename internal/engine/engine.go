package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"weave/internal/config"
	"weave/internal/domain"
	"weave/internal/repo"
)

var (
	ErrInvalid = errors.New("invalid input")
	ErrBlocked = errors.New("blocked by unfinished prerequisites")
)

// Engine owns intake and the manual assignment lifecycle. The automatic
// pipeline lives in the pipeline package.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Config *config.Config
	Log    *zap.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, log *zap.Logger) Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Log:    log,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// IssueCreateOptions are parameters for reporting an issue.
type IssueCreateOptions struct {
	Title       string
	Description string
	Lat         *float64
	Lng         *float64
	Address     string
	Category    string
	Images      []string
	CreatedBy   string
}

func (e Engine) CreateIssue(ctx context.Context, opts IssueCreateOptions) (domain.Issue, error) {
	title := strings.TrimSpace(opts.Title)
	desc := strings.TrimSpace(opts.Description)
	if n := utf8.RuneCountInString(title); n < 5 || n > 255 {
		return domain.Issue{}, invalid("title must be 5 to 255 characters")
	}
	if utf8.RuneCountInString(desc) < 10 {
		return domain.Issue{}, invalid("description must be at least 10 characters")
	}
	loc, err := location(opts.Lat, opts.Lng, opts.Address)
	if err != nil {
		return domain.Issue{}, err
	}
	category := strings.ToLower(strings.TrimSpace(opts.Category))
	if category == "" {
		category = "other"
	}
	ts := e.timestamp()
	issue := domain.Issue{
		ID:          uuid.NewString(),
		Title:       title,
		Description: desc,
		Location:    loc,
		Category:    category,
		Priority:    0.5,
		Status:      domain.IssueStatusPending,
		Images:      opts.Images,
		Metadata:    map[string]any{},
		CreatedBy:   opts.CreatedBy,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	if issue.Images == nil {
		issue.Images = []string{}
	}
	if err := e.Repo.InsertIssue(ctx, issue); err != nil {
		return domain.Issue{}, fmt.Errorf("insert issue: %w", err)
	}
	e.Log.Info("issue created", zap.String("issue_id", issue.ID))
	return issue, nil
}

func location(lat, lng *float64, address string) (domain.Location, error) {
	loc := domain.Location{Address: strings.TrimSpace(address)}
	if (lat == nil) != (lng == nil) {
		return loc, invalid("lat and lng must be given together")
	}
	if lat != nil {
		if *lat < -90 || *lat > 90 {
			return loc, invalid("lat must be within [-90,90]")
		}
		if *lng < -180 || *lng > 180 {
			return loc, invalid("lng must be within [-180,180]")
		}
		loc.Lat, loc.Lng = lat, lng
	}
	return loc, nil
}

// VolunteerCreateOptions are parameters for registering a volunteer.
type VolunteerCreateOptions struct {
	Name         string
	Email        string
	Skills       []string
	Availability []string
	Lat          *float64
	Lng          *float64
	Reliability  *float64
}

func (e Engine) RegisterVolunteer(ctx context.Context, opts VolunteerCreateOptions) (domain.Volunteer, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Volunteer{}, invalid("name is required")
	}
	if opts.Reliability != nil && (*opts.Reliability < 0 || *opts.Reliability > 1) {
		return domain.Volunteer{}, invalid("reliability_score must be within [0,1]")
	}
	loc, err := location(opts.Lat, opts.Lng, "")
	if err != nil {
		return domain.Volunteer{}, err
	}
	v := domain.Volunteer{
		ID:               uuid.NewString(),
		Name:             name,
		Email:            strings.TrimSpace(opts.Email),
		Skills:           trimAll(opts.Skills),
		Availability:     trimAll(opts.Availability),
		ReliabilityScore: opts.Reliability,
		CreatedAt:        e.timestamp(),
	}
	if loc.HasCoordinates() {
		v.Location = &loc
	}
	if err := e.Repo.InsertVolunteer(ctx, v); err != nil {
		return domain.Volunteer{}, fmt.Errorf("insert volunteer: %w", err)
	}
	return v, nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// AssignVolunteer binds a volunteer to a task directly, bypassing scoring.
func (e Engine) AssignVolunteer(ctx context.Context, taskID, volunteerID, notes string) (domain.TaskAssignment, error) {
	task, err := e.Repo.GetTask(ctx, nil, taskID)
	if err != nil {
		return domain.TaskAssignment{}, fmt.Errorf("task %s: %w", taskID, err)
	}
	if _, err := e.Repo.GetVolunteer(ctx, volunteerID); err != nil {
		return domain.TaskAssignment{}, fmt.Errorf("volunteer %s: %w", volunteerID, err)
	}
	if task.Status == domain.TaskStatusCompleted {
		return domain.TaskAssignment{}, invalid("task %s is already completed", taskID)
	}
	if notes == "" {
		notes = "Manually assigned"
	}
	a := domain.TaskAssignment{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		VolunteerID: volunteerID,
		Status:      domain.AssignmentAssigned,
		Source:      domain.SourceManual,
		AssignedAt:  e.timestamp(),
		Notes:       notes,
	}
	err = e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertAssignment(ctx, tx, a); err != nil {
			return err
		}
		return e.sync(ctx, tx, task)
	})
	if err != nil {
		return domain.TaskAssignment{}, err
	}
	e.Log.Info("volunteer assigned manually", zap.String("task_id", taskID), zap.String("volunteer_id", volunteerID))
	return a, nil
}

// StartAssignment checks a volunteer in. Unless force is set, every
// prerequisite task must be completed first.
func (e Engine) StartAssignment(ctx context.Context, id string, force bool) (domain.TaskAssignment, error) {
	return e.transition(ctx, id, domain.AssignmentInProgress, force)
}

func (e Engine) CompleteAssignment(ctx context.Context, id string) (domain.TaskAssignment, error) {
	return e.transition(ctx, id, domain.AssignmentCompleted, false)
}

func (e Engine) WithdrawAssignment(ctx context.Context, id string) (domain.TaskAssignment, error) {
	return e.transition(ctx, id, domain.AssignmentWithdrawn, false)
}

func ensureAssignmentTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.AssignmentAssigned:
		if newStatus == domain.AssignmentInProgress || newStatus == domain.AssignmentWithdrawn {
			return nil
		}
	case domain.AssignmentInProgress:
		if newStatus == domain.AssignmentCompleted || newStatus == domain.AssignmentWithdrawn {
			return nil
		}
	}
	return fmt.Errorf("%w: invalid assignment status transition %s -> %s", ErrInvalid, oldStatus, newStatus)
}

func (e Engine) transition(ctx context.Context, id, status string, force bool) (domain.TaskAssignment, error) {
	var a domain.TaskAssignment
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		a, err = e.Repo.GetAssignment(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("assignment %s: %w", id, err)
		}
		if err := ensureAssignmentTransition(a.Status, status); err != nil {
			return err
		}
		task, err := e.Repo.GetTask(ctx, tx, a.TaskID)
		if err != nil {
			return fmt.Errorf("task %s: %w", a.TaskID, err)
		}
		if status == domain.AssignmentInProgress && !force {
			if err := e.ensurePrerequisitesDone(ctx, tx, task); err != nil {
				return err
			}
		}
		ts := e.timestamp()
		if err := e.Repo.SetAssignmentStatus(ctx, tx, id, status, ts); err != nil {
			return err
		}
		a.Status = status
		switch status {
		case domain.AssignmentInProgress:
			a.StartedAt = &ts
		case domain.AssignmentCompleted:
			a.CompletedAt = &ts
		}
		return e.sync(ctx, tx, task)
	})
	if err != nil {
		return domain.TaskAssignment{}, err
	}
	e.Log.Info("assignment updated", zap.String("assignment_id", id), zap.String("status", status))
	return a, nil
}

func (e Engine) ensurePrerequisitesDone(ctx context.Context, tx *sql.Tx, task domain.Task) error {
	var pending []string
	for _, id := range task.PrerequisiteIDs {
		var status, name string
		if err := tx.QueryRowContext(ctx, `SELECT status, name FROM tasks WHERE id=?`, id).Scan(&status, &name); err != nil {
			return err
		}
		if status != domain.TaskStatusCompleted {
			pending = append(pending, name)
		}
	}
	if len(pending) > 0 {
		return fmt.Errorf("%w: %s", ErrBlocked, strings.Join(pending, ", "))
	}
	return nil
}

// sync derives the task status from its assignments, then the plan's
// progress, staffing and status, and resolves the issue when every task is
// done.
func (e Engine) sync(ctx context.Context, tx *sql.Tx, task domain.Task) error {
	assignments, err := e.Repo.ListAssignments(ctx, tx, repo.AssignmentFilters{TaskID: task.ID})
	if err != nil {
		return err
	}
	var live, started, done int
	for _, a := range assignments {
		switch a.Status {
		case domain.AssignmentAssigned:
			live++
		case domain.AssignmentInProgress:
			live++
			started++
		case domain.AssignmentCompleted:
			done++
		}
	}
	status := domain.TaskStatusPending
	switch {
	case done > 0 && live == 0 && done >= task.RequiredPeople:
		status = domain.TaskStatusCompleted
	case started > 0 || done > 0:
		status = domain.TaskStatusInProgress
	}
	ts := e.timestamp()
	if status != task.Status {
		if err := e.Repo.UpdateTaskStatus(ctx, tx, task.ID, status, ts); err != nil {
			return err
		}
	}
	return e.syncPlan(ctx, tx, task.ActionPlanID, ts)
}

func (e Engine) syncPlan(ctx context.Context, tx *sql.Tx, planID, ts string) error {
	tasks, err := e.Repo.ListTasksByPlan(ctx, tx, planID)
	if err != nil {
		return err
	}
	var issueID string
	if err := tx.QueryRowContext(ctx, `SELECT issue_id FROM action_plans WHERE id=?`, planID).Scan(&issueID); err != nil {
		return err
	}
	completed, started := 0, 0
	for _, t := range tasks {
		switch t.Status {
		case domain.TaskStatusCompleted:
			completed++
		case domain.TaskStatusInProgress:
			started++
		}
	}
	progress := 0.0
	if len(tasks) > 0 {
		progress = float64(completed) / float64(len(tasks)) * 100
	}
	assigned, err := e.Repo.CountPlanVolunteers(ctx, tx, planID)
	if err != nil {
		return err
	}
	status := domain.PlanStatusDraft
	switch {
	case len(tasks) > 0 && completed == len(tasks):
		status = domain.PlanStatusCompleted
	case assigned > 0 || completed > 0 || started > 0:
		status = domain.PlanStatusActive
	}
	if err := e.Repo.UpdatePlanStaffing(ctx, tx, planID, assigned, status, ts); err != nil {
		return err
	}
	if err := e.Repo.UpdatePlanProgress(ctx, tx, planID, progress, status, ts); err != nil {
		return err
	}
	switch {
	case status == domain.PlanStatusCompleted:
		return e.Repo.UpdateIssue(ctx, tx, issueID, repo.IssueUpdate{Status: domain.IssueStatusResolved, At: ts})
	case started > 0 || completed > 0:
		return e.Repo.UpdateIssue(ctx, tx, issueID, repo.IssueUpdate{Status: domain.IssueStatusInProgress, At: ts})
	}
	return nil
}
