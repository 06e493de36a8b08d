package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"weave/internal/domain"
)

type AssignmentFilters struct {
	TaskID      string
	VolunteerID string
	PlanID      string
	Status      string
	Limit       int
}

const assignmentColumns = `a.id,a.task_id,a.volunteer_id,a.status,a.source,a.assigned_at,a.started_at,a.completed_at,COALESCE(a.notes,'')`

const liveStatuses = `('assigned','in_progress')`

func scanAssignment(row scanner) (domain.TaskAssignment, error) {
	var (
		a                  domain.TaskAssignment
		started, completed sql.NullString
	)
	err := row.Scan(&a.ID, &a.TaskID, &a.VolunteerID, &a.Status, &a.Source, &a.AssignedAt, &started, &completed, &a.Notes)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.StartedAt = nullStringPtr(started)
	a.CompletedAt = nullStringPtr(completed)
	return a, nil
}

// InsertAssignment fails with ErrConflict if the volunteer is already on the task.
func (r Repo) InsertAssignment(ctx context.Context, tx *sql.Tx, a domain.TaskAssignment) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO task_assignments(id,task_id,volunteer_id,status,source,assigned_at,notes) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.TaskID, a.VolunteerID, a.Status, a.Source, a.AssignedAt, nullable(a.Notes))
	if isUniqueViolation(err) {
		return fmt.Errorf("volunteer %s already assigned to task %s: %w", a.VolunteerID, a.TaskID, ErrConflict)
	}
	return err
}

// ReserveAssignment inserts the assignment only while the volunteer holds
// fewer than limit live assignments. The check and insert are one statement.
func (r Repo) ReserveAssignment(ctx context.Context, tx *sql.Tx, a domain.TaskAssignment, limit int) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `
INSERT INTO task_assignments(id,task_id,volunteer_id,status,source,assigned_at,notes)
SELECT ?,?,?,?,?,?,?
WHERE (SELECT COUNT(*) FROM task_assignments WHERE volunteer_id=? AND status IN `+liveStatuses+`) < ?`,
		a.ID, a.TaskID, a.VolunteerID, a.Status, a.Source, a.AssignedAt, nullable(a.Notes), a.VolunteerID, limit)
	if isUniqueViolation(err) {
		return false, fmt.Errorf("volunteer %s already assigned to task %s: %w", a.VolunteerID, a.TaskID, ErrConflict)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) GetAssignment(ctx context.Context, tx *sql.Tx, id string) (domain.TaskAssignment, error) {
	return scanAssignment(r.q(tx).QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM task_assignments a WHERE a.id=?`, id))
}

func (r Repo) ListAssignments(ctx context.Context, tx *sql.Tx, f AssignmentFilters) ([]domain.TaskAssignment, error) {
	var (
		clauses []string
		args    []any
		join    string
	)
	if f.TaskID != "" {
		clauses = append(clauses, "a.task_id=?")
		args = append(args, f.TaskID)
	}
	if f.VolunteerID != "" {
		clauses = append(clauses, "a.volunteer_id=?")
		args = append(args, f.VolunteerID)
	}
	if f.PlanID != "" {
		join = " JOIN tasks t ON t.id=a.task_id"
		clauses = append(clauses, "t.action_plan_id=?")
		args = append(args, f.PlanID)
	}
	if f.Status != "" {
		clauses = append(clauses, "a.status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + assignmentColumns + ` FROM task_assignments a` + join + where + ` ORDER BY a.assigned_at ASC, a.rowid ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.TaskAssignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ActiveAssignmentCounts maps volunteer id to its number of live assignments.
// Volunteers without any are absent.
func (r Repo) ActiveAssignmentCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT volunteer_id, COUNT(*) FROM task_assignments WHERE status IN `+liveStatuses+` GROUP BY volunteer_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// SetAssignmentStatus moves an assignment and stamps started_at or
// completed_at when entering those states.
func (r Repo) SetAssignmentStatus(ctx context.Context, tx *sql.Tx, id, status, at string) error {
	query := `UPDATE task_assignments SET status=? WHERE id=?`
	args := []any{status, id}
	switch status {
	case domain.AssignmentInProgress:
		query = `UPDATE task_assignments SET status=?, started_at=? WHERE id=?`
		args = []any{status, at, id}
	case domain.AssignmentCompleted:
		query = `UPDATE task_assignments SET status=?, completed_at=? WHERE id=?`
		args = []any{status, at, id}
	}
	res, err := r.q(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
