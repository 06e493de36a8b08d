package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"weave/internal/domain"
)

type PlanFilters struct {
	Status  string
	IssueID string
	Limit   int
}

const planColumns = `id,issue_id,title,COALESCE(description,''),status,priority,estimated_duration_days,required_volunteers,assigned_volunteers,progress_percentage,metadata_json,created_at,updated_at`

func scanPlan(row scanner) (domain.ActionPlan, error) {
	var (
		p    domain.ActionPlan
		meta string
	)
	err := row.Scan(&p.ID, &p.IssueID, &p.Title, &p.Description, &p.Status, &p.Priority, &p.EstimatedDurationDays,
		&p.RequiredVolunteers, &p.AssignedVolunteers, &p.ProgressPercentage, &meta, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Metadata = decodeMap(meta)
	return p, nil
}

// InsertPlan fails with ErrConflict when the issue already owns a plan.
func (r Repo) InsertPlan(ctx context.Context, tx *sql.Tx, p domain.ActionPlan) error {
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO action_plans(id,issue_id,title,description,status,priority,estimated_duration_days,required_volunteers,assigned_volunteers,progress_percentage,metadata_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.IssueID, p.Title, nullable(p.Description), p.Status, p.Priority, p.EstimatedDurationDays, p.RequiredVolunteers,
		p.AssignedVolunteers, p.ProgressPercentage, encodeJSON(p.Metadata), p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("action plan for issue %s: %w", p.IssueID, ErrConflict)
	}
	return err
}

func (r Repo) GetPlan(ctx context.Context, id string) (domain.ActionPlan, error) {
	return scanPlan(r.DB.QueryRowContext(ctx, `SELECT `+planColumns+` FROM action_plans WHERE id=?`, id))
}

func (r Repo) GetPlanByIssue(ctx context.Context, issueID string) (domain.ActionPlan, error) {
	return scanPlan(r.DB.QueryRowContext(ctx, `SELECT `+planColumns+` FROM action_plans WHERE issue_id=?`, issueID))
}

func (r Repo) ListPlans(ctx context.Context, f PlanFilters) ([]domain.ActionPlan, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.IssueID != "" {
		clauses = append(clauses, "issue_id=?")
		args = append(args, f.IssueID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + planColumns + ` FROM action_plans ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ActionPlan{}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// CountPlanVolunteers counts distinct volunteers holding a live assignment on
// any task of the plan.
func (r Repo) CountPlanVolunteers(ctx context.Context, tx *sql.Tx, planID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `
SELECT COUNT(DISTINCT a.volunteer_id)
FROM task_assignments a
JOIN tasks t ON t.id=a.task_id
WHERE t.action_plan_id=? AND a.status IN ('assigned','in_progress')`, planID).Scan(&n)
	return n, err
}

// UpdatePlanStaffing stores the assigned volunteer count and status.
func (r Repo) UpdatePlanStaffing(ctx context.Context, tx *sql.Tx, id string, assigned int, status, at string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE action_plans SET assigned_volunteers=?, status=?, updated_at=? WHERE id=?`, assigned, status, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdatePlanProgress(ctx context.Context, tx *sql.Tx, id string, progress float64, status, at string) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE action_plans SET progress_percentage=?, status=?, updated_at=? WHERE id=?`, progress, status, at, id)
	return err
}
