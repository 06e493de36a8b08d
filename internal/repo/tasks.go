package repo

import (
	"context"
	"database/sql"

	"weave/internal/domain"
)

const taskColumns = `id,action_plan_id,name,COALESCE(description,''),required_people,estimated_hours,status,priority,prerequisites_json,skills_json,created_at,updated_at`

func scanTask(row scanner) (domain.Task, error) {
	var (
		t              domain.Task
		prereqs, skill string
	)
	err := row.Scan(&t.ID, &t.ActionPlanID, &t.Name, &t.Description, &t.RequiredPeople, &t.EstimatedHours, &t.Status,
		&t.Priority, &prereqs, &skill, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Prerequisites = decodeStrings(prereqs)
	t.SkillsRequired = decodeStrings(skill)
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	if t.Prerequisites == nil {
		t.Prerequisites = []string{}
	}
	if t.SkillsRequired == nil {
		t.SkillsRequired = []string{}
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO tasks(id,action_plan_id,name,description,required_people,estimated_hours,status,priority,prerequisites_json,skills_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ActionPlanID, t.Name, nullable(t.Description), t.RequiredPeople, t.EstimatedHours, t.Status, t.Priority,
		encodeJSON(t.Prerequisites), encodeJSON(t.SkillsRequired), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	q := r.q(tx)
	t, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if err != nil {
		return t, err
	}
	t.PrerequisiteIDs, err = r.listPrerequisiteIDs(ctx, q, t.ID)
	return t, err
}

// ListTasksByPlan returns tasks ordered by priority, then insertion order.
func (r Repo) ListTasksByPlan(ctx context.Context, tx *sql.Tx, planID string) ([]domain.Task, error) {
	q := r.q(tx)
	rows, err := q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE action_plan_id=? ORDER BY priority ASC, rowid ASC`, planID)
	if err != nil {
		return nil, err
	}
	res := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	edges, err := r.planPrerequisiteEdges(ctx, q, planID)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].PrerequisiteIDs = edges[res[i].ID]
	}
	return res, nil
}

func (r Repo) UpdateTaskStatus(ctx context.Context, tx *sql.Tx, id, status, at string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=? WHERE id=?`, status, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertPrerequisite(ctx context.Context, tx *sql.Tx, taskID, prerequisiteID string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO task_prerequisites(task_id,prerequisite_task_id) VALUES (?,?)`, taskID, prerequisiteID)
	return err
}

func (r Repo) listPrerequisiteIDs(ctx context.Context, q querier, taskID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT prerequisite_task_id FROM task_prerequisites WHERE task_id=? ORDER BY rowid`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) planPrerequisiteEdges(ctx context.Context, q querier, planID string) (map[string][]string, error) {
	rows, err := q.QueryContext(ctx, `
SELECT p.task_id, p.prerequisite_task_id
FROM task_prerequisites p
JOIN tasks t ON t.id=p.task_id
WHERE t.action_plan_id=? ORDER BY p.rowid`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	edges := map[string][]string{}
	for rows.Next() {
		var taskID, prereq string
		if err := rows.Scan(&taskID, &prereq); err != nil {
			return nil, err
		}
		edges[taskID] = append(edges[taskID], prereq)
	}
	return edges, rows.Err()
}
