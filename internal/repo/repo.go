package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"weave/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

// WithTx runs fn inside a transaction, committing when fn returns nil.
func (r Repo) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type IssueFilters struct {
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

const issueColumns = `id,title,description,lat,lng,COALESCE(address,''),category,priority,status,images_json,metadata_json,COALESCE(created_by,''),created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanIssue(row scanner) (domain.Issue, error) {
	var (
		i            domain.Issue
		lat, lng     sql.NullFloat64
		images, meta string
	)
	if err := row.Scan(&i.ID, &i.Title, &i.Description, &lat, &lng, &i.Location.Address, &i.Category, &i.Priority,
		&i.Status, &images, &meta, &i.CreatedBy, &i.CreatedAt, &i.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return i, ErrNotFound
		}
		return i, err
	}
	i.Location.Lat = nullFloatPtr(lat)
	i.Location.Lng = nullFloatPtr(lng)
	i.Images = decodeStrings(images)
	i.Metadata = decodeMap(meta)
	return i, nil
}

func (r Repo) InsertIssue(ctx context.Context, i domain.Issue) error {
	if i.Images == nil {
		i.Images = []string{}
	}
	if i.Metadata == nil {
		i.Metadata = map[string]any{}
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO issues(id,title,description,lat,lng,address,category,priority,status,images_json,metadata_json,created_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		i.ID, i.Title, i.Description, floatPtrArg(i.Location.Lat), floatPtrArg(i.Location.Lng), nullable(i.Location.Address),
		i.Category, i.Priority, i.Status, encodeJSON(i.Images), encodeJSON(i.Metadata), nullable(i.CreatedBy), i.CreatedAt, i.UpdatedAt)
	return err
}

func (r Repo) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	return scanIssue(r.DB.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id=?`, id))
}

func (r Repo) ListIssues(ctx context.Context, f IssueFilters) ([]domain.Issue, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + issueColumns + ` FROM issues ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Issue{}
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, i)
	}
	return res, rows.Err()
}

// IssueUpdate names the issue fields a pipeline stage owns. Zero values are
// left untouched; Metadata keys are merged into the stored metadata.
type IssueUpdate struct {
	Category string
	Priority *float64
	Status   string
	Metadata map[string]any
	At       string
}

func (r Repo) UpdateIssue(ctx context.Context, tx *sql.Tx, id string, u IssueUpdate) error {
	q := r.q(tx)
	var meta string
	err := q.QueryRowContext(ctx, `SELECT metadata_json FROM issues WHERE id=?`, id).Scan(&meta)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	merged := decodeMap(meta)
	for k, v := range u.Metadata {
		merged[k] = v
	}
	fields := []string{"metadata_json=?", "updated_at=?"}
	args := []any{encodeJSON(merged), u.At}
	if u.Category != "" {
		fields = append(fields, "category=?")
		args = append(args, u.Category)
	}
	if u.Priority != nil {
		fields = append(fields, "priority=?")
		args = append(args, *u.Priority)
	}
	if u.Status != "" {
		fields = append(fields, "status=?")
		args = append(args, u.Status)
	}
	args = append(args, id)
	_, err = q.ExecContext(ctx, fmt.Sprintf(`UPDATE issues SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func floatPtrArg(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func decodeStrings(raw string) []string {
	out := []string{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	if out == nil {
		out = []string{}
	}
	return out
}

func decodeMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
