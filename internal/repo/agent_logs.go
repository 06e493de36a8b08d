package repo

import (
	"context"
	"database/sql"
	"strings"

	"weave/internal/domain"
)

type LogFilters struct {
	AgentType string
	SessionID string
	SubjectID string
	Limit     int
}

const logColumns = `id,session_id,agent_type,action,COALESCE(subject_id,''),input_json,output_json,confidence_score,execution_time_ms,success,COALESCE(error_message,''),created_at`

func scanLog(row scanner) (domain.ExecutionLogEntry, error) {
	var (
		e             domain.ExecutionLogEntry
		input, output string
		confidence    sql.NullFloat64
		success       int
	)
	err := row.Scan(&e.ID, &e.SessionID, &e.AgentType, &e.Action, &e.SubjectID, &input, &output, &confidence,
		&e.ExecutionTimeMS, &success, &e.ErrorMessage, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.InputData = decodeMap(input)
	e.OutputData = decodeMap(output)
	e.ConfidenceScore = nullFloatPtr(confidence)
	e.Success = success == 1
	return e, nil
}

func (r Repo) InsertAgentLog(ctx context.Context, e domain.ExecutionLogEntry) error {
	if e.InputData == nil {
		e.InputData = map[string]any{}
	}
	if e.OutputData == nil {
		e.OutputData = map[string]any{}
	}
	success := 0
	if e.Success {
		success = 1
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO agent_logs(id,session_id,agent_type,action,subject_id,input_json,output_json,confidence_score,execution_time_ms,success,error_message,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.SessionID, e.AgentType, e.Action, nullable(e.SubjectID), encodeJSON(e.InputData), encodeJSON(e.OutputData),
		floatPtrArg(e.ConfidenceScore), e.ExecutionTimeMS, success, nullable(e.ErrorMessage), e.CreatedAt)
	return err
}

// ListAgentLogs returns the newest entries first.
func (r Repo) ListAgentLogs(ctx context.Context, f LogFilters) ([]domain.ExecutionLogEntry, error) {
	var (
		clauses []string
		args    []any
	)
	if f.AgentType != "" {
		clauses = append(clauses, "agent_type=?")
		args = append(args, f.AgentType)
	}
	if f.SessionID != "" {
		clauses = append(clauses, "session_id=?")
		args = append(args, f.SessionID)
	}
	if f.SubjectID != "" {
		clauses = append(clauses, "subject_id=?")
		args = append(args, f.SubjectID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + logColumns + ` FROM agent_logs ` + where + ` ORDER BY created_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ExecutionLogEntry{}
	for rows.Next() {
		e, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
