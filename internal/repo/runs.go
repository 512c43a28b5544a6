package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"outreach/internal/domain"
)

func scanRun(row scanner) (domain.Run, error) {
	var run domain.Run
	var input, finished, summary sql.NullString
	err := row.Scan(&run.ID, &run.Status, &input, &run.Context, &run.StartedAt, &finished, &summary)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	if err != nil {
		return run, err
	}
	run.InputName = input.String
	if finished.Valid {
		run.FinishedAt = &finished.String
	}
	if summary.Valid && summary.String != "" {
		if err := json.Unmarshal([]byte(summary.String), &run.Summary); err != nil {
			return run, fmt.Errorf("decode run summary: %w", err)
		}
	}
	return run, nil
}

const runColumns = `id,status,input_name,context,started_at,finished_at,summary_json`

func (r Repo) InsertRun(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO runs(id,status,input_name,context,started_at) VALUES (?,?,?,?,?)`,
		run.ID, run.Status, nullable(run.InputName), run.Context, run.StartedAt)
	return err
}

// FinishRun stores the terminal status and summary of a run.
func (r Repo) FinishRun(ctx context.Context, tx *sql.Tx, id, status, finishedAt string, summary domain.RunSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE runs SET status=?, finished_at=?, summary_json=? WHERE id=?`,
		status, finishedAt, string(payload), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	return scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id))
}

func (r Repo) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

// MarkStaleRuns flags runs left in running state by a crashed process.
func (r Repo) MarkStaleRuns(ctx context.Context, finishedAt string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE runs SET status='failed', finished_at=? WHERE status='running'`, finishedAt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, runID, evtType string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if runID != "" {
		clauses = append(clauses, "run_id=?")
		args = append(args, runID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(run_id,''),COALESCE(payload_json,'') FROM events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.RunID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
