package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"outreach/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const outcomeColumns = `id,COALESCE(run_id,''),action,COALESCE(sender,''),recipient,COALESCE(recipient_id,''),COALESCE(stage,''),COALESCE(reason,''),COALESCE(message,''),COALESCE(context,''),ts,created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanOutcome(row scanner) (domain.OutcomeRecord, error) {
	var o domain.OutcomeRecord
	var action, stage string
	err := row.Scan(&o.ID, &o.RunID, &action, &o.Sender, &o.Recipient, &o.RecipientID, &stage, &o.Reason, &o.Message, &o.Context, &o.Timestamp, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	o.Action = domain.Action(action)
	o.Stage = domain.Stage(stage)
	return o, err
}

func (r Repo) InsertOutcome(ctx context.Context, o domain.OutcomeRecord) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO outcomes(run_id,action,sender,recipient,recipient_id,stage,reason,message,context,ts,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		nullable(o.RunID), string(o.Action), nullable(o.Sender), o.Recipient, nullable(o.RecipientID), nullable(string(o.Stage)),
		nullable(o.Reason), nullable(o.Message), nullable(o.Context), o.Timestamp, o.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetContacted returns the earliest contacted record for recipient.
func (r Repo) GetContacted(ctx context.Context, recipient string) (domain.OutcomeRecord, error) {
	return scanOutcome(r.DB.QueryRowContext(ctx,
		`SELECT `+outcomeColumns+` FROM outcomes WHERE recipient=? AND action='contacted' ORDER BY id ASC LIMIT 1`, recipient))
}

// HasFailureSince reports whether a failure at stage was recorded for recipient
// at or after since.
func (r Repo) HasFailureSince(ctx context.Context, recipient string, stage domain.Stage, since time.Time) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM outcomes WHERE recipient=? AND action='failed' AND stage=? AND created_at>=?`,
		recipient, string(stage), since.UnixMilli()).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type OutcomeFilters struct {
	RunID     string
	Recipient string
	Action    string
	// Cursor returns records with id below it (newest first paging).
	Cursor int64
	Limit  int
}

func (r Repo) ListOutcomes(ctx context.Context, f OutcomeFilters) ([]domain.OutcomeRecord, error) {
	var (
		clauses []string
		args    []any
	)
	if f.RunID != "" {
		clauses = append(clauses, "run_id=?")
		args = append(args, f.RunID)
	}
	if f.Recipient != "" {
		clauses = append(clauses, "recipient=?")
		args = append(args, f.Recipient)
	}
	if f.Action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, f.Action)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + outcomeColumns + ` FROM outcomes ` + where + ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OutcomeRecord
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// CountOutcomes groups a run's records by action.
func (r Repo) CountOutcomes(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT action, count(*) FROM outcomes WHERE run_id=? GROUP BY action`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var action string
		var count int
		if err := rows.Scan(&action, &count); err != nil {
			return nil, err
		}
		res[action] = count
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
