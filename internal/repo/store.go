package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"outreach/internal/db"
	"outreach/internal/domain"
	"outreach/internal/migrate"
)

// Store is the SQLite history store. It owns its connection.
type Store struct {
	Repo
}

// Open opens and migrates the workspace database.
func Open(ctx context.Context, workspace string) (*Store, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", db.Path(workspace), err)
	}
	return &Store{Repo: Repo{DB: conn}}, nil
}

func (s *Store) FindContacted(ctx context.Context, recipient string) (*domain.OutcomeRecord, error) {
	rec, err := s.GetContacted(ctx, recipient)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) Append(ctx context.Context, rec domain.OutcomeRecord) error {
	_, err := s.InsertOutcome(ctx, rec)
	return err
}

func (s *Store) RecentFailure(ctx context.Context, recipient string, stage domain.Stage, since time.Time) (bool, error) {
	return s.HasFailureSince(ctx, recipient, stage, since)
}

// WithTx runs fn in a transaction.
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Close() error {
	return s.DB.Close()
}
