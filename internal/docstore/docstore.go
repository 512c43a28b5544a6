// Package docstore keeps outcome records in a Firestore collection, one
// document per record.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"outreach/internal/domain"
)

type Store struct {
	client     *firestore.Client
	collection string
}

// Open connects to the project. FIRESTORE_EMULATOR_HOST is honoured by the
// client library.
func Open(ctx context.Context, projectID, collection string, opts ...option.ClientOption) (*Store, error) {
	if collection == "" {
		collection = "outcomes"
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return &Store{client: client, collection: collection}, nil
}

func (s *Store) col() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

func (s *Store) FindContacted(ctx context.Context, recipient string) (*domain.OutcomeRecord, error) {
	iter := s.col().
		Where("recipient", "==", recipient).
		Where("action", "==", string(domain.ActionContacted)).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()
	doc, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query contacted %s: %w", recipient, err)
	}
	var rec domain.OutcomeRecord
	if err := doc.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("decode outcome %s: %w", doc.Ref.ID, err)
	}
	return &rec, nil
}

func (s *Store) Append(ctx context.Context, rec domain.OutcomeRecord) error {
	if _, _, err := s.col().Add(ctx, rec); err != nil {
		return fmt.Errorf("add outcome: %w", err)
	}
	return nil
}

// RecentFailure filters created_at client side so the query needs only the
// automatic single-field indexes.
func (s *Store) RecentFailure(ctx context.Context, recipient string, stage domain.Stage, since time.Time) (bool, error) {
	iter := s.col().
		Where("recipient", "==", recipient).
		Where("action", "==", string(domain.ActionFailed)).
		Where("stage", "==", string(stage)).
		Documents(ctx)
	defer iter.Stop()
	cutoff := since.UnixMilli()
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("query failures %s: %w", recipient, err)
		}
		var rec domain.OutcomeRecord
		if err := doc.DataTo(&rec); err != nil {
			return false, fmt.Errorf("decode outcome %s: %w", doc.Ref.ID, err)
		}
		if rec.CreatedAt >= cutoff {
			return true, nil
		}
	}
}

func (s *Store) Close() error {
	return s.client.Close()
}
