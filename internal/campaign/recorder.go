package campaign

import (
	"context"
	"time"

	"go.uber.org/zap"

	"outreach/internal/domain"
)

// Recorder writes outcome records for one run. Store failures are returned as
// *PersistenceError; callers log them and carry on.
type Recorder struct {
	Store   HistoryStore
	Sink    OutcomeSink
	Sender  string
	RunID   string
	Context string
	// Window suppresses a second send failure for the same recipient.
	Window time.Duration
	Now    func() time.Time
	Logger *zap.Logger
}

func (r Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Recorder) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r Recorder) Contacted(ctx context.Context, ident domain.RecipientIdentity, handle, message string) error {
	now := r.now()
	return r.append(ctx, domain.OutcomeRecord{
		RunID:       r.RunID,
		Action:      domain.ActionContacted,
		Sender:      r.Sender,
		Recipient:   handle,
		RecipientID: ident.ID,
		Message:     message,
		Context:     r.Context,
		Timestamp:   now.Local().Format(domain.TimestampLayout),
		CreatedAt:   now.UnixMilli(),
	})
}

func (r Recorder) Failed(ctx context.Context, handle, recipientID string, stage domain.Stage, reason, message string) error {
	now := r.now()
	if stage == domain.StageSend && r.Window > 0 {
		recent, err := r.Store.RecentFailure(ctx, handle, stage, now.Add(-r.Window))
		if err != nil {
			r.logger().Warn("failure window lookup failed; recording anyway",
				zap.String("handle", handle), zap.Error(err))
		} else if recent {
			r.logger().Debug("send failure already recorded inside window", zap.String("handle", handle))
			return nil
		}
	}
	return r.append(ctx, domain.OutcomeRecord{
		RunID:       r.RunID,
		Action:      domain.ActionFailed,
		Sender:      r.Sender,
		Recipient:   handle,
		RecipientID: recipientID,
		Stage:       stage,
		Reason:      reason,
		Message:     message,
		Context:     r.Context,
		Timestamp:   now.Local().Format(domain.TimestampLayout),
		CreatedAt:   now.UnixMilli(),
	})
}

func (r Recorder) append(ctx context.Context, rec domain.OutcomeRecord) error {
	if err := r.Store.Append(ctx, rec); err != nil {
		return &PersistenceError{Op: "append", Err: err}
	}
	if r.Sink != nil {
		if err := r.Sink.Publish(ctx, rec); err != nil {
			r.logger().Warn("outcome sink publish failed", zap.String("handle", rec.Recipient), zap.Error(err))
		}
	}
	return nil
}
