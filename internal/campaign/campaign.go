// Package campaign runs one outreach campaign over an ordered target list:
// dedup, identity lookup, content generation, delivery and outcome recording,
// one target at a time.
package campaign

import (
	"context"
	"time"

	"outreach/internal/config"
	"outreach/internal/domain"
)

// HistoryStore persists outcome records and answers dedup queries.
type HistoryStore interface {
	// FindContacted returns the contacted record for recipient, or nil.
	FindContacted(ctx context.Context, recipient string) (*domain.OutcomeRecord, error)
	Append(ctx context.Context, rec domain.OutcomeRecord) error
	// RecentFailure reports whether a failure with the given stage was
	// recorded for recipient at or after since.
	RecentFailure(ctx context.Context, recipient string, stage domain.Stage, since time.Time) (bool, error)
	Close() error
}

type IdentityResolver interface {
	Resolve(ctx context.Context, handle string) (domain.RecipientIdentity, error)
}

type MessagingClient interface {
	Send(ctx context.Context, recipientID, text string) error
}

type ContentGenerator interface {
	Generate(ctx context.Context, handle string, profile domain.ProfileSummary, campaignContext string) (string, error)
}

// Session is an authenticated messaging session owned by one run.
type Session interface {
	IdentityResolver
	MessagingClient
	// Sender is the account the session is logged in as.
	Sender() string
	Close() error
}

// Dialer acquires the per-run resources. Both are released when the run ends.
type Dialer interface {
	DialStore(ctx context.Context) (HistoryStore, error)
	DialSession(ctx context.Context) (Session, error)
}

// OutcomeSink receives every record after it is stored.
type OutcomeSink interface {
	Publish(ctx context.Context, rec domain.OutcomeRecord) error
}

// Settings are the run parameters the orchestrator reads. They never change
// during a run.
type Settings struct {
	RunID            string
	Context          string
	MaxMessages      int
	BaseDelay        time.Duration
	JitterMin        time.Duration
	JitterMax        time.Duration
	SkipPauseMin     time.Duration
	SkipPauseMax     time.Duration
	ErrorPauseMin    time.Duration
	ErrorPauseMax    time.Duration
	CooldownMin      time.Duration
	CooldownMax      time.Duration
	RateLimitWait    time.Duration
	FailureWindow    time.Duration
	MinMessageLength int
}

// SettingsFrom derives run settings from a normalized config.
func SettingsFrom(cfg *config.Config, runID string) Settings {
	p := cfg.Pacing
	return Settings{
		RunID:            runID,
		Context:          cfg.Campaign.Context,
		MaxMessages:      cfg.Campaign.MaxMessages,
		BaseDelay:        cfg.Campaign.BaseDelay.Std(),
		JitterMin:        p.JitterMin.Std(),
		JitterMax:        p.JitterMax.Std(),
		SkipPauseMin:     p.SkipPauseMin.Std(),
		SkipPauseMax:     p.SkipPauseMax.Std(),
		ErrorPauseMin:    p.ErrorPauseMin.Std(),
		ErrorPauseMax:    p.ErrorPauseMax.Std(),
		CooldownMin:      p.CooldownMin.Std(),
		CooldownMax:      p.CooldownMax.Std(),
		RateLimitWait:    p.RateLimitWait.Std(),
		FailureWindow:    p.FailureWindow.Std(),
		MinMessageLength: p.MinMessageLength,
	}
}

// State is a per-target pipeline state.
type State int

const (
	StatePending State = iota
	StateDeduplicating
	StateResolving
	StateGenerating
	StateSending
	StateRecorded
	StateSkippedDuplicate
	StateSkippedInvalid
	StateFailedResolve
	StateFailedGenerate
	StateFailedSend
	StateFailedUnexpected
	StateAborted
)

var stateNames = [...]string{
	StatePending:          "pending",
	StateDeduplicating:    "deduplicating",
	StateResolving:        "resolving",
	StateGenerating:       "generating",
	StateSending:          "sending",
	StateRecorded:         "recorded",
	StateSkippedDuplicate: "skipped_duplicate",
	StateSkippedInvalid:   "skipped_invalid",
	StateFailedResolve:    "failed_resolve",
	StateFailedGenerate:   "failed_generate",
	StateFailedSend:       "failed_send",
	StateFailedUnexpected: "failed_unexpected",
	StateAborted:          "aborted",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}
