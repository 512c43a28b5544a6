package domain

import "strings"

// FallbackMessage is what a generator returns when it could not produce usable
// content. It is never delivered.
const FallbackMessage = "Hi! Reaching out about something you might find interesting."

// TimestampLayout formats the local timestamp stored on outcome records.
const TimestampLayout = "2006-01-02 15:04:05"

type Action string

const (
	ActionContacted Action = "contacted"
	ActionFailed    Action = "failed"
)

type Stage string

const (
	StageSearch     Stage = "search"
	StageAI         Stage = "ai"
	StageSend       Stage = "send"
	StageUnexpected Stage = "unexpected"
)

type TargetRecord struct {
	Handle      string            `json:"handle"`
	DisplayName string            `json:"display_name,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// NormalizedHandle trims whitespace and a leading @.
func (t TargetRecord) NormalizedHandle() string {
	return strings.TrimPrefix(strings.TrimSpace(t.Handle), "@")
}

type ProfileSummary struct {
	FullName      string `json:"full_name,omitempty"`
	Biography     string `json:"biography,omitempty"`
	FollowerCount int64  `json:"follower_count,omitempty"`
}

type RecipientIdentity struct {
	ID      string         `json:"id"`
	Handle  string         `json:"handle"`
	Profile ProfileSummary `json:"profile"`
}

type OutcomeRecord struct {
	ID          int64  `json:"id,omitempty" firestore:"-"`
	RunID       string `json:"run_id,omitempty" firestore:"run_id"`
	Action      Action `json:"action" firestore:"action"`
	Sender      string `json:"sender,omitempty" firestore:"sender"`
	Recipient   string `json:"recipient" firestore:"recipient"`
	RecipientID string `json:"recipient_id,omitempty" firestore:"recipient_id"`
	Stage       Stage  `json:"stage,omitempty" firestore:"stage"`
	Reason      string `json:"reason,omitempty" firestore:"reason"`
	Message     string `json:"message,omitempty" firestore:"message"`
	Context     string `json:"context,omitempty" firestore:"context"`
	Timestamp   string `json:"ts" firestore:"ts"`
	CreatedAt   int64  `json:"created_at" firestore:"created_at"`
}

type RunSummary struct {
	RunID      string `json:"run_id"`
	Available  int    `json:"available"`
	Attempted  int    `json:"attempted"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	DurationMs int64  `json:"duration_ms"`
	Aborted    bool   `json:"aborted"`
	FatalCause string `json:"fatal_cause,omitempty"`
}

type Run struct {
	ID         string     `json:"id"`
	Status     string     `json:"status" enum:"running,completed,aborted,failed"`
	InputName  string     `json:"input_name,omitempty"`
	Context    string     `json:"context"`
	StartedAt  string     `json:"started_at" format:"date-time"`
	FinishedAt *string    `json:"finished_at,omitempty" format:"date-time"`
	Summary    RunSummary `json:"summary"`
}

type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	RunID   string `json:"run_id,omitempty"`
	Payload string `json:"payload_json"`
}

// APIKey is a stored automation credential. Only the hash is persisted.
type APIKey struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	KeyHash    string  `json:"-"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	LastUsedAt *string `json:"last_used_at,omitempty" format:"date-time"`
}
