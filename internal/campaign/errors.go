package campaign

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the structured failure shape collaborators attach to their errors.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindRateLimited
	KindChallengeRequired
	KindSessionInvalid
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindChallengeRequired:
		return "challenge_required"
	case KindSessionInvalid:
		return "session_invalid"
	default:
		return "unknown"
	}
}

// Fatal reports whether the kind invalidates the messaging session.
func (k Kind) Fatal() bool {
	return k == KindChallengeRequired || k == KindSessionInvalid
}

// ServiceError is returned by the resolver, messaging and generator adapters.
type ServiceError struct {
	Kind       Kind
	Op         string
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *ServiceError) Error() string {
	msg := e.Kind.String()
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, msg, e.Kind)
	}
	return fmt.Sprintf("%s (%s)", msg, e.Kind)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// NewServiceError builds an error of the given kind for operation op.
func NewServiceError(kind Kind, op string, err error) *ServiceError {
	return &ServiceError{Kind: kind, Op: op, Err: err}
}

// FatalCampaignError stops a run. Stage is "setup" when a dependency could not
// be established, "canceled" when the context ended, or the pipeline stage
// that observed the fatal condition.
type FatalCampaignError struct {
	Stage  string
	Handle string
	Cause  error
}

func (e *FatalCampaignError) Error() string {
	if e.Handle != "" {
		return fmt.Sprintf("campaign aborted during %s of @%s: %v", e.Stage, e.Handle, e.Cause)
	}
	return fmt.Sprintf("campaign aborted during %s: %v", e.Stage, e.Cause)
}

func (e *FatalCampaignError) Unwrap() error { return e.Cause }

// Remote reports whether the abort came from the remote service rather than
// local setup or cancellation.
func (e *FatalCampaignError) Remote() bool {
	var se *ServiceError
	return errors.As(e.Cause, &se) && se.Kind.Fatal()
}

// PersistenceError wraps History Store read/write failures.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("history store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

var errInvalidIdentity = errors.New("identity resolved without an id")
