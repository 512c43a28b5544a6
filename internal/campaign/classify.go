package campaign

import (
	"context"
	"errors"
	"time"
)

// Class is the classifier's verdict for one error.
type Class struct {
	Kind Kind
	Wait time.Duration
	// Structured is false for errors that carry no ServiceError at all.
	// Those are treated as unexpected by the orchestrator.
	Structured bool
}

func (c Class) Fatal() bool { return c.Kind.Fatal() }

// Classifier maps arbitrary errors onto Class. It is total: anything it does
// not recognise becomes KindUnknown with the default unknown wait.
type Classifier struct {
	RateLimitWait time.Duration
	UnknownWait   func() time.Duration
}

func (c Classifier) Classify(err error) Class {
	if err == nil {
		return Class{Kind: KindUnknown}
	}
	var se *ServiceError
	if errors.As(err, &se) {
		cls := Class{Kind: se.Kind, Structured: true}
		switch se.Kind {
		case KindRateLimited:
			// RateLimitWait is a floor; a longer Retry-After hint wins.
			cls.Wait = max(se.RetryAfter, c.RateLimitWait)
		case KindUnknown:
			cls.Wait = c.unknownWait()
		}
		return cls
	}
	cls := Class{Kind: KindUnknown, Wait: c.unknownWait()}
	if errors.Is(err, context.DeadlineExceeded) {
		// A timed-out request is a service hiccup, not a bug.
		cls.Structured = true
	}
	return cls
}

func (c Classifier) unknownWait() time.Duration {
	if c.UnknownWait != nil {
		return c.UnknownWait()
	}
	return 10 * time.Second
}

// Classify uses the default waits (five minutes for rate limits, ten seconds
// otherwise).
func Classify(err error) Class {
	return Classifier{RateLimitWait: 5 * time.Minute}.Classify(err)
}
