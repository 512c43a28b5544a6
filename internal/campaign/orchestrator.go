package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"outreach/internal/domain"
)

// Orchestrator runs campaigns. Collaborators are fields so tests can swap
// them; one Orchestrator may serve many sequential runs.
type Orchestrator struct {
	Dialer    Dialer
	Generator ContentGenerator
	Sink      OutcomeSink
	// Pacer jitter bounds default to the run settings.
	Pacer  Pacer
	Sleep  func(ctx context.Context, d time.Duration) error
	Now    func() time.Time
	Logger *zap.Logger
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Run processes targets in order until the list (or MaxMessages) is exhausted
// or a fatal condition stops the run. The returned summary is always
// populated; the error is non-nil only for a *FatalCampaignError.
func (o *Orchestrator) Run(ctx context.Context, s Settings, targets []domain.TargetRecord) (domain.RunSummary, error) {
	start := o.now()
	log := o.logger().With(zap.String("run_id", s.RunID))
	summary := domain.RunSummary{RunID: s.RunID, Available: len(targets)}

	finish := func(err error) (domain.RunSummary, error) {
		summary.DurationMs = o.now().Sub(start).Milliseconds()
		var fatal *FatalCampaignError
		if errors.As(err, &fatal) {
			summary.Aborted = true
			summary.FatalCause = fatal.Error()
		}
		logSummary(log, summary, fatal)
		return summary, err
	}

	store, err := o.Dialer.DialStore(ctx)
	if err != nil {
		return finish(&FatalCampaignError{Stage: "setup", Cause: &PersistenceError{Op: "connect", Err: err}})
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("closing history store", zap.Error(err))
		}
	}()

	session, err := o.Dialer.DialSession(ctx)
	if err != nil {
		return finish(&FatalCampaignError{Stage: "setup", Cause: err})
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("closing messaging session", zap.Error(err))
		}
	}()

	sleep := o.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	pacer := o.Pacer
	if pacer.JitterMin == 0 && pacer.JitterMax == 0 {
		pacer.JitterMin, pacer.JitterMax = s.JitterMin, s.JitterMax
	}
	r := &run{
		settings:  s,
		store:     store,
		session:   session,
		generator: o.Generator,
		pacer:     pacer,
		sleep:     sleep,
		log:       log,
		classifier: Classifier{
			RateLimitWait: s.RateLimitWait,
			UnknownWait:   func() time.Duration { return pacer.Jitter(s.ErrorPauseMin, s.ErrorPauseMax) },
		},
		recorder: Recorder{
			Store:   store,
			Sink:    o.Sink,
			Sender:  session.Sender(),
			RunID:   s.RunID,
			Context: s.Context,
			Window:  s.FailureWindow,
			Now:     o.Now,
			Logger:  log,
		},
		summary: &summary,
	}
	log.Info("campaign started",
		zap.String("sender", session.Sender()),
		zap.Int("available", len(targets)),
		zap.Int("max_messages", s.MaxMessages),
		zap.Duration("base_delay", s.BaseDelay))

	return finish(r.loop(ctx, targets))
}

func logSummary(log *zap.Logger, s domain.RunSummary, fatal *FatalCampaignError) {
	fields := []zap.Field{
		zap.Int("available", s.Available),
		zap.Int("attempted", s.Attempted),
		zap.Int("sent", s.Sent),
		zap.Int("failed", s.Failed),
		zap.Int("skipped", s.Skipped),
		zap.Int64("duration_ms", s.DurationMs),
	}
	switch {
	case fatal == nil:
		log.Info("campaign completed normally", fields...)
	case fatal.Remote():
		log.Error("campaign stopped by remote fatal condition", append(fields, zap.Error(fatal))...)
	default:
		log.Error("campaign aborted", append(fields, zap.Error(fatal))...)
	}
}

type step int

const (
	stepNext step = iota
	stepDone
	stepSkip
	stepFail
	stepFatal
)

type pause int

const (
	pauseNone pause = iota
	pauseShort
	pausePacing
	pauseCooldown
)

// result is the outcome of one stage. Only the final stage result of a target
// reaches the loop.
type result struct {
	state State
	step  step
	pause pause
	err   error
}

// run is the state of one in-flight campaign.
type run struct {
	settings   Settings
	store      HistoryStore
	session    Session
	generator  ContentGenerator
	pacer      Pacer
	sleep      func(ctx context.Context, d time.Duration) error
	classifier Classifier
	recorder   Recorder
	log        *zap.Logger
	summary    *domain.RunSummary
}

func (r *run) loop(ctx context.Context, targets []domain.TargetRecord) error {
	limit := len(targets)
	if r.settings.MaxMessages > 0 && r.settings.MaxMessages < limit {
		limit = r.settings.MaxMessages
	}
	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return &FatalCampaignError{Stage: "canceled", Cause: err}
		}
		t := targets[i]
		r.log.Info("processing target",
			zap.Int("index", i+1), zap.Int("of", limit), zap.String("handle", t.NormalizedHandle()))

		r.summary.Attempted++
		res := r.process(ctx, t)
		switch res.step {
		case stepDone:
			r.summary.Sent++
		case stepSkip:
			r.summary.Skipped++
		default:
			r.summary.Failed++
		}
		r.log.Debug("target finished", zap.String("handle", t.NormalizedHandle()), zap.Stringer("state", res.state))
		if res.step == stepFatal {
			return res.err
		}
		if i == limit-1 {
			break
		}
		if err := r.pause(ctx, res.pause); err != nil {
			return &FatalCampaignError{Stage: "canceled", Cause: err}
		}
	}
	return nil
}

func (r *run) pause(ctx context.Context, p pause) error {
	var d time.Duration
	switch p {
	case pauseShort:
		d = r.pacer.Jitter(r.settings.SkipPauseMin, r.settings.SkipPauseMax)
	case pausePacing:
		d = r.pacer.NextDelay(r.settings.BaseDelay)
	case pauseCooldown:
		d = r.pacer.Jitter(r.settings.CooldownMin, r.settings.CooldownMax)
		r.log.Warn("cooling down after unexpected error", zap.Duration("wait", d))
	default:
		return nil
	}
	r.log.Info("waiting before next target", zap.Duration("wait", d))
	return r.sleep(ctx, d)
}

func (r *run) process(ctx context.Context, t domain.TargetRecord) (res result) {
	handle := t.NormalizedHandle()
	defer func() {
		if p := recover(); p != nil {
			res = r.unexpected(ctx, handle, fmt.Errorf("panic: %v", p))
		}
	}()
	if handle == "" {
		r.log.Warn("skipping target without a handle")
		return result{state: StateSkippedInvalid, step: stepSkip, pause: pauseNone}
	}

	if rec, err := r.store.FindContacted(ctx, handle); err != nil {
		r.log.Warn("dedup lookup failed; continuing as new", zap.String("handle", handle),
			zap.Error(&PersistenceError{Op: "find", Err: err}))
	} else if rec != nil {
		r.log.Info("already contacted", zap.String("handle", handle), zap.String("at", rec.Timestamp))
		return result{state: StateSkippedDuplicate, step: stepSkip, pause: pauseShort}
	}

	ident, res := r.resolve(ctx, handle)
	if res.step != stepNext {
		return res
	}
	text, res := r.generate(ctx, handle, ident)
	if res.step != stepNext {
		return res
	}
	return r.send(ctx, handle, ident, text)
}

func (r *run) resolve(ctx context.Context, handle string) (domain.RecipientIdentity, result) {
	retried := false
	for {
		ident, err := r.session.Resolve(ctx, handle)
		if err == nil {
			if ident.ID == "" {
				return ident, r.fail(ctx, handle, "", StateFailedResolve, domain.StageSearch, errInvalidIdentity)
			}
			return ident, result{state: StateResolving, step: stepNext}
		}
		if ctx.Err() != nil {
			return ident, canceled(handle, ctx.Err())
		}
		cls := r.classifier.Classify(err)
		switch {
		case cls.Fatal():
			return ident, r.fatal(ctx, handle, "", domain.StageSearch, err)
		case cls.Kind == KindRateLimited && !retried:
			retried = true
			r.log.Warn("rate limited while resolving; retrying once",
				zap.String("handle", handle), zap.Duration("wait", cls.Wait))
			if err := r.sleep(ctx, cls.Wait); err != nil {
				return ident, canceled(handle, err)
			}
		case !cls.Structured:
			return ident, r.unexpected(ctx, handle, err)
		default:
			return ident, r.fail(ctx, handle, "", StateFailedResolve, domain.StageSearch, err)
		}
	}
}

func (r *run) generate(ctx context.Context, handle string, ident domain.RecipientIdentity) (string, result) {
	text, err := r.generator.Generate(ctx, handle, ident.Profile, r.settings.Context)
	if err != nil {
		if ctx.Err() != nil {
			return "", canceled(handle, ctx.Err())
		}
		if cls := r.classifier.Classify(err); cls.Kind == KindRateLimited {
			r.log.Warn("generator rate limited", zap.String("handle", handle), zap.Duration("wait", cls.Wait))
			if err := r.sleep(ctx, cls.Wait); err != nil {
				return "", canceled(handle, err)
			}
		}
		return "", r.fail(ctx, handle, ident.ID, StateFailedGenerate, domain.StageAI, err)
	}
	text = strings.TrimSpace(text)
	if !r.usable(text) {
		return "", r.failWith(ctx, handle, ident.ID, StateFailedGenerate, domain.StageAI,
			"generated text unusable", text)
	}
	return text, result{state: StateGenerating, step: stepNext}
}

func (r *run) usable(text string) bool {
	least := r.settings.MinMessageLength
	if least <= 0 {
		least = 10
	}
	return len([]rune(text)) >= least && text != domain.FallbackMessage
}

func (r *run) send(ctx context.Context, handle string, ident domain.RecipientIdentity, text string) result {
	err := r.session.Send(ctx, ident.ID, text)
	if err == nil {
		if err := r.recorder.Contacted(ctx, ident, handle, text); err != nil {
			r.log.Error("message sent but not recorded", zap.String("handle", handle), zap.Error(err))
		}
		r.log.Info("message sent", zap.String("handle", handle))
		return result{state: StateRecorded, step: stepDone, pause: pausePacing}
	}
	if ctx.Err() != nil {
		return canceled(handle, ctx.Err())
	}
	cls := r.classifier.Classify(err)
	switch {
	case cls.Fatal():
		return r.fatal(ctx, handle, ident.ID, domain.StageSend, err)
	case !cls.Structured:
		return r.unexpected(ctx, handle, err)
	}
	if cls.Wait > 0 {
		r.log.Warn("send failed; waiting", zap.String("handle", handle),
			zap.Stringer("kind", cls.Kind), zap.Duration("wait", cls.Wait))
		if err := r.sleep(ctx, cls.Wait); err != nil {
			return canceled(handle, err)
		}
	}
	return r.failWith(ctx, handle, ident.ID, StateFailedSend, domain.StageSend, err.Error(), text)
}

func (r *run) fail(ctx context.Context, handle, recipientID string, state State, stage domain.Stage, cause error) result {
	return r.failWith(ctx, handle, recipientID, state, stage, cause.Error(), "")
}

func (r *run) failWith(ctx context.Context, handle, recipientID string, state State, stage domain.Stage, reason, message string) result {
	r.log.Warn("target failed", zap.String("handle", handle), zap.String("stage", string(stage)), zap.String("reason", reason))
	if err := r.recorder.Failed(ctx, handle, recipientID, stage, reason, message); err != nil {
		r.log.Error("recording failure", zap.String("handle", handle), zap.Error(err))
	}
	return result{state: state, step: stepFail, pause: pausePacing}
}

func (r *run) unexpected(ctx context.Context, handle string, cause error) result {
	r.log.Error("unexpected error", zap.String("handle", handle), zap.Error(cause))
	if err := r.recorder.Failed(ctx, handle, "", domain.StageUnexpected, cause.Error(), ""); err != nil {
		r.log.Error("recording failure", zap.String("handle", handle), zap.Error(err))
	}
	return result{state: StateFailedUnexpected, step: stepFail, pause: pauseCooldown}
}

func (r *run) fatal(ctx context.Context, handle, recipientID string, stage domain.Stage, cause error) result {
	if err := r.recorder.Failed(ctx, handle, recipientID, stage, cause.Error(), ""); err != nil {
		r.log.Error("recording failure", zap.String("handle", handle), zap.Error(err))
	}
	return result{
		state: StateAborted,
		step:  stepFatal,
		err:   &FatalCampaignError{Stage: string(stage), Handle: handle, Cause: cause},
	}
}

// canceled ends the run without writing a record for the in-flight target.
func canceled(handle string, cause error) result {
	return result{
		state: StateAborted,
		step:  stepFatal,
		err:   &FatalCampaignError{Stage: "canceled", Handle: handle, Cause: cause},
	}
}
