package campaign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach/internal/domain"
)

type harness struct {
	store   *memStore
	session *fakeSession
	gen     *fakeGenerator
	sleeps  *sleepLog
	sink    *memSink
	orch    *Orchestrator
}

func newHarness() *harness {
	h := &harness{
		store:   &memStore{},
		session: newFakeSession(),
		gen:     &fakeGenerator{texts: map[string]string{}, errs: map[string]error{}, panic: map[string]bool{}},
		sleeps:  &sleepLog{},
		sink:    &memSink{},
	}
	h.orch = &Orchestrator{
		Dialer:    &fakeDialer{store: h.store, session: h.session},
		Generator: h.gen,
		Sink:      h.sink,
		Sleep:     h.sleeps.sleep,
	}
	return h
}

func (h *harness) run(t *testing.T, s Settings, handles ...string) (domain.RunSummary, error) {
	t.Helper()
	return h.orch.Run(context.Background(), s, targets(handles...))
}

func assertAccounting(t *testing.T, s domain.RunSummary) {
	t.Helper()
	assert.Equal(t, s.Attempted, s.Sent+s.Failed+s.Skipped, "attempted must equal sent+failed+skipped")
}

func TestRunSkipsPreviouslyContacted(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.store.Append(context.Background(), domain.OutcomeRecord{
		Action: domain.ActionContacted, Recipient: "bob", Timestamp: "2024-01-01 10:00:00",
	}))

	sum, err := h.run(t, testSettings(), "alice", "bob", "carol")
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Available)
	assert.Equal(t, 3, sum.Attempted)
	assert.Equal(t, 2, sum.Sent)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 0, sum.Failed)
	assert.False(t, sum.Aborted)
	assertAccounting(t, sum)

	contacted := h.store.byAction(domain.ActionContacted)
	require.Len(t, contacted, 3)
	assert.Equal(t, "alice", contacted[1].Recipient)
	assert.Equal(t, "carol", contacted[2].Recipient)
	assert.Equal(t, "campaign_account", contacted[1].Sender)
	assert.Equal(t, "run-1", contacted[1].RunID)
	_, perr := time.ParseInLocation(domain.TimestampLayout, contacted[1].Timestamp, time.Local)
	assert.NoError(t, perr)

	assert.Equal(t, []string{"id-alice", "id-carol"}, h.session.sent)
	assert.Equal(t, []string{"alice", "carol"}, h.gen.calls)
	assert.Len(t, h.sink.published, 2)

	// One pacing wait after alice, one short wait after bob, nothing after carol.
	require.Len(t, h.sleeps.waits, 2)
	assert.GreaterOrEqual(t, h.sleeps.waits[0], 120*time.Second)
	assert.LessOrEqual(t, h.sleeps.waits[0], 180*time.Second)
	assert.GreaterOrEqual(t, h.sleeps.waits[1], time.Second)
	assert.LessOrEqual(t, h.sleeps.waits[1], 3*time.Second)

	assert.True(t, h.store.closed)
	assert.True(t, h.session.closed)
}

func TestRunRetriesRateLimitedResolveOnce(t *testing.T) {
	h := newHarness()
	h.session.resolveErrs["x"] = []error{&ServiceError{Kind: KindRateLimited, Op: "resolve"}}

	sum, err := h.run(t, testSettings(), "x")
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, 2, h.session.resolves["x"])
	require.Len(t, h.sleeps.waits, 1)
	assert.Equal(t, 5*time.Minute, h.sleeps.waits[0])
	assertAccounting(t, sum)
}

func TestRunRateLimitWaitIsAFloor(t *testing.T) {
	h := newHarness()
	h.session.resolveErrs["x"] = []error{&ServiceError{Kind: KindRateLimited, RetryAfter: 42 * time.Second}}
	h.session.resolveErrs["y"] = []error{&ServiceError{Kind: KindRateLimited, RetryAfter: 7 * time.Minute}}

	_, err := h.run(t, testSettings(), "x", "y")
	require.NoError(t, err)
	require.Len(t, h.sleeps.waits, 3)
	assert.Equal(t, 5*time.Minute, h.sleeps.waits[0])
	assert.Equal(t, 7*time.Minute, h.sleeps.waits[2])
}

func TestRunFailsResolveAfterSecondRateLimit(t *testing.T) {
	h := newHarness()
	rl := &ServiceError{Kind: KindRateLimited}
	h.session.resolveErrs["x"] = []error{rl, rl}

	sum, err := h.run(t, testSettings(), "x")
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 2, h.session.resolves["x"])
	failed := h.store.byAction(domain.ActionFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, domain.StageSearch, failed[0].Stage)
	assert.Empty(t, h.session.sent)
}

func TestRunAbortsOnChallengeDuringSend(t *testing.T) {
	h := newHarness()
	h.session.sendErrs["id-b"] = &ServiceError{Kind: KindChallengeRequired, Op: "send"}

	sum, err := h.run(t, testSettings(), "a", "b", "c")
	require.Error(t, err)

	var fatal *FatalCampaignError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, "send", fatal.Stage)
	assert.Equal(t, "b", fatal.Handle)
	assert.True(t, fatal.Remote())

	assert.Equal(t, 2, sum.Attempted)
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, 1, sum.Failed)
	assert.True(t, sum.Aborted)
	assert.NotEmpty(t, sum.FatalCause)
	assertAccounting(t, sum)

	assert.NotContains(t, h.gen.calls, "c")
	failed := h.store.byAction(domain.ActionFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].Recipient)
	assert.Equal(t, domain.StageSend, failed[0].Stage)
	assert.True(t, h.store.closed)
	assert.True(t, h.session.closed)
}

func TestRunStopsOnChallengeDuringResolve(t *testing.T) {
	h := newHarness()
	h.session.resolveErrs["b"] = []error{&ServiceError{Kind: KindChallengeRequired, Op: "resolve"}}

	sum, err := h.run(t, testSettings(), "a", "b", "c", "d")
	var fatal *FatalCampaignError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "search", fatal.Stage)
	assert.Equal(t, "b", fatal.Handle)

	assert.Equal(t, 4, sum.Available)
	assert.Equal(t, 2, sum.Attempted)
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, 1, sum.Failed)
	assert.True(t, sum.Aborted)
	assertAccounting(t, sum)

	assert.Zero(t, h.session.resolves["c"])
	assert.Zero(t, h.session.resolves["d"])
	assert.Equal(t, []string{"id-a"}, h.session.sent)
	failed := h.store.byAction(domain.ActionFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, domain.StageSearch, failed[0].Stage)
	// Only the pacing wait after a; nothing after the fatal target.
	assert.Len(t, h.sleeps.waits, 1)
}

func TestRunAbortsOnInvalidSessionDuringResolve(t *testing.T) {
	h := newHarness()
	h.session.resolveErrs["a"] = []error{&ServiceError{Kind: KindSessionInvalid}}

	sum, err := h.run(t, testSettings(), "a", "b")
	var fatal *FatalCampaignError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "search", fatal.Stage)
	assert.Equal(t, 1, sum.Attempted)
	assert.Equal(t, 1, sum.Failed)
	assert.Empty(t, h.sleeps.waits)
}

func TestRunFallbackTextIsAFailure(t *testing.T) {
	h := newHarness()
	h.gen.texts["y"] = domain.FallbackMessage

	sum, err := h.run(t, testSettings(), "y")
	require.NoError(t, err)

	assert.Equal(t, 0, sum.Sent)
	assert.Equal(t, 1, sum.Failed)
	assert.Empty(t, h.session.sent)
	failed := h.store.byAction(domain.ActionFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, domain.StageAI, failed[0].Stage)
	assert.Empty(t, h.store.byAction(domain.ActionContacted))
}

func TestRunShortTextIsAFailure(t *testing.T) {
	h := newHarness()
	h.gen.texts["y"] = "  hi  "

	sum, err := h.run(t, testSettings(), "y")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Empty(t, h.session.sent)
}

func TestRunGeneratorErrorRecordsAIStage(t *testing.T) {
	h := newHarness()
	h.gen.errs["y"] = errBoom

	sum, err := h.run(t, testSettings(), "y", "z")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Sent)
	failed := h.store.byAction(domain.ActionFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, domain.StageAI, failed[0].Stage)
	assert.Equal(t, "boom", failed[0].Reason)
}

func TestRunIsIdempotent(t *testing.T) {
	h := newHarness()
	first, err := h.run(t, testSettings(), "a", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, 3, first.Sent)

	h.session.sent = nil
	second, err := h.run(t, testSettings(), "a", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Sent)
	assert.Equal(t, 3, second.Skipped)
	assert.Empty(t, h.session.sent)
	assert.Len(t, h.store.byAction(domain.ActionContacted), 3)
}

func TestRunRespectsMaxMessages(t *testing.T) {
	h := newHarness()
	s := testSettings()
	s.MaxMessages = 2

	sum, err := h.run(t, s, "a", "b", "c", "d")
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Available)
	assert.Equal(t, 2, sum.Attempted)
	assert.Equal(t, 2, sum.Sent)
	assert.Len(t, h.sleeps.waits, 1)
}

func TestRunSkipsEmptyHandleWithoutPause(t *testing.T) {
	h := newHarness()

	sum, err := h.run(t, testSettings(), "  @ ", "a")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Sent)
	assert.Empty(t, h.sleeps.waits)
	assert.Len(t, h.store.records, 1)
}

func TestRunNormalizesHandles(t *testing.T) {
	h := newHarness()
	_, err := h.run(t, testSettings(), " @alice ")
	require.NoError(t, err)
	contacted := h.store.byAction(domain.ActionContacted)
	require.Len(t, contacted, 1)
	assert.Equal(t, "alice", contacted[0].Recipient)
}

func TestRunUnexpectedErrorCoolsDown(t *testing.T) {
	h := newHarness()
	h.session.resolveErrs["a"] = []error{errBoom}

	sum, err := h.run(t, testSettings(), "a", "b")
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Sent)
	failed := h.store.byAction(domain.ActionFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, domain.StageUnexpected, failed[0].Stage)
	require.Len(t, h.sleeps.waits, 1)
	assert.GreaterOrEqual(t, h.sleeps.waits[0], 3*time.Minute)
	assert.LessOrEqual(t, h.sleeps.waits[0], 5*time.Minute)
}

func TestRunRecoversFromPanic(t *testing.T) {
	h := newHarness()
	h.gen.panic["a"] = true

	sum, err := h.run(t, testSettings(), "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Sent)
	failed := h.store.byAction(domain.ActionFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, domain.StageUnexpected, failed[0].Stage)
	assert.Contains(t, failed[0].Reason, "generator blew up")
}

func TestRunNotFoundFailsWithoutStopping(t *testing.T) {
	h := newHarness()
	h.session.resolveErrs["ghost"] = []error{&ServiceError{Kind: KindNotFound}}
	h.session.noID["blank"] = true

	sum, err := h.run(t, testSettings(), "ghost", "blank", "real")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, 1, sum.Sent)
	assert.Len(t, h.sleeps.waits, 2)
	assertAccounting(t, sum)
}

func TestRunUnknownSendErrorWaitsShortJitter(t *testing.T) {
	h := newHarness()
	h.session.sendErrs["id-a"] = &ServiceError{Kind: KindUnknown, Op: "send"}

	sum, err := h.run(t, testSettings(), "a")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	require.Len(t, h.sleeps.waits, 1)
	assert.GreaterOrEqual(t, h.sleeps.waits[0], 5*time.Second)
	assert.LessOrEqual(t, h.sleeps.waits[0], 15*time.Second)
	failed := h.store.byAction(domain.ActionFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, domain.StageSend, failed[0].Stage)
	assert.NotEmpty(t, failed[0].Message)
}

func TestRunDedupLookupErrorIsNotFatal(t *testing.T) {
	h := newHarness()
	h.store.findErr = errBoom

	sum, err := h.run(t, testSettings(), "a")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)
}

func TestRunSetupFailure(t *testing.T) {
	h := newHarness()
	h.orch.Dialer = &fakeDialer{storeErr: errBoom}

	sum, err := h.run(t, testSettings(), "a")
	var fatal *FatalCampaignError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "setup", fatal.Stage)
	var perr *PersistenceError
	assert.ErrorAs(t, err, &perr)
	assert.Equal(t, 0, sum.Attempted)
	assert.True(t, sum.Aborted)
	assert.Empty(t, h.gen.calls)
}

func TestRunSessionSetupFailureClosesStore(t *testing.T) {
	h := newHarness()
	h.orch.Dialer = &fakeDialer{store: h.store, sessionErr: &ServiceError{Kind: KindSessionInvalid}}

	_, err := h.run(t, testSettings(), "a")
	var fatal *FatalCampaignError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "setup", fatal.Stage)
	assert.True(t, h.store.closed)
}

func TestRunStopsWhenContextCanceled(t *testing.T) {
	h := newHarness()
	h.sleeps.err = context.Canceled

	sum, err := h.run(t, testSettings(), "a", "b")
	var fatal *FatalCampaignError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "canceled", fatal.Stage)
	assert.False(t, fatal.Remote())
	assert.Equal(t, 1, sum.Attempted)
	assert.Equal(t, 1, sum.Sent)
}

func TestRunEmptyTargetList(t *testing.T) {
	h := newHarness()
	sum, err := h.run(t, testSettings())
	require.NoError(t, err)
	assert.Equal(t, domain.RunSummary{RunID: "run-1", DurationMs: sum.DurationMs}, sum)
	assert.Empty(t, h.sleeps.waits)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "skipped_duplicate", StateSkippedDuplicate.String())
	assert.Equal(t, "aborted", StateAborted.String())
	assert.Equal(t, "unknown", State(99).String())
}
