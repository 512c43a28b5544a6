package campaign

import (
	"context"
	"errors"
	"sync"
	"time"

	"outreach/internal/domain"
)

type memStore struct {
	mu      sync.Mutex
	records []domain.OutcomeRecord
	findErr error
	closed  bool
}

func (m *memStore) FindContacted(_ context.Context, recipient string) (*domain.OutcomeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for i := range m.records {
		if m.records[i].Recipient == recipient && m.records[i].Action == domain.ActionContacted {
			rec := m.records[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (m *memStore) Append(_ context.Context, rec domain.OutcomeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = int64(len(m.records) + 1)
	m.records = append(m.records, rec)
	return nil
}

func (m *memStore) RecentFailure(_ context.Context, recipient string, stage domain.Stage, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.Recipient == recipient && rec.Action == domain.ActionFailed && rec.Stage == stage &&
			rec.CreatedAt >= since.UnixMilli() {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) Close() error {
	m.closed = true
	return nil
}

func (m *memStore) byAction(action domain.Action) []domain.OutcomeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OutcomeRecord
	for _, rec := range m.records {
		if rec.Action == action {
			out = append(out, rec)
		}
	}
	return out
}

type fakeSession struct {
	sender string
	// resolveErrs are consumed one per Resolve call for the handle.
	resolveErrs map[string][]error
	sendErrs    map[string]error
	noID        map[string]bool
	resolves    map[string]int
	sent        []string
	closed      bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		sender:      "campaign_account",
		resolveErrs: map[string][]error{},
		sendErrs:    map[string]error{},
		noID:        map[string]bool{},
		resolves:    map[string]int{},
	}
}

func (f *fakeSession) Resolve(_ context.Context, handle string) (domain.RecipientIdentity, error) {
	f.resolves[handle]++
	if errs := f.resolveErrs[handle]; len(errs) > 0 {
		f.resolveErrs[handle] = errs[1:]
		if errs[0] != nil {
			return domain.RecipientIdentity{}, errs[0]
		}
	}
	if f.noID[handle] {
		return domain.RecipientIdentity{Handle: handle}, nil
	}
	return domain.RecipientIdentity{
		ID:      "id-" + handle,
		Handle:  handle,
		Profile: domain.ProfileSummary{FullName: "Name " + handle},
	}, nil
}

func (f *fakeSession) Send(_ context.Context, recipientID, _ string) error {
	if err, ok := f.sendErrs[recipientID]; ok {
		return err
	}
	f.sent = append(f.sent, recipientID)
	return nil
}

func (f *fakeSession) Sender() string { return f.sender }

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

type fakeGenerator struct {
	texts map[string]string
	errs  map[string]error
	panic map[string]bool
	calls []string
}

func (g *fakeGenerator) Generate(_ context.Context, handle string, _ domain.ProfileSummary, campaignContext string) (string, error) {
	g.calls = append(g.calls, handle)
	if g.panic[handle] {
		panic("generator blew up")
	}
	if err := g.errs[handle]; err != nil {
		return "", err
	}
	if text, ok := g.texts[handle]; ok {
		return text, nil
	}
	return "Hello " + handle + ", about " + campaignContext + ".", nil
}

type fakeDialer struct {
	store      *memStore
	session    *fakeSession
	storeErr   error
	sessionErr error
}

func (d *fakeDialer) DialStore(context.Context) (HistoryStore, error) {
	if d.storeErr != nil {
		return nil, d.storeErr
	}
	return d.store, nil
}

func (d *fakeDialer) DialSession(context.Context) (Session, error) {
	if d.sessionErr != nil {
		return nil, d.sessionErr
	}
	return d.session, nil
}

type sleepLog struct {
	waits []time.Duration
	err   error
}

func (s *sleepLog) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return s.err
}

type memSink struct{ published []domain.OutcomeRecord }

func (m *memSink) Publish(_ context.Context, rec domain.OutcomeRecord) error {
	m.published = append(m.published, rec)
	return nil
}

var errBoom = errors.New("boom")

func testSettings() Settings {
	return Settings{
		RunID:            "run-1",
		Context:          "our new course",
		BaseDelay:        90 * time.Second,
		JitterMin:        30 * time.Second,
		JitterMax:        90 * time.Second,
		SkipPauseMin:     time.Second,
		SkipPauseMax:     3 * time.Second,
		ErrorPauseMin:    5 * time.Second,
		ErrorPauseMax:    15 * time.Second,
		CooldownMin:      3 * time.Minute,
		CooldownMax:      5 * time.Minute,
		RateLimitWait:    5 * time.Minute,
		FailureWindow:    15 * time.Second,
		MinMessageLength: 10,
	}
}

func targets(handles ...string) []domain.TargetRecord {
	out := make([]domain.TargetRecord, 0, len(handles))
	for _, h := range handles {
		out = append(out, domain.TargetRecord{Handle: h})
	}
	return out
}
