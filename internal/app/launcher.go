package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"outreach/internal/campaign"
	"outreach/internal/config"
	"outreach/internal/domain"
	"outreach/internal/events"
	"outreach/internal/generator"
	"outreach/internal/notify"
	"outreach/internal/repo"
)

// ErrRunActive is returned when a launch is requested while a run is active.
var ErrRunActive = errors.New("a campaign is already running")

// Request describes one launch.
type Request struct {
	Config    *config.Config
	Targets   []domain.TargetRecord
	InputName string
	// UploadPath is removed once the run ends.
	UploadPath string
}

// Active describes the run in progress.
type Active struct {
	RunID     string `json:"run_id"`
	InputName string `json:"input_name,omitempty"`
	Available int    `json:"available"`
	StartedAt string `json:"started_at" format:"date-time"`
}

// Launcher runs at most one campaign at a time and keeps the runs/events
// bookkeeping in the workspace database.
type Launcher struct {
	Store  *repo.Store
	Logger *zap.Logger
	Now    func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error

	// Hooks for tests; nil uses the real implementations.
	NewDialer    func(cfg *config.Config) campaign.Dialer
	NewGenerator func(ctx context.Context, cfg *config.Config) (campaign.ContentGenerator, error)
	NewSink      func(ctx context.Context, cfg *config.Config) (campaign.OutcomeSink, func(), error)

	mu     sync.Mutex
	active *Active
	wg     sync.WaitGroup
}

func (l *Launcher) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

func (l *Launcher) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Current reports the active run, if any.
func (l *Launcher) Current() (Active, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == nil {
		return Active{}, false
	}
	return *l.active, true
}

// Wait blocks until a run started with Start has finished.
func (l *Launcher) Wait() { l.wg.Wait() }

// Start begins a run in the background. ctx must outlive the request that
// triggered the launch; cancelling it stops the run.
func (l *Launcher) Start(ctx context.Context, req Request) (domain.Run, error) {
	run, err := l.begin(ctx, req)
	if err != nil {
		return domain.Run{}, err
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.execute(ctx, run, req)
	}()
	return run, nil
}

// RunSync runs a campaign in the calling goroutine.
func (l *Launcher) RunSync(ctx context.Context, req Request) (domain.RunSummary, error) {
	run, err := l.begin(ctx, req)
	if err != nil {
		return domain.RunSummary{RunID: run.ID}, err
	}
	return l.execute(ctx, run, req)
}

func (l *Launcher) begin(ctx context.Context, req Request) (domain.Run, error) {
	if req.Config == nil {
		return domain.Run{}, fmt.Errorf("config is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active != nil {
		return domain.Run{}, ErrRunActive
	}
	run := domain.Run{
		ID:        uuid.NewString(),
		Status:    "running",
		InputName: req.InputName,
		Context:   req.Config.Campaign.Context,
		StartedAt: l.now().UTC().Format(time.RFC3339),
	}
	run.Summary = domain.RunSummary{RunID: run.ID, Available: len(req.Targets)}
	w := events.Writer{Now: l.Now}
	err := l.Store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := l.Store.InsertRun(ctx, tx, run); err != nil {
			return err
		}
		return w.Append(ctx, tx, events.CampaignStarted, run.ID, events.EventPayload{
			"available":    len(req.Targets),
			"input":        req.InputName,
			"max_messages": req.Config.Campaign.MaxMessages,
		})
	})
	if err != nil {
		return domain.Run{}, fmt.Errorf("record run start: %w", err)
	}
	l.active = &Active{RunID: run.ID, InputName: req.InputName, Available: len(req.Targets), StartedAt: run.StartedAt}
	return run, nil
}

func (l *Launcher) execute(ctx context.Context, run domain.Run, req Request) (domain.RunSummary, error) {
	log := l.logger().With(zap.String("run_id", run.ID))
	defer func() {
		if req.UploadPath != "" {
			if err := os.Remove(req.UploadPath); err != nil && !os.IsNotExist(err) {
				log.Warn("removing uploaded list", zap.String("path", req.UploadPath), zap.Error(err))
			}
		}
		l.mu.Lock()
		l.active = nil
		l.mu.Unlock()
	}()

	summary, err := l.orchestrate(ctx, log, run, req)
	if summary.RunID == "" {
		summary.RunID = run.ID
		summary.Available = len(req.Targets)
	}
	l.finish(log, run.ID, summary, err)
	return summary, err
}

func (l *Launcher) orchestrate(ctx context.Context, log *zap.Logger, run domain.Run, req Request) (domain.RunSummary, error) {
	cfg := req.Config
	gen, err := l.generator(ctx, cfg, log)
	if err != nil {
		return domain.RunSummary{}, &campaign.FatalCampaignError{Stage: "setup", Cause: err}
	}
	sink, closeSink, err := l.sink(ctx, cfg, log)
	if err != nil {
		return domain.RunSummary{}, &campaign.FatalCampaignError{Stage: "setup", Cause: err}
	}
	defer closeSink()

	var dialer campaign.Dialer = Dialer{Config: cfg, Logger: log}
	if l.NewDialer != nil {
		dialer = l.NewDialer(cfg)
	}
	orch := &campaign.Orchestrator{
		Dialer:    dialer,
		Generator: gen,
		Sink:      sink,
		Sleep:     l.Sleep,
		Now:       l.Now,
		Logger:    log,
	}
	return orch.Run(ctx, campaign.SettingsFrom(cfg, run.ID), req.Targets)
}

func (l *Launcher) generator(ctx context.Context, cfg *config.Config, log *zap.Logger) (campaign.ContentGenerator, error) {
	if l.NewGenerator != nil {
		return l.NewGenerator(ctx, cfg)
	}
	return generator.New(ctx, cfg.Generator.Provider, generator.OptionsFrom(cfg, log))
}

func (l *Launcher) sink(ctx context.Context, cfg *config.Config, log *zap.Logger) (campaign.OutcomeSink, func(), error) {
	if l.NewSink != nil {
		return l.NewSink(ctx, cfg)
	}
	ps := cfg.Notify.PubSub
	if ps.Topic == "" {
		return nil, func() {}, nil
	}
	var opts []option.ClientOption
	if ps.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(ps.CredentialsFile))
	}
	s, err := notify.NewPubSubSink(ctx, ps.ProjectID, ps.Topic, log, opts...)
	if err != nil {
		return nil, nil, err
	}
	return s, func() {
		if err := s.Close(); err != nil {
			log.Warn("closing pubsub sink", zap.Error(err))
		}
	}, nil
}

// finish writes the terminal status. It uses a fresh context so a cancelled
// run is still recorded.
func (l *Launcher) finish(log *zap.Logger, runID string, summary domain.RunSummary, runErr error) {
	status, evt := RunStatus(runErr)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	w := events.Writer{Now: l.Now}
	err := l.Store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := l.Store.FinishRun(ctx, tx, runID, status, l.now().UTC().Format(time.RFC3339), summary); err != nil {
			return err
		}
		payload := events.EventPayload{
			"sent":      summary.Sent,
			"failed":    summary.Failed,
			"skipped":   summary.Skipped,
			"attempted": summary.Attempted,
		}
		if runErr != nil {
			payload["cause"] = runErr.Error()
		}
		return w.Append(ctx, tx, evt, runID, payload)
	})
	if err != nil {
		log.Error("recording run end", zap.Error(err))
	}
}

// RunStatus maps a run error to the stored status and lifecycle event.
func RunStatus(err error) (string, string) {
	if err == nil {
		return "completed", events.CampaignCompleted
	}
	var fatal *campaign.FatalCampaignError
	if errors.As(err, &fatal) && fatal.Stage == "setup" {
		return "failed", events.CampaignAborted
	}
	return "aborted", events.CampaignAborted
}
