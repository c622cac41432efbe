package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxzi/outreach/internal/followup"
	"github.com/foxzi/outreach/internal/metrics"
)

// ErrBusy is returned by RunOnce while another run of the same loop is in progress
var ErrBusy = errors.New("loop run already in progress")

// LoopStatus describes the last runs of a loop
type LoopStatus struct {
	Name         string        `json:"name"`
	Interval     time.Duration `json:"interval"`
	Running      bool          `json:"running"`
	Runs         int64         `json:"runs"`
	LastRun      time.Time     `json:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
}

// loop is the ticker plumbing shared by both loops
type loop struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
	logger   *slog.Logger

	runMu    sync.Mutex // held for the duration of one run
	statusMu sync.Mutex
	status   LoopStatus

	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newLoop(name string, interval time.Duration, run func(ctx context.Context) error, logger *slog.Logger) *loop {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &loop{
		name:     name,
		interval: interval,
		run:      run,
		logger:   logger.With("loop", name),
		status:   LoopStatus{Name: name, Interval: interval},
		stopCh:   make(chan struct{}),
	}
}

// start runs the loop until Stop or ctx is done
func (l *loop) start(ctx context.Context) {
	l.logger.Info("starting loop", "interval", l.interval)

	// Cancelled on stop; sends already past their quota check finish regardless
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()

		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		l.do(runCtx, l.run)
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopCh:
				return
			case <-ticker.C:
				l.do(runCtx, l.run)
			}
		}
	}()
}

func (l *loop) stop() {
	l.stopOnce.Do(func() {
		l.logger.Info("stopping loop")
		close(l.stopCh)
		if l.cancel != nil {
			l.cancel()
		}
	})
	l.wg.Wait()
}

// do executes fn as one run of the loop, refusing to overlap another run
func (l *loop) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !l.runMu.TryLock() {
		return ErrBusy
	}
	defer l.runMu.Unlock()

	l.setRunning(true)
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	metrics.ObserveLoop(l.name, elapsed.Seconds())

	l.statusMu.Lock()
	l.status.Running = false
	l.status.Runs++
	l.status.LastRun = start
	l.status.LastDuration = elapsed
	l.status.LastError = ""
	if err != nil {
		l.status.LastError = err.Error()
	}
	l.statusMu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		l.logger.Error("loop run failed", "error", err)
	}
	return err
}

func (l *loop) setRunning(v bool) {
	l.statusMu.Lock()
	l.status.Running = v
	l.statusMu.Unlock()
}

func (l *loop) snapshot() LoopStatus {
	l.statusMu.Lock()
	defer l.statusMu.Unlock()
	return l.status
}

// InboundConfig configures the inbound loop
type InboundConfig struct {
	Interval time.Duration
	Folder   string
	// Providers are the mailboxes to poll
	Providers []string
}

// InboundReport counts outcomes of one inbound run
type InboundReport struct {
	Fetched  int
	Outcomes map[InboundOutcome]int
}

// InboundLoop polls provider mailboxes and hands each message to the engine.
// Providers are polled concurrently; messages of one provider sequentially.
type InboundLoop struct {
	engine *Engine
	cfg    InboundConfig
	logger *slog.Logger
	loop   *loop
}

// NewInboundLoop creates the inbound loop
func NewInboundLoop(engine *Engine, cfg InboundConfig, logger *slog.Logger) *InboundLoop {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	l := &InboundLoop{
		engine: engine,
		cfg:    cfg,
		logger: logger.With("component", "inbound_loop"),
	}
	l.loop = newLoop("inbound", cfg.Interval, func(ctx context.Context) error {
		_, err := l.scan(ctx)
		return err
	}, logger)
	return l
}

// Start begins polling
func (l *InboundLoop) Start(ctx context.Context) { l.loop.start(ctx) }

// Stop waits for the current run to finish and stops polling
func (l *InboundLoop) Stop() { l.loop.stop() }

// Status returns loop statistics
func (l *InboundLoop) Status() LoopStatus { return l.loop.snapshot() }

// RunOnce polls every provider once
func (l *InboundLoop) RunOnce(ctx context.Context) (*InboundReport, error) {
	var report *InboundReport
	err := l.loop.do(ctx, func(ctx context.Context) error {
		var err error
		report, err = l.scan(ctx)
		return err
	})
	return report, err
}

// scan fetches every provider once. A fetch drains the mailbox, so a fetched
// batch is always handled to the end even if ctx is cancelled meanwhile;
// cancellation only prevents new fetches.
func (l *InboundLoop) scan(ctx context.Context) (*InboundReport, error) {
	report := &InboundReport{Outcomes: make(map[InboundOutcome]int)}
	var mu sync.Mutex
	var wg sync.WaitGroup
	var skipped atomic.Bool

	for _, provider := range l.cfg.Providers {
		wg.Add(1)
		go func(provider string) {
			defer wg.Done()
			logger := l.logger.With("provider", provider)

			if ctx.Err() != nil {
				skipped.Store(true)
				return
			}
			msgs, err := l.engine.Transport.FetchNew(ctx, provider, l.cfg.Folder)
			if err != nil {
				logger.Error("failed to fetch messages", "error", err)
				return
			}
			if len(msgs) > 0 {
				logger.Debug("fetched messages", "count", len(msgs))
			}

			work := context.WithoutCancel(ctx)
			for i := range msgs {
				msg := &msgs[i]
				if msg.ProviderID == "" {
					msg.ProviderID = provider
				}
				outcome, err := l.engine.HandleInbound(work, msg)
				if err != nil {
					logger.Warn("inbound message failed",
						"message_id", msg.MessageID,
						"outcome", outcome,
						"error", err,
					)
				}
				mu.Lock()
				report.Fetched++
				report.Outcomes[outcome]++
				mu.Unlock()
			}
		}(provider)
	}
	wg.Wait()

	if skipped.Load() {
		return report, ctx.Err()
	}
	return report, nil
}

// FollowUpLoop periodically scans active prospects for due touches
type FollowUpLoop struct {
	runner *followup.Runner
	loop   *loop
}

// NewFollowUpLoop creates the follow-up loop
func NewFollowUpLoop(runner *followup.Runner, interval time.Duration, logger *slog.Logger) *FollowUpLoop {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	l := &FollowUpLoop{runner: runner}
	l.loop = newLoop("followup", interval, func(ctx context.Context) error {
		_, err := runner.Scan(ctx)
		return err
	}, logger)
	return l
}

// Start begins scanning
func (l *FollowUpLoop) Start(ctx context.Context) { l.loop.start(ctx) }

// Stop waits for the current scan to finish and stops scanning
func (l *FollowUpLoop) Stop() { l.loop.stop() }

// Status returns loop statistics
func (l *FollowUpLoop) Status() LoopStatus { return l.loop.snapshot() }

// RunOnce performs a single scan
func (l *FollowUpLoop) RunOnce(ctx context.Context) (*followup.ScanReport, error) {
	var report *followup.ScanReport
	err := l.loop.do(ctx, func(ctx context.Context) error {
		var err error
		report, err = l.runner.Scan(ctx)
		return err
	})
	return report, err
}
