package followup

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/foxzi/outreach/internal/catalog"
	"github.com/foxzi/outreach/internal/mail"
	"github.com/foxzi/outreach/internal/models"
	"github.com/foxzi/outreach/internal/ratelimit"
	"github.com/foxzi/outreach/internal/storage"
)

type fakeTransport struct {
	mu    sync.Mutex
	sent  []*mail.Outbound
	err   error
	delay time.Duration
}

func (f *fakeTransport) Send(ctx context.Context, msg *mail.Outbound) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("<sent-%d@test>", len(f.sent)), nil
}

func (f *fakeTransport) FetchNew(ctx context.Context, providerID, folder string) ([]models.RawMessage, error) {
	return nil, nil
}

func (f *fakeTransport) Sent() []*mail.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mail.Outbound(nil), f.sent...)
}

func (f *fakeTransport) SetErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type env struct {
	store     *storage.BoltStore
	catalog   *catalog.Catalog
	limiter   *ratelimit.Limiter
	transport *fakeTransport
	clock     *testClock
	runner    *Runner
}

func newEnv(t *testing.T, followUp models.FollowUpConfig, limits *ratelimit.Config) *env {
	t.Helper()

	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "outreach.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clock := &testClock{now: time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)}

	if limits == nil {
		limits = &ratelimit.Config{DefaultProvider: &ratelimit.LimitConfig{}}
	}
	limits.FlushInterval = time.Hour
	limiter, err := ratelimit.NewLimiter(store.DB(), limits, ratelimit.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}
	t.Cleanup(func() { limiter.Stop() })

	cat, err := catalog.New(
		[]models.Campaign{{ID: "c1", Name: "Spring", FromName: "Alex", FollowUp: followUp}},
		[]models.Template{
			{ID: "fu1", Subject: "Checking in", Body: "Hi {{first_name}}, following up on {{original_subject}}. {{sender_name}}"},
			{ID: "fu2", Subject: "Last note", Body: "Hi {{first_name}}, one last note."},
		},
		nil, nil,
	)
	if err != nil {
		t.Fatalf("failed to build catalog: %v", err)
	}

	transport := &fakeTransport{}
	return &env{
		store:     store,
		catalog:   cat,
		limiter:   limiter,
		transport: transport,
		clock:     clock,
		runner:    NewRunner(store, cat, limiter, transport, Options{Clock: clock.Now}),
	}
}

func defaultFollowUp() models.FollowUpConfig {
	return models.FollowUpConfig{
		Enabled:          true,
		ScheduleType:     models.ScheduleInterval,
		Intervals:        []int{3, 7, 14},
		MaxFollowUps:     3,
		TemplateSequence: []string{"fu1", "fu2"},
	}
}

// addProspect stores a prospect whose campaign email went out daysAgo
func (e *env) addProspect(t *testing.T, email string, daysAgo int) *models.Prospect {
	t.Helper()
	ctx := context.Background()

	contacted := e.clock.Now().Add(-time.Duration(daysAgo) * 24 * time.Hour)
	p := &models.Prospect{
		CampaignID:  "c1",
		Email:       email,
		FirstName:   "Dana",
		ProviderID:  "gmail-1",
		LastContact: &contacted,
	}
	if err := e.store.CreateProspect(ctx, p); err != nil {
		t.Fatalf("CreateProspect failed: %v", err)
	}

	thread, err := e.store.GetOrCreateThread(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetOrCreateThread failed: %v", err)
	}
	err = e.store.AppendMessage(ctx, thread.ID, &models.Message{
		Direction:     models.DirectionSent,
		Subject:       "Quick question",
		Content:       "Hello",
		Timestamp:     contacted,
		ProviderID:    "gmail-1",
		ProviderMsgID: "<orig-" + p.ID + "@test>",
	})
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	return p
}

func (e *env) reload(t *testing.T, id string) *models.Prospect {
	t.Helper()
	p, err := e.store.GetProspect(context.Background(), id)
	if err != nil {
		t.Fatalf("GetProspect failed: %v", err)
	}
	return p
}

func (e *env) process(t *testing.T, id string) Outcome {
	t.Helper()
	outcome, err := e.runner.Process(context.Background(), e.reload(t, id))
	if err != nil && outcome != OutcomeFailed {
		t.Fatalf("Process failed: %v", err)
	}
	return outcome
}

func TestRunnerIntervalSequence(t *testing.T) {
	e := newEnv(t, defaultFollowUp(), nil)
	p := e.addProspect(t, "dana@example.com", 4)

	if got := e.process(t, p.ID); got != OutcomeSent {
		t.Fatalf("first touch = %s, want sent", got)
	}

	sent := e.transport.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	first := sent[0]
	if first.Subject != "Quick question" {
		t.Errorf("first touch subject = %q, want original subject", first.Subject)
	}
	if first.InReplyTo != "<orig-"+p.ID+"@test>" {
		t.Errorf("InReplyTo = %q", first.InReplyTo)
	}
	if first.Body != "Hi Dana, following up on Quick question. Alex" {
		t.Errorf("Body = %q", first.Body)
	}
	if first.To != "dana@example.com" || first.ProviderID != "gmail-1" {
		t.Errorf("routing = %s via %s", first.To, first.ProviderID)
	}

	stored := e.reload(t, p.ID)
	if stored.FollowUpCount != 1 || stored.LastFollowUp == nil || !stored.LastFollowUp.Equal(e.clock.Now()) {
		t.Errorf("prospect after touch = count %d last %v", stored.FollowUpCount, stored.LastFollowUp)
	}

	// Second touch waits 7 days from the first
	e.clock.Advance(6 * 24 * time.Hour)
	if got := e.process(t, p.ID); got != OutcomeWaiting {
		t.Fatalf("day 6 = %s, want waiting", got)
	}
	e.clock.Advance(24 * time.Hour)
	if got := e.process(t, p.ID); got != OutcomeSent {
		t.Fatalf("day 7 = %s, want sent", got)
	}

	second := e.transport.Sent()[1]
	if second.Subject != "Re: Quick question" {
		t.Errorf("second touch subject = %q", second.Subject)
	}
	if second.InReplyTo != "<sent-1@test>" {
		t.Errorf("second InReplyTo = %q, want previous touch", second.InReplyTo)
	}
	if len(second.References) != 2 {
		t.Errorf("References = %v, want 2 entries", second.References)
	}
	if second.Body != "Hi Dana, one last note." {
		t.Errorf("second Body = %q", second.Body)
	}

	thread, err := e.store.GetThreadByProspect(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetThreadByProspect failed: %v", err)
	}
	if len(thread.Messages) != 3 {
		t.Fatalf("thread has %d messages, want 3", len(thread.Messages))
	}
	for i, seq := range []int{1, 2} {
		m := thread.Messages[i+1]
		if !m.IsFollowUp || m.FollowUpSequence != seq || m.ThreadID != thread.ID {
			t.Errorf("message %d = %+v", i+1, m)
		}
	}
}

func TestRunnerCompletesAtBudget(t *testing.T) {
	cfg := defaultFollowUp()
	cfg.Intervals = []int{3}
	cfg.MaxFollowUps = 1
	e := newEnv(t, cfg, nil)
	p := e.addProspect(t, "dana@example.com", 4)

	if got := e.process(t, p.ID); got != OutcomeSent {
		t.Fatalf("touch = %s, want sent", got)
	}
	if got := e.reload(t, p.ID).FollowUpStatus; got != models.FollowUpCompleted {
		t.Errorf("status = %s, want completed", got)
	}

	e.clock.Advance(30 * 24 * time.Hour)
	if got := e.process(t, p.ID); got != OutcomeSkipped {
		t.Errorf("after completion = %s, want skipped", got)
	}
	if n := len(e.transport.Sent()); n != 1 {
		t.Errorf("sent %d messages, want 1", n)
	}
}

func TestRunnerBudgetReachedWhileActive(t *testing.T) {
	e := newEnv(t, defaultFollowUp(), nil)
	p := e.addProspect(t, "dana@example.com", 30)
	_, err := e.store.UpdateProspect(context.Background(), p.ID, func(p *models.Prospect) error {
		p.FollowUpCount = 3
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateProspect failed: %v", err)
	}

	if got := e.process(t, p.ID); got != OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", got)
	}
	stored := e.reload(t, p.ID)
	if stored.FollowUpStatus != models.FollowUpCompleted || stored.StopReason == "" {
		t.Errorf("prospect = %s (%q)", stored.FollowUpStatus, stored.StopReason)
	}
}

func TestRunnerGenuineReplyStops(t *testing.T) {
	e := newEnv(t, defaultFollowUp(), nil)
	p := e.addProspect(t, "dana@example.com", 4)

	_, err := e.store.UpdateProspect(context.Background(), p.ID, func(p *models.Prospect) error {
		now := e.clock.Now()
		p.RespondedAt = &now
		p.ResponseType = models.ResponseManual
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateProspect failed: %v", err)
	}

	if got := e.process(t, p.ID); got != OutcomeStopped {
		t.Fatalf("outcome = %s, want stopped", got)
	}
	if got := e.reload(t, p.ID).FollowUpStatus; got != models.FollowUpStopped {
		t.Errorf("status = %s, want stopped", got)
	}
	if got := e.process(t, p.ID); got != OutcomeSkipped {
		t.Errorf("second pass = %s, want skipped", got)
	}
	if n := len(e.transport.Sent()); n != 0 {
		t.Errorf("sent %d messages after reply", n)
	}
}

func TestRunnerStaleSnapshotDoesNotResend(t *testing.T) {
	e := newEnv(t, defaultFollowUp(), nil)
	p := e.addProspect(t, "dana@example.com", 4)
	snapshot := e.reload(t, p.ID)

	if got := e.process(t, p.ID); got != OutcomeSent {
		t.Fatalf("first = %s, want sent", got)
	}
	// A scan that loaded the prospect before the send still sees count 0
	got, err := e.runner.Process(context.Background(), snapshot)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if got != OutcomeDuplicate {
		t.Errorf("stale snapshot = %s, want duplicate", got)
	}
	if n := len(e.transport.Sent()); n != 1 {
		t.Errorf("sent %d messages, want 1", n)
	}
}

func TestRunnerConcurrentProcessSendsOnce(t *testing.T) {
	e := newEnv(t, defaultFollowUp(), nil)
	e.transport.delay = 20 * time.Millisecond
	p := e.addProspect(t, "dana@example.com", 4)
	snapshot := e.reload(t, p.ID)

	var wg sync.WaitGroup
	var mu sync.Mutex
	outcomes := make(map[Outcome]int)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp := *snapshot
			got, _ := e.runner.Process(context.Background(), &cp)
			mu.Lock()
			outcomes[got]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if n := len(e.transport.Sent()); n != 1 {
		t.Fatalf("sent %d messages, want exactly 1", n)
	}
	if outcomes[OutcomeSent] != 1 || outcomes[OutcomeDuplicate] != 7 {
		t.Errorf("outcomes = %v", outcomes)
	}
	if got := e.reload(t, p.ID).FollowUpCount; got != 1 {
		t.Errorf("FollowUpCount = %d, want 1", got)
	}
}

func TestRunnerTransportFailureReleasesTouch(t *testing.T) {
	e := newEnv(t, defaultFollowUp(), nil)
	p := e.addProspect(t, "dana@example.com", 4)

	e.transport.SetErr(&mail.TransportError{Provider: "gmail-1", Temporary: true, Message: "connection reset"})
	if got := e.process(t, p.ID); got != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", got)
	}
	if got := e.reload(t, p.ID).FollowUpCount; got != 0 {
		t.Errorf("FollowUpCount = %d after failure, want 0", got)
	}
	touch, err := e.store.GetTouch(context.Background(), p.ID, 1)
	if err != nil {
		t.Fatalf("GetTouch failed: %v", err)
	}
	if touch != nil {
		t.Errorf("claim left behind after failure: %+v", touch)
	}

	e.transport.SetErr(nil)
	if got := e.process(t, p.ID); got != OutcomeSent {
		t.Fatalf("retry = %s, want sent", got)
	}
	if got := e.reload(t, p.ID).FollowUpCount; got != 1 {
		t.Errorf("FollowUpCount = %d after retry, want 1", got)
	}
}

// commitFailingStore fails the first n CommitTouch calls
type commitFailingStore struct {
	*storage.BoltStore
	failures int
}

func (s *commitFailingStore) CommitTouch(ctx context.Context, prospectID string, seq, maxFollowUps int, msg *models.Message, now time.Time) (*models.Prospect, error) {
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("disk full")
	}
	return s.BoltStore.CommitTouch(ctx, prospectID, seq, maxFollowUps, msg, now)
}

func TestRunnerCommitFailureDoesNotResend(t *testing.T) {
	e := newEnv(t, defaultFollowUp(), nil)
	p := e.addProspect(t, "dana@example.com", 4)
	ctx := context.Background()

	store := &commitFailingStore{BoltStore: e.store, failures: 1}
	runner := NewRunner(store, e.catalog, e.limiter, e.transport, Options{Clock: e.clock.Now})

	outcome, err := runner.Process(ctx, e.reload(t, p.ID))
	if outcome != OutcomeFailed || err == nil {
		t.Fatalf("first attempt = %s, %v; want failed with error", outcome, err)
	}
	touch, err := e.store.GetTouch(ctx, p.ID, 1)
	if err != nil || touch == nil || touch.State != storage.TouchDelivered {
		t.Fatalf("touch after failed commit = %+v, %v; want delivered", touch, err)
	}

	// Well past the claim lease the touch is reconciled, not resent
	e.clock.Advance(time.Hour)
	outcome, err = runner.Process(ctx, e.reload(t, p.ID))
	if err != nil || outcome != OutcomeSent {
		t.Fatalf("second attempt = %s, %v; want sent via reconciliation", outcome, err)
	}
	if n := len(e.transport.Sent()); n != 1 {
		t.Fatalf("transport sent %d messages, want 1", n)
	}

	got := e.reload(t, p.ID)
	if got.FollowUpCount != 1 {
		t.Errorf("FollowUpCount = %d, want 1", got.FollowUpCount)
	}
	thread, err := e.store.GetThreadByProspect(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetThreadByProspect failed: %v", err)
	}
	last := thread.Messages[len(thread.Messages)-1]
	if len(thread.Messages) != 2 || last.ProviderMsgID != "<sent-1@test>" || last.FollowUpSequence != 1 {
		t.Errorf("thread messages = %+v", thread.Messages)
	}

	if outcome := e.process(t, p.ID); outcome == OutcomeSent {
		t.Error("third attempt sent again")
	}
	if n := len(e.transport.Sent()); n != 1 {
		t.Errorf("transport sent %d messages after third attempt, want 1", n)
	}
}

func TestRunnerQuotaDefers(t *testing.T) {
	limits := &ratelimit.Config{DefaultProvider: &ratelimit.LimitConfig{MessagesPerHour: 1}}
	e := newEnv(t, defaultFollowUp(), limits)
	a := e.addProspect(t, "a@example.com", 4)
	b := e.addProspect(t, "b@example.com", 4)

	if got := e.process(t, a.ID); got != OutcomeSent {
		t.Fatalf("first = %s, want sent", got)
	}
	if got := e.process(t, b.ID); got != OutcomeDeferred {
		t.Fatalf("second = %s, want deferred", got)
	}
	if got := e.reload(t, b.ID).FollowUpCount; got != 0 {
		t.Errorf("deferred prospect count = %d, want 0", got)
	}

	// The touch stays due and goes out once the hour rolls over
	e.clock.Advance(time.Hour)
	if got := e.process(t, b.ID); got != OutcomeSent {
		t.Fatalf("after reset = %s, want sent", got)
	}
	if n := len(e.transport.Sent()); n != 2 {
		t.Errorf("sent %d messages, want 2", n)
	}
}

func TestRunnerOutsideWindowWaits(t *testing.T) {
	cfg := defaultFollowUp()
	cfg.TimeWindowStart = "13:00"
	cfg.TimeWindowEnd = "17:00"
	e := newEnv(t, cfg, nil)
	p := e.addProspect(t, "dana@example.com", 4)

	if got := e.process(t, p.ID); got != OutcomeWaiting {
		t.Fatalf("10:00 = %s, want waiting", got)
	}
	e.clock.Advance(3 * time.Hour)
	if got := e.process(t, p.ID); got != OutcomeSent {
		t.Fatalf("13:00 = %s, want sent", got)
	}
}

func TestRunnerUnknownCampaign(t *testing.T) {
	e := newEnv(t, defaultFollowUp(), nil)
	p := e.addProspect(t, "dana@example.com", 4)
	p.CampaignID = "missing"

	got, err := e.runner.Process(context.Background(), p)
	if got != OutcomeSkipped || !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("Process() = %s, %v", got, err)
	}
}

func TestRunnerScan(t *testing.T) {
	e := newEnv(t, defaultFollowUp(), nil)
	e.addProspect(t, "due@example.com", 4)
	e.addProspect(t, "fresh@example.com", 0)
	stopped := e.addProspect(t, "stopped@example.com", 4)
	_, err := e.store.UpdateProspect(context.Background(), stopped.ID, func(p *models.Prospect) error {
		p.FollowUpStatus = models.FollowUpStopped
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateProspect failed: %v", err)
	}

	report, err := e.runner.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if report.Scanned != 2 {
		t.Errorf("Scanned = %d, want 2", report.Scanned)
	}
	if report.Outcomes[OutcomeSent] != 1 || report.Outcomes[OutcomeWaiting] != 1 {
		t.Errorf("Outcomes = %v", report.Outcomes)
	}

	// Nothing new is due on an immediate rescan
	report, err = e.runner.Scan(context.Background())
	if err != nil {
		t.Fatalf("second Scan failed: %v", err)
	}
	if report.Outcomes[OutcomeSent] != 0 {
		t.Errorf("second scan sent %d", report.Outcomes[OutcomeSent])
	}
}

func TestRunnerScanCancelled(t *testing.T) {
	e := newEnv(t, defaultFollowUp(), nil)
	e.addProspect(t, "due@example.com", 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := e.runner.Scan(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Scan() error = %v, want context.Canceled", err)
	}
	if report.Scanned != 0 || len(e.transport.Sent()) != 0 {
		t.Errorf("cancelled scan processed %d prospects", report.Scanned)
	}
}
