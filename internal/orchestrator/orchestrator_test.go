package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wakamenori/mac-notify/internal/classifier"
	"github.com/wakamenori/mac-notify/internal/config"
	"github.com/wakamenori/mac-notify/internal/db"
	"github.com/wakamenori/mac-notify/internal/engine"
	"github.com/wakamenori/mac-notify/internal/model"
	"github.com/wakamenori/mac-notify/internal/notifdb"
	"github.com/wakamenori/mac-notify/internal/registry"
	"github.com/wakamenori/mac-notify/internal/testutil"
)

type fakeReader struct {
	mu     sync.Mutex
	calls  []int64
	queue  []notifdb.PollResult
	err    error
	latest int64
}

func (f *fakeReader) ReadNew(ctx context.Context, sinceID int64) (notifdb.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sinceID)
	if f.err != nil {
		return notifdb.PollResult{}, f.err
	}
	if len(f.queue) == 0 {
		return notifdb.PollResult{MaxID: sinceID}, nil
	}
	result := f.queue[0]
	f.queue = f.queue[1:]
	return result, nil
}

func (f *fakeReader) LatestID(ctx context.Context) (int64, error) {
	return f.latest, nil
}

func (f *fakeReader) sinceIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.calls...)
}

type fakeFocus struct {
	mu     sync.Mutex
	states []model.FocusState
}

func (f *fakeFocus) State() model.FocusState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.states) == 0 {
		return model.FocusInactive
	}
	state := f.states[0]
	if len(f.states) > 1 {
		f.states = f.states[1:]
	}
	return state
}

type fakeClassifier struct {
	mu              sync.Mutex
	levels          map[string]model.UrgencyLevel
	classify        int
	contexts        map[string]string
	summaryContexts map[string]string
}

func (f *fakeClassifier) Classify(ctx context.Context, n model.Notification, promptContext string) model.Classification {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classify++
	if f.contexts == nil {
		f.contexts = map[string]string{}
	}
	f.contexts[n.BundleID] = promptContext
	level, ok := f.levels[n.BundleID]
	if !ok {
		level = model.UrgencyMedium
	}
	return model.Classification{Level: level, SummaryLine: n.Title, Reason: "test"}
}

func (f *fakeClassifier) Summarize(ctx context.Context, notifications []model.ClassifiedNotification, contexts map[string]string) model.SessionSummary {
	f.mu.Lock()
	f.summaryContexts = contexts
	f.mu.Unlock()
	return model.SessionSummary{
		Text:              "session summary",
		NotificationCount: len(notifications),
		GeneratedAt:       time.Now().UTC(),
	}
}

func (f *fakeClassifier) classifyCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.classify
}

type fakeAlerter struct {
	mu         sync.Mutex
	immediates []model.ClassifiedNotification
	summaries  []model.SessionSummary
}

func (f *fakeAlerter) Immediate(ctx context.Context, n model.ClassifiedNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.immediates = append(f.immediates, n)
	return nil
}

func (f *fakeAlerter) Summary(ctx context.Context, summary model.SessionSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, summary)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		PollInterval:     time.Hour,
		StorePollTimeout: time.Second,
		ClassifyTimeout:  time.Second,
		ClassifyWorkers:  2,
		SummaryTimeout:   time.Second,
		MaxPerGroup:      12,
		MaxInjectCount:   30,
		AlertRetention:   time.Hour,
	}
}

func newOrchestrator(t *testing.T, reader StoreReader, focus FocusSource, cls UrgencyClassifier, alerter Alerter) (*Orchestrator, *db.Store) {
	t.Helper()
	store, ctx := testutil.NewStore(t)
	reg, err := registry.Load(ctx, store)
	if err != nil {
		t.Fatalf("registry.Load: %v", err)
	}
	cfg := testConfig()
	eng := engine.New(cfg.MaxPerGroup)
	return New(cfg, store, reader, focus, cls, reg, eng, alerter), store
}

func record(id int64, bundleID, title string) model.Notification {
	return model.Notification{
		ID:        id,
		BundleID:  bundleID,
		AppName:   model.AppNameFromBundle(bundleID),
		Title:     title,
		Timestamp: time.Now().UTC(),
	}
}

func TestTickIngestsOnceAndAdvancesCursor(t *testing.T) {
	reader := &fakeReader{queue: []notifdb.PollResult{
		{Notifications: []model.Notification{record(10, "com.apple.mail", "hi")}, MaxID: 10},
	}}
	cls := &fakeClassifier{}
	alerter := &fakeAlerter{}
	o, store := newOrchestrator(t, reader, &fakeFocus{states: []model.FocusState{model.FocusActive}}, cls, alerter)

	ctx := context.Background()
	if !o.Tick(ctx, time.Now()) {
		t.Fatalf("expected first tick to report change")
	}
	if o.Tick(ctx, time.Now()) {
		t.Fatalf("expected second tick with no new records to report no change")
	}

	if got := cls.classifyCalls(); got != 1 {
		t.Fatalf("classify calls = %d, want 1", got)
	}
	sinceIDs := reader.sinceIDs()
	if len(sinceIDs) != 2 || sinceIDs[0] != 0 || sinceIDs[1] != 10 {
		t.Fatalf("sinceIDs = %v, want [0 10]", sinceIDs)
	}
	cursor, ok, err := store.GetCursor(ctx)
	if err != nil || !ok || cursor != 10 {
		t.Fatalf("persisted cursor = %d ok=%v err=%v, want 10", cursor, ok, err)
	}
	if got := o.Counts().Total(); got != 1 {
		t.Fatalf("engine total = %d, want 1", got)
	}
}

func TestStartSeedsCursorAtStoreHighWaterMark(t *testing.T) {
	reader := &fakeReader{latest: 42}
	o, store := newOrchestrator(t, reader, &fakeFocus{}, &fakeClassifier{}, &fakeAlerter{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	cursor, ok, err := store.GetCursor(ctx)
	if err != nil || !ok || cursor != 42 {
		t.Fatalf("seeded cursor = %d ok=%v err=%v, want 42", cursor, ok, err)
	}
	// the startup tick must poll from the seed, not from zero
	sinceIDs := reader.sinceIDs()
	if len(sinceIDs) == 0 || sinceIDs[0] != 42 {
		t.Fatalf("first poll sinceID = %v, want 42", sinceIDs)
	}
}

func TestIgnoredAppSkipsClassifierAndEngine(t *testing.T) {
	reader := &fakeReader{queue: []notifdb.PollResult{
		{Notifications: []model.Notification{
			record(1, "com.apple.news", "digest"),
			record(2, "com.apple.mail", "hello"),
		}, MaxID: 2},
	}}
	cls := &fakeClassifier{}
	o, _ := newOrchestrator(t, reader, &fakeFocus{states: []model.FocusState{model.FocusActive}}, cls, &fakeAlerter{})

	ctx := context.Background()
	if err := o.registry.AddIgnored(ctx, "com.apple.news"); err != nil {
		t.Fatalf("AddIgnored: %v", err)
	}
	o.Tick(ctx, time.Now())

	if got := cls.classifyCalls(); got != 1 {
		t.Fatalf("classify calls = %d, want 1 (ignored app must not be classified)", got)
	}
	groups := o.Groups()
	if len(groups) != 1 || groups[0].BundleID != "com.apple.mail" {
		t.Fatalf("groups = %+v, want only com.apple.mail", groups)
	}
	// cursor still covers the ignored record
	o.mu.Lock()
	cursor := o.cursor
	o.mu.Unlock()
	if cursor != 2 {
		t.Fatalf("cursor = %d, want 2", cursor)
	}
}

func TestUrgentLevelsDispatchImmediately(t *testing.T) {
	reader := &fakeReader{queue: []notifdb.PollResult{
		{Notifications: []model.Notification{
			record(1, "com.pagerduty.app", "SEV-1"),
			record(2, "com.apple.mail", "deadline"),
			record(3, "com.apple.news", "digest"),
		}, MaxID: 3},
	}}
	cls := &fakeClassifier{levels: map[string]model.UrgencyLevel{
		"com.pagerduty.app": model.UrgencyCritical,
		"com.apple.mail":    model.UrgencyHigh,
		"com.apple.news":    model.UrgencyLow,
	}}
	alerter := &fakeAlerter{}
	o, _ := newOrchestrator(t, reader, &fakeFocus{states: []model.FocusState{model.FocusActive}}, cls, alerter)

	o.Tick(context.Background(), time.Now())

	if len(alerter.immediates) != 2 {
		t.Fatalf("immediate alerts = %d, want 2", len(alerter.immediates))
	}
	// ascending record order is preserved through the worker pool
	if alerter.immediates[0].ID != 1 || alerter.immediates[1].ID != 2 {
		t.Fatalf("alert order = [%d %d], want [1 2]", alerter.immediates[0].ID, alerter.immediates[1].ID)
	}
	if got := o.Counts().Total(); got != 3 {
		t.Fatalf("engine total = %d, want 3 (low urgency still collected)", got)
	}
}

func TestFocusEndFiresSummaryExactlyOnce(t *testing.T) {
	reader := &fakeReader{queue: []notifdb.PollResult{
		{Notifications: []model.Notification{record(1, "com.apple.mail", "hello")}, MaxID: 1},
	}}
	alerter := &fakeAlerter{}
	focus := &fakeFocus{states: []model.FocusState{
		model.FocusActive, model.FocusActive, model.FocusInactive, model.FocusInactive,
	}}
	o, _ := newOrchestrator(t, reader, focus, &fakeClassifier{}, alerter)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		o.Tick(ctx, time.Now())
	}

	if len(alerter.summaries) != 1 {
		t.Fatalf("summaries = %d, want exactly 1", len(alerter.summaries))
	}
	if alerter.summaries[0].NotificationCount != 1 {
		t.Fatalf("summary count = %d, want 1", alerter.summaries[0].NotificationCount)
	}
}

func TestFocusEndWithEmptyEngineSkipsSummary(t *testing.T) {
	alerter := &fakeAlerter{}
	focus := &fakeFocus{states: []model.FocusState{model.FocusActive, model.FocusInactive}}
	o, _ := newOrchestrator(t, &fakeReader{}, focus, &fakeClassifier{}, alerter)

	ctx := context.Background()
	o.Tick(ctx, time.Now())
	o.Tick(ctx, time.Now())

	if len(alerter.summaries) != 0 {
		t.Fatalf("summaries = %d, want 0 when nothing was collected", len(alerter.summaries))
	}
}

func TestUnfocusedRecordsAdvanceCursorWithoutClassification(t *testing.T) {
	reader := &fakeReader{queue: []notifdb.PollResult{
		{Notifications: []model.Notification{record(5, "com.apple.mail", "hi")}, MaxID: 5},
	}}
	cls := &fakeClassifier{}
	o, _ := newOrchestrator(t, reader, &fakeFocus{}, cls, &fakeAlerter{})

	o.Tick(context.Background(), time.Now())

	if got := cls.classifyCalls(); got != 0 {
		t.Fatalf("classify calls = %d, want 0 outside a focus session", got)
	}
	if got := o.Counts().Total(); got != 0 {
		t.Fatalf("engine total = %d, want 0", got)
	}
	o.mu.Lock()
	cursor := o.cursor
	o.mu.Unlock()
	if cursor != 5 {
		t.Fatalf("cursor = %d, want 5", cursor)
	}
}

func TestStoreErrorDegradesStatusAndRecovers(t *testing.T) {
	reader := &fakeReader{err: errors.New("unable to open database file")}
	o, _ := newOrchestrator(t, reader, &fakeFocus{}, &fakeClassifier{}, &fakeAlerter{})

	ctx := context.Background()
	for i := 0; i < storeDownFailures; i++ {
		o.Tick(ctx, time.Now())
	}
	status := o.Status()
	if status.StoreOK {
		t.Fatalf("expected store to be flagged down after %d failures", storeDownFailures)
	}
	if status.LastStoreError == "" {
		t.Fatalf("expected last store error to be recorded")
	}

	reader.mu.Lock()
	reader.err = nil
	reader.mu.Unlock()
	o.Tick(ctx, time.Now())
	if status := o.Status(); !status.StoreOK || status.ConsecutiveErrors != 0 {
		t.Fatalf("status after recovery = %+v, want healthy", status)
	}
}

func TestClassifierFallbackKeepsNotification(t *testing.T) {
	backend := &unavailableBackend{}
	cls := classifier.New(backend, time.Second, time.Second)
	reader := &fakeReader{queue: []notifdb.PollResult{
		{Notifications: []model.Notification{record(1, "com.apple.mail", "hello")}, MaxID: 1},
	}}
	o, _ := newOrchestrator(t, reader, &fakeFocus{states: []model.FocusState{model.FocusActive}}, cls, &fakeAlerter{})

	o.Tick(context.Background(), time.Now())

	groups := o.Groups()
	if len(groups) != 1 || len(groups[0].Notifications) != 1 {
		t.Fatalf("groups = %+v, want the fallback-classified notification retained", groups)
	}
	got := groups[0].Notifications[0]
	if got.Level != model.UrgencyMedium {
		t.Fatalf("fallback level = %s, want medium", got.Level)
	}
	if got.Reason != classifier.FallbackReason {
		t.Fatalf("fallback reason = %q, want %q", got.Reason, classifier.FallbackReason)
	}
}

type unavailableBackend struct{}

func (unavailableBackend) GenerateText(ctx context.Context, prompt string) (string, error) {
	return "", errors.New("no credentials")
}

func (unavailableBackend) Available() bool { return false }

func TestInjectClampsAndUsesVirtualIDs(t *testing.T) {
	o, _ := newOrchestrator(t, &fakeReader{}, &fakeFocus{}, &fakeClassifier{}, &fakeAlerter{})

	injected := o.InjectTestNotifications(1000)
	if injected != o.cfg.MaxInjectCount {
		t.Fatalf("injected = %d, want clamp to %d", injected, o.cfg.MaxInjectCount)
	}
	for _, n := range o.engine.All() {
		if n.ID >= 0 {
			t.Fatalf("injected id %d not negative", n.ID)
		}
	}
	if injected := o.InjectTestNotifications(0); injected != 1 {
		t.Fatalf("injected = %d, want minimum 1", injected)
	}
}

func TestSubscribeSignalsOnChange(t *testing.T) {
	o, _ := newOrchestrator(t, &fakeReader{}, &fakeFocus{}, &fakeClassifier{}, &fakeAlerter{})
	ch, cancel := o.Subscribe()
	defer cancel()

	o.InjectTestNotifications(1)
	select {
	case <-ch:
	default:
		t.Fatalf("expected change signal after inject")
	}

	if cleared := o.ClearAll(); cleared != 1 {
		t.Fatalf("cleared = %d, want 1", cleared)
	}
	select {
	case <-ch:
	default:
		t.Fatalf("expected change signal after clear")
	}
}

func TestPromptContextReachesClassifier(t *testing.T) {
	reader := &fakeReader{queue: []notifdb.PollResult{
		{Notifications: []model.Notification{record(1, "com.apple.mail", "hello")}, MaxID: 1},
	}}
	cls := &fakeClassifier{}
	o, _ := newOrchestrator(t, reader, &fakeFocus{states: []model.FocusState{model.FocusActive}}, cls, &fakeAlerter{})

	ctx := context.Background()
	if err := o.registry.SetPrompt(ctx, "com.apple.mail", "only my manager is urgent"); err != nil {
		t.Fatalf("SetPrompt: %v", err)
	}
	o.Tick(ctx, time.Now())

	cls.mu.Lock()
	defer cls.mu.Unlock()
	if cls.contexts["com.apple.mail"] != "only my manager is urgent" {
		t.Fatalf("prompt context = %q, want custom context", cls.contexts["com.apple.mail"])
	}
}

func TestPromptContextReachesSummary(t *testing.T) {
	reader := &fakeReader{queue: []notifdb.PollResult{
		{Notifications: []model.Notification{record(1, "com.apple.mail", "hello")}, MaxID: 1},
	}}
	cls := &fakeClassifier{}
	focus := &fakeFocus{states: []model.FocusState{model.FocusActive, model.FocusInactive}}
	o, _ := newOrchestrator(t, reader, focus, cls, &fakeAlerter{})

	ctx := context.Background()
	if err := o.registry.SetPrompt(ctx, "com.apple.mail", "only my manager is urgent"); err != nil {
		t.Fatalf("SetPrompt: %v", err)
	}
	o.Tick(ctx, time.Now())
	o.Tick(ctx, time.Now())

	cls.mu.Lock()
	defer cls.mu.Unlock()
	if cls.summaryContexts["com.apple.mail"] != "only my manager is urgent" {
		t.Fatalf("summary contexts = %+v, want the app's prompt context", cls.summaryContexts)
	}
}
