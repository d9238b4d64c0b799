// Package orchestrator drives the ingestion pipeline: one periodic tick
// polls focus state and the notification store, routes new records through
// the classifier on a bounded worker pool, updates the engine, and fires
// the alert side channel. Nothing inside a tick may halt subsequent ticks;
// every per-record and per-call failure is contained.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/wakamenori/mac-notify/internal/config"
	"github.com/wakamenori/mac-notify/internal/db"
	"github.com/wakamenori/mac-notify/internal/engine"
	"github.com/wakamenori/mac-notify/internal/model"
	"github.com/wakamenori/mac-notify/internal/notifdb"
	"github.com/wakamenori/mac-notify/internal/registry"
)

const storeDownFailures = 3

// StoreReader is the poll contract against the external notification store.
type StoreReader interface {
	ReadNew(ctx context.Context, sinceID int64) (notifdb.PollResult, error)
	LatestID(ctx context.Context) (int64, error)
}

// FocusSource is a readable snapshot of the focus/do-not-disturb level.
type FocusSource interface {
	State() model.FocusState
}

// UrgencyClassifier produces one verdict per notification and session
// summaries; implementations must be safe for concurrent Classify calls.
type UrgencyClassifier interface {
	Classify(ctx context.Context, n model.Notification, promptContext string) model.Classification
	Summarize(ctx context.Context, notifications []model.ClassifiedNotification, contexts map[string]string) model.SessionSummary
}

// Alerter is the do-not-disturb-bypassing presentation channel.
type Alerter interface {
	Immediate(ctx context.Context, n model.ClassifiedNotification) error
	Summary(ctx context.Context, summary model.SessionSummary) error
}

// Status is the standing health indicator surfaced to the UI layer.
type Status struct {
	StoreOK           bool
	ConsecutiveErrors int
	LastStoreError    string
	FocusState        model.FocusState
}

type Orchestrator struct {
	cfg        config.Config
	store      *db.Store
	reader     StoreReader
	focus      FocusSource
	classifier UrgencyClassifier
	registry   *registry.Registry
	engine     *engine.Engine
	alerter    Alerter

	mu            sync.Mutex
	cursor        int64
	wasFocused    bool
	storeFailures int
	lastStoreErr  string

	subMu       sync.Mutex
	subscribers map[chan struct{}]struct{}
}

func New(
	cfg config.Config,
	store *db.Store,
	reader StoreReader,
	focus FocusSource,
	cls UrgencyClassifier,
	reg *registry.Registry,
	eng *engine.Engine,
	alerter Alerter,
) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		store:       store,
		reader:      reader,
		focus:       focus,
		classifier:  cls,
		registry:    reg,
		engine:      eng,
		alerter:     alerter,
		subscribers: map[chan struct{}]struct{}{},
	}
}

// Start seeds the cursor and launches the tick loop. On a fresh install the
// cursor seeds at the store's current high-water mark so history is never
// backfilled; on restart the persisted cursor wins.
func (o *Orchestrator) Start(ctx context.Context) error {
	cursor, ok, err := o.store.GetCursor(ctx)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if !ok {
		seedCtx, cancel := context.WithTimeout(ctx, o.cfg.StorePollTimeout)
		cursor, err = o.reader.LatestID(seedCtx)
		cancel()
		if err != nil {
			// store unreadable at start; begin at zero and let polling surface it
			logErr("seed cursor from store", err)
			cursor = 0
		}
		if err := o.store.SetCursor(ctx, cursor); err != nil {
			return fmt.Errorf("persist seed cursor: %w", err)
		}
	}
	o.mu.Lock()
	o.cursor = cursor
	o.mu.Unlock()

	o.Tick(ctx, time.Now().UTC())
	go o.loop(ctx)
	return nil
}

func (o *Orchestrator) loop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()
	purge := time.NewTicker(time.Hour)
	defer purge.Stop()
	o.purgeAlerts(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Tick(ctx, time.Now().UTC())
		case <-purge.C:
			o.purgeAlerts(ctx)
		}
	}
}

func (o *Orchestrator) purgeAlerts(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-o.cfg.AlertRetention)
	if _, err := o.store.PurgeAlerts(ctx, cutoff); err != nil {
		logErr("purge alert history", err)
	}
}

// Tick runs one scheduler pass and reports whether the observable snapshot
// changed. Exported so tests and the daemon can drive it directly.
func (o *Orchestrator) Tick(ctx context.Context, now time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	isFocused := o.focus.State() == model.FocusActive
	changed := false

	pollCtx, cancel := context.WithTimeout(ctx, o.cfg.StorePollTimeout)
	result, err := o.reader.ReadNew(pollCtx, o.cursor)
	cancel()
	if err != nil {
		o.storeFailures++
		o.lastStoreErr = err.Error()
		if o.storeFailures == storeDownFailures {
			logErr("notification store unreachable", err)
		}
	} else {
		o.storeFailures = 0
		o.lastStoreErr = ""
		if result.Dropped > 0 {
			logErr("undecodable notification payloads", fmt.Errorf("%d rows skipped", result.Dropped))
		}
		if isFocused && len(result.Notifications) > 0 {
			changed = o.processBatch(ctx, result.Notifications) || changed
		}
		// The cursor advances only after the whole batch has been accounted
		// for (classified or fallback), and moves even past rows that failed
		// to decode or arrived outside a focus session.
		if result.MaxID > o.cursor {
			o.cursor = result.MaxID
			if err := o.store.SetCursor(ctx, o.cursor); err != nil {
				logErr("persist cursor", err)
			}
		}
	}

	if !isFocused && o.wasFocused {
		o.dispatchSummary(ctx)
		changed = true
	}
	o.wasFocused = isFocused

	if changed {
		o.notifySubscribers()
	}
	return changed
}

// processBatch classifies a tick's records with bounded parallelism and
// applies the results in ascending raw-id order.
func (o *Orchestrator) processBatch(ctx context.Context, notifications []model.Notification) bool {
	batch := make([]model.Notification, 0, len(notifications))
	for _, n := range notifications {
		if o.registry.IsIgnored(n.BundleID) {
			continue
		}
		batch = append(batch, n)
	}
	if len(batch) == 0 {
		return false
	}

	type job struct {
		idx int
		n   model.Notification
	}
	results := make([]model.Classification, len(batch))
	jobs := make(chan job)
	var wg sync.WaitGroup
	workers := o.cfg.ClassifyWorkers
	if workers <= 0 {
		workers = 1
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				promptContext, _ := o.registry.PromptFor(j.n.BundleID)
				results[j.idx] = o.classifier.Classify(ctx, j.n, promptContext)
			}
		}()
	}
	for i, n := range batch {
		jobs <- job{idx: i, n: n}
	}
	close(jobs)
	wg.Wait()

	now := time.Now().UTC()
	for i, n := range batch {
		classified := model.ClassifiedNotification{
			Notification: n,
			Level:        results[i].Level,
			SummaryLine:  results[i].SummaryLine,
			Reason:       results[i].Reason,
			ClassifiedAt: now,
		}
		o.engine.Upsert(classified)
		if classified.Level.Interrupts() {
			if err := o.alerter.Immediate(ctx, classified); err != nil {
				logErr("immediate alert dispatch", err)
			}
		}
	}
	return true
}

func (o *Orchestrator) dispatchSummary(ctx context.Context) {
	collected := o.engine.All()
	if len(collected) == 0 {
		return
	}
	summary := o.classifier.Summarize(ctx, collected, o.promptContexts(collected))
	if err := o.alerter.Summary(ctx, summary); err != nil {
		logErr("summary dispatch", err)
	}
}

// Summarize renders the current accumulation on demand, without waiting for
// a session edge and without dispatching anything.
func (o *Orchestrator) Summarize(ctx context.Context) model.SessionSummary {
	collected := o.engine.All()
	return o.classifier.Summarize(ctx, collected, o.promptContexts(collected))
}

// promptContexts gathers the per-app contexts for the apps present in the
// collection, keyed by bundle id.
func (o *Orchestrator) promptContexts(notifications []model.ClassifiedNotification) map[string]string {
	contexts := map[string]string{}
	for _, n := range notifications {
		if _, seen := contexts[n.BundleID]; seen {
			continue
		}
		if promptContext, ok := o.registry.PromptFor(n.BundleID); ok {
			contexts[n.BundleID] = promptContext
		}
	}
	return contexts
}

func (o *Orchestrator) Groups() []model.NotificationGroup {
	return o.engine.Snapshot()
}

func (o *Orchestrator) Counts() model.UrgencyCounts {
	return o.engine.Counts()
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	state := model.FocusInactive
	if o.wasFocused {
		state = model.FocusActive
	}
	return Status{
		StoreOK:           o.storeFailures < storeDownFailures,
		ConsecutiveErrors: o.storeFailures,
		LastStoreError:    o.lastStoreErr,
		FocusState:        state,
	}
}

func (o *Orchestrator) ClearNotification(id int64) bool {
	cleared := o.engine.ClearOne(id)
	if cleared {
		o.notifySubscribers()
	}
	return cleared
}

func (o *Orchestrator) ClearApp(bundleID string) int {
	cleared := o.engine.ClearApp(bundleID)
	if cleared > 0 {
		o.notifySubscribers()
	}
	return cleared
}

func (o *Orchestrator) ClearAll() int {
	cleared := o.engine.ClearAll()
	if cleared > 0 {
		o.notifySubscribers()
	}
	return cleared
}

// Subscribe registers a change listener. The channel carries no payload; a
// receive means "the snapshot may have changed, refresh".
func (o *Orchestrator) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	o.subMu.Lock()
	o.subscribers[ch] = struct{}{}
	o.subMu.Unlock()
	cancel := func() {
		o.subMu.Lock()
		delete(o.subscribers, ch)
		o.subMu.Unlock()
	}
	return ch, cancel
}

func (o *Orchestrator) notifySubscribers() {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for ch := range o.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func logErr(scope string, err error) {
	_, _ = fmt.Fprintf(os.Stderr, "macnotifyd: %s: %v\n", scope, err)
}
