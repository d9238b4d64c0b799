// Package engine holds the authoritative in-memory table of classified
// notifications. It is the single piece of mutable shared state in the
// agent; every operation takes the lock, so readers always observe a
// complete snapshot and never a half-applied tick.
package engine

import (
	"sort"
	"sync"

	"github.com/wakamenori/mac-notify/internal/model"
)

type Engine struct {
	mu          sync.RWMutex
	byID        map[int64]model.ClassifiedNotification
	maxPerGroup int
}

func New(maxPerGroup int) *Engine {
	if maxPerGroup <= 0 {
		maxPerGroup = 12
	}
	return &Engine{
		byID:        map[int64]model.ClassifiedNotification{},
		maxPerGroup: maxPerGroup,
	}
}

// Upsert inserts by notification id. The cursor invariant means an id should
// never arrive twice, but a duplicate is replaced rather than erred on.
func (e *Engine) Upsert(n model.ClassifiedNotification) {
	e.mu.Lock()
	e.byID[n.ID] = n
	e.mu.Unlock()
}

// Snapshot groups live entries by bundle id: groups ordered by their newest
// notification, entries within a group newest first and capped at
// maxPerGroup with the overflow reported in HiddenCount.
func (e *Engine) Snapshot() []model.NotificationGroup {
	e.mu.RLock()
	byBundle := map[string][]model.ClassifiedNotification{}
	for _, n := range e.byID {
		byBundle[n.BundleID] = append(byBundle[n.BundleID], n)
	}
	e.mu.RUnlock()

	groups := make([]model.NotificationGroup, 0, len(byBundle))
	for bundleID, entries := range byBundle {
		sort.Slice(entries, func(i, j int) bool {
			if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
				return entries[i].Timestamp.After(entries[j].Timestamp)
			}
			return entries[i].ID > entries[j].ID
		})
		hidden := 0
		if len(entries) > e.maxPerGroup {
			hidden = len(entries) - e.maxPerGroup
			entries = entries[:e.maxPerGroup]
		}
		groups = append(groups, model.NotificationGroup{
			BundleID:      bundleID,
			AppName:       entries[0].AppName,
			Notifications: entries,
			HiddenCount:   hidden,
		})
	}
	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i].Notifications[0], groups[j].Notifications[0]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return groups[i].BundleID < groups[j].BundleID
	})
	return groups
}

// All returns every live entry ordered oldest first; the summary path wants
// arrival order.
func (e *Engine) All() []model.ClassifiedNotification {
	e.mu.RLock()
	out := make([]model.ClassifiedNotification, 0, len(e.byID))
	for _, n := range e.byID {
		out = append(out, n)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.byID)
}

func (e *Engine) Counts() model.UrgencyCounts {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var counts model.UrgencyCounts
	for _, n := range e.byID {
		counts.Add(n.Level)
	}
	return counts
}

// ClearOne removes a single entry; clearing an absent id reports false.
func (e *Engine) ClearOne(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byID[id]; !ok {
		return false
	}
	delete(e.byID, id)
	return true
}

// ClearApp removes every entry for a bundle id, returning the count removed.
func (e *Engine) ClearApp(bundleID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for id, n := range e.byID {
		if n.BundleID == bundleID {
			delete(e.byID, id)
			removed++
		}
	}
	return removed
}

func (e *Engine) ClearAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := len(e.byID)
	e.byID = map[int64]model.ClassifiedNotification{}
	return removed
}

// NextVirtualID returns the next unused negative id for injected test
// notifications, keeping them clear of store-assigned ids.
func (e *Engine) NextVirtualID() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	next := int64(0)
	for id := range e.byID {
		if id < next {
			next = id
		}
	}
	return next - 1
}
