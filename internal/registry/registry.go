// Package registry holds the user-authored classification context: per-app
// prompt entries injected into classifier calls and the ignore list checked
// at ingestion time. State is write-through: every mutation lands in the
// store before the in-memory view changes.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/wakamenori/mac-notify/internal/db"
	"github.com/wakamenori/mac-notify/internal/model"
)

type Registry struct {
	store *db.Store

	mu      sync.RWMutex
	prompts map[string]string
	ignored map[string]struct{}
}

// Load reads persisted prompts and ignores back at process start.
func Load(ctx context.Context, store *db.Store) (*Registry, error) {
	r := &Registry{
		store:   store,
		prompts: map[string]string{},
		ignored: map[string]struct{}{},
	}
	prompts, err := store.ListPrompts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	for _, entry := range prompts {
		r.prompts[entry.BundleID] = entry.Context
	}
	ignored, err := store.ListIgnored(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ignored apps: %w", err)
	}
	for _, bundleID := range ignored {
		r.ignored[bundleID] = struct{}{}
	}
	return r, nil
}

func (r *Registry) SetPrompt(ctx context.Context, bundleID, promptContext string) error {
	bundleID = strings.TrimSpace(bundleID)
	promptContext = strings.TrimSpace(promptContext)
	if bundleID == "" {
		return fmt.Errorf("bundle_id is required")
	}
	if promptContext == "" {
		return fmt.Errorf("context is required")
	}
	if err := r.store.SetPrompt(ctx, model.AppPromptEntry{BundleID: bundleID, Context: promptContext}); err != nil {
		return err
	}
	r.mu.Lock()
	r.prompts[bundleID] = promptContext
	r.mu.Unlock()
	return nil
}

func (r *Registry) DeletePrompt(ctx context.Context, bundleID string) (bool, error) {
	bundleID = strings.TrimSpace(bundleID)
	removed, err := r.store.DeletePrompt(ctx, bundleID)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	delete(r.prompts, bundleID)
	r.mu.Unlock()
	return removed, nil
}

// PromptFor returns the custom context for a bundle id, if any.
func (r *Registry) PromptFor(bundleID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	prompt, ok := r.prompts[bundleID]
	return prompt, ok
}

func (r *Registry) ListPrompts(ctx context.Context) ([]model.AppPromptEntry, error) {
	return r.store.ListPrompts(ctx)
}

func (r *Registry) AddIgnored(ctx context.Context, bundleID string) error {
	bundleID = strings.TrimSpace(bundleID)
	if bundleID == "" {
		return fmt.Errorf("bundle_id is required")
	}
	if err := r.store.AddIgnored(ctx, bundleID); err != nil {
		return err
	}
	r.mu.Lock()
	r.ignored[bundleID] = struct{}{}
	r.mu.Unlock()
	return nil
}

func (r *Registry) RemoveIgnored(ctx context.Context, bundleID string) (bool, error) {
	bundleID = strings.TrimSpace(bundleID)
	removed, err := r.store.RemoveIgnored(ctx, bundleID)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	delete(r.ignored, bundleID)
	r.mu.Unlock()
	return removed, nil
}

// IsIgnored is the ingestion-time check; it never touches the store.
func (r *Registry) IsIgnored(bundleID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ignored[bundleID]
	return ok
}

func (r *Registry) ListIgnored(ctx context.Context) ([]string, error) {
	return r.store.ListIgnored(ctx)
}
