package registry_test

import (
	"testing"

	"github.com/wakamenori/mac-notify/internal/registry"
	"github.com/wakamenori/mac-notify/internal/testutil"
)

func TestLoadReadsBackPersistedState(t *testing.T) {
	store, ctx := testutil.NewStore(t)

	first, err := registry.Load(ctx, store)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := first.SetPrompt(ctx, "com.tinyspeck.slackmacgap", "only #incidents matters"); err != nil {
		t.Fatalf("set prompt: %v", err)
	}
	if err := first.AddIgnored(ctx, "com.apple.news"); err != nil {
		t.Fatalf("add ignored: %v", err)
	}

	// simulate restart: a fresh registry over the same store
	second, err := registry.Load(ctx, store)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	prompt, ok := second.PromptFor("com.tinyspeck.slackmacgap")
	if !ok || prompt != "only #incidents matters" {
		t.Fatalf("prompt not read back: %q ok=%v", prompt, ok)
	}
	if !second.IsIgnored("com.apple.news") {
		t.Fatalf("ignore list not read back")
	}
}

func TestPromptValidationLeavesStateUntouched(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	r, err := registry.Load(ctx, store)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := r.SetPrompt(ctx, "", "something"); err == nil {
		t.Fatalf("expected empty bundle_id rejection")
	}
	if err := r.SetPrompt(ctx, "com.apple.mail", ""); err == nil {
		t.Fatalf("expected empty context rejection")
	}
	prompts, err := r.ListPrompts(ctx)
	if err != nil {
		t.Fatalf("list prompts: %v", err)
	}
	if len(prompts) != 0 {
		t.Fatalf("rejected writes mutated state: %d", len(prompts))
	}
}

func TestIgnoreMembershipIsInMemory(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	r, err := registry.Load(ctx, store)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if r.IsIgnored("com.apple.news") {
		t.Fatalf("fresh registry should ignore nothing")
	}
	if err := r.AddIgnored(ctx, "com.apple.news"); err != nil {
		t.Fatalf("add ignored: %v", err)
	}
	if !r.IsIgnored("com.apple.news") {
		t.Fatalf("expected membership after add")
	}
	removed, err := r.RemoveIgnored(ctx, "com.apple.news")
	if err != nil || !removed {
		t.Fatalf("remove ignored: removed=%v err=%v", removed, err)
	}
	if r.IsIgnored("com.apple.news") {
		t.Fatalf("membership should clear after remove")
	}
	removed, err = r.RemoveIgnored(ctx, "com.apple.news")
	if err != nil {
		t.Fatalf("second remove errored: %v", err)
	}
	if removed {
		t.Fatalf("second remove reported a change")
	}
}

func TestDeletePromptIdempotent(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	r, err := registry.Load(ctx, store)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := r.SetPrompt(ctx, "com.apple.iCal", "meetings with the word interview are urgent"); err != nil {
		t.Fatalf("set prompt: %v", err)
	}
	removed, err := r.DeletePrompt(ctx, "com.apple.iCal")
	if err != nil || !removed {
		t.Fatalf("delete prompt: removed=%v err=%v", removed, err)
	}
	if _, ok := r.PromptFor("com.apple.iCal"); ok {
		t.Fatalf("prompt cache should clear after delete")
	}
	removed, err = r.DeletePrompt(ctx, "com.apple.iCal")
	if err != nil {
		t.Fatalf("second delete errored: %v", err)
	}
	if removed {
		t.Fatalf("second delete reported a change")
	}
}
