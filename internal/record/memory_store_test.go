package record

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"

	"VaultPilot/internal/pipeline"
	"VaultPilot/internal/strategy"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := &ExecutionRecord{ID: "exec-1", StrategyID: 7, Network: "sepolia", Status: StatusPending, MaxRetries: 3}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, rec); !stdErrors.Is(err, ErrRecordConflict) {
		t.Fatalf("duplicate create must conflict, got %v", err)
	}

	claimed, err := store.Claim(ctx, "exec-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed state: %+v", claimed)
	}

	if _, err := store.Claim(ctx, "exec-1"); !stdErrors.Is(err, ErrRecordConflict) {
		t.Fatalf("claiming a running record must conflict, got %v", err)
	}

	outcome := &pipeline.Outcome{RequestID: "exec-1", StrategyID: 7, Network: "sepolia"}
	if err := store.MarkSucceeded(ctx, "exec-1", outcome); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	got, err := store.Get(ctx, "exec-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusSucceeded || got.Outcome == nil || got.Outcome.RequestID != "exec-1" {
		t.Fatalf("unexpected record after success: %+v", got)
	}

	if _, err := store.Claim(ctx, "exec-1"); !stdErrors.Is(err, ErrRecordCompleted) {
		t.Fatalf("claiming a completed record must report completion, got %v", err)
	}

	if _, err := store.Get(ctx, "missing"); !stdErrors.Is(err, ErrRecordNotFound) {
		t.Fatalf("missing record must be not found, got %v", err)
	}
}

func TestMemoryStoreRetryExhaustion(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, &ExecutionRecord{ID: "exec-retry", StrategyID: 1, Status: StatusPending, MaxRetries: 2}); err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := store.Claim(ctx, "exec-retry"); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if err := store.MarkFailed(ctx, "exec-retry", strategy.CodeStrategyValidation, "boom"); err != nil {
			t.Fatalf("mark failed %d: %v", i, err)
		}
	}

	if _, err := store.Claim(ctx, "exec-retry"); !stdErrors.Is(err, ErrRecordExhausted) {
		t.Fatalf("exhausted record must stop retrying, got %v", err)
	}

	got, err := store.Get(ctx, "exec-retry")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ErrorCode != string(strategy.CodeStrategyValidation) || got.LastError != "boom" {
		t.Fatalf("unexpected failure details: %+v", got)
	}
}

func TestMemoryStoreListOrdersAndFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)
	records := []*ExecutionRecord{
		{ID: "r1", StrategyID: 1, Status: StatusPending, MaxRetries: 3},
		{ID: "r2", StrategyID: 2, Status: StatusPending, MaxRetries: 3},
		{ID: "r3", StrategyID: 3, Status: StatusPending, MaxRetries: 3},
	}
	for _, rec := range records {
		if err := store.Create(ctx, rec); err != nil {
			t.Fatalf("create %s: %v", rec.ID, err)
		}
	}
	if err := store.MarkFailed(ctx, "r2", strategy.CodeStrategyValidation, "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "r3", &pipeline.Outcome{RequestID: "r3"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.records["r1"].UpdatedAt = base.Unix()
	store.records["r2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.records["r3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ID != "r3" {
		t.Fatalf("expected newest record first, got %+v", all)
	}

	failed, err := store.List(ctx, ListOptions{Statuses: []Status{StatusFailed}})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "r2" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	paged, err := store.List(ctx, ListOptions{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("list paged: %v", err)
	}
	if len(paged) != 1 || paged[0].ID != "r2" {
		t.Fatalf("unexpected page: %+v", paged)
	}
}

func TestMemoryStoreReturnsClones(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, &ExecutionRecord{ID: "clone", StrategyID: 1, Status: StatusPending, MaxRetries: 3}); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := store.Get(ctx, "clone")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Status = StatusFailed

	again, err := store.Get(ctx, "clone")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if again.Status != StatusPending {
		t.Fatal("mutating a returned record must not affect the store")
	}
}
