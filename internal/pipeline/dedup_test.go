package pipeline

import (
	"fmt"
	"testing"
)

func TestDedupRegisterAndLookup(t *testing.T) {
	cache := newDedupCache(8)

	if _, seen := cache.Lookup("a"); seen {
		t.Fatal("unknown id must not be seen")
	}
	if !cache.Register("a") {
		t.Fatal("first registration must succeed")
	}
	if cache.Register("a") {
		t.Fatal("second registration of the same id must fail")
	}
	outcome, seen := cache.Lookup("a")
	if !seen || outcome != nil {
		t.Fatalf("registered id must be seen with nil outcome, got seen=%v outcome=%v", seen, outcome)
	}

	cache.Store("a", &Outcome{RequestID: "a"})
	outcome, seen = cache.Lookup("a")
	if !seen || outcome == nil || outcome.RequestID != "a" {
		t.Fatalf("stored outcome must be returned, got seen=%v outcome=%+v", seen, outcome)
	}
}

func TestDedupCapacityEvictsOldest(t *testing.T) {
	cache := newDedupCache(3)
	for i := 0; i < 5; i++ {
		cache.Register(fmt.Sprintf("req-%d", i))
	}
	if _, seen := cache.Lookup("req-0"); seen {
		t.Fatal("oldest entry must be evicted at capacity")
	}
	if _, seen := cache.Lookup("req-4"); !seen {
		t.Fatal("newest entry must survive")
	}
}

func TestDedupSeenPayload(t *testing.T) {
	cache := newDedupCache(8)
	a := digestOutcome(&Outcome{RequestID: "a", StrategyID: 1})
	b := digestOutcome(&Outcome{RequestID: "b", StrategyID: 1})
	if a == b {
		t.Fatal("distinct outcomes must produce distinct digests")
	}
	if cache.SeenPayload(a) {
		t.Fatal("first occurrence must not be seen")
	}
	if !cache.SeenPayload(a) {
		t.Fatal("second occurrence must be seen")
	}
	if cache.SeenPayload(b) {
		t.Fatal("different payload must not be seen")
	}
}

func TestDigestIgnoresDuplicateFlags(t *testing.T) {
	plain := &Outcome{RequestID: "a", StrategyID: 1}
	flagged := &Outcome{RequestID: "a", StrategyID: 1, Duplicate: true, RepeatPayload: true}
	if digestOutcome(plain) != digestOutcome(flagged) {
		t.Fatal("duplicate flags must not affect the content digest")
	}
}
