package assign

import (
	"sync"
	"testing"
)

func TestLedgerCounts(t *testing.T) {
	l := NewLedger()
	if l.Open("ghost") != 0 {
		t.Fatal("unknown user should count 0")
	}
	if got := l.Acquire("u1"); got != 1 {
		t.Fatalf("acquire: got %d want 1", got)
	}
	if got := l.Acquire("u1"); got != 2 {
		t.Fatalf("acquire: got %d want 2", got)
	}
	if got := l.Release("u1"); got != 1 {
		t.Fatalf("release: got %d want 1", got)
	}
	if got := l.Release("u1"); got != 0 {
		t.Fatalf("release: got %d want 0", got)
	}
	if got := l.Release("u1"); got != 0 {
		t.Fatal("release must floor at zero")
	}
}

func TestLedgerSeedReplaces(t *testing.T) {
	l := NewLedger()
	l.Acquire("old")
	l.Seed(map[string]int{"a": 2, "b": 0, "negative": -3})
	if l.Open("old") != 0 {
		t.Fatal("seed must drop stale entries")
	}
	if l.Open("a") != 2 || l.Open("b") != 0 {
		t.Fatalf("seeded counts wrong: a=%d b=%d", l.Open("a"), l.Open("b"))
	}
	if l.Open("negative") != 0 {
		t.Fatal("negative seeds clamp to zero")
	}
}

func TestLedgerSnapshotIsCopy(t *testing.T) {
	l := NewLedger()
	l.Seed(map[string]int{"a": 1})
	snap := l.Snapshot()
	snap["a"] = 99
	if l.Open("a") != 1 {
		t.Fatal("snapshot must not alias ledger state")
	}
}

func TestLedgerRemove(t *testing.T) {
	l := NewLedger()
	l.Acquire("u1")
	l.Remove("u1")
	if l.Open("u1") != 0 {
		t.Fatal("removed user should count 0")
	}
	if len(l.Snapshot()) != 0 {
		t.Fatal("removed user should leave the snapshot")
	}
}

func TestLedgerConcurrentAcquire(t *testing.T) {
	l := NewLedger()
	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			l.Acquire("shared")
		}()
	}
	wg.Wait()
	if got := l.Open("shared"); got != workers {
		t.Fatalf("lost updates: got %d want %d", got, workers)
	}
}
