package assign

import "github.com/puzpuzpuz/xsync/v4"

// Ledger centralizes the per-user open-task counters. Every increment and
// decrement goes through a per-key atomic update, so concurrent callers
// never interleave a read-modify-write on the same user.
type Ledger struct {
	counts *xsync.Map[string, int]
}

func NewLedger() *Ledger {
	return &Ledger{counts: xsync.NewMap[string, int]()}
}

// Seed replaces the ledger contents, typically from the user store at
// startup.
func (l *Ledger) Seed(counts map[string]int) {
	l.counts.Range(func(id string, _ int) bool {
		l.counts.Delete(id)
		return true
	})
	for id, n := range counts {
		if n < 0 {
			n = 0
		}
		l.counts.Store(id, n)
	}
}

// Open returns the user's current open-task count. Unknown users count 0.
func (l *Ledger) Open(userID string) int {
	n, _ := l.counts.Load(userID)
	return n
}

// Acquire increments the user's count and returns the new value.
func (l *Ledger) Acquire(userID string) int {
	n, _ := l.counts.Compute(userID, func(old int, _ bool) (int, xsync.ComputeOp) {
		return old + 1, xsync.UpdateOp
	})
	return n
}

// Release decrements toward zero and returns the new value.
func (l *Ledger) Release(userID string) int {
	n, _ := l.counts.Compute(userID, func(old int, loaded bool) (int, xsync.ComputeOp) {
		if !loaded || old <= 0 {
			return 0, xsync.UpdateOp
		}
		return old - 1, xsync.UpdateOp
	})
	return n
}

// Remove drops a user from the ledger.
func (l *Ledger) Remove(userID string) {
	l.counts.Delete(userID)
}

// Snapshot copies the current counters.
func (l *Ledger) Snapshot() map[string]int {
	out := make(map[string]int, l.counts.Size())
	l.counts.Range(func(id string, n int) bool {
		out[id] = n
		return true
	})
	return out
}
