// Package scheduler implements the in-memory FIFO ready queue described by
// spec §4.C: a createdAt-sorted pending list and a single-flight running flag,
// since the core executes at most one transaction at a time (spec §5).
package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/sharedcode/mutbox"
)

// Scheduler holds the pending set and running flag. All methods are safe for
// concurrent use; the core itself only ever drives one drain loop at a time,
// but leadership handover and REST inspection may read concurrently.
type Scheduler struct {
	mu      sync.Mutex
	pending []*mutbox.Transaction
	running bool
}

// New returns an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

func sortPending(pending []*mutbox.Transaction) {
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].ID.String() < pending[j].ID.String()
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
}

// Schedule appends tx to pending and re-sorts by CreatedAt.
func (s *Scheduler) Schedule(tx *mutbox.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, tx)
	sortPending(s.pending)
}

// GetNextBatch ignores maxConcurrency (reserved per spec §6/§9: the core
// forces sequential execution) and returns the oldest pending transaction
// whose NextAttemptAt has arrived, or nil if none is ready or one is already running.
func (s *Scheduler) GetNextBatch(maxConcurrency int) *mutbox.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || len(s.pending) == 0 {
		return nil
	}
	now := time.Now()
	for _, tx := range s.pending {
		if !tx.NextAttemptAt.After(now) {
			return tx
		}
	}
	return nil
}

// MarkStarted flags a transaction as currently running.
func (s *Scheduler) MarkStarted(tx *mutbox.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

// MarkCompleted removes tx from pending and clears the running flag.
func (s *Scheduler) MarkCompleted(tx *mutbox.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(tx.ID)
	s.running = false
}

// MarkFailed clears the running flag; tx remains in pending with whatever
// fields the caller has already updated via UpdateTransaction.
func (s *Scheduler) MarkFailed(tx *mutbox.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

func (s *Scheduler) removeLocked(id mutbox.UUID) {
	out := s.pending[:0]
	for _, t := range s.pending {
		if t.ID != id {
			out = append(out, t)
		}
	}
	s.pending = out
}

// UpdateTransaction replaces the pending entry matching tx.ID and re-sorts.
func (s *Scheduler) UpdateTransaction(tx *mutbox.Transaction) {
	s.UpdateTransactions([]*mutbox.Transaction{tx})
}

// UpdateTransactions replaces every pending entry whose id matches one in txs
// and re-sorts. Ids not currently pending are ignored.
func (s *Scheduler) UpdateTransactions(txs []*mutbox.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := make(map[mutbox.UUID]*mutbox.Transaction, len(txs))
	for _, tx := range txs {
		byID[tx.ID] = tx
	}
	for i, t := range s.pending {
		if updated, ok := byID[t.ID]; ok {
			s.pending[i] = updated
		}
	}
	sortPending(s.pending)
}

// GetAllPendingTransactions returns a snapshot copy of the pending list.
func (s *Scheduler) GetAllPendingTransactions() []*mutbox.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*mutbox.Transaction, len(s.pending))
	copy(out, s.pending)
	return out
}

// GetPendingCount returns len(pending).
func (s *Scheduler) GetPendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// GetRunningCount returns 1 if a transaction is currently running, else 0.
func (s *Scheduler) GetRunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return 1
	}
	return 0
}

// Clear empties pending and clears the running flag.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.running = false
}
