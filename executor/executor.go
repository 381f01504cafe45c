// Package executor implements the drain loop described by spec §4.E: pick the
// next ready transaction from the Scheduler, invoke its mutation function, and
// on success or permanent failure remove it from the Outbox and settle its
// waiter; on transient failure apply the retry policy and arm a single wake
// timer for the next ready moment.
package executor

import (
	"context"
	log "log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sharedcode/mutbox"
	"github.com/sharedcode/mutbox/outbox"
	"github.com/sharedcode/mutbox/retrypolicy"
	"github.com/sharedcode/mutbox/scheduler"
)

// BeforeRetryFilter narrows the set of transactions rescued from the Outbox at
// replay time. A nil filter is treated as identity (spec §4.E).
type BeforeRetryFilter func(txs []*mutbox.Transaction) []*mutbox.Transaction

// Options configures an Executor's optional collaborators.
type Options struct {
	Policy              *retrypolicy.Policy
	BeforeRetry         BeforeRetryFilter
	OnUnknownMutationFn func(name string, tx *mutbox.Transaction)
	// MaxConcurrency is accepted but ignored; the core forces sequential
	// execution per spec §9.
	MaxConcurrency int
}

// Executor drains a Scheduler against an Outbox and a registry of named
// mutation functions, settling caller waiters through a WaiterSink.
type Executor struct {
	outbox      *outbox.Outbox
	scheduler   *scheduler.Scheduler
	mutationFns mutbox.MutationFnRegistry
	waiters     mutbox.WaiterSink
	policy      *retrypolicy.Policy
	beforeRetry BeforeRetryFilter
	onUnknown   func(name string, tx *mutbox.Transaction)

	drainGroup singleflight.Group

	mu        sync.Mutex
	wakeTimer *time.Timer
}

// New builds an Executor. waiters settles caller promises by transaction id
// (spec §9's WaiterSink design note); fns resolves a transaction's symbolic
// mutationFnName to the function that executes it.
func New(ob *outbox.Outbox, sch *scheduler.Scheduler, fns mutbox.MutationFnRegistry, waiters mutbox.WaiterSink, opts Options) *Executor {
	policy := opts.Policy
	if policy == nil {
		policy = retrypolicy.New()
	}
	return &Executor{
		outbox:      ob,
		scheduler:   sch,
		mutationFns: fns,
		waiters:     waiters,
		policy:      policy,
		beforeRetry: opts.BeforeRetry,
		onUnknown:   opts.OnUnknownMutationFn,
	}
}

// Execute submits tx for execution: schedule it, then trigger a drain. The
// drain runs asynchronously; callers observe completion through their waiter.
func (e *Executor) Execute(tx *mutbox.Transaction) {
	e.scheduler.Schedule(tx)
	go func() {
		if err := e.ExecuteAll(context.Background()); err != nil {
			log.Warn("executor: drain ended with error", "error", err)
		}
	}()
}

// ExecuteAll runs the drain loop. Concurrent calls collapse onto a single
// in-flight drain (spec §5): every caller observes the same result.
func (e *Executor) ExecuteAll(ctx context.Context) error {
	_, err, _ := e.drainGroup.Do("drain", func() (any, error) {
		return nil, e.drain(ctx)
	})
	return err
}

func (e *Executor) drain(ctx context.Context) error {
	for e.scheduler.GetPendingCount() > 0 {
		tx := e.scheduler.GetNextBatch(1)
		if tx == nil {
			break
		}
		if err := e.runOne(ctx, tx); err != nil {
			// spec §7: a storage failure on the drain path ends the drain cycle
			// rather than pressing on to the next transaction; the still-pending
			// entry is picked up again by the next drain (timer-driven or
			// caller-triggered ExecuteAll).
			e.scheduleNextRetry()
			return err
		}
	}
	e.scheduleNextRetry()
	return nil
}

// runOne drives tx through one mutation attempt. Its error return is a
// StorageFailure encountered while persisting the outcome (success removal,
// permanent-failure removal, or retry-state write) — never the mutation
// function's own error, which is handled (retried or finished) internally.
// Per spec §7, a non-nil return ends the current drain cycle.
func (e *Executor) runOne(ctx context.Context, tx *mutbox.Transaction) error {
	e.scheduler.MarkStarted(tx)

	fn, ok := e.mutationFns.Lookup(tx.MutationFnName)
	if !ok {
		if e.onUnknown != nil {
			e.onUnknown(tx.MutationFnName, tx)
		}
		return e.finishPermanentFailure(ctx, tx, mutbox.NewUnknownMutationFnError(tx.MutationFnName))
	}

	input := mutbox.MutationInput{
		Transaction: mutbox.MutationContext{
			ID:        tx.ID,
			Mutations: tx.Mutations,
			Metadata:  tx.Metadata,
		},
		IdempotencyKey: tx.IdempotencyKey,
	}

	result, err := fn(ctx, input)
	if err == nil {
		e.scheduler.MarkCompleted(tx)
		if rmErr := e.outbox.Remove(ctx, tx.ID); rmErr != nil {
			log.Warn("executor: storage failure removing completed transaction, ending drain cycle", "id", tx.ID.String(), "error", rmErr)
			e.waiters.Resolve(tx.ID, result)
			return rmErr
		}
		e.waiters.Resolve(tx.ID, result)
		return nil
	}

	if !e.policy.ShouldRetry(err, tx.RetryCount) {
		return e.finishPermanentFailure(ctx, tx, err)
	}

	delay := e.policy.CalculateDelay(tx.RetryCount)
	updated := tx.Clone()
	updated.RetryCount++
	updated.NextAttemptAt = time.Now().Add(delay)
	updated.LastError = mutbox.NewLastError(err)

	e.scheduler.MarkFailed(tx)
	e.scheduler.UpdateTransaction(updated)
	if err := e.outbox.Add(ctx, updated); err != nil {
		log.Warn("executor: storage failure persisting retry state, ending drain cycle", "id", tx.ID.String(), "error", err)
		return err
	}
	return nil
}

// finishPermanentFailure settles tx as permanently failed: removes it from the
// Outbox and rejects its waiter. Its error return is the StorageFailure from
// the removal, if any (see runOne's drain-cycle-ending contract).
func (e *Executor) finishPermanentFailure(ctx context.Context, tx *mutbox.Transaction, cause error) error {
	e.scheduler.MarkCompleted(tx)
	rmErr := e.outbox.Remove(ctx, tx.ID)
	if rmErr != nil {
		log.Warn("executor: storage failure removing permanently failed transaction, ending drain cycle", "id", tx.ID.String(), "error", rmErr)
	}
	log.Warn("executor: transaction permanently failed", "id", tx.ID.String(), "error", cause)
	e.waiters.Reject(tx.ID, cause)
	return rmErr
}

// LoadPendingTransactions is invoked when leadership is acquired (spec §4.E):
// fetch every envelope from the Outbox, apply BeforeRetry (identity if unset),
// schedule the surviving set with nextAttemptAt reset to now, and delete the
// complement from durable storage.
func (e *Executor) LoadPendingTransactions(ctx context.Context) error {
	all, err := e.outbox.GetAll(ctx)
	if err != nil {
		return err
	}

	kept := all
	if e.beforeRetry != nil {
		kept = e.beforeRetry(all)
	}

	keptIDs := make(map[mutbox.UUID]struct{}, len(kept))
	for _, tx := range kept {
		keptIDs[tx.ID] = struct{}{}
	}

	var dropped []mutbox.UUID
	for _, tx := range all {
		if _, ok := keptIDs[tx.ID]; !ok {
			dropped = append(dropped, tx.ID)
		}
	}
	if len(dropped) > 0 {
		if err := e.outbox.RemoveMany(ctx, dropped); err != nil {
			return err
		}
	}

	now := time.Now()
	for _, tx := range kept {
		tx.NextAttemptAt = now
		e.scheduler.Schedule(tx)
		if err := e.outbox.Add(ctx, tx); err != nil {
			log.Warn("executor: failed persisting reset nextAttemptAt", "id", tx.ID.String(), "error", err)
		}
	}

	e.scheduleNextRetry()
	return nil
}

// ResetRetryDelays applies the same nextAttemptAt=now reset to the current
// pending snapshot, used on connectivity-up (spec §4.F).
func (e *Executor) ResetRetryDelays(ctx context.Context) {
	now := time.Now()
	pending := e.scheduler.GetAllPendingTransactions()
	for _, tx := range pending {
		tx.NextAttemptAt = now
	}
	e.scheduler.UpdateTransactions(pending)
	for _, tx := range pending {
		if err := e.outbox.Add(ctx, tx); err != nil {
			log.Warn("executor: failed persisting reset retry delay", "id", tx.ID.String(), "error", err)
		}
	}
	e.scheduleNextRetry()
}

// Clear empties the Scheduler and cancels any armed wake timer.
func (e *Executor) Clear() {
	e.mu.Lock()
	if e.wakeTimer != nil {
		e.wakeTimer.Stop()
		e.wakeTimer = nil
	}
	e.mu.Unlock()
	e.scheduler.Clear()
}

// GetPendingCount delegates to the Scheduler.
func (e *Executor) GetPendingCount() int { return e.scheduler.GetPendingCount() }

// GetRunningCount delegates to the Scheduler.
func (e *Executor) GetRunningCount() int { return e.scheduler.GetRunningCount() }

// scheduleNextRetry arms a single wake timer for the minimum NextAttemptAt
// over the current pending snapshot, cancelling any previously armed timer
// (spec §4.E/§9: at most one wake timer outstanding).
func (e *Executor) scheduleNextRetry() {
	pending := e.scheduler.GetAllPendingTransactions()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.wakeTimer != nil {
		e.wakeTimer.Stop()
		e.wakeTimer = nil
	}
	if len(pending) == 0 {
		return
	}

	min := pending[0].NextAttemptAt
	for _, tx := range pending[1:] {
		if tx.NextAttemptAt.Before(min) {
			min = tx.NextAttemptAt
		}
	}

	delay := time.Until(min)
	if delay < 0 {
		delay = 0
	}
	e.wakeTimer = time.AfterFunc(delay, func() {
		if err := e.ExecuteAll(context.Background()); err != nil {
			log.Warn("executor: scheduled drain ended with error", "error", err)
		}
	})
}
