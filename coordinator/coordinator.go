// Package coordinator implements the top-level lifecycle described by spec
// §4.F: elect leadership, replay the Outbox into the Scheduler on becoming
// leader, reset retry delays and poke the Executor on connectivity-up, and
// bridge caller-visible Draft commits to the Executor's waiter registry.
package coordinator

import (
	"context"
	log "log/slog"
	"sync"

	"github.com/sharedcode/mutbox"
	"github.com/sharedcode/mutbox/adapters/memory"
	"github.com/sharedcode/mutbox/executor"
	"github.com/sharedcode/mutbox/outbox"
	"github.com/sharedcode/mutbox/retrypolicy"
	"github.com/sharedcode/mutbox/scheduler"
)

// Config enumerates everything a Coordinator needs (spec §6): Collections and
// MutationFns are required; the rest fall back to in-process defaults.
type Config struct {
	// Collections resolves a Mutation's CollectionID to a live collection
	// reference on Outbox load. Required.
	Collections mutbox.CollectionRegistry
	// MutationFns maps a symbolic mutationFnName to the function that executes it. Required.
	MutationFns mutbox.MutationFnRegistry

	// Storage overrides the default in-process StorageAdapter.
	Storage mutbox.StorageAdapter
	// LeaderElection overrides the default always-leader election.
	LeaderElection mutbox.LeaderElection
	// OnlineDetector overrides the default detector, which fires only on NotifyOnline.
	OnlineDetector mutbox.OnlineDetector

	// MaxRetries bounds retryCount before a transaction is given up on. Zero means 10.
	MaxRetries int
	// DisableJitter turns off delay randomization (spec default is jitter on).
	DisableJitter bool
	// BeforeRetry filters the Outbox snapshot rescued at replay time.
	BeforeRetry executor.BeforeRetryFilter
	// OnUnknownMutationFn fires when a transaction names a function absent from MutationFns.
	OnUnknownMutationFn func(name string, tx *mutbox.Transaction)
	// OnLeadershipChange fires whenever this instance's leadership status changes.
	OnLeadershipChange func(isLeader bool)
}

// Coordinator owns the full lifecycle of one outbox/executor instance.
type Coordinator struct {
	cfg Config

	outbox    *outbox.Outbox
	scheduler *scheduler.Scheduler
	executor  *executor.Executor
	waiters   *waiterRegistry

	leaderElection mutbox.LeaderElection
	onlineDetector mutbox.OnlineDetector

	mu              sync.RWMutex
	isLeader        bool
	replayScheduled bool

	unsubscribeLeadership func()
	unsubscribeOnline     func()
}

// New constructs a Coordinator per spec §4.F's construction sequence and
// attempts an initial leadership request. Collections and MutationFns must be
// set on cfg.
func New(cfg Config) (*Coordinator, error) {
	storage := cfg.Storage
	if storage == nil {
		storage = memory.NewStorage()
	}
	leaderElection := cfg.LeaderElection
	if leaderElection == nil {
		leaderElection = memory.NewLeaderElection()
	}
	onlineDetector := cfg.OnlineDetector
	if onlineDetector == nil {
		onlineDetector = memory.NewOnlineDetector()
	}

	ob := outbox.New(storage, cfg.Collections, nil)
	sched := scheduler.New()
	waiters := newWaiterRegistry()

	policy := retrypolicy.New()
	if cfg.MaxRetries > 0 {
		policy.MaxRetries = cfg.MaxRetries
	}
	policy.Jitter = !cfg.DisableJitter

	exec := executor.New(ob, sched, cfg.MutationFns, waiters, executor.Options{
		Policy:              policy,
		BeforeRetry:         cfg.BeforeRetry,
		OnUnknownMutationFn: cfg.OnUnknownMutationFn,
	})

	c := &Coordinator{
		cfg:            cfg,
		outbox:         ob,
		scheduler:      sched,
		executor:       exec,
		waiters:        waiters,
		leaderElection: leaderElection,
		onlineDetector: onlineDetector,
	}

	// The initial RequestLeadership below may grant leadership and fire
	// OnLeadershipChange(true) synchronously on the adapter's own calling
	// goroutine (both adapters/memory and adapters/redis do this). Subscribing
	// only after that call returns means the synchronous callback never reaches
	// handleLeadershipChange, so the explicit setLeader/loadAndReplay call below
	// is the only trigger for this initial acquisition; beginReplay still
	// guards against any remaining race (e.g. a concurrent renewal-driven
	// reacquisition) collapsing onto a single replay.
	ctx := context.Background()
	isLeader, err := leaderElection.RequestLeadership(ctx)
	if err != nil {
		log.Warn("coordinator: initial leadership request failed", "error", err)
	} else if isLeader {
		c.setLeader(true)
		if c.beginReplay() {
			go c.loadAndReplay(ctx)
		}
	}

	c.unsubscribeLeadership = leaderElection.OnLeadershipChange(c.handleLeadershipChange)
	c.unsubscribeOnline = onlineDetector.Subscribe(c.handleConnectivityUp)

	return c, nil
}

func (c *Coordinator) setLeader(isLeader bool) {
	c.mu.Lock()
	c.isLeader = isLeader
	if !isLeader {
		c.replayScheduled = false
	}
	c.mu.Unlock()
}

// beginReplay reports whether the caller should kick off loadAndReplay: at
// most one replay runs per leadership acquisition, even if the initial grant
// in New and a concurrent OnLeadershipChange(true) both observe the same
// acquisition. setLeader(false) rearms it for the next acquisition.
func (c *Coordinator) beginReplay() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.replayScheduled {
		return false
	}
	c.replayScheduled = true
	return true
}

func (c *Coordinator) handleLeadershipChange(isLeader bool) {
	c.setLeader(isLeader)
	if c.cfg.OnLeadershipChange != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Warn("coordinator: onLeadershipChange callback panicked", "panic", r)
				}
			}()
			c.cfg.OnLeadershipChange(isLeader)
		}()
	}
	if isLeader && c.beginReplay() {
		go c.loadAndReplay(context.Background())
	}
}

func (c *Coordinator) handleConnectivityUp() {
	if !c.IsOfflineEnabled() {
		return
	}
	ctx := context.Background()
	c.executor.ResetRetryDelays(ctx)
	if err := c.executor.ExecuteAll(ctx); err != nil {
		log.Warn("coordinator: drain after connectivity-up ended with error", "error", err)
	}
}

// loadAndReplay rescues the Outbox into the Scheduler and runs a drain.
// Errors are logged, never thrown (spec §4.F/§7).
func (c *Coordinator) loadAndReplay(ctx context.Context) {
	if err := c.executor.LoadPendingTransactions(ctx); err != nil {
		log.Warn("coordinator: loadPendingTransactions failed", "error", err)
		return
	}
	if err := c.executor.ExecuteAll(ctx); err != nil {
		log.Warn("coordinator: replay drain ended with error", "error", err)
	}
}

// persist implements spec §4.F: a non-leader resolves the waiter with nil
// immediately (the authoritative tab will handle it); a leader writes to the
// Outbox then hands the transaction to the Executor.
func (c *Coordinator) persist(ctx context.Context, tx *mutbox.Transaction) error {
	if !c.IsOfflineEnabled() {
		c.waiters.Resolve(tx.ID, nil)
		return nil
	}
	if err := c.outbox.Add(ctx, tx); err != nil {
		return err
	}
	c.executor.Execute(tx)
	return nil
}

// CreateDraft returns a new Draft bound to this Coordinator, naming the
// mutation function it will invoke and carrying caller-supplied metadata.
func (c *Coordinator) CreateDraft(mutationFnName string, metadata map[string]any) *Draft {
	return &Draft{coordinator: c, mutationFnName: mutationFnName, metadata: metadata}
}

// RemoveFromOutbox deletes the entry for id from the durable Outbox directly,
// without going through the Executor's drain.
func (c *Coordinator) RemoveFromOutbox(ctx context.Context, id mutbox.UUID) error {
	return c.outbox.Remove(ctx, id)
}

// PeekOutbox returns every transaction currently durable in the Outbox.
func (c *Coordinator) PeekOutbox(ctx context.Context) ([]*mutbox.Transaction, error) {
	return c.outbox.GetAll(ctx)
}

// ClearOutbox empties the durable Outbox and the in-memory Scheduler/timer.
func (c *Coordinator) ClearOutbox(ctx context.Context) error {
	if err := c.outbox.Clear(ctx); err != nil {
		return err
	}
	c.executor.Clear()
	return nil
}

// NotifyOnline lets a caller manually signal connectivity restoration, useful
// when the configured OnlineDetector has no ambient signal of its own.
func (c *Coordinator) NotifyOnline() {
	c.onlineDetector.NotifyOnline()
}

// GetPendingCount delegates to the Executor/Scheduler.
func (c *Coordinator) GetPendingCount() int { return c.executor.GetPendingCount() }

// GetRunningCount delegates to the Executor/Scheduler.
func (c *Coordinator) GetRunningCount() int { return c.executor.GetRunningCount() }

// IsOfflineEnabled reports whether this instance currently holds leadership
// (named for the caller-visible meaning: "can this tab drive the outbox
// while offline").
func (c *Coordinator) IsOfflineEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isLeader
}

// Dispose tears the Coordinator down: unsubscribes connectivity and
// leadership listeners, releases leadership, disposes the detector and, if
// supported, the leader-election primitive.
func (c *Coordinator) Dispose() error {
	if c.unsubscribeOnline != nil {
		c.unsubscribeOnline()
	}
	if c.unsubscribeLeadership != nil {
		c.unsubscribeLeadership()
	}

	ctx := context.Background()
	if err := c.leaderElection.ReleaseLeadership(ctx); err != nil {
		log.Warn("coordinator: release leadership failed", "error", err)
	}
	c.onlineDetector.Dispose()
	if d, ok := c.leaderElection.(mutbox.Disposable); ok {
		if err := d.Dispose(); err != nil {
			log.Warn("coordinator: leader election dispose failed", "error", err)
		}
	}
	c.waiters.clear()
	return nil
}
