package redis

import (
	"context"
	"sync"
	"time"

	log "log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sharedcode/mutbox"
)

const (
	defaultLeaseTTL      = 15 * time.Second
	defaultRenewInterval = 5 * time.Second
)

// LeaderElection is a single-key, SETNX-based exclusive lock generalized from
// the teacher's multi-key locker.go (Lock/IsLockedTTL) down to one leadership
// key shared by every Coordinator instance in the process group. A background
// goroutine renews the lease while leader and steps down if it ever discovers
// the lease was lost to another owner (stale-lease detection, spec supplement).
type LeaderElection struct {
	conn          *Connection
	key           string
	id            mutbox.UUID
	leaseTTL      time.Duration
	renewInterval time.Duration

	mu        sync.Mutex
	isLeader  bool
	callbacks []func(bool)
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewLeaderElection returns a LeaderElection over conn using key as the shared
// leadership lock. A zero leaseTTL/renewInterval falls back to 15s/5s.
func NewLeaderElection(conn *Connection, key string, leaseTTL, renewInterval time.Duration) *LeaderElection {
	if leaseTTL <= 0 {
		leaseTTL = defaultLeaseTTL
	}
	if renewInterval <= 0 {
		renewInterval = defaultRenewInterval
	}
	return &LeaderElection{
		conn:          conn,
		key:           key,
		id:            mutbox.NewUUID(),
		leaseTTL:      leaseTTL,
		renewInterval: renewInterval,
	}
}

// RequestLeadership attempts to SETNX the leadership key with this instance's
// id. Success (or already owning the key) returns true; if this instance was
// not already leader, it also starts the renewal loop and fires
// OnLeadershipChange(true).
func (l *LeaderElection) RequestLeadership(ctx context.Context) (bool, error) {
	acquired, err := l.conn.Client.SetNX(ctx, l.key, l.id.String(), l.leaseTTL).Result()
	if err != nil {
		return false, err
	}
	if !acquired {
		owner, err := l.conn.Client.Get(ctx, l.key).Result()
		if err != nil && err != goredis.Nil {
			return false, err
		}
		if owner != l.id.String() {
			return false, nil
		}
		// We already hold the lease (e.g. a prior renewal extended it); fall through.
	}

	l.becomeLeader()
	return true, nil
}

// ReleaseLeadership deletes the leadership key, but only if this instance
// still owns it, and stops the renewal loop.
func (l *LeaderElection) ReleaseLeadership(ctx context.Context) error {
	l.stepDown()

	owner, err := l.conn.Client.Get(ctx, l.key).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil
		}
		return err
	}
	if owner != l.id.String() {
		return nil
	}
	return l.conn.Client.Del(ctx, l.key).Err()
}

// IsLeader reports this instance's last-known leadership state.
func (l *LeaderElection) IsLeader() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isLeader
}

// OnLeadershipChange registers cb to be invoked whenever this instance's
// leadership state transitions.
func (l *LeaderElection) OnLeadershipChange(cb func(isLeader bool)) (unsubscribe func()) {
	l.mu.Lock()
	l.callbacks = append(l.callbacks, cb)
	idx := len(l.callbacks) - 1
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if idx < len(l.callbacks) {
			l.callbacks[idx] = nil
		}
	}
}

// Dispose stops the renewal loop and releases the lease. Satisfies
// mutbox.Disposable so Coordinator.Dispose can clean up the background goroutine.
func (l *LeaderElection) Dispose() error {
	return l.ReleaseLeadership(context.Background())
}

func (l *LeaderElection) becomeLeader() {
	l.mu.Lock()
	alreadyLeader := l.isLeader
	l.isLeader = true
	if !alreadyLeader {
		ctx, cancel := context.WithCancel(context.Background())
		l.cancel = cancel
		l.wg.Add(1)
		go l.renewLoop(ctx)
	}
	cbs := append([]func(bool){}, l.callbacks...)
	l.mu.Unlock()

	if !alreadyLeader {
		for _, cb := range cbs {
			if cb != nil {
				cb(true)
			}
		}
	}
}

func (l *LeaderElection) stepDown() {
	l.mu.Lock()
	wasLeader := l.isLeader
	l.isLeader = false
	cancel := l.cancel
	l.cancel = nil
	cbs := append([]func(bool){}, l.callbacks...)
	l.mu.Unlock()

	if cancel != nil {
		cancel()
		l.wg.Wait()
	}
	if wasLeader {
		for _, cb := range cbs {
			if cb != nil {
				cb(false)
			}
		}
	}
}

// renewLoop extends the lease TTL on a fixed interval. If the key's value no
// longer matches our id (the lease expired and someone else acquired it, or
// the key was deleted and never reacquired), it steps down rather than
// silently assuming leadership it no longer holds.
func (l *LeaderElection) renewLoop(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if l.conn.IsRestarted() {
				log.Warn("redis leader election: server restarted, reacquiring lease", "key", l.key)
				if !l.reacquireAfterRestart(ctx) {
					return
				}
				continue
			}
			owner, err := l.conn.Client.Get(ctx, l.key).Result()
			if err != nil && err != goredis.Nil {
				log.Warn("redis leader election: renewal read failed", "error", err)
				continue
			}
			if owner != l.id.String() {
				log.Warn("redis leader election: lease lost to another owner", "key", l.key)
				go l.stepDown()
				return
			}
			if err := l.conn.Client.Expire(ctx, l.key, l.leaseTTL).Err(); err != nil {
				log.Warn("redis leader election: renewal expire failed", "error", err)
			}
		}
	}
}

// reacquireAfterRestart re-SETNXes the leadership key on a freshly restarted
// server, since the restart may have wiped it. It reports whether this
// instance still holds (or regained) leadership; a false return means
// another instance won the race and the caller should step down.
func (l *LeaderElection) reacquireAfterRestart(ctx context.Context) bool {
	acquired, err := l.conn.Client.SetNX(ctx, l.key, l.id.String(), l.leaseTTL).Result()
	if err != nil {
		log.Warn("redis leader election: reacquire after restart failed", "error", err)
		return true
	}
	if acquired {
		return true
	}

	owner, err := l.conn.Client.Get(ctx, l.key).Result()
	if err != nil && err != goredis.Nil {
		log.Warn("redis leader election: reacquire read failed", "error", err)
		return true
	}
	if owner != l.id.String() {
		log.Warn("redis leader election: lease lost to another owner after restart", "key", l.key)
		go l.stepDown()
		return false
	}
	return true
}

var _ mutbox.LeaderElection = (*LeaderElection)(nil)
var _ mutbox.Disposable = (*LeaderElection)(nil)
