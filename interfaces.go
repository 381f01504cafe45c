package mutbox

import "context"

// StorageAdapter is the durable key/value collaborator the Outbox persists envelopes
// through (spec §6). Implementations must be durable across process restarts and must
// serialize their own operations; the core relies only on a Set observed after a Delete
// reflecting the later write (spec §5).
type StorageAdapter interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Clear(ctx context.Context) error
}

// LeaderElection is the exclusive-leadership collaborator (spec §6). Implementations
// must deliver exactly one true RequestLeadership to at most one instance at a time
// across the process group they coordinate.
type LeaderElection interface {
	RequestLeadership(ctx context.Context) (bool, error)
	ReleaseLeadership(ctx context.Context) error
	IsLeader() bool
	OnLeadershipChange(cb func(isLeader bool)) (unsubscribe func())
}

// Disposable is implemented by LeaderElection backends that hold resources (connections,
// renewal goroutines) needing explicit cleanup on Coordinator.Dispose.
type Disposable interface {
	Dispose() error
}

// OnlineDetector is the connectivity collaborator (spec §6). Cb fires when the detector
// observes connectivity restoration.
type OnlineDetector interface {
	Subscribe(cb func()) (unsubscribe func())
	NotifyOnline()
	Dispose()
}

// MutationFn is a caller-supplied async operation that talks to the server for one
// transaction (spec §6). It must fail with a CodeNonRetriable *Error when the server
// reports a permanent rejection; any other failure is treated as transient and retried.
type MutationFn func(ctx context.Context, input MutationInput) (any, error)

// Collection is an opaque reference the Serializer attaches to a deserialized Mutation's
// CollectionID at load time (spec §4.A). The core never looks inside it.
type Collection any

// CollectionRegistry resolves a collectionId to the live collection object the reactive
// store's contract requires. A missing id is a recoverable deserialize failure (spec §4.A).
type CollectionRegistry interface {
	Lookup(collectionID string) (Collection, bool)
}

// MapCollectionRegistry is the simplest CollectionRegistry: a caller-supplied map.
type MapCollectionRegistry map[string]Collection

func (r MapCollectionRegistry) Lookup(collectionID string) (Collection, bool) {
	c, ok := r[collectionID]
	return c, ok
}

// WaiterSink is the narrow capability the Executor uses to settle a caller's promise by
// transaction id, injected rather than coupling the Executor directly to the Coordinator's
// waiter map (spec §9 Design Notes).
type WaiterSink interface {
	Resolve(id UUID, value any)
	Reject(id UUID, err error)
}

// MutationFnRegistry maps a symbolic mutationFnName to the function that executes it.
type MutationFnRegistry map[string]MutationFn

// Lookup resolves name, reporting whether it was found.
func (r MutationFnRegistry) Lookup(name string) (MutationFn, bool) {
	fn, ok := r[name]
	return fn, ok
}
