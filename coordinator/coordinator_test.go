package coordinator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sharedcode/mutbox"
	"github.com/sharedcode/mutbox/adapters/memory"
)

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestCommitHappyPath(t *testing.T) {
	c, err := New(Config{
		Collections: mutbox.MapCollectionRegistry{"rows": struct{}{}},
		MutationFns: mutbox.MutationFnRegistry{
			"syncRow": func(ctx context.Context, input mutbox.MutationInput) (any, error) {
				return map[string]any{"ok": 1.0}, nil
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Dispose()

	draft := c.CreateDraft("syncRow", nil)
	draft.Stage(mutbox.Mutation{GlobalKey: "rows/1", Type: mutbox.Insert, CollectionID: "rows"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := draft.Commit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if m, ok := result.(map[string]any); !ok || m["ok"] != 1.0 {
		t.Errorf("expected mutation result to round-trip, got %v", result)
	}

	waitUntil(t, time.Second, func() bool { return c.GetPendingCount() == 0 })
}

func TestCommitPermanentFailureRejects(t *testing.T) {
	c, err := New(Config{
		Collections: mutbox.MapCollectionRegistry{"rows": struct{}{}},
		MutationFns: mutbox.MutationFnRegistry{
			"syncRow": func(ctx context.Context, input mutbox.MutationInput) (any, error) {
				return nil, mutbox.NewNonRetriableError(fmt.Errorf("bad input"))
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Dispose()

	draft := c.CreateDraft("syncRow", nil)
	draft.Stage(mutbox.Mutation{GlobalKey: "rows/1", Type: mutbox.Insert, CollectionID: "rows"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = draft.Commit(ctx)
	if err == nil {
		t.Fatal("expected commit to fail with a non-retriable error")
	}
	if !mutbox.IsNonRetriable(err) {
		t.Errorf("expected a non-retriable error, got %v", err)
	}

	txs, err := c.PeekOutbox(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 0 {
		t.Errorf("expected outbox to be empty after permanent failure, got %d", len(txs))
	}
}

func TestUnknownMutationFn(t *testing.T) {
	var firedName string
	c, err := New(Config{
		Collections:         mutbox.MapCollectionRegistry{"rows": struct{}{}},
		MutationFns:         mutbox.MutationFnRegistry{},
		OnUnknownMutationFn: func(name string, tx *mutbox.Transaction) { firedName = name },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Dispose()

	draft := c.CreateDraft("unknown", nil)
	draft.Stage(mutbox.Mutation{GlobalKey: "rows/1", Type: mutbox.Insert, CollectionID: "rows"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = draft.Commit(ctx)
	if err == nil || !mutbox.IsNonRetriable(err) {
		t.Errorf("expected a non-retriable unknown-mutation-fn error, got %v", err)
	}
	if firedName != "unknown" {
		t.Errorf("expected onUnknownMutationFn to fire with 'unknown', got %q", firedName)
	}
}

func TestRestartReplayRescuesPendingTransaction(t *testing.T) {
	storage := memory.NewStorage()
	attempts := make(chan struct{}, 4)
	fns := mutbox.MutationFnRegistry{
		"syncRow": func(ctx context.Context, input mutbox.MutationInput) (any, error) {
			attempts <- struct{}{}
			return "ok", nil
		},
	}

	// Persist a transaction directly to storage, simulating a crash before the
	// first Coordinator ever drained it.
	storage.Set(context.Background(), "tx:seed", `{"id":"00000000-0000-0000-0000-000000000001","mutationFnName":"syncRow","mutations":[{"globalKey":"rows/1","type":0,"collectionId":"rows"}],"idempotencyKey":"00000000-0000-0000-0000-000000000002","createdAt":1,"version":1}`)

	c, err := New(Config{
		Storage:     storage,
		Collections: mutbox.MapCollectionRegistry{"rows": struct{}{}},
		MutationFns: fns,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Dispose()

	select {
	case <-attempts:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the rescued transaction to be driven to completion on construction")
	}

	waitUntil(t, time.Second, func() bool { return c.GetPendingCount() == 0 })
}

func TestDisposeReleasesLeadership(t *testing.T) {
	le := memory.NewLeaderElection()
	c, err := New(Config{
		Collections:    mutbox.MapCollectionRegistry{},
		MutationFns:    mutbox.MutationFnRegistry{},
		LeaderElection: le,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !c.IsOfflineEnabled() {
		t.Fatal("expected single-instance coordinator to acquire leadership")
	}
	if err := c.Dispose(); err != nil {
		t.Fatal(err)
	}
	if le.IsLeader() {
		t.Error("expected Dispose to release leadership")
	}
}
