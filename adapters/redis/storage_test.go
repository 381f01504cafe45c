package redis

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestStorageRoundTrip(t *testing.T) {
	if os.Getenv("MUTBOX_REDIS_TEST") != "1" {
		t.Skip("skipping Redis integration test; set MUTBOX_REDIS_TEST=1 to run")
	}

	conn, err := OpenConnection(DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer CloseConnection()

	ctx := context.Background()
	if err := conn.Client.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping Redis integration test; Redis not reachable: %v", err)
	}

	storage := NewStorage(conn)
	defer storage.Clear(ctx)

	if err := storage.Set(ctx, "tx:t1", `{"id":"t1"}`); err != nil {
		t.Fatal(err)
	}
	v, found, err := storage.Get(ctx, "tx:t1")
	if err != nil || !found || v != `{"id":"t1"}` {
		t.Fatalf("expected round-trip value, got found=%v value=%q err=%v", found, v, err)
	}

	keys, err := storage.Keys(ctx, "tx:")
	if err != nil || len(keys) != 1 {
		t.Fatalf("expected 1 key, got %v err=%v", keys, err)
	}

	if err := storage.Delete(ctx, "tx:t1"); err != nil {
		t.Fatal(err)
	}
	_, found, err = storage.Get(ctx, "tx:t1")
	if err != nil || found {
		t.Fatalf("expected key to be gone after delete, found=%v err=%v", found, err)
	}
}

func TestLeaderElectionSingleInstance(t *testing.T) {
	if os.Getenv("MUTBOX_REDIS_TEST") != "1" {
		t.Skip("skipping Redis integration test; set MUTBOX_REDIS_TEST=1 to run")
	}

	conn, err := OpenConnection(DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer CloseConnection()

	ctx := context.Background()
	if err := conn.Client.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping Redis integration test; Redis not reachable: %v", err)
	}

	le := NewLeaderElection(conn, "mutbox:test:leader", 2*time.Second, 500*time.Millisecond)
	defer le.Dispose()
	defer conn.Client.Del(ctx, "mutbox:test:leader")

	ok, err := le.RequestLeadership(ctx)
	if err != nil || !ok {
		t.Fatalf("expected to acquire leadership, got ok=%v err=%v", ok, err)
	}
	if !le.IsLeader() {
		t.Errorf("expected IsLeader to be true after acquiring")
	}

	if err := le.ReleaseLeadership(ctx); err != nil {
		t.Fatal(err)
	}
	if le.IsLeader() {
		t.Errorf("expected IsLeader to be false after releasing")
	}
}
