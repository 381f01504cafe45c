package memory

import (
	"context"
	"testing"
)

func TestStorageGetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()

	if _, found, _ := s.Get(ctx, "tx:1"); found {
		t.Fatal("expected key to be absent initially")
	}
	if err := s.Set(ctx, "tx:1", "hello"); err != nil {
		t.Fatal(err)
	}
	v, found, err := s.Get(ctx, "tx:1")
	if err != nil || !found || v != "hello" {
		t.Fatalf("expected found=true value=hello, got found=%v value=%q err=%v", found, v, err)
	}

	if err := s.Delete(ctx, "tx:1"); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := s.Get(ctx, "tx:1"); found {
		t.Fatal("expected key to be gone after delete")
	}
}

func TestStorageKeysFiltersByPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	s.Set(ctx, "tx:1", "a")
	s.Set(ctx, "tx:2", "b")
	s.Set(ctx, "other:1", "c")

	keys, err := s.Keys(ctx, "tx:")
	if err != nil || len(keys) != 2 {
		t.Fatalf("expected 2 tx: keys, got %v err=%v", keys, err)
	}
}

func TestLeaderElectionAlwaysGrants(t *testing.T) {
	le := NewLeaderElection()
	var seen []bool
	le.OnLeadershipChange(func(isLeader bool) { seen = append(seen, isLeader) })

	ok, err := le.RequestLeadership(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected leadership to always be granted, got ok=%v err=%v", ok, err)
	}
	if !le.IsLeader() {
		t.Errorf("expected IsLeader to be true")
	}
	if len(seen) != 1 || !seen[0] {
		t.Errorf("expected one leadership-change callback with true, got %v", seen)
	}

	if err := le.ReleaseLeadership(context.Background()); err != nil {
		t.Fatal(err)
	}
	if le.IsLeader() {
		t.Errorf("expected IsLeader to be false after release")
	}
}

func TestOnlineDetectorFiresOnlyOnNotify(t *testing.T) {
	d := NewOnlineDetector()
	fired := false
	unsubscribe := d.Subscribe(func() { fired = true })

	d.NotifyOnline()
	if !fired {
		t.Errorf("expected subscriber to fire on NotifyOnline")
	}

	fired = false
	unsubscribe()
	d.NotifyOnline()
	if fired {
		t.Errorf("expected unsubscribed callback to not fire")
	}
}
