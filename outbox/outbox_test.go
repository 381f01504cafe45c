package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/sharedcode/mutbox"
	"github.com/sharedcode/mutbox/adapters/memory"
)

func newTestOutbox() *Outbox {
	return New(memory.NewStorage(), mutbox.MapCollectionRegistry{"rows": struct{}{}}, nil)
}

func newTx(globalKey string, createdAt time.Time) *mutbox.Transaction {
	return &mutbox.Transaction{
		ID:             mutbox.NewUUID(),
		MutationFnName: "syncRow",
		Mutations:      []mutbox.Mutation{{GlobalKey: globalKey, Type: mutbox.Insert, CollectionID: "rows"}},
		IdempotencyKey: mutbox.NewIdempotencyKey(),
		CreatedAt:      createdAt,
		NextAttemptAt:  createdAt,
		Version:        mutbox.EnvelopeVersion,
	}
}

func TestAddGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	ob := newTestOutbox()
	tx := newTx("rows/1", time.Now())

	if err := ob.Add(ctx, tx); err != nil {
		t.Fatal(err)
	}
	got, err := ob.Get(ctx, tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != tx.ID {
		t.Fatalf("expected to get back transaction %s, got %+v", tx.ID, got)
	}
}

func TestGetAllSortedByCreatedAt(t *testing.T) {
	ctx := context.Background()
	ob := newTestOutbox()
	base := time.Now()
	t2 := newTx("rows/2", base.Add(2*time.Second))
	t1 := newTx("rows/1", base)
	t3 := newTx("rows/3", base.Add(time.Second))

	for _, tx := range []*mutbox.Transaction{t2, t1, t3} {
		if err := ob.Add(ctx, tx); err != nil {
			t.Fatal(err)
		}
	}

	all, err := ob.GetAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(all))
	}
	if all[0].ID != t1.ID || all[1].ID != t3.ID || all[2].ID != t2.ID {
		t.Errorf("expected ascending createdAt order t1,t3,t2, got %s,%s,%s", all[0].ID, all[1].ID, all[2].ID)
	}
}

func TestGetByKeysFiltersToIntersection(t *testing.T) {
	ctx := context.Background()
	ob := newTestOutbox()
	t1 := newTx("rows/1", time.Now())
	t2 := newTx("rows/2", time.Now().Add(time.Second))

	ob.Add(ctx, t1)
	ob.Add(ctx, t2)

	got, err := ob.GetByKeys(ctx, []string{"rows/2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != t2.ID {
		t.Fatalf("expected only t2, got %+v", got)
	}
}

func TestUpdateMissingIDFails(t *testing.T) {
	ctx := context.Background()
	ob := newTestOutbox()
	err := ob.Update(ctx, mutbox.NewUUID(), func(tx *mutbox.Transaction) {})
	if err == nil {
		t.Fatal("expected NotFound error")
	}
	merr, ok := err.(*mutbox.Error)
	if !ok || merr.Code != mutbox.CodeNotFound {
		t.Errorf("expected CodeNotFound, got %v", err)
	}
}

func TestRemoveAndCount(t *testing.T) {
	ctx := context.Background()
	ob := newTestOutbox()
	tx := newTx("rows/1", time.Now())
	ob.Add(ctx, tx)

	n, err := ob.Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected count 1, got %d err=%v", n, err)
	}

	if err := ob.Remove(ctx, tx.ID); err != nil {
		t.Fatal(err)
	}
	n, err = ob.Count(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected count 0 after remove, got %d err=%v", n, err)
	}
}

func TestClearRemovesEverything(t *testing.T) {
	ctx := context.Background()
	ob := newTestOutbox()
	ob.Add(ctx, newTx("rows/1", time.Now()))
	ob.Add(ctx, newTx("rows/2", time.Now()))

	if err := ob.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	n, err := ob.Count(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected count 0 after clear, got %d err=%v", n, err)
	}
}

func TestGetAllSkipsUnresolvableCollection(t *testing.T) {
	ctx := context.Background()
	storage := memory.NewStorage()
	ob := New(storage, mutbox.MapCollectionRegistry{}, nil)

	tx := newTx("rows/1", time.Now())
	if err := ob.Add(ctx, tx); err != nil {
		t.Fatal(err)
	}

	all, err := ob.GetAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("expected entries with unresolvable collectionId to be skipped, got %d", len(all))
	}
}
