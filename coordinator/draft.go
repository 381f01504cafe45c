package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/sharedcode/mutbox"
)

// Draft is the caller-side builder that accumulates mutations and, on Commit,
// emits a Transaction to the Outbox (spec GLOSSARY, §4.F).
type Draft struct {
	coordinator    *Coordinator
	mutationFnName string
	mutations      []mutbox.Mutation
	metadata       map[string]any
}

// Stage appends m to the draft's mutation list and returns the draft for chaining.
func (d *Draft) Stage(m mutbox.Mutation) *Draft {
	d.mutations = append(d.mutations, m)
	return d
}

// Commit finalizes the draft into a Transaction, persists it through the
// Coordinator, and blocks until the mutation function settles its waiter (or
// ctx is cancelled). A non-leader Coordinator resolves immediately with nil,
// per spec §5's cross-tab handover behavior.
func (d *Draft) Commit(ctx context.Context) (any, error) {
	if len(d.mutations) == 0 {
		return nil, &mutbox.Error{Code: mutbox.CodeNonRetriable, Err: fmt.Errorf("draft has no staged mutations")}
	}

	now := time.Now()
	tx := &mutbox.Transaction{
		ID:             mutbox.NewUUID(),
		MutationFnName: d.mutationFnName,
		Mutations:      append([]mutbox.Mutation(nil), d.mutations...),
		IdempotencyKey: mutbox.NewIdempotencyKey(),
		CreatedAt:      now,
		NextAttemptAt:  now,
		Metadata:       d.metadata,
		Version:        mutbox.EnvelopeVersion,
	}

	ch := d.coordinator.waiters.WaitFor(tx.ID)

	if err := d.coordinator.persist(ctx, tx); err != nil {
		d.coordinator.waiters.cancel(tx.ID)
		return nil, err
	}

	select {
	case o := <-ch:
		return o.value, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
