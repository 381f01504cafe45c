// Package outbox implements the durable, storage-backed transaction queue
// described in spec §4.B: a key-prefixed mapping from transaction id to
// serialized envelope, with enumeration, targeted lookup, and pruning of
// entries that fail to deserialize.
package outbox

import (
	"context"
	"fmt"
	"sort"
	"strings"
	log "log/slog"

	"github.com/sharedcode/mutbox"
)

const keyPrefix = "tx:"

func keyFor(id mutbox.UUID) string {
	return keyPrefix + id.String()
}

// Outbox is the durable mapping from transaction id to serialized envelope.
// It is safe for concurrent use so long as the underlying StorageAdapter is.
type Outbox struct {
	storage    mutbox.StorageAdapter
	serializer *mutbox.Serializer
	registry   mutbox.CollectionRegistry
}

// New builds an Outbox over storage, deserializing entries against registry.
// A nil serializer uses the default JSON marshaler.
func New(storage mutbox.StorageAdapter, registry mutbox.CollectionRegistry, serializer *mutbox.Serializer) *Outbox {
	if serializer == nil {
		serializer = mutbox.NewSerializer(nil)
	}
	return &Outbox{storage: storage, serializer: serializer, registry: registry}
}

// Add serializes tx and writes it under its key, overwriting any prior value
// for the same id (spec §4.B: used for both insert and update).
func (o *Outbox) Add(ctx context.Context, tx *mutbox.Transaction) error {
	blob, err := o.serializer.Serialize(tx)
	if err != nil {
		return err
	}
	if err := o.storage.Set(ctx, keyFor(tx.ID), blob); err != nil {
		return &mutbox.Error{Code: mutbox.CodeStorageFailure, Err: fmt.Errorf("outbox add %s: %w", tx.ID, err)}
	}
	return nil
}

// Get reads and deserializes the transaction stored under id. A deserialize
// failure is logged and reported as not-found, per spec §4.A.
func (o *Outbox) Get(ctx context.Context, id mutbox.UUID) (*mutbox.Transaction, error) {
	blob, found, err := o.storage.Get(ctx, keyFor(id))
	if err != nil {
		return nil, &mutbox.Error{Code: mutbox.CodeStorageFailure, Err: fmt.Errorf("outbox get %s: %w", id, err)}
	}
	if !found {
		return nil, nil
	}
	tx, err := o.serializer.Deserialize(blob, o.registry)
	if err != nil {
		log.Warn("outbox: dropping entry that failed to deserialize", "id", id.String(), "error", err)
		return nil, nil
	}
	return tx, nil
}

// GetAll enumerates every tx: key, deserializes each, skips and deletes entries
// that fail to deserialize, and returns the result sorted ascending by CreatedAt (ties broken by id, per
// spec §9's deterministic-FIFO note).
func (o *Outbox) GetAll(ctx context.Context) ([]*mutbox.Transaction, error) {
	keys, err := o.storage.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, &mutbox.Error{Code: mutbox.CodeStorageFailure, Err: fmt.Errorf("outbox getAll: %w", err)}
	}
	txs := make([]*mutbox.Transaction, 0, len(keys))
	for _, key := range keys {
		blob, found, err := o.storage.Get(ctx, key)
		if err != nil {
			return nil, &mutbox.Error{Code: mutbox.CodeStorageFailure, Err: fmt.Errorf("outbox getAll read %s: %w", key, err)}
		}
		if !found {
			continue
		}
		tx, err := o.serializer.Deserialize(blob, o.registry)
		if err != nil {
			log.Warn("outbox: pruning unreadable entry during getAll", "key", key, "error", err)
			if delErr := o.storage.Delete(ctx, key); delErr != nil {
				log.Warn("outbox: failed to prune unreadable entry", "key", key, "error", delErr)
			}
			continue
		}
		txs = append(txs, tx)
	}
	sortByCreatedAt(txs)
	return txs, nil
}

func sortByCreatedAt(txs []*mutbox.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].ID.String() < txs[j].ID.String()
		}
		return txs[i].CreatedAt.Before(txs[j].CreatedAt)
	})
}

// GetByKeys filters GetAll to transactions whose Keys() intersect globalKeys.
func (o *Outbox) GetByKeys(ctx context.Context, globalKeys []string) ([]*mutbox.Transaction, error) {
	want := make(map[string]struct{}, len(globalKeys))
	for _, k := range globalKeys {
		want[k] = struct{}{}
	}
	all, err := o.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []*mutbox.Transaction
	for _, tx := range all {
		for _, k := range tx.Keys() {
			if _, ok := want[k]; ok {
				out = append(out, tx)
				break
			}
		}
	}
	return out, nil
}

// Update performs a read-modify-write: apply patch to the stored transaction
// and persist the result. Fails with CodeNotFound when id is absent.
func (o *Outbox) Update(ctx context.Context, id mutbox.UUID, patch func(tx *mutbox.Transaction)) error {
	tx, err := o.Get(ctx, id)
	if err != nil {
		return err
	}
	if tx == nil {
		return mutbox.NewNotFoundError(id)
	}
	patch(tx)
	return o.Add(ctx, tx)
}

// Remove deletes the entry for id. Removing a non-existent id is a no-op.
func (o *Outbox) Remove(ctx context.Context, id mutbox.UUID) error {
	if err := o.storage.Delete(ctx, keyFor(id)); err != nil {
		return &mutbox.Error{Code: mutbox.CodeStorageFailure, Err: fmt.Errorf("outbox remove %s: %w", id, err)}
	}
	return nil
}

// RemoveMany removes every id in ids, stopping at the first storage failure.
func (o *Outbox) RemoveMany(ctx context.Context, ids []mutbox.UUID) error {
	for _, id := range ids {
		if err := o.Remove(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes every tx: entry.
func (o *Outbox) Clear(ctx context.Context) error {
	keys, err := o.storage.Keys(ctx, keyPrefix)
	if err != nil {
		return &mutbox.Error{Code: mutbox.CodeStorageFailure, Err: fmt.Errorf("outbox clear: %w", err)}
	}
	for _, key := range keys {
		if !strings.HasPrefix(key, keyPrefix) {
			continue
		}
		if err := o.storage.Delete(ctx, key); err != nil {
			return &mutbox.Error{Code: mutbox.CodeStorageFailure, Err: fmt.Errorf("outbox clear %s: %w", key, err)}
		}
	}
	return nil
}

// Count returns the number of tx: entries currently in storage (including any
// that would fail to deserialize).
func (o *Outbox) Count(ctx context.Context) (int, error) {
	keys, err := o.storage.Keys(ctx, keyPrefix)
	if err != nil {
		return 0, &mutbox.Error{Code: mutbox.CodeStorageFailure, Err: fmt.Errorf("outbox count: %w", err)}
	}
	return len(keys), nil
}
