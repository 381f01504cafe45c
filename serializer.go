package mutbox

import (
	"fmt"
	"time"
)

// envelope is the on-disk shape of a Transaction (spec §3.2): no live collection
// references, CreatedAt/NextAttemptAt as epoch-ms for cross-language stability.
type envelope struct {
	ID             UUID       `json:"id"`
	MutationFnName string     `json:"mutationFnName"`
	Mutations      []Mutation `json:"mutations"`
	IdempotencyKey UUID       `json:"idempotencyKey"`
	CreatedAt      int64      `json:"createdAt"`
	RetryCount     int        `json:"retryCount"`
	NextAttemptAt  int64      `json:"nextAttemptAt"`
	LastError      *LastError `json:"lastError,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Version        int        `json:"version"`
}

// Serializer translates between an in-memory Transaction and its storable envelope
// (spec §4.A). It is stateless aside from the Marshaler it wraps.
type Serializer struct {
	marshaler Marshaler
}

// NewSerializer returns a Serializer using m to encode/decode envelopes. A nil m
// defaults to the standard JSON marshaler.
func NewSerializer(m Marshaler) *Serializer {
	if m == nil {
		m = NewMarshaler()
	}
	return &Serializer{marshaler: m}
}

// Serialize renders tx as its storable envelope string.
func (s *Serializer) Serialize(tx *Transaction) (string, error) {
	e := envelope{
		ID:             tx.ID,
		MutationFnName: tx.MutationFnName,
		Mutations:      tx.Mutations,
		IdempotencyKey: tx.IdempotencyKey,
		CreatedAt:      tx.CreatedAt.UnixMilli(),
		RetryCount:     tx.RetryCount,
		NextAttemptAt:  nextAttemptMillis(tx),
		LastError:      tx.LastError,
		Metadata:       tx.Metadata,
		Version:        EnvelopeVersion,
	}
	b, err := s.marshaler.Marshal(e)
	if err != nil {
		return "", &Error{Code: CodeStorageFailure, Err: fmt.Errorf("serialize transaction %s: %w", tx.ID, err)}
	}
	return string(b), nil
}

func nextAttemptMillis(tx *Transaction) int64 {
	if tx.NextAttemptAt.IsZero() {
		return tx.CreatedAt.UnixMilli()
	}
	return tx.NextAttemptAt.UnixMilli()
}

// Deserialize parses blob, validates the envelope version, rehydrates timestamps, and
// resolves each Mutation's CollectionID against registry. An unknown CollectionID or
// an unknown envelope version is a recoverable *Error with CodeDeserializeFailed; the
// caller (Outbox.GetAll) is expected to log and skip such entries.
func (s *Serializer) Deserialize(blob string, registry CollectionRegistry) (*Transaction, error) {
	var e envelope
	if err := s.marshaler.Unmarshal([]byte(blob), &e); err != nil {
		return nil, &Error{Code: CodeDeserializeFailed, Err: fmt.Errorf("unmarshal envelope: %w", err)}
	}
	if e.Version != EnvelopeVersion {
		return nil, &Error{Code: CodeDeserializeFailed, Err: fmt.Errorf("unknown envelope version %d", e.Version), UserData: e.Version}
	}
	if len(e.Mutations) == 0 {
		return nil, &Error{Code: CodeDeserializeFailed, Err: fmt.Errorf("transaction %s has no mutations", e.ID)}
	}

	collections := make(map[string]Collection, len(e.Mutations))
	if registry != nil {
		for _, m := range e.Mutations {
			if _, ok := collections[m.CollectionID]; ok {
				continue
			}
			c, ok := registry.Lookup(m.CollectionID)
			if !ok {
				return nil, &Error{
					Code:     CodeDeserializeFailed,
					Err:      fmt.Errorf("unknown collection %q referenced by transaction %s", m.CollectionID, e.ID),
					UserData: m.CollectionID,
				}
			}
			collections[m.CollectionID] = c
		}
	}

	tx := &Transaction{
		ID:             e.ID,
		MutationFnName: e.MutationFnName,
		Mutations:      e.Mutations,
		IdempotencyKey: e.IdempotencyKey,
		CreatedAt:      time.UnixMilli(e.CreatedAt),
		RetryCount:     e.RetryCount,
		NextAttemptAt:  time.UnixMilli(e.NextAttemptAt),
		LastError:      e.LastError,
		Metadata:       e.Metadata,
		Version:        e.Version,
		Collections:    collections,
	}
	return tx, nil
}
