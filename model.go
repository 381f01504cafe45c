package mutbox

import "time"

// EnvelopeVersion is the current on-disk envelope version (spec §3.2). Deserialize
// discards any other version with a logged warning.
const EnvelopeVersion = 1

// MutationType enumerates the per-row operation kinds carried by a transaction.
type MutationType int

const (
	Insert MutationType = iota
	Update
	Delete
)

// String renders the MutationType for logging.
func (m MutationType) String() string {
	switch m {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// Mutation is one per-row operation inside a Transaction. Modified and Original are
// opaque JSON-compatible payloads; the core never interprets their contents.
type Mutation struct {
	GlobalKey    string        `json:"globalKey"`
	Type         MutationType  `json:"type"`
	Modified     any           `json:"modified,omitempty"`
	Original     any           `json:"original,omitempty"`
	CollectionID string        `json:"collectionId"`
}

// LastError captures the most recent mutation-function failure for a transaction,
// enough to reconstruct a meaningful rejection if the waiter is re-created across a restart.
type LastError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// NewLastError builds a LastError from a Go error.
func NewLastError(err error) *LastError {
	if err == nil {
		return nil
	}
	name := "Error"
	if e, ok := err.(*Error); ok {
		name = errorCodeName(e.Code)
	}
	return &LastError{Name: name, Message: err.Error()}
}

func errorCodeName(c ErrorCode) string {
	switch c {
	case CodeNonRetriable:
		return "NonRetriable"
	case CodeTransient:
		return "Transient"
	case CodeUnknownMutationFn:
		return "UnknownMutationFn"
	case CodeDeserializeFailed:
		return "DeserializeFailed"
	case CodeStorageFailure:
		return "StorageFailure"
	case CodeNotFound:
		return "NotFound"
	default:
		return "Error"
	}
}

// Transaction is the immutable-by-convention (outside the Executor's retry bookkeeping)
// in-memory record described by spec §3.1.
type Transaction struct {
	ID              UUID
	MutationFnName  string
	Mutations       []Mutation
	IdempotencyKey  UUID
	CreatedAt       time.Time
	RetryCount      int
	NextAttemptAt   time.Time
	LastError       *LastError
	Metadata        map[string]any
	Version         int

	// Collections holds the live collection references resolved from each Mutation's
	// CollectionID by the Serializer on load (spec §4.A). Never persisted.
	Collections map[string]Collection `json:"-"`
}

// Keys returns the set of GlobalKey strings extracted from Mutations, used for
// Outbox.GetByKeys targeted queries. Order is insertion order with duplicates removed.
func (t *Transaction) Keys() []string {
	seen := make(map[string]struct{}, len(t.Mutations))
	keys := make([]string, 0, len(t.Mutations))
	for _, m := range t.Mutations {
		if _, ok := seen[m.GlobalKey]; ok {
			continue
		}
		seen[m.GlobalKey] = struct{}{}
		keys = append(keys, m.GlobalKey)
	}
	return keys
}

// HasKey reports whether any mutation in the transaction targets globalKey.
func (t *Transaction) HasKey(globalKey string) bool {
	for _, m := range t.Mutations {
		if m.GlobalKey == globalKey {
			return true
		}
	}
	return false
}

// Clone returns a shallow copy of the transaction suitable for producing an updated
// record (new RetryCount/NextAttemptAt/LastError) without mutating the original in place,
// matching the Executor's "produce an updated tx" step in the drain algorithm (spec §4.E).
func (t *Transaction) Clone() *Transaction {
	c := *t
	c.Mutations = append([]Mutation(nil), t.Mutations...)
	return &c
}

// MutationContext is the narrow view of a Transaction handed to a MutationFn (spec §6):
// the server never needs the retry bookkeeping, only identity, payload, and metadata.
type MutationContext struct {
	ID        UUID
	Mutations []Mutation
	Metadata  map[string]any
}

// MutationInput is the full argument passed to a MutationFn invocation.
type MutationInput struct {
	Transaction    MutationContext
	IdempotencyKey UUID
}
