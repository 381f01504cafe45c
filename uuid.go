package mutbox

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// UUID is a thin wrapper over github.com/google/uuid.UUID, keeping this module decoupled
// from the external package's API surface. Transaction ids and idempotency keys are both UUIDs.
type UUID uuid.UUID

// ParseUUID converts a string to a UUID. It returns an error if the input is not a valid UUID.
func ParseUUID(id string) (UUID, error) {
	u, err := uuid.Parse(id)
	return UUID(u), err
}

// NewUUID returns a new randomly generated UUID. It makes up to 10 attempts, sleeping 1ms after
// each failure, and panics only if all attempts fail (which should never happen under normal conditions).
func NewUUID() UUID {
	var err error
	for i := 0; i < 10; i++ {
		var id uuid.UUID
		id, err = uuid.NewRandom()
		if err == nil {
			return UUID(id)
		}
		time.Sleep(1 * time.Millisecond)
	}
	panic(err)
}

// NewIdempotencyKey returns a new opaque token suitable for handing to a mutation function
// so the server can deduplicate retried attempts of the same transaction.
func NewIdempotencyKey() UUID {
	return NewUUID()
}

// NilUUID is the zero-value UUID.
var NilUUID UUID

// IsNil reports whether the UUID equals the zero-value UUID.
func (id UUID) IsNil() bool {
	return bytes.Equal(id[:], NilUUID[:])
}

// String returns the canonical string representation of the UUID.
func (id UUID) String() string {
	return uuid.UUID(id).String()
}

// Compare compares two UUIDs lexicographically by byte. This is the same order as
// comparing their canonical strings, which the Outbox and Scheduler sorts use to
// tie-break transactions that share a CreatedAt timestamp.
func (x UUID) Compare(y UUID) int {
	return bytes.Compare(x[:], y[:])
}

// MarshalJSON renders the UUID as its canonical string form.
func (id UUID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON parses the UUID from its canonical string form.
func (id *UUID) UnmarshalJSON(data []byte) error {
	if len(data) < 2 {
		*id = NilUUID
		return nil
	}
	s := string(data[1 : len(data)-1])
	if s == "" {
		*id = NilUUID
		return nil
	}
	u, err := ParseUUID(s)
	if err != nil {
		return err
	}
	*id = u
	return nil
}
