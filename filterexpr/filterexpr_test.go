package filterexpr

import (
	"testing"
	"time"

	"github.com/sharedcode/mutbox"
)

func TestKeepBelowMaxRetryCount(t *testing.T) {
	f, err := New("tx['retryCount'] < 3")
	if err != nil {
		t.Fatal(err)
	}
	tx := &mutbox.Transaction{ID: mutbox.NewUUID(), RetryCount: 1, CreatedAt: time.Now()}
	keep, err := f.Keep(tx)
	if err != nil {
		t.Fatal(err)
	}
	if !keep {
		t.Errorf("expected tx with retryCount 1 to be kept")
	}
}

func TestDropAtMaxRetryCount(t *testing.T) {
	f, err := New("tx['retryCount'] < 3")
	if err != nil {
		t.Fatal(err)
	}
	tx := &mutbox.Transaction{ID: mutbox.NewUUID(), RetryCount: 3, CreatedAt: time.Now()}
	keep, err := f.Keep(tx)
	if err != nil {
		t.Fatal(err)
	}
	if keep {
		t.Errorf("expected tx with retryCount 3 to be dropped")
	}
}

func TestBeforeRetryFuncFiltersSlice(t *testing.T) {
	f, err := New("tx['mutationFnName'] == 'syncRow'")
	if err != nil {
		t.Fatal(err)
	}
	match := &mutbox.Transaction{ID: mutbox.NewUUID(), MutationFnName: "syncRow", CreatedAt: time.Now()}
	nonMatch := &mutbox.Transaction{ID: mutbox.NewUUID(), MutationFnName: "deleteRow", CreatedAt: time.Now()}

	kept := f.BeforeRetryFunc()([]*mutbox.Transaction{match, nonMatch})
	if len(kept) != 1 || kept[0].ID != match.ID {
		t.Errorf("expected only the matching transaction to survive, got %d entries", len(kept))
	}
}
