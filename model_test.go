package mutbox

import "testing"

func TestTransactionKeysDeduplicates(t *testing.T) {
	tx := &Transaction{Mutations: []Mutation{
		{GlobalKey: "a"},
		{GlobalKey: "b"},
		{GlobalKey: "a"},
	}}
	keys := tx.Keys()
	if len(keys) != 2 {
		t.Fatalf("expected 2 distinct keys, got %v", keys)
	}
	if keys[0] != "a" || keys[1] != "b" {
		t.Errorf("expected insertion order [a b], got %v", keys)
	}
}

func TestTransactionHasKey(t *testing.T) {
	tx := &Transaction{Mutations: []Mutation{{GlobalKey: "rows/1"}}}
	if !tx.HasKey("rows/1") {
		t.Errorf("expected HasKey to find rows/1")
	}
	if tx.HasKey("rows/2") {
		t.Errorf("expected HasKey to miss rows/2")
	}
}

func TestTransactionCloneIsIndependent(t *testing.T) {
	tx := &Transaction{ID: NewUUID(), Mutations: []Mutation{{GlobalKey: "rows/1"}}}
	clone := tx.Clone()
	clone.Mutations[0].GlobalKey = "rows/2"
	if tx.Mutations[0].GlobalKey != "rows/1" {
		t.Errorf("expected clone's mutation slice to be independent of the original")
	}
	if clone.ID != tx.ID {
		t.Errorf("expected clone to carry the same id")
	}
}
