// Package filterexpr builds the optional beforeRetry filter (spec §4.E/§6) from
// a CEL boolean expression, so a caller can decide which rescued transactions
// survive a restart without recompiling the program. Grounded on the teacher's
// cel.Evaluator, generalized from a numeric comparator to a keep/drop predicate.
package filterexpr

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"

	"github.com/sharedcode/mutbox"
)

// Filter evaluates a compiled CEL expression against a transaction's fields to
// decide whether it survives a replay.
type Filter struct {
	Expression string
	program    cel.Program
}

// New compiles expression. The expression sees a single variable `tx`, a
// map[string]any with keys "id", "mutationFnName", "retryCount", "createdAt"
// (epoch ms), "idempotencyKey", and "metadata", and must evaluate to a bool.
func New(expression string) (*Filter, error) {
	if expression == "" {
		return nil, fmt.Errorf("filterexpr: expression can't be an empty string")
	}

	env, err := cel.NewEnv(
		cel.Variable("tx", cel.MapType(cel.StringType, cel.AnyType)),
	)
	if err != nil {
		return nil, fmt.Errorf("filterexpr: error creating CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("filterexpr: error compiling expression: %w", issues.Err())
	}
	p, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("filterexpr: error creating program: %w", err)
	}
	return &Filter{Expression: expression, program: p}, nil
}

// Keep evaluates the compiled expression against tx and reports whether it
// should be kept.
func (f *Filter) Keep(tx *mutbox.Transaction) (bool, error) {
	out, _, err := f.program.Eval(map[string]any{"tx": toCELMap(tx)})
	if err != nil {
		return false, fmt.Errorf("filterexpr: error evaluating expression: %w", err)
	}
	nv, err := out.ConvertToNative(reflect.TypeOf(false))
	if err != nil {
		return false, fmt.Errorf("filterexpr: expression did not evaluate to bool: %w", err)
	}
	b, ok := nv.(bool)
	if !ok {
		return false, fmt.Errorf("filterexpr: expression did not evaluate to bool, got %T", nv)
	}
	return b, nil
}

func toCELMap(tx *mutbox.Transaction) map[string]any {
	return map[string]any{
		"id":             tx.ID.String(),
		"mutationFnName": tx.MutationFnName,
		"retryCount":     tx.RetryCount,
		"createdAt":      tx.CreatedAt.UnixMilli(),
		"idempotencyKey": tx.IdempotencyKey.String(),
		"metadata":       tx.Metadata,
	}
}

// BeforeRetryFunc returns a function with the shape the executor package's
// BeforeRetryFilter expects: given the full Outbox snapshot, return the subset
// to keep. Named without importing the executor package, to keep this package
// leaf-level in the dependency graph.
func (f *Filter) BeforeRetryFunc() func(txs []*mutbox.Transaction) []*mutbox.Transaction {
	return func(txs []*mutbox.Transaction) []*mutbox.Transaction {
		kept := make([]*mutbox.Transaction, 0, len(txs))
		for _, tx := range txs {
			ok, err := f.Keep(tx)
			if err != nil || !ok {
				continue
			}
			kept = append(kept, tx)
		}
		return kept
	}
}
