package core

import "sync/atomic"

// IterationBudget caps the model calls a specialist may make within one
// turn. Spend reports false once the budget is used up, after which the
// caller ends the turn with whatever answer it has.
type IterationBudget struct {
	limit int64
	used  atomic.Int64
}

// NewIterationBudget returns a budget of limit calls. A limit of zero or
// less is unbounded.
func NewIterationBudget(limit int) *IterationBudget {
	return &IterationBudget{limit: int64(limit)}
}

// Spend takes one call from the budget.
func (b *IterationBudget) Spend() bool {
	n := b.used.Add(1)
	return b.limit <= 0 || n <= b.limit
}

// Used returns the number of calls attempted so far, including a refused one.
func (b *IterationBudget) Used() int { return int(b.used.Load()) }
