package query

import (
	"context"

	"github.com/dbis-ilm/poseidon/internal/tuple"
)

// binaryOperator is implemented by every two-input operator (joins,
// union_all). Its two upstreams are each wrapped in a binaryEnd adapter
// (spec.md §9: "binary operators hold two parent indices") so an upstream
// producer can push into it exactly like any other unary consumer, without
// knowing its downstream is actually one side of a join.
type binaryOperator interface {
	consumeLeft(ctx context.Context, t *tuple.Tuple) error
	consumeRight(ctx context.Context, t *tuple.Tuple) error
	finishLeft(ctx context.Context) error
	finishRight(ctx context.Context) error
}

// binaryEnd is the arena-resident adapter occupying one of a binary
// operator's two parent slots. It implements the plain operator interface
// by dispatching to the Left or Right half of target.
type binaryEnd struct {
	target binaryOperator
	left   bool
}

func (e *binaryEnd) consume(ctx context.Context, t *tuple.Tuple) error {
	if e.left {
		return e.target.consumeLeft(ctx, t)
	}
	return e.target.consumeRight(ctx, t)
}

func (e *binaryEnd) finish(ctx context.Context) error {
	if e.left {
		return e.target.finishLeft(ctx)
	}
	return e.target.finishRight(ctx)
}
