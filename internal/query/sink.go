package query

import (
	"context"
	"fmt"
	"io"

	"github.com/dbis-ilm/poseidon/internal/tuple"
)

// ResultSet accumulates the tuples collect_result gathers (spec.md §4.8
// "terminal methods are collect(result_set&), print(), or finish()").
type ResultSet struct {
	Rows []*tuple.Tuple
}

// collectResultOp implements collect_result(result_set&): append every
// tuple to set.
type collectResultOp struct {
	base
	set *ResultSet
}

func (c *collectResultOp) consume(ctx context.Context, t *tuple.Tuple) error {
	c.set.Rows = append(c.set.Rows, t)
	return nil
}

func (c *collectResultOp) finish(ctx context.Context) error { return nil }

// printOp implements print(): write each tuple's canonical rendering to w,
// one per line (spec.md §6.3).
type printOp struct {
	base
	w io.Writer
}

func (p *printOp) consume(ctx context.Context, t *tuple.Tuple) error {
	_, err := fmt.Fprintln(p.w, t.String())
	return err
}

func (p *printOp) finish(ctx context.Context) error { return nil }

// endPipelineOp implements end_pipeline: a pure sink that discards every
// tuple, used when only the pipeline's side effects (create/update/remove
// operators) matter.
type endPipelineOp struct {
	base
}

func (e *endPipelineOp) consume(ctx context.Context, t *tuple.Tuple) error { return nil }
func (e *endPipelineOp) finish(ctx context.Context) error                 { return nil }
