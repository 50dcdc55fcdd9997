package query

import (
	"context"
	"time"

	"github.com/dbis-ilm/poseidon/internal/graph"
	"github.com/dbis-ilm/poseidon/internal/poserr"
	"github.com/dbis-ilm/poseidon/internal/tuple"
)

// ExprKind discriminates one node of the expression tree that filter_tuple
// and project compile (spec.md §4.8 "Expression evaluator").
type ExprKind uint8

const (
	ExprLiteral ExprKind = iota
	ExprVarRef
	ExprProperty
	ExprLabelOf
	ExprArith
	ExprCompare
	ExprLogical
	ExprNot
	ExprCall
)

// Op names an arithmetic, comparison or logical operator.
type Op string

const (
	OpAdd Op = "+"
	OpSub Op = "-"
	OpMul Op = "*"
	OpDiv Op = "/"

	OpEQ Op = "="
	OpNE Op = "<>"
	OpLT Op = "<"
	OpLE Op = "<="
	OpGT Op = ">"
	OpGE Op = ">="

	OpAnd Op = "and"
	OpOr  Op = "or"
)

// Expr is one node of an expression tree. Exactly the fields relevant to
// Kind are populated.
type Expr struct {
	Kind        ExprKind
	Lit         tuple.Cell
	Pos         int
	Prop        string
	Op          Op
	Left, Right *Expr
	Operand     *Expr
	Fn          string
	Args        []*Expr
}

func Lit(c tuple.Cell) *Expr                 { return &Expr{Kind: ExprLiteral, Lit: c} }
func Var(pos int) *Expr                      { return &Expr{Kind: ExprVarRef, Pos: pos} }
func PropertyOf(pos int, name string) *Expr   { return &Expr{Kind: ExprProperty, Pos: pos, Prop: name, Operand: Var(pos)} }
func PropertyOfExpr(e *Expr, name string) *Expr { return &Expr{Kind: ExprProperty, Prop: name, Operand: e} }
func LabelOf(pos int) *Expr                  { return &Expr{Kind: ExprLabelOf, Operand: Var(pos)} }
func Arith(op Op, l, r *Expr) *Expr           { return &Expr{Kind: ExprArith, Op: op, Left: l, Right: r} }
func Compare(op Op, l, r *Expr) *Expr         { return &Expr{Kind: ExprCompare, Op: op, Left: l, Right: r} }
func Logical(op Op, l, r *Expr) *Expr         { return &Expr{Kind: ExprLogical, Op: op, Left: l, Right: r} }
func Not(e *Expr) *Expr                       { return &Expr{Kind: ExprNot, Operand: e} }
func Call(fn string, args ...*Expr) *Expr     { return &Expr{Kind: ExprCall, Fn: fn, Args: args} }

// instrOp is one opcode of a compiled expression's flat postfix program
// (spec.md §9: "the expression tree becomes a flat, compiled stack-machine
// program" rather than a recursively walked tree).
type instrOp uint8

const (
	iPushLit instrOp = iota
	iPushVar
	iProperty
	iLabel
	iArith
	iCompare
	iLogical
	iNot
	iCall
)

type instr struct {
	op    instrOp
	lit   tuple.Cell
	pos   int
	prop  string
	aop   Op
	fn    string
	nargs int
}

// compiledExpr is an expression flattened to postfix: children are compiled
// before the operator that consumes them, so a plain stack evaluator can
// execute the list without recursion.
type compiledExpr struct {
	code []instr
}

// Compile flattens e into a compiledExpr ready for repeated evaluation.
func Compile(e *Expr) compiledExpr {
	var code []instr
	emit(e, &code)
	return compiledExpr{code: code}
}

func emit(e *Expr, code *[]instr) {
	if e == nil {
		return
	}
	switch e.Kind {
	case ExprLiteral:
		*code = append(*code, instr{op: iPushLit, lit: e.Lit})
	case ExprVarRef:
		*code = append(*code, instr{op: iPushVar, pos: e.Pos})
	case ExprProperty:
		emit(e.Operand, code)
		*code = append(*code, instr{op: iProperty, prop: e.Prop})
	case ExprLabelOf:
		emit(e.Operand, code)
		*code = append(*code, instr{op: iLabel})
	case ExprArith:
		emit(e.Left, code)
		emit(e.Right, code)
		*code = append(*code, instr{op: iArith, aop: e.Op})
	case ExprCompare:
		emit(e.Left, code)
		emit(e.Right, code)
		*code = append(*code, instr{op: iCompare, aop: e.Op})
	case ExprLogical:
		emit(e.Left, code)
		emit(e.Right, code)
		*code = append(*code, instr{op: iLogical, aop: e.Op})
	case ExprNot:
		emit(e.Operand, code)
		*code = append(*code, instr{op: iNot})
	case ExprCall:
		for _, a := range e.Args {
			emit(a, code)
		}
		*code = append(*code, instr{op: iCall, fn: e.Fn, nargs: len(e.Args)})
	}
}

// evalCtx bundles what the stack machine needs beyond the instruction
// stream: the graph store for property/label resolution and the current
// input tuple for variable references.
type evalCtx struct {
	ctx   context.Context
	store *graph.Store
	t     *tuple.Tuple
}

// eval runs c's program against a tuple, returning the single resulting
// cell. Per spec.md §7's propagation policy, a property/label lookup that
// fails because the record, property or label simply doesn't exist becomes
// a null cell rather than an error; storage failures still propagate.
func eval(ec evalCtx, c compiledExpr) (tuple.Cell, error) {
	stack := make([]tuple.Cell, 0, len(c.code))
	pop := func() tuple.Cell {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}
	for _, ins := range c.code {
		switch ins.op {
		case iPushLit:
			stack = append(stack, ins.lit)
		case iPushVar:
			v, _ := ec.t.At(ins.pos)
			stack = append(stack, v)
		case iProperty:
			operand := pop()
			val, err := resolveProperty(ec, operand, ins.prop)
			if err != nil {
				return tuple.Cell{}, err
			}
			stack = append(stack, val)
		case iLabel:
			operand := pop()
			val, err := resolveLabel(ec, operand)
			if err != nil {
				return tuple.Cell{}, err
			}
			stack = append(stack, val)
		case iArith:
			r, l := pop(), pop()
			stack = append(stack, evalArith(ins.aop, l, r))
		case iCompare:
			r, l := pop(), pop()
			stack = append(stack, evalCompare(ins.aop, l, r))
		case iLogical:
			r, l := pop(), pop()
			stack = append(stack, evalLogical(ins.aop, l, r))
		case iNot:
			v := pop()
			stack = append(stack, boolCell(!truthy(v)))
		case iCall:
			args := make([]tuple.Cell, ins.nargs)
			for i := ins.nargs - 1; i >= 0; i-- {
				args[i] = pop()
			}
			val, err := evalCall(ec, ins.fn, args)
			if err != nil {
				return tuple.Cell{}, err
			}
			stack = append(stack, val)
		}
	}
	if len(stack) == 0 {
		return tuple.NullCell(), nil
	}
	return stack[len(stack)-1], nil
}

// boolCell represents a predicate result: IntCell(1) for true, IntCell(0)
// for false. The cell vocabulary (spec.md §4.8/§6.3) has no dedicated
// boolean kind. A comparison or logical expression placed in project(...)
// reaches the result set as one of these int cells.
func boolCell(b bool) tuple.Cell {
	if b {
		return tuple.IntCell(1)
	}
	return tuple.IntCell(0)
}

// truthy reports whether c should be treated as true by filter_tuple: null
// and zero are false, everything else is true.
func truthy(c tuple.Cell) bool {
	switch c.Kind {
	case tuple.KindNull:
		return false
	case tuple.KindInt:
		return c.Int != 0
	case tuple.KindUint64:
		return c.Uint64 != 0
	case tuple.KindDouble:
		return c.Double != 0
	default:
		return true
	}
}

func resolveProperty(ec evalCtx, operand tuple.Cell, name string) (tuple.Cell, error) {
	switch operand.Kind {
	case tuple.KindNodeID:
		rec, err := ec.store.Node(operand.NodeID)
		if err != nil {
			return nullOnMiss(err)
		}
		val, ok, err := ec.store.Property(rec.PropHead, name)
		if err != nil {
			return nullOnMiss(err)
		}
		if !ok {
			return tuple.NullCell(), nil
		}
		return valueToCell(val), nil
	case tuple.KindRelID:
		rec, err := ec.store.Relationship(operand.RelID)
		if err != nil {
			return nullOnMiss(err)
		}
		val, ok, err := ec.store.Property(rec.PropHead, name)
		if err != nil {
			return nullOnMiss(err)
		}
		if !ok {
			return tuple.NullCell(), nil
		}
		return valueToCell(val), nil
	case tuple.KindNodeDesc:
		if s, ok := operand.Node.Properties[name]; ok {
			return tuple.StringCell(s), nil
		}
		return tuple.NullCell(), nil
	case tuple.KindRelDesc:
		if s, ok := operand.Rel.Properties[name]; ok {
			return tuple.StringCell(s), nil
		}
		return tuple.NullCell(), nil
	default:
		return tuple.NullCell(), nil
	}
}

func resolveLabel(ec evalCtx, operand tuple.Cell) (tuple.Cell, error) {
	var code uint64
	switch operand.Kind {
	case tuple.KindNodeID:
		rec, err := ec.store.Node(operand.NodeID)
		if err != nil {
			return nullOnMiss(err)
		}
		code = rec.LabelCode
	case tuple.KindRelID:
		rec, err := ec.store.Relationship(operand.RelID)
		if err != nil {
			return nullOnMiss(err)
		}
		code = rec.LabelCode
	case tuple.KindNodeDesc:
		return tuple.StringCell(operand.Node.Label), nil
	case tuple.KindRelDesc:
		return tuple.StringCell(operand.Rel.Label), nil
	default:
		return tuple.NullCell(), nil
	}
	label, err := ec.store.Label(code)
	if err != nil {
		return nullOnMiss(err)
	}
	return tuple.StringCell(label), nil
}

// nullOnMiss implements spec.md §7's propagation policy at the evaluator
// boundary: a failure classified as a visibility/lookup miss becomes null,
// while a genuine storage failure still aborts the pipeline.
func nullOnMiss(err error) (tuple.Cell, error) {
	switch poserr.Classify(err) {
	case poserr.KindUnknownID, poserr.KindUnknownProperty, poserr.KindUnknownLabel, poserr.KindVersionConflict:
		return tuple.NullCell(), nil
	default:
		return tuple.Cell{}, err
	}
}

func valueToCell(v graph.Value) tuple.Cell {
	switch v.Kind {
	case graph.PropInt:
		return tuple.IntCell(v.Int)
	case graph.PropDouble:
		return tuple.DoubleCell(v.Double)
	case graph.PropUint64:
		return tuple.Uint64Cell(v.Uint64)
	case graph.PropString:
		return tuple.StringCell(v.Str)
	case graph.PropTimestamp:
		return tuple.TimestampCell(v.Timestamp)
	default:
		return tuple.NullCell()
	}
}

func asFloat(c tuple.Cell) (float64, bool) {
	switch c.Kind {
	case tuple.KindInt:
		return float64(c.Int), true
	case tuple.KindDouble:
		return c.Double, true
	case tuple.KindUint64:
		return float64(c.Uint64), true
	case tuple.KindTimestamp:
		return float64(c.Time.UnixNano()), true
	default:
		return 0, false
	}
}

func evalArith(op Op, l, r tuple.Cell) tuple.Cell {
	if l.IsNull() || r.IsNull() {
		return tuple.NullCell()
	}
	lf, lok := asFloat(l)
	rf, rok := asFloat(r)
	if !lok || !rok {
		return tuple.NullCell()
	}
	// Keep integer arithmetic exact when both sides are integral.
	if (l.Kind == tuple.KindInt || l.Kind == tuple.KindUint64) && (r.Kind == tuple.KindInt || r.Kind == tuple.KindUint64) {
		li, ri := l.Int, r.Int
		if l.Kind == tuple.KindUint64 {
			li = int64(l.Uint64)
		}
		if r.Kind == tuple.KindUint64 {
			ri = int64(r.Uint64)
		}
		switch op {
		case OpAdd:
			return tuple.IntCell(li + ri)
		case OpSub:
			return tuple.IntCell(li - ri)
		case OpMul:
			return tuple.IntCell(li * ri)
		case OpDiv:
			if ri == 0 {
				return tuple.NullCell()
			}
			return tuple.IntCell(li / ri)
		}
	}
	switch op {
	case OpAdd:
		return tuple.DoubleCell(lf + rf)
	case OpSub:
		return tuple.DoubleCell(lf - rf)
	case OpMul:
		return tuple.DoubleCell(lf * rf)
	case OpDiv:
		if rf == 0 {
			return tuple.NullCell()
		}
		return tuple.DoubleCell(lf / rf)
	default:
		return tuple.NullCell()
	}
}

func evalCompare(op Op, l, r tuple.Cell) tuple.Cell {
	if l.IsNull() || r.IsNull() {
		return boolCell(false)
	}
	if l.Kind == tuple.KindString || r.Kind == tuple.KindString {
		return boolCell(compareStrings(op, l.Str, r.Str))
	}
	if l.Kind == tuple.KindTimestamp || r.Kind == tuple.KindTimestamp {
		return boolCell(compareTimes(op, l.Time, r.Time))
	}
	if l.Kind == r.Kind && (l.Kind == tuple.KindNodeID || l.Kind == tuple.KindRelID) {
		li, ri := l.NodeID, r.NodeID
		if l.Kind == tuple.KindRelID {
			li, ri = l.RelID, r.RelID
		}
		switch op {
		case OpEQ:
			return boolCell(li == ri)
		case OpNE:
			return boolCell(li != ri)
		}
		return boolCell(false)
	}
	lf, lok := asFloat(l)
	rf, rok := asFloat(r)
	if !lok || !rok {
		return boolCell(op == OpNE)
	}
	switch op {
	case OpEQ:
		return boolCell(lf == rf)
	case OpNE:
		return boolCell(lf != rf)
	case OpLT:
		return boolCell(lf < rf)
	case OpLE:
		return boolCell(lf <= rf)
	case OpGT:
		return boolCell(lf > rf)
	case OpGE:
		return boolCell(lf >= rf)
	default:
		return boolCell(false)
	}
}

func compareStrings(op Op, l, r string) bool {
	switch op {
	case OpEQ:
		return l == r
	case OpNE:
		return l != r
	case OpLT:
		return l < r
	case OpLE:
		return l <= r
	case OpGT:
		return l > r
	case OpGE:
		return l >= r
	default:
		return false
	}
}

func compareTimes(op Op, l, r time.Time) bool {
	switch op {
	case OpEQ:
		return l.Equal(r)
	case OpNE:
		return !l.Equal(r)
	case OpLT:
		return l.Before(r)
	case OpLE:
		return l.Before(r) || l.Equal(r)
	case OpGT:
		return l.After(r)
	case OpGE:
		return l.After(r) || l.Equal(r)
	default:
		return false
	}
}

func evalLogical(op Op, l, r tuple.Cell) tuple.Cell {
	switch op {
	case OpAnd:
		return boolCell(truthy(l) && truthy(r))
	case OpOr:
		return boolCell(truthy(l) || truthy(r))
	default:
		return boolCell(false)
	}
}

func evalCall(ec evalCtx, fn string, args []tuple.Cell) (tuple.Cell, error) {
	switch fn {
	case "int_property":
		return castNumeric(args, func(f float64) tuple.Cell { return tuple.IntCell(int64(f)) })
	case "double_property":
		return castNumeric(args, func(f float64) tuple.Cell { return tuple.DoubleCell(f) })
	case "string_property":
		if len(args) > 0 {
			return tuple.StringCell(args[0].Canonical()), nil
		}
		return tuple.NullCell(), nil
	default:
		return tuple.NullCell(), nil
	}
}

func castNumeric(args []tuple.Cell, wrap func(float64) tuple.Cell) (tuple.Cell, error) {
	if len(args) == 0 || args[0].IsNull() {
		return tuple.NullCell(), nil
	}
	f, ok := asFloat(args[0])
	if !ok {
		return tuple.NullCell(), nil
	}
	return wrap(f), nil
}
