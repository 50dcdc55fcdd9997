package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dbis-ilm/poseidon/internal/bufpool"
	"github.com/dbis-ilm/poseidon/internal/graph"
	"github.com/dbis-ilm/poseidon/internal/pageio"
	"github.com/dbis-ilm/poseidon/internal/poserr"
	"github.com/dbis-ilm/poseidon/internal/tuple"
)

func newTestStore(t *testing.T) *graph.Store {
	t.Helper()
	dir := t.TempDir()
	bp := bufpool.New(4000)

	open := func(name string, ftype pageio.FileType, id uint8) *pageio.File {
		f, err := pageio.Open(filepath.Join(dir, name), id, ftype)
		if err != nil {
			t.Fatalf("Open(%s): %v", name, err)
		}
		t.Cleanup(func() { f.Close() })
		if err := bp.RegisterFile(f); err != nil {
			t.Fatalf("RegisterFile(%s): %v", name, err)
		}
		return f
	}

	nodesFile := open("nodes.db", pageio.FileTypeNodes, 0)
	relsFile := open("rels.db", pageio.FileTypeRelationships, 1)
	propsFile := open("props.db", pageio.FileTypeProperties, 2)
	strFile := open("strings.db", pageio.FileTypeStringPool, 3)

	s, err := graph.OpenStore(nodesFile, relsFile, propsFile, strFile, bp)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	return s
}

// buildScenario4 constructs spec.md §8 scenario 4's graph: A→B, A→C, A→D,
// B→E, E→F, all labelled "knows", every node a Person with a firstName.
func buildScenario4(t *testing.T, s *graph.Store, ctx context.Context) map[string]graph.ID {
	names := []string{"A", "B", "C", "D", "E", "F"}
	ids := make(map[string]graph.ID, len(names))
	for _, n := range names {
		id, err := s.AddNode(ctx, "Person", []graph.Property{{Name: "firstName", Value: graph.StringValue(n)}})
		if err != nil {
			t.Fatalf("AddNode(%s): %v", n, err)
		}
		ids[n] = id
	}
	edges := [][2]string{{"A", "B"}, {"A", "C"}, {"A", "D"}, {"B", "E"}, {"E", "F"}}
	for _, e := range edges {
		if _, err := s.AddRelationship(ctx, ids[e[0]], ids[e[1]], "knows", nil); err != nil {
			t.Fatalf("AddRelationship(%s,%s): %v", e[0], e[1], err)
		}
	}
	return ids
}

// TestScanFilterTraverseProject runs spec.md §8 scenario 4's pipeline:
// scan(Person) where firstName=A . from(:knows) . to(Person) . project
// firstName, and checks it returns exactly {B, C, D}.
func TestScanFilterTraverseProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	buildScenario4(t, s, ctx)

	var set ResultSet
	p := NewPipeline(s).
		ScanNodes("Person").
		Filter(Compare(OpEQ, PropertyOf(0, "firstName"), Lit(tuple.StringCell("A")))).
		ForeachFromRship("knows", -1).
		GetToNode(-1).
		Project(PropertyOf(2, "firstName")).
		CollectResult(&set)

	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := map[string]bool{}
	for _, row := range set.Rows {
		c, ok := row.At(0)
		if !ok || c.Kind != tuple.KindString {
			t.Fatalf("row %v: expected a single string cell", row)
		}
		got[c.Str] = true
	}
	want := []string{"B", "C", "D"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want exactly %v", got, want)
	}
	for _, n := range want {
		if !got[n] {
			t.Fatalf("missing %q in result %v", n, got)
		}
	}
}

// TestAggregateCount runs aggregate(count) over every Person node.
func TestAggregateCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	buildScenario4(t, s, ctx)

	var set ResultSet
	p := NewPipeline(s).
		ScanNodes("Person").
		Aggregate([]AggItem{{Fn: AggCount, Expr: Var(0)}}).
		CollectResult(&set)

	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(set.Rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(set.Rows))
	}
	c, ok := set.Rows[0].At(0)
	if !ok || c.Kind != tuple.KindInt || c.Int != 6 {
		t.Fatalf("count = %v, want 6", c)
	}
}

// TestGroupByFirstName groups every node by its own firstName (each group of
// size 1, since names are unique) and counts members.
func TestGroupByFirstName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	buildScenario4(t, s, ctx)

	var set ResultSet
	p := NewPipeline(s).
		ScanNodes("Person").
		GroupBy([]*Expr{PropertyOf(0, "firstName")}, []AggItem{{Fn: AggCount, Expr: Var(0)}}).
		CollectResult(&set)

	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(set.Rows) != 6 {
		t.Fatalf("got %d groups, want 6", len(set.Rows))
	}
	for _, row := range set.Rows {
		countCell, ok := row.At(1)
		if !ok || countCell.Kind != tuple.KindInt || countCell.Int != 1 {
			t.Fatalf("group row %v: expected count 1", row)
		}
	}
}

// TestHashJoinSelfMatch hash-joins the node set against itself on
// firstName: every row should match exactly its own mirror.
func TestHashJoinSelfMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	buildScenario4(t, s, ctx)

	left := NewPipeline(s).ScanNodes("Person").Project(PropertyOf(0, "firstName"))
	right := left.Branch().ScanNodes("Person").Project(PropertyOf(0, "firstName"))

	var set ResultSet
	joined := left.HashJoin(right, 0, 0).CollectResult(&set)
	if err := joined.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(set.Rows) != 6 {
		t.Fatalf("got %d joined rows, want 6 (one self-match per node)", len(set.Rows))
	}
	for _, row := range set.Rows {
		l, _ := row.At(0)
		r, _ := row.At(1)
		if l.Str != r.Str {
			t.Fatalf("joined row %v: expected matching firstName on both sides", row)
		}
	}
}

// TestLeftOuterJoinPadsUnmatched checks that a left row with no matching
// right row is still emitted, padded with null cells sized to the right
// side's observed width. "Match" appears on both sides and joins normally;
// "Solo" appears only on the left and must come back padded.
func TestLeftOuterJoinPadsUnmatched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"Solo", "Match"} {
		if _, err := s.AddNode(ctx, "Person", []graph.Property{{Name: "firstName", Value: graph.StringValue(name)}}); err != nil {
			t.Fatalf("AddNode(%s): %v", name, err)
		}
	}

	left := NewPipeline(s).ScanNodes("Person").Project(PropertyOf(0, "firstName"))
	right := left.Branch().ScanNodes("Person").
		Filter(Compare(OpEQ, PropertyOf(0, "firstName"), Lit(tuple.StringCell("Match")))).
		Project(PropertyOf(0, "firstName"))

	var set ResultSet
	joined := left.LeftOuterJoin(right, Compare(OpEQ, Var(0), Var(1))).CollectResult(&set)
	if err := joined.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(set.Rows) != 2 {
		t.Fatalf("got %d rows, want 2 (one matched, one padded)", len(set.Rows))
	}
	var soloRow, matchRow *tuple.Tuple
	for _, row := range set.Rows {
		l, _ := row.At(0)
		switch l.Str {
		case "Solo":
			soloRow = row
		case "Match":
			matchRow = row
		}
	}
	if soloRow == nil || matchRow == nil {
		t.Fatalf("expected one Solo row and one Match row, got %v", set.Rows)
	}
	r, ok := soloRow.At(1)
	if !ok || !r.IsNull() {
		t.Fatalf("unmatched row = %v, want [\"Solo\", NULL]", soloRow)
	}
	r, ok = matchRow.At(1)
	if !ok || r.Str != "Match" {
		t.Fatalf("matched row = %v, want [\"Match\", \"Match\"]", matchRow)
	}
}

// TestUnionAllThenDistinct checks distinct_tuples over a duplicated stream
// produced by union_all.
func TestUnionAllThenDistinct(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	buildScenario4(t, s, ctx)

	left := NewPipeline(s).ScanNodes("Person").Project(PropertyOf(0, "firstName"))
	right := left.Branch().ScanNodes("Person").Project(PropertyOf(0, "firstName"))

	var set ResultSet
	p := left.UnionAll(right).Distinct().CollectResult(&set)
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(set.Rows) != 6 {
		t.Fatalf("got %d distinct rows from a duplicated stream, want 6", len(set.Rows))
	}
}

// TestExprArithAndLogical exercises the stack-machine evaluator directly,
// without touching the graph store.
func TestExprArithAndLogical(t *testing.T) {
	code := Compile(Logical(OpAnd,
		Compare(OpGT, Arith(OpAdd, Lit(tuple.IntCell(2)), Lit(tuple.IntCell(3))), Lit(tuple.IntCell(4))),
		Not(Compare(OpEQ, Lit(tuple.StringCell("x")), Lit(tuple.StringCell("y")))),
	))
	v, err := eval(evalCtx{ctx: context.Background(), store: nil, t: tuple.New()}, code)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if !truthy(v) {
		t.Fatalf("expected (2+3>4) and not(x=y) to be true, got %v", v)
	}
}

// TestOrderByDescending sorts Person nodes by firstName descending.
func TestOrderByDescending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	buildScenario4(t, s, ctx)

	var set ResultSet
	p := NewPipeline(s).
		ScanNodes("Person").
		Project(PropertyOf(0, "firstName")).
		OrderBy([]*Expr{Var(0)}, []bool{true}).
		CollectResult(&set)

	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(set.Rows) != 6 {
		t.Fatalf("got %d rows, want 6", len(set.Rows))
	}
	first, _ := set.Rows[0].At(0)
	last, _ := set.Rows[len(set.Rows)-1].At(0)
	if first.Str != "F" || last.Str != "A" {
		t.Fatalf("descending order got first=%q last=%q, want F..A", first.Str, last.Str)
	}
}

// TestOrderByEmptySpecRejected checks that an empty sort spec is rejected
// rather than silently sorting by a trivial always-equal predicate.
func TestOrderByEmptySpecRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var set ResultSet
	err := NewPipeline(s).
		ScanNodes("Person").
		OrderBy(nil, nil).
		CollectResult(&set).
		Run(ctx)
	if poserr.Classify(err) != poserr.KindQueryProcessing {
		t.Fatalf("Run with an empty OrderBy spec = %v, want a KindQueryProcessing error", err)
	}
}
