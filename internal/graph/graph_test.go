package graph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dbis-ilm/poseidon/internal/bufpool"
	"github.com/dbis-ilm/poseidon/internal/pageio"
	"github.com/dbis-ilm/poseidon/internal/txn"
)

func newTestStore(t *testing.T) *Store {
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

	s, err := OpenStore(nodesFile, relsFile, propsFile, strFile, bp)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	return s
}

func TestAddNodeAndRelationship(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.AddNode(ctx, "Person", []Property{{Name: "firstName", Value: StringValue("A")}})
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	b, err := s.AddNode(ctx, "Person", []Property{{Name: "firstName", Value: StringValue("B")}})
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	rel, err := s.AddRelationship(ctx, a, b, "knows", nil)
	if err != nil {
		t.Fatalf("AddRelationship: %v", err)
	}

	aRec, err := s.Node(a)
	if err != nil {
		t.Fatalf("Node(a): %v", err)
	}
	if aRec.FromHead != rel {
		t.Fatalf("a.FromHead = %d, want %d", aRec.FromHead, rel)
	}
	bRec, err := s.Node(b)
	if err != nil {
		t.Fatalf("Node(b): %v", err)
	}
	if bRec.ToHead != rel {
		t.Fatalf("b.ToHead = %d, want %d", bRec.ToHead, rel)
	}

	val, ok, err := s.Property(aRec.PropHead, "firstName")
	if err != nil || !ok {
		t.Fatalf("Property(firstName): ok=%v err=%v", ok, err)
	}
	if val.Str != "A" {
		t.Fatalf("firstName = %q, want A", val.Str)
	}
}

// buildSampleGraph constructs the A,B,C,D,E,F graph from spec.md §8 scenario
// 4: A→B, A→C, A→D, B→E, E→F, all labelled "knows".
func buildSampleGraph(t *testing.T, s *Store, ctx context.Context) map[string]ID {
	names := []string{"A", "B", "C", "D", "E", "F"}
	ids := make(map[string]ID, len(names))
	for _, n := range names {
		id, err := s.AddNode(ctx, "Person", []Property{{Name: "firstName", Value: StringValue(n)}})
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

func nameOf(t *testing.T, s *Store, id ID) string {
	t.Helper()
	rec, err := s.Node(id)
	if err != nil {
		t.Fatalf("Node: %v", err)
	}
	val, ok, err := s.Property(rec.PropHead, "firstName")
	if err != nil || !ok {
		t.Fatalf("Property(firstName): ok=%v err=%v", ok, err)
	}
	return val.Str
}

func TestFixedHopTraversal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := buildSampleGraph(t, s, ctx)

	var got []string
	err := s.ForeachFromRelationship(ctx, ids["A"], "knows", func(relID ID, rel RelRecord) bool {
		got = append(got, nameOf(t, s, rel.Dst))
		return true
	})
	if err != nil {
		t.Fatalf("ForeachFromRelationship: %v", err)
	}
	want := map[string]bool{"B": true, "C": true, "D": true}
	if len(got) != 3 {
		t.Fatalf("got %v, want 3 destinations from A", got)
	}
	for _, n := range got {
		if !want[n] {
			t.Fatalf("unexpected destination %q", n)
		}
	}
}

func TestVariableHopTraversal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := buildSampleGraph(t, s, ctx)

	seen := map[string]bool{}
	err := s.VariableHopTraversal(ctx, ids["A"], "knows", 1, 3, func(relID ID, rel RelRecord, hop int) bool {
		seen[nameOf(t, s, rel.Dst)] = true
		return true
	})
	if err != nil {
		t.Fatalf("VariableHopTraversal: %v", err)
	}
	want := []string{"B", "C", "D", "E", "F"}
	for _, n := range want {
		if !seen[n] {
			t.Fatalf("missing %q in variable-hop result %v", n, seen)
		}
	}
	if len(seen) != len(want) {
		t.Fatalf("got %d distinct destinations, want %d: %v", len(seen), len(want), seen)
	}
}

func TestDeleteNodeRequiresNoRelationships(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, _ := s.AddNode(ctx, "Person", nil)
	b, _ := s.AddNode(ctx, "Person", nil)
	if _, err := s.AddRelationship(ctx, a, b, "knows", nil); err != nil {
		t.Fatalf("AddRelationship: %v", err)
	}
	if err := s.DeleteNode(ctx, a); err == nil {
		t.Fatalf("DeleteNode on a node with a live relationship should fail")
	}
	if err := s.DeleteNode(ctx, b); err == nil {
		t.Fatalf("DeleteNode on a node with a live relationship should fail")
	}
}

func TestDeleteRelationshipUnlinksBothEndpoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, _ := s.AddNode(ctx, "Person", nil)
	b, _ := s.AddNode(ctx, "Person", nil)
	c, _ := s.AddNode(ctx, "Person", nil)
	r1, _ := s.AddRelationship(ctx, a, b, "knows", nil)
	_, err := s.AddRelationship(ctx, a, c, "knows", nil)
	if err != nil {
		t.Fatalf("AddRelationship: %v", err)
	}

	if err := s.DeleteRelationship(ctx, r1); err != nil {
		t.Fatalf("DeleteRelationship: %v", err)
	}

	var dests []ID
	err = s.ForeachFromRelationship(ctx, a, "", func(relID ID, rel RelRecord) bool {
		dests = append(dests, rel.Dst)
		return true
	})
	if err != nil {
		t.Fatalf("ForeachFromRelationship: %v", err)
	}
	if len(dests) != 1 || dests[0] != c {
		t.Fatalf("a's remaining adjacency = %v, want [c]", dests)
	}

	bRec, err := s.Node(b)
	if err != nil {
		t.Fatalf("Node(b): %v", err)
	}
	if bRec.ToHead != Unknown {
		t.Fatalf("b.ToHead = %d, want Unknown after unlinking", bRec.ToHead)
	}

	if err := s.DeleteNode(ctx, b); err != nil {
		t.Fatalf("DeleteNode(b) should now succeed: %v", err)
	}
}

func TestUpdateNodePreservesOldVersionForOlderSnapshot(t *testing.T) {
	s := newTestStore(t)
	mgr := txn.NewManager()

	writerCtx, writerTx := mgr.Begin(context.Background())
	id, err := s.AddNode(writerCtx, "Person", []Property{{Name: "firstName", Value: StringValue("A")}})
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := mgr.Commit(writerTx); err != nil {
		t.Fatalf("Commit create: %v", err)
	}

	_, readerTx := mgr.Begin(context.Background())

	updateCtx, updateTx := mgr.Begin(context.Background())
	if err := s.UpdateNode(updateCtx, id, []Property{{Name: "firstName", Value: StringValue("A2")}}); err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}
	if err := mgr.Commit(updateTx); err != nil {
		t.Fatalf("Commit update: %v", err)
	}

	rec, err := s.Node(id)
	if err != nil {
		t.Fatalf("Node: %v", err)
	}
	val, ok, err := s.Property(rec.PropHead, "firstName")
	if err != nil || !ok || val.Str != "A2" {
		t.Fatalf("current firstName = %q, ok=%v err=%v; want A2", val.Str, ok, err)
	}
	if readerTx.Visible(rec.MVCC.bts, rec.MVCC.cts) {
		t.Fatalf("the updated head should not be visible to a reader whose snapshot predates the update")
	}

	if rec.MVCC.prevVersion == Unknown {
		t.Fatalf("updated node has no archived prevVersion")
	}
	archived, err := s.Node(rec.MVCC.prevVersion)
	if err != nil {
		t.Fatalf("Node(prevVersion): %v", err)
	}
	if !readerTx.Visible(archived.MVCC.bts, archived.MVCC.cts) {
		t.Fatalf("the archived version should be visible to a reader whose snapshot predates the update")
	}
	oldVal, ok, err := s.Property(archived.PropHead, "firstName")
	if err != nil || !ok || oldVal.Str != "A" {
		t.Fatalf("archived firstName = %q, ok=%v err=%v; want A", oldVal.Str, ok, err)
	}
}

func TestIndexLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()
	bp := bufpool.New(4000)
	idxFile, err := pageio.Open(filepath.Join(dir, "idx.db"), 4, pageio.FileTypeBTree)
	if err != nil {
		t.Fatalf("Open(idx): %v", err)
	}
	t.Cleanup(func() { idxFile.Close() })
	if err := bp.RegisterFile(idxFile); err != nil {
		t.Fatalf("RegisterFile(idx): %v", err)
	}

	if _, err := s.RegisterIndex("person_firstName", "Person", "firstName", idxFile, bp); err != nil {
		t.Fatalf("RegisterIndex: %v", err)
	}

	a, err := s.AddNode(ctx, "Person", []Property{{Name: "firstName", Value: StringValue("A")}})
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if _, err := s.AddNode(ctx, "Person", []Property{{Name: "firstName", Value: StringValue("Z")}}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	var found []ID
	err = s.IndexLookup(ctx, "person_firstName", StringValue("A"), func(id ID, rec NodeRecord) bool {
		found = append(found, id)
		return true
	})
	if err != nil {
		t.Fatalf("IndexLookup: %v", err)
	}
	if len(found) != 1 || found[0] != a {
		t.Fatalf("IndexLookup(A) = %v, want [%d]", found, a)
	}
}
