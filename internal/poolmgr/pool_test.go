package poolmgr

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dbis-ilm/poseidon/internal/graph"
)

func TestCreateGraphThenReopen(t *testing.T) {
	root := t.TempDir()
	p, err := Create(root, 256)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	store, err := p.CreateGraph("social")
	if err != nil {
		t.Fatalf("CreateGraph: %v", err)
	}
	ctx := context.Background()
	id, err := store.AddNode(ctx, "Person", []graph.Property{{Name: "firstName", Value: graph.StringValue("A")}})
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := p.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	p2, err := Open(root, 256)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	reopened, err := p2.OpenGraph("social")
	if err != nil {
		t.Fatalf("OpenGraph: %v", err)
	}
	rec, err := reopened.Node(id)
	if err != nil {
		t.Fatalf("Node: %v", err)
	}
	val, ok, err := reopened.Property(rec.PropHead, "firstName")
	if err != nil || !ok || val.Str != "A" {
		t.Fatalf("firstName = %q, ok=%v err=%v; want A", val.Str, ok, err)
	}
}

func TestCreateGraphRejectsDuplicateName(t *testing.T) {
	root := t.TempDir()
	p, err := Create(root, 256)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := p.CreateGraph("g1"); err != nil {
		t.Fatalf("CreateGraph: %v", err)
	}
	if _, err := p.CreateGraph("g1"); err == nil {
		t.Fatalf("CreateGraph with a duplicate name should fail")
	}
}

func TestRegisterIndexSurvivesReopen(t *testing.T) {
	root := t.TempDir()
	p, err := Create(root, 256)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	store, err := p.CreateGraph("g1")
	if err != nil {
		t.Fatalf("CreateGraph: %v", err)
	}
	ctx := context.Background()
	if _, err := store.AddNode(ctx, "Person", []graph.Property{{Name: "firstName", Value: graph.StringValue("A")}}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if _, err := p.RegisterIndex("g1", "person_firstName", "Person", "firstName"); err != nil {
		t.Fatalf("RegisterIndex: %v", err)
	}
	if err := p.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	p2, err := Open(root, 256)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	reopened, err := p2.OpenGraph("g1")
	if err != nil {
		t.Fatalf("OpenGraph: %v", err)
	}
	var found []graph.ID
	err = reopened.IndexLookup(ctx, "person_firstName", graph.StringValue("A"), func(id graph.ID, rec graph.NodeRecord) bool {
		found = append(found, id)
		return true
	})
	if err != nil {
		t.Fatalf("IndexLookup: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("IndexLookup after reopen = %v, want exactly one match", found)
	}
}

func TestDropGraphRemovesDirectoryAndCatalogEntry(t *testing.T) {
	root := t.TempDir()
	p, err := Create(root, 256)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := p.CreateGraph("gone"); err != nil {
		t.Fatalf("CreateGraph: %v", err)
	}
	if err := p.DropGraph("gone"); err != nil {
		t.Fatalf("DropGraph: %v", err)
	}
	if _, err := p.OpenGraph("gone"); err == nil {
		t.Fatalf("OpenGraph should fail for a dropped graph")
	}
	matches, err := filepath.Glob(filepath.Join(root, "gone", "*"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("graph directory still contains files after DropGraph: %v", matches)
	}
	for _, name := range p.ListGraphs() {
		if name == "gone" {
			t.Fatalf("ListGraphs still reports dropped graph %q", name)
		}
	}
}

func TestListGraphsReportsBothOpenAndClosed(t *testing.T) {
	root := t.TempDir()
	p, err := Create(root, 256)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := p.CreateGraph("a"); err != nil {
		t.Fatalf("CreateGraph(a): %v", err)
	}
	if _, err := p.CreateGraph("b"); err != nil {
		t.Fatalf("CreateGraph(b): %v", err)
	}
	if err := p.CloseGraph("a"); err != nil {
		t.Fatalf("CloseGraph: %v", err)
	}
	names := p.ListGraphs()
	if len(names) != 2 {
		t.Fatalf("ListGraphs = %v, want 2 entries", names)
	}
}
