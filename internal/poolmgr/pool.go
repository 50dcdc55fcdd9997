package poolmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dbis-ilm/poseidon/internal/bufpool"
	"github.com/dbis-ilm/poseidon/internal/graph"
	"github.com/dbis-ilm/poseidon/internal/pageio"
	"github.com/google/uuid"
)

const catalogFileName = "pool.yaml"

// Fixed file ids every graph's own buffer pool registers its store files
// under (spec.md §4.9 "files within it are named by role and assigned the
// fixed file-ids used by the graph store").
const (
	nodesFileID uint8 = iota
	relsFileID
	propsFileID
	strFileID
	firstIndexFileID
)

// openGraph holds everything needed to keep a graph usable and eventually
// close it: its store, its own buffer pool, and every pageio.File it owns.
type openGraph struct {
	store      *graph.Store
	bp         *bufpool.Pool
	files      []*pageio.File
	indexFiles map[string]*pageio.File
}

func (g *openGraph) close() error {
	if err := g.bp.FlushAll(); err != nil {
		return err
	}
	for _, f := range g.files {
		if err := f.Close(); err != nil {
			return err
		}
	}
	for _, f := range g.indexFiles {
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Pool is the graph pool of spec.md §4.9: a named collection of graphs
// rooted at one directory, with a durable pool.yaml catalog and a shared
// frame-capacity policy applied to every graph's buffer pool.
type Pool struct {
	dir      string
	capacity int
	catalog  *Catalog

	mu   sync.Mutex
	open map[string]*openGraph

	checkpoint *Checkpointer
}

// Create makes a fresh graph pool rooted at dir, writing an empty
// pool.yaml. dir must not already contain a catalog.
func Create(dir string, capacity int) (*Pool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	catalogPath := filepath.Join(dir, catalogFileName)
	if _, err := os.Stat(catalogPath); err == nil {
		return nil, fmt.Errorf("poolmgr: %s already exists, use Open", catalogPath)
	}
	cat := newCatalog(catalogPath)
	if err := cat.save(); err != nil {
		return nil, err
	}
	return newPool(dir, capacity, cat), nil
}

// Open reopens a graph pool previously created with Create, loading its
// pool.yaml. This supplements spec.md's literal "create(path) → pool" with
// the reopen path any durable catalog implies.
func Open(dir string, capacity int) (*Pool, error) {
	catalogPath := filepath.Join(dir, catalogFileName)
	cat, err := loadCatalog(catalogPath)
	if err != nil {
		return nil, err
	}
	return newPool(dir, capacity, cat), nil
}

func newPool(dir string, capacity int, cat *Catalog) *Pool {
	p := &Pool{dir: dir, capacity: capacity, catalog: cat, open: make(map[string]*openGraph)}
	p.checkpoint = newCheckpointer(p)
	return p
}

func (p *Pool) graphDir(name string) string { return filepath.Join(p.dir, name) }

func openFixedFile(dir, name string, id uint8, ftype pageio.FileType) (*pageio.File, error) {
	return pageio.Open(filepath.Join(dir, name), id, ftype)
}

// CreateGraph allocates a new graph's sub-directory and files, registers it
// in the catalog, and returns its ready-to-use store (spec.md §4.9
// "create_graph(name) → graph").
func (p *Pool) CreateGraph(name string) (*graph.Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.catalog.get(name); ok {
		return nil, errGraphExists(name)
	}
	dir := p.graphDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	og, err := p.openGraphFiles(dir)
	if err != nil {
		return nil, err
	}
	p.open[name] = og

	entry := GraphEntry{
		Name:        name,
		NodesFileID: nodesFileID,
		RelsFileID:  relsFileID,
		PropsFileID: propsFileID,
		StrFileID:   strFileID,
		NextFileID:  firstIndexFileID,
	}
	if err := p.catalog.register(entry); err != nil {
		og.close()
		delete(p.open, name)
		return nil, err
	}
	return og.store, nil
}

// OpenGraph reopens a previously created graph by name, replaying any
// registered indices from the catalog (spec.md §4.9 "open_graph(name) →
// graph").
func (p *Pool) OpenGraph(name string) (*graph.Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if og, ok := p.open[name]; ok {
		return og.store, nil
	}
	entry, ok := p.catalog.get(name)
	if !ok {
		return nil, errGraphNotFound(name)
	}
	dir := p.graphDir(name)
	og, err := p.openGraphFiles(dir)
	if err != nil {
		return nil, err
	}
	for _, idx := range entry.Indices {
		idxFile, err := openFixedFile(dir, indexFileName(idx.Name), idx.FileID, pageio.FileTypeBTree)
		if err != nil {
			og.close()
			return nil, err
		}
		if err := og.bp.RegisterFile(idxFile); err != nil {
			og.close()
			return nil, err
		}
		og.indexFiles[idx.Name] = idxFile
		if _, err := og.store.RegisterIndex(idx.Name, idx.Label, idx.Property, idxFile, og.bp); err != nil {
			og.close()
			return nil, err
		}
	}
	p.open[name] = og
	return og.store, nil
}

func (p *Pool) openGraphFiles(dir string) (*openGraph, error) {
	bp := bufpool.New(p.capacity)
	nodesFile, err := openFixedFile(dir, "nodes.dat", nodesFileID, pageio.FileTypeNodes)
	if err != nil {
		return nil, err
	}
	relsFile, err := openFixedFile(dir, "rels.dat", relsFileID, pageio.FileTypeRelationships)
	if err != nil {
		nodesFile.Close()
		return nil, err
	}
	propsFile, err := openFixedFile(dir, "props.dat", propsFileID, pageio.FileTypeProperties)
	if err != nil {
		nodesFile.Close()
		relsFile.Close()
		return nil, err
	}
	strFile, err := openFixedFile(dir, "strings.dat", strFileID, pageio.FileTypeStringPool)
	if err != nil {
		nodesFile.Close()
		relsFile.Close()
		propsFile.Close()
		return nil, err
	}
	files := []*pageio.File{nodesFile, relsFile, propsFile, strFile}
	for _, f := range files {
		if err := bp.RegisterFile(f); err != nil {
			for _, f2 := range files {
				f2.Close()
			}
			return nil, err
		}
	}
	store, err := graph.OpenStore(nodesFile, relsFile, propsFile, strFile, bp)
	if err != nil {
		for _, f2 := range files {
			f2.Close()
		}
		return nil, err
	}
	return &openGraph{store: store, bp: bp, files: files, indexFiles: make(map[string]*pageio.File)}, nil
}

func indexFileName(name string) string { return "idx_" + name + ".dat" }

// RegisterIndex opens a new B+-tree file for a secondary index on an
// already-open graph, registers it with the store, and persists the entry
// so OpenGraph can replay it later (spec.md §4.6's index registry, made
// durable per §4.9).
func (p *Pool) RegisterIndex(graphName, indexName, label, property string) (*graph.Index, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	og, ok := p.open[graphName]
	if !ok {
		return nil, errGraphNotFound(graphName)
	}
	entry, ok := p.catalog.get(graphName)
	if !ok {
		return nil, errGraphNotFound(graphName)
	}
	fileID := entry.NextFileID
	if fileID < firstIndexFileID {
		fileID = firstIndexFileID
	}
	if int(fileID) >= bufpool.MaxFiles {
		return nil, fmt.Errorf("poolmgr: graph %q has no free file ids left for a new index", graphName)
	}

	dir := p.graphDir(graphName)
	idxFile, err := openFixedFile(dir, indexFileName(indexName), fileID, pageio.FileTypeBTree)
	if err != nil {
		return nil, err
	}
	if err := og.bp.RegisterFile(idxFile); err != nil {
		idxFile.Close()
		return nil, err
	}
	idx, err := og.store.RegisterIndex(indexName, label, property, idxFile, og.bp)
	if err != nil {
		idxFile.Close()
		return nil, err
	}
	og.indexFiles[indexName] = idxFile

	if err := p.catalog.addIndex(graphName, IndexEntry{
		ID:       uuid.NewString(),
		Name:     indexName,
		Label:    label,
		Property: property,
		FileID:   fileID,
	}); err != nil {
		return nil, err
	}
	return idx, nil
}

// CloseGraph flushes and closes an open graph's files without removing it
// from the catalog, so a later OpenGraph can bring it back.
func (p *Pool) CloseGraph(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	og, ok := p.open[name]
	if !ok {
		return nil
	}
	if err := og.close(); err != nil {
		return err
	}
	delete(p.open, name)
	return nil
}

// DropGraph closes (if open) and permanently deletes a graph's directory
// and catalog entry (spec.md §4.9 "drop_graph(name)").
func (p *Pool) DropGraph(name string) error {
	p.mu.Lock()
	if og, ok := p.open[name]; ok {
		og.close()
		delete(p.open, name)
	}
	p.mu.Unlock()

	if err := p.catalog.remove(name); err != nil {
		return err
	}
	return os.RemoveAll(p.graphDir(name))
}

// ListGraphs returns the names of every graph registered in the catalog,
// whether or not it is currently open.
func (p *Pool) ListGraphs() []string { return p.catalog.list() }

// StartCheckpointing begins the periodic buffer-pool flush described in
// spec.md §4.2 ("flush_all" as the WAL dirty-eviction hook point), at the
// given cron schedule.
func (p *Pool) StartCheckpointing(cronExpr string) error {
	return p.checkpoint.start(cronExpr)
}

// StopCheckpointing halts the checkpoint scheduler, if running.
func (p *Pool) StopCheckpointing() { p.checkpoint.stop() }

// flushAllOpen flushes every currently open graph's buffer pool, the
// checkpoint loop's periodic action.
func (p *Pool) flushAllOpen() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, og := range p.open {
		if err := og.bp.FlushAll(); err != nil {
			return fmt.Errorf("poolmgr: checkpoint flush of graph %q: %w", name, err)
		}
	}
	return nil
}

// Destroy stops checkpointing and closes every open graph, releasing the
// pool's file handles without deleting any on-disk data (spec.md §4.9
// "destroy(pool)").
func (p *Pool) Destroy() error {
	p.StopCheckpointing()
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, og := range p.open {
		if err := og.close(); err != nil {
			return err
		}
		delete(p.open, name)
	}
	return nil
}
