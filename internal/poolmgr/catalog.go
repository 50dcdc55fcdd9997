// Package poolmgr implements Poseidon's graph pool (spec.md §4.9): a named
// collection of graphs living under one root directory, backed by a
// pool.yaml catalog, plus a cron-driven checkpoint loop that flushes every
// open graph's buffer pool.
//
// What: create/open/drop a named graph, persisting enough metadata (file
// ids, registered indices) to reopen it later.
// How: each graph gets its own sub-directory and its own buffer pool — the
// 4-bit file selector packed into every pageio.PageID (spec.md §3.1) caps a
// single buffer pool at 15 registered files, too few to host more than one
// graph's nodes/rels/props/string-pool quartet under one selector namespace.
// "Shared across all graphs" (spec.md §5) is satisfied at the policy level
// instead: every graph's buffer pool is opened with the same frame capacity.
// Why: spec.md names the graph pool as the top-level entry point a caller
// opens before touching any graph; the catalog is what makes that durable
// across process restarts.
package poolmgr

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

func errGraphExists(name string) error   { return fmt.Errorf("poolmgr: graph %q already exists", name) }
func errGraphNotFound(name string) error { return fmt.Errorf("poolmgr: graph %q not found", name) }

// IndexEntry persists one secondary index registered on a graph: enough to
// call graph.Store.RegisterIndex again on reopen (spec.md §4.6's index
// registry, made durable).
type IndexEntry struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Label    string `yaml:"label"`
	Property string `yaml:"property"`
	FileID   uint8  `yaml:"file_id"`
}

// GraphEntry is one graph's catalog row: its fixed file ids (always 0..3,
// recorded anyway so the layout is self-documenting) and whatever secondary
// indices have been registered on it.
type GraphEntry struct {
	Name        string       `yaml:"name"`
	NodesFileID uint8        `yaml:"nodes_file_id"`
	RelsFileID  uint8        `yaml:"rels_file_id"`
	PropsFileID uint8        `yaml:"props_file_id"`
	StrFileID   uint8        `yaml:"str_file_id"`
	NextFileID  uint8        `yaml:"next_file_id"`
	Indices     []IndexEntry `yaml:"indices,omitempty"`
}

// catalogFile is the on-disk shape of pool.yaml.
type catalogFile struct {
	Graphs []GraphEntry `yaml:"graphs"`
}

// Catalog is the in-memory, mutex-guarded view of pool.yaml, mirroring the
// register/list/lookup shape of a system catalog: name-keyed rows, safe for
// concurrent use, written back to disk on every mutation.
type Catalog struct {
	mu    sync.RWMutex
	path  string
	rows  map[string]*GraphEntry
	order []string
}

func newCatalog(path string) *Catalog {
	return &Catalog{path: path, rows: make(map[string]*GraphEntry)}
}

// loadCatalog reads an existing pool.yaml, or returns an empty catalog if
// the file does not exist yet.
func loadCatalog(path string) (*Catalog, error) {
	c := newCatalog(path)
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	var cf catalogFile
	if err := yaml.Unmarshal(buf, &cf); err != nil {
		return nil, err
	}
	for i := range cf.Graphs {
		g := cf.Graphs[i]
		c.rows[g.Name] = &g
		c.order = append(c.order, g.Name)
	}
	return c, nil
}

// save persists the catalog to its pool.yaml path, in the order entries
// were first registered so a diff stays stable between runs.
func (c *Catalog) save() error {
	cf := catalogFile{Graphs: make([]GraphEntry, 0, len(c.order))}
	for _, name := range c.order {
		cf.Graphs = append(cf.Graphs, *c.rows[name])
	}
	buf, err := yaml.Marshal(cf)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, buf, 0o644)
}

func (c *Catalog) get(name string) (*GraphEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.rows[name]
	return g, ok
}

func (c *Catalog) list() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// register adds a new graph row and persists the catalog. Returns an error
// if name is already registered.
func (c *Catalog) register(g GraphEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rows[g.Name]; ok {
		return errGraphExists(g.Name)
	}
	c.rows[g.Name] = &g
	c.order = append(c.order, g.Name)
	return c.save()
}

// remove deletes a graph row and persists the catalog.
func (c *Catalog) remove(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rows[name]; !ok {
		return errGraphNotFound(name)
	}
	delete(c.rows, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return c.save()
}

// addIndex appends an index entry to a graph's row and persists the catalog.
func (c *Catalog) addIndex(graphName string, idx IndexEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.rows[graphName]
	if !ok {
		return errGraphNotFound(graphName)
	}
	g.Indices = append(g.Indices, idx)
	g.NextFileID = idx.FileID + 1
	return c.save()
}
