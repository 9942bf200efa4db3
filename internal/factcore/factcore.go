// Package factcore is the Knowledge Graph / Fact Core (§3 KnowledgeNode,
// §4.2): a keyed store of arbitrary facts with a parallel graph of labelled
// nodes, persisted as a single whole-file JSON snapshot.
package factcore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Edge is a labelled edge from a node to another node's label. Edges may
// reference labels not yet present in the graph — resolved lazily on lookup
// (§3 "dangling allowed"), never as a pointer cycle (§9 redesign note).
type Edge struct {
	Relation string  `json:"relation"`
	Target   string  `json:"target"`
	Weight   float64 `json:"weight,omitempty"` // display-ranking only, never required (§3A)
}

// Node is a typed symbolic fact: a unique label, arbitrary JSON data, and an
// ordered list of edges.
type Node struct {
	Label string         `json:"label"`
	Data  map[string]any `json:"data"`
	Edges []Edge         `json:"edges"`
}

// Core is the flat-map fact/graph store (§9 "Cyclic FactCore ↔ KnowledgeNode
// ↔ edges-to-labels. Store nodes in a flat map keyed by label; edges hold
// target labels, not node pointers"). A single RWMutex protects both the
// facts map and the node table, matching the scheduler's single-writer
// invariant on Fact Core persistence (§5).
type Core struct {
	mu    sync.RWMutex
	path  string
	Facts map[string]any  `json:"facts"`
	Nodes map[string]*Node `json:"nodes"`
}

// New constructs an empty Core persisted at path.
func New(path string) *Core {
	return &Core{
		path:  path,
		Facts: make(map[string]any),
		Nodes: make(map[string]*Node),
	}
}

// Load hydrates a Core from path (§9 "initialize_async as a boot phase").
// A missing file yields a fresh empty Core rather than an error, matching
// the teacher's "first boot" idiom throughout internal/store and
// internal/config. A present-but-corrupt file is recovered per §4.2: the
// parser truncates at the last top-level `}` or `]` before the first parse
// error rather than discarding the whole snapshot.
func Load(path string) (*Core, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(path), nil
		}
		return nil, fmt.Errorf("factcore: read %s: %w", path, err)
	}

	c := New(path)
	if len(bytes.TrimSpace(data)) == 0 {
		return c, nil
	}

	if err := json.Unmarshal(data, c); err != nil {
		recovered, ok := recoverTruncated(data)
		if !ok {
			return nil, fmt.Errorf("factcore: parse %s: %w", path, err)
		}
		if uerr := json.Unmarshal(recovered, c); uerr != nil {
			return nil, fmt.Errorf("factcore: parse %s after truncation recovery: %w", path, uerr)
		}
	}
	c.path = path
	if c.Facts == nil {
		c.Facts = make(map[string]any)
	}
	if c.Nodes == nil {
		c.Nodes = make(map[string]*Node)
	}
	return c, nil
}

// recoverTruncated walks backwards from the end of data looking for the last
// byte that closes a JSON object or array, and retries parsing from there —
// the §4.2 "recover from trailing garbage" contract.
func recoverTruncated(data []byte) ([]byte, bool) {
	for i := len(data) - 1; i >= 0; i-- {
		if data[i] != '}' && data[i] != ']' {
			continue
		}
		candidate := data[:i+1]
		if json.Valid(candidate) {
			return candidate, true
		}
	}
	return nil, false
}

// Persist writes the entire Core as a single JSON file (§4.2 "Persistence is
// write-whole-file"). Written via a temp-file-then-rename so a crash mid
// write never corrupts the on-disk snapshot.
func (c *Core) Persist() error {
	c.mu.RLock()
	data, err := json.MarshalIndent(c, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("factcore: marshal: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("factcore: write temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("factcore: rename snapshot into place: %w", err)
	}
	return nil
}

// GetFact walks nested maps safely by successive keys, returning def if any
// key along the path is absent or the value is not itself a nested map when
// more keys remain (§3 "get_fact(*keys, default) walks nested dicts safely").
func (c *Core) GetFact(keys []string, def any) any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(keys) == 0 {
		return def
	}

	var cur any = map[string]any(c.Facts)
	for i, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return def
		}
		v, present := m[k]
		if !present {
			return def
		}
		if i == len(keys)-1 {
			return v
		}
		cur = v
	}
	return def
}

// AddFact replaces the top-level key with value (§3 "add_fact/update_fact
// replaces a key"). When value is itself a map, the node of the same label
// is rebuilt with empty edges, then the whole store is persisted.
func (c *Core) AddFact(key string, value any) error {
	c.mu.Lock()
	c.Facts[key] = value
	if asMap, ok := value.(map[string]any); ok {
		c.Nodes[key] = &Node{Label: key, Data: cloneMap(asMap), Edges: nil}
	}
	c.mu.Unlock()
	return c.Persist()
}

// UpdateFact is an alias for AddFact — both replace-whole-dict per §3.
func (c *Core) UpdateFact(key string, value any) error {
	return c.AddFact(key, value)
}

// DeleteFact removes key from both the facts map and, if present, the node
// table (§3 "destroyed only on explicit delete").
func (c *Core) DeleteFact(key string) error {
	c.mu.Lock()
	delete(c.Facts, key)
	delete(c.Nodes, key)
	c.mu.Unlock()
	return c.Persist()
}

// AddEdge appends a labelled edge from `from` to `to`, creating the source
// node if it did not already exist. The target label need not exist yet.
func (c *Core) AddEdge(from, relation, to string, weight float64) error {
	c.mu.Lock()
	n, ok := c.Nodes[from]
	if !ok {
		n = &Node{Label: from, Data: map[string]any{}}
		c.Nodes[from] = n
	}
	n.Edges = append(n.Edges, Edge{Relation: relation, Target: to, Weight: weight})
	c.mu.Unlock()
	return c.Persist()
}

// Node returns a defensive copy of the node with the given label, or nil if
// absent.
func (c *Core) Node(label string) *Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.Nodes[label]
	if !ok {
		return nil
	}
	return cloneNode(n)
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneNode(n *Node) *Node {
	cp := &Node{Label: n.Label, Data: cloneMap(n.Data)}
	cp.Edges = append([]Edge(nil), n.Edges...)
	return cp
}
