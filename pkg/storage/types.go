// Package storage provides the graph engine, snapshot formats, and the
// write-ahead-logged transaction manager for Muninn.
//
// The storage layer implements a labeled property graph:
//
//   - Nodes carry a set of labels and a property map.
//   - Relationships are directed, typed edges between node ids.
//   - The engine owns identity generation; ids are unique for the lifetime
//     of an engine instance and never reused.
//
// Design principles:
//
//   - Single-writer discipline: one engine instance serializes mutations
//     behind its own lock; concurrent readers of a snapshot are safe.
//   - Relaxed referential integrity: deleting a node does NOT cascade to its
//     relationships. Dangling relationships are legal and traversal skips
//     them instead of erroring. This mirrors content-addressed stores where
//     unpinning referenced data is unsafe.
//   - Lossless interchange: the engine round-trips through DAG-JSON,
//     JSON-Lines, and CAR snapshots without losing ids, labels, properties,
//     or schema metadata.
//
// Example usage:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	alice, _ := engine.CreateNode([]string{"Person"}, map[string]any{"name": "Alice"})
//	bob, _ := engine.CreateNode([]string{"Person"}, map[string]any{"name": "Bob"})
//	engine.CreateEdge("KNOWS", alice.ID, bob.ID, map[string]any{"since": 2020})
//
//	for _, e := range engine.Relationships(alice.ID, storage.DirOut, "KNOWS") {
//		fmt.Printf("%s -> %s\n", e.StartNode, e.EndNode)
//	}
package storage

import (
	"errors"
	"time"
)

// Common errors returned by the storage layer.
var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidID          = errors.New("invalid id")
	ErrInvalidData        = errors.New("invalid data")
	ErrStorageClosed      = errors.New("storage closed")
	ErrConflict           = errors.New("transaction conflict")
	ErrTransactionDone    = errors.New("transaction not active")
	ErrWALClosed          = errors.New("wal: closed")
	ErrWALCorrupted       = errors.New("wal: corrupted entry")
	ErrSnapshotCorrupted  = errors.New("snapshot: corrupted data")
	ErrUnknownFormat      = errors.New("snapshot: unknown format")
	ErrBlobNotFound       = errors.New("blob: not found")
	ErrBlobStoreClosed    = errors.New("blob: store closed")
	ErrAddressMismatch    = errors.New("blob: content does not match address")
	ErrEndpointMissing    = errors.New("relationship endpoint not found")
	ErrUnsupportedIsoName = errors.New("unknown isolation level")
)

// NodeID is a strongly-typed unique identifier for graph nodes.
//
// Ids are generated by the engine (random UUIDs) and are unique within an
// engine instance for its lifetime. Using a distinct type keeps node and
// relationship ids from being mixed up at compile time.
type NodeID string

// EdgeID is a strongly-typed unique identifier for relationships.
type EdgeID string

// Node represents a graph node (vertex) in the labeled property graph.
//
// Core fields:
//   - ID: engine-generated identity, immutable after creation
//   - Labels: type tags such as ["Person", "Employee"]
//   - Properties: key-value data (JSON-serializable values)
//
// Labels and properties are mutable in place through the engine; the id is
// not. Timestamps are maintained by the engine and survive snapshots.
//
// Example:
//
//	node, err := engine.CreateNode(
//		[]string{"Person"},
//		map[string]any{"name": "Alice", "age": int64(30)},
//	)
//
// Node structs returned by the engine are defensive copies; mutating them
// does not affect the store. Use UpdateNode to persist property changes.
type Node struct {
	ID         NodeID         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// HasLabel reports whether the node carries the given label.
func (n *Node) HasLabel(label string) bool {
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Edge represents a directed relationship between two nodes.
//
// StartNode and EndNode are weak references: deleting an endpoint does not
// delete the relationship, and traversal silently skips relationships whose
// endpoints no longer resolve. Callers that need strong integrity must
// delete relationships explicitly before their endpoints.
type Edge struct {
	ID         EdgeID         `json:"id"`
	Type       string         `json:"type"`
	StartNode  NodeID         `json:"startNode"`
	EndNode    NodeID         `json:"endNode"`
	Properties map[string]any `json:"properties"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Direction selects which relationships of a node to traverse.
type Direction int

const (
	// DirOut selects relationships starting at the node.
	DirOut Direction = iota
	// DirIn selects relationships ending at the node.
	DirIn
	// DirBoth selects relationships touching the node from either side.
	DirBoth
)

// String returns the lowercase name used in logs and snapshots.
func (d Direction) String() string {
	switch d {
	case DirOut:
		return "out"
	case DirIn:
		return "in"
	case DirBoth:
		return "both"
	default:
		return "unknown"
	}
}

// Engine is the graph storage contract the query layer executes against.
//
// All implementations must be safe for concurrent readers; mutations are
// serialized internally. Returned nodes and edges are copies.
type Engine interface {
	// Node operations. CreateNode generates a fresh unique id.
	CreateNode(labels []string, properties map[string]any) (*Node, error)
	GetNode(id NodeID) (*Node, error)
	// UpdateNode merges properties into the node (shallow overwrite per key).
	UpdateNode(id NodeID, properties map[string]any) (*Node, error)
	// SetNodeLabels replaces the node's label set.
	SetNodeLabels(id NodeID, labels []string) (*Node, error)
	// DeleteNode removes the node only. Relationships referencing it remain
	// and become dangling. Returns false when the id is absent.
	DeleteNode(id NodeID) bool

	// Relationship operations.
	CreateEdge(edgeType string, start, end NodeID, properties map[string]any) (*Edge, error)
	GetEdge(id EdgeID) (*Edge, error)
	UpdateEdge(id EdgeID, properties map[string]any) (*Edge, error)
	DeleteEdge(id EdgeID) bool

	// FindNodes returns nodes matching the filter. Multiple labels use
	// ANY-of semantics: a node matches when it carries at least one of the
	// given labels. Property filters are exact-equality ANDed across keys.
	// limit <= 0 means unlimited.
	FindNodes(labels []string, properties map[string]any, limit int) []*Node

	// Relationships returns the node's relationships in the given direction,
	// optionally restricted to one type. Dangling relationships are included
	// here (the index outlives endpoints); traversal-level code filters them.
	Relationships(id NodeID, dir Direction, edgeType string) []*Edge

	// FindPaths returns every acyclic path from start to end of length 1 to
	// maxDepth, following outgoing relationships, optionally restricted to
	// one relationship type. No path revisits a node.
	FindPaths(start, end NodeID, maxDepth int, edgeType string) [][]*Edge

	// Bulk accessors for snapshots and migration.
	AllNodes() []*Node
	AllEdges() []*Edge

	// Schema catalog.
	Labels() []string
	RelationshipTypes() []string

	// Stats.
	NodeCount() int64
	EdgeCount() int64

	// Lifecycle.
	Close() error
}

// ModLabels applies label additions and removals to a label slice, keeping
// order stable and entries unique. Used by the engine and the executor's
// SET/REMOVE label paths.
func ModLabels(labels []string, add []string, remove []string) []string {
	out := make([]string, 0, len(labels)+len(add))
	removed := make(map[string]struct{}, len(remove))
	for _, r := range remove {
		removed[r] = struct{}{}
	}
	seen := make(map[string]struct{}, len(labels)+len(add))
	for _, l := range labels {
		if _, drop := removed[l]; drop {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	for _, l := range add {
		if _, drop := removed[l]; drop {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

// CopyProperties returns a per-key copy of a property map. Values are shared;
// property values are treated as immutable once stored.
func CopyProperties(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

// copyNode creates a defensive copy of a node.
func copyNode(n *Node) *Node {
	if n == nil {
		return nil
	}
	c := &Node{
		ID:         n.ID,
		Labels:     make([]string, len(n.Labels)),
		Properties: CopyProperties(n.Properties),
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
	}
	copy(c.Labels, n.Labels)
	return c
}

// copyEdge creates a defensive copy of an edge.
func copyEdge(e *Edge) *Edge {
	if e == nil {
		return nil
	}
	return &Edge{
		ID:         e.ID,
		Type:       e.Type,
		StartNode:  e.StartNode,
		EndNode:    e.EndNode,
		Properties: CopyProperties(e.Properties),
		CreatedAt:  e.CreatedAt,
	}
}

// ValuesEqual compares two property values. Integers and floats compare by
// numeric value, so a filter of 42 matches a stored 42.0. Lists and maps
// compare element-wise.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if an, aok := asFloat(a); aok {
		bn, bok := asFloat(b)
		return bok && an == bn
	}

	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !ValuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, present := bv[k]
			if !present || !ValuesEqual(v, w) {
				return false
			}
		}
		return true
	}
	return a == b
}

// asFloat widens any numeric value to float64 for comparison.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
