// MemoryEngine is the in-memory implementation of Engine. It is the primary
// store for embedded use and the substrate snapshots are loaded into.
package storage

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryEngine stores the graph in process memory.
//
// Mutations are serialized behind a single write lock; reads take a shared
// lock and return defensive copies. Deleting a node leaves its relationships
// in place (see Edge); the adjacency indexes keep the dangling entries so
// that explicit DeleteEdge calls still resolve them.
type MemoryEngine struct {
	mu    sync.RWMutex
	nodes map[NodeID]*Node
	edges map[EdgeID]*Edge

	// Secondary indexes.
	nodesByLabel  map[string]map[NodeID]struct{}
	outgoingEdges map[NodeID]map[EdgeID]struct{}
	incomingEdges map[NodeID]map[EdgeID]struct{}

	closed bool
	now    func() time.Time
}

// NewMemoryEngine creates an empty in-memory engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		nodes:         make(map[NodeID]*Node),
		edges:         make(map[EdgeID]*Edge),
		nodesByLabel:  make(map[string]map[NodeID]struct{}),
		outgoingEdges: make(map[NodeID]map[EdgeID]struct{}),
		incomingEdges: make(map[NodeID]map[EdgeID]struct{}),
		now:           time.Now,
	}
}

// newNodeID generates a fresh node identity. UUIDs make ids unique within
// the engine instance without coordination.
func newNodeID() NodeID { return NodeID(uuid.NewString()) }

// newEdgeID generates a fresh relationship identity.
func newEdgeID() EdgeID { return EdgeID(uuid.NewString()) }

// CreateNode creates a node with a fresh id and returns a copy of it.
func (m *MemoryEngine) CreateNode(labels []string, properties map[string]any) (*Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	now := m.now()
	node := &Node{
		ID:         newNodeID(),
		Labels:     ModLabels(nil, labels, nil),
		Properties: CopyProperties(properties),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.nodes[node.ID] = node
	m.indexLabels(node)

	return copyNode(node), nil
}

// importNode inserts a node with a caller-provided id. Used by snapshot
// loading and WAL replay, where identity must be preserved.
func (m *MemoryEngine) importNode(node *Node) error {
	if node == nil {
		return ErrInvalidData
	}
	if node.ID == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	if _, exists := m.nodes[node.ID]; exists {
		return ErrAlreadyExists
	}

	stored := copyNode(node)
	m.nodes[stored.ID] = stored
	m.indexLabels(stored)
	return nil
}

// GetNode retrieves a node by id.
func (m *MemoryEngine) GetNode(id NodeID) (*Node, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	node, ok := m.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyNode(node), nil
}

// UpdateNode merges properties into an existing node. Each given key
// overwrites the stored value; keys not mentioned are untouched. A nil
// property value removes the key.
func (m *MemoryEngine) UpdateNode(id NodeID, properties map[string]any) (*Node, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	node, ok := m.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}

	if node.Properties == nil {
		node.Properties = make(map[string]any)
	}
	for k, v := range properties {
		if v == nil {
			delete(node.Properties, k)
			continue
		}
		node.Properties[k] = v
	}
	node.UpdatedAt = m.now()

	return copyNode(node), nil
}

// SetNodeLabels replaces the node's label set, keeping indexes consistent.
func (m *MemoryEngine) SetNodeLabels(id NodeID, labels []string) (*Node, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	node, ok := m.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}

	m.unindexLabels(node)
	node.Labels = ModLabels(nil, labels, nil)
	node.UpdatedAt = m.now()
	m.indexLabels(node)

	return copyNode(node), nil
}

// DeleteNode removes the node. Relationships referencing it are NOT removed;
// they become dangling and are skipped at traversal time. Returns false when
// no node with the id exists.
func (m *MemoryEngine) DeleteNode(id NodeID) bool {
	if id == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	node, ok := m.nodes[id]
	if !ok {
		return false
	}

	m.unindexLabels(node)
	delete(m.nodes, id)
	// outgoingEdges/incomingEdges entries stay: the relationships they point
	// at still exist and must remain reachable for DeleteEdge.
	return true
}

// CreateEdge creates a relationship with a fresh id. Both endpoints must
// exist at creation time; integrity may degrade later if endpoints are
// deleted.
func (m *MemoryEngine) CreateEdge(edgeType string, start, end NodeID, properties map[string]any) (*Edge, error) {
	if start == "" || end == "" {
		return nil, ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	if _, ok := m.nodes[start]; !ok {
		return nil, ErrEndpointMissing
	}
	if _, ok := m.nodes[end]; !ok {
		return nil, ErrEndpointMissing
	}

	edge := &Edge{
		ID:         newEdgeID(),
		Type:       edgeType,
		StartNode:  start,
		EndNode:    end,
		Properties: CopyProperties(properties),
		CreatedAt:  m.now(),
	}
	m.edges[edge.ID] = edge
	m.indexEdge(edge)

	return copyEdge(edge), nil
}

// importEdge inserts an edge with a caller-provided id for snapshot loading
// and WAL replay. Endpoint existence is not enforced: a snapshot may
// legitimately contain dangling relationships.
func (m *MemoryEngine) importEdge(edge *Edge) error {
	if edge == nil {
		return ErrInvalidData
	}
	if edge.ID == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	if _, exists := m.edges[edge.ID]; exists {
		return ErrAlreadyExists
	}

	stored := copyEdge(edge)
	m.edges[stored.ID] = stored
	m.indexEdge(stored)
	return nil
}

// GetEdge retrieves a relationship by id.
func (m *MemoryEngine) GetEdge(id EdgeID) (*Edge, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	edge, ok := m.edges[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEdge(edge), nil
}

// UpdateEdge merges properties into an existing relationship.
func (m *MemoryEngine) UpdateEdge(id EdgeID, properties map[string]any) (*Edge, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	edge, ok := m.edges[id]
	if !ok {
		return nil, ErrNotFound
	}

	if edge.Properties == nil {
		edge.Properties = make(map[string]any)
	}
	for k, v := range properties {
		if v == nil {
			delete(edge.Properties, k)
			continue
		}
		edge.Properties[k] = v
	}

	return copyEdge(edge), nil
}

// DeleteEdge removes a relationship. Returns false when absent.
func (m *MemoryEngine) DeleteEdge(id EdgeID) bool {
	if id == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	edge, ok := m.edges[id]
	if !ok {
		return false
	}

	if out := m.outgoingEdges[edge.StartNode]; out != nil {
		delete(out, id)
	}
	if in := m.incomingEdges[edge.EndNode]; in != nil {
		delete(in, id)
	}
	delete(m.edges, id)
	return true
}

// FindNodes returns nodes matching the filter.
//
// Label semantics are ANY-of: with multiple labels, a node matches when it
// carries at least one of them. Property filters are exact-equality ANDed
// across keys. limit <= 0 means unlimited.
func (m *MemoryEngine) FindNodes(labels []string, properties map[string]any, limit int) []*Node {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil
	}

	var candidates []*Node
	if len(labels) == 0 {
		candidates = make([]*Node, 0, len(m.nodes))
		for _, n := range m.nodes {
			candidates = append(candidates, n)
		}
	} else {
		seen := make(map[NodeID]struct{})
		for _, label := range labels {
			for id := range m.nodesByLabel[label] {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				if n := m.nodes[id]; n != nil {
					candidates = append(candidates, n)
				}
			}
		}
	}

	out := make([]*Node, 0, len(candidates))
	for _, n := range candidates {
		if !propsMatch(n.Properties, properties) {
			continue
		}
		out = append(out, copyNode(n))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// propsMatch reports whether every filter key equals the stored value.
func propsMatch(stored, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := stored[k]
		if !ok || !ValuesEqual(got, want) {
			return false
		}
	}
	return true
}

// Relationships returns the relationships of a node in the given direction,
// optionally restricted to one type. Dangling relationships are returned;
// callers that resolve endpoints must tolerate missing nodes.
func (m *MemoryEngine) Relationships(id NodeID, dir Direction, edgeType string) []*Edge {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil
	}

	var out []*Edge
	appendMatching := func(ids map[EdgeID]struct{}) {
		for eid := range ids {
			e := m.edges[eid]
			if e == nil {
				continue
			}
			if edgeType != "" && e.Type != edgeType {
				continue
			}
			out = append(out, copyEdge(e))
		}
	}

	switch dir {
	case DirOut:
		appendMatching(m.outgoingEdges[id])
	case DirIn:
		appendMatching(m.incomingEdges[id])
	case DirBoth:
		appendMatching(m.outgoingEdges[id])
		// A self-loop sits in both indexes; skip edges already collected
		// from the outgoing side.
		seen := make(map[EdgeID]struct{}, len(out))
		for _, e := range out {
			seen[e.ID] = struct{}{}
		}
		for eid := range m.incomingEdges[id] {
			if _, dup := seen[eid]; dup {
				continue
			}
			e := m.edges[eid]
			if e == nil {
				continue
			}
			if edgeType != "" && e.Type != edgeType {
				continue
			}
			out = append(out, copyEdge(e))
		}
	}
	return out
}

// AllNodes returns a copy of every node.
func (m *MemoryEngine) AllNodes() []*Node {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil
	}
	out := make([]*Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, copyNode(n))
	}
	return out
}

// AllEdges returns a copy of every relationship, including dangling ones.
func (m *MemoryEngine) AllEdges() []*Edge {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil
	}
	out := make([]*Edge, 0, len(m.edges))
	for _, e := range m.edges {
		out = append(out, copyEdge(e))
	}
	return out
}

// Labels returns the set of labels currently carried by at least one node.
func (m *MemoryEngine) Labels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil
	}
	out := make([]string, 0, len(m.nodesByLabel))
	for label, ids := range m.nodesByLabel {
		if len(ids) > 0 {
			out = append(out, label)
		}
	}
	return out
}

// RelationshipTypes returns the set of relationship types in the store.
func (m *MemoryEngine) RelationshipTypes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil
	}
	set := make(map[string]struct{})
	for _, e := range m.edges {
		set[e.Type] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	return out
}

// NodeCount returns the number of nodes.
func (m *MemoryEngine) NodeCount() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.nodes))
}

// EdgeCount returns the number of relationships.
func (m *MemoryEngine) EdgeCount() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.edges))
}

// Clear drops all data, keeping the engine usable. Snapshot loading uses it
// to replace the graph wholesale.
func (m *MemoryEngine) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.nodes = make(map[NodeID]*Node)
	m.edges = make(map[EdgeID]*Edge)
	m.nodesByLabel = make(map[string]map[NodeID]struct{})
	m.outgoingEdges = make(map[NodeID]map[EdgeID]struct{})
	m.incomingEdges = make(map[NodeID]map[EdgeID]struct{})
}

// Close marks the engine closed and releases its maps.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.nodes = nil
	m.edges = nil
	m.nodesByLabel = nil
	m.outgoingEdges = nil
	m.incomingEdges = nil
	return nil
}

// indexLabels adds the node to the per-label index. Callers hold the lock.
func (m *MemoryEngine) indexLabels(node *Node) {
	for _, label := range node.Labels {
		if m.nodesByLabel[label] == nil {
			m.nodesByLabel[label] = make(map[NodeID]struct{})
		}
		m.nodesByLabel[label][node.ID] = struct{}{}
	}
}

// unindexLabels removes the node from the per-label index. Callers hold the lock.
func (m *MemoryEngine) unindexLabels(node *Node) {
	for _, label := range node.Labels {
		if idx := m.nodesByLabel[label]; idx != nil {
			delete(idx, node.ID)
		}
	}
}

// indexEdge adds the edge to both adjacency indexes. Callers hold the lock.
func (m *MemoryEngine) indexEdge(edge *Edge) {
	if m.outgoingEdges[edge.StartNode] == nil {
		m.outgoingEdges[edge.StartNode] = make(map[EdgeID]struct{})
	}
	m.outgoingEdges[edge.StartNode][edge.ID] = struct{}{}

	if m.incomingEdges[edge.EndNode] == nil {
		m.incomingEdges[edge.EndNode] = make(map[EdgeID]struct{})
	}
	m.incomingEdges[edge.EndNode][edge.ID] = struct{}{}
}

var _ Engine = (*MemoryEngine)(nil)
