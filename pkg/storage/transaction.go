package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IsolationLevel controls how much a transaction's read set participates in
// optimistic conflict validation at commit. Higher levels track more, detect
// more, and abort more.
type IsolationLevel int

const (
	// ReadUncommitted performs no validation at commit.
	ReadUncommitted IsolationLevel = iota
	// ReadCommitted validates write/write overlap against transactions that
	// committed concurrently.
	ReadCommitted
	// RepeatableRead additionally validates reads of individual nodes and
	// relationships against concurrent writes.
	RepeatableRead
	// Serializable additionally treats label scans as reads, catching
	// phantom rows from concurrently created or relabeled nodes.
	Serializable
)

var isolationNames = map[IsolationLevel]string{
	ReadUncommitted: "READ_UNCOMMITTED",
	ReadCommitted:   "READ_COMMITTED",
	RepeatableRead:  "REPEATABLE_READ",
	Serializable:    "SERIALIZABLE",
}

func (l IsolationLevel) String() string {
	if name, ok := isolationNames[l]; ok {
		return name
	}
	return fmt.Sprintf("IsolationLevel(%d)", int(l))
}

// MarshalJSON encodes the level by name so WAL entries stay readable.
func (l IsolationLevel) MarshalJSON() ([]byte, error) {
	name, ok := isolationNames[l]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedIsoName, int(l))
	}
	return []byte(`"` + name + `"`), nil
}

func (l *IsolationLevel) UnmarshalJSON(data []byte) error {
	name := strings.Trim(string(data), `"`)
	parsed, err := ParseIsolationLevel(name)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseIsolationLevel maps a level name (as used in config files and WAL
// entries) to its IsolationLevel.
func ParseIsolationLevel(name string) (IsolationLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "READ_UNCOMMITTED":
		return ReadUncommitted, nil
	case "READ_COMMITTED":
		return ReadCommitted, nil
	case "REPEATABLE_READ":
		return RepeatableRead, nil
	case "SERIALIZABLE":
		return Serializable, nil
	}
	return ReadCommitted, fmt.Errorf("%w: %q", ErrUnsupportedIsoName, name)
}

// TxStatus is the lifecycle state of a transaction:
// active, then exactly one of committed or aborted.
type TxStatus string

const (
	TxStatusActive    TxStatus = "active"
	TxStatusCommitted TxStatus = "committed"
	TxStatusAborted   TxStatus = "aborted"
)

// OperationType tags a buffered mutation.
type OperationType string

const (
	OpCreateNode OperationType = "create_node"
	OpUpdateNode OperationType = "update_node"
	OpSetLabels  OperationType = "set_labels"
	OpDeleteNode OperationType = "delete_node"
	OpCreateEdge OperationType = "create_edge"
	OpUpdateEdge OperationType = "update_edge"
	OpDeleteEdge OperationType = "delete_edge"
)

// Operation is one buffered mutation. Which fields are set depends on Type:
// creates carry the full entity, updates carry the id and a property delta,
// deletes carry just the id.
type Operation struct {
	Type       OperationType  `json:"type"`
	Node       *Node          `json:"node,omitempty"`
	Edge       *Edge          `json:"edge,omitempty"`
	NodeID     NodeID         `json:"node_id,omitempty"`
	EdgeID     EdgeID         `json:"edge_id,omitempty"`
	Labels     []string       `json:"labels,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Transaction buffers mutations against an engine. Nothing reaches shared
// state until Commit; reads through the transaction see its own buffered
// writes layered over the engine (read-your-writes).
//
// A transaction is meant for one goroutine, but its methods are
// mutex-guarded so misuse fails safely rather than racing.
type Transaction struct {
	ID        string
	Isolation IsolationLevel
	StartTime time.Time

	manager  *TransactionManager
	beginSeq uint64

	mu     sync.Mutex
	status TxStatus
	ops    []Operation

	// Write overlay, keyed by id. createdNodes/createdEdges hold entities
	// born in this transaction; updatedNodes/updatedEdges hold the merged
	// view of pre-existing entities this transaction modified.
	createdNodes map[NodeID]*Node
	updatedNodes map[NodeID]*Node
	deletedNodes map[NodeID]struct{}
	createdEdges map[EdgeID]*Edge
	updatedEdges map[EdgeID]*Edge
	deletedEdges map[EdgeID]struct{}

	readSet  map[string]struct{}
	writeSet map[string]struct{}
}

// Conflict-detection keys. Entity keys name one node or relationship; label
// keys name a scan predicate and only participate under Serializable.
func nodeKey(id NodeID) string { return "node:" + string(id) }

func edgeKey(id EdgeID) string { return "edge:" + string(id) }

func labelKey(label string) string { return "label:" + label }

func isEntityKey(key string) bool { return !strings.HasPrefix(key, "label:") }

// TransactionManager coordinates transactions over one engine: it hands out
// transactions, validates them at commit with optimistic concurrency
// control, appends the WAL entry, and applies the buffered operations.
//
// It is the designated coordination point for mutating workloads: buffered
// operations only touch the engine inside Commit, under the manager's lock.
type TransactionManager struct {
	engine *MemoryEngine
	wal    *WAL // nil disables durability

	mu        sync.Mutex
	commitSeq uint64
	commits   []commitRecord
	active    map[string]*Transaction
}

// commitRecord remembers a committed transaction's write set for validating
// transactions that overlapped with it in time.
type commitRecord struct {
	seq      uint64
	writeSet map[string]struct{}
}

// NewTransactionManager creates a manager over the engine. wal may be nil,
// which disables durability but keeps buffering and conflict detection.
func NewTransactionManager(engine *MemoryEngine, wal *WAL) *TransactionManager {
	return &TransactionManager{
		engine: engine,
		wal:    wal,
		active: make(map[string]*Transaction),
	}
}

// Engine returns the engine this manager coordinates.
func (tm *TransactionManager) Engine() *MemoryEngine { return tm.engine }

// Begin starts a transaction at the given isolation level.
func (tm *TransactionManager) Begin(isolation IsolationLevel) (*Transaction, error) {
	if _, ok := isolationNames[isolation]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedIsoName, int(isolation))
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	tx := &Transaction{
		ID:           uuid.NewString(),
		Isolation:    isolation,
		StartTime:    time.Now(),
		manager:      tm,
		beginSeq:     tm.commitSeq,
		status:       TxStatusActive,
		createdNodes: make(map[NodeID]*Node),
		updatedNodes: make(map[NodeID]*Node),
		deletedNodes: make(map[NodeID]struct{}),
		createdEdges: make(map[EdgeID]*Edge),
		updatedEdges: make(map[EdgeID]*Edge),
		deletedEdges: make(map[EdgeID]struct{}),
		readSet:      make(map[string]struct{}),
		writeSet:     make(map[string]struct{}),
	}
	tm.active[tx.ID] = tx
	return tx, nil
}

// AddOperation buffers a raw operation into the transaction, updating the
// transaction's overlay so its own reads observe the change. Returns
// ErrTransactionDone when the transaction is no longer active.
func (tm *TransactionManager) AddOperation(tx *Transaction, op Operation) error {
	switch op.Type {
	case OpCreateNode:
		if op.Node == nil {
			return ErrInvalidData
		}
		_, err := tx.importNode(op.Node)
		return err
	case OpUpdateNode:
		_, err := tx.UpdateNode(op.NodeID, op.Properties)
		return err
	case OpSetLabels:
		_, err := tx.SetNodeLabels(op.NodeID, op.Labels)
		return err
	case OpDeleteNode:
		if err := tx.ensureActive(); err != nil {
			return err
		}
		tx.DeleteNode(op.NodeID)
		return nil
	case OpCreateEdge:
		if op.Edge == nil {
			return ErrInvalidData
		}
		_, err := tx.importEdge(op.Edge)
		return err
	case OpUpdateEdge:
		_, err := tx.UpdateEdge(op.EdgeID, op.Properties)
		return err
	case OpDeleteEdge:
		if err := tx.ensureActive(); err != nil {
			return err
		}
		tx.DeleteEdge(op.EdgeID)
		return nil
	}
	return fmt.Errorf("%w: operation type %q", ErrInvalidData, op.Type)
}

// Commit validates the transaction against concurrently committed ones,
// appends its WAL entry, applies the buffered operations to the engine, and
// transitions it to committed.
//
// A validation failure aborts the transaction and returns ErrConflict; the
// caller may retry with a fresh transaction. Apply errors after the WAL
// append are returned but do not roll anything back: the log is the
// authority at that point.
func (tm *TransactionManager) Commit(tx *Transaction) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.status != TxStatusActive {
		return fmt.Errorf("%w: %s", ErrTransactionDone, tx.status)
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	if conflict := tm.findConflict(tx); conflict != "" {
		tx.status = TxStatusAborted
		tx.discardLocked()
		delete(tm.active, tx.ID)
		tm.pruneCommits()
		return fmt.Errorf("%w: %s (isolation %s)", ErrConflict, conflict, tx.Isolation)
	}

	if tm.wal != nil && len(tx.ops) > 0 {
		entry := &WALEntry{
			TxID:       tx.ID,
			State:      TxStatusCommitted,
			Isolation:  tx.Isolation,
			Operations: tx.ops,
			ReadSet:    sortedKeys(tx.readSet),
			WriteSet:   sortedKeys(tx.writeSet),
		}
		if _, err := tm.wal.Append(entry); err != nil {
			tx.status = TxStatusAborted
			tx.discardLocked()
			delete(tm.active, tx.ID)
			tm.pruneCommits()
			return fmt.Errorf("commit %s: %w", tx.ID, err)
		}
	}

	var applyErrs []error
	for i := range tx.ops {
		if err := applyOperation(tm.engine, &tx.ops[i]); err != nil {
			applyErrs = append(applyErrs, fmt.Errorf("op %d (%s): %w", i, tx.ops[i].Type, err))
		}
	}

	if len(tx.writeSet) > 0 {
		tm.commitSeq++
		tm.commits = append(tm.commits, commitRecord{seq: tm.commitSeq, writeSet: tx.writeSet})
	}
	tx.status = TxStatusCommitted
	delete(tm.active, tx.ID)
	tm.pruneCommits()

	if len(applyErrs) > 0 {
		return fmt.Errorf("commit %s: apply: %w", tx.ID, errors.Join(applyErrs...))
	}
	return nil
}

// Rollback discards the transaction's buffered operations and transitions it
// to aborted. The engine is untouched; when a WAL is attached, an abort
// entry records the outcome for the audit trail.
func (tm *TransactionManager) Rollback(tx *Transaction) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.status != TxStatusActive {
		return fmt.Errorf("%w: %s", ErrTransactionDone, tx.status)
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	hadOps := len(tx.ops) > 0
	tx.status = TxStatusAborted
	tx.discardLocked()
	delete(tm.active, tx.ID)
	tm.pruneCommits()

	if tm.wal != nil && hadOps {
		entry := &WALEntry{
			TxID:      tx.ID,
			State:     TxStatusAborted,
			Isolation: tx.Isolation,
		}
		if _, err := tm.wal.Append(entry); err != nil {
			return fmt.Errorf("rollback %s: %w", tx.ID, err)
		}
	}
	return nil
}

// findConflict checks the transaction against every commit that happened
// after it began. Returns a description of the first conflict, or "".
//
// Validation scope by isolation level:
//
//	READ_UNCOMMITTED  nothing
//	READ_COMMITTED    this write set vs. their write sets (entity keys)
//	REPEATABLE_READ   + this read set vs. their write sets (entity keys)
//	SERIALIZABLE      + label-scan keys in the read set
//
// Callers hold tm.mu and tx.mu.
func (tm *TransactionManager) findConflict(tx *Transaction) string {
	if tx.Isolation == ReadUncommitted {
		return ""
	}

	for i := range tm.commits {
		rec := &tm.commits[i]
		if rec.seq <= tx.beginSeq {
			continue
		}

		for key := range tx.writeSet {
			if !isEntityKey(key) {
				continue
			}
			if _, clash := rec.writeSet[key]; clash {
				return "write/write on " + key
			}
		}

		if tx.Isolation >= RepeatableRead {
			for key := range tx.readSet {
				if !isEntityKey(key) {
					continue
				}
				if _, clash := rec.writeSet[key]; clash {
					return "read/write on " + key
				}
			}
		}

		if tx.Isolation == Serializable {
			for key := range tx.readSet {
				if isEntityKey(key) {
					continue
				}
				if _, clash := rec.writeSet[key]; clash {
					return "phantom on " + key
				}
			}
		}
	}
	return ""
}

// pruneCommits drops commit records every active transaction has already
// seen. Callers hold tm.mu.
func (tm *TransactionManager) pruneCommits() {
	minBegin := tm.commitSeq
	for _, tx := range tm.active {
		if tx.beginSeq < minBegin {
			minBegin = tx.beginSeq
		}
	}
	firstLive := len(tm.commits)
	for i := range tm.commits {
		if tm.commits[i].seq > minBegin {
			firstLive = i
			break
		}
	}
	if firstLive > 0 {
		tm.commits = append([]commitRecord(nil), tm.commits[firstLive:]...)
	}
}

// applyOperation replays one operation against the engine. Creates preserve
// the operation's ids; deletes are idempotent.
func applyOperation(engine *MemoryEngine, op *Operation) error {
	switch op.Type {
	case OpCreateNode:
		if op.Node == nil {
			return ErrInvalidData
		}
		return engine.importNode(op.Node)
	case OpUpdateNode:
		_, err := engine.UpdateNode(op.NodeID, op.Properties)
		return err
	case OpSetLabels:
		_, err := engine.SetNodeLabels(op.NodeID, op.Labels)
		return err
	case OpDeleteNode:
		engine.DeleteNode(op.NodeID)
		return nil
	case OpCreateEdge:
		if op.Edge == nil {
			return ErrInvalidData
		}
		return engine.importEdge(op.Edge)
	case OpUpdateEdge:
		_, err := engine.UpdateEdge(op.EdgeID, op.Properties)
		return err
	case OpDeleteEdge:
		engine.DeleteEdge(op.EdgeID)
		return nil
	}
	return fmt.Errorf("%w: operation type %q", ErrInvalidData, op.Type)
}

// ==== Transaction lifecycle ====

// Status reports the transaction's lifecycle state.
func (t *Transaction) Status() TxStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Commit is shorthand for the manager's Commit.
func (t *Transaction) Commit() error { return t.manager.Commit(t) }

// Rollback is shorthand for the manager's Rollback.
func (t *Transaction) Rollback() error { return t.manager.Rollback(t) }

func (t *Transaction) ensureActive() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ensureActiveLocked()
}

func (t *Transaction) ensureActiveLocked() error {
	if t.status != TxStatusActive {
		return fmt.Errorf("%w: %s", ErrTransactionDone, t.status)
	}
	return nil
}

func (t *Transaction) discardLocked() {
	t.ops = nil
	t.createdNodes = nil
	t.updatedNodes = nil
	t.deletedNodes = nil
	t.createdEdges = nil
	t.updatedEdges = nil
	t.deletedEdges = nil
}

func (t *Transaction) recordRead(key string) {
	if t.Isolation >= RepeatableRead {
		t.readSet[key] = struct{}{}
	}
}

func (t *Transaction) recordScan(label string) {
	if t.Isolation == Serializable {
		t.readSet[labelKey(label)] = struct{}{}
	}
}

func (t *Transaction) recordWrite(keys ...string) {
	for _, key := range keys {
		t.writeSet[key] = struct{}{}
	}
}

// ==== Transaction writes (buffered) ====

// CreateNode buffers a node creation. The node's id is generated now so the
// transaction can reference it (in relationships, further updates) before
// commit.
func (t *Transaction) CreateNode(labels []string, properties map[string]any) (*Node, error) {
	node := &Node{
		ID:         newNodeID(),
		Labels:     ModLabels(nil, labels, nil),
		Properties: CopyProperties(properties),
	}
	return t.importNode(node)
}

// importNode buffers a creation with a caller-provided node.
func (t *Transaction) importNode(node *Node) (*Node, error) {
	if node == nil || node.ID == "" {
		return nil, ErrInvalidData
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureActiveLocked(); err != nil {
		return nil, err
	}
	if _, exists := t.createdNodes[node.ID]; exists {
		return nil, ErrAlreadyExists
	}

	now := time.Now()
	stored := copyNode(node)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
		stored.UpdatedAt = now
	}
	delete(t.deletedNodes, stored.ID)
	t.createdNodes[stored.ID] = stored
	t.ops = append(t.ops, Operation{Type: OpCreateNode, Node: stored})

	t.recordWrite(nodeKey(stored.ID))
	for _, l := range stored.Labels {
		t.recordWrite(labelKey(l))
	}
	return copyNode(stored), nil
}

// GetNode reads a node through the transaction's overlay.
func (t *Transaction) GetNode(id NodeID) (*Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureActiveLocked(); err != nil {
		return nil, err
	}
	t.recordRead(nodeKey(id))

	node, ok := t.viewNodeLocked(id)
	if !ok {
		return nil, ErrNotFound
	}
	return copyNode(node), nil
}

// UpdateNode buffers a property merge. A nil value removes the key, as in
// the engine.
func (t *Transaction) UpdateNode(id NodeID, properties map[string]any) (*Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureActiveLocked(); err != nil {
		return nil, err
	}

	node, err := t.mutableNodeLocked(id)
	if err != nil {
		return nil, err
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
	node.UpdatedAt = time.Now()

	t.ops = append(t.ops, Operation{
		Type:       OpUpdateNode,
		NodeID:     id,
		Properties: CopyProperties(properties),
	})
	t.recordWrite(nodeKey(id))
	return copyNode(node), nil
}

// SetNodeLabels buffers a label replacement.
func (t *Transaction) SetNodeLabels(id NodeID, labels []string) (*Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureActiveLocked(); err != nil {
		return nil, err
	}

	node, err := t.mutableNodeLocked(id)
	if err != nil {
		return nil, err
	}

	t.recordWrite(nodeKey(id))
	for _, l := range node.Labels {
		t.recordWrite(labelKey(l))
	}
	node.Labels = ModLabels(nil, labels, nil)
	node.UpdatedAt = time.Now()
	for _, l := range node.Labels {
		t.recordWrite(labelKey(l))
	}

	t.ops = append(t.ops, Operation{Type: OpSetLabels, NodeID: id, Labels: node.Labels})
	return copyNode(node), nil
}

// DeleteNode buffers a node deletion. As in the engine, relationships are
// not cascaded. Returns false when the node is not visible to the
// transaction.
func (t *Transaction) DeleteNode(id NodeID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ensureActiveLocked() != nil {
		return false
	}

	node, ok := t.viewNodeLocked(id)
	if !ok {
		return false
	}

	t.recordWrite(nodeKey(id))
	for _, l := range node.Labels {
		t.recordWrite(labelKey(l))
	}
	delete(t.createdNodes, id)
	delete(t.updatedNodes, id)
	t.deletedNodes[id] = struct{}{}
	t.ops = append(t.ops, Operation{Type: OpDeleteNode, NodeID: id})
	return true
}

// CreateEdge buffers a relationship creation. Both endpoints must be visible
// to the transaction, which includes nodes created earlier in it.
func (t *Transaction) CreateEdge(edgeType string, start, end NodeID, properties map[string]any) (*Edge, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureActiveLocked(); err != nil {
		return nil, err
	}
	if start == "" || end == "" {
		return nil, ErrInvalidID
	}
	if _, ok := t.viewNodeLocked(start); !ok {
		return nil, ErrEndpointMissing
	}
	if _, ok := t.viewNodeLocked(end); !ok {
		return nil, ErrEndpointMissing
	}

	edge := &Edge{
		ID:         newEdgeID(),
		Type:       edgeType,
		StartNode:  start,
		EndNode:    end,
		Properties: CopyProperties(properties),
		CreatedAt:  time.Now(),
	}
	t.createdEdges[edge.ID] = edge
	t.ops = append(t.ops, Operation{Type: OpCreateEdge, Edge: edge})
	t.recordWrite(edgeKey(edge.ID))
	return copyEdge(edge), nil
}

// importEdge buffers a creation with a caller-provided edge. Endpoint
// existence is not enforced, matching snapshot import semantics.
func (t *Transaction) importEdge(edge *Edge) (*Edge, error) {
	if edge == nil || edge.ID == "" {
		return nil, ErrInvalidData
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureActiveLocked(); err != nil {
		return nil, err
	}
	if _, exists := t.createdEdges[edge.ID]; exists {
		return nil, ErrAlreadyExists
	}

	stored := copyEdge(edge)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	delete(t.deletedEdges, stored.ID)
	t.createdEdges[stored.ID] = stored
	t.ops = append(t.ops, Operation{Type: OpCreateEdge, Edge: stored})
	t.recordWrite(edgeKey(stored.ID))
	return copyEdge(stored), nil
}

// GetEdge reads a relationship through the transaction's overlay.
func (t *Transaction) GetEdge(id EdgeID) (*Edge, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureActiveLocked(); err != nil {
		return nil, err
	}
	t.recordRead(edgeKey(id))

	edge, ok := t.viewEdgeLocked(id)
	if !ok {
		return nil, ErrNotFound
	}
	return copyEdge(edge), nil
}

// UpdateEdge buffers a relationship property merge.
func (t *Transaction) UpdateEdge(id EdgeID, properties map[string]any) (*Edge, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureActiveLocked(); err != nil {
		return nil, err
	}

	edge, err := t.mutableEdgeLocked(id)
	if err != nil {
		return nil, err
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

	t.ops = append(t.ops, Operation{
		Type:       OpUpdateEdge,
		EdgeID:     id,
		Properties: CopyProperties(properties),
	})
	t.recordWrite(edgeKey(id))
	return copyEdge(edge), nil
}

// DeleteEdge buffers a relationship deletion.
func (t *Transaction) DeleteEdge(id EdgeID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ensureActiveLocked() != nil {
		return false
	}
	if _, ok := t.viewEdgeLocked(id); !ok {
		return false
	}

	delete(t.createdEdges, id)
	delete(t.updatedEdges, id)
	t.deletedEdges[id] = struct{}{}
	t.ops = append(t.ops, Operation{Type: OpDeleteEdge, EdgeID: id})
	t.recordWrite(edgeKey(id))
	return true
}

// ==== Transaction reads (overlay-merged) ====

// FindNodes matches the engine's contract (any-of labels, all-of
// properties) against the transaction's view of the graph.
func (t *Transaction) FindNodes(labels []string, properties map[string]any, limit int) []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ensureActiveLocked() != nil {
		return nil
	}
	for _, l := range labels {
		t.recordScan(l)
	}

	seen := make(map[NodeID]struct{})
	var out []*Node
	add := func(n *Node) bool {
		if _, dup := seen[n.ID]; dup {
			return false
		}
		seen[n.ID] = struct{}{}
		t.recordRead(nodeKey(n.ID))
		out = append(out, copyNode(n))
		return limit > 0 && len(out) >= limit
	}

	for _, n := range t.manager.engine.FindNodes(labels, properties, 0) {
		if _, del := t.deletedNodes[n.ID]; del {
			continue
		}
		if upd, ok := t.updatedNodes[n.ID]; ok {
			// The buffered version may no longer match the filter.
			if !nodeMatches(upd, labels, properties) {
				continue
			}
			n = upd
		}
		if add(n) {
			return out
		}
	}
	// Pre-existing nodes whose buffered changes made them match.
	for _, n := range t.updatedNodes {
		if !nodeMatches(n, labels, properties) {
			continue
		}
		if add(n) {
			return out
		}
	}
	for _, n := range t.createdNodes {
		if !nodeMatches(n, labels, properties) {
			continue
		}
		if add(n) {
			return out
		}
	}
	return out
}

// Relationships lists a node's relationships through the overlay. Buffered
// relationship creations are visible; buffered deletions are not.
func (t *Transaction) Relationships(id NodeID, dir Direction, edgeType string) []*Edge {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ensureActiveLocked() != nil {
		return nil
	}
	t.recordRead(nodeKey(id))

	var out []*Edge
	for _, e := range t.manager.engine.Relationships(id, dir, edgeType) {
		if _, del := t.deletedEdges[e.ID]; del {
			continue
		}
		if upd, ok := t.updatedEdges[e.ID]; ok {
			e = copyEdge(upd)
		}
		t.recordRead(edgeKey(e.ID))
		out = append(out, e)
	}
	for _, e := range t.createdEdges {
		if edgeType != "" && e.Type != edgeType {
			continue
		}
		matches := (dir == DirOut || dir == DirBoth) && e.StartNode == id ||
			(dir == DirIn || dir == DirBoth) && e.EndNode == id
		if !matches {
			continue
		}
		t.recordRead(edgeKey(e.ID))
		out = append(out, copyEdge(e))
	}
	return out
}

// FindPaths delegates to the engine. Buffered relationships are not
// traversed; path search sees committed state only.
func (t *Transaction) FindPaths(start, end NodeID, maxDepth int, edgeType string) [][]*Edge {
	t.mu.Lock()
	if t.ensureActiveLocked() != nil {
		t.mu.Unlock()
		return nil
	}
	t.recordRead(nodeKey(start))
	t.recordRead(nodeKey(end))
	t.mu.Unlock()

	return t.manager.engine.FindPaths(start, end, maxDepth, edgeType)
}

// AllNodes returns every node visible to the transaction.
func (t *Transaction) AllNodes() []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ensureActiveLocked() != nil {
		return nil
	}

	var out []*Node
	for _, n := range t.manager.engine.AllNodes() {
		if _, del := t.deletedNodes[n.ID]; del {
			continue
		}
		if upd, ok := t.updatedNodes[n.ID]; ok {
			n = copyNode(upd)
		}
		t.recordRead(nodeKey(n.ID))
		out = append(out, n)
	}
	for _, n := range t.createdNodes {
		t.recordRead(nodeKey(n.ID))
		out = append(out, copyNode(n))
	}
	return out
}

// AllEdges returns every relationship visible to the transaction.
func (t *Transaction) AllEdges() []*Edge {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ensureActiveLocked() != nil {
		return nil
	}

	var out []*Edge
	for _, e := range t.manager.engine.AllEdges() {
		if _, del := t.deletedEdges[e.ID]; del {
			continue
		}
		if upd, ok := t.updatedEdges[e.ID]; ok {
			e = copyEdge(upd)
		}
		t.recordRead(edgeKey(e.ID))
		out = append(out, e)
	}
	for _, e := range t.createdEdges {
		t.recordRead(edgeKey(e.ID))
		out = append(out, copyEdge(e))
	}
	return out
}

// viewNodeLocked resolves a node id through the overlay without copying.
func (t *Transaction) viewNodeLocked(id NodeID) (*Node, bool) {
	if _, del := t.deletedNodes[id]; del {
		return nil, false
	}
	if n, ok := t.createdNodes[id]; ok {
		return n, true
	}
	if n, ok := t.updatedNodes[id]; ok {
		return n, true
	}
	n, err := t.manager.engine.GetNode(id)
	if err != nil {
		return nil, false
	}
	return n, true
}

// mutableNodeLocked resolves a node the transaction may modify in place:
// a buffered creation, an already-buffered update, or a fresh engine copy
// promoted into updatedNodes.
func (t *Transaction) mutableNodeLocked(id NodeID) (*Node, error) {
	if _, del := t.deletedNodes[id]; del {
		return nil, ErrNotFound
	}
	if n, ok := t.createdNodes[id]; ok {
		return n, nil
	}
	if n, ok := t.updatedNodes[id]; ok {
		return n, nil
	}
	n, err := t.manager.engine.GetNode(id)
	if err != nil {
		return nil, err
	}
	t.updatedNodes[id] = n
	return n, nil
}

func (t *Transaction) viewEdgeLocked(id EdgeID) (*Edge, bool) {
	if _, del := t.deletedEdges[id]; del {
		return nil, false
	}
	if e, ok := t.createdEdges[id]; ok {
		return e, true
	}
	if e, ok := t.updatedEdges[id]; ok {
		return e, true
	}
	e, err := t.manager.engine.GetEdge(id)
	if err != nil {
		return nil, false
	}
	return e, true
}

func (t *Transaction) mutableEdgeLocked(id EdgeID) (*Edge, error) {
	if _, del := t.deletedEdges[id]; del {
		return nil, ErrNotFound
	}
	if e, ok := t.createdEdges[id]; ok {
		return e, nil
	}
	if e, ok := t.updatedEdges[id]; ok {
		return e, nil
	}
	e, err := t.manager.engine.GetEdge(id)
	if err != nil {
		return nil, err
	}
	t.updatedEdges[id] = e
	return e, nil
}

// nodeMatches applies the FindNodes filter to one node.
func nodeMatches(n *Node, labels []string, properties map[string]any) bool {
	if len(labels) > 0 {
		any := false
		for _, l := range labels {
			if n.HasLabel(l) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	return propsMatch(n.Properties, properties)
}

// ==== Recovery ====

// ReplayWAL rebuilds an engine from a WAL directory by re-applying every
// committed transaction in sequence order. A missing log yields an empty
// engine; a corrupted one fails with ErrWALCorrupted. Individual operations
// that no longer apply are logged and skipped rather than failing recovery.
func ReplayWAL(walDir string, logger WALLogger) (*MemoryEngine, error) {
	if logger == nil {
		logger = defaultWALLogger{}
	}

	walPath := filepath.Join(walDir, walFileName)
	entries, _, err := readWALFile(walPath, logger)
	if err != nil {
		if os.IsNotExist(err) {
			return NewMemoryEngine(), nil
		}
		return nil, err
	}

	engine := NewMemoryEngine()
	applied, skipped := 0, 0
	for i := range entries {
		entry := &entries[i]
		if entry.State != TxStatusCommitted {
			continue
		}
		for j := range entry.Operations {
			op := &entry.Operations[j]
			normalizeOperation(op)
			if err := applyOperation(engine, op); err != nil {
				skipped++
				logger.Log("error", "wal: replay operation failed", map[string]any{
					"seq":   entry.Sequence,
					"tx_id": entry.TxID,
					"op":    string(op.Type),
					"error": err.Error(),
				})
				continue
			}
			applied++
		}
	}
	logger.Log("info", "wal: replay complete", map[string]any{
		"path":    walPath,
		"entries": len(entries),
		"applied": applied,
		"skipped": skipped,
	})
	return engine, nil
}

// normalizeOperation rewrites json.Number property values left by WAL
// decoding into the engine's value model.
func normalizeOperation(op *Operation) {
	if op.Node != nil {
		normalizeProperties(op.Node.Properties)
	}
	if op.Edge != nil {
		normalizeProperties(op.Edge.Properties)
	}
	normalizeProperties(op.Properties)
}
