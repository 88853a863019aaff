package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// Format identifies a snapshot interchange encoding.
type Format string

const (
	// FormatDAGJSON is a single nested JSON document with stable ordering,
	// meant to be human-diffable.
	FormatDAGJSON Format = "dag-json"
	// FormatJSONLines is one JSON record per line, cheapest to stream.
	FormatJSONLines Format = "jsonl"
	// FormatCAR is a binary content-addressed block archive. It never begins
	// with a JSON '{'; consumers must treat it as opaque binary.
	FormatCAR Format = "car"
)

// jsonlScanBuffer caps one JSON-Lines record. Large string properties make
// long lines; 16 MiB leaves generous headroom.
const jsonlScanBuffer = 16 * 1024 * 1024

// Snapshot is the serialized form of a full graph: every node, every
// relationship (dangling ones included), and the schema metadata.
// All three formats are encodings of this one structure, so a snapshot
// round-trips losslessly between them.
type Snapshot struct {
	Schema        SnapshotSchema `json:"schema"`
	Nodes         []SnapshotNode `json:"nodes"`
	Relationships []SnapshotRel  `json:"relationships"`
}

// SnapshotSchema carries the catalog metadata: which labels and relationship
// types appear in the graph. Both slices are sorted.
type SnapshotSchema struct {
	Labels            []string `json:"labels"`
	RelationshipTypes []string `json:"relationshipTypes"`
}

// SnapshotNode is one serialized node.
type SnapshotNode struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties,omitempty"`
}

// SnapshotRel is one serialized relationship.
type SnapshotRel struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	StartNode  string         `json:"startNode"`
	EndNode    string         `json:"endNode"`
	Properties map[string]any `json:"properties,omitempty"`
}

// jsonlRecord is the JSON-Lines framing: every line is one of these, tagged
// by kind. The schema line comes first, then nodes, then relationships.
type jsonlRecord struct {
	Kind string `json:"kind"`

	// kind == "schema"
	Labels            []string `json:"labels,omitempty"`
	RelationshipTypes []string `json:"relationshipTypes,omitempty"`

	// kind == "node" / "rel"
	ID         string         `json:"id,omitempty"`
	NodeLabels []string       `json:"nodeLabels,omitempty"`
	Type       string         `json:"type,omitempty"`
	StartNode  string         `json:"startNode,omitempty"`
	EndNode    string         `json:"endNode,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

const (
	jsonlKindSchema = "schema"
	jsonlKindNode   = "node"
	jsonlKindRel    = "rel"
)

// Snapshot captures the current graph as a Snapshot document. Nodes and
// relationships are sorted by id so that two encodes of the same graph are
// byte-identical.
func (m *MemoryEngine) Snapshot() (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	snap := &Snapshot{
		Nodes:         make([]SnapshotNode, 0, len(m.nodes)),
		Relationships: make([]SnapshotRel, 0, len(m.edges)),
	}

	labelSet := make(map[string]struct{})
	for _, n := range m.nodes {
		for _, l := range n.Labels {
			labelSet[l] = struct{}{}
		}
		snap.Nodes = append(snap.Nodes, SnapshotNode{
			ID:         string(n.ID),
			Labels:     append([]string(nil), n.Labels...),
			Properties: snapshotProperties(n.Properties),
		})
	}

	typeSet := make(map[string]struct{})
	for _, e := range m.edges {
		typeSet[e.Type] = struct{}{}
		snap.Relationships = append(snap.Relationships, SnapshotRel{
			ID:         string(e.ID),
			Type:       e.Type,
			StartNode:  string(e.StartNode),
			EndNode:    string(e.EndNode),
			Properties: snapshotProperties(e.Properties),
		})
	}

	snap.Schema.Labels = sortedKeys(labelSet)
	snap.Schema.RelationshipTypes = sortedKeys(typeSet)
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID < snap.Nodes[j].ID })
	sort.Slice(snap.Relationships, func(i, j int) bool {
		return snap.Relationships[i].ID < snap.Relationships[j].ID
	})

	normalizeSnapshot(snap)
	return snap, nil
}

// RestoreSnapshot replaces the engine's contents with the snapshot.
// On any error the engine is cleared rather than left half-loaded.
func (m *MemoryEngine) RestoreSnapshot(snap *Snapshot) error {
	if snap == nil {
		return ErrInvalidData
	}

	m.Clear()
	for i := range snap.Nodes {
		sn := &snap.Nodes[i]
		err := m.importNode(&Node{
			ID:         NodeID(sn.ID),
			Labels:     sn.Labels,
			Properties: sn.Properties,
		})
		if err != nil {
			m.Clear()
			return fmt.Errorf("restore node %q: %w", sn.ID, err)
		}
	}
	for i := range snap.Relationships {
		sr := &snap.Relationships[i]
		err := m.importEdge(&Edge{
			ID:         EdgeID(sr.ID),
			Type:       sr.Type,
			StartNode:  NodeID(sr.StartNode),
			EndNode:    NodeID(sr.EndNode),
			Properties: sr.Properties,
		})
		if err != nil {
			m.Clear()
			return fmt.Errorf("restore relationship %q: %w", sr.ID, err)
		}
	}
	return nil
}

// EncodeSnapshot writes the snapshot to w in the given format.
func EncodeSnapshot(w io.Writer, snap *Snapshot, format Format) error {
	if snap == nil {
		return ErrInvalidData
	}
	switch format {
	case FormatDAGJSON:
		return encodeDAGJSON(w, snap)
	case FormatJSONLines:
		return encodeJSONLines(w, snap)
	case FormatCAR:
		return encodeCAR(w, snap)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// DecodeSnapshot reads one snapshot from r in the given format.
func DecodeSnapshot(r io.Reader, format Format) (*Snapshot, error) {
	switch format {
	case FormatDAGJSON:
		return decodeDAGJSON(r)
	case FormatJSONLines:
		return decodeJSONLines(r)
	case FormatCAR:
		return decodeCAR(r)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// DetectFormat sniffs the encoding from the first bytes of a snapshot.
// CAR is recognized by its magic; the two text formats both start with '{',
// and are told apart by whether the first line is a tagged JSON-Lines
// schema record.
func DetectFormat(data []byte) (Format, error) {
	if bytes.HasPrefix(data, carMagic[:]) {
		return FormatCAR, nil
	}

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", ErrUnknownFormat
	}

	line := trimmed
	if i := bytes.IndexByte(trimmed, '\n'); i >= 0 {
		line = trimmed[:i]
	}
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(line), &probe); err == nil && probe.Kind == jsonlKindSchema {
		return FormatJSONLines, nil
	}
	return FormatDAGJSON, nil
}

// ==== DAG-JSON ====

func encodeDAGJSON(w io.Writer, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode dag-json: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("encode dag-json: %w", err)
	}
	return nil
}

func decodeDAGJSON(r io.Reader) (*Snapshot, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var snap Snapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: dag-json: %v", ErrSnapshotCorrupted, err)
	}
	normalizeSnapshot(&snap)
	return &snap, nil
}

// ==== JSON-Lines ====

func encodeJSONLines(w io.Writer, snap *Snapshot) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	if err := enc.Encode(jsonlRecord{
		Kind:              jsonlKindSchema,
		Labels:            snap.Schema.Labels,
		RelationshipTypes: snap.Schema.RelationshipTypes,
	}); err != nil {
		return fmt.Errorf("encode jsonl schema: %w", err)
	}
	for i := range snap.Nodes {
		n := &snap.Nodes[i]
		if err := enc.Encode(jsonlRecord{
			Kind:       jsonlKindNode,
			ID:         n.ID,
			NodeLabels: n.Labels,
			Properties: n.Properties,
		}); err != nil {
			return fmt.Errorf("encode jsonl node %q: %w", n.ID, err)
		}
	}
	for i := range snap.Relationships {
		rel := &snap.Relationships[i]
		if err := enc.Encode(jsonlRecord{
			Kind:       jsonlKindRel,
			ID:         rel.ID,
			Type:       rel.Type,
			StartNode:  rel.StartNode,
			EndNode:    rel.EndNode,
			Properties: rel.Properties,
		}); err != nil {
			return fmt.Errorf("encode jsonl relationship %q: %w", rel.ID, err)
		}
	}
	return bw.Flush()
}

func decodeJSONLines(r io.Reader) (*Snapshot, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), jsonlScanBuffer)

	snap := &Snapshot{}
	sawSchema := false
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec jsonlRecord
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("%w: jsonl line %d: %v", ErrSnapshotCorrupted, lineNo, err)
		}

		switch rec.Kind {
		case jsonlKindSchema:
			snap.Schema.Labels = rec.Labels
			snap.Schema.RelationshipTypes = rec.RelationshipTypes
			sawSchema = true
		case jsonlKindNode:
			snap.Nodes = append(snap.Nodes, SnapshotNode{
				ID:         rec.ID,
				Labels:     rec.NodeLabels,
				Properties: rec.Properties,
			})
		case jsonlKindRel:
			snap.Relationships = append(snap.Relationships, SnapshotRel{
				ID:         rec.ID,
				Type:       rec.Type,
				StartNode:  rec.StartNode,
				EndNode:    rec.EndNode,
				Properties: rec.Properties,
			})
		default:
			return nil, fmt.Errorf("%w: jsonl line %d: unknown kind %q", ErrSnapshotCorrupted, lineNo, rec.Kind)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: jsonl: %v", ErrSnapshotCorrupted, err)
	}
	if !sawSchema {
		return nil, fmt.Errorf("%w: jsonl: missing schema record", ErrSnapshotCorrupted)
	}
	normalizeSnapshot(snap)
	return snap, nil
}

// ==== Value normalization ====

// normalizeSnapshot rewrites a snapshot into canonical form: numbers come out
// as int64 when integral and float64 otherwise, and every empty collection
// becomes nil. Decoders use json.Number to avoid the default float64-only
// path, which would turn a stored int64 into a float on round-trip; the
// empty-vs-nil folding keeps a snapshot identical no matter which format it
// passed through, since omitempty drops empty collections in some encodings
// but not others.
func normalizeSnapshot(snap *Snapshot) {
	snap.Schema.Labels = nilIfEmpty(snap.Schema.Labels)
	snap.Schema.RelationshipTypes = nilIfEmpty(snap.Schema.RelationshipTypes)
	if len(snap.Nodes) == 0 {
		snap.Nodes = nil
	}
	if len(snap.Relationships) == 0 {
		snap.Relationships = nil
	}
	for i := range snap.Nodes {
		n := &snap.Nodes[i]
		n.Labels = nilIfEmpty(n.Labels)
		if len(n.Properties) == 0 {
			n.Properties = nil
		} else {
			normalizeProperties(n.Properties)
		}
	}
	for i := range snap.Relationships {
		r := &snap.Relationships[i]
		if len(r.Properties) == 0 {
			r.Properties = nil
		} else {
			normalizeProperties(r.Properties)
		}
	}
}

// snapshotProperties copies props for serialization, folding empty to nil.
func snapshotProperties(props map[string]any) map[string]any {
	if len(props) == 0 {
		return nil
	}
	return CopyProperties(props)
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func normalizeProperties(props map[string]any) {
	for k, v := range props {
		props[k] = normalizeValue(v)
	}
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []any:
		for i := range t {
			t[i] = normalizeValue(t[i])
		}
		return t
	case map[string]any:
		normalizeProperties(t)
		return t
	}
	return v
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
