package storage

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

// carMagic opens every CAR stream. The 0x89 first byte keeps the format
// unmistakably binary: no CAR file can ever start with a JSON '{'.
var carMagic = [8]byte{0x89, 'M', 'U', 'N', 'C', 'A', 'R', '\n'}

const (
	carVersion = 1

	// carMaxBlockSize bounds a single block so a corrupted length prefix
	// cannot drive an absurd allocation.
	carMaxBlockSize = 1 << 28
)

// carManifest is the root block of a CAR stream. It references every other
// block by content address; the graph is reassembled by resolving it.
type carManifest struct {
	Schema        string   `json:"schema"`
	Nodes         []string `json:"nodes"`
	Relationships []string `json:"relationships"`
}

// encodeCAR writes the snapshot as a content-addressed block archive:
//
//	magic (8 bytes) | version (1 byte) | block*
//	block = uvarint payload length | blake2b-256 digest (32 bytes) | payload
//
// The first block is the manifest; the rest are the schema, node, and
// relationship payloads it references. Identical payloads share one block.
func encodeCAR(w io.Writer, snap *Snapshot) error {
	schemaPayload, err := json.Marshal(snap.Schema)
	if err != nil {
		return fmt.Errorf("encode car schema: %w", err)
	}

	manifest := carManifest{
		Schema:        string(AddressOf(schemaPayload)),
		Nodes:         make([]string, 0, len(snap.Nodes)),
		Relationships: make([]string, 0, len(snap.Relationships)),
	}

	// Address -> payload, insertion-ordered for deterministic output.
	payloads := make(map[string][]byte)
	order := []string{manifest.Schema}
	payloads[manifest.Schema] = schemaPayload

	addPayload := func(v any) (string, error) {
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		addr := string(AddressOf(data))
		if _, dup := payloads[addr]; !dup {
			payloads[addr] = data
			order = append(order, addr)
		}
		return addr, nil
	}

	for i := range snap.Nodes {
		addr, err := addPayload(&snap.Nodes[i])
		if err != nil {
			return fmt.Errorf("encode car node %q: %w", snap.Nodes[i].ID, err)
		}
		manifest.Nodes = append(manifest.Nodes, addr)
	}
	for i := range snap.Relationships {
		addr, err := addPayload(&snap.Relationships[i])
		if err != nil {
			return fmt.Errorf("encode car relationship %q: %w", snap.Relationships[i].ID, err)
		}
		manifest.Relationships = append(manifest.Relationships, addr)
	}

	manifestPayload, err := json.Marshal(&manifest)
	if err != nil {
		return fmt.Errorf("encode car manifest: %w", err)
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(carMagic[:]); err != nil {
		return fmt.Errorf("encode car: %w", err)
	}
	if err := bw.WriteByte(carVersion); err != nil {
		return fmt.Errorf("encode car: %w", err)
	}
	if err := writeCARBlock(bw, manifestPayload); err != nil {
		return err
	}
	for _, addr := range order {
		if err := writeCARBlock(bw, payloads[addr]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeCARBlock(w *bufio.Writer, payload []byte) error {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(payload)))
	if _, err := w.Write(lenBuf[:n]); err != nil {
		return fmt.Errorf("encode car block: %w", err)
	}
	sum := blake2b.Sum256(payload)
	if _, err := w.Write(sum[:]); err != nil {
		return fmt.Errorf("encode car block: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("encode car block: %w", err)
	}
	return nil
}

// decodeCAR reads a block archive, verifies every block's content address,
// and reassembles the snapshot from the manifest.
func decodeCAR(r io.Reader) (*Snapshot, error) {
	br := bufio.NewReader(r)

	var magic [8]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: car: short magic: %v", ErrSnapshotCorrupted, err)
	}
	if magic != carMagic {
		return nil, fmt.Errorf("%w: car: bad magic", ErrSnapshotCorrupted)
	}
	version, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: car: missing version: %v", ErrSnapshotCorrupted, err)
	}
	if version != carVersion {
		return nil, fmt.Errorf("%w: car: unsupported version %d", ErrSnapshotCorrupted, version)
	}

	var manifestPayload []byte
	blocks := make(map[string][]byte)
	for i := 0; ; i++ {
		payload, addr, err := readCARBlock(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: car block %d: %v", ErrSnapshotCorrupted, i, err)
		}
		if i == 0 {
			manifestPayload = payload
			continue
		}
		blocks[addr] = payload
	}
	if manifestPayload == nil {
		return nil, fmt.Errorf("%w: car: missing manifest block", ErrSnapshotCorrupted)
	}

	var manifest carManifest
	if err := json.Unmarshal(manifestPayload, &manifest); err != nil {
		return nil, fmt.Errorf("%w: car manifest: %v", ErrSnapshotCorrupted, err)
	}

	resolve := func(addr string) ([]byte, error) {
		payload, ok := blocks[addr]
		if !ok {
			return nil, fmt.Errorf("%w: car: manifest references missing block %s", ErrSnapshotCorrupted, addr)
		}
		return payload, nil
	}

	snap := &Snapshot{
		Nodes:         make([]SnapshotNode, 0, len(manifest.Nodes)),
		Relationships: make([]SnapshotRel, 0, len(manifest.Relationships)),
	}

	schemaPayload, err := resolve(manifest.Schema)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(schemaPayload, &snap.Schema); err != nil {
		return nil, fmt.Errorf("%w: car schema: %v", ErrSnapshotCorrupted, err)
	}

	for _, addr := range manifest.Nodes {
		payload, err := resolve(addr)
		if err != nil {
			return nil, err
		}
		var node SnapshotNode
		if err := decodeJSONValue(payload, &node); err != nil {
			return nil, fmt.Errorf("%w: car node %s: %v", ErrSnapshotCorrupted, addr, err)
		}
		snap.Nodes = append(snap.Nodes, node)
	}
	for _, addr := range manifest.Relationships {
		payload, err := resolve(addr)
		if err != nil {
			return nil, err
		}
		var rel SnapshotRel
		if err := decodeJSONValue(payload, &rel); err != nil {
			return nil, fmt.Errorf("%w: car relationship %s: %v", ErrSnapshotCorrupted, addr, err)
		}
		snap.Relationships = append(snap.Relationships, rel)
	}

	normalizeSnapshot(snap)
	return snap, nil
}

// readCARBlock reads one length-prefixed block and verifies its address.
// Returns io.EOF at a clean stream end.
func readCARBlock(br *bufio.Reader) (payload []byte, addr string, err error) {
	length, err := binary.ReadUvarint(br)
	if err != nil {
		if err == io.EOF {
			return nil, "", io.EOF
		}
		return nil, "", fmt.Errorf("length prefix: %w", err)
	}
	if length > carMaxBlockSize {
		return nil, "", fmt.Errorf("block length %d exceeds limit", length)
	}

	var sum [blake2b.Size256]byte
	if _, err := io.ReadFull(br, sum[:]); err != nil {
		return nil, "", fmt.Errorf("address: %w", err)
	}
	payload = make([]byte, length)
	if _, err := io.ReadFull(br, payload); err != nil {
		return nil, "", fmt.Errorf("payload: %w", err)
	}

	actual := blake2b.Sum256(payload)
	if actual != sum {
		return nil, "", ErrAddressMismatch
	}
	return payload, string(addressFromSum(sum)), nil
}

// decodeJSONValue unmarshals with json.Number so integral property values
// stay int64 after normalization.
func decodeJSONValue(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
