// Write-ahead log for transaction durability.
//
// Every committed (and explicitly rolled back) transaction is recorded as a
// WAL entry before its operations reach the engine. Entries are hash-chained:
// each one carries the content address of its predecessor, so the log is an
// append-only chain with at most one successor per entry. Recovery replays
// committed entries in order after verifying both the per-record checksums
// and the chain.
//
// Usage:
//
//	wal, err := NewWAL("/path/to/wal", nil)
//	tm := NewTransactionManager(engine, wal)
//
//	tx, _ := tm.Begin(Serializable)
//	tx.CreateNode([]string{"Person"}, map[string]any{"name": "Alice"})
//	err = tm.Commit(tx) // appended to the WAL, then applied
//
//	// Recovery after crash
//	engine, err := ReplayWAL("/path/to/wal", nil)
package storage

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// WAL record format constants.
const (
	// walMagic opens every record. "WUML" in little-endian.
	walMagic uint32 = 0x4C4D5557

	// walFormatVersion guards future format changes.
	walFormatVersion uint8 = 1

	// walTrailer is a canary written after every record. A crash mid-write
	// leaves it missing or damaged, which marks the record incomplete
	// without ambiguity.
	walTrailer uint64 = 0xFEEDFACECAFEBEEF

	// walAlignment keeps record headers on 8-byte boundaries. Sectors and
	// pages are multiples of 8, so an aligned header cannot be torn across a
	// physical write boundary.
	walAlignment int64 = 8

	// walMaxEntrySize bounds one entry so a corrupt length prefix cannot
	// drive an absurd allocation.
	walMaxEntrySize uint32 = 16 * 1024 * 1024

	walFileName = "wal.log"
)

// alignUp rounds n up to the nearest multiple of walAlignment.
func alignUp(n int64) int64 {
	return (n + walAlignment - 1) &^ (walAlignment - 1)
}

// WALEntry is one transaction record in the log.
//
// The entry's identity is the blake2b-256 address of its serialized JSON;
// Prev holds the address of the preceding entry, forming the chain. The
// first entry of a log has an empty Prev.
type WALEntry struct {
	Sequence   uint64         `json:"seq"`
	TxID       string         `json:"tx_id"`
	Timestamp  time.Time      `json:"ts"`
	State      TxStatus       `json:"state"`
	Isolation  IsolationLevel `json:"isolation"`
	Operations []Operation    `json:"ops,omitempty"`
	ReadSet    []string       `json:"read_set,omitempty"`
	WriteSet   []string       `json:"write_set,omitempty"`
	Prev       Address        `json:"prev,omitempty"`
}

// WALConfig configures WAL behavior.
type WALConfig struct {
	// Dir holds the log file.
	Dir string

	// SyncMode controls when writes reach disk:
	// "immediate" fsyncs after each append, "batch" fsyncs on a timer,
	// "none" leaves flushing to the OS.
	SyncMode string

	// BatchSyncInterval is the fsync period for "batch" mode.
	BatchSyncInterval time.Duration

	// Logger receives structured WAL diagnostics. nil uses a stdlib-backed
	// default.
	Logger WALLogger
}

// DefaultWALConfig returns sensible defaults.
func DefaultWALConfig() *WALConfig {
	return &WALConfig{
		Dir:               "data/wal",
		SyncMode:          "batch",
		BatchSyncInterval: 100 * time.Millisecond,
	}
}

// WAL is an append-only, hash-chained transaction log. Safe for concurrent
// appends; the chain invariant (one entry per predecessor) is enforced by
// assigning Prev under the append mutex.
type WAL struct {
	mu     sync.Mutex
	config *WALConfig
	file   *os.File
	writer *bufio.Writer

	head     Address // address of the newest entry, "" when empty
	sequence atomic.Uint64
	entries  atomic.Int64
	bytes    atomic.Int64
	closed   atomic.Bool

	syncTicker *time.Ticker
	stopSync   chan struct{}

	totalSyncs   atomic.Int64
	lastSyncTime atomic.Int64
}

// WALStats is a point-in-time view of WAL activity.
type WALStats struct {
	Entries      int64     `json:"entries"`
	Bytes        int64     `json:"bytes"`
	Sequence     uint64    `json:"sequence"`
	Head         Address   `json:"head"`
	TotalSyncs   int64     `json:"total_syncs"`
	LastSyncTime time.Time `json:"last_sync_time"`
}

// NewWAL opens (or creates) the write-ahead log in dir.
//
// An existing log is scanned to recover the sequence counter and chain head.
// A torn record at the tail (crash during append) is truncated away with a
// diagnostic; corruption anywhere else fails the open.
func NewWAL(dir string, cfg *WALConfig) (*WAL, error) {
	if cfg == nil {
		cfg = DefaultWALConfig()
	}
	if dir != "" {
		cfg.Dir = dir
	}
	if cfg.Logger == nil {
		cfg.Logger = defaultWALLogger{}
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create directory: %w", err)
	}

	walPath := filepath.Join(cfg.Dir, walFileName)
	entries, validSize, err := readWALFile(walPath, cfg.Logger)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	file, err := os.OpenFile(walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open file: %w", err)
	}

	// Drop torn tail bytes so new appends continue the chain from the last
	// complete record.
	if info, statErr := file.Stat(); statErr == nil && info.Size() > validSize {
		if err := file.Truncate(validSize); err != nil {
			file.Close()
			return nil, fmt.Errorf("wal: truncate torn tail: %w", err)
		}
		cfg.Logger.Log("warn", "wal: truncated incomplete record at tail", map[string]any{
			"path":       walPath,
			"file_size":  info.Size(),
			"valid_size": validSize,
		})
	}

	if err := syncDir(cfg.Dir); err != nil {
		file.Close()
		return nil, err
	}

	w := &WAL{
		config:   cfg,
		file:     file,
		writer:   bufio.NewWriterSize(file, 64*1024),
		stopSync: make(chan struct{}),
	}
	if n := len(entries); n > 0 {
		last := entries[n-1]
		w.sequence.Store(last.Sequence)
		w.head = addressOfEntry(&last)
		w.entries.Store(int64(n))
	}
	w.bytes.Store(validSize)

	if cfg.SyncMode == "batch" && cfg.BatchSyncInterval > 0 {
		w.syncTicker = time.NewTicker(cfg.BatchSyncInterval)
		go w.batchSyncLoop()
	}

	return w, nil
}

func (w *WAL) batchSyncLoop() {
	for {
		select {
		case <-w.syncTicker.C:
			w.Sync()
		case <-w.stopSync:
			return
		}
	}
}

// Append assigns the entry its sequence number and chain predecessor, then
// writes it as one atomic record:
//
//	[magic:4][version:1][length:4][payload:N][crc:4][trailer:8][padding:0-7]
//
// The returned address identifies the appended entry and becomes the Prev of
// the next one. Callers must not set Sequence or Prev themselves.
func (w *WAL) Append(entry *WALEntry) (Address, error) {
	if w.closed.Load() {
		return "", ErrWALClosed
	}
	if entry == nil {
		return "", ErrInvalidData
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed.Load() {
		return "", ErrWALClosed
	}

	entry.Sequence = w.sequence.Add(1)
	entry.Prev = w.head
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		w.sequence.Add(^uint64(0))
		return "", fmt.Errorf("wal: marshal entry: %w", err)
	}
	if uint32(len(payload)) > walMaxEntrySize {
		w.sequence.Add(^uint64(0))
		return "", fmt.Errorf("wal: entry size %d exceeds maximum %d", len(payload), walMaxEntrySize)
	}

	recordLen, err := writeAtomicRecord(w.writer, payload)
	if err != nil {
		return "", fmt.Errorf("wal: write entry: %w", err)
	}

	addr := AddressOf(payload)
	w.head = addr
	w.entries.Add(1)
	w.bytes.Add(recordLen)

	if w.config.SyncMode == "immediate" {
		if err := w.syncLocked(); err != nil {
			return "", err
		}
	}
	return addr, nil
}

// addressOfEntry computes the content address an entry had when appended.
// Serialization is deterministic (fixed field order, no indentation), so the
// recomputed address matches the stored one byte for byte.
func addressOfEntry(entry *WALEntry) Address {
	payload, err := json.Marshal(entry)
	if err != nil {
		return ""
	}
	return AddressOf(payload)
}

// writeAtomicRecord frames one payload with magic, version, length, CRC32,
// trailer canary, and alignment padding. Returns the aligned record length.
func writeAtomicRecord(w *bufio.Writer, payload []byte) (int64, error) {
	rawLen := int64(9 + len(payload) + 4 + 8)
	alignedLen := alignUp(rawLen)

	var header [9]byte
	binary.LittleEndian.PutUint32(header[0:], walMagic)
	header[4] = walFormatVersion
	binary.LittleEndian.PutUint32(header[5:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return 0, err
	}
	if _, err := w.Write(payload); err != nil {
		return 0, err
	}

	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc32Checksum(payload))
	if _, err := w.Write(crcBuf[:]); err != nil {
		return 0, err
	}

	var trailerBuf [8]byte
	binary.LittleEndian.PutUint64(trailerBuf[:], walTrailer)
	if _, err := w.Write(trailerBuf[:]); err != nil {
		return 0, err
	}

	if padding := int(alignedLen - rawLen); padding > 0 {
		var zeros [8]byte
		if _, err := w.Write(zeros[:padding]); err != nil {
			return 0, err
		}
	}
	return alignedLen, nil
}

// Sync flushes buffered writes and fsyncs the file.
func (w *WAL) Sync() error {
	if w.closed.Load() {
		return ErrWALClosed
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *WAL) syncLocked() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	if w.config.SyncMode == "none" {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}
	w.totalSyncs.Add(1)
	w.lastSyncTime.Store(time.Now().UnixNano())
	return nil
}

// Head returns the content address of the newest entry, or "" when the log
// is empty.
func (w *WAL) Head() Address {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.head
}

// Sequence returns the sequence number of the newest entry.
func (w *WAL) Sequence() uint64 {
	return w.sequence.Load()
}

// Stats returns a snapshot of WAL activity counters.
func (w *WAL) Stats() WALStats {
	w.mu.Lock()
	head := w.head
	w.mu.Unlock()

	return WALStats{
		Entries:      w.entries.Load(),
		Bytes:        w.bytes.Load(),
		Sequence:     w.sequence.Load(),
		Head:         head,
		TotalSyncs:   w.totalSyncs.Load(),
		LastSyncTime: time.Unix(0, w.lastSyncTime.Load()),
	}
}

// Close flushes and closes the log. Subsequent appends fail with
// ErrWALClosed.
func (w *WAL) Close() error {
	if w.closed.Swap(true) {
		return nil
	}

	if w.syncTicker != nil {
		w.syncTicker.Stop()
		close(w.stopSync)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	if err := w.writer.Flush(); err != nil {
		errs = append(errs, err)
	}
	if w.config.SyncMode != "none" {
		if err := w.file.Sync(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("wal: close: %v", errs)
	}
	return nil
}

func crc32Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// ReadWALEntries reads and verifies every complete entry in a log file.
//
// Verification covers the record framing (magic, version, CRC, trailer) and
// the hash chain: each entry's Prev must be the address of the previous
// entry, and its own serialization must hash to what the next entry claims.
// A torn record at the tail is tolerated and logged; everything before it
// must be intact.
func ReadWALEntries(walPath string) ([]WALEntry, error) {
	entries, _, err := readWALFile(walPath, defaultWALLogger{})
	return entries, err
}

// readWALFile is the shared read loop. It returns the decoded entries along
// with the byte offset of the end of the last complete record, which the
// writer uses to truncate torn tails.
func readWALFile(walPath string, logger WALLogger) ([]WALEntry, int64, error) {
	file, err := os.Open(walPath)
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()

	var (
		entries   []WALEntry
		validSize int64
		prev      Address
		torn      bool
	)

	reader := bufio.NewReader(file)
	headerBuf := make([]byte, 9)

	for {
		_, err := io.ReadFull(reader, headerBuf)
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			torn = true
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("wal: read header: %w", err)
		}

		magic := binary.LittleEndian.Uint32(headerBuf[0:4])
		if magic != walMagic {
			return nil, 0, fmt.Errorf("%w: bad magic at offset %d", ErrWALCorrupted, validSize)
		}
		version := headerBuf[4]
		if version > walFormatVersion {
			return nil, 0, fmt.Errorf("%w: unsupported version %d", ErrWALCorrupted, version)
		}
		payloadLen := binary.LittleEndian.Uint32(headerBuf[5:9])
		if payloadLen > walMaxEntrySize {
			return nil, 0, fmt.Errorf("%w: entry size %d exceeds maximum %d", ErrWALCorrupted, payloadLen, walMaxEntrySize)
		}

		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(reader, payload); err != nil {
			torn = true
			break
		}

		var crcBuf [4]byte
		if _, err := io.ReadFull(reader, crcBuf[:]); err != nil {
			torn = true
			break
		}
		storedCRC := binary.LittleEndian.Uint32(crcBuf[:])
		if computed := crc32Checksum(payload); storedCRC != computed {
			return nil, 0, fmt.Errorf("%w: CRC mismatch after seq %d (stored=%x computed=%x)",
				ErrWALCorrupted, lastSeq(entries), storedCRC, computed)
		}

		var trailerBuf [8]byte
		if _, err := io.ReadFull(reader, trailerBuf[:]); err != nil {
			torn = true
			break
		}
		if binary.LittleEndian.Uint64(trailerBuf[:]) != walTrailer {
			torn = true
			break
		}

		rawLen := int64(9 + payloadLen + 4 + 8)
		alignedLen := alignUp(rawLen)
		if padding := alignedLen - rawLen; padding > 0 {
			if _, err := io.CopyN(io.Discard, reader, padding); err != nil {
				torn = true
				break
			}
		}

		// Decode with json.Number so re-encoding an entry reproduces its
		// payload byte for byte; addressOfEntry depends on that.
		var entry WALEntry
		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.UseNumber()
		if err := dec.Decode(&entry); err != nil {
			return nil, 0, fmt.Errorf("%w: decode entry after seq %d: %v", ErrWALCorrupted, lastSeq(entries), err)
		}

		// Chain verification: the entry must point at its immediate
		// predecessor. Anything else means a fork or a spliced log.
		if entry.Prev != prev {
			return nil, 0, fmt.Errorf("%w: chain break at seq %d (prev=%s want=%s)",
				ErrWALCorrupted, entry.Sequence, entry.Prev, prev)
		}
		if want := lastSeq(entries) + 1; entry.Sequence != want {
			return nil, 0, fmt.Errorf("%w: sequence gap at seq %d (want %d)",
				ErrWALCorrupted, entry.Sequence, want)
		}

		prev = AddressOf(payload)
		entries = append(entries, entry)
		validSize += alignedLen
	}

	if torn {
		logger.Log("warn", "wal: incomplete record at tail", map[string]any{
			"path":       walPath,
			"last_seq":   lastSeq(entries),
			"valid_size": validSize,
		})
	}
	return entries, validSize, nil
}

func lastSeq(entries []WALEntry) uint64 {
	if len(entries) == 0 {
		return 0
	}
	return entries[len(entries)-1].Sequence
}

// VerifyChain re-checks the hash chain of already-read entries. Used by
// integrity tooling; the read loop performs the same check inline.
func VerifyChain(entries []WALEntry) error {
	var prev Address
	for i := range entries {
		if entries[i].Prev != prev {
			return fmt.Errorf("%w: chain break at seq %d", ErrWALCorrupted, entries[i].Sequence)
		}
		prev = addressOfEntry(&entries[i])
	}
	return nil
}
