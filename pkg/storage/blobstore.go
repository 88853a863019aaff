package storage

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"golang.org/x/crypto/blake2b"
)

const (
	prefixBlob = byte(0x01) // blob:address -> payload
)

// Address is the blake2b-256 digest of a payload, hex-encoded. It is the
// identity of a snapshot in the blob store and of a block inside a CAR
// stream: same bytes, same address, always.
type Address string

// AddressOf computes the content address of a payload.
func AddressOf(data []byte) Address {
	return addressFromSum(blake2b.Sum256(data))
}

func addressFromSum(sum [blake2b.Size256]byte) Address {
	return Address(hex.EncodeToString(sum[:]))
}

// Valid reports whether the address is a well-formed blake2b-256 hex digest.
func (a Address) Valid() bool {
	if len(a) != blake2b.Size256*2 {
		return false
	}
	_, err := hex.DecodeString(string(a))
	return err == nil
}

// BlobStoreOptions configures a BlobStore.
type BlobStoreOptions struct {
	// Dir is the BadgerDB directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps all data in RAM. Useful for tests.
	InMemory bool

	// SyncWrites forces an fsync per write for maximum durability.
	SyncWrites bool

	// Logger receives BadgerDB's own diagnostics. nil keeps Badger quiet.
	Logger badger.Logger
}

// BlobStore is a content-addressed byte store over BadgerDB. Payloads are
// keyed by their own digest, which makes Put naturally idempotent and makes
// corruption detectable: a payload that does not hash to its key was
// tampered with or damaged.
type BlobStore struct {
	db *badger.DB

	mu     sync.RWMutex
	closed bool
}

// NewBlobStore opens (or creates) a blob store in dir.
func NewBlobStore(dir string) (*BlobStore, error) {
	return NewBlobStoreWithOptions(BlobStoreOptions{Dir: dir})
}

// NewBlobStoreInMemory creates a blob store that keeps everything in RAM.
func NewBlobStoreInMemory() (*BlobStore, error) {
	return NewBlobStoreWithOptions(BlobStoreOptions{InMemory: true})
}

// NewBlobStoreWithOptions opens a blob store with explicit configuration.
func NewBlobStoreWithOptions(opts BlobStoreOptions) (*BlobStore, error) {
	badgerOpts := badger.DefaultOptions(opts.Dir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return &BlobStore{db: db}, nil
}

// Put stores the payload and returns its content address. Storing the same
// bytes twice writes once.
func (s *BlobStore) Put(data []byte) (Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", ErrBlobStoreClosed
	}

	addr := AddressOf(data)
	key := blobKey(addr)
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return "", fmt.Errorf("put blob: %w", err)
	}
	return addr, nil
}

// Get retrieves a payload by address and verifies it still hashes to that
// address.
func (s *BlobStore) Get(addr Address) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrBlobStoreClosed
	}
	if !addr.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, addr)
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blobKey(addr))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrBlobNotFound
			}
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("get blob: %w", err)
	}

	if AddressOf(data) != addr {
		return nil, fmt.Errorf("%w: %s", ErrAddressMismatch, addr)
	}
	return data, nil
}

// Has reports whether a payload with the address exists.
func (s *BlobStore) Has(addr Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrBlobStoreClosed
	}
	if !addr.Valid() {
		return false, nil
	}

	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(blobKey(addr)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("has blob: %w", err)
	}
	return found, nil
}

// Close shuts down the underlying BadgerDB.
func (s *BlobStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func blobKey(addr Address) []byte {
	return append([]byte{prefixBlob}, []byte(addr)...)
}

// SaveGraph serializes the engine's full contents in the given format and
// stores the snapshot in the blob store, returning its content address.
func (m *MemoryEngine) SaveGraph(store *BlobStore, format Format) (Address, error) {
	snap, err := m.Snapshot()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := EncodeSnapshot(&buf, snap, format); err != nil {
		return "", err
	}
	return store.Put(buf.Bytes())
}

// LoadGraph replaces the engine's contents with the snapshot stored at the
// address, detecting its format from the payload. Failure is reported by
// error return only; the persistence boundary never panics.
func (m *MemoryEngine) LoadGraph(store *BlobStore, addr Address) error {
	data, err := store.Get(addr)
	if err != nil {
		return err
	}

	format, err := DetectFormat(data)
	if err != nil {
		return err
	}
	snap, err := DecodeSnapshot(bytes.NewReader(data), format)
	if err != nil {
		return err
	}
	return m.RestoreSnapshot(snap)
}
