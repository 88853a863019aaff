// Package muninn is the embedded entry point to the Muninn graph database.
//
// A DB bundles the in-memory graph engine, the Cypher pipeline, the
// transaction manager with its write-ahead log, and a content-addressed
// snapshot store behind one handle:
//
//	db, err := muninn.OpenInMemory()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	res, err := db.Execute(ctx,
//		"CREATE (n:Person {name: $name}) RETURN n.name",
//		map[string]any{"name": "Ada"})
//
// Execute runs statements directly against the engine in auto-commit
// mode: each storage operation applies immediately, and a mid-query
// failure leaves earlier writes in place (reported in the result
// summary). ExecuteWrite wraps the statement in a managed transaction,
// so its effects become visible atomically on commit or not at all.
package muninn

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/muninndb/muninn/pkg/config"
	"github.com/muninndb/muninn/pkg/cypher"
	"github.com/muninndb/muninn/pkg/storage"
)

// ErrClosed is returned by operations on a closed DB.
var ErrClosed = errors.New("database is closed")

// DB is an open Muninn database.
type DB struct {
	config *config.Config
	mu     sync.RWMutex
	closed bool

	engine   *storage.MemoryEngine
	wal      *storage.WAL
	tm       *storage.TransactionManager
	blobs    *storage.BlobStore
	executor *cypher.Executor

	isolation storage.IsolationLevel
	format    storage.Format
}

// Open opens a database with the given configuration. A nil cfg uses
// the defaults (in-memory, WAL off, CAR snapshots).
//
// When cfg.Database.DataDir is set, the WAL (if enabled) and the
// snapshot blob store live under it; otherwise everything stays in
// memory and Close discards the data.
func Open(cfg *config.Config) (*DB, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	isolation, err := storage.ParseIsolationLevel(cfg.Query.DefaultIsolation)
	if err != nil {
		return nil, err
	}

	db := &DB{
		config:    cfg,
		engine:    storage.NewMemoryEngine(),
		isolation: isolation,
		format:    storage.Format(cfg.Database.SnapshotFormat),
	}

	dataDir := cfg.Database.DataDir
	if dataDir != "" && cfg.Database.WALEnabled {
		wal, err := storage.NewWAL(filepath.Join(dataDir, "wal"), &storage.WALConfig{
			SyncMode:          cfg.Database.WALSyncMode,
			BatchSyncInterval: cfg.Database.WALSyncInterval,
			Logger:            newDiagLogger(cfg.Logging),
		})
		if err != nil {
			db.closeInternal()
			return nil, fmt.Errorf("open wal: %w", err)
		}
		db.wal = wal
	}

	if dataDir != "" {
		db.blobs, err = storage.NewBlobStore(filepath.Join(dataDir, "blobs"))
	} else {
		db.blobs, err = storage.NewBlobStoreInMemory()
	}
	if err != nil {
		db.closeInternal()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	db.tm = storage.NewTransactionManager(db.engine, db.wal)
	db.executor = cypher.NewExecutor(db.engine)
	db.executor.MaxRows = cfg.Query.MaxRows

	return db, nil
}

// OpenInMemory opens a database with the default configuration: no
// data directory, no WAL, nothing on disk. The mode tests and embedded
// callers usually want.
func OpenInMemory() (*DB, error) {
	return Open(nil)
}

// Execute runs one Cypher statement in auto-commit mode.
//
// The error return covers failures before execution starts; failures
// during execution are reported in res.Summary.Error with a nil error.
// Writes applied before a mid-query failure stay applied; use
// ExecuteWrite when atomicity matters.
func (db *DB) Execute(ctx context.Context, query string, params map[string]any) (*cypher.Result, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrClosed
	}

	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	return db.executor.Execute(ctx, query, params)
}

// ExecuteWrite runs one Cypher statement inside a transaction.
//
// The statement executes against a transactional overlay; on success
// the buffered operations commit through the WAL and become visible
// atomically. Any failure, including one captured in the result
// summary, rolls the transaction back. isolation selects the level by
// name ("READ_COMMITTED", "SERIALIZABLE", ...); empty uses the
// configured default. Commit may fail with storage.ErrConflict when a
// concurrent transaction invalidated this one's reads.
func (db *DB) ExecuteWrite(ctx context.Context, query string, params map[string]any, isolation string) (*cypher.Result, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrClosed
	}

	level := db.isolation
	if isolation != "" {
		var err error
		level, err = storage.ParseIsolationLevel(isolation)
		if err != nil {
			return nil, err
		}
	}

	ctx, cancel := db.queryContext(ctx)
	defer cancel()

	tx, err := db.tm.Begin(level)
	if err != nil {
		return nil, err
	}

	ex := cypher.NewExecutor(tx)
	ex.MaxRows = db.config.Query.MaxRows

	res, err := ex.Execute(ctx, query, params)
	if err != nil || res.Summary.Error != "" {
		_ = tx.Rollback()
		return res, err
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// SaveSnapshot encodes the current graph in the configured snapshot
// format and stores it in the blob store, returning its content
// address. Saving an identical graph twice returns the same address.
func (db *DB) SaveSnapshot() (storage.Address, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return "", ErrClosed
	}
	return db.engine.SaveGraph(db.blobs, db.format)
}

// LoadSnapshot replaces the graph with the snapshot stored at addr.
// The blob's format is detected from its bytes, so an address saved
// under a different configured format loads fine.
func (db *DB) LoadSnapshot(addr storage.Address) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}
	return db.engine.LoadGraph(db.blobs, addr)
}

// Engine exposes the underlying graph engine for callers that need
// direct storage access alongside Cypher.
func (db *DB) Engine() *storage.MemoryEngine {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.engine
}

// Config returns the configuration the database was opened with.
func (db *DB) Config() *config.Config {
	return db.config
}

// Close releases the database. In-memory data is discarded; the WAL
// and blob store are flushed and closed. Close is idempotent.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	return db.closeInternal()
}

// closeInternal performs cleanup without taking the lock. Used during
// initialization failures and normal close.
func (db *DB) closeInternal() error {
	var errs []error

	if db.blobs != nil {
		if err := db.blobs.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if db.wal != nil {
		if err := db.wal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if db.engine != nil {
		if err := db.engine.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// queryContext applies the configured per-query timeout.
func (db *DB) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if db.config.Query.Timeout > 0 {
		return context.WithTimeout(ctx, db.config.Query.Timeout)
	}
	return ctx, func() {}
}
