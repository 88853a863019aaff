package muninn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muninndb/muninn/pkg/config"
	"github.com/muninndb/muninn/pkg/storage"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func countLabel(t *testing.T, db *DB, label string) int64 {
	t.Helper()
	res, err := db.Execute(context.Background(), "MATCH (n:"+label+") RETURN count(n) AS c", nil)
	require.NoError(t, err)
	require.Empty(t, res.Summary.Error)
	require.Len(t, res.Records, 1)
	return res.Records[0][0].(int64)
}

func TestOpenInMemory(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	res, err := db.Execute(ctx, `CREATE (n:Person {name: 'Ada'})`, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Summary.Error)
	assert.Equal(t, int64(1), res.Summary.Counters.NodesCreated)

	res, err = db.Execute(ctx, `MATCH (n:Person) RETURN n.name AS name`, nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "Ada", res.Records[0][0])
}

func TestOpenNilConfigUsesDefaults(t *testing.T) {
	db, err := Open(nil)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, "", db.Config().Database.DataDir)
	assert.Equal(t, "car", db.Config().Database.SnapshotFormat)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Query.DefaultIsolation = "CHAOS"

	_, err := Open(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid isolation level")
}

func TestExecuteWithParameters(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.Execute(ctx, `CREATE (n:Person {name: $name, age: $age})`,
		map[string]any{"name": "Grace", "age": 45})
	require.NoError(t, err)

	res, err := db.Execute(ctx, `MATCH (n:Person {name: $name}) RETURN n.age AS age`,
		map[string]any{"name": "Grace"})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, int64(45), res.Records[0][0])
}

func TestExecuteWriteCommits(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	res, err := db.ExecuteWrite(ctx,
		`CREATE (a:City {name: 'London'}) CREATE (b:City {name: 'Oslo'})`, nil, "")
	require.NoError(t, err)
	assert.Empty(t, res.Summary.Error)
	assert.Equal(t, int64(2), res.Summary.Counters.NodesCreated)

	assert.Equal(t, int64(2), countLabel(t, db, "City"), "committed writes are visible")
}

func TestExecuteWriteRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	res, err := db.ExecuteWrite(ctx, `CREATE (a:Tmp) WITH a RETURN 1 / 0`, nil, "")
	require.NoError(t, err, "execution failures are captured, not returned")
	assert.Contains(t, res.Summary.Error, "division by zero")
	assert.Equal(t, "execution", res.Summary.ErrorStage)

	assert.Equal(t, int64(0), countLabel(t, db, "Tmp"), "failed transaction leaves nothing behind")
}

func TestExecuteAutoCommitKeepsPartialWrites(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	res, err := db.Execute(ctx, `CREATE (a:Tmp) WITH a RETURN 1 / 0`, nil)
	require.NoError(t, err)
	assert.Contains(t, res.Summary.Error, "division by zero")

	assert.Equal(t, int64(1), countLabel(t, db, "Tmp"),
		"auto-commit applies each operation immediately")
}

func TestExecuteWriteIsolationSelection(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	res, err := db.ExecuteWrite(ctx, `CREATE (n:Iso)`, nil, "SERIALIZABLE")
	require.NoError(t, err)
	assert.Empty(t, res.Summary.Error)

	res, err = db.ExecuteWrite(ctx, `CREATE (n:Iso)`, nil, "read_uncommitted")
	require.NoError(t, err, "isolation names are case-insensitive")
	assert.Empty(t, res.Summary.Error)

	_, err = db.ExecuteWrite(ctx, `CREATE (n:Iso)`, nil, "DIRTY")
	require.Error(t, err)

	assert.Equal(t, int64(2), countLabel(t, db, "Iso"))
}

func TestExecuteWritePreExecutionErrorReturned(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	res, err := db.ExecuteWrite(ctx, `CREATE (n:`, nil, "")
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "parse", res.Summary.ErrorStage)
}

func TestSaveLoadSnapshot(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.Execute(ctx, `CREATE (a:Person {name: 'Ada'})-[:KNOWS]->(b:Person {name: 'Grace'})`, nil)
	require.NoError(t, err)

	addr, err := db.SaveSnapshot()
	require.NoError(t, err)
	assert.True(t, addr.Valid())

	again, err := db.SaveSnapshot()
	require.NoError(t, err)
	assert.Equal(t, addr, again, "identical graphs share one address")

	_, err = db.Execute(ctx, `MATCH (n) DETACH DELETE n`, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), countLabel(t, db, "Person"))

	require.NoError(t, db.LoadSnapshot(addr))
	assert.Equal(t, int64(2), countLabel(t, db, "Person"))

	res, err := db.Execute(ctx, `MATCH (:Person {name: 'Ada'})-[r:KNOWS]->(b) RETURN b.name`, nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "Grace", res.Records[0][0])
}

func TestLoadSnapshotUnknownAddress(t *testing.T) {
	db := openTestDB(t)

	err := db.LoadSnapshot(storage.Address("deadbeef"))
	require.Error(t, err)
}

func TestPersistentReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Database.DataDir = dir
	cfg.Database.WALEnabled = true
	cfg.Database.WALSyncMode = "immediate"

	db, err := Open(cfg)
	require.NoError(t, err)

	_, err = db.ExecuteWrite(ctx, `CREATE (n:Keep {name: 'v1'})`, nil, "")
	require.NoError(t, err)

	addr, err := db.SaveSnapshot()
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db2, err := Open(cfg)
	require.NoError(t, err)
	defer db2.Close()

	assert.Equal(t, int64(0), countLabel(t, db2, "Keep"), "the engine starts empty")

	require.NoError(t, db2.LoadSnapshot(addr), "snapshots survive reopen on disk")
	assert.Equal(t, int64(1), countLabel(t, db2, "Keep"))
}

func TestMaxRowsFromConfig(t *testing.T) {
	ctx := context.Background()

	cfg := config.DefaultConfig()
	cfg.Query.MaxRows = 2

	db, err := Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	res, err := db.Execute(ctx, `UNWIND [1, 2, 3] AS x RETURN x`, nil)
	require.NoError(t, err)
	assert.Equal(t, "resource_limit", res.Summary.ErrorClass)

	res, err = db.ExecuteWrite(ctx, `UNWIND [1, 2, 3] AS x CREATE (:N {v: x})`, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "resource_limit", res.Summary.ErrorClass, "the cap rides along into transactions")
	assert.Equal(t, int64(0), countLabel(t, db, "N"))
}

func TestQueryTimeout(t *testing.T) {
	ctx := context.Background()

	cfg := config.DefaultConfig()
	cfg.Query.Timeout = time.Nanosecond

	db, err := Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	res, err := db.Execute(ctx, `RETURN 1`, nil)
	require.NoError(t, err)
	assert.Equal(t, "canceled", res.Summary.ErrorClass)
	assert.Equal(t, "transient_error", res.Summary.ErrorType)
}

func TestCloseIsIdempotent(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
}

func TestOperationsAfterClose(t *testing.T) {
	ctx := context.Background()
	db, err := OpenInMemory()
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = db.Execute(ctx, `RETURN 1`, nil)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = db.ExecuteWrite(ctx, `CREATE (n:X)`, nil, "")
	assert.ErrorIs(t, err, ErrClosed)

	_, err = db.SaveSnapshot()
	assert.ErrorIs(t, err, ErrClosed)

	assert.ErrorIs(t, db.LoadSnapshot(storage.Address("00")), ErrClosed)
}

func TestEngineAccessor(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	node, err := db.Engine().CreateNode([]string{"Direct"}, map[string]any{"k": "v"})
	require.NoError(t, err)
	require.NotNil(t, node)

	res, err := db.Execute(ctx, `MATCH (n:Direct) RETURN n.k`, nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "v", res.Records[0][0], "direct storage writes are queryable")
}

func TestNilContext(t *testing.T) {
	db := openTestDB(t)

	res, err := db.Execute(nil, `RETURN 1 AS one`, nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, int64(1), res.Records[0][0])
}
