package cypher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muninndb/muninn/pkg/storage"
)

func newTestExecutor(t *testing.T) (*Executor, *storage.MemoryEngine) {
	t.Helper()
	engine := storage.NewMemoryEngine()
	t.Cleanup(func() { _ = engine.Close() })
	return NewExecutor(engine), engine
}

// mustExecute runs a query and fails the test on any error, returned or
// captured in the summary.
func mustExecute(t *testing.T, ex *Executor, query string) *Result {
	t.Helper()
	res, err := ex.Execute(context.Background(), query, nil)
	require.NoError(t, err, "query %q", query)
	require.Empty(t, res.Summary.Error, "query %q failed: %s", query, res.Summary.Error)
	return res
}

func mustExecuteParams(t *testing.T, ex *Executor, query string, params map[string]any) *Result {
	t.Helper()
	res, err := ex.Execute(context.Background(), query, params)
	require.NoError(t, err, "query %q", query)
	require.Empty(t, res.Summary.Error, "query %q failed: %s", query, res.Summary.Error)
	return res
}

// column extracts one column of the result as a flat slice.
func column(res *Result, name string) []any {
	idx := -1
	for i, col := range res.Columns {
		if col == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	out := make([]any, len(res.Records))
	for i, rec := range res.Records {
		out[i] = rec[idx]
	}
	return out
}

func seedPeople(t *testing.T, ex *Executor) {
	t.Helper()
	mustExecute(t, ex, `CREATE (a:Person {name: 'Ada', age: 36, city: 'London'})`)
	mustExecute(t, ex, `CREATE (b:Person {name: 'Grace', age: 45, city: 'Washington'})`)
	mustExecute(t, ex, `CREATE (c:Person {name: 'Alan', age: 41, city: 'London'})`)
}

func TestExecuteCreateAndMatch(t *testing.T) {
	ex, _ := newTestExecutor(t)

	res := mustExecute(t, ex, `CREATE (n:Person {name: 'Ada', age: 36})`)
	assert.Equal(t, int64(1), res.Summary.Counters.NodesCreated)
	assert.Equal(t, "write", res.Summary.QueryType)
	assert.Nil(t, res.Columns, "write-only queries produce no records")
	assert.Nil(t, res.Records)

	res = mustExecute(t, ex, `MATCH (n:Person) RETURN n.name, n.age`)
	require.Len(t, res.Records, 1)
	assert.Equal(t, []string{"n.name", "n.age"}, res.Columns)
	assert.Equal(t, "Ada", res.Records[0][0])
	assert.Equal(t, int64(36), res.Records[0][1])
	assert.Equal(t, "read", res.Summary.QueryType)
}

func TestExecuteMatchFilters(t *testing.T) {
	ex, _ := newTestExecutor(t)
	seedPeople(t, ex)

	t.Run("comparison", func(t *testing.T) {
		res := mustExecute(t, ex, `MATCH (n:Person) WHERE n.age > 40 RETURN n.name ORDER BY n.name`)
		assert.Equal(t, []any{"Alan", "Grace"}, column(res, "n.name"))
	})

	t.Run("inline props", func(t *testing.T) {
		res := mustExecute(t, ex, `MATCH (n:Person {city: 'London'}) RETURN n.name ORDER BY n.name`)
		assert.Equal(t, []any{"Ada", "Alan"}, column(res, "n.name"))
	})

	t.Run("boolean operators", func(t *testing.T) {
		res := mustExecute(t, ex, `MATCH (n:Person) WHERE n.city = 'London' AND n.age < 40 RETURN n.name`)
		assert.Equal(t, []any{"Ada"}, column(res, "n.name"))

		res = mustExecute(t, ex, `MATCH (n:Person) WHERE n.name = 'Ada' OR n.name = 'Grace' RETURN count(*) AS c`)
		assert.Equal(t, int64(2), res.Records[0][0])
	})

	t.Run("in list", func(t *testing.T) {
		res := mustExecute(t, ex, `MATCH (n:Person) WHERE n.name IN ['Ada', 'Nobody'] RETURN n.name`)
		assert.Equal(t, []any{"Ada"}, column(res, "n.name"))
	})

	t.Run("string predicates", func(t *testing.T) {
		res := mustExecute(t, ex, `MATCH (n:Person) WHERE n.name STARTS WITH 'A' RETURN n.name ORDER BY n.name`)
		assert.Equal(t, []any{"Ada", "Alan"}, column(res, "n.name"))

		res = mustExecute(t, ex, `MATCH (n:Person) WHERE n.name ENDS WITH 'ce' RETURN n.name`)
		assert.Equal(t, []any{"Grace"}, column(res, "n.name"))

		res = mustExecute(t, ex, `MATCH (n:Person) WHERE n.city CONTAINS 'ondo' RETURN count(*) AS c`)
		assert.Equal(t, int64(2), res.Records[0][0])
	})

	t.Run("label predicate", func(t *testing.T) {
		mustExecute(t, ex, `CREATE (x:Robot {name: 'R2'})`)
		res := mustExecute(t, ex, `MATCH (n) WHERE n:Robot RETURN n.name`)
		assert.Equal(t, []any{"R2"}, column(res, "n.name"))
	})

	t.Run("negation", func(t *testing.T) {
		mustExecute(t, ex, `UNWIND [25, 35, 40] AS v CREATE (:Age {v: v})`)
		res := mustExecute(t, ex, `MATCH (n:Age) WHERE NOT n.v > 30 RETURN n.v`)
		assert.Equal(t, []any{int64(25)}, column(res, "n.v"))
	})

	t.Run("missing property comparisons never match", func(t *testing.T) {
		res := mustExecute(t, ex, `MATCH (n:Person) WHERE n.missing = 1 RETURN n`)
		assert.Empty(t, res.Records)

		res = mustExecute(t, ex, `MATCH (n:Person) WHERE n.missing <> 1 RETURN n`)
		assert.Empty(t, res.Records, "null <> x is null, not true")

		res = mustExecute(t, ex, `MATCH (n:Person) WHERE n.missing IS NULL RETURN count(*) AS c`)
		assert.Equal(t, int64(3), res.Records[0][0])
	})
}

func TestExecuteRelationships(t *testing.T) {
	ex, _ := newTestExecutor(t)
	res := mustExecute(t, ex, `
		CREATE (a:Person {name: 'Ada'})-[:KNOWS {since: 1840}]->(b:Person {name: 'Grace'}),
		       (b)-[:KNOWS {since: 1950}]->(c:Person {name: 'Alan'})`)
	assert.Equal(t, int64(3), res.Summary.Counters.NodesCreated)
	assert.Equal(t, int64(2), res.Summary.Counters.RelationshipsCreated)

	t.Run("directed traversal", func(t *testing.T) {
		res := mustExecute(t, ex, `MATCH (a:Person {name: 'Ada'})-[r:KNOWS]->(b) RETURN b.name, r.since`)
		require.Len(t, res.Records, 1)
		assert.Equal(t, "Grace", res.Records[0][0])
		assert.Equal(t, int64(1840), res.Records[0][1])
	})

	t.Run("incoming traversal", func(t *testing.T) {
		res := mustExecute(t, ex, `MATCH (b)<-[:KNOWS]-(a) WHERE b.name = 'Grace' RETURN a.name`)
		assert.Equal(t, []any{"Ada"}, column(res, "a.name"))
	})

	t.Run("undirected sees both endpoints", func(t *testing.T) {
		res := mustExecute(t, ex, `MATCH (x {name: 'Grace'})-[:KNOWS]-(y) RETURN y.name ORDER BY y.name`)
		assert.Equal(t, []any{"Ada", "Alan"}, column(res, "y.name"))
	})

	t.Run("two hop chain", func(t *testing.T) {
		res := mustExecute(t, ex, `MATCH (a)-[:KNOWS]->(b)-[:KNOWS]->(c) RETURN a.name, c.name`)
		require.Len(t, res.Records, 1)
		assert.Equal(t, "Ada", res.Records[0][0])
		assert.Equal(t, "Alan", res.Records[0][1])
	})

	t.Run("relationship property filter", func(t *testing.T) {
		res := mustExecute(t, ex, `MATCH (a)-[r:KNOWS {since: 1950}]->(b) RETURN b.name`)
		assert.Equal(t, []any{"Alan"}, column(res, "b.name"))
	})

	t.Run("type function", func(t *testing.T) {
		res := mustExecute(t, ex, `MATCH (a {name: 'Ada'})-[r]->(b) RETURN type(r)`)
		assert.Equal(t, []any{"KNOWS"}, column(res, "type(r)"))
	})

	t.Run("rebound pattern is an identity constraint", func(t *testing.T) {
		res := mustExecute(t, ex, `MATCH (a)-[r:KNOWS]->(b) MATCH (a)-[r]->(b) RETURN count(*) AS c`)
		assert.Equal(t, int64(2), res.Records[0][0], "re-matching the same pattern must not multiply rows")
	})
}

func TestExecuteOptionalMatch(t *testing.T) {
	ex, _ := newTestExecutor(t)
	mustExecute(t, ex, `CREATE (a:Person {name: 'Ada'})-[:KNOWS]->(b:Person {name: 'Grace'})`)
	mustExecute(t, ex, `CREATE (c:Person {name: 'Alan'})`)

	res := mustExecute(t, ex, `
		MATCH (p:Person)
		OPTIONAL MATCH (p)-[:KNOWS]->(friend)
		RETURN p.name, friend.name
		ORDER BY p.name`)
	require.Len(t, res.Records, 3)
	assert.Equal(t, []any{"Ada", "Alan", "Grace"}, column(res, "p.name"))
	assert.Equal(t, []any{"Grace", nil, nil}, column(res, "friend.name"),
		"rows without a match carry null bindings")

	t.Run("leading optional pattern still scans", func(t *testing.T) {
		res := mustExecute(t, ex, `OPTIONAL MATCH (x:Nothing) RETURN x`)
		assert.Empty(t, res.Records, "an empty scan yields no rows even under OPTIONAL")
	})
}

func TestExecuteOrderSkipLimit(t *testing.T) {
	ex, _ := newTestExecutor(t)
	seedPeople(t, ex)

	res := mustExecute(t, ex, `MATCH (n:Person) RETURN n.name AS name ORDER BY n.age DESC`)
	assert.Equal(t, []any{"Grace", "Alan", "Ada"}, column(res, "name"))

	res = mustExecute(t, ex, `MATCH (n:Person) RETURN n.name AS name ORDER BY name SKIP 1 LIMIT 1`)
	assert.Equal(t, []any{"Alan"}, column(res, "name"))

	res = mustExecute(t, ex, `MATCH (n:Person) RETURN n.name AS name ORDER BY name SKIP 10`)
	assert.Empty(t, res.Records)

	t.Run("nulls sort last in both directions", func(t *testing.T) {
		mustExecute(t, ex, `CREATE (x:Person {name: 'NoAge'})`)
		asc := mustExecute(t, ex, `MATCH (n:Person) RETURN n.name AS name ORDER BY n.age`)
		assert.Equal(t, "NoAge", asc.Records[len(asc.Records)-1][0])

		desc := mustExecute(t, ex, `MATCH (n:Person) RETURN n.name AS name ORDER BY n.age DESC`)
		assert.Equal(t, "NoAge", desc.Records[len(desc.Records)-1][0])
	})

	t.Run("negative skip is an execution error", func(t *testing.T) {
		res, err := ex.Execute(context.Background(), `MATCH (n) RETURN n SKIP -1`, nil)
		require.NoError(t, err)
		assert.Equal(t, "SKIP must be a non-negative integer", res.Summary.Error)
		assert.Equal(t, "invalid_argument", res.Summary.ErrorClass)
	})
}

func TestExecuteDistinct(t *testing.T) {
	ex, _ := newTestExecutor(t)
	seedPeople(t, ex)

	res := mustExecute(t, ex, `MATCH (n:Person) RETURN DISTINCT n.city AS city ORDER BY city`)
	assert.Equal(t, []any{"London", "Washington"}, column(res, "city"))

	t.Run("integer and float compare by value", func(t *testing.T) {
		res := mustExecute(t, ex, `UNWIND [42, 42.0, 43] AS x RETURN DISTINCT x`)
		require.Len(t, res.Records, 2, "42 and 42.0 are the same value")
		assert.Equal(t, int64(42), res.Records[0][0], "first occurrence wins")
	})
}

func TestExecuteProjectionExpressions(t *testing.T) {
	ex, _ := newTestExecutor(t)

	res := mustExecute(t, ex, `RETURN 1 + 2 * 3 AS a, 10 / 4 AS b, 10.0 / 4 AS c, 7 % 3 AS d`)
	rec := res.Records[0]
	assert.Equal(t, int64(7), rec[0])
	assert.Equal(t, int64(2), rec[1], "integer division truncates")
	assert.Equal(t, 2.5, rec[2])
	assert.Equal(t, int64(1), rec[3])

	res = mustExecute(t, ex, `RETURN 'a' + 'b' AS s, [1] + [2] AS l, [1] + 2 AS le`)
	rec = res.Records[0]
	assert.Equal(t, "ab", rec[0])
	assert.Equal(t, []any{int64(1), int64(2)}, rec[1])
	assert.Equal(t, []any{int64(1), int64(2)}, rec[2])

	res = mustExecute(t, ex, `RETURN -(-3) AS n, {a: 1, b: 'x'} AS m`)
	rec = res.Records[0]
	assert.Equal(t, int64(3), rec[0])
	assert.Equal(t, map[string]any{"a": int64(1), "b": "x"}, rec[1])
}

func TestExecuteCase(t *testing.T) {
	ex, _ := newTestExecutor(t)
	seedPeople(t, ex)

	res := mustExecute(t, ex, `
		MATCH (n:Person)
		RETURN n.name AS name,
		       CASE WHEN n.age > 42 THEN 'old' WHEN n.age > 38 THEN 'mid' ELSE 'young' END AS band
		ORDER BY name`)
	assert.Equal(t, []any{"young", "mid", "old"}, column(res, "band"))

	res = mustExecute(t, ex, `RETURN CASE 'b' WHEN 'a' THEN 1 WHEN 'b' THEN 2 END AS v`)
	assert.Equal(t, int64(2), res.Records[0][0])

	res = mustExecute(t, ex, `RETURN CASE 'z' WHEN 'a' THEN 1 END AS v`)
	assert.Nil(t, res.Records[0][0], "no matching arm and no ELSE yields null")
}

func TestExecuteWithChains(t *testing.T) {
	ex, _ := newTestExecutor(t)
	seedPeople(t, ex)

	t.Run("projection and filter", func(t *testing.T) {
		res := mustExecute(t, ex, `
			MATCH (n:Person)
			WITH n.name AS name, n.age AS age
			WHERE age > 40
			RETURN name ORDER BY name`)
		assert.Equal(t, []any{"Alan", "Grace"}, column(res, "name"))
	})

	t.Run("aggregation mid-query", func(t *testing.T) {
		res := mustExecute(t, ex, `
			MATCH (n:Person)
			WITH n.city AS city, count(*) AS c
			WHERE c > 1
			RETURN city`)
		assert.Equal(t, []any{"London"}, column(res, "city"))
	})

	t.Run("window inside with", func(t *testing.T) {
		res := mustExecute(t, ex, `
			MATCH (n:Person)
			WITH n ORDER BY n.age DESC LIMIT 1
			RETURN n.name AS name`)
		assert.Equal(t, []any{"Grace"}, column(res, "name"))
	})

	t.Run("with renames then expands", func(t *testing.T) {
		mustExecute(t, ex, `
			MATCH (a:Person {name: 'Ada'}), (b:Person {name: 'Grace'})
			CREATE (a)-[:KNOWS]->(b)`)
		res := mustExecute(t, ex, `
			MATCH (p:Person {name: 'Ada'})
			WITH p AS person
			MATCH (person)-[:KNOWS]->(f)
			RETURN f.name`)
		assert.Equal(t, []any{"Grace"}, column(res, "f.name"))
	})
}

func TestExecuteUnwind(t *testing.T) {
	ex, _ := newTestExecutor(t)

	res := mustExecute(t, ex, `UNWIND [1, 2, 3] AS x RETURN x * 10 AS v`)
	assert.Equal(t, []any{int64(10), int64(20), int64(30)}, column(res, "v"))

	res = mustExecute(t, ex, `UNWIND [] AS x RETURN x`)
	assert.Empty(t, res.Records)

	t.Run("null source drops the row", func(t *testing.T) {
		res := mustExecuteParams(t, ex, `UNWIND $xs AS x RETURN x`, map[string]any{"xs": nil})
		assert.Empty(t, res.Records)
	})

	t.Run("non-list source fails", func(t *testing.T) {
		res, err := ex.Execute(context.Background(), `UNWIND 42 AS x RETURN x`, nil)
		require.NoError(t, err)
		assert.Equal(t, "UNWIND expects a list, got integer", res.Summary.Error)
		assert.Equal(t, "type_error", res.Summary.ErrorClass)
	})

	t.Run("cross product of two unwinds", func(t *testing.T) {
		res := mustExecute(t, ex, `UNWIND [1, 2] AS a UNWIND ['x', 'y'] AS b RETURN a, b`)
		require.Len(t, res.Records, 4)
		assert.Equal(t, []any{int64(1), "x"}, res.Records[0])
		assert.Equal(t, []any{int64(2), "y"}, res.Records[3])
	})
}

func TestExecuteMerge(t *testing.T) {
	ex, _ := newTestExecutor(t)

	res := mustExecute(t, ex, `MERGE (n:Person {name: 'Ada'}) RETURN n.name`)
	assert.Equal(t, int64(1), res.Summary.Counters.NodesCreated)
	require.Len(t, res.Records, 1)

	res = mustExecute(t, ex, `MERGE (n:Person {name: 'Ada'}) RETURN n.name`)
	assert.Equal(t, int64(0), res.Summary.Counters.NodesCreated, "second merge matches instead of creating")
	require.Len(t, res.Records, 1)

	t.Run("on create and on match", func(t *testing.T) {
		res := mustExecute(t, ex, `
			MERGE (n:Person {name: 'Grace'})
			ON CREATE SET n.created = true
			ON MATCH SET n.matched = true
			RETURN n.created, n.matched`)
		assert.Equal(t, true, res.Records[0][0])
		assert.Nil(t, res.Records[0][1])

		res = mustExecute(t, ex, `
			MERGE (n:Person {name: 'Grace'})
			ON CREATE SET n.created2 = true
			ON MATCH SET n.matched = true
			RETURN n.created2, n.matched`)
		assert.Nil(t, res.Records[0][0])
		assert.Equal(t, true, res.Records[0][1])
	})

	t.Run("merge relationship", func(t *testing.T) {
		mustExecute(t, ex, `MERGE (a:City {name: 'London'})`)
		res := mustExecute(t, ex, `
			MATCH (p:Person {name: 'Ada'}), (c:City {name: 'London'})
			MERGE (p)-[:LIVES_IN]->(c)`)
		assert.Equal(t, int64(1), res.Summary.Counters.RelationshipsCreated)

		res = mustExecute(t, ex, `
			MATCH (p:Person {name: 'Ada'}), (c:City {name: 'London'})
			MERGE (p)-[:LIVES_IN]->(c)`)
		assert.Equal(t, int64(0), res.Summary.Counters.RelationshipsCreated)
	})
}

func TestExecuteSetRemove(t *testing.T) {
	ex, _ := newTestExecutor(t)
	mustExecute(t, ex, `CREATE (n:Person:Temp {name: 'Ada', age: 36})`)

	res := mustExecute(t, ex, `MATCH (n:Person) SET n.age = 37, n.city = 'London'`)
	assert.Equal(t, int64(2), res.Summary.Counters.PropertiesSet)
	assert.True(t, res.Summary.Counters.ContainsUpdates())

	check := mustExecute(t, ex, `MATCH (n:Person) RETURN n.age, n.city`)
	assert.Equal(t, int64(37), check.Records[0][0])
	assert.Equal(t, "London", check.Records[0][1])

	t.Run("set null clears the property", func(t *testing.T) {
		mustExecute(t, ex, `MATCH (n:Person) SET n.city = null`)
		res := mustExecute(t, ex, `MATCH (n:Person) WHERE n.city IS NULL RETURN count(*) AS c`)
		assert.Equal(t, int64(1), res.Records[0][0])
	})

	t.Run("remove property", func(t *testing.T) {
		res := mustExecute(t, ex, `MATCH (n:Person) REMOVE n.age`)
		assert.Equal(t, int64(1), res.Summary.Counters.PropertiesSet)
		check := mustExecute(t, ex, `MATCH (n:Person) RETURN n.age`)
		assert.Nil(t, check.Records[0][0])
	})

	t.Run("remove label", func(t *testing.T) {
		res := mustExecute(t, ex, `MATCH (n:Person) REMOVE n:Temp`)
		assert.Equal(t, int64(1), res.Summary.Counters.LabelsRemoved)
		check := mustExecute(t, ex, `MATCH (n:Temp) RETURN n`)
		assert.Empty(t, check.Records)

		// Removing an absent label touches nothing.
		res = mustExecute(t, ex, `MATCH (n:Person) REMOVE n:Temp`)
		assert.Equal(t, int64(0), res.Summary.Counters.LabelsRemoved)
	})

	t.Run("set on relationship", func(t *testing.T) {
		mustExecute(t, ex, `MATCH (a:Person) CREATE (a)-[:LIKES {strength: 1}]->(a)`)
		res := mustExecute(t, ex, `MATCH ()-[r:LIKES]->() SET r.strength = 2`)
		assert.Equal(t, int64(1), res.Summary.Counters.PropertiesSet)
		check := mustExecute(t, ex, `MATCH ()-[r:LIKES]->() RETURN r.strength`)
		assert.Equal(t, int64(2), check.Records[0][0])
	})
}

func TestExecuteDelete(t *testing.T) {
	ex, _ := newTestExecutor(t)
	mustExecute(t, ex, `CREATE (a:Person {name: 'Ada'})-[:KNOWS]->(b:Person {name: 'Grace'})`)

	t.Run("plain delete with relationships fails", func(t *testing.T) {
		res, err := ex.Execute(context.Background(), `MATCH (n:Person {name: 'Ada'}) DELETE n`, nil)
		require.NoError(t, err, "execution failures are captured, not returned")
		assert.Equal(t, "cannot delete node with relationships, use DETACH DELETE", res.Summary.Error)
		assert.Equal(t, "constraint_violation", res.Summary.ErrorClass)
		assert.Equal(t, "execution", res.Summary.ErrorStage)

		check := mustExecute(t, ex, `MATCH (n:Person) RETURN count(*) AS c`)
		assert.Equal(t, int64(2), check.Records[0][0], "failed delete leaves the node in place")
	})

	t.Run("detach delete removes node and relationships", func(t *testing.T) {
		res := mustExecute(t, ex, `MATCH (n:Person {name: 'Ada'}) DETACH DELETE n`)
		assert.Equal(t, int64(1), res.Summary.Counters.NodesDeleted)
		assert.Equal(t, int64(1), res.Summary.Counters.RelationshipsDeleted)

		check := mustExecute(t, ex, `MATCH (n:Person) RETURN n.name`)
		assert.Equal(t, []any{"Grace"}, column(check, "n.name"))
	})

	t.Run("delete relationship only", func(t *testing.T) {
		mustExecute(t, ex, `MATCH (b:Person {name: 'Grace'}) CREATE (b)-[:LIKES]->(b)`)
		res := mustExecute(t, ex, `MATCH ()-[r:LIKES]->() DELETE r`)
		assert.Equal(t, int64(1), res.Summary.Counters.RelationshipsDeleted)
		assert.Equal(t, int64(0), res.Summary.Counters.NodesDeleted)
	})

	t.Run("unmatched delete is a no-op", func(t *testing.T) {
		res := mustExecute(t, ex, `MATCH (n:Ghost) DELETE n`)
		assert.Equal(t, int64(0), res.Summary.Counters.NodesDeleted)
	})
}

func TestExecuteUnion(t *testing.T) {
	ex, _ := newTestExecutor(t)

	res := mustExecute(t, ex, `RETURN 1 AS v UNION RETURN 1 AS v`)
	require.Len(t, res.Records, 1, "UNION removes duplicate rows")

	res = mustExecute(t, ex, `RETURN 1 AS v UNION ALL RETURN 1 AS v`)
	require.Len(t, res.Records, 2, "UNION ALL keeps duplicates")

	res = mustExecute(t, ex, `RETURN 1 AS v UNION RETURN 2 AS v UNION RETURN 1 AS v`)
	assert.Equal(t, []any{int64(1), int64(2)}, column(res, "v"))

	t.Run("overlapping multi-row branches", func(t *testing.T) {
		res := mustExecute(t, ex, `UNWIND [1, 2, 3] AS v RETURN v UNION ALL UNWIND [1, 2, 3] AS v RETURN v`)
		require.Len(t, res.Records, 6)

		res = mustExecute(t, ex, `UNWIND [1, 2, 3] AS v RETURN v UNION UNWIND [1, 2, 3] AS v RETURN v`)
		require.Len(t, res.Records, 3)
	})
}

// TestExecuteStateless guards against bindings or union branches from one
// call surviving into the next.
func TestExecuteStateless(t *testing.T) {
	ex, _ := newTestExecutor(t)
	seedPeople(t, ex)

	first := mustExecute(t, ex, `MATCH (a:Person) RETURN a.name AS name UNION RETURN 'extra' AS name`)
	require.Len(t, first.Records, 4)

	second := mustExecute(t, ex, `RETURN 42 AS answer`)
	require.Len(t, second.Records, 1)
	assert.Equal(t, []string{"answer"}, second.Columns)
	assert.Equal(t, []any{int64(42)}, second.Records[0])

	third := mustExecute(t, ex, `MATCH (b:Person) RETURN count(*) AS c`)
	assert.Equal(t, []any{int64(3)}, column(third, "c"))
}

func TestExecuteForeach(t *testing.T) {
	ex, _ := newTestExecutor(t)

	res := mustExecute(t, ex, `FOREACH (x IN [1, 2, 3] | CREATE (n:Item {v: x}))`)
	assert.Equal(t, int64(3), res.Summary.Counters.NodesCreated)

	check := mustExecute(t, ex, `MATCH (n:Item) RETURN n.v ORDER BY n.v`)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, column(check, "n.v"))

	t.Run("foreach over match results", func(t *testing.T) {
		res := mustExecute(t, ex, `
			MATCH (n:Item)
			WITH collect(n.v) AS vs
			FOREACH (v IN vs | CREATE (:Copy {v: v}))`)
		assert.Equal(t, int64(3), res.Summary.Counters.NodesCreated)
	})
}

func TestExecuteCallSubquery(t *testing.T) {
	ex, _ := newTestExecutor(t)
	seedPeople(t, ex)

	res := mustExecute(t, ex, `
		CALL { MATCH (n:Person) RETURN count(*) AS total }
		YIELD total
		RETURN total`)
	assert.Equal(t, []any{int64(3)}, column(res, "total"))

	t.Run("yield alias", func(t *testing.T) {
		res := mustExecute(t, ex, `CALL { RETURN 7 AS x } YIELD x AS seven RETURN seven`)
		assert.Equal(t, []any{int64(7)}, column(res, "seven"))
	})

	t.Run("subquery union", func(t *testing.T) {
		res := mustExecute(t, ex, `
			CALL { RETURN 1 AS v UNION RETURN 2 AS v }
			YIELD v
			RETURN v ORDER BY v`)
		assert.Equal(t, []any{int64(1), int64(2)}, column(res, "v"))
	})

	t.Run("writes without yield keep outer rows", func(t *testing.T) {
		res := mustExecute(t, ex, `
			UNWIND [1, 2] AS x
			CALL { CREATE (:Log) }
			RETURN x`)
		require.Len(t, res.Records, 2)
		assert.Equal(t, int64(2), res.Summary.Counters.NodesCreated, "subquery runs once per input row")
	})
}

func TestExecuteParameters(t *testing.T) {
	ex, _ := newTestExecutor(t)
	seedPeople(t, ex)

	res := mustExecuteParams(t, ex, `MATCH (n:Person) WHERE n.name = $name RETURN n.age`,
		map[string]any{"name": "Grace"})
	assert.Equal(t, []any{int64(45)}, column(res, "n.age"))

	res = mustExecuteParams(t, ex, `CREATE (n:Note {text: $text}) RETURN n.text`,
		map[string]any{"text": "hello"})
	assert.Equal(t, []any{"hello"}, column(res, "n.text"))

	t.Run("missing parameter is an execution error", func(t *testing.T) {
		res, err := ex.Execute(context.Background(), `RETURN $nope`, nil)
		require.NoError(t, err)
		assert.Equal(t, "missing parameter: nope", res.Summary.Error)
		assert.Equal(t, "missing_parameter", res.Summary.ErrorClass)
		assert.Equal(t, "execution", res.Summary.ErrorStage)
	})

	t.Run("reserved parameter is rejected before parsing", func(t *testing.T) {
		res, err := ex.Execute(context.Background(), `RETURN 1`, map[string]any{"_id": "x"})
		require.Error(t, err)
		assert.Equal(t, `parameter "_id" is reserved`, res.Summary.Error)
		assert.Equal(t, "reserved_parameter", res.Summary.ErrorClass)
		assert.Equal(t, "parameters", res.Summary.ErrorStage)
		assert.Equal(t, "client_error", res.Summary.ErrorType)
	})
}

func TestExecutePreExecutionErrors(t *testing.T) {
	ex, _ := newTestExecutor(t)

	t.Run("lex error", func(t *testing.T) {
		res, err := ex.Execute(context.Background(), `RETURN 'unterminated`, nil)
		require.Error(t, err)
		assert.Equal(t, "lex", res.Summary.ErrorStage)
		assert.Equal(t, "syntax", res.Summary.ErrorClass)
		assert.Equal(t, "client_error", res.Summary.ErrorType)
	})

	t.Run("parse error", func(t *testing.T) {
		res, err := ex.Execute(context.Background(), `MATCH (`, nil)
		require.Error(t, err)
		assert.Equal(t, "parse", res.Summary.ErrorStage)
		assert.Equal(t, "syntax", res.Summary.ErrorClass)
	})

	t.Run("compile error", func(t *testing.T) {
		res, err := ex.Execute(context.Background(), `RETURN m`, nil)
		require.Error(t, err)
		assert.Equal(t, "compile", res.Summary.ErrorStage)
		assert.Equal(t, "unknown_variable", res.Summary.ErrorClass)
		assert.Equal(t, "compile error: unknown variable: m", res.Summary.Error)
	})
}

func TestExecuteRuntimeErrorCaptured(t *testing.T) {
	ex, _ := newTestExecutor(t)

	res, err := ex.Execute(context.Background(), `RETURN 1 / 0`, nil)
	require.NoError(t, err, "runtime failures land in the summary, not the error return")
	assert.Equal(t, "division by zero", res.Summary.Error)
	assert.Equal(t, "arithmetic", res.Summary.ErrorClass)
	assert.Equal(t, "execution", res.Summary.ErrorStage)
	assert.Equal(t, "client_error", res.Summary.ErrorType)
	assert.Nil(t, res.Records)
}

func TestExecuteCanceledContext(t *testing.T) {
	ex, _ := newTestExecutor(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := ex.Execute(ctx, `MATCH (n) RETURN n`, nil)
	require.NoError(t, err)
	assert.Equal(t, "canceled", res.Summary.ErrorClass)
	assert.Equal(t, "transient_error", res.Summary.ErrorType)
	assert.Contains(t, res.Summary.Error, "query canceled")
}

func TestExecuteMaxRows(t *testing.T) {
	ex, _ := newTestExecutor(t)
	ex.MaxRows = 3

	res, err := ex.Execute(context.Background(), `UNWIND [1, 2, 3, 4, 5] AS x RETURN x`, nil)
	require.NoError(t, err)
	assert.Equal(t, "query exceeded 3 rows", res.Summary.Error)
	assert.Equal(t, "resource_limit", res.Summary.ErrorClass)
	assert.Equal(t, "transient_error", res.Summary.ErrorType)

	res = mustExecute(t, ex, `UNWIND [1, 2, 3] AS x RETURN x`)
	assert.Len(t, res.Records, 3, "the cap is inclusive")
}

func TestExecuteDanglingRelationship(t *testing.T) {
	ex, engine := newTestExecutor(t)

	a, err := engine.CreateNode([]string{"Person"}, map[string]any{"name": "Ada"})
	require.NoError(t, err)
	b, err := engine.CreateNode([]string{"Person"}, map[string]any{"name": "Grace"})
	require.NoError(t, err)
	_, err = engine.CreateEdge("KNOWS", a.ID, b.ID, nil)
	require.NoError(t, err)

	// Deleting the endpoint directly leaves the edge dangling; traversal
	// must skip it rather than fail.
	require.True(t, engine.DeleteNode(b.ID))

	res := mustExecute(t, ex, `MATCH (x:Person)-[r:KNOWS]->(y) RETURN y.name`)
	assert.Empty(t, res.Records)
}

func TestExecuteSummaryQueryTruncation(t *testing.T) {
	ex, _ := newTestExecutor(t)

	long := "RETURN " + strings.Repeat("1 + ", 60) + "1"
	require.Greater(t, len(long), 200)

	res := mustExecute(t, ex, long)
	assert.Equal(t, long[:200]+"…", res.Summary.Query)

	short := `RETURN 1`
	res = mustExecute(t, ex, short)
	assert.Equal(t, short, res.Summary.Query)
}

func TestExecuteCountersContainsUpdates(t *testing.T) {
	ex, _ := newTestExecutor(t)

	res := mustExecute(t, ex, `MATCH (n) RETURN n`)
	assert.False(t, res.Summary.Counters.ContainsUpdates())

	res = mustExecute(t, ex, `CREATE (n)`)
	assert.True(t, res.Summary.Counters.ContainsUpdates())
}

func TestExecuteNilContext(t *testing.T) {
	ex, _ := newTestExecutor(t)
	res, err := ex.Execute(nil, `RETURN 1 AS one`, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1)}, column(res, "one"))
}

func TestExecuteEntityFunctions(t *testing.T) {
	ex, _ := newTestExecutor(t)
	mustExecute(t, ex, `CREATE (n:Person:Admin {name: 'Ada'})`)

	res := mustExecute(t, ex, `MATCH (n:Person) RETURN id(n), labels(n), properties(n), keys(n)`)
	rec := res.Records[0]
	id, ok := rec[0].(string)
	require.True(t, ok)
	assert.NotEmpty(t, id)
	assert.Equal(t, []any{"Person", "Admin"}, rec[1])
	assert.Equal(t, map[string]any{"name": "Ada"}, rec[2])
	assert.Equal(t, []any{"name"}, rec[3])
}

func TestExecuteReturnsWholeEntities(t *testing.T) {
	ex, _ := newTestExecutor(t)
	mustExecute(t, ex, `CREATE (a:Person {name: 'Ada'})-[:KNOWS]->(b:Person {name: 'Grace'})`)

	res := mustExecute(t, ex, `MATCH (a)-[r:KNOWS]->(b) RETURN a, r, b`)
	require.Len(t, res.Records, 1)

	node, ok := res.Records[0][0].(*storage.Node)
	require.True(t, ok, "node columns carry the node itself")
	assert.Equal(t, "Ada", node.Properties["name"])

	edge, ok := res.Records[0][1].(*storage.Edge)
	require.True(t, ok)
	assert.Equal(t, "KNOWS", edge.Type)
	assert.Equal(t, node.ID, edge.StartNode)
}
