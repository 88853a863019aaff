package storage

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemoryEngine(t *testing.T) {
	engine := NewMemoryEngine()
	require.NotNil(t, engine)
	assert.NotNil(t, engine.nodes)
	assert.NotNil(t, engine.edges)
	assert.NotNil(t, engine.nodesByLabel)
	assert.NotNil(t, engine.outgoingEdges)
	assert.NotNil(t, engine.incomingEdges)
	assert.False(t, engine.closed)
}

// Node CRUD Tests

func TestMemoryEngine_CreateNode(t *testing.T) {
	t.Run("generates unique ids", func(t *testing.T) {
		engine := NewMemoryEngine()

		a, err := engine.CreateNode([]string{"Person"}, map[string]any{"name": "Alice"})
		require.NoError(t, err)
		b, err := engine.CreateNode([]string{"Person"}, map[string]any{"name": "Bob"})
		require.NoError(t, err)

		assert.NotEmpty(t, a.ID)
		assert.NotEmpty(t, b.ID)
		assert.NotEqual(t, a.ID, b.ID)
		assert.False(t, a.CreatedAt.IsZero())
	})

	t.Run("stores labels and properties", func(t *testing.T) {
		engine := NewMemoryEngine()

		node, err := engine.CreateNode([]string{"Person", "Employee"}, map[string]any{"name": "Alice", "age": int64(30)})
		require.NoError(t, err)

		stored, err := engine.GetNode(node.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"Person", "Employee"}, stored.Labels)
		assert.Equal(t, "Alice", stored.Properties["name"])
		assert.Equal(t, int64(30), stored.Properties["age"])
	})

	t.Run("deduplicates labels", func(t *testing.T) {
		engine := NewMemoryEngine()

		node, err := engine.CreateNode([]string{"Person", "Person"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"Person"}, node.Labels)
	})

	t.Run("closed engine", func(t *testing.T) {
		engine := NewMemoryEngine()
		require.NoError(t, engine.Close())

		_, err := engine.CreateNode([]string{"Person"}, nil)
		assert.ErrorIs(t, err, ErrStorageClosed)
	})
}

func TestMemoryEngine_GetNode(t *testing.T) {
	engine := NewMemoryEngine()
	node, err := engine.CreateNode([]string{"Person"}, map[string]any{"name": "Alice"})
	require.NoError(t, err)

	t.Run("found", func(t *testing.T) {
		got, err := engine.GetNode(node.ID)
		require.NoError(t, err)
		assert.Equal(t, node.ID, got.ID)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := engine.GetNode("missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty id", func(t *testing.T) {
		_, err := engine.GetNode("")
		assert.ErrorIs(t, err, ErrInvalidID)
	})

	t.Run("returns a copy", func(t *testing.T) {
		got, err := engine.GetNode(node.ID)
		require.NoError(t, err)
		got.Properties["name"] = "Mallory"

		again, err := engine.GetNode(node.ID)
		require.NoError(t, err)
		assert.Equal(t, "Alice", again.Properties["name"])
	})
}

func TestMemoryEngine_UpdateNode(t *testing.T) {
	t.Run("merges properties", func(t *testing.T) {
		engine := NewMemoryEngine()
		node, err := engine.CreateNode([]string{"Person"}, map[string]any{"name": "Alice", "age": int64(30)})
		require.NoError(t, err)

		updated, err := engine.UpdateNode(node.ID, map[string]any{"age": int64(31), "city": "Oslo"})
		require.NoError(t, err)
		assert.Equal(t, "Alice", updated.Properties["name"])
		assert.Equal(t, int64(31), updated.Properties["age"])
		assert.Equal(t, "Oslo", updated.Properties["city"])
	})

	t.Run("nil value removes key", func(t *testing.T) {
		engine := NewMemoryEngine()
		node, err := engine.CreateNode(nil, map[string]any{"name": "Alice"})
		require.NoError(t, err)

		updated, err := engine.UpdateNode(node.ID, map[string]any{"name": nil})
		require.NoError(t, err)
		_, present := updated.Properties["name"]
		assert.False(t, present)
	})

	t.Run("not found", func(t *testing.T) {
		engine := NewMemoryEngine()
		_, err := engine.UpdateNode("missing", map[string]any{"a": int64(1)})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryEngine_SetNodeLabels(t *testing.T) {
	engine := NewMemoryEngine()
	node, err := engine.CreateNode([]string{"Person"}, nil)
	require.NoError(t, err)

	updated, err := engine.SetNodeLabels(node.ID, []string{"Employee", "Manager"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Employee", "Manager"}, updated.Labels)

	// Label index follows the change.
	assert.Empty(t, engine.FindNodes([]string{"Person"}, nil, 0))
	assert.Len(t, engine.FindNodes([]string{"Manager"}, nil, 0), 1)
}

func TestMemoryEngine_DeleteNode(t *testing.T) {
	t.Run("removes node", func(t *testing.T) {
		engine := NewMemoryEngine()
		node, err := engine.CreateNode([]string{"Person"}, nil)
		require.NoError(t, err)

		assert.True(t, engine.DeleteNode(node.ID))
		_, err = engine.GetNode(node.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("false on absent", func(t *testing.T) {
		engine := NewMemoryEngine()
		assert.False(t, engine.DeleteNode("missing"))
		assert.False(t, engine.DeleteNode("missing")) // idempotent
	})

	t.Run("does not cascade to relationships", func(t *testing.T) {
		engine := NewMemoryEngine()
		a, _ := engine.CreateNode([]string{"Person"}, nil)
		b, _ := engine.CreateNode([]string{"Person"}, nil)
		edge, err := engine.CreateEdge("KNOWS", a.ID, b.ID, nil)
		require.NoError(t, err)

		require.True(t, engine.DeleteNode(b.ID))

		// The relationship dangles but remains addressable and deletable.
		got, err := engine.GetEdge(edge.ID)
		require.NoError(t, err)
		assert.Equal(t, b.ID, got.EndNode)
		assert.Equal(t, int64(1), engine.EdgeCount())
		assert.True(t, engine.DeleteEdge(edge.ID))
	})
}

// Relationship CRUD Tests

func TestMemoryEngine_CreateEdge(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		engine := NewMemoryEngine()
		a, _ := engine.CreateNode(nil, nil)
		b, _ := engine.CreateNode(nil, nil)

		edge, err := engine.CreateEdge("KNOWS", a.ID, b.ID, map[string]any{"since": int64(2020)})
		require.NoError(t, err)
		assert.NotEmpty(t, edge.ID)
		assert.Equal(t, "KNOWS", edge.Type)
		assert.Equal(t, a.ID, edge.StartNode)
		assert.Equal(t, b.ID, edge.EndNode)
		assert.Equal(t, int64(2020), edge.Properties["since"])
	})

	t.Run("missing endpoint", func(t *testing.T) {
		engine := NewMemoryEngine()
		a, _ := engine.CreateNode(nil, nil)

		_, err := engine.CreateEdge("KNOWS", a.ID, "missing", nil)
		assert.ErrorIs(t, err, ErrEndpointMissing)

		_, err = engine.CreateEdge("KNOWS", "missing", a.ID, nil)
		assert.ErrorIs(t, err, ErrEndpointMissing)
	})

	t.Run("self loop", func(t *testing.T) {
		engine := NewMemoryEngine()
		a, _ := engine.CreateNode(nil, nil)

		edge, err := engine.CreateEdge("LIKES", a.ID, a.ID, nil)
		require.NoError(t, err)

		// A self-loop shows up once for "both", not twice.
		assert.Len(t, engine.Relationships(a.ID, DirBoth, ""), 1)
		assert.Equal(t, edge.ID, engine.Relationships(a.ID, DirOut, "")[0].ID)
	})
}

func TestMemoryEngine_UpdateEdge(t *testing.T) {
	engine := NewMemoryEngine()
	a, _ := engine.CreateNode(nil, nil)
	b, _ := engine.CreateNode(nil, nil)
	edge, _ := engine.CreateEdge("KNOWS", a.ID, b.ID, map[string]any{"since": int64(2020)})

	updated, err := engine.UpdateEdge(edge.ID, map[string]any{"since": int64(2021), "weight": 0.5})
	require.NoError(t, err)
	assert.Equal(t, int64(2021), updated.Properties["since"])
	assert.Equal(t, 0.5, updated.Properties["weight"])

	_, err = engine.UpdateEdge("missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryEngine_DeleteEdge(t *testing.T) {
	engine := NewMemoryEngine()
	a, _ := engine.CreateNode(nil, nil)
	b, _ := engine.CreateNode(nil, nil)
	edge, _ := engine.CreateEdge("KNOWS", a.ID, b.ID, nil)

	assert.True(t, engine.DeleteEdge(edge.ID))
	assert.False(t, engine.DeleteEdge(edge.ID))
	assert.Empty(t, engine.Relationships(a.ID, DirOut, ""))
}

// Query Tests

func TestMemoryEngine_FindNodes(t *testing.T) {
	engine := NewMemoryEngine()
	_, err := engine.CreateNode([]string{"Person"}, map[string]any{"name": "Alice", "age": int64(30)})
	require.NoError(t, err)
	_, err = engine.CreateNode([]string{"Person", "Employee"}, map[string]any{"name": "Bob", "age": int64(25)})
	require.NoError(t, err)
	_, err = engine.CreateNode([]string{"Company"}, map[string]any{"name": "Acme"})
	require.NoError(t, err)

	t.Run("by single label", func(t *testing.T) {
		assert.Len(t, engine.FindNodes([]string{"Person"}, nil, 0), 2)
		assert.Len(t, engine.FindNodes([]string{"Company"}, nil, 0), 1)
	})

	t.Run("multiple labels match any", func(t *testing.T) {
		// Any-of semantics: Person OR Company covers all three nodes.
		assert.Len(t, engine.FindNodes([]string{"Person", "Company"}, nil, 0), 3)
	})

	t.Run("no labels scans everything", func(t *testing.T) {
		assert.Len(t, engine.FindNodes(nil, nil, 0), 3)
	})

	t.Run("properties are ANDed", func(t *testing.T) {
		found := engine.FindNodes([]string{"Person"}, map[string]any{"name": "Bob", "age": int64(25)}, 0)
		require.Len(t, found, 1)
		assert.Equal(t, "Bob", found[0].Properties["name"])

		assert.Empty(t, engine.FindNodes([]string{"Person"}, map[string]any{"name": "Bob", "age": int64(99)}, 0))
	})

	t.Run("numeric equality crosses int and float", func(t *testing.T) {
		found := engine.FindNodes(nil, map[string]any{"age": 30.0}, 0)
		assert.Len(t, found, 1)
	})

	t.Run("limit", func(t *testing.T) {
		assert.Len(t, engine.FindNodes([]string{"Person"}, nil, 1), 1)
	})

	t.Run("unknown label", func(t *testing.T) {
		assert.Empty(t, engine.FindNodes([]string{"Robot"}, nil, 0))
	})
}

func TestMemoryEngine_Relationships(t *testing.T) {
	engine := NewMemoryEngine()
	a, _ := engine.CreateNode(nil, map[string]any{"name": "a"})
	b, _ := engine.CreateNode(nil, map[string]any{"name": "b"})
	c, _ := engine.CreateNode(nil, map[string]any{"name": "c"})
	knows, _ := engine.CreateEdge("KNOWS", a.ID, b.ID, nil)
	likes, _ := engine.CreateEdge("LIKES", c.ID, a.ID, nil)

	t.Run("outgoing", func(t *testing.T) {
		rels := engine.Relationships(a.ID, DirOut, "")
		require.Len(t, rels, 1)
		assert.Equal(t, knows.ID, rels[0].ID)
	})

	t.Run("incoming", func(t *testing.T) {
		rels := engine.Relationships(a.ID, DirIn, "")
		require.Len(t, rels, 1)
		assert.Equal(t, likes.ID, rels[0].ID)
	})

	t.Run("both", func(t *testing.T) {
		assert.Len(t, engine.Relationships(a.ID, DirBoth, ""), 2)
	})

	t.Run("type filter", func(t *testing.T) {
		rels := engine.Relationships(a.ID, DirBoth, "LIKES")
		require.Len(t, rels, 1)
		assert.Equal(t, likes.ID, rels[0].ID)
	})

	t.Run("unknown node", func(t *testing.T) {
		assert.Empty(t, engine.Relationships("missing", DirBoth, ""))
	})
}

// Catalog and Stats Tests

func TestMemoryEngine_Catalog(t *testing.T) {
	engine := NewMemoryEngine()
	a, _ := engine.CreateNode([]string{"Person"}, nil)
	b, _ := engine.CreateNode([]string{"Company"}, nil)
	engine.CreateEdge("WORKS_AT", a.ID, b.ID, nil)

	assert.ElementsMatch(t, []string{"Person", "Company"}, engine.Labels())
	assert.Equal(t, []string{"WORKS_AT"}, engine.RelationshipTypes())
	assert.Equal(t, int64(2), engine.NodeCount())
	assert.Equal(t, int64(1), engine.EdgeCount())

	// Deleting the last Person drops the label from the catalog.
	engine.DeleteNode(a.ID)
	assert.Equal(t, []string{"Company"}, engine.Labels())
}

func TestMemoryEngine_Clear(t *testing.T) {
	engine := NewMemoryEngine()
	a, _ := engine.CreateNode([]string{"Person"}, nil)
	b, _ := engine.CreateNode([]string{"Person"}, nil)
	engine.CreateEdge("KNOWS", a.ID, b.ID, nil)

	engine.Clear()

	assert.Equal(t, int64(0), engine.NodeCount())
	assert.Equal(t, int64(0), engine.EdgeCount())
	assert.Empty(t, engine.Labels())

	// Still usable after Clear.
	_, err := engine.CreateNode([]string{"Person"}, nil)
	assert.NoError(t, err)
}

func TestMemoryEngine_Close(t *testing.T) {
	engine := NewMemoryEngine()
	node, _ := engine.CreateNode(nil, nil)
	require.NoError(t, engine.Close())

	_, err := engine.GetNode(node.ID)
	assert.ErrorIs(t, err, ErrStorageClosed)
	assert.Nil(t, engine.FindNodes(nil, nil, 0))
	assert.False(t, engine.DeleteNode(node.ID))
}

func TestMemoryEngine_ConcurrentReaders(t *testing.T) {
	engine := NewMemoryEngine()
	for i := 0; i < 50; i++ {
		_, err := engine.CreateNode([]string{"Person"}, map[string]any{"n": int64(i)})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.Len(t, engine.FindNodes([]string{"Person"}, nil, 0), 50)
			}
		}()
	}
	wg.Wait()
}

func TestModLabels(t *testing.T) {
	assert.Equal(t, []string{"A", "B"}, ModLabels([]string{"A"}, []string{"B"}, nil))
	assert.Equal(t, []string{"A"}, ModLabels([]string{"A", "B"}, nil, []string{"B"}))
	assert.Equal(t, []string{"A"}, ModLabels([]string{"A"}, []string{"A"}, nil))
	assert.Equal(t, []string{"B"}, ModLabels(nil, []string{"B", "B"}, nil))
	assert.Empty(t, ModLabels([]string{"A"}, []string{"A"}, []string{"A"}))
}

func TestValuesEqual(t *testing.T) {
	cases := []struct {
		a, b any
		want bool
	}{
		{int64(1), int64(1), true},
		{int64(1), 1.0, true},
		{1.5, 1.5, true},
		{int64(1), int64(2), false},
		{"a", "a", true},
		{"a", "b", false},
		{"1", int64(1), false},
		{true, true, true},
		{true, false, false},
		{nil, nil, true},
		{nil, int64(0), false},
		{[]any{int64(1), "x"}, []any{int64(1), "x"}, true},
		{[]any{int64(1)}, []any{int64(1), int64(2)}, false},
		{map[string]any{"k": int64(1)}, map[string]any{"k": 1.0}, true},
		{map[string]any{"k": int64(1)}, map[string]any{"j": int64(1)}, false},
	}
	for i, c := range cases {
		assert.Equal(t, c.want, ValuesEqual(c.a, c.b), fmt.Sprintf("case %d: %v vs %v", i, c.a, c.b))
	}
}
