package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildDiamond creates a -> b -> d and a -> c -> d plus a direct a -> d.
func buildDiamond(t *testing.T) (*MemoryEngine, NodeID, NodeID) {
	t.Helper()
	engine := NewMemoryEngine()
	a, _ := engine.CreateNode(nil, map[string]any{"name": "a"})
	b, _ := engine.CreateNode(nil, map[string]any{"name": "b"})
	c, _ := engine.CreateNode(nil, map[string]any{"name": "c"})
	d, _ := engine.CreateNode(nil, map[string]any{"name": "d"})

	mustEdge := func(from, to NodeID) {
		_, err := engine.CreateEdge("NEXT", from, to, nil)
		require.NoError(t, err)
	}
	mustEdge(a.ID, b.ID)
	mustEdge(b.ID, d.ID)
	mustEdge(a.ID, c.ID)
	mustEdge(c.ID, d.ID)
	mustEdge(a.ID, d.ID)

	return engine, a.ID, d.ID
}

func TestMemoryEngine_FindPaths(t *testing.T) {
	t.Run("finds every path up to max depth", func(t *testing.T) {
		engine, start, end := buildDiamond(t)

		paths := engine.FindPaths(start, end, 3, "")
		require.Len(t, paths, 3)

		// Breadth-first: the single-hop path comes before the two-hop ones.
		assert.Len(t, paths[0], 1)
		assert.Len(t, paths[1], 2)
		assert.Len(t, paths[2], 2)

		for _, p := range paths {
			assert.Equal(t, start, p[0].StartNode)
			assert.Equal(t, end, p[len(p)-1].EndNode)
		}
	})

	t.Run("max depth bounds path length", func(t *testing.T) {
		engine, start, end := buildDiamond(t)

		paths := engine.FindPaths(start, end, 1, "")
		require.Len(t, paths, 1)
		assert.Len(t, paths[0], 1)
	})

	t.Run("cycle never revisits a node on the same path", func(t *testing.T) {
		engine := NewMemoryEngine()
		a, _ := engine.CreateNode(nil, nil)
		b, _ := engine.CreateNode(nil, nil)
		c, _ := engine.CreateNode(nil, nil)
		d, _ := engine.CreateNode(nil, nil)
		// a -> b -> c -> a cycle, plus c -> d exit.
		engine.CreateEdge("NEXT", a.ID, b.ID, nil)
		engine.CreateEdge("NEXT", b.ID, c.ID, nil)
		engine.CreateEdge("NEXT", c.ID, a.ID, nil)
		engine.CreateEdge("NEXT", c.ID, d.ID, nil)

		paths := engine.FindPaths(a.ID, d.ID, 10, "")
		require.Len(t, paths, 1)

		for _, p := range paths {
			seen := map[NodeID]struct{}{p[0].StartNode: {}}
			for _, e := range p {
				_, dup := seen[e.EndNode]
				assert.False(t, dup, "path revisits node %s", e.EndNode)
				seen[e.EndNode] = struct{}{}
			}
		}
	})

	t.Run("relationship type filter", func(t *testing.T) {
		engine := NewMemoryEngine()
		a, _ := engine.CreateNode(nil, nil)
		b, _ := engine.CreateNode(nil, nil)
		engine.CreateEdge("ROAD", a.ID, b.ID, nil)
		engine.CreateEdge("RAIL", a.ID, b.ID, nil)

		paths := engine.FindPaths(a.ID, b.ID, 2, "RAIL")
		require.Len(t, paths, 1)
		assert.Equal(t, "RAIL", paths[0][0].Type)
	})

	t.Run("direction matters", func(t *testing.T) {
		engine := NewMemoryEngine()
		a, _ := engine.CreateNode(nil, nil)
		b, _ := engine.CreateNode(nil, nil)
		engine.CreateEdge("NEXT", a.ID, b.ID, nil)

		assert.Len(t, engine.FindPaths(a.ID, b.ID, 3, ""), 1)
		assert.Empty(t, engine.FindPaths(b.ID, a.ID, 3, ""))
	})

	t.Run("dangling relationships are skipped", func(t *testing.T) {
		engine := NewMemoryEngine()
		a, _ := engine.CreateNode(nil, nil)
		b, _ := engine.CreateNode(nil, nil)
		c, _ := engine.CreateNode(nil, nil)
		engine.CreateEdge("NEXT", a.ID, b.ID, nil)
		engine.CreateEdge("NEXT", b.ID, c.ID, nil)
		engine.DeleteNode(b.ID)

		assert.Empty(t, engine.FindPaths(a.ID, c.ID, 5, ""))
	})

	t.Run("degenerate arguments", func(t *testing.T) {
		engine, start, end := buildDiamond(t)

		assert.Nil(t, engine.FindPaths(start, end, 0, ""))
		assert.Nil(t, engine.FindPaths(start, start, 3, ""))
		assert.Nil(t, engine.FindPaths("missing", end, 3, ""))
		assert.Nil(t, engine.FindPaths(start, "missing", 3, ""))
	})
}
