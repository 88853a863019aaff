package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_HasLabel(t *testing.T) {
	node := &Node{Labels: []string{"Person", "Admin"}}

	assert.True(t, node.HasLabel("Person"))
	assert.True(t, node.HasLabel("Admin"))
	assert.False(t, node.HasLabel("person"))
	assert.False(t, node.HasLabel("Robot"))
	assert.False(t, (&Node{}).HasLabel("Person"))
}

func TestDirection_String(t *testing.T) {
	assert.Equal(t, "out", DirOut.String())
	assert.Equal(t, "in", DirIn.String())
	assert.Equal(t, "both", DirBoth.String())
	assert.Equal(t, "unknown", Direction(42).String())
}

func TestCopyProperties(t *testing.T) {
	t.Run("nil_yields_empty_map", func(t *testing.T) {
		out := CopyProperties(nil)
		require.NotNil(t, out)
		assert.Empty(t, out)
	})

	t.Run("copy_is_independent", func(t *testing.T) {
		src := map[string]any{"a": int64(1), "b": "two"}
		out := CopyProperties(src)
		out["a"] = int64(99)
		out["c"] = true

		assert.Equal(t, int64(1), src["a"])
		assert.NotContains(t, src, "c")
	})
}

func TestCopyNode(t *testing.T) {
	original := &Node{
		ID:         "n1",
		Labels:     []string{"Person"},
		Properties: map[string]any{"name": "Alice"},
	}

	dup := copyNode(original)
	dup.Labels[0] = "Changed"
	dup.Properties["name"] = "Mallory"

	assert.Equal(t, "Person", original.Labels[0])
	assert.Equal(t, "Alice", original.Properties["name"])
	assert.Nil(t, copyNode(nil))
}

func TestCopyEdge(t *testing.T) {
	original := &Edge{
		ID:         "e1",
		Type:       "KNOWS",
		StartNode:  "n1",
		EndNode:    "n2",
		Properties: map[string]any{"since": int64(2019)},
	}

	dup := copyEdge(original)
	dup.Properties["since"] = int64(2024)

	assert.Equal(t, int64(2019), original.Properties["since"])
	assert.Nil(t, copyEdge(nil))
}
