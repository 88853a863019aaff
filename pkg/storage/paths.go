package storage

// pathState is one frontier entry in the breadth-first path search: the node
// the partial path has reached, the relationships walked so far, and the set
// of nodes already on this particular path.
type pathState struct {
	at      NodeID
	edges   []EdgeID
	visited map[NodeID]struct{}
}

// FindPaths returns every acyclic directed path from start to end with at
// most maxDepth relationships, optionally restricted to one relationship
// type. Traversal follows outgoing relationships only.
//
// The search is breadth-first, so shorter paths sort before longer ones.
// Each frontier entry carries its own visited set: a node may appear on many
// returned paths but never twice on the same path, even when the graph is
// cyclic. Relationships whose target node no longer exists are skipped.
func (m *MemoryEngine) FindPaths(start, end NodeID, maxDepth int, edgeType string) [][]*Edge {
	if maxDepth <= 0 || start == "" || end == "" || start == end {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil
	}
	if _, ok := m.nodes[start]; !ok {
		return nil
	}
	if _, ok := m.nodes[end]; !ok {
		return nil
	}

	var paths [][]*Edge
	queue := []pathState{{
		at:      start,
		visited: map[NodeID]struct{}{start: {}},
	}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for eid := range m.outgoingEdges[cur.at] {
			edge := m.edges[eid]
			if edge == nil {
				continue
			}
			if edgeType != "" && edge.Type != edgeType {
				continue
			}

			target := edge.EndNode
			if _, onPath := cur.visited[target]; onPath {
				continue
			}
			if _, ok := m.nodes[target]; !ok {
				// Dangling relationship; the endpoint was deleted.
				continue
			}

			if target == end {
				path := make([]*Edge, 0, len(cur.edges)+1)
				for _, id := range cur.edges {
					path = append(path, copyEdge(m.edges[id]))
				}
				path = append(path, copyEdge(edge))
				paths = append(paths, path)
				// The destination terminates this branch: extending past it
				// could only reach end again by revisiting it.
				continue
			}

			if len(cur.edges)+1 >= maxDepth {
				continue
			}

			next := pathState{
				at:      target,
				edges:   append(append([]EdgeID(nil), cur.edges...), eid),
				visited: make(map[NodeID]struct{}, len(cur.visited)+1),
			}
			for id := range cur.visited {
				next.visited[id] = struct{}{}
			}
			next.visited[target] = struct{}{}
			queue = append(queue, next)
		}
	}
	return paths
}
