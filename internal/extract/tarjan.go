package extract

// stronglyConnected runs Tarjan's algorithm over the subgraph and returns
// SCCs in dependency order: a component is emitted only after every
// component it depends on. Edges point from a symbol to its dependency, so
// emission order is definition-before-use.
func stronglyConnected(nodes []string, edges map[string][]string) [][]string {
	t := &tarjan{
		edges:   edges,
		index:   make(map[string]int),
		lowlink: make(map[string]int),
		onStack: make(map[string]bool),
	}
	for _, n := range nodes {
		if _, seen := t.index[n]; !seen {
			t.strongConnect(n)
		}
	}
	return t.sccs
}

type tarjan struct {
	edges   map[string][]string
	counter int
	index   map[string]int
	lowlink map[string]int
	stack   []string
	onStack map[string]bool
	sccs    [][]string
}

func (t *tarjan) strongConnect(v string) {
	t.index[v] = t.counter
	t.lowlink[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, w := range t.edges[v] {
		if _, seen := t.index[w]; !seen {
			t.strongConnect(w)
			if t.lowlink[w] < t.lowlink[v] {
				t.lowlink[v] = t.lowlink[w]
			}
		} else if t.onStack[w] {
			if t.index[w] < t.lowlink[v] {
				t.lowlink[v] = t.index[w]
			}
		}
	}

	if t.lowlink[v] == t.index[v] {
		var scc []string
		for {
			n := len(t.stack) - 1
			w := t.stack[n]
			t.stack = t.stack[:n]
			t.onStack[w] = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		t.sccs = append(t.sccs, scc)
	}
}
