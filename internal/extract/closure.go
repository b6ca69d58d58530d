// Package extract computes minimal self-contained dependency closures of
// corpus symbols: every free name, call target, base class, and module
// constant a root symbol transitively uses, in definition-before-use order.
package extract

import (
	"fmt"
	"sort"
	"strings"

	"sceneport/internal/corpus"
	"sceneport/internal/logging"
)

// Extractor resolves closures against a corpus index. Names in Ignore
// (runtime builtins, dialect API names) are neither followed nor reported.
type Extractor struct {
	idx    *corpus.Index
	ignore map[string]bool
}

// New creates an Extractor. extraIgnore augments the Python builtin set,
// typically with the dialect's own API surface.
func New(idx *corpus.Index, extraIgnore []string) *Extractor {
	ignore := make(map[string]bool, len(pythonBuiltins)+len(extraIgnore))
	for _, n := range pythonBuiltins {
		ignore[n] = true
	}
	for _, n := range extraIgnore {
		ignore[n] = true
	}
	return &Extractor{idx: idx, ignore: ignore}
}

// Closure is a dependency-ordered, duplicate-free symbol sequence.
type Closure struct {
	Root    string
	Symbols []*corpus.Symbol
	// Blocks mirrors Symbols as ordering groups; a block with more than one
	// member is a reference cycle emitted atomically.
	Blocks [][]string
	// Unresolved lists names referenced but absent from the whole corpus.
	// They are reported, never silently dropped.
	Unresolved []string
}

// Closure computes the dependency closure for root.
func (e *Extractor) Closure(root string) (*Closure, error) {
	if _, ok := e.idx.Lookup(root); !ok {
		return nil, fmt.Errorf("root symbol %q not present in corpus", root)
	}

	// Reachable subgraph via BFS over outward references.
	deps := make(map[string][]string)
	unresolved := make(map[string]bool)
	visited := map[string]bool{root: true}
	queue := []string{root}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		sym, _ := e.idx.Lookup(name)
		for _, ref := range sym.Refs {
			if e.ignore[ref] {
				continue
			}
			if _, ok := e.idx.Lookup(ref); !ok {
				unresolved[ref] = true
				continue
			}
			deps[name] = append(deps[name], ref)
			if !visited[ref] {
				visited[ref] = true
				queue = append(queue, ref)
			}
		}
	}

	order := make([]string, 0, len(visited))
	for n := range visited {
		order = append(order, n)
	}
	sort.Strings(order) // deterministic traversal for Tarjan

	sccs := stronglyConnected(order, deps)

	cl := &Closure{Root: root}
	for _, scc := range sccs {
		// Cycles stay together as one atomic ordered block.
		block := append([]string(nil), scc...)
		sortByDefinition(e.idx, block)
		cl.Blocks = append(cl.Blocks, block)
		for _, n := range block {
			sym, _ := e.idx.Lookup(n)
			cl.Symbols = append(cl.Symbols, sym)
		}
	}

	for n := range unresolved {
		cl.Unresolved = append(cl.Unresolved, n)
	}
	sort.Strings(cl.Unresolved)

	if len(cl.Unresolved) > 0 {
		logging.Get(logging.CategoryExtract).Warn("closure(%s): %d unresolved symbols: %v",
			root, len(cl.Unresolved), cl.Unresolved)
	}
	logging.ExtractDebug("closure(%s): %d symbols in %d blocks", root, len(cl.Symbols), len(cl.Blocks))
	return cl, nil
}

// Text concatenates the closure bodies in dependency order. The guarantee:
// the result resolves every transitively-referenced name present in the
// corpus.
func (c *Closure) Text() string {
	parts := make([]string, 0, len(c.Symbols))
	for _, s := range c.Symbols {
		parts = append(parts, s.Body)
	}
	return strings.Join(parts, "\n\n")
}

// Names returns the ordered symbol names.
func (c *Closure) Names() []string {
	names := make([]string, 0, len(c.Symbols))
	for _, s := range c.Symbols {
		names = append(names, s.Name)
	}
	return names
}

// sortByDefinition orders a cyclic block by file then line so its emission
// is stable across runs.
func sortByDefinition(idx *corpus.Index, names []string) {
	sort.Slice(names, func(i, j int) bool {
		a, _ := idx.Lookup(names[i])
		b, _ := idx.Lookup(names[j])
		if a.File != b.File {
			return a.File < b.File
		}
		return a.StartLine < b.StartLine
	})
}
