package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sceneport/internal/corpus"
	"sceneport/internal/pyast"
)

func buildIndex(t *testing.T, files map[string]string) *corpus.Index {
	t.Helper()
	idx := corpus.NewIndex()
	for path, src := range files {
		require.NoError(t, idx.AddFile(context.Background(), path, []byte(src)))
	}
	return idx
}

func TestClosureOrdersDefinitionBeforeUse(t *testing.T) {
	idx := buildIndex(t, map[string]string{
		"lib.py": `
SIDE = 2.0

def make_square(side):
    return Square(side_length=side)

def make_pair():
    return [make_square(SIDE), make_square(SIDE)]
`,
		"scene.py": `
class Demo(Scene):
    def construct(self):
        self.add(make_pair())
`,
	})

	ex := New(idx, []string{"Scene", "Square"})
	cl, err := ex.Closure("Demo")
	require.NoError(t, err)

	names := cl.Names()
	assert.Equal(t, "Demo", names[len(names)-1], "root comes last")
	assert.Less(t, indexOf(names, "SIDE"), indexOf(names, "make_pair"),
		"constant defined before the function using it")
	assert.Less(t, indexOf(names, "make_square"), indexOf(names, "make_pair"))
	assert.Empty(t, cl.Unresolved)
}

func TestClosureNoDuplicates(t *testing.T) {
	idx := buildIndex(t, map[string]string{
		"lib.py": `
BASE = 1

def f():
    return BASE

def g():
    return BASE + f()

def root():
    return f() + g()
`,
	})

	cl, err := New(idx, nil).Closure("root")
	require.NoError(t, err)

	seen := map[string]int{}
	for _, n := range cl.Names() {
		seen[n]++
	}
	for n, count := range seen {
		assert.Equal(t, 1, count, "symbol %s emitted more than once", n)
	}
}

func TestClosureCollapsesCyclesIntoAtomicBlock(t *testing.T) {
	idx := buildIndex(t, map[string]string{
		"lib.py": `
def ping(n):
    return pong(n - 1)

def pong(n):
    return ping(n - 1) if n > 0 else 0

def root():
    return ping(3)
`,
	})

	cl, err := New(idx, nil).Closure("root")
	require.NoError(t, err)

	var cyclic [][]string
	for _, b := range cl.Blocks {
		if len(b) > 1 {
			cyclic = append(cyclic, b)
		}
	}
	require.Len(t, cyclic, 1, "cycle collapsed into one block, not dropped")
	assert.ElementsMatch(t, []string{"ping", "pong"}, cyclic[0])

	// The cyclic block precedes its user.
	names := cl.Names()
	assert.Less(t, indexOf(names, "ping"), indexOf(names, "root"))
	assert.Less(t, indexOf(names, "pong"), indexOf(names, "root"))
}

func TestClosureReportsUnresolved(t *testing.T) {
	idx := buildIndex(t, map[string]string{
		"scene.py": `
class Demo(MissingBase):
    def construct(self):
        helper_nowhere()
`,
	})

	cl, err := New(idx, nil).Closure("Demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"MissingBase", "helper_nowhere"}, cl.Unresolved)
}

func TestClosureMultiLineConstantAtomic(t *testing.T) {
	// Scenario D: a multi-line bracketed constant built via a reduce
	// expression is extracted whole, not truncated mid-expression.
	idx := buildIndex(t, map[string]string{
		"lib.py": `GRID = reduce(op.add, [
    [make_cell(r, c) for c in range(3)]
    for r in range(3)
])

def make_cell(r, c):
    return (r, c)

def root():
    return GRID
`,
	})

	cl, err := New(idx, []string{"op"}).Closure("root")
	require.NoError(t, err)

	var grid *corpus.Symbol
	for _, s := range cl.Symbols {
		if s.Name == "GRID" {
			grid = s
		}
	}
	require.NotNil(t, grid)
	assert.Contains(t, grid.Body, "])", "constant body includes the closing brackets")
	assert.Equal(t, 1, grid.StartLine)
	assert.Equal(t, 4, grid.EndLine)
}

func TestClosureTextResolvesEveryCorpusName(t *testing.T) {
	files := map[string]string{
		"lib.py": `
LIMIT = 10

def clamp(x):
    return min(x, LIMIT)

def shifted(x):
    return clamp(x) + 1
`,
		"scene.py": `
class Demo(Scene):
    def construct(self):
        self.add(shifted(3))
`,
	}
	idx := buildIndex(t, files)
	cl, err := New(idx, []string{"Scene"}).Closure("Demo")
	require.NoError(t, err)
	require.Empty(t, cl.Unresolved)

	text := cl.Text()
	require.True(t, pyast.Parses(context.Background(), []byte(text)))

	// Re-index the concatenation: every reference either resolves within
	// the closure or is an ignored builtin/dialect name.
	out := corpus.NewIndex()
	require.NoError(t, out.AddFile(context.Background(), "closure.py", []byte(text)))
	reEx := New(out, []string{"Scene"})
	reCl, err := reEx.Closure("Demo")
	require.NoError(t, err)
	assert.Empty(t, reCl.Unresolved)
}

func TestClosureUnknownRoot(t *testing.T) {
	idx := buildIndex(t, map[string]string{"a.py": "X = 1\n"})
	_, err := New(idx, nil).Closure("Nope")
	assert.Error(t, err)
}

func indexOf(names []string, want string) int {
	for i, n := range names {
		if n == want {
			return i
		}
	}
	return -1
}
