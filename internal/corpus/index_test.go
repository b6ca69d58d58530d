package corpus

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleScene = `from manimlib import *

SIDE = 2.0

COLORS = [
    "#ff0000",
    "#00ff00",
]

def make_square(side):
    return Square(side_length=side)

class BaseScene(Scene):
    def construct(self):
        pass

class Demo(BaseScene):
    def construct(self):
        sq = make_square(SIDE)
        self.play(ShowCreation(sq))
        self.wait()
`

func TestAddFileIndexesTopLevelSymbols(t *testing.T) {
	idx := NewIndex()
	require.NoError(t, idx.AddFile(context.Background(), "scene.py", []byte(sampleScene)))

	assert.Equal(t, 5, idx.Len())

	side, ok := idx.Lookup("SIDE")
	require.True(t, ok)
	assert.Equal(t, KindConstant, side.Kind)

	colors, ok := idx.Lookup("COLORS")
	require.True(t, ok)
	assert.Equal(t, 5, colors.StartLine)
	assert.Equal(t, 8, colors.EndLine)

	fn, ok := idx.Lookup("make_square")
	require.True(t, ok)
	assert.Equal(t, KindFunction, fn.Kind)
	assert.Contains(t, fn.Refs, "Square")
	assert.NotContains(t, fn.Refs, "side", "parameters are bound, not references")
	assert.NotContains(t, fn.Refs, "side_length", "keyword names are not references")

	demo, ok := idx.Lookup("Demo")
	require.True(t, ok)
	assert.Equal(t, []string{"BaseScene"}, demo.Bases)
	assert.Contains(t, demo.Refs, "make_square")
	assert.Contains(t, demo.Refs, "SIDE")
	assert.Contains(t, demo.Refs, "ShowCreation")
	assert.NotContains(t, demo.Refs, "sq", "locals are bound")
	assert.NotContains(t, demo.Refs, "play", "attribute tails are not references")
}

func TestImportsRecorded(t *testing.T) {
	idx := NewIndex()
	require.NoError(t, idx.AddFile(context.Background(), "scene.py", []byte(sampleScene)))
	assert.Equal(t, []string{"from manimlib import *"}, idx.Imports("scene.py"))
}

func TestDuplicateSymbolFirstWins(t *testing.T) {
	idx := NewIndex()
	ctx := context.Background()
	require.NoError(t, idx.AddFile(ctx, "a.py", []byte("X = 1\n")))
	require.NoError(t, idx.AddFile(ctx, "b.py", []byte("X = 2\n")))

	s, ok := idx.Lookup("X")
	require.True(t, ok)
	assert.Equal(t, "a.py", s.File)
	assert.Equal(t, 1, idx.Len())
}

func TestFallbackLineScanOnParseError(t *testing.T) {
	// The broken def must not hide the following constant.
	src := "def broken(:\n    pass\n\nVALUES = [\n    1,\n    2,\n]\n"
	idx := NewIndex()
	require.NoError(t, idx.AddFile(context.Background(), "broken.py", []byte(src)))

	v, ok := idx.Lookup("VALUES")
	require.True(t, ok)
	assert.Equal(t, KindConstant, v.Kind)
	assert.Equal(t, 4, v.StartLine)
	assert.Equal(t, 7, v.EndLine)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scene.py"), []byte(sampleScene), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	idx, err := LoadDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 5, idx.Len())
}
