package pyast

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchingDelim(t *testing.T) {
	tests := []struct {
		name string
		src  string
		open int
		want int
	}{
		{"simple", "f(a, b)", 1, 6},
		{"nested", "f(g(h(x)))", 1, 9},
		{"bracket in string", `f("achtung )", b)`, 1, 16},
		{"brace in single quotes", `d = {'}': 1}`, 4, 11},
		{"unbalanced", "f(a, b", 1, -1},
		{"escaped quote", `f("a\")", b)`, 1, 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchingDelim(tt.src, tt.open))
		})
	}
}

func TestExpressionEndSingleLine(t *testing.T) {
	end, ok := ExpressionEnd([]string{"x = 1", "y = 2"}, 0)
	require.True(t, ok)
	assert.Equal(t, 0, end)
}

func TestExpressionEndMultiLineBrackets(t *testing.T) {
	lines := []string{
		"COLORS = [",
		"    RED,",
		"    GREEN,",
		"]",
		"x = 1",
	}
	end, ok := ExpressionEnd(lines, 0)
	require.True(t, ok)
	assert.Equal(t, 3, end)
}

func TestExpressionEndBracketsInsideStrings(t *testing.T) {
	// The ] and } inside string literals must not close the list early.
	lines := []string{
		`LABELS = [`,
		`    "closing ] bracket",`,
		`    'and a } brace',`,
		`]`,
	}
	end, ok := ExpressionEnd(lines, 0)
	require.True(t, ok)
	assert.Equal(t, 3, end)
}

func TestExpressionEndReduceComprehension(t *testing.T) {
	// Scenario: deeply bracketed constant built via a reduce/comprehension
	// expression spans as one atomic block, not truncated mid-expression.
	lines := []string{
		"GRID = reduce(op.add, [",
		"    [Square(side_length=s) for s in range(3)]",
		"    for _ in range(3)",
		"])",
		"next_symbol = 1",
	}
	end, ok := ExpressionEnd(lines, 0)
	require.True(t, ok)
	assert.Equal(t, 3, end)
}

func TestExpressionEndTripleQuotedAcrossLines(t *testing.T) {
	lines := []string{
		`DOC = ("""contains [ and {`,
		`still inside ) the string`,
		`""")`,
	}
	end, ok := ExpressionEnd(lines, 0)
	require.True(t, ok)
	assert.Equal(t, 2, end)
}

func TestExpressionEndContinuation(t *testing.T) {
	lines := []string{
		`total = 1 + \`,
		`    2`,
	}
	end, ok := ExpressionEnd(lines, 0)
	require.True(t, ok)
	assert.Equal(t, 1, end)
}

func TestSplitTopLevelArgs(t *testing.T) {
	args := SplitTopLevelArgs(`a, f(b, c), "x,y", [1, 2], key=3`)
	assert.Equal(t, []string{"a", "f(b, c)", `"x,y"`, "[1, 2]", "key=3"}, args)
}

func TestParsesAndFirstErrorLine(t *testing.T) {
	ctx := context.Background()

	good := []byte("class Scene:\n    def construct(self):\n        pass\n")
	assert.True(t, Parses(ctx, good))
	assert.Equal(t, 0, FirstErrorLine(ctx, good))

	bad := []byte("x = 1\ndef broken(:\n    pass\n")
	assert.False(t, Parses(ctx, bad))
	line := FirstErrorLine(ctx, bad)
	assert.GreaterOrEqual(t, line, 1)
}
