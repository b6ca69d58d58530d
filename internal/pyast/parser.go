// Package pyast wraps tree-sitter's Python grammar with the parse and scan
// helpers shared by the corpus index, the extractor, the rewriter, and the
// static validator.
package pyast

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// NewParser returns a tree-sitter parser configured for Python.
// Parsers are not safe for concurrent use; callers hold their own.
func NewParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())
	return p
}

// Parse parses src and returns the tree. The caller must Close it.
func Parse(ctx context.Context, src []byte) (*sitter.Tree, error) {
	p := NewParser()
	tree, err := p.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	return tree, nil
}

// Parses reports whether src parses without any ERROR or MISSING nodes.
func Parses(ctx context.Context, src []byte) bool {
	tree, err := Parse(ctx, src)
	if err != nil {
		return false
	}
	defer tree.Close()
	return !tree.RootNode().HasError()
}

// FirstErrorLine returns the 1-based line of the first syntax error in src,
// or 0 when the source parses cleanly.
func FirstErrorLine(ctx context.Context, src []byte) int {
	tree, err := Parse(ctx, src)
	if err != nil {
		return 1
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return 0
	}

	line := 0
	Walk(root, func(n *sitter.Node) bool {
		if line != 0 {
			return false
		}
		if n.Type() == "ERROR" || n.IsMissing() {
			line = int(n.StartPoint().Row) + 1
			return false
		}
		// Only descend into subtrees that contain the error.
		return n.HasError()
	})
	if line == 0 {
		line = 1
	}
	return line
}

// Walk visits nodes in pre-order. fn returning false prunes the subtree.
func Walk(n *sitter.Node, fn func(n *sitter.Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		Walk(n.Child(i), fn)
	}
}

// WalkNamed visits named nodes in pre-order. fn returning false prunes.
func WalkNamed(n *sitter.Node, fn func(n *sitter.Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		WalkNamed(n.NamedChild(i), fn)
	}
}

// NodeText returns the source text covered by n.
func NodeText(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return string(src[n.StartByte():n.EndByte()])
}
