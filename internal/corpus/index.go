// Package corpus loads a directory of Python source files and builds a
// symbol index: every module-level function, class, and constant with its
// span, body, and outward references. The extractor resolves dependency
// closures against this index.
package corpus

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"

	"sceneport/internal/logging"
	"sceneport/internal/pyast"
)

// SymbolKind classifies an indexed symbol.
type SymbolKind string

const (
	KindFunction SymbolKind = "function"
	KindClass    SymbolKind = "class"
	KindConstant SymbolKind = "constant"
)

// Symbol is one module-level definition in the corpus.
type Symbol struct {
	Name      string
	Kind      SymbolKind
	File      string
	StartLine int // 1-based, inclusive
	EndLine   int // 1-based, inclusive
	Body      string
	Bases     []string // class base names, outermost identifiers only
	Refs      []string // outward references, deduplicated, order of first use
}

// Index is the corpus-wide symbol table.
type Index struct {
	symbols map[string]*Symbol
	order   []string            // insertion order for deterministic output
	imports map[string][]string // file -> module-level import statements
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		symbols: make(map[string]*Symbol),
		imports: make(map[string][]string),
	}
}

// LoadDir indexes every .py file under dir.
func LoadDir(ctx context.Context, dir string) (*Index, error) {
	timer := logging.StartTimer(logging.CategoryCorpus, "LoadDir")
	defer timer.StopWithThreshold(10 * time.Second)

	idx := NewIndex()
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".py") {
			return nil
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err := idx.AddFile(ctx, path, src); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.Corpus("indexed %d symbols from %s", len(idx.order), dir)
	return idx, nil
}

// AddFile indexes one file's module-level symbols.
func (x *Index) AddFile(ctx context.Context, path string, src []byte) error {
	tree, err := pyast.Parse(ctx, src)
	if err != nil {
		return err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		// Damaged files still contribute symbols via the line scanner so a
		// single bad region does not hide a whole module.
		logging.Get(logging.CategoryCorpus).Warn("parse errors in %s, falling back to line scan", path)
		x.scanLines(path, string(src))
		return nil
	}

	lines := strings.Split(string(src), "\n")
	for i := 0; i < int(root.NamedChildCount()); i++ {
		x.addTopLevel(root.NamedChild(i), path, src, lines)
	}
	return nil
}

func (x *Index) addTopLevel(n *sitter.Node, path string, src []byte, lines []string) {
	switch n.Type() {
	case "import_statement", "import_from_statement":
		x.imports[path] = append(x.imports[path], pyast.NodeText(n, src))

	case "function_definition":
		x.addSymbol(symbolFromDef(n, path, src, KindFunction))

	case "class_definition":
		x.addSymbol(symbolFromDef(n, path, src, KindClass))

	case "decorated_definition":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			inner := n.NamedChild(i)
			switch inner.Type() {
			case "function_definition":
				s := symbolFromDef(inner, path, src, KindFunction)
				if s != nil {
					// Span includes the decorators.
					s.StartLine = int(n.StartPoint().Row) + 1
					s.Body = pyast.NodeText(n, src)
				}
				x.addSymbol(s)
			case "class_definition":
				s := symbolFromDef(inner, path, src, KindClass)
				if s != nil {
					s.StartLine = int(n.StartPoint().Row) + 1
					s.Body = pyast.NodeText(n, src)
				}
				x.addSymbol(s)
			}
		}

	case "expression_statement":
		// Module-level assignment = constant definition.
		if n.NamedChildCount() == 0 {
			return
		}
		assign := n.NamedChild(0)
		if assign.Type() != "assignment" {
			return
		}
		left := assign.ChildByFieldName("left")
		if left == nil || left.Type() != "identifier" {
			return
		}
		s := &Symbol{
			Name:      pyast.NodeText(left, src),
			Kind:      KindConstant,
			File:      path,
			StartLine: int(n.StartPoint().Row) + 1,
			EndLine:   int(n.EndPoint().Row) + 1,
			Body:      pyast.NodeText(n, src),
		}
		bound := boundNames(assign, src)
		bound[s.Name] = true
		s.Refs = collectRefs(assign.ChildByFieldName("right"), src, bound)
		x.addSymbol(s)
	}
}

func symbolFromDef(n *sitter.Node, path string, src []byte, kind SymbolKind) *Symbol {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	s := &Symbol{
		Name:      pyast.NodeText(nameNode, src),
		Kind:      kind,
		File:      path,
		StartLine: int(n.StartPoint().Row) + 1,
		EndLine:   int(n.EndPoint().Row) + 1,
		Body:      pyast.NodeText(n, src),
	}
	if kind == KindClass {
		if supers := n.ChildByFieldName("superclasses"); supers != nil {
			for i := 0; i < int(supers.NamedChildCount()); i++ {
				base := supers.NamedChild(i)
				if base.Type() == "identifier" {
					s.Bases = append(s.Bases, pyast.NodeText(base, src))
				}
			}
		}
	}
	bound := boundNames(n, src)
	bound[s.Name] = true
	s.Refs = collectRefs(n, src, bound)
	return s
}

func (x *Index) addSymbol(s *Symbol) {
	if s == nil || s.Name == "" {
		return
	}
	if prev, exists := x.symbols[s.Name]; exists {
		// First definition wins; duplicates are a corpus authoring problem.
		logging.Get(logging.CategoryCorpus).Warn("duplicate symbol %s (%s and %s)", s.Name, prev.File, s.File)
		return
	}
	x.symbols[s.Name] = s
	x.order = append(x.order, s.Name)
}

// scanLines is the fallback indexer for files tree-sitter cannot fully
// parse. Module-level defs and constants are located by line shape, spans by
// string-aware bracket balancing.
func (x *Index) scanLines(path, src string) {
	lines := strings.Split(src, "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if line == "" || line[0] == ' ' || line[0] == '\t' || line[0] == '#' {
			continue
		}
		name, kind := topLevelShape(line)
		if name == "" {
			continue
		}
		end := i
		if kind == KindConstant {
			if e, ok := pyast.ExpressionEnd(lines, i); ok {
				end = e
			}
		} else {
			end = blockEnd(lines, i)
		}
		s := &Symbol{
			Name:      name,
			Kind:      kind,
			File:      path,
			StartLine: i + 1,
			EndLine:   end + 1,
			Body:      strings.Join(lines[i:end+1], "\n"),
		}
		if kind == KindClass {
			s.Bases = classBases(strings.TrimSpace(line))
		}
		x.addSymbol(s)
		i = end
	}
}

func topLevelShape(line string) (string, SymbolKind) {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(trimmed, "def "):
		rest := strings.TrimPrefix(trimmed, "def ")
		if idx := strings.IndexAny(rest, "( :"); idx > 0 {
			return rest[:idx], KindFunction
		}
	case strings.HasPrefix(trimmed, "class "):
		rest := strings.TrimPrefix(trimmed, "class ")
		if idx := strings.IndexAny(rest, "( :"); idx > 0 {
			return rest[:idx], KindClass
		}
	default:
		if eq := strings.Index(trimmed, "="); eq > 0 && !strings.Contains(trimmed[:eq], " ") &&
			isIdentifier(strings.TrimSpace(trimmed[:eq])) {
			return strings.TrimSpace(trimmed[:eq]), KindConstant
		}
	}
	return "", ""
}

// classBases pulls the base-class names out of a "class X(A, B):" line.
// Dotted bases keep only the first segment, matching the tree path.
func classBases(line string) []string {
	open := strings.Index(line, "(")
	closing := strings.Index(line, ")")
	if open < 0 || closing < open {
		return nil
	}
	var bases []string
	for _, part := range strings.Split(line[open+1:closing], ",") {
		name := strings.TrimSpace(part)
		if dot := strings.Index(name, "."); dot > 0 {
			name = name[:dot]
		}
		if isIdentifier(name) {
			bases = append(bases, name)
		}
	}
	return bases
}

// blockEnd finds the last line of an indented block starting at start.
func blockEnd(lines []string, start int) int {
	end := start
	for i := start + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if lines[i][0] != ' ' && lines[i][0] != '\t' {
			break
		}
		end = i
	}
	return end
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			continue
		}
		if i > 0 && r >= '0' && r <= '9' {
			continue
		}
		return false
	}
	return true
}

// Lookup returns the symbol for name, if indexed.
func (x *Index) Lookup(name string) (*Symbol, bool) {
	s, ok := x.symbols[name]
	return s, ok
}

// Names returns all indexed symbol names in insertion order.
func (x *Index) Names() []string {
	return append([]string(nil), x.order...)
}

// Imports returns module-level import statements recorded for file.
func (x *Index) Imports(file string) []string {
	return x.imports[file]
}

// SortedNames returns symbol names sorted lexically, for stable reporting.
func (x *Index) SortedNames() []string {
	names := x.Names()
	sort.Strings(names)
	return names
}

// Len returns the number of indexed symbols.
func (x *Index) Len() int { return len(x.order) }
