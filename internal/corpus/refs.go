package corpus

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"sceneport/internal/pyast"
)

// collectRefs gathers identifiers in n that refer outward: free names, call
// targets, base classes, module constants. Locally bound names, attribute
// tails, and keyword-argument names are excluded.
func collectRefs(n *sitter.Node, src []byte, bound map[string]bool) []string {
	if n == nil {
		return nil
	}
	seen := make(map[string]bool)
	var refs []string

	pyast.WalkNamed(n, func(node *sitter.Node) bool {
		if node.Type() != "identifier" {
			return true
		}
		if !isReference(node) {
			return true
		}
		name := pyast.NodeText(node, src)
		if bound[name] || seen[name] {
			return true
		}
		seen[name] = true
		refs = append(refs, name)
		return true
	})
	return refs
}

// isReference reports whether an identifier node is a value reference rather
// than a binding site, an attribute tail, or a keyword name.
func isReference(n *sitter.Node) bool {
	parent := n.Parent()
	if parent == nil {
		return true
	}
	switch parent.Type() {
	case "attribute":
		// obj.attr: only the object side references module scope.
		return !sameNode(parent.ChildByFieldName("attribute"), n)
	case "keyword_argument":
		return !sameNode(parent.ChildByFieldName("name"), n)
	case "function_definition", "class_definition":
		return !sameNode(parent.ChildByFieldName("name"), n)
	case "parameters", "lambda_parameters", "default_parameter", "typed_parameter", "typed_default_parameter":
		// Parameter declarations bind, except default values which the
		// walker reaches through their own value subtree.
		if parent.Type() == "default_parameter" || parent.Type() == "typed_default_parameter" {
			return !sameNode(parent.ChildByFieldName("name"), n)
		}
		return false
	}
	return true
}

func sameNode(a, b *sitter.Node) bool {
	return a != nil && b != nil && a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte()
}

// boundNames collects names bound inside a definition: parameters,
// assignment targets, loop and comprehension variables, with/as aliases.
func boundNames(n *sitter.Node, src []byte) map[string]bool {
	bound := map[string]bool{
		// Implicit bindings inside class/method bodies.
		"self": true, "cls": true,
	}
	pyast.WalkNamed(n, func(node *sitter.Node) bool {
		switch node.Type() {
		case "parameters", "lambda_parameters":
			collectIdentifiers(node, src, bound)
		case "assignment", "augmented_assignment":
			if left := node.ChildByFieldName("left"); left != nil {
				collectIdentifiers(left, src, bound)
			}
		case "for_statement", "for_in_clause":
			if left := node.ChildByFieldName("left"); left != nil {
				collectIdentifiers(left, src, bound)
			}
		case "as_pattern_target":
			collectIdentifiers(node, src, bound)
		case "named_expression":
			if name := node.ChildByFieldName("name"); name != nil {
				collectIdentifiers(name, src, bound)
			}
		case "function_definition", "class_definition":
			if name := node.ChildByFieldName("name"); name != nil {
				bound[pyast.NodeText(name, src)] = true
			}
		case "import_statement", "import_from_statement":
			bindImports(node, src, bound)
		}
		return true
	})
	return bound
}

// bindImports records the names an import statement makes available: the
// alias if present, otherwise the first dotted segment or the imported name.
func bindImports(stmt *sitter.Node, src []byte, into map[string]bool) {
	for i := 0; i < int(stmt.NamedChildCount()); i++ {
		child := stmt.NamedChild(i)
		switch child.Type() {
		case "aliased_import":
			if alias := child.ChildByFieldName("alias"); alias != nil {
				into[pyast.NodeText(alias, src)] = true
			}
		case "dotted_name":
			if stmt.Type() == "import_from_statement" && sameNode(stmt.ChildByFieldName("module_name"), child) {
				continue
			}
			name := pyast.NodeText(child, src)
			if dot := strings.IndexByte(name, '.'); dot >= 0 {
				name = name[:dot]
			}
			into[name] = true
		}
	}
}

// FreeRef is an outward identifier reference with its 1-based source line.
type FreeRef struct {
	Name string
	Line int
}

// FreeRefs returns the identifiers in root that are not bound anywhere in
// the tree: not a parameter, assignment target, definition name, import
// alias, attribute tail, or keyword name. One entry per distinct name, at
// its first occurrence.
func FreeRefs(root *sitter.Node, src []byte) []FreeRef {
	bound := boundNames(root, src)
	seen := make(map[string]bool)
	var refs []FreeRef

	pyast.WalkNamed(root, func(node *sitter.Node) bool {
		if node.Type() != "identifier" {
			return true
		}
		if !isReference(node) {
			return true
		}
		name := pyast.NodeText(node, src)
		if bound[name] || seen[name] {
			return true
		}
		seen[name] = true
		refs = append(refs, FreeRef{Name: name, Line: int(node.StartPoint().Row) + 1})
		return true
	})
	return refs
}

func collectIdentifiers(n *sitter.Node, src []byte, into map[string]bool) {
	pyast.WalkNamed(n, func(node *sitter.Node) bool {
		if node.Type() == "identifier" {
			into[pyast.NodeText(node, src)] = true
		}
		return true
	})
}
