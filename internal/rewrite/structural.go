package rewrite

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"sceneport/internal/pyast"
)

// matchStructural converts a declarative class-level CONFIG dict into an
// explicit constructor. Keys that override a known superclass parameter
// become keyword parameters (default = the prior literal) forwarded to
// super().__init__ along with **kwargs; remaining keys become plain class
// attributes.
func matchStructural(rule Rule, root *sitter.Node, src []byte) []siteEdit {
	var sites []siteEdit
	pyast.WalkNamed(root, func(n *sitter.Node) bool {
		if n.Type() != "class_definition" {
			return true
		}
		site := structuralSite(rule, n, src)
		if site != nil {
			sites = append(sites, *site)
		}
		return true // nested scene classes are legal
	})
	return sites
}

type configEntry struct {
	key   string
	value string
}

func structuralSite(rule Rule, class *sitter.Node, src []byte) *siteEdit {
	body := class.ChildByFieldName("body")
	if body == nil {
		return nil
	}

	var configStmt, configDict *sitter.Node
	hasInit := false
	for i := 0; i < int(body.NamedChildCount()); i++ {
		stmt := body.NamedChild(i)
		switch stmt.Type() {
		case "expression_statement":
			if stmt.NamedChildCount() != 1 {
				continue
			}
			assign := stmt.NamedChild(0)
			if assign.Type() != "assignment" {
				continue
			}
			left := assign.ChildByFieldName("left")
			if left == nil || pyast.NodeText(left, src) != "CONFIG" {
				continue
			}
			configStmt = stmt
			configDict = assign.ChildByFieldName("right")
		case "function_definition":
			if name := stmt.ChildByFieldName("name"); name != nil && pyast.NodeText(name, src) == "__init__" {
				hasInit = true
			}
		}
	}
	if configStmt == nil {
		return nil
	}

	if configDict == nil || configDict.Type() != "dictionary" {
		return &siteEdit{
			line: lineOf(configStmt), before: pyast.NodeText(configStmt, src),
			skipped: true, reason: "CONFIG is not a dict literal",
		}
	}
	if hasInit {
		return &siteEdit{
			line: lineOf(configStmt), before: pyast.NodeText(configStmt, src),
			skipped: true, reason: "class already defines __init__, cannot merge CONFIG",
		}
	}

	base := firstBase(class, src)
	superParams, known := rule.SuperParams[base]
	if !known {
		return &siteEdit{
			line: lineOf(configStmt), before: pyast.NodeText(configStmt, src),
			skipped: true, reason: fmt.Sprintf("base class %q not in parameter table", base),
		}
	}

	entries, ok := dictEntries(configDict, src)
	if !ok {
		return &siteEdit{
			line: lineOf(configStmt), before: pyast.NodeText(configStmt, src),
			skipped: true, reason: "CONFIG dict has a non-literal entry shape",
		}
	}

	paramSet := make(map[string]bool, len(superParams))
	for _, p := range superParams {
		paramSet[p] = true
	}
	var ctorParams, classAttrs []configEntry
	for _, e := range entries {
		if paramSet[e.key] {
			ctorParams = append(ctorParams, e)
		} else {
			classAttrs = append(classAttrs, e)
		}
	}

	indent := lineIndent(src, configStmt.StartByte())
	block := renderStructural(indent, ctorParams, classAttrs)

	start, end, clean := statementLineSpan(src, configStmt)
	if !clean {
		return &siteEdit{
			line: lineOf(configStmt), before: pyast.NodeText(configStmt, src),
			skipped: true, reason: "CONFIG statement shares a line",
		}
	}
	return &siteEdit{
		start: start, end: end, repl: block,
		line: lineOf(configStmt), before: "CONFIG = {...}",
		after: strings.Split(strings.TrimLeft(block, " \t"), "\n")[0] + " ...",
	}
}

// firstBase returns the outermost identifier of the first superclass.
func firstBase(class *sitter.Node, src []byte) string {
	supers := class.ChildByFieldName("superclasses")
	if supers == nil {
		return ""
	}
	for i := 0; i < int(supers.NamedChildCount()); i++ {
		b := supers.NamedChild(i)
		if b.Type() == "identifier" {
			return pyast.NodeText(b, src)
		}
	}
	return ""
}

// dictEntries extracts key/value pairs. Keys may be string literals or bare
// identifiers; anything else (spreads, computed keys) rejects the dict.
func dictEntries(dict *sitter.Node, src []byte) ([]configEntry, bool) {
	var entries []configEntry
	for i := 0; i < int(dict.NamedChildCount()); i++ {
		child := dict.NamedChild(i)
		if child.Type() == "comment" {
			continue
		}
		if child.Type() != "pair" {
			return nil, false
		}
		keyNode := child.ChildByFieldName("key")
		valNode := child.ChildByFieldName("value")
		if keyNode == nil || valNode == nil {
			return nil, false
		}
		var key string
		switch keyNode.Type() {
		case "string":
			_, inner, ok := splitStringLiteral(pyast.NodeText(keyNode, src))
			if !ok {
				return nil, false
			}
			key = inner
		case "identifier":
			key = pyast.NodeText(keyNode, src)
		default:
			return nil, false
		}
		entries = append(entries, configEntry{key: key, value: pyast.NodeText(valNode, src)})
	}
	return entries, true
}

// renderStructural emits the class attributes and the forwarding
// constructor replacing a CONFIG dict.
func renderStructural(indent string, ctorParams, classAttrs []configEntry) string {
	var b strings.Builder

	for _, e := range classAttrs {
		b.WriteString(indent)
		b.WriteString(e.key)
		b.WriteString(" = ")
		b.WriteString(e.value)
		b.WriteString("\n")
	}

	if len(ctorParams) > 0 {
		if len(classAttrs) > 0 {
			b.WriteString("\n")
		}
		b.WriteString(indent)
		b.WriteString("def __init__(self")
		for _, e := range ctorParams {
			b.WriteString(", ")
			b.WriteString(e.key)
			b.WriteString("=")
			b.WriteString(e.value)
		}
		b.WriteString(", **kwargs):\n")
		b.WriteString(indent)
		b.WriteString("    super().__init__(")
		for _, e := range ctorParams {
			b.WriteString(e.key)
			b.WriteString("=")
			b.WriteString(e.key)
			b.WriteString(", ")
		}
		b.WriteString("**kwargs)\n")
	}

	if len(ctorParams) == 0 && len(classAttrs) == 0 {
		// Empty CONFIG simply disappears; keep the body non-empty.
		b.WriteString(indent)
		b.WriteString("pass\n")
	}
	return b.String()
}
