package rewrite

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"sceneport/internal/pyast"
)

// callTarget returns the called name and the receiver text for a call node.
// For `self.play(...)` the name is "play" and the receiver "self"; for
// `ShowCreation(...)` the name is "ShowCreation" and the receiver empty.
func callTarget(call *sitter.Node, src []byte) (name, recv string) {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return "", ""
	}
	switch fn.Type() {
	case "identifier":
		return pyast.NodeText(fn, src), ""
	case "attribute":
		attr := fn.ChildByFieldName("attribute")
		obj := fn.ChildByFieldName("object")
		return pyast.NodeText(attr, src), pyast.NodeText(obj, src)
	}
	return "", ""
}

func lineOf(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

// isRenameSite reports whether an identifier occurrence is a renameable
// reference (not an attribute tail, kwarg name, definition name, or
// parameter).
func isRenameSite(n *sitter.Node) bool {
	parent := n.Parent()
	if parent == nil {
		return true
	}
	switch parent.Type() {
	case "attribute":
		attr := parent.ChildByFieldName("attribute")
		return attr == nil || attr.StartByte() != n.StartByte()
	case "keyword_argument", "function_definition", "class_definition":
		name := parent.ChildByFieldName("name")
		return name == nil || name.StartByte() != n.StartByte()
	case "parameters", "lambda_parameters", "typed_parameter":
		return false
	case "default_parameter", "typed_default_parameter":
		name := parent.ChildByFieldName("name")
		return name == nil || name.StartByte() != n.StartByte()
	}
	return true
}

// matchRename finds identifier references equal to rule.Match.
func matchRename(rule Rule, root *sitter.Node, src []byte) []siteEdit {
	var sites []siteEdit
	pyast.WalkNamed(root, func(n *sitter.Node) bool {
		if n.Type() != "identifier" || pyast.NodeText(n, src) != rule.Match {
			return true
		}
		if !isRenameSite(n) {
			return true
		}
		sites = append(sites, siteEdit{
			start: n.StartByte(), end: n.EndByte(), repl: rule.Replace,
			line: lineOf(n), before: rule.Match, after: rule.Replace,
		})
		return true
	})
	return sites
}

// matchSignature handles drop_kwarg, rename_kwarg, and unpack_list.
func matchSignature(rule Rule, root *sitter.Node, src []byte) []siteEdit {
	var sites []siteEdit
	pyast.WalkNamed(root, func(n *sitter.Node) bool {
		if n.Type() != "call" {
			return true
		}
		name, _ := callTarget(n, src)
		if name != rule.Match {
			return true
		}
		args := n.ChildByFieldName("arguments")
		if args == nil {
			return true
		}

		switch rule.Mode {
		case ModeDropKwarg, ModeRenameKwarg:
			for i := 0; i < int(args.NamedChildCount()); i++ {
				arg := args.NamedChild(i)
				if arg.Type() != "keyword_argument" {
					continue
				}
				kwName := arg.ChildByFieldName("name")
				if kwName == nil || pyast.NodeText(kwName, src) != rule.Keyword {
					continue
				}
				if rule.Mode == ModeRenameKwarg {
					sites = append(sites, siteEdit{
						start: kwName.StartByte(), end: kwName.EndByte(), repl: rule.Replace,
						line: lineOf(arg), before: rule.Keyword + "=", after: rule.Replace + "=",
					})
				} else {
					start, end := argSpanWithComma(src, arg.StartByte(), arg.EndByte())
					sites = append(sites, siteEdit{
						start: start, end: end, repl: "",
						line: lineOf(arg), before: pyast.NodeText(arg, src), after: "",
					})
				}
			}

		case ModeUnpackList:
			if args.NamedChildCount() == 0 {
				return true
			}
			first := args.NamedChild(0)
			if first.Type() != "list" && first.Type() != "tuple" {
				return true
			}
			sites = append(sites, siteEdit{
				start: first.StartByte(), end: first.StartByte(), repl: "*",
				line: lineOf(first), before: name + "([...])", after: name + "(*[...])",
			})
		}
		return true
	})
	return sites
}

// argSpanWithComma extends a keyword-argument span to swallow its separator
// comma and surrounding spaces, so removal leaves a clean argument list.
func argSpanWithComma(src []byte, start, end uint32) (uint32, uint32) {
	// Prefer the trailing comma.
	i := end
	for i < uint32(len(src)) && (src[i] == ' ' || src[i] == '\t') {
		i++
	}
	if i < uint32(len(src)) && src[i] == ',' {
		i++
		for i < uint32(len(src)) && src[i] == ' ' {
			i++
		}
		return start, i
	}
	// Otherwise the leading comma.
	j := start
	for j > 0 && (src[j-1] == ' ' || src[j-1] == '\t' || src[j-1] == '\n') {
		j--
	}
	if j > 0 && src[j-1] == ',' {
		return j - 1, end
	}
	return start, end
}

// matchGetter converts property access to a method call or back.
func matchGetter(rule Rule, root *sitter.Node, src []byte) []siteEdit {
	var sites []siteEdit
	pyast.WalkNamed(root, func(n *sitter.Node) bool {
		switch rule.Mode {
		case ModeToProperty:
			if n.Type() != "call" {
				return true
			}
			name, recv := callTarget(n, src)
			if name != rule.Match || recv == "" {
				return true
			}
			args := n.ChildByFieldName("arguments")
			if args != nil && args.NamedChildCount() > 0 {
				// A getter with arguments has no property equivalent.
				sites = append(sites, siteEdit{
					line: lineOf(n), before: pyast.NodeText(n, src),
					skipped: true, reason: "getter call has arguments, no property form",
				})
				return true
			}
			sites = append(sites, siteEdit{
				start: n.StartByte(), end: n.EndByte(),
				repl: recv + "." + rule.Replace,
				line: lineOf(n), before: pyast.NodeText(n, src), after: recv + "." + rule.Replace,
			})
			return false // the call subtree is consumed

		case ModeToCall:
			if n.Type() != "attribute" {
				return true
			}
			attr := n.ChildByFieldName("attribute")
			if attr == nil || pyast.NodeText(attr, src) != rule.Match {
				return true
			}
			// Already a call target: X.attr(...) keeps its shape.
			if parent := n.Parent(); parent != nil && parent.Type() == "call" {
				if fn := parent.ChildByFieldName("function"); fn != nil && fn.StartByte() == n.StartByte() {
					return true
				}
			}
			obj := n.ChildByFieldName("object")
			repl := pyast.NodeText(obj, src) + "." + rule.Replace + "()"
			sites = append(sites, siteEdit{
				start: n.StartByte(), end: n.EndByte(), repl: repl,
				line: lineOf(n), before: pyast.NodeText(n, src), after: repl,
			})
			return false
		}
		return true
	})
	return sites
}

// matchContent classifies a literal string argument and selects the target
// construct. Classification is conservative: anything ambiguous takes the
// mixed (most general) target.
func matchContent(rule Rule, root *sitter.Node, src []byte) []siteEdit {
	var sites []siteEdit
	pyast.WalkNamed(root, func(n *sitter.Node) bool {
		if n.Type() != "call" {
			return true
		}
		fn := n.ChildByFieldName("function")
		if fn == nil || fn.Type() != "identifier" || pyast.NodeText(fn, src) != rule.Match {
			return true
		}
		args := n.ChildByFieldName("arguments")
		if args == nil || args.NamedChildCount() == 0 {
			sites = append(sites, siteEdit{
				line: lineOf(n), before: pyast.NodeText(n, src),
				skipped: true, reason: "no literal argument to classify",
			})
			return true
		}
		lit := args.NamedChild(0)
		if lit.Type() != "string" {
			// Dynamic content cannot be classified statically; take the
			// most permissive construct.
			sites = append(sites, siteEdit{
				start: fn.StartByte(), end: fn.EndByte(), repl: rule.Targets.Mixed,
				line: lineOf(n), before: rule.Match, after: rule.Targets.Mixed,
			})
			return true
		}

		raw := pyast.NodeText(lit, src)
		quote, inner, ok := splitStringLiteral(raw)
		if !ok {
			sites = append(sites, siteEdit{
				line: lineOf(n), before: raw,
				skipped: true, reason: "unrecognized string literal shape",
			})
			return true
		}

		switch classifyContent(inner) {
		case contentPure:
			target := rule.Targets.Pure
			if target == "" {
				target = rule.Targets.Mixed
			}
			sites = append(sites, siteEdit{
				start: fn.StartByte(), end: fn.EndByte(), repl: target,
				line: lineOf(n), before: rule.Match, after: target,
			})
			// Pure markup sheds its delimiters: "$x^2$" -> "x^2".
			stripped := quote + strings.TrimSuffix(strings.TrimPrefix(inner, "$"), "$") + quote
			sites = append(sites, siteEdit{
				start: lit.StartByte(), end: lit.EndByte(), repl: stripped,
				line: lineOf(lit), before: raw, after: stripped,
			})
		case contentPlain:
			target := rule.Targets.Plain
			if target == "" {
				target = rule.Targets.Mixed
			}
			sites = append(sites, siteEdit{
				start: fn.StartByte(), end: fn.EndByte(), repl: target,
				line: lineOf(n), before: rule.Match, after: target,
			})
		default:
			sites = append(sites, siteEdit{
				start: fn.StartByte(), end: fn.EndByte(), repl: rule.Targets.Mixed,
				line: lineOf(n), before: rule.Match, after: rule.Targets.Mixed,
			})
		}
		return true
	})
	return sites
}

type contentClass int

const (
	contentPlain contentClass = iota
	contentPure
	contentMixed
)

// classifyContent decides whether a literal is pure markup, plain prose, or
// mixed. Odd delimiter counts are ambiguous and classify as mixed.
func classifyContent(s string) contentClass {
	count := strings.Count(s, "$")
	if count == 0 {
		return contentPlain
	}
	if count == 2 && strings.HasPrefix(s, "$") && strings.HasSuffix(s, "$") && len(s) > 2 {
		return contentPure
	}
	return contentMixed
}

// splitStringLiteral separates the quote prefix from the content. Returns
// ok=false for f-strings and other prefixed forms the rewriter does not
// reshape.
func splitStringLiteral(raw string) (quote, inner string, ok bool) {
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(raw, q) && strings.HasSuffix(raw, q) && len(raw) >= 2*len(q) {
			return q, raw[len(q) : len(raw)-len(q)], true
		}
	}
	return "", "", false
}

// matchDelete removes whole statements that call a symbol with no target
// equivalent, leaving no residue.
func matchDelete(rule Rule, root *sitter.Node, src []byte) []siteEdit {
	var sites []siteEdit
	pyast.WalkNamed(root, func(n *sitter.Node) bool {
		if n.Type() != "expression_statement" || n.NamedChildCount() != 1 {
			return true
		}
		call := n.NamedChild(0)
		if call.Type() != "call" {
			return true
		}
		name, _ := callTarget(call, src)
		if name != rule.Match {
			return true
		}

		start, end, clean := statementLineSpan(src, n)
		if !clean {
			sites = append(sites, siteEdit{
				line: lineOf(n), before: pyast.NodeText(n, src),
				skipped: true, reason: "statement shares a line, not removed",
			})
			return false
		}
		sites = append(sites, siteEdit{
			start: start, end: end, repl: "",
			line: lineOf(n), before: pyast.NodeText(n, src), after: "",
		})
		return false
	})
	return sites
}

// statementLineSpan expands a statement to its full line range including the
// trailing newline. clean is false when other code shares the line.
func statementLineSpan(src []byte, n *sitter.Node) (start, end uint32, clean bool) {
	start = n.StartByte()
	for start > 0 && src[start-1] != '\n' {
		if src[start-1] != ' ' && src[start-1] != '\t' {
			return 0, 0, false
		}
		start--
	}
	end = n.EndByte()
	for end < uint32(len(src)) && src[end] != '\n' {
		if src[end] != ' ' && src[end] != '\t' && src[end] != '\r' {
			return 0, 0, false
		}
		end++
	}
	if end < uint32(len(src)) {
		end++ // swallow the newline
	}
	return start, end, true
}

// matchCompanion inserts a mandatory follow-up statement after a matched
// call. Insertion is idempotent: an already-present companion suppresses
// the site.
func matchCompanion(rule Rule, root *sitter.Node, src []byte) []siteEdit {
	var sites []siteEdit
	pyast.WalkNamed(root, func(n *sitter.Node) bool {
		if n.Type() != "expression_statement" {
			return true
		}
		var matched *sitter.Node
		var recv, arg0 string
		pyast.WalkNamed(n, func(c *sitter.Node) bool {
			if matched != nil {
				return false
			}
			if c.Type() != "call" {
				return true
			}
			name, r := callTarget(c, src)
			if name != rule.Match {
				return true
			}
			matched = c
			recv = r
			if args := c.ChildByFieldName("arguments"); args != nil && args.NamedChildCount() > 0 {
				arg0 = pyast.NodeText(args.NamedChild(0), src)
			}
			return false
		})
		if matched == nil {
			return true
		}

		companion := strings.ReplaceAll(rule.Companion, "{recv}", recv)
		companion = strings.ReplaceAll(companion, "{arg0}", arg0)

		indent := lineIndent(src, n.StartByte())
		insertAt := endOfLine(src, n.EndByte())
		if nextLineIs(src, insertAt, indent+companion) {
			return false // companion already present
		}
		sites = append(sites, siteEdit{
			start: insertAt, end: insertAt,
			repl: "\n" + indent + companion,
			line: lineOf(n), before: pyast.NodeText(n, src), after: companion,
		})
		return false
	})
	return sites
}

func lineIndent(src []byte, pos uint32) string {
	start := pos
	for start > 0 && src[start-1] != '\n' {
		start--
	}
	end := start
	for end < uint32(len(src)) && (src[end] == ' ' || src[end] == '\t') {
		end++
	}
	return string(src[start:end])
}

func endOfLine(src []byte, pos uint32) uint32 {
	for pos < uint32(len(src)) && src[pos] != '\n' {
		pos++
	}
	return pos
}

func nextLineIs(src []byte, eol uint32, want string) bool {
	if eol >= uint32(len(src)) {
		return false
	}
	start := eol + 1
	end := endOfLine(src, start)
	return strings.TrimRight(string(src[start:end]), " \t\r") == strings.TrimRight(want, " \t")
}
