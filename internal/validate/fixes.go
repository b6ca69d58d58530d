package validate

import (
	"context"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"sceneport/internal/logging"
	"sceneport/internal/pyast"
	"sceneport/internal/rewrite"
)

// applyFixes runs the registered fix for each signature ID against the text.
// A fix whose output fails to parse is rolled back; fix failures never fail
// the validation run, they just leave the finding in place.
func (v *Validator) applyFixes(ctx context.Context, text string, ids []string) (string, []string, error) {
	log := logging.Get(logging.CategoryValidate)
	current := text
	var fixed []string

	for _, id := range ids {
		sig := v.signature(id)
		if sig == nil || sig.Fix == nil {
			continue
		}
		next, changed, err := applyFix(ctx, current, sig.Fix)
		if err != nil {
			log.Warn("fix %s failed: %v", id, err)
			continue
		}
		if !changed {
			continue
		}
		if !pyast.Parses(ctx, []byte(next)) {
			log.Warn("fix %s rolled back: result does not parse", id)
			continue
		}
		current = next
		fixed = append(fixed, id)
	}
	return current, fixed, nil
}

func (v *Validator) signature(id string) *Signature {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for i := range v.catalog.Signatures {
		if v.catalog.Signatures[i].ID == id {
			return &v.catalog.Signatures[i]
		}
	}
	return nil
}

func applyFix(ctx context.Context, text string, fix *FixSpec) (string, bool, error) {
	switch fix.Kind {
	case FixAddImport:
		next := insertImport(text, fix.Import)
		return next, next != text, nil
	case FixRename:
		return renameEverywhere(ctx, text, fix.From, fix.To)
	case FixStripKwarg:
		// The rewriter's drop_kwarg matcher already handles comma placement.
		rule := rewrite.Rule{
			ID:       "fix-strip-" + fix.Keyword,
			Category: rewrite.CategorySignature,
			Mode:     rewrite.ModeDropKwarg,
			Match:    fix.Call,
			Keyword:  fix.Keyword,
		}
		eng := rewrite.NewEngine(&rewrite.Catalog{Rules: []rewrite.Rule{rule}}, 1)
		next, _, err := eng.Rewrite(ctx, text)
		if err != nil {
			return text, false, err
		}
		return next, next != text, nil
	case FixAppendKwarg:
		return appendKwarg(ctx, text, fix.Call, fix.Keyword, fix.Value)
	}
	return text, false, nil
}

// insertImport puts the import line after any shebang, leading comments, and
// module docstring. No-op when the line is already present.
func insertImport(text, importLine string) string {
	if strings.Contains(text, importLine) {
		return text
	}
	lines := strings.Split(text, "\n")
	i := 0
	for i < len(lines) {
		t := strings.TrimSpace(lines[i])
		if t == "" || strings.HasPrefix(t, "#") {
			i++
			continue
		}
		break
	}
	if i < len(lines) {
		t := strings.TrimSpace(lines[i])
		for _, q := range []string{`"""`, "'''"} {
			if !strings.HasPrefix(t, q) {
				continue
			}
			if len(t) >= 6 && strings.HasSuffix(t, q) {
				i++ // one-line docstring
			} else {
				i++
				for i < len(lines) && !strings.Contains(lines[i], q) {
					i++
				}
				if i < len(lines) {
					i++
				}
			}
			break
		}
	}
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:i]...)
	out = append(out, importLine)
	out = append(out, lines[i:]...)
	return strings.Join(out, "\n")
}

// renameEverywhere replaces every identifier occurrence of from, including
// attribute tails, so further-deprecated method names are covered too. The
// rewriter's rename category deliberately skips attribute tails; this fix
// must not.
func renameEverywhere(ctx context.Context, text, from, to string) (string, bool, error) {
	src := []byte(text)
	tree, err := pyast.Parse(ctx, src)
	if err != nil {
		return text, false, err
	}
	defer tree.Close()

	type span struct{ start, end uint32 }
	var spans []span
	pyast.WalkNamed(tree.RootNode(), func(n *sitter.Node) bool {
		if n.Type() == "identifier" && pyast.NodeText(n, src) == from {
			spans = append(spans, span{n.StartByte(), n.EndByte()})
		}
		return true
	})
	if len(spans) == 0 {
		return text, false, nil
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start > spans[j].start })
	out := []byte(text)
	for _, s := range spans {
		out = append(out[:s.start], append([]byte(to), out[s.end:]...)...)
	}
	return string(out), true, nil
}

// callsMissingKwarg returns the 1-based lines of call sites whose target is
// call and whose argument list has no keyword argument named keyword.
func callsMissingKwarg(root *sitter.Node, src []byte, call, keyword string) []int {
	var lines []int
	pyast.WalkNamed(root, func(n *sitter.Node) bool {
		if n.Type() != "call" || fixCallName(n, src) != call {
			return true
		}
		if !hasKwarg(n, src, keyword) {
			lines = append(lines, int(n.StartPoint().Row)+1)
		}
		return true
	})
	return lines
}

// appendKwarg inserts keyword=value into every call site that lacks it.
func appendKwarg(ctx context.Context, text, call, keyword, value string) (string, bool, error) {
	src := []byte(text)
	tree, err := pyast.Parse(ctx, src)
	if err != nil {
		return text, false, err
	}
	defer tree.Close()

	type insertion struct {
		at      uint32
		hasArgs bool
	}
	var inserts []insertion
	pyast.WalkNamed(tree.RootNode(), func(n *sitter.Node) bool {
		if n.Type() != "call" || fixCallName(n, src) != call {
			return true
		}
		args := n.ChildByFieldName("arguments")
		if args == nil || hasKwarg(n, src, keyword) {
			return true
		}
		inserts = append(inserts, insertion{
			at:      args.EndByte() - 1, // before the closing paren
			hasArgs: args.NamedChildCount() > 0,
		})
		return true
	})
	if len(inserts) == 0 {
		return text, false, nil
	}

	sort.Slice(inserts, func(i, j int) bool { return inserts[i].at > inserts[j].at })
	out := []byte(text)
	for _, ins := range inserts {
		frag := keyword + "=" + value
		if ins.hasArgs {
			if trailingComma(out, ins.at) {
				frag = " " + frag
			} else {
				frag = ", " + frag
			}
		}
		out = append(out[:ins.at], append([]byte(frag), out[ins.at:]...)...)
	}
	return string(out), true, nil
}

// trailingComma reports whether the last non-space byte before pos is a comma.
func trailingComma(src []byte, pos uint32) bool {
	for i := int(pos) - 1; i >= 0; i-- {
		switch src[i] {
		case ' ', '\t', '\n':
			continue
		case ',':
			return true
		default:
			return false
		}
	}
	return false
}

// fixCallName extracts the called name: the identifier itself or the
// attribute tail of a method call.
func fixCallName(call *sitter.Node, src []byte) string {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	switch fn.Type() {
	case "identifier":
		return pyast.NodeText(fn, src)
	case "attribute":
		return pyast.NodeText(fn.ChildByFieldName("attribute"), src)
	}
	return ""
}

func hasKwarg(call *sitter.Node, src []byte, keyword string) bool {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return false
	}
	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		if arg.Type() != "keyword_argument" {
			continue
		}
		if pyast.NodeText(arg.ChildByFieldName("name"), src) == keyword {
			return true
		}
	}
	return false
}
