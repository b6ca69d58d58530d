package rewrite

import (
	"context"
	"fmt"
	"sort"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"sceneport/internal/logging"
	"sceneport/internal/pyast"
)

// Application is one per-site entry in the rewrite log: either an applied
// edit or a matched-but-skipped site.
type Application struct {
	RuleID   string   `json:"rule_id"`
	Category Category `json:"category"`
	Line     int      `json:"line"`
	Before   string   `json:"before,omitempty"`
	After    string   `json:"after,omitempty"`
	Skipped  bool     `json:"skipped"`
	Reason   string   `json:"reason,omitempty"`
}

// siteEdit is a byte-range replacement plus its log entry.
type siteEdit struct {
	start, end uint32
	repl       string
	line       int
	before     string
	after      string
	skipped    bool
	reason     string
}

// Engine applies the rule catalog over bounded fixpoint passes. Early rules
// (import normalization, renames) can unlock matches for later ones, so a
// single pass is not enough; the pass cap prevents oscillation.
type Engine struct {
	mu        sync.RWMutex
	catalog   *Catalog
	maxPasses int
}

// NewEngine creates an Engine. maxPasses < 1 falls back to 4.
func NewEngine(catalog *Catalog, maxPasses int) *Engine {
	if maxPasses < 1 {
		maxPasses = 4
	}
	return &Engine{catalog: catalog, maxPasses: maxPasses}
}

// SetCatalog swaps the rule catalog (hot reload).
func (e *Engine) SetCatalog(c *Catalog) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.catalog = c
}

func (e *Engine) rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.catalog.Rules
}

// Rewrite converts text from dialect A toward dialect B. Returns the
// candidate text and the structured per-site application log. Text with no
// matching sites is returned byte-identical.
func (e *Engine) Rewrite(ctx context.Context, text string) (string, []Application, error) {
	if !pyast.Parses(ctx, []byte(text)) {
		return text, nil, fmt.Errorf("input does not parse, refusing to rewrite")
	}

	var log []Application
	current := text

	for pass := 0; pass < e.maxPasses; pass++ {
		changed := false
		for _, rule := range e.rules() {
			next, apps, err := e.applyRule(ctx, rule, current)
			if err != nil {
				return current, log, err
			}
			log = append(log, apps...)
			if next != current {
				changed = true
				current = next
			}
		}
		if !changed {
			break
		}
		logging.RewriteDebug("pass %d complete, text changed", pass+1)
	}
	return current, log, nil
}

// applyRule computes this rule's sites against the current tree and applies
// the safe ones. If the edited text no longer parses the whole application
// is rolled back and every site is logged as skipped.
func (e *Engine) applyRule(ctx context.Context, rule Rule, text string) (string, []Application, error) {
	src := []byte(text)
	tree, err := pyast.Parse(ctx, src)
	if err != nil {
		return text, nil, err
	}
	defer tree.Close()

	sites := matchRule(rule, tree.RootNode(), src)
	if len(sites) == 0 {
		return text, nil, nil
	}

	var apps []Application
	var edits []siteEdit
	for _, s := range sites {
		if s.skipped {
			apps = append(apps, Application{
				RuleID: rule.ID, Category: rule.Category, Line: s.line,
				Before: s.before, Skipped: true, Reason: s.reason,
			})
			continue
		}
		edits = append(edits, s)
	}
	if len(edits) == 0 {
		return text, apps, nil
	}

	next, applied, dropped := applyEdits(src, edits)
	for _, s := range dropped {
		apps = append(apps, Application{
			RuleID: rule.ID, Category: rule.Category, Line: s.line,
			Before: s.before, Skipped: true, Reason: "overlaps an earlier edit",
		})
	}

	// Safety gate: a rule application must never leave unparseable text.
	if !pyast.Parses(ctx, []byte(next)) {
		logging.Get(logging.CategoryRewrite).Warn("rule %s rolled back: edit breaks parse", rule.ID)
		for _, s := range applied {
			apps = append(apps, Application{
				RuleID: rule.ID, Category: rule.Category, Line: s.line,
				Before: s.before, Skipped: true, Reason: "edit would break parse, rolled back",
			})
		}
		return text, apps, nil
	}

	for _, s := range applied {
		apps = append(apps, Application{
			RuleID: rule.ID, Category: rule.Category, Line: s.line,
			Before: s.before, After: s.after,
		})
	}
	return next, apps, nil
}

// applyEdits applies non-overlapping edits back-to-front. Overlapping edits
// are dropped (first match wins).
func applyEdits(src []byte, edits []siteEdit) (string, []siteEdit, []siteEdit) {
	sort.Slice(edits, func(i, j int) bool { return edits[i].start < edits[j].start })

	var kept, dropped []siteEdit
	var lastEnd uint32
	for _, e := range edits {
		if len(kept) > 0 && e.start < lastEnd {
			dropped = append(dropped, e)
			continue
		}
		kept = append(kept, e)
		lastEnd = e.end
	}

	out := make([]byte, 0, len(src))
	var pos uint32
	for _, e := range kept {
		out = append(out, src[pos:e.start]...)
		out = append(out, e.repl...)
		pos = e.end
	}
	out = append(out, src[pos:]...)
	return string(out), kept, dropped
}

// matchRule dispatches to the category matcher.
func matchRule(rule Rule, root *sitter.Node, src []byte) []siteEdit {
	switch rule.Category {
	case CategoryRename:
		return matchRename(rule, root, src)
	case CategoryStructural:
		return matchStructural(rule, root, src)
	case CategorySignature:
		return matchSignature(rule, root, src)
	case CategoryGetter:
		return matchGetter(rule, root, src)
	case CategoryContent:
		return matchContent(rule, root, src)
	case CategoryDelete:
		return matchDelete(rule, root, src)
	case CategoryCompanion:
		return matchCompanion(rule, root, src)
	}
	return nil
}

// AppliedRuleIDs extracts the distinct applied (non-skipped) rule IDs from a
// rewrite log, in first-application order.
func AppliedRuleIDs(log []Application) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, a := range log {
		if a.Skipped || seen[a.RuleID] {
			continue
		}
		seen[a.RuleID] = true
		ids = append(ids, a.RuleID)
	}
	return ids
}
