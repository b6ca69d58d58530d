package validate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"sceneport/internal/corpus"
	"sceneport/internal/extract"
	"sceneport/internal/logging"
	"sceneport/internal/pyast"
	"sceneport/internal/unit"
)

// Result is one validation run: the (possibly auto-fixed) text, the findings
// that remain, and the signature IDs whose fixes were applied.
type Result struct {
	Text         string
	Findings     []unit.Finding
	AppliedFixes []string
	Passes       int
}

// Clean reports whether no error-severity findings remain.
func (r Result) Clean() bool {
	for _, f := range r.Findings {
		if f.Severity == unit.SeverityError {
			return false
		}
	}
	return true
}

// Validator runs the static chain: parse, symbol resolution, signature
// catalog. Fixable findings are repaired and the chain re-run, bounded by
// maxPasses so a bad fix cannot oscillate.
type Validator struct {
	mu        sync.RWMutex
	table     *SymbolTable
	catalog   *Catalog
	maxPasses int
	builtins  map[string]bool
}

// New creates a Validator. maxPasses < 1 falls back to 3.
func New(table *SymbolTable, catalog *Catalog, maxPasses int) *Validator {
	if maxPasses < 1 {
		maxPasses = 3
	}
	builtins := make(map[string]bool)
	for _, b := range extract.PythonBuiltins() {
		builtins[b] = true
	}
	return &Validator{table: table, catalog: catalog, maxPasses: maxPasses, builtins: builtins}
}

// SetCatalog swaps the signature catalog (hot reload).
func (v *Validator) SetCatalog(c *Catalog) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.catalog = c
}

func (v *Validator) signatures() []Signature {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.catalog.Signatures
}

// Validate checks text. known carries names resolved outside the table, in
// practice the unit's inlined closure symbols.
func (v *Validator) Validate(ctx context.Context, text string, known map[string]bool) (Result, error) {
	current := text
	var applied []string

	for pass := 1; pass <= v.maxPasses; pass++ {
		findings, err := v.check(ctx, current, known)
		if err != nil {
			return Result{Text: current, Passes: pass}, err
		}

		fixable := fixableIDs(findings)
		if len(fixable) == 0 {
			return Result{Text: current, Findings: findings, AppliedFixes: applied, Passes: pass}, nil
		}

		next, fixed, err := v.applyFixes(ctx, current, fixable)
		if err != nil {
			return Result{Text: current, Findings: findings, AppliedFixes: applied, Passes: pass}, err
		}
		if next == current {
			// Registered fixes made no progress; stop rather than loop.
			return Result{Text: current, Findings: findings, AppliedFixes: applied, Passes: pass}, nil
		}
		logging.Validate("pass %d applied fixes: %s", pass, strings.Join(fixed, ", "))
		applied = append(applied, fixed...)
		current = next
	}

	findings, err := v.check(ctx, current, known)
	if err != nil {
		return Result{Text: current, Passes: v.maxPasses}, err
	}
	return Result{Text: current, Findings: findings, AppliedFixes: applied, Passes: v.maxPasses}, nil
}

// check runs the chain once, in order. A failed parse short-circuits: symbol
// and signature results against a broken tree would be noise.
func (v *Validator) check(ctx context.Context, text string, known map[string]bool) ([]unit.Finding, error) {
	src := []byte(text)
	tree, err := pyast.Parse(ctx, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		line := pyast.FirstErrorLine(ctx, src)
		return []unit.Finding{{
			Kind:     unit.FindingSyntaxInvalid,
			Severity: unit.SeverityError,
			Line:     line,
			Message:  fmt.Sprintf("syntax error near line %d", line),
		}}, nil
	}

	var findings []unit.Finding
	findings = append(findings, v.checkSymbols(root, src, known)...)
	findings = append(findings, v.checkSignatures(root, src, text)...)

	sort.SliceStable(findings, func(i, j int) bool { return findings[i].Line < findings[j].Line })
	return findings, nil
}

// checkSymbols resolves every free identifier against the target table, the
// Python builtins, and the caller-supplied known set.
func (v *Validator) checkSymbols(root *sitter.Node, src []byte, known map[string]bool) []unit.Finding {
	var findings []unit.Finding
	for _, ref := range corpus.FreeRefs(root, src) {
		if v.table.Has(ref.Name) || v.builtins[ref.Name] || known[ref.Name] {
			continue
		}
		findings = append(findings, unit.Finding{
			Kind:     unit.FindingUnresolvedSymbol,
			Severity: unit.SeverityError,
			Line:     ref.Line,
			Message:  fmt.Sprintf("symbol %q is not defined in the target dialect, the unit, or its closure", ref.Name),
		})
	}
	return findings
}

// checkSignatures evaluates the catalog against the text.
func (v *Validator) checkSignatures(root *sitter.Node, src []byte, text string) []unit.Finding {
	var findings []unit.Finding
	sigs := v.signatures()
	for i := range sigs {
		sig := &sigs[i]
		if sig.when != nil && !sig.when.MatchString(text) {
			continue
		}

		switch {
		case sig.Fix != nil && sig.Fix.Kind == FixAppendKwarg:
			// Per-site resolution: only calls actually missing the keyword fire.
			for _, line := range callsMissingKwarg(root, src, sig.Fix.Call, sig.Fix.Keyword) {
				findings = append(findings, sigFinding(sig, line))
			}
		case sig.Mode == ModeRequire:
			if !sig.re.MatchString(text) {
				findings = append(findings, sigFinding(sig, 0))
			}
		default:
			for _, loc := range sig.re.FindAllStringIndex(text, -1) {
				findings = append(findings, sigFinding(sig, 1+strings.Count(text[:loc[0]], "\n")))
			}
		}
	}
	return findings
}

func sigFinding(sig *Signature, line int) unit.Finding {
	f := unit.Finding{
		Kind:     sig.Kind,
		Severity: sig.Severity,
		Line:     line,
		Message:  sig.Message,
	}
	if sig.Fix != nil {
		f.FixID = sig.ID
	}
	return f
}

// fixableIDs returns the distinct signature IDs with a registered fix, in
// finding order.
func fixableIDs(findings []unit.Finding) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, f := range findings {
		if f.FixID == "" || seen[f.FixID] {
			continue
		}
		seen[f.FixID] = true
		ids = append(ids, f.FixID)
	}
	return ids
}
