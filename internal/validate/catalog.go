// Package validate runs the static validation chain over a rewritten
// candidate: parse check, symbol resolution against the known-symbol table,
// then the incompatible-usage signature catalog. Findings with a registered
// deterministic fix are repaired in place over a bounded number of passes.
package validate

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"sceneport/internal/unit"
)

// Signature match modes.
const (
	ModeForbid  = "forbid"  // finding when the pattern matches
	ModeRequire = "require" // finding when the pattern is absent
)

// Fix kinds the deterministic auto-fix registry knows how to apply.
const (
	FixAddImport   = "add_import"
	FixRename      = "rename"
	FixStripKwarg  = "strip_kwarg"
	FixAppendKwarg = "append_kwarg"
)

// FixSpec describes the deterministic repair attached to a signature.
type FixSpec struct {
	Kind string `yaml:"kind"`

	Import string `yaml:"import"` // add_import: the import line to insert

	From string `yaml:"from"` // rename: old symbol or method name
	To   string `yaml:"to"`   // rename: replacement

	Call    string `yaml:"call"`    // strip_kwarg/append_kwarg: call target
	Keyword string `yaml:"keyword"` // kwarg name
	Value   string `yaml:"value"`   // append_kwarg: literal default
}

func (f *FixSpec) validate(sigID string) error {
	switch f.Kind {
	case FixAddImport:
		if f.Import == "" {
			return fmt.Errorf("signature %s: add_import needs import", sigID)
		}
	case FixRename:
		if f.From == "" || f.To == "" {
			return fmt.Errorf("signature %s: rename needs from and to", sigID)
		}
	case FixStripKwarg:
		if f.Call == "" || f.Keyword == "" {
			return fmt.Errorf("signature %s: strip_kwarg needs call and keyword", sigID)
		}
	case FixAppendKwarg:
		if f.Call == "" || f.Keyword == "" || f.Value == "" {
			return fmt.Errorf("signature %s: append_kwarg needs call, keyword, value", sigID)
		}
	default:
		return fmt.Errorf("signature %s: unknown fix kind %q", sigID, f.Kind)
	}
	return nil
}

// Signature is one incompatible-usage pattern. Patterns are plain regexes
// over the candidate text; append_kwarg signatures are additionally resolved
// per call site against the tree so already-satisfied calls do not fire.
type Signature struct {
	ID       string           `yaml:"id"`
	Pattern  string           `yaml:"pattern"`
	Mode     string           `yaml:"mode"`     // forbid (default) or require
	When     string           `yaml:"when"`     // optional precondition regex
	Kind     unit.FindingKind `yaml:"kind"`     // default incompatible_api_usage
	Severity unit.Severity    `yaml:"severity"` // default error
	Message  string           `yaml:"message"`
	Fix      *FixSpec         `yaml:"fix"`

	re   *regexp.Regexp
	when *regexp.Regexp
}

// Catalog is a versioned incompatible-usage signature set. Version changes
// are data-only; the engine never hard-codes a signature.
type Catalog struct {
	Version    int         `yaml:"version"`
	Signatures []Signature `yaml:"signatures"`
}

// LoadCatalog reads and compiles a signature catalog.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read incompatibility catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses and compiles catalog bytes.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse incompatibility catalog: %w", err)
	}
	ids := make(map[string]bool, len(c.Signatures))
	for i := range c.Signatures {
		sig := &c.Signatures[i]
		if sig.ID == "" {
			return nil, fmt.Errorf("signature missing id")
		}
		if ids[sig.ID] {
			return nil, fmt.Errorf("duplicate signature id %q", sig.ID)
		}
		ids[sig.ID] = true

		if sig.Mode == "" {
			sig.Mode = ModeForbid
		}
		if sig.Mode != ModeForbid && sig.Mode != ModeRequire {
			return nil, fmt.Errorf("signature %s: unknown mode %q", sig.ID, sig.Mode)
		}
		if sig.Kind == "" {
			sig.Kind = unit.FindingIncompatibleAPIUsage
		}
		if sig.Severity == "" {
			sig.Severity = unit.SeverityError
		}
		if sig.Pattern == "" && (sig.Fix == nil || sig.Fix.Kind != FixAppendKwarg) {
			return nil, fmt.Errorf("signature %s: pattern required", sig.ID)
		}
		if sig.Pattern != "" {
			re, err := regexp.Compile(sig.Pattern)
			if err != nil {
				return nil, fmt.Errorf("signature %s: bad pattern: %w", sig.ID, err)
			}
			sig.re = re
		}
		if sig.When != "" {
			re, err := regexp.Compile(sig.When)
			if err != nil {
				return nil, fmt.Errorf("signature %s: bad when pattern: %w", sig.ID, err)
			}
			sig.when = re
		}
		if sig.Fix != nil {
			if err := sig.Fix.validate(sig.ID); err != nil {
				return nil, err
			}
		}
	}
	return &c, nil
}

// SymbolTable is the known-symbol list of the target dialect.
type SymbolTable struct {
	known map[string]bool
}

type symbolFile struct {
	Symbols []string `yaml:"symbols"`
}

// LoadSymbolTable reads the yaml symbol list.
func LoadSymbolTable(path string) (*SymbolTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read symbol table %s: %w", path, err)
	}
	var f symbolFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse symbol table: %w", err)
	}
	return NewSymbolTable(f.Symbols), nil
}

// NewSymbolTable builds a table from a name list.
func NewSymbolTable(names []string) *SymbolTable {
	t := &SymbolTable{known: make(map[string]bool, len(names))}
	for _, n := range names {
		t.known[n] = true
	}
	return t
}

// Has reports whether name is a known target-dialect symbol.
func (t *SymbolTable) Has(name string) bool {
	return t != nil && t.known[name]
}

// Len returns the table size.
func (t *SymbolTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.known)
}

// Names returns the known symbols, sorted.
func (t *SymbolTable) Names() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.known))
	for n := range t.known {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
