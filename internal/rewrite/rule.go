// Package rewrite applies a catalog of deterministic AST pattern-rewrite
// rules converting ManimGL source to ManimCE. Rules are data loaded from a
// YAML catalog; matching and edit synthesis live here. The rewriter never
// emits text that fails to parse: every rule application is re-parsed and
// rolled back if the tree breaks.
package rewrite

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Category is the kind of transformation a rule performs.
type Category string

const (
	CategoryRename     Category = "rename"           // 1:1 symbol rename
	CategoryStructural Category = "structural"       // CONFIG dict -> explicit constructor
	CategorySignature  Category = "signature-change" // kwarg drop/rename, list -> variadic unpack
	CategoryGetter     Category = "getter-call"      // property access <-> method call
	CategoryContent    Category = "content-select"   // literal content decides target construct
	CategoryDelete     Category = "delete"           // strip calls with no target equivalent
	CategoryCompanion  Category = "companion-insert" // synthesize mandatory follow-up statement
)

// Signature-change modes.
const (
	ModeDropKwarg   = "drop_kwarg"
	ModeRenameKwarg = "rename_kwarg"
	ModeUnpackList  = "unpack_list"
)

// Getter-call modes.
const (
	ModeToProperty = "to_property"
	ModeToCall     = "to_call"
)

// ContentTargets selects the construct per literal classification.
// Ambiguous/mixed content must default to the most general construct.
type ContentTargets struct {
	Pure  string `yaml:"pure"`  // pure markup, e.g. MathTex
	Mixed string `yaml:"mixed"` // markup mixed with prose, e.g. Tex
	Plain string `yaml:"plain"` // no markup at all, e.g. Text
}

// Rule is one deterministic rewrite. Which fields apply depends on Category.
type Rule struct {
	ID       string   `yaml:"id"`
	Category Category `yaml:"category"`
	Priority int      `yaml:"priority"` // higher runs earlier

	Match   string `yaml:"match"`   // symbol / call target / kwarg owner
	Replace string `yaml:"replace"` // rename target, property name, kwarg rename
	Keyword string `yaml:"keyword"` // kwarg name for signature rules
	Mode    string `yaml:"mode"`    // category-specific behavior switch

	// Companion is the statement template inserted after a matched call.
	// Placeholders: {recv} receiver text, {arg0} first argument text.
	Companion string `yaml:"companion"`

	Targets ContentTargets `yaml:"targets"`

	// SuperParams maps a base-class name to the constructor keywords it
	// accepts; CONFIG keys found here become forwarded ctor parameters,
	// everything else becomes a plain class attribute. This is the explicit
	// dialect-A -> dialect-B variant table: consulted directly, no runtime
	// type inspection.
	SuperParams map[string][]string `yaml:"super_params"`
}

// Validate checks that the rule carries the fields its category needs.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule missing id")
	}
	switch r.Category {
	case CategoryRename:
		if r.Match == "" || r.Replace == "" {
			return fmt.Errorf("rule %s: rename needs match and replace", r.ID)
		}
	case CategoryStructural:
		if len(r.SuperParams) == 0 {
			return fmt.Errorf("rule %s: structural needs super_params", r.ID)
		}
	case CategorySignature:
		switch r.Mode {
		case ModeDropKwarg:
			if r.Match == "" || r.Keyword == "" {
				return fmt.Errorf("rule %s: drop_kwarg needs match and keyword", r.ID)
			}
		case ModeRenameKwarg:
			if r.Match == "" || r.Keyword == "" || r.Replace == "" {
				return fmt.Errorf("rule %s: rename_kwarg needs match, keyword, replace", r.ID)
			}
		case ModeUnpackList:
			if r.Match == "" {
				return fmt.Errorf("rule %s: unpack_list needs match", r.ID)
			}
		default:
			return fmt.Errorf("rule %s: unknown signature mode %q", r.ID, r.Mode)
		}
	case CategoryGetter:
		if r.Mode != ModeToProperty && r.Mode != ModeToCall {
			return fmt.Errorf("rule %s: getter-call needs mode to_property or to_call", r.ID)
		}
		if r.Match == "" || r.Replace == "" {
			return fmt.Errorf("rule %s: getter-call needs match and replace", r.ID)
		}
	case CategoryContent:
		if r.Match == "" || r.Targets.Mixed == "" {
			return fmt.Errorf("rule %s: content-select needs match and targets.mixed", r.ID)
		}
	case CategoryDelete:
		if r.Match == "" {
			return fmt.Errorf("rule %s: delete needs match", r.ID)
		}
	case CategoryCompanion:
		if r.Match == "" || r.Companion == "" {
			return fmt.Errorf("rule %s: companion-insert needs match and companion", r.ID)
		}
	default:
		return fmt.Errorf("rule %s: unknown category %q", r.ID, r.Category)
	}
	return nil
}

// Catalog is an ordered rule set.
type Catalog struct {
	Rules []Rule `yaml:"rules"`
}

// LoadCatalog reads and validates a YAML rule catalog. Rules are returned
// sorted by priority (descending), stable on catalog order.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses catalog bytes.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse rule catalog: %w", err)
	}
	ids := make(map[string]bool, len(c.Rules))
	for i := range c.Rules {
		if err := c.Rules[i].Validate(); err != nil {
			return nil, err
		}
		if ids[c.Rules[i].ID] {
			return nil, fmt.Errorf("duplicate rule id %q", c.Rules[i].ID)
		}
		ids[c.Rules[i].ID] = true
	}
	sort.SliceStable(c.Rules, func(i, j int) bool {
		return c.Rules[i].Priority > c.Rules[j].Priority
	})
	return &c, nil
}
