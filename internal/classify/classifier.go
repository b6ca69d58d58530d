// Package classify matches a failing candidate against the unfixable-pattern
// catalog before any repair attempt is spent on it. Tiers are data: the
// engine only enforces tier semantics (definite stops repair outright,
// likely allows a single attempt).
package classify

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"sceneport/internal/logging"
	"sceneport/internal/pyast"
	"sceneport/internal/unit"
)

// Signature targets: which text the pattern runs against.
const (
	TargetText   = "text"   // the candidate source
	TargetError  = "error"  // the latest error output
	TargetEither = "either" // default
)

// Signature is one catalog entry.
type Signature struct {
	ID          string    `yaml:"id"`
	Tier        unit.Tier `yaml:"tier"`
	Category    string    `yaml:"category"`
	Pattern     string    `yaml:"pattern"`
	Target      string    `yaml:"target"`
	Explanation string    `yaml:"explanation"`

	re *regexp.Regexp
}

// Catalog is a versioned unfixable-signature set.
type Catalog struct {
	Version    int         `yaml:"version"`
	Signatures []Signature `yaml:"signatures"`
}

// LoadCatalog reads and compiles a classifier catalog.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read unfixable catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses and compiles catalog bytes.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse unfixable catalog: %w", err)
	}
	ids := make(map[string]bool, len(c.Signatures))
	for i := range c.Signatures {
		sig := &c.Signatures[i]
		if sig.ID == "" {
			return nil, fmt.Errorf("classifier signature missing id")
		}
		if ids[sig.ID] {
			return nil, fmt.Errorf("duplicate classifier signature id %q", sig.ID)
		}
		ids[sig.ID] = true
		if sig.Tier != unit.TierDefinite && sig.Tier != unit.TierLikely {
			return nil, fmt.Errorf("signature %s: tier must be definite or likely, got %q", sig.ID, sig.Tier)
		}
		if sig.Category == "" {
			return nil, fmt.Errorf("signature %s: category required", sig.ID)
		}
		if sig.Pattern == "" {
			return nil, fmt.Errorf("signature %s: pattern required", sig.ID)
		}
		re, err := regexp.Compile(sig.Pattern)
		if err != nil {
			return nil, fmt.Errorf("signature %s: bad pattern: %w", sig.ID, err)
		}
		sig.re = re
		switch sig.Target {
		case "":
			sig.Target = TargetEither
		case TargetText, TargetError, TargetEither:
		default:
			return nil, fmt.Errorf("signature %s: unknown target %q", sig.ID, sig.Target)
		}
	}
	return &c, nil
}

// Input is one classification request.
type Input struct {
	Text      string // current candidate
	ErrorText string // latest validation or runtime error output
	Attempts  int    // repair attempts already spent
}

// Classifier evaluates inputs against the catalog plus the head-lines
// corruption check. Per-signature hit counts are kept so catalog
// false-positive rates are observable from the logs.
type Classifier struct {
	mu        sync.RWMutex
	catalog   *Catalog
	headLines int

	evals int
	hits  map[string]int
}

// New creates a Classifier. headLines < 1 falls back to 3.
func New(catalog *Catalog, headLines int) *Classifier {
	if headLines < 1 {
		headLines = 3
	}
	return &Classifier{catalog: catalog, headLines: headLines, hits: make(map[string]int)}
}

// SetCatalog swaps the signature catalog (hot reload).
func (c *Classifier) SetCatalog(cat *Catalog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catalog = cat
}

// Classify returns the highest-tier verdict the input matches. No match
// yields a potential-tier verdict: normal bounded repair proceeds.
func (c *Classifier) Classify(ctx context.Context, in Input) unit.Verdict {
	c.mu.Lock()
	c.evals++
	c.mu.Unlock()

	best := unit.Verdict{Tier: unit.TierPotential, Category: "none", Explanation: "no unfixable signature matched"}

	// A syntax error inside the unit's first lines means the rewriter
	// corrupted the unit itself, not a deep dependency. No oracle patch
	// recovers that; the rewrite has to be fixed.
	if line := pyast.FirstErrorLine(ctx, []byte(in.Text)); line > 0 && line <= c.headLines {
		c.recordHit("head-corruption")
		return unit.Verdict{
			Tier:        unit.TierDefinite,
			Category:    "rewriter-corruption",
			Explanation: fmt.Sprintf("syntax error at line %d, within the unit head", line),
		}
	}

	c.mu.RLock()
	sigs := c.catalog.Signatures
	c.mu.RUnlock()

	for i := range sigs {
		sig := &sigs[i]
		if !sig.matches(in) {
			continue
		}
		c.recordHit(sig.ID)
		v := unit.Verdict{Tier: sig.Tier, Category: sig.Category, Explanation: sig.Explanation}
		if v.Tier == unit.TierDefinite {
			logging.Classify("definite verdict %s (%s)", sig.ID, sig.Category)
			return v
		}
		if v.Tier.Rank() > best.Tier.Rank() {
			best = v
		}
	}
	return best
}

func (sig *Signature) matches(in Input) bool {
	switch sig.Target {
	case TargetText:
		return sig.re.MatchString(in.Text)
	case TargetError:
		return in.ErrorText != "" && sig.re.MatchString(in.ErrorText)
	default:
		return sig.re.MatchString(in.Text) || (in.ErrorText != "" && sig.re.MatchString(in.ErrorText))
	}
}

func (c *Classifier) recordHit(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits[id]++
}

// Stats returns evaluation count and per-signature hit counts.
func (c *Classifier) Stats() (evals int, hits map[string]int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int, len(c.hits))
	for k, v := range c.hits {
		out[k] = v
	}
	return c.evals, out
}

// LogMatchRates writes the per-signature match rates to the classify log.
func (c *Classifier) LogMatchRates() {
	evals, hits := c.Stats()
	if evals == 0 {
		return
	}
	ids := make([]string, 0, len(hits))
	for id := range hits {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		logging.Classify("signature %s: %d/%d evaluations (%.1f%%)",
			id, hits[id], evals, 100*float64(hits[id])/float64(evals))
	}
}
