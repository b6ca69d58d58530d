package unit

import "time"

// FindingKind classifies a validation failure.
type FindingKind string

const (
	FindingSyntaxInvalid        FindingKind = "syntax_invalid"
	FindingUnresolvedSymbol     FindingKind = "unresolved_symbol"
	FindingIncompatibleAPIUsage FindingKind = "incompatible_api_usage"
	FindingRuntimeFailure       FindingKind = "runtime_failure"
)

// Severity ranks findings for reporting.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is one validation result tied to a location in the unit text.
type Finding struct {
	Kind     FindingKind `json:"kind"`
	Severity Severity    `json:"severity"`
	Line     int         `json:"line"` // 1-based; 0 when unknown
	Col      int         `json:"col"`
	Message  string      `json:"message"`
	FixID    string      `json:"fix_id,omitempty"` // registered deterministic auto-fix
	// Exception holds the runtime exception type for RuntimeFailure findings.
	Exception string `json:"exception,omitempty"`
}

// Method identifies how a fix attempt was produced.
type Method string

const (
	MethodRuleBased     Method = "rule-based"
	MethodStaticAutoFix Method = "static-auto-fix"
	MethodOracle        Method = "external-oracle"
)

// Attempt is one entry in a unit's repair history.
type Attempt struct {
	Seq     int           `json:"seq"`
	Method  Method        `json:"method"`
	Diff    string        `json:"diff"` // unified diff of the applied change
	Outcome string        `json:"outcome"`
	Success bool          `json:"success"`
	Latency time.Duration `json:"latency"`
	CostUSD float64       `json:"cost_usd,omitempty"`
}

// Tier is the confidence level of an unfixability verdict.
type Tier string

const (
	TierDefinite  Tier = "definite"
	TierLikely    Tier = "likely"
	TierPotential Tier = "potential"
)

// Rank orders tiers for monotonic verdict upgrades.
func (t Tier) Rank() int {
	switch t {
	case TierDefinite:
		return 2
	case TierLikely:
		return 1
	default:
		return 0
	}
}

// Verdict is the classifier's judgment on whether repair is worth attempting.
type Verdict struct {
	Tier        Tier   `json:"tier"`
	Category    string `json:"category"`
	Explanation string `json:"explanation"`
}
