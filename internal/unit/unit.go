// Package unit defines the translation unit model: lifecycle states,
// validation findings, fix attempts, and unfixability verdicts. Units move
// strictly forward through the lifecycle and are immutable once terminal.
package unit

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a lifecycle stage of a translation unit.
type State string

const (
	StateDraft               State = "draft"
	StateRuleRewritten       State = "rule_rewritten"
	StateStaticallyValidated State = "statically_validated"
	StateExecutionValidated  State = "execution_validated"
	StateAccepted            State = "accepted"
	StateRejected            State = "rejected"
)

// stateOrder defines the forward progression. Rejected is reachable from any
// non-terminal state.
var stateOrder = map[State]int{
	StateDraft:               0,
	StateRuleRewritten:       1,
	StateStaticallyValidated: 2,
	StateExecutionValidated:  3,
	StateAccepted:            4,
}

// Dialect tags the API surface a unit is written against.
type Dialect string

const (
	DialectGL Dialect = "manimgl"
	DialectCE Dialect = "manimce"
)

// Unit is one source scene being converted.
type Unit struct {
	mu sync.Mutex

	ID      string
	Name    string
	Source  string // original dialect-A text, never mutated
	Text    string // current working text
	Dialect Dialect
	State   State

	RejectReason string

	Findings  []Finding
	Attempts  []Attempt
	RuleIDs   []string // applied rule IDs, in application order
	Verdict   *Verdict // highest-tier verdict recorded so far
	CreatedAt time.Time
}

// New creates a Draft unit from corpus source text.
func New(name, source string) *Unit {
	return &Unit{
		ID:        uuid.NewString(),
		Name:      name,
		Source:    source,
		Text:      source,
		Dialect:   DialectGL,
		State:     StateDraft,
		CreatedAt: time.Now(),
	}
}

// Terminal reports whether the unit reached Accepted or Rejected.
func (u *Unit) Terminal() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.State == StateAccepted || u.State == StateRejected
}

// Advance moves the unit to the next lifecycle state. Backward transitions
// and any transition out of a terminal state are errors.
func (u *Unit) Advance(next State) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.State == StateAccepted || u.State == StateRejected {
		return fmt.Errorf("unit %s is terminal (%s), cannot advance to %s", u.Name, u.State, next)
	}
	if next == StateRejected {
		return fmt.Errorf("use Reject to record a rejection reason")
	}
	cur, ok := stateOrder[u.State]
	if !ok {
		return fmt.Errorf("unit %s in unknown state %q", u.Name, u.State)
	}
	nxt, ok := stateOrder[next]
	if !ok {
		return fmt.Errorf("unknown target state %q", next)
	}
	if nxt <= cur {
		return fmt.Errorf("unit %s: backward transition %s -> %s", u.Name, u.State, next)
	}
	u.State = next
	return nil
}

// Reject terminates the unit with a reason. Rejecting an already-terminal
// unit is an error; the provenance trail must stay immutable.
func (u *Unit) Reject(reason string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.State == StateAccepted || u.State == StateRejected {
		return fmt.Errorf("unit %s is terminal (%s), cannot reject", u.Name, u.State)
	}
	u.State = StateRejected
	u.RejectReason = reason
	return nil
}

// SetText replaces the working text. Rejected for terminal units.
func (u *Unit) SetText(text string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.State == StateAccepted || u.State == StateRejected {
		return fmt.Errorf("unit %s is terminal (%s), text is frozen", u.Name, u.State)
	}
	u.Text = text
	return nil
}

// RecordVerdict stores a verdict, keeping only the highest tier seen.
// A Definite verdict is permanent and can never be downgraded.
func (u *Unit) RecordVerdict(v Verdict) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.Verdict != nil && u.Verdict.Tier.Rank() >= v.Tier.Rank() {
		return
	}
	u.Verdict = &v
}

// DefiniteVerdict reports whether a Definite verdict has been recorded.
func (u *Unit) DefiniteVerdict() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.Verdict != nil && u.Verdict.Tier == TierDefinite
}

// AddFinding appends a validation finding.
func (u *Unit) AddFinding(f Finding) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Findings = append(u.Findings, f)
}

// ClearFindings drops findings from a superseded validation round.
func (u *Unit) ClearFindings() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Findings = nil
}

// AddAttempt appends a fix attempt to the provenance trail.
func (u *Unit) AddAttempt(a Attempt) {
	u.mu.Lock()
	defer u.mu.Unlock()
	a.Seq = len(u.Attempts) + 1
	u.Attempts = append(u.Attempts, a)
}

// AddRuleID records an applied rewrite rule.
func (u *Unit) AddRuleID(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.RuleIDs = append(u.RuleIDs, id)
}

// Snapshot returns a copy of the mutable report fields for external readers.
func (u *Unit) Snapshot() Report {
	u.mu.Lock()
	defer u.mu.Unlock()

	r := Report{
		UnitID:       u.ID,
		Name:         u.Name,
		Status:       u.State,
		RejectReason: u.RejectReason,
		Findings:     append([]Finding(nil), u.Findings...),
		Attempts:     append([]Attempt(nil), u.Attempts...),
		AppliedRules: append([]string(nil), u.RuleIDs...),
	}
	if u.State == StateAccepted {
		r.FinalText = u.Text
	}
	return r
}

// Report is the per-unit structured output consumed by external reporting.
type Report struct {
	UnitID       string    `json:"unit_id"`
	Name         string    `json:"name"`
	Status       State     `json:"status"`
	RejectReason string    `json:"reject_reason,omitempty"`
	FinalText    string    `json:"final_text,omitempty"`
	Findings     []Finding `json:"findings"`
	Attempts     []Attempt `json:"attempts"`
	AppliedRules []string  `json:"applied_rule_ids"`
}
