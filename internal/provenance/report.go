package provenance

import (
	"fmt"
	"time"

	"sceneport/internal/unit"
)

// UnitReport is the full recorded history of one unit.
type UnitReport struct {
	UnitID         string
	Attempts       []unit.Attempt
	Findings       []unit.Finding
	AppliedRuleIDs []string
	Verdicts       []unit.Verdict
}

// UnitReport assembles the report for a unit ID.
func (s *Store) UnitReport(unitID string) (UnitReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := UnitReport{UnitID: unitID}

	rows, err := s.db.Query(
		`SELECT seq, method, diff, outcome, success, latency_ms, cost_usd
		 FROM attempts WHERE unit_id = ? ORDER BY seq`, unitID)
	if err != nil {
		return r, fmt.Errorf("failed to query attempts: %w", err)
	}
	for rows.Next() {
		var a unit.Attempt
		var method string
		var success, latencyMS int64
		if err := rows.Scan(&a.Seq, &method, &a.Diff, &a.Outcome, &success, &latencyMS, &a.CostUSD); err != nil {
			rows.Close()
			return r, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.Method = unit.Method(method)
		a.Success = success != 0
		a.Latency = time.Duration(latencyMS) * time.Millisecond
		r.Attempts = append(r.Attempts, a)
	}
	rows.Close()

	rows, err = s.db.Query(
		`SELECT kind, severity, line, message, fix_id, exception
		 FROM findings WHERE unit_id = ? ORDER BY id`, unitID)
	if err != nil {
		return r, fmt.Errorf("failed to query findings: %w", err)
	}
	for rows.Next() {
		var f unit.Finding
		var kind, severity string
		if err := rows.Scan(&kind, &severity, &f.Line, &f.Message, &f.FixID, &f.Exception); err != nil {
			rows.Close()
			return r, fmt.Errorf("failed to scan finding: %w", err)
		}
		f.Kind = unit.FindingKind(kind)
		f.Severity = unit.Severity(severity)
		r.Findings = append(r.Findings, f)
	}
	rows.Close()

	rows, err = s.db.Query(
		`SELECT DISTINCT rule_id FROM rule_applications
		 WHERE unit_id = ? AND skipped = 0 ORDER BY id`, unitID)
	if err != nil {
		return r, fmt.Errorf("failed to query rule applications: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return r, fmt.Errorf("failed to scan rule id: %w", err)
		}
		r.AppliedRuleIDs = append(r.AppliedRuleIDs, id)
	}
	rows.Close()

	rows, err = s.db.Query(
		`SELECT tier, category, explanation FROM verdicts WHERE unit_id = ? ORDER BY id`, unitID)
	if err != nil {
		return r, fmt.Errorf("failed to query verdicts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v unit.Verdict
		var tier string
		if err := rows.Scan(&tier, &v.Category, &v.Explanation); err != nil {
			return r, fmt.Errorf("failed to scan verdict: %w", err)
		}
		v.Tier = unit.Tier(tier)
		r.Verdicts = append(r.Verdicts, v)
	}
	return r, nil
}

// Summary aggregates a batch run.
type Summary struct {
	Units              int
	ByState            map[string]int // checkpoint state -> count
	ByCategory         map[string]int // definite verdict category -> count
	Attempts           int
	OracleAttempts     int
	DefiniteVerdicts   int
	OracleCallsAvoided int // definite verdicts x remaining attempt budget
}

// BatchSummary computes outcome counts and the estimated oracle calls the
// classifier saved. maxAttempts is the configured semantic repair cap.
func (s *Store) BatchSummary(maxAttempts int) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		ByState:    make(map[string]int),
		ByCategory: make(map[string]int),
	}

	rows, err := s.db.Query(`SELECT state, COUNT(*) FROM checkpoints GROUP BY state`)
	if err != nil {
		return sum, fmt.Errorf("failed to query checkpoint states: %w", err)
	}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			rows.Close()
			return sum, fmt.Errorf("failed to scan state count: %w", err)
		}
		sum.ByState[state] = n
		sum.Units += n
	}
	rows.Close()

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM attempts`).Scan(&sum.Attempts); err != nil {
		return sum, fmt.Errorf("failed to count attempts: %w", err)
	}
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM attempts WHERE method = ?`, string(unit.MethodOracle),
	).Scan(&sum.OracleAttempts); err != nil {
		return sum, fmt.Errorf("failed to count oracle attempts: %w", err)
	}

	rows, err = s.db.Query(
		`SELECT category, COUNT(DISTINCT unit_id) FROM verdicts WHERE tier = ? GROUP BY category`,
		string(unit.TierDefinite))
	if err != nil {
		return sum, fmt.Errorf("failed to query verdict categories: %w", err)
	}
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			rows.Close()
			return sum, fmt.Errorf("failed to scan category count: %w", err)
		}
		sum.ByCategory[cat] = n
		sum.DefiniteVerdicts += n
	}
	rows.Close()

	// Calls avoided: for every definitely-unfixable unit, the attempts that
	// would otherwise have been spent reaching the cap.
	rows, err = s.db.Query(
		`SELECT v.unit_id,
		        (SELECT COUNT(*) FROM attempts a WHERE a.unit_id = v.unit_id AND a.method = ?)
		 FROM (SELECT DISTINCT unit_id FROM verdicts WHERE tier = ?) v`,
		string(unit.MethodOracle), string(unit.TierDefinite))
	if err != nil {
		return sum, fmt.Errorf("failed to query avoided calls: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var unitID string
		var used int
		if err := rows.Scan(&unitID, &used); err != nil {
			return sum, fmt.Errorf("failed to scan avoided calls: %w", err)
		}
		if remaining := maxAttempts - used; remaining > 0 {
			sum.OracleCallsAvoided += remaining
		}
	}
	return sum, nil
}
