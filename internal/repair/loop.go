// Package repair drives the bounded oracle repair loop for units that fail
// static or execution validation. The classifier is consulted before every
// attempt and can veto the loop outright; every attempt is recorded to
// provenance whether or not it helps.
package repair

import (
	"context"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"sceneport/internal/classify"
	"sceneport/internal/execval"
	"sceneport/internal/logging"
	"sceneport/internal/oracle"
	"sceneport/internal/provenance"
	"sceneport/internal/unit"
	"sceneport/internal/validate"
)

// Input carries the failure the loop starts from plus the context the
// oracle needs.
type Input struct {
	ErrorText         string          // output of the failed validation
	Known             map[string]bool // closure symbols for re-validation
	DependencyContext string          // closure excerpt shown to the oracle
}

// Loop is the bounded repair driver.
type Loop struct {
	oracle      oracle.Client
	classifier  *classify.Classifier
	validator   *validate.Validator
	runner      *execval.Runner
	store       *provenance.Store
	maxAttempts int
}

// New builds a Loop. store may be nil (tests); maxAttempts < 1 falls back
// to 3.
func New(o oracle.Client, c *classify.Classifier, v *validate.Validator, r *execval.Runner, s *provenance.Store, maxAttempts int) *Loop {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &Loop{oracle: o, classifier: c, validator: v, runner: r, store: s, maxAttempts: maxAttempts}
}

// Run repairs the unit until it is accepted, vetoed, or out of budget. The
// unit is terminal when Run returns nil; a non-nil error means the loop
// itself failed (oracle transport, interpreter missing) and the unit is
// left non-terminal for a later retry.
func (l *Loop) Run(ctx context.Context, u *unit.Unit, in Input) error {
	errorText := in.ErrorText
	var priorDiffs []string
	likelySpent := false

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		verdict := l.classifier.Classify(ctx, classify.Input{
			Text:      u.Text,
			ErrorText: errorText,
			Attempts:  attempt - 1,
		})
		u.RecordVerdict(verdict)
		l.recordVerdict(u.ID, verdict)

		switch verdict.Tier {
		case unit.TierDefinite:
			logging.Pipeline("%s: definite verdict (%s), repair vetoed", u.Name, verdict.Category)
			return u.Reject(fmt.Sprintf("unfixable (%s): %s", verdict.Category, verdict.Explanation))
		case unit.TierLikely:
			if likelySpent {
				logging.Pipeline("%s: likely-unfixable attempt spent, stopping", u.Name)
				return u.Reject(fmt.Sprintf("likely unfixable (%s) after one attempt: %s", verdict.Category, firstLine(errorText)))
			}
			likelySpent = true
		}

		resp, err := l.oracle.Repair(ctx, oracle.Request{
			UnitName:          u.Name,
			Candidate:         u.Text,
			ErrorText:         errorText,
			DependencyContext: in.DependencyContext,
			PriorDiffs:        priorDiffs,
			Attempt:           attempt,
		})
		if err != nil {
			l.recordAttempt(u, unit.Attempt{
				Method:  unit.MethodOracle,
				Outcome: "oracle error: " + firstLine(err.Error()),
			})
			return fmt.Errorf("oracle attempt %d failed: %w", attempt, err)
		}

		diff := lineDiff(u.Text, resp.ProposedText)
		if err := u.SetText(resp.ProposedText); err != nil {
			return err
		}

		outcome, success, nextError, err := l.revalidate(ctx, u, in.Known)
		if err != nil {
			return err
		}
		l.recordAttempt(u, unit.Attempt{
			Method:  unit.MethodOracle,
			Diff:    diff,
			Outcome: outcome,
			Success: success,
			Latency: resp.Latency,
			CostUSD: resp.CostUSD,
		})

		if success {
			if err := u.Advance(unit.StateExecutionValidated); err != nil {
				return err
			}
			return u.Advance(unit.StateAccepted)
		}
		priorDiffs = append(priorDiffs, diff)
		errorText = nextError
		logging.Pipeline("%s: repair attempt %d failed: %s", u.Name, attempt, firstLine(errorText))
	}

	return u.Reject(fmt.Sprintf("repair budget exhausted after %d attempts: %s", l.maxAttempts, firstLine(errorText)))
}

// revalidate runs the patched candidate through static then execution
// validation. A patch is never accepted unvalidated.
func (l *Loop) revalidate(ctx context.Context, u *unit.Unit, known map[string]bool) (outcome string, success bool, nextError string, err error) {
	res, err := l.validator.Validate(ctx, u.Text, known)
	if err != nil {
		return "", false, "", err
	}
	if res.Text != u.Text {
		// Deterministic fixes piggyback on the oracle patch.
		if err := u.SetText(res.Text); err != nil {
			return "", false, "", err
		}
	}
	u.ClearFindings()
	for _, f := range res.Findings {
		u.AddFinding(f)
	}
	l.recordFindings(u.ID, "repair-static", res.Findings)

	if !res.Clean() {
		msg := findingsSummary(res.Findings)
		return "static validation failed: " + firstLine(msg), false, msg, nil
	}

	run, err := l.runner.Submit(ctx, u.Name, u.Text)
	if err != nil {
		return "", false, "", err
	}
	if run.Outcome == execval.OutcomeSuccess {
		u.ClearFindings()
		return "accepted", true, "", nil
	}

	f := run.Finding()
	u.AddFinding(*f)
	l.recordFindings(u.ID, "repair-exec", []unit.Finding{*f})
	return "execution failed: " + firstLine(f.Message), false, run.Output, nil
}

func (l *Loop) recordAttempt(u *unit.Unit, a unit.Attempt) {
	u.AddAttempt(a)
	if l.store == nil {
		return
	}
	snap := u.Snapshot()
	if err := l.store.RecordAttempt(u.ID, snap.Attempts[len(snap.Attempts)-1]); err != nil {
		logging.Provenance("failed to record attempt for %s: %v", u.Name, err)
	}
}

func (l *Loop) recordVerdict(unitID string, v unit.Verdict) {
	if l.store == nil {
		return
	}
	if err := l.store.RecordVerdict(unitID, v); err != nil {
		logging.Provenance("failed to record verdict for %s: %v", unitID, err)
	}
}

func (l *Loop) recordFindings(unitID, stage string, findings []unit.Finding) {
	if l.store == nil {
		return
	}
	if err := l.store.RecordFindings(unitID, stage, findings); err != nil {
		logging.Provenance("failed to record findings for %s: %v", unitID, err)
	}
}

// lineDiff renders a patch-style diff of the change, retained in provenance
// and shown to the oracle on later attempts.
func lineDiff(before, after string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, true)
	dmp.DiffCleanupSemantic(diffs)
	return dmp.PatchToText(dmp.PatchMake(before, diffs))
}

func findingsSummary(findings []unit.Finding) string {
	var b strings.Builder
	for _, f := range findings {
		if f.Severity != unit.SeverityError {
			continue
		}
		fmt.Fprintf(&b, "line %d: %s: %s\n", f.Line, f.Kind, f.Message)
	}
	return strings.TrimRight(b.String(), "\n")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
