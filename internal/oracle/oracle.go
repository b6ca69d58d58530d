// Package oracle is the external repair model behind the bounded repair
// loop. The loop owns the semantic attempt budget; this package owns
// transport concerns: prompt assembly, per-call timeout, the in-flight
// gate, and transient retry.
package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Request carries everything the oracle needs to propose a repair.
type Request struct {
	UnitName  string
	Candidate string // current full candidate text
	ErrorText string // latest validation or runtime error
	// DependencyContext is the inlined-closure excerpt relevant to the error.
	DependencyContext string
	// PriorDiffs are the diffs of earlier failed attempts, oldest first, so
	// the oracle does not repeat them.
	PriorDiffs []string
	Attempt    int // 1-based semantic attempt number
}

// Response is one repair proposal.
type Response struct {
	ProposedText string
	Confidence   float64
	Model        string
	Latency      time.Duration
	CostUSD      float64 // estimated from token usage; zero when unknown
}

// Client proposes repairs.
type Client interface {
	Repair(ctx context.Context, req Request) (Response, error)
}

// buildPrompt renders the repair request. The oracle must return the whole
// corrected file; partial patches are too fragile to apply mechanically.
func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are repairing a Manim Community (ManimCE) scene that was ")
	b.WriteString("mechanically converted from ManimGL and still fails validation.\n\n")

	fmt.Fprintf(&b, "## Failing file: %s\n```python\n%s\n```\n\n", req.UnitName, req.Candidate)
	fmt.Fprintf(&b, "## Error\n```\n%s\n```\n\n", req.ErrorText)

	if req.DependencyContext != "" {
		fmt.Fprintf(&b, "## Inlined dependencies (context, already part of the file)\n```python\n%s\n```\n\n", req.DependencyContext)
	}
	if len(req.PriorDiffs) > 0 {
		b.WriteString("## Earlier attempts that did NOT fix the error. Do not repeat them.\n")
		for i, d := range req.PriorDiffs {
			fmt.Fprintf(&b, "### Attempt %d\n```diff\n%s\n```\n", i+1, d)
		}
		b.WriteString("\n")
	}

	b.WriteString("Return the complete corrected file in a single ```python code block. ")
	b.WriteString("Change only what the error requires; keep the rest byte-identical. ")
	b.WriteString("Use only the ManimCE API.\n")
	return b.String()
}

// extractCode pulls the repaired file out of the oracle's reply. A fenced
// python block is the expected shape; a bare reply is accepted at lower
// confidence.
func extractCode(reply string) (text string, fenced bool) {
	for _, marker := range []string{"```python\n", "```py\n", "```\n"} {
		start := strings.Index(reply, marker)
		if start < 0 {
			continue
		}
		rest := reply[start+len(marker):]
		end := strings.Index(rest, "```")
		if end < 0 {
			break
		}
		return strings.TrimRight(rest[:end], "\n") + "\n", true
	}
	return strings.TrimSpace(reply) + "\n", false
}
