package unit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleForwardOnly(t *testing.T) {
	u := New("SquareToCircle", "class SquareToCircle(Scene): pass")
	assert.Equal(t, StateDraft, u.State)

	require.NoError(t, u.Advance(StateRuleRewritten))
	require.NoError(t, u.Advance(StateStaticallyValidated))

	// Backward transition is refused.
	err := u.Advance(StateRuleRewritten)
	assert.Error(t, err)
	assert.Equal(t, StateStaticallyValidated, u.State)

	// Skipping forward is allowed (execution validation can be elided in
	// static-only runs).
	require.NoError(t, u.Advance(StateAccepted))
	assert.True(t, u.Terminal())
}

func TestTerminalUnitsAreFrozen(t *testing.T) {
	u := New("s", "x = 1")
	require.NoError(t, u.Reject("no target equivalent"))

	assert.Error(t, u.Advance(StateRuleRewritten))
	assert.Error(t, u.Reject("again"))
	assert.Error(t, u.SetText("y = 2"))
	assert.Equal(t, "no target equivalent", u.RejectReason)
}

func TestRejectFromAnyState(t *testing.T) {
	u := New("s", "x = 1")
	require.NoError(t, u.Advance(StateRuleRewritten))
	require.NoError(t, u.Reject("rewriter corrupted unit"))
	assert.Equal(t, StateRejected, u.State)
}

func TestVerdictMonotonic(t *testing.T) {
	u := New("s", "x = 1")

	u.RecordVerdict(Verdict{Tier: TierLikely, Category: "custom_base"})
	assert.Equal(t, TierLikely, u.Verdict.Tier)

	// Upgrade allowed.
	u.RecordVerdict(Verdict{Tier: TierDefinite, Category: "missing_subsystem"})
	assert.True(t, u.DefiniteVerdict())

	// Downgrade silently ignored: Definite is permanent.
	u.RecordVerdict(Verdict{Tier: TierPotential, Category: "other"})
	assert.True(t, u.DefiniteVerdict())
	assert.Equal(t, "missing_subsystem", u.Verdict.Category)
}

func TestAttemptSequencing(t *testing.T) {
	u := New("s", "x = 1")
	u.AddAttempt(Attempt{Method: MethodRuleBased, Outcome: "applied"})
	u.AddAttempt(Attempt{Method: MethodOracle, Outcome: "failed"})

	require.Len(t, u.Attempts, 2)
	assert.Equal(t, 1, u.Attempts[0].Seq)
	assert.Equal(t, 2, u.Attempts[1].Seq)
}

func TestSnapshotOmitsTextUnlessAccepted(t *testing.T) {
	u := New("s", "x = 1")
	u.AddRuleID("rename-showcreation")
	require.NoError(t, u.SetText("y = 2"))

	r := u.Snapshot()
	assert.Empty(t, r.FinalText)
	assert.Equal(t, []string{"rename-showcreation"}, r.AppliedRules)

	require.NoError(t, u.Advance(StateAccepted))
	r = u.Snapshot()
	assert.Equal(t, "y = 2", r.FinalText)
}
