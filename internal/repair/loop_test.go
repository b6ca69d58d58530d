package repair

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sceneport/internal/classify"
	"sceneport/internal/config"
	"sceneport/internal/execval"
	"sceneport/internal/oracle"
	"sceneport/internal/provenance"
	"sceneport/internal/unit"
	"sceneport/internal/validate"
)

// The test fixtures are single-identifier candidates: they parse as Python
// for the static chain and run under sh for the execution gate, so the loop
// is exercised end to end without a Python installation.

func testClassifier(t *testing.T) *classify.Classifier {
	t.Helper()
	catalog, err := classify.LoadCatalog(filepath.Join("..", "..", "catalogs", "unfixable.yaml"))
	require.NoError(t, err)
	return classify.New(catalog, 3)
}

// permissiveValidator skips the import requirement so candidates stay
// runnable under sh.
func permissiveValidator(t *testing.T) *validate.Validator {
	t.Helper()
	catalog, err := validate.ParseCatalog([]byte("version: 1\nsignatures: []\n"))
	require.NoError(t, err)
	return validate.New(validate.NewSymbolTable(nil), catalog, 3)
}

func shExecRunner(t *testing.T) *execval.Runner {
	t.Helper()
	r, err := execval.NewRunner(config.ExecutionConfig{
		PythonBinary: "sh",
		Timeout:      "10s",
		WorkDir:      t.TempDir(),
	})
	require.NoError(t, err)
	return r
}

func draftUnit(t *testing.T, name, text string) *unit.Unit {
	t.Helper()
	u := unit.New(name, text)
	require.NoError(t, u.Advance(unit.StateRuleRewritten))
	return u
}

func TestDefiniteVerdictVetoesWithZeroOracleCalls(t *testing.T) {
	scripted := oracle.NewScripted(oracle.Response{ProposedText: "never used\n"})
	loop := New(scripted, testClassifier(t), permissiveValidator(t), shExecRunner(t), nil, 3)

	u := draftUnit(t, "embed_scene", "class Demo(Scene):\n    def construct(self):\n        self.embed()\n")
	err := loop.Run(context.Background(), u, Input{ErrorText: "RuntimeError: window required"})
	require.NoError(t, err)

	assert.Equal(t, unit.StateRejected, u.State)
	assert.Contains(t, u.RejectReason, "interactive-subsystem")
	assert.Equal(t, 0, scripted.CallCount(), "no oracle budget spent on a definite verdict")
	assert.True(t, u.DefiniteVerdict())
}

func TestTwoAttemptSuccessRetainsBothDiffs(t *testing.T) {
	store, err := provenance.Open(filepath.Join(t.TempDir(), "prov.db"))
	require.NoError(t, err)
	defer store.Close()

	scripted := oracle.NewScripted(
		oracle.Response{ProposedText: "broken_helper()\n", CostUSD: 0.002}, // fails static: unresolved
		oracle.Response{ProposedText: "true\n", CostUSD: 0.003},            // passes static and sh
	)
	loop := New(scripted, testClassifier(t), permissiveValidator(t), shExecRunner(t), store, 3)

	u := draftUnit(t, "two_attempts", "old_helper()\n")
	err = loop.Run(context.Background(), u, Input{
		ErrorText: "NameError: name 'old_helper' is not defined",
		Known:     map[string]bool{"true": true},
	})
	require.NoError(t, err)

	assert.Equal(t, unit.StateAccepted, u.State)
	assert.Equal(t, "true\n", u.Text)
	assert.Equal(t, 2, scripted.CallCount())

	require.Len(t, u.Attempts, 2)
	assert.False(t, u.Attempts[0].Success)
	assert.Contains(t, u.Attempts[0].Outcome, "static validation failed")
	assert.True(t, u.Attempts[1].Success)
	assert.Equal(t, "accepted", u.Attempts[1].Outcome)

	// The second request carries the first failed diff.
	calls := scripted.Calls()
	assert.Empty(t, calls[0].PriorDiffs)
	require.Len(t, calls[1].PriorDiffs, 1)
	assert.NotEmpty(t, calls[1].PriorDiffs[0])

	// Provenance retains both diffs and the per-call cost.
	report, err := store.UnitReport(u.ID)
	require.NoError(t, err)
	require.Len(t, report.Attempts, 2)
	assert.NotEmpty(t, report.Attempts[0].Diff)
	assert.NotEmpty(t, report.Attempts[1].Diff)
	assert.InDelta(t, 0.002, report.Attempts[0].CostUSD, 1e-9)
	assert.InDelta(t, 0.003, report.Attempts[1].CostUSD, 1e-9)
}

func TestBudgetExhaustionRejectsWithLastError(t *testing.T) {
	scripted := oracle.NewScripted(
		oracle.Response{ProposedText: "missing_one()\n"},
		oracle.Response{ProposedText: "missing_two()\n"},
	)
	loop := New(scripted, testClassifier(t), permissiveValidator(t), shExecRunner(t), nil, 2)

	u := draftUnit(t, "exhausted", "start_name()\n")
	err := loop.Run(context.Background(), u, Input{ErrorText: "NameError: name 'start_name' is not defined"})
	require.NoError(t, err)

	assert.Equal(t, unit.StateRejected, u.State)
	assert.Contains(t, u.RejectReason, "repair budget exhausted after 2 attempts")
	assert.Contains(t, u.RejectReason, "missing_two", "last error is retained")
	assert.Equal(t, 2, scripted.CallCount())
	assert.Len(t, u.Attempts, 2)
}

func TestLikelyVerdictAllowsExactlyOneAttempt(t *testing.T) {
	scripted := oracle.NewScripted(
		// Still carries the likely-tier marker and still fails static.
		oracle.Response{ProposedText: "anim = ContinualAnimation(thing)\n"},
		oracle.Response{ProposedText: "never_reached\n"},
	)
	loop := New(scripted, testClassifier(t), permissiveValidator(t), shExecRunner(t), nil, 3)

	u := draftUnit(t, "continual", "anim = ContinualAnimation(thing)\n")
	err := loop.Run(context.Background(), u, Input{ErrorText: "TypeError: no updater"})
	require.NoError(t, err)

	assert.Equal(t, unit.StateRejected, u.State)
	assert.Contains(t, u.RejectReason, "likely unfixable")
	assert.Equal(t, 1, scripted.CallCount(), "likely tier spends exactly one attempt")
}

func TestOracleTransportFailureLeavesUnitRetriable(t *testing.T) {
	scripted := oracle.NewScripted().FailWith(errors.New("503 service unavailable"))
	loop := New(scripted, testClassifier(t), permissiveValidator(t), shExecRunner(t), nil, 3)

	u := draftUnit(t, "transport", "some_name()\n")
	err := loop.Run(context.Background(), u, Input{ErrorText: "NameError: name 'some_name' is not defined"})
	require.Error(t, err)

	assert.False(t, u.Terminal(), "transport failure is not a rejection")
	require.Len(t, u.Attempts, 1)
	assert.Contains(t, u.Attempts[0].Outcome, "oracle error")
}

func TestCancelledContextStopsLoop(t *testing.T) {
	scripted := oracle.NewScripted(oracle.Response{ProposedText: "x\n"})
	loop := New(scripted, testClassifier(t), permissiveValidator(t), shExecRunner(t), nil, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	u := draftUnit(t, "cancelled", "some_name()\n")
	err := loop.Run(ctx, u, Input{ErrorText: "e"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, u.Terminal())
}
