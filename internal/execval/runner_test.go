package execval

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"sceneport/internal/config"
	"sceneport/internal/unit"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// shRunner runs candidates through sh so the tests exercise the full
// subprocess path without a Python installation.
func shRunner(t *testing.T, timeout string, maxConcurrent int) *Runner {
	t.Helper()
	r, err := NewRunner(config.ExecutionConfig{
		PythonBinary:  "sh",
		Timeout:       timeout,
		MaxConcurrent: maxConcurrent,
		WorkDir:       t.TempDir(),
	})
	require.NoError(t, err)
	return r
}

func TestSubmitSuccess(t *testing.T) {
	r := shRunner(t, "10s", 2)
	res, err := r.Submit(context.Background(), "demo", "exit 0\n")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 0, res.ExitCode)
	assert.Nil(t, res.Finding())
}

func TestSubmitRecognizedException(t *testing.T) {
	r := shRunner(t, "10s", 2)
	script := strings.Join([]string{
		`echo "Manim Community v0.18.0" `,
		`echo "Traceback (most recent call last):" >&2`,
		`echo "  File \"scene.py\", line 9, in construct" >&2`,
		`echo "NameError: name 'Squrae' is not defined" >&2`,
		`exit 1`,
	}, "\n")
	res, err := r.Submit(context.Background(), "demo", script)
	require.NoError(t, err)
	assert.Equal(t, OutcomeException, res.Outcome)
	assert.Equal(t, "NameError", res.Exception)
	assert.Contains(t, res.ExcMessage, "Squrae")
	assert.Equal(t, 1, res.ExitCode)

	f := res.Finding()
	require.NotNil(t, f)
	assert.Equal(t, unit.FindingRuntimeFailure, f.Kind)
	assert.Equal(t, "NameError", f.Exception)
}

func TestSubmitCrashWithoutTraceback(t *testing.T) {
	r := shRunner(t, "10s", 2)
	res, err := r.Submit(context.Background(), "demo", "echo boom\nexit 3\n")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCrash, res.Outcome)
	assert.Equal(t, 3, res.ExitCode)
	f := res.Finding()
	require.NotNil(t, f)
	assert.Contains(t, f.Message, "status 3")
}

func TestSubmitTimeout(t *testing.T) {
	r := shRunner(t, "150ms", 2)
	res, err := r.Submit(context.Background(), "demo", "sleep 5\n")
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimeout, res.Outcome)
	f := res.Finding()
	require.NotNil(t, f)
	assert.Contains(t, f.Message, "wall-clock")
}

func TestTimeoutIsHardDespiteLingeringChildren(t *testing.T) {
	// sh's sleep child inherits the output pipes; the deadline must still
	// bound the run instead of waiting for the grandchild to exit.
	r := shRunner(t, "150ms", 2)
	start := time.Now()
	res, err := r.Submit(context.Background(), "demo", "sleep 5\n")
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimeout, res.Outcome)
	assert.Less(t, elapsed, 3*time.Second)
}

func TestSubmitHonorsCancel(t *testing.T) {
	r := shRunner(t, "10s", 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Submit(ctx, "demo", "exit 0\n")
	assert.Error(t, err)
}

func TestMidRunCancelIsAnErrorNotACrash(t *testing.T) {
	// Shutdown must surface as an error, never as a crash outcome that
	// would record a spurious runtime-failure finding.
	r := shRunner(t, "10s", 2)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, err := r.Submit(ctx, "demo", "sleep 5\n")
	elapsed := time.Since(start)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, elapsed, 3*time.Second)
}

func TestConcurrentSubmits(t *testing.T) {
	r := shRunner(t, "10s", 2)
	var wg sync.WaitGroup
	results := make([]RunResult, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Submit(context.Background(), "demo", "exit 0\n")
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()
	for _, res := range results {
		assert.Equal(t, OutcomeSuccess, res.Outcome)
	}
}

func TestMissingInterpreterIsAnError(t *testing.T) {
	r, err := NewRunner(config.ExecutionConfig{
		PythonBinary: "definitely-not-a-real-binary",
		Timeout:      "5s",
		WorkDir:      t.TempDir(),
	})
	require.NoError(t, err)
	_, err = r.Submit(context.Background(), "demo", "exit 0\n")
	assert.Error(t, err)
}

func TestParseTraceback(t *testing.T) {
	cases := []struct {
		name    string
		output  string
		exc     string
		msg     string
		found   bool
	}{
		{
			name:   "plain",
			output: "Traceback (most recent call last):\n  ...\nValueError: bad color",
			exc:    "ValueError", msg: "bad color", found: true,
		},
		{
			name:   "dotted module",
			output: "manim.utils.SomeError: nope",
			exc:    "manim.utils.SomeError", msg: "nope", found: true,
		},
		{
			name:   "bare interrupt",
			output: "KeyboardInterrupt",
			exc:    "KeyboardInterrupt", found: true,
		},
		{
			name:   "trailing log noise skipped",
			output: "TypeError: x\n\n   \n",
			exc:    "TypeError", msg: "x", found: true,
		},
		{
			name:   "no traceback",
			output: "Segmentation fault (core dumped)",
			found:  false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exc, msg, found := parseTraceback(tc.output)
			assert.Equal(t, tc.found, found)
			assert.Equal(t, tc.exc, exc)
			assert.Equal(t, tc.msg, msg)
		})
	}
}
