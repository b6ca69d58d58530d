package rewrite

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sceneport/internal/pyast"
)

func engineFromYAML(t *testing.T, rulesYAML string) *Engine {
	t.Helper()
	catalog, err := ParseCatalog([]byte(rulesYAML))
	require.NoError(t, err)
	return NewEngine(catalog, 4)
}

func defaultEngine(t *testing.T) *Engine {
	t.Helper()
	catalog, err := LoadCatalog(filepath.Join("..", "..", "catalogs", "rules.yaml"))
	require.NoError(t, err)
	return NewEngine(catalog, 4)
}

func TestRenameSimpleCall(t *testing.T) {
	e := engineFromYAML(t, `
rules:
  - id: rename-showcreation
    category: rename
    priority: 10
    match: ShowCreation
    replace: Create
`)
	in := "class D(Scene):\n    def construct(self):\n        self.play(ShowCreation(sq))\n"
	out, log, err := e.Rewrite(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, out, "self.play(Create(sq))")
	assert.NotContains(t, out, "ShowCreation")
	assert.Equal(t, []string{"rename-showcreation"}, AppliedRuleIDs(log))
}

func TestRenameSkipsAttributeTailsAndKwargs(t *testing.T) {
	e := engineFromYAML(t, `
rules:
  - id: r
    category: rename
    priority: 10
    match: width
    replace: breadth
`)
	in := "x = obj.width\ny = f(width=3)\nwidth = 1\nz = width\n"
	out, _, err := e.Rewrite(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, out, "obj.width", "attribute tail untouched")
	assert.Contains(t, out, "f(width=3)", "kwarg name untouched")
	assert.Contains(t, out, "breadth = 1", "binding renamed")
	assert.Contains(t, out, "z = breadth")
}

func TestStructuralConfigToConstructor(t *testing.T) {
	// Scenario: two superclass attributes overridden via CONFIG become a
	// constructor forwarding exactly those two parameters plus **kwargs.
	e := defaultEngine(t)
	in := `class Demo(Scene):
    CONFIG = {
        "camera_config": {"background_color": BLACK},
        "random_seed": 0,
        "wait_time": 2,
    }

    def construct(self):
        pass
`
	out, log, err := e.Rewrite(context.Background(), in)
	require.NoError(t, err)

	assert.NotContains(t, out, "CONFIG")
	assert.Contains(t, out, `def __init__(self, camera_config={"background_color": BLACK}, random_seed=0, **kwargs):`)
	assert.Contains(t, out, "super().__init__(camera_config=camera_config, random_seed=random_seed, **kwargs)")
	assert.Contains(t, out, "wait_time = 2", "non-override key becomes a class attribute")
	assert.True(t, pyast.Parses(context.Background(), []byte(out)))
	assert.Contains(t, AppliedRuleIDs(log), "structural-config-ctor")
}

func TestStructuralSkipsUnknownBase(t *testing.T) {
	e := defaultEngine(t)
	in := "class Demo(MysteryBase):\n    CONFIG = {\"x\": 1}\n"
	out, log, err := e.Rewrite(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	var skipped bool
	for _, a := range log {
		if a.RuleID == "structural-config-ctor" && a.Skipped {
			skipped = true
			assert.Contains(t, a.Reason, "parameter table")
		}
	}
	assert.True(t, skipped, "unknown base recorded as rule-skipped")
}

func TestStructuralSkipsExistingInit(t *testing.T) {
	e := defaultEngine(t)
	in := `class Demo(Scene):
    CONFIG = {"random_seed": 1}

    def __init__(self, **kwargs):
        super().__init__(**kwargs)
`
	out, log, err := e.Rewrite(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	var reasons []string
	for _, a := range log {
		if a.Skipped {
			reasons = append(reasons, a.Reason)
		}
	}
	require.NotEmpty(t, reasons)
	assert.Contains(t, reasons[0], "__init__")
}

func TestSignatureDropKwarg(t *testing.T) {
	e := defaultEngine(t)
	in := "class D(Scene):\n    def construct(self):\n        self.wait(2, frozen_frame=True)\n        self.wait(frozen_frame=False)\n"
	out, _, err := e.Rewrite(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, out, "self.wait(2)")
	assert.Contains(t, out, "self.wait()")
	assert.NotContains(t, out, "frozen_frame")
}

func TestSignatureRenameKwarg(t *testing.T) {
	e := defaultEngine(t)
	in := "self.play(LaggedStart(a, b, lag_factor=0.3))\n"
	out, _, err := e.Rewrite(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, out, "lag_ratio=0.3")
}

func TestSignatureUnpackList(t *testing.T) {
	e := defaultEngine(t)
	in := "group = VGroup([sq, circ])\n"
	out, _, err := e.Rewrite(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, out, "VGroup(*[sq, circ])")

	// Second run is stable: the splat is not doubled.
	again, _, err := e.Rewrite(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestGetterToProperty(t *testing.T) {
	e := defaultEngine(t)
	in := "w = sq.get_width()\nh = sq.get_height()\n"
	out, _, err := e.Rewrite(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "w = sq.width\nh = sq.height\n", out)
}

func TestGetterWithArgsSkipped(t *testing.T) {
	e := defaultEngine(t)
	in := "w = sq.get_width(scaled=True)\n"
	out, log, err := e.Rewrite(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	var found bool
	for _, a := range log {
		if a.RuleID == "getter-get-width" && a.Skipped {
			found = true
			assert.Contains(t, a.Reason, "arguments")
		}
	}
	assert.True(t, found)
}

func TestContentSelection(t *testing.T) {
	e := defaultEngine(t)
	in := strings.Join([]string{
		`a = TexMobject("$x^2$")`,
		`b = TextMobject("Let $x$ grow")`,
		`c = TextMobject("plain words")`,
		`d = TexMobject("odd $ delimiter")`,
		"",
	}, "\n")
	out, _, err := e.Rewrite(context.Background(), in)
	require.NoError(t, err)

	assert.Contains(t, out, `a = MathTex("x^2")`, "pure markup sheds delimiters")
	assert.Contains(t, out, `b = Tex("Let $x$ grow")`, "mixed content keeps delimiters")
	assert.Contains(t, out, `c = Text("plain words")`)
	assert.Contains(t, out, `d = Tex("odd $ delimiter")`, "ambiguous defaults to the general construct")
}

func TestContentDynamicArgumentTakesGeneralConstruct(t *testing.T) {
	e := defaultEngine(t)
	in := "label = TexMobject(formula_string)\n"
	out, _, err := e.Rewrite(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, out, "Tex(formula_string)")
}

func TestDeleteLeavesNoResidue(t *testing.T) {
	e := defaultEngine(t)
	in := "class D(Scene):\n    def construct(self):\n        self.play(Create(sq))\n        self.embed()\n        self.wait()\n"
	out, _, err := e.Rewrite(context.Background(), in)
	require.NoError(t, err)
	assert.NotContains(t, out, "embed")
	assert.Equal(t, "class D(Scene):\n    def construct(self):\n        self.play(Create(sq))\n        self.wait()\n", out)
}

func TestCompanionInsertedOnceWithIndent(t *testing.T) {
	e := defaultEngine(t)
	in := "class D(Scene):\n    def construct(self):\n        sq.apply_complex_function(np.exp)\n        self.wait()\n"
	out, _, err := e.Rewrite(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, out, "        sq.apply_complex_function(np.exp)\n        sq.refresh_bounding_box()\n")

	// Fixpoint passes and re-runs must not duplicate the companion.
	again, _, err := e.Rewrite(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, out, again)
	assert.Equal(t, 1, strings.Count(again, "refresh_bounding_box"))
}

func TestIdempotentOnConvertedUnit(t *testing.T) {
	// A unit already in dialect B with no matching sites comes back
	// byte-identical.
	e := defaultEngine(t)
	in := `from manim import *

class Done(Scene):
    def __init__(self, random_seed=0, **kwargs):
        super().__init__(random_seed=random_seed, **kwargs)

    def construct(self):
        label = MathTex("x^2")
        self.play(Create(label))
        self.wait()
`
	out, log, err := e.Rewrite(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Empty(t, AppliedRuleIDs(log))
}

func TestUnsafeEditRolledBack(t *testing.T) {
	// A catalog whose replacement would break the parse must leave the
	// text untouched and record the sites as skipped.
	e := engineFromYAML(t, `
rules:
  - id: bad-rename
    category: rename
    priority: 10
    match: target
    replace: "broken("
`)
	in := "x = target\n"
	out, log, err := e.Rewrite(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	require.NotEmpty(t, log)
	assert.True(t, log[0].Skipped)
	assert.Contains(t, log[0].Reason, "rolled back")
}

func TestRewriteRefusesUnparseableInput(t *testing.T) {
	e := defaultEngine(t)
	_, _, err := e.Rewrite(context.Background(), "def broken(:\n")
	assert.Error(t, err)
}

func TestEveryApplicationKeepsTreeParseable(t *testing.T) {
	e := defaultEngine(t)
	in := `from manimlib import *

class Demo(Scene):
    CONFIG = {"random_seed": 1, "speed": 3}

    def construct(self):
        t = TexMobject("$e^{i\\pi}$")
        g = VGroup([t])
        self.play(ShowCreation(g))
        self.wait(1, frozen_frame=True)
        self.embed()
`
	out, _, err := e.Rewrite(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, pyast.Parses(context.Background(), []byte(out)))
	assert.Contains(t, out, "from manim import *")
	assert.NotContains(t, out, "CONFIG")
	assert.NotContains(t, out, "embed")
}

func TestCatalogWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	first := "rules:\n  - id: a\n    category: rename\n    priority: 1\n    match: X\n    replace: Y\n"
	require.NoError(t, os.WriteFile(path, []byte(first), 0644))

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)
	engine := NewEngine(catalog, 2)

	w, err := NewCatalogWatcher(path, engine)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	second := "rules:\n  - id: b\n    category: rename\n    priority: 1\n    match: X\n    replace: Z\n"
	require.NoError(t, os.WriteFile(path, []byte(second), 0644))

	require.Eventually(t, func() bool {
		out, _, err := engine.Rewrite(context.Background(), "v = X\n")
		return err == nil && strings.Contains(out, "Z")
	}, 3*time.Second, 50*time.Millisecond, "engine should pick up the reloaded catalog")
}
