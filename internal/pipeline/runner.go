// Package pipeline drives translation units from corpus extraction to a
// terminal state across a bounded worker pool: extract closure, rule
// rewrite, static validation, execution validation, bounded repair. Every
// stage transition is checkpointed so an interrupted batch resumes.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/sync/errgroup"

	"sceneport/internal/classify"
	"sceneport/internal/config"
	"sceneport/internal/corpus"
	"sceneport/internal/execval"
	"sceneport/internal/extract"
	"sceneport/internal/logging"
	"sceneport/internal/oracle"
	"sceneport/internal/provenance"
	"sceneport/internal/repair"
	"sceneport/internal/rewrite"
	"sceneport/internal/unit"
	"sceneport/internal/validate"
)

// Runner owns the per-unit stage chain and the batch worker pool.
type Runner struct {
	cfg        *config.Config
	table      *validate.SymbolTable
	engine     *rewrite.Engine
	validator  *validate.Validator
	classifier *classify.Classifier
	exec       *execval.Runner
	repairLoop *repair.Loop
	store      *provenance.Store

	mu        sync.Mutex
	idx       *corpus.Index
	extractor *extract.Extractor

	ruleWatcher     *rewrite.CatalogWatcher
	incompatWatcher *validate.CatalogWatcher
}

// New assembles a Runner from config. The oracle client is injected so the
// CLI picks gemini and tests pick the scripted double.
func New(cfg *config.Config, oracleClient oracle.Client) (*Runner, error) {
	ruleCatalog, err := rewrite.LoadCatalog(cfg.Rewrite.CatalogPath)
	if err != nil {
		return nil, err
	}
	engine := rewrite.NewEngine(ruleCatalog, cfg.Rewrite.MaxPasses)

	table, err := validate.LoadSymbolTable(cfg.Validate.SymbolTablePath)
	if err != nil {
		return nil, err
	}
	incompat, err := validate.LoadCatalog(cfg.Validate.IncompatPath)
	if err != nil {
		return nil, err
	}
	validator := validate.New(table, incompat, cfg.Validate.MaxFixPasses)

	unfixable, err := classify.LoadCatalog(cfg.Classify.CatalogPath)
	if err != nil {
		return nil, err
	}
	classifier := classify.New(unfixable, cfg.Classify.HeadLines)

	execRunner, err := execval.NewRunner(cfg.Execution)
	if err != nil {
		return nil, err
	}

	store, err := provenance.Open(cfg.Provenance.DatabasePath)
	if err != nil {
		return nil, err
	}

	loop := repair.New(oracleClient, classifier, validator, execRunner, store, cfg.Oracle.MaxAttempts)

	return &Runner{
		cfg:        cfg,
		table:      table,
		engine:     engine,
		validator:  validator,
		classifier: classifier,
		exec:       execRunner,
		repairLoop: loop,
		store:      store,
	}, nil
}

// Close releases the store and stops any watchers.
func (r *Runner) Close() error {
	if r.ruleWatcher != nil {
		r.ruleWatcher.Stop()
	}
	if r.incompatWatcher != nil {
		r.incompatWatcher.Stop()
	}
	return r.store.Close()
}

// Store exposes the provenance store for reporting commands.
func (r *Runner) Store() *provenance.Store {
	return r.store
}

// StartWatchers enables catalog hot reload for a long batch.
func (r *Runner) StartWatchers(ctx context.Context) error {
	if !r.cfg.Rewrite.WatchReload {
		return nil
	}
	rw, err := rewrite.NewCatalogWatcher(r.cfg.Rewrite.CatalogPath, r.engine)
	if err != nil {
		return err
	}
	if err := rw.Start(ctx); err != nil {
		return err
	}
	r.ruleWatcher = rw

	vw, err := validate.NewCatalogWatcher(r.cfg.Validate.IncompatPath, r.validator)
	if err != nil {
		return err
	}
	if err := vw.Start(ctx); err != nil {
		return err
	}
	r.incompatWatcher = vw
	return nil
}

// LoadCorpus indexes dir and prepares the extractor. The target dialect's
// own API surface is never followed as a dependency.
func (r *Runner) LoadCorpus(ctx context.Context, dir string) error {
	idx, err := corpus.LoadDir(ctx, dir)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idx = idx
	r.extractor = extract.New(idx, r.table.Names())
	return nil
}

// SceneNames returns the convertible units: indexed classes whose base ends
// in Scene, in corpus order.
func (r *Runner) SceneNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.idx == nil {
		return nil
	}
	var names []string
	for _, name := range r.idx.Names() {
		sym, _ := r.idx.Lookup(name)
		if isSceneClass(sym) {
			names = append(names, name)
		}
	}
	return names
}

func isSceneClass(sym *corpus.Symbol) bool {
	if sym == nil || sym.Kind != corpus.KindClass {
		return false
	}
	for _, base := range sym.Bases {
		if strings.HasSuffix(base, "Scene") {
			return true
		}
	}
	return false
}

// BatchReport is the batch output: per-unit reports plus store aggregates.
type BatchReport struct {
	Reports []unit.Report
	Summary provenance.Summary
}

// RunBatch converts every scene unit in the loaded corpus across the
// configured worker pool. Per-unit failures land in the unit's report; only
// infrastructure failures abort the batch.
func (r *Runner) RunBatch(ctx context.Context) (*BatchReport, error) {
	names := r.SceneNames()
	logging.Pipeline("batch start: %d units, %d workers", len(names), r.cfg.Pipeline.Workers)

	var mu sync.Mutex
	reports := make([]unit.Report, 0, len(names))

	g, gctx := errgroup.WithContext(ctx)
	workers := r.cfg.Pipeline.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for _, name := range names {
		name := name
		g.Go(func() error {
			rep, err := r.ConvertScene(gctx, name)
			if err != nil {
				return fmt.Errorf("unit %s: %w", name, err)
			}
			mu.Lock()
			reports = append(reports, rep)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.classifier.LogMatchRates()
	summary, err := r.store.BatchSummary(r.cfg.Oracle.MaxAttempts)
	if err != nil {
		return nil, err
	}
	logging.Pipeline("batch done: %d units, %d attempts, %d oracle calls avoided",
		summary.Units, summary.Attempts, summary.OracleCallsAvoided)
	return &BatchReport{Reports: reports, Summary: summary}, nil
}

// ConvertScene runs the full stage chain for one unit.
func (r *Runner) ConvertScene(ctx context.Context, name string) (unit.Report, error) {
	r.mu.Lock()
	extractor := r.extractor
	r.mu.Unlock()
	if extractor == nil {
		return unit.Report{}, fmt.Errorf("corpus not loaded")
	}

	closure, err := extractor.Closure(name)
	if err != nil {
		return unit.Report{}, err
	}
	u := unit.New(name, closure.Text())
	known := make(map[string]bool, len(closure.Symbols))
	for _, n := range closure.Names() {
		known[n] = true
	}

	// Resume: a terminal checkpoint short-circuits; a mid-batch one skips
	// the completed stages.
	if r.cfg.Pipeline.ResumeEnabled {
		if rep, done, err := r.resume(u); err != nil {
			return unit.Report{}, err
		} else if done {
			return rep, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return unit.Report{}, err
	}

	if stateRank(u.State) < stateRank(unit.StateRuleRewritten) {
		if err := r.stageRewrite(ctx, u); err != nil {
			return unit.Report{}, err
		}
	}
	if u.Terminal() {
		return r.finish(u), nil
	}
	if err := ctx.Err(); err != nil {
		return unit.Report{}, err
	}

	if stateRank(u.State) < stateRank(unit.StateStaticallyValidated) {
		if err := r.stageStatic(ctx, u, closure, known); err != nil {
			return unit.Report{}, err
		}
	}
	if u.Terminal() {
		return r.finish(u), nil
	}
	if err := ctx.Err(); err != nil {
		return unit.Report{}, err
	}

	if err := r.stageExecution(ctx, u, closure, known); err != nil {
		return unit.Report{}, err
	}
	return r.finish(u), nil
}

// resume restores a checkpointed unit. Returns done=true when the
// checkpoint is already terminal.
func (r *Runner) resume(u *unit.Unit) (unit.Report, bool, error) {
	cp, ok, err := r.store.LoadCheckpoint(u.Name)
	if err != nil {
		return unit.Report{}, false, err
	}
	if !ok {
		return unit.Report{}, false, nil
	}

	switch cp.State {
	case unit.StateAccepted, unit.StateRejected:
		logging.Pipeline("%s: already %s, skipping", u.Name, cp.State)
		rep := unit.Report{UnitID: cp.UnitID, Name: cp.Name, Status: cp.State, RejectReason: cp.RejectReason}
		if cp.State == unit.StateAccepted {
			rep.FinalText = cp.Text
		}
		return rep, true, nil
	case unit.StateDraft:
		return unit.Report{}, false, nil
	default:
		if err := u.SetText(cp.Text); err != nil {
			return unit.Report{}, false, err
		}
		if err := u.Advance(cp.State); err != nil {
			return unit.Report{}, false, err
		}
		logging.Pipeline("%s: resuming from %s", u.Name, cp.State)
		return unit.Report{}, false, nil
	}
}

func (r *Runner) stageRewrite(ctx context.Context, u *unit.Unit) error {
	out, apps, err := r.engine.Rewrite(ctx, u.Text)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Source that does not parse cannot be converted at all.
		if rerr := u.Reject("source does not parse: " + err.Error()); rerr != nil {
			return rerr
		}
		return r.checkpoint(u, "rewrite")
	}

	if err := r.store.RecordApplications(u.ID, apps); err != nil {
		logging.Provenance("failed to record applications for %s: %v", u.Name, err)
	}
	applied := rewrite.AppliedRuleIDs(apps)
	for _, id := range applied {
		u.AddRuleID(id)
	}
	if out != u.Text {
		diff := lineDiff(u.Text, out)
		if err := u.SetText(out); err != nil {
			return err
		}
		u.AddAttempt(unit.Attempt{
			Method:  unit.MethodRuleBased,
			Diff:    diff,
			Outcome: fmt.Sprintf("applied rules: %s", strings.Join(applied, ", ")),
			Success: true,
		})
		snap := u.Snapshot()
		if err := r.store.RecordAttempt(u.ID, snap.Attempts[len(snap.Attempts)-1]); err != nil {
			logging.Provenance("failed to record rewrite attempt for %s: %v", u.Name, err)
		}
	}
	if err := u.Advance(unit.StateRuleRewritten); err != nil {
		return err
	}
	return r.checkpoint(u, "rewrite")
}

func (r *Runner) stageStatic(ctx context.Context, u *unit.Unit, closure *extract.Closure, known map[string]bool) error {
	res, err := r.validator.Validate(ctx, u.Text, known)
	if err != nil {
		return err
	}
	if res.Text != u.Text {
		if err := u.SetText(res.Text); err != nil {
			return err
		}
	}
	u.ClearFindings()
	for _, f := range res.Findings {
		u.AddFinding(f)
	}
	if err := r.store.RecordFindings(u.ID, "static", res.Findings); err != nil {
		logging.Provenance("failed to record findings for %s: %v", u.Name, err)
	}
	if len(res.AppliedFixes) > 0 {
		u.AddAttempt(unit.Attempt{
			Method:  unit.MethodStaticAutoFix,
			Outcome: "applied fixes: " + strings.Join(res.AppliedFixes, ", "),
			Success: res.Clean(),
		})
		snap := u.Snapshot()
		if err := r.store.RecordAttempt(u.ID, snap.Attempts[len(snap.Attempts)-1]); err != nil {
			logging.Provenance("failed to record auto-fix attempt for %s: %v", u.Name, err)
		}
	}

	if !res.Clean() {
		if err := r.runRepair(ctx, u, closure, known, errorSummary(res.Findings)); err != nil {
			return err
		}
		return r.checkpoint(u, "static")
	}

	if err := u.Advance(unit.StateStaticallyValidated); err != nil {
		return err
	}
	return r.checkpoint(u, "static")
}

func (r *Runner) stageExecution(ctx context.Context, u *unit.Unit, closure *extract.Closure, known map[string]bool) error {
	run, err := r.exec.Submit(ctx, u.Name, u.Text)
	if err != nil {
		return err
	}
	if run.Outcome == execval.OutcomeSuccess {
		u.ClearFindings()
		if err := u.Advance(unit.StateExecutionValidated); err != nil {
			return err
		}
		if err := u.Advance(unit.StateAccepted); err != nil {
			return err
		}
		return r.checkpoint(u, "exec")
	}

	f := run.Finding()
	u.AddFinding(*f)
	if err := r.store.RecordFindings(u.ID, "exec", []unit.Finding{*f}); err != nil {
		logging.Provenance("failed to record exec finding for %s: %v", u.Name, err)
	}
	if err := r.runRepair(ctx, u, closure, known, run.Output); err != nil {
		return err
	}
	return r.checkpoint(u, "exec")
}

func (r *Runner) runRepair(ctx context.Context, u *unit.Unit, closure *extract.Closure, known map[string]bool, errorText string) error {
	return r.repairLoop.Run(ctx, u, repair.Input{
		ErrorText:         errorText,
		Known:             known,
		DependencyContext: dependencyContext(closure),
	})
}

func (r *Runner) finish(u *unit.Unit) unit.Report {
	if err := r.checkpoint(u, "terminal"); err != nil {
		logging.Provenance("failed to checkpoint %s: %v", u.Name, err)
	}
	return u.Snapshot()
}

func (r *Runner) checkpoint(u *unit.Unit, stage string) error {
	return r.store.SaveCheckpoint(provenance.Checkpoint{
		Name:         u.Name,
		UnitID:       u.ID,
		Stage:        stage,
		State:        u.State,
		Text:         u.Text,
		RejectReason: u.RejectReason,
	})
}

// dependencyContext is the closure without the root's own body, shown to
// the oracle as read-only context.
func dependencyContext(closure *extract.Closure) string {
	var parts []string
	for _, s := range closure.Symbols {
		if s.Name == closure.Root {
			continue
		}
		parts = append(parts, s.Body)
	}
	return strings.Join(parts, "\n\n")
}

func errorSummary(findings []unit.Finding) string {
	var b strings.Builder
	for _, f := range findings {
		if f.Severity != unit.SeverityError {
			continue
		}
		fmt.Fprintf(&b, "line %d: %s: %s\n", f.Line, f.Kind, f.Message)
	}
	return strings.TrimRight(b.String(), "\n")
}

func lineDiff(before, after string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, true)
	dmp.DiffCleanupSemantic(diffs)
	return dmp.PatchToText(dmp.PatchMake(before, diffs))
}

var stateRanks = map[unit.State]int{
	unit.StateDraft:               0,
	unit.StateRuleRewritten:       1,
	unit.StateStaticallyValidated: 2,
	unit.StateExecutionValidated:  3,
	unit.StateAccepted:            4,
	unit.StateRejected:            4,
}

func stateRank(s unit.State) int {
	return stateRanks[s]
}
