// Package orchestrator drives the pipeline state machine: architecture,
// code generation, testing, and the bounded debug loop.
package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"aicoder/pkg/agent/llmerrors"
	"aicoder/pkg/artifacts"
	"aicoder/pkg/config"
	"aicoder/pkg/eventlog"
	"aicoder/pkg/logx"
	"aicoder/pkg/persistence"
	"aicoder/pkg/sandbox"
	"aicoder/pkg/usage"
)

// PlanCreator is the architect stage seen by the driver.
type PlanCreator interface {
	CreateArchitecture(ctx context.Context, requirements string) (*artifacts.ArchitecturalPlan, error)
}

// CodeGenerator is the coder stage seen by the driver.
type CodeGenerator interface {
	Generate(ctx context.Context, plan *artifacts.ArchitecturalPlan) (*artifacts.CodePackage, error)
}

// TestRunner is the tester stage seen by the driver.
type TestRunner interface {
	GenerateTests(ctx context.Context, cp *artifacts.CodePackage) (string, error)
	RunTests(ctx context.Context, cp *artifacts.CodePackage, testSource string) (*artifacts.TestPackage, error)
}

// CodeFixer is the debugger stage seen by the driver.
type CodeFixer interface {
	FixAndVerify(ctx context.Context, tp *artifacts.TestPackage) (*artifacts.DebugResult, error)
}

// Deps are the collaborators a Driver runs the pipeline with. Architect,
// Coder, Tester, and Debugger are required; the rest are optional
// observers and may be nil.
type Deps struct {
	Architect PlanCreator
	Coder     CodeGenerator
	Tester    TestRunner
	Debugger  CodeFixer

	Workspace *sandbox.Workspace
	Tracker   *usage.Tracker
	Store     *persistence.Store
	Events    *eventlog.Writer
}

// Options tune driver behavior beyond config.
type Options struct {
	// OuterRetries would re-enter ARCH after a failed debug loop. The
	// pipeline runs a single outer pass; values above zero are rejected.
	OuterRetries int

	// KeepWorkspace retains the generated project directory after the run
	// for inspection.
	KeepWorkspace bool
}

// Driver owns one pipeline run at a time.
type Driver struct {
	cfg    config.Config
	deps   Deps
	opts   Options
	logger *logx.Logger

	// Per-run state, reset by Run.
	currentState State
	runID        string
	requirements string
	result       *RunResult
	testPackage  *artifacts.TestPackage
	testSource   string
}

// New creates a pipeline driver.
func New(cfg config.Config, deps Deps, opts Options) (*Driver, error) {
	if deps.Architect == nil || deps.Coder == nil || deps.Tester == nil || deps.Debugger == nil {
		return nil, llmerrors.New(llmerrors.KindValidation, "all four role dependencies are required")
	}
	if opts.OuterRetries != 0 {
		return nil, llmerrors.Newf(llmerrors.KindValidation, "outer retries are not supported, got %d", opts.OuterRetries)
	}
	return &Driver{
		cfg:    cfg,
		deps:   deps,
		opts:   opts,
		logger: logx.NewLogger("orchestrator"),
	}, nil
}

// CurrentState returns the driver's position in the machine.
func (d *Driver) CurrentState() State {
	return d.currentState
}

// Run executes the full pipeline for one requirements string. It never
// returns an error: every failure mode is folded into the RunResult,
// including panics, which a deferred recover converts to ERROR.
func (d *Driver) Run(ctx context.Context, requirements string) *RunResult {
	started := time.Now()
	d.runID = uuid.NewString()
	d.requirements = requirements
	d.currentState = StateArch
	d.testPackage = nil
	d.testSource = ""
	d.result = &RunResult{RunID: d.runID, FinalStatus: StatusError}

	d.logger.Info("run %s started", d.runID)
	if d.deps.Store != nil {
		if err := d.deps.Store.CreateRun(d.runID, requirements); err != nil {
			d.logger.Warn("run row not recorded: %v", err)
		}
	}
	d.event("run_started", "", requirements)

	defer func() {
		if r := recover(); r != nil {
			d.currentState = StateError
			d.result.FinalStatus = StatusError
			d.result.Error = fmt.Sprintf("panic: %v", r)
			d.result.ErrorKind = llmerrors.KindUnknown.String()
			d.result.Traceback = string(debug.Stack())
			d.logger.Error("run %s panicked: %v", d.runID, r)
		}
		d.finish(started)
	}()

	// Every exit path releases the project directory.
	if d.deps.Workspace != nil && !d.opts.KeepWorkspace {
		defer func() {
			if err := d.deps.Workspace.Cleanup(); err != nil {
				d.logger.Warn("workspace cleanup failed: %v", err)
			}
		}()
	}

	if requirements == "" {
		d.fail(StateArch, llmerrors.New(llmerrors.KindValidation, "requirements must not be empty"))
		return d.result
	}

	for !IsTerminal(d.currentState) {
		// Cancellation is honored between stages; the in-flight stage
		// completed or timed out before we got here.
		if err := ctx.Err(); err != nil {
			d.fail(d.currentState, llmerrors.Canceled(err))
			break
		}
		next, err := d.processCurrentState(ctx)
		if err != nil {
			d.fail(d.currentState, err)
			break
		}
		d.transitionTo(next)
	}

	return d.result
}

// Step advances the machine by exactly one state, for tests that inspect
// intermediate positions.
func (d *Driver) Step(ctx context.Context) error {
	if IsTerminal(d.currentState) {
		return fmt.Errorf("cannot step from terminal state %s", d.currentState)
	}
	next, err := d.processCurrentState(ctx)
	if err != nil {
		d.fail(d.currentState, err)
		return err
	}
	d.transitionTo(next)
	return nil
}

// processCurrentState performs the work of the current state and names
// the next one.
func (d *Driver) processCurrentState(ctx context.Context) (State, error) {
	switch d.currentState {
	case StateArch:
		return d.handleArch(ctx)
	case StateCode:
		return d.handleCode(ctx)
	case StateTest:
		return d.handleTest(ctx)
	case StateDebug:
		return d.handleDebug(ctx)
	default:
		return StateError, fmt.Errorf("no handler for state %s", d.currentState)
	}
}

func (d *Driver) handleArch(ctx context.Context) (State, error) {
	plan, err := d.deps.Architect.CreateArchitecture(ctx, d.requirements)
	if err != nil {
		return StateError, err
	}
	d.result.Plan = plan
	if plan.Fallback {
		d.event("fallback_plan", "architect", "architecture response unparseable, using skeleton")
	}
	d.logger.Info("plan ready: %d files", len(plan.FileStructure.Files))
	return StateCode, nil
}

func (d *Driver) handleCode(ctx context.Context) (State, error) {
	cp, err := d.deps.Coder.Generate(ctx, d.result.Plan)
	if err != nil {
		return StateError, err
	}
	d.result.CodePackage = cp
	d.logger.Info("code package ready: %d files", len(cp.Files))
	return StateTest, nil
}

func (d *Driver) handleTest(ctx context.Context) (State, error) {
	source, err := d.deps.Tester.GenerateTests(ctx, d.result.CodePackage)
	if err != nil {
		// An unparseable test reply ends the run as FAILED, not ERROR:
		// the generated program exists but cannot be verified.
		if llmerrors.Is(err, llmerrors.KindParse) {
			d.result.Error = err.Error()
			d.result.ErrorKind = llmerrors.KindOf(err).String()
			d.result.FailedStage = StateTest.String()
			d.event("stage_failed", "tester", err.Error())
			return StateFailed, nil
		}
		return StateError, err
	}
	d.testSource = source

	tp, err := d.deps.Tester.RunTests(ctx, d.result.CodePackage, source)
	if err != nil {
		return StateError, err
	}
	d.testPackage = tp
	d.result.TestResults = tp.TestResults

	if tp.TestResults.Passed {
		return StateSuccess, nil
	}
	d.logger.Info("tests failing, entering debug loop")
	return StateDebug, nil
}

func (d *Driver) handleDebug(ctx context.Context) (State, error) {
	dr, err := d.deps.Debugger.FixAndVerify(ctx, d.testPackage)
	if dr != nil {
		d.result.DebugResult = dr
		d.result.DebuggerFixed = dr.Success
		if dr.FinalTestResults != nil {
			d.result.TestResults = dr.FinalTestResults
		}
		// The caller gets the last attempted code, verified or not.
		if len(dr.FixedCode) > 0 {
			d.result.CodePackage = d.result.CodePackage.Overlay(dr.FixedCode)
		}
	}
	if err != nil {
		return StateError, err
	}
	if dr.Success {
		return StateSuccess, nil
	}
	return StateFailed, nil
}

// transitionTo moves the machine, recording the transition with every
// attached observer. Invalid transitions are a programmer error.
func (d *Driver) transitionTo(next State) {
	if !IsValidTransition(d.currentState, next) {
		panic(fmt.Sprintf("invalid transition %s -> %s", d.currentState, next))
	}
	from := d.currentState
	d.currentState = next
	d.logger.Info("transition %s -> %s", from, next)

	if d.deps.Store != nil {
		if err := d.deps.Store.RecordStageEvent(d.runID, next.String(), "entered", "from "+from.String()); err != nil {
			d.logger.Warn("stage event not recorded: %v", err)
		}
	}
	d.event("transition", "", fmt.Sprintf("%s -> %s", from, next))
}

// fail folds a stage error into the result and lands on a terminal state.
func (d *Driver) fail(stage State, err error) {
	kind := llmerrors.KindOf(err)
	d.result.Error = err.Error()
	d.result.ErrorKind = kind.String()
	d.result.FailedStage = stage.String()
	d.currentState = StateError
	d.logger.Error("run %s failed in %s: %v", d.runID, stage, err)
	d.event("stage_failed", "", err.Error())
}

// finish stamps the final status onto the result and the observers.
func (d *Driver) finish(started time.Time) {
	switch d.currentState {
	case StateSuccess:
		d.result.FinalStatus = StatusSuccess
	case StateFailed:
		d.result.FinalStatus = StatusFailed
	default:
		d.result.FinalStatus = StatusError
	}
	if d.deps.Tracker != nil {
		d.result.UsageSummary = d.deps.Tracker.Stats()
	}
	d.result.DurationMS = time.Since(started).Milliseconds()

	if d.deps.Store != nil {
		if err := d.deps.Store.FinishRun(d.runID, string(d.result.FinalStatus), d.result.ErrorKind, int(d.result.UsageSummary.TotalTokens)); err != nil {
			d.logger.Warn("run row not finished: %v", err)
		}
	}
	d.event("run_finished", "", string(d.result.FinalStatus))
	d.logger.Info("run %s finished: %s in %dms", d.runID, d.result.FinalStatus, d.result.DurationMS)
}

// event emits one JSONL pipeline event when an event writer is attached.
func (d *Driver) event(kind, agentName, message string) {
	if d.deps.Events == nil {
		return
	}
	err := d.deps.Events.Write(eventlog.Event{
		RunID:   d.runID,
		Kind:    kind,
		Agent:   agentName,
		Stage:   d.currentState.String(),
		Message: message,
	})
	if err != nil {
		d.logger.Warn("event not written: %v", err)
	}
}
