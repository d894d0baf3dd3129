// aicoder turns a natural language task into a tested Python program:
// plan, generate, test, and debug, driven by the pipeline orchestrator.
//
// Usage:
//
//	aicoder -task "build a CLI calculator"
//	aicoder -task @requirements.txt -ui
//	aicoder -task @requirements.txt -mcp
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"aicoder/pkg/agent"
	"aicoder/pkg/architect"
	"aicoder/pkg/coder"
	"aicoder/pkg/config"
	"aicoder/pkg/debugger"
	"aicoder/pkg/eventlog"
	"aicoder/pkg/logx"
	"aicoder/pkg/mcp"
	"aicoder/pkg/metrics"
	"aicoder/pkg/orchestrator"
	"aicoder/pkg/persistence"
	"aicoder/pkg/sandbox"
	"aicoder/pkg/templates"
	"aicoder/pkg/tester"
	"aicoder/pkg/usage"
	"aicoder/pkg/version"
	"aicoder/pkg/webui"
)

// serverBinaryName is the per-role MCP server spawned in -mcp mode. It
// is looked up next to this executable first, then on PATH.
const serverBinaryName = "aicoder-mcp-server"

type cliOptions struct {
	task          string
	workdir       string
	configPath    string
	ui            bool
	mcpMode       bool
	keepWorkspace bool
}

func main() {
	var (
		opts        cliOptions
		showVersion bool
	)
	flag.StringVar(&opts.task, "task", "", "Requirements text, or @path to read them from a file")
	flag.StringVar(&opts.workdir, "workdir", "", "Override the sandbox workspace directory")
	flag.StringVar(&opts.configPath, "config", "", "Path to an aicoder.yaml overlay")
	flag.BoolVar(&opts.ui, "ui", false, "Serve the web status UI")
	flag.BoolVar(&opts.mcpMode, "mcp", false, "Run each role as an MCP subprocess server")
	flag.BoolVar(&opts.keepWorkspace, "keep-workspace", false, "Keep the generated project directory after the run")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("aicoder %s\n", version.Version)
		fmt.Printf("  commit: %s\n", version.Commit)
		fmt.Printf("  built:  %s\n", version.Date)
		os.Exit(0)
	}

	if opts.task == "" && !opts.ui {
		fmt.Fprintln(os.Stderr, "Error: -task is required (or -ui to serve the status page only)")
		flag.Usage()
		os.Exit(2)
	}

	os.Exit(run(opts))
}

// run holds the main logic so defers fire before the exit code is
// returned to os.Exit.
func run(opts cliOptions) int {
	logger := logx.NewLogger("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadConfig(opts.configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}
	if opts.workdir != "" {
		cfg.WorkspaceDir = opts.workdir
	}

	requirements, err := resolveTask(opts.task)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Task error: %v\n", err)
		return 1
	}
	if requirements != "" {
		if err := resolveAPIKey(&cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Credential error: %v\n", err)
			return 1
		}
	}

	tracker, err := usage.NewTracker(cfg.UsageLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Usage tracker error: %v\n", err)
		return 1
	}

	store, err := persistence.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Run history error: %v\n", err)
		return 1
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("run history close failed: %v", closeErr)
		}
	}()

	events, err := eventlog.NewWriter(filepath.Join(filepath.Dir(cfg.ConversationLogDir), "events"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Event log error: %v\n", err)
		return 1
	}
	defer func() { _ = events.Close() }()

	if opts.ui {
		uiSrv := webui.New(cfg.UIHost, cfg.UIPort, store, tracker)
		go func() {
			if srvErr := uiSrv.ListenAndServe(); srvErr != nil {
				logger.Error("%v", srvErr)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if shutErr := uiSrv.Shutdown(shutdownCtx); shutErr != nil {
				logger.Warn("%v", shutErr)
			}
		}()
		fmt.Printf("Status UI on http://%s:%d\n", cfg.UIHost, cfg.UIPort)
	}

	// UI-only mode serves until interrupted.
	if requirements == "" {
		<-ctx.Done()
		return 0
	}

	deps, cleanup, err := buildDeps(ctx, cfg, tracker, store, events, opts.mcpMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Pipeline setup error: %v\n", err)
		return 1
	}
	defer cleanup()

	driver, err := orchestrator.New(cfg, deps, orchestrator.Options{KeepWorkspace: opts.keepWorkspace})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Pipeline setup error: %v\n", err)
		return 1
	}

	result := driver.Run(ctx, requirements)
	printSummary(result, deps.Workspace, opts.keepWorkspace)

	if result.Succeeded() {
		return 0
	}
	return 1
}

// resolveTask reads the requirements, following an @path reference.
func resolveTask(task string) (string, error) {
	if !strings.HasPrefix(task, "@") {
		return strings.TrimSpace(task), nil
	}
	body, err := os.ReadFile(strings.TrimPrefix(task, "@"))
	if err != nil {
		return "", fmt.Errorf("failed to read task file: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}

// resolveAPIKey fills in the API key from the encrypted secrets file or
// an interactive prompt when the environment did not provide one.
func resolveAPIKey(cfg *config.Config) error {
	if cfg.APIKey != "" || cfg.Provider == config.ProviderOllama {
		return nil
	}

	if config.SecretsFileExists(".") {
		password, err := promptPassword()
		if err == nil {
			if unlockErr := config.UnlockSecrets(".", password); unlockErr != nil {
				fmt.Fprintf(os.Stderr, "Secrets file unlock failed: %v\n", unlockErr)
			} else if key, keyErr := config.GetSecret(config.EnvAPIKey); keyErr == nil {
				return adoptAPIKey(cfg, key)
			}
		}
	}

	key, err := config.PromptForAPIKey()
	if err != nil {
		return err
	}
	return adoptAPIKey(cfg, key)
}

func adoptAPIKey(cfg *config.Config, key string) error {
	if err := config.SetAPIKey(key); err != nil {
		return err
	}
	cfg.APIKey = key
	return nil
}

func promptPassword() (string, error) {
	if !term.IsTerminal(syscall.Stdin) {
		return "", fmt.Errorf("stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Secrets file password: ")
	passwordBytes, err := term.ReadPassword(syscall.Stdin)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(passwordBytes), nil
}

// buildDeps assembles the four role stages, in-process by default or as
// MCP subprocesses in -mcp mode. The returned cleanup releases whatever
// was started.
func buildDeps(ctx context.Context, cfg config.Config, tracker *usage.Tracker, store *persistence.Store, events *eventlog.Writer, mcpMode bool) (orchestrator.Deps, func(), error) {
	deps := orchestrator.Deps{
		Tracker: tracker,
		Store:   store,
		Events:  events,
	}

	if mcpMode {
		return buildRemoteDeps(ctx, cfg, deps)
	}

	renderer, err := templates.NewRenderer()
	if err != nil {
		return deps, func() {}, err
	}
	factory := agent.NewFactory(cfg)

	session := time.Now().Format("20060102_150405")
	transcripts := map[agent.Type]*eventlog.Transcript{}
	for _, role := range []agent.Type{agent.TypeArchitect, agent.TypeCoder, agent.TypeTester, agent.TypeDebugger} {
		tr, trErr := eventlog.NewTranscript(role.String(), session, cfg.ConversationLogDir)
		if trErr != nil {
			return deps, func() {}, trErr
		}
		transcripts[role] = tr
	}

	clients := map[agent.Type]*agent.Client{}
	for role := range transcripts {
		client, clientErr := factory.ClientFor(role)
		if clientErr != nil {
			return deps, func() {}, clientErr
		}
		clients[role] = client
	}

	workspace := sandbox.NewWorkspace(cfg.WorkspaceDir)
	runner := sandbox.NewRunner(workspace, sandbox.NewLocalExec())

	// Each role gets its own conversation window when memory is on.
	memory := func() *agent.History {
		if !cfg.EnableMemory {
			return nil
		}
		return agent.NewHistory(true, cfg.MemoryWindow)
	}

	deps.Workspace = workspace
	deps.Architect = architect.New(clients[agent.TypeArchitect], renderer, tracker, transcripts[agent.TypeArchitect]).WithMemory(memory())
	deps.Coder = coder.New(clients[agent.TypeCoder], renderer, tracker, transcripts[agent.TypeCoder]).WithMemory(memory())
	deps.Tester = tester.New(clients[agent.TypeTester], renderer, tracker, transcripts[agent.TypeTester], workspace, runner, cfg.ExecTimeout).WithMemory(memory())
	deps.Debugger = debugger.New(clients[agent.TypeDebugger], renderer, tracker, transcripts[agent.TypeDebugger], workspace, runner, cfg.MaxDebugAttempts, cfg.ExecTimeout).WithMemory(memory())

	cleanup := func() {
		for _, tr := range transcripts {
			tr.Finalize()
		}
	}
	return deps, cleanup, nil
}

// buildRemoteDeps spawns one server process per role and wires the
// remote adapters. The sandbox lives inside the tester and debugger
// servers in this mode.
func buildRemoteDeps(ctx context.Context, cfg config.Config, deps orchestrator.Deps) (orchestrator.Deps, func(), error) {
	binary, err := findServerBinary()
	if err != nil {
		return deps, func() {}, err
	}

	env := []string{config.EnvAPIKey + "=" + cfg.APIKey}
	var procs []*mcp.ServerProcess
	cleanup := func() {
		for _, p := range procs {
			if closeErr := p.Close(); closeErr != nil {
				logx.Warnf("%v", closeErr)
			}
		}
	}

	for _, role := range []string{mcp.RoleArchitect, mcp.RoleCoder, mcp.RoleTester, mcp.RoleDebugger} {
		proc, spawnErr := mcp.Spawn(ctx, binary, role, env)
		if spawnErr != nil {
			cleanup()
			return deps, func() {}, spawnErr
		}
		procs = append(procs, proc)

		switch role {
		case mcp.RoleArchitect:
			deps.Architect = mcp.NewRemoteArchitect(proc.Client)
		case mcp.RoleCoder:
			deps.Coder = mcp.NewRemoteCoder(proc.Client)
		case mcp.RoleTester:
			deps.Tester = mcp.NewRemoteTester(proc.Client)
		case mcp.RoleDebugger:
			deps.Debugger = mcp.NewRemoteDebugger(proc.Client)
		}
	}
	return deps, cleanup, nil
}

func findServerBinary() (string, error) {
	if exe, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exe), serverBinaryName)
		if _, statErr := os.Stat(sibling); statErr == nil {
			return sibling, nil
		}
	}
	path, err := exec.LookPath(serverBinaryName)
	if err != nil {
		return "", fmt.Errorf("%s not found next to this binary or on PATH", serverBinaryName)
	}
	return path, nil
}

func printSummary(result *orchestrator.RunResult, workspace *sandbox.Workspace, keepWorkspace bool) {
	fmt.Println()
	fmt.Printf("Run %s: %s (%dms)\n", result.RunID, result.FinalStatus, result.DurationMS)
	if result.Error != "" {
		fmt.Printf("  %s stage failed: %s (%s)\n", result.FailedStage, result.Error, result.ErrorKind)
	}
	if result.TestResults != nil {
		fmt.Printf("  tests passed: %t (exit %d)\n", result.TestResults.Passed, result.TestResults.ExitCode)
	}
	if result.DebugResult != nil {
		fmt.Printf("  debug attempts: %d, fixed: %t\n", len(result.DebugResult.Attempts), result.DebuggerFixed)
	}
	fmt.Printf("  tokens: %d across %d calls\n", result.UsageSummary.TotalTokens, result.UsageSummary.CallCount)
	for agentName, tokens := range result.UsageSummary.AgentBreakdown {
		fmt.Printf("    %-9s %d\n", agentName, tokens)
	}
	if keepWorkspace && workspace != nil && result.CodePackage != nil {
		fmt.Printf("  project kept at %s\n", workspace.ProjectDir())
	}

	if snapshot, err := metrics.Snapshot(); err == nil {
		lines := metrics.LLMSummary(snapshot)
		if len(lines) > 0 {
			fmt.Println("  llm metrics:")
			for _, line := range lines {
				fmt.Printf("    %s\n", line)
			}
		}
	}
}
