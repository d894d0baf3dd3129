// aicoder-mcp-server runs one pipeline role as an MCP server speaking
// line-delimited JSON-RPC on stdio. The orchestrator spawns one per
// role in -mcp mode; logs go to stderr to keep stdout clean for the
// protocol.
//
// Usage: aicoder-mcp-server -role architect
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"aicoder/pkg/agent"
	"aicoder/pkg/architect"
	"aicoder/pkg/coder"
	"aicoder/pkg/config"
	"aicoder/pkg/debugger"
	"aicoder/pkg/eventlog"
	"aicoder/pkg/mcp"
	"aicoder/pkg/sandbox"
	"aicoder/pkg/templates"
	"aicoder/pkg/tester"
	"aicoder/pkg/usage"
	"aicoder/pkg/version"
)

func main() {
	var (
		role        = flag.String("role", "", "Role to serve: architect, coder, tester, or debugger")
		configPath  = flag.String("config", "", "Path to an aicoder.yaml overlay")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("aicoder-mcp-server %s\n", version.Version)
		os.Exit(0)
	}
	if *role == "" {
		fmt.Fprintln(os.Stderr, "Error: -role is required")
		flag.Usage()
		os.Exit(2)
	}

	os.Exit(run(*role, *configPath))
}

func run(role, configPath string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadConfig(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	tools, cleanup, err := buildTools(cfg, role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server setup error: %v\n", err)
		return 1
	}
	defer cleanup()

	srv := mcp.NewServer(role, tools)
	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		return 1
	}
	return 0
}

// buildTools assembles the role implementation behind the tool set.
func buildTools(cfg config.Config, role string) ([]mcp.Tool, func(), error) {
	roleType := agent.Type(role)
	if err := roleType.Validate(); err != nil {
		return nil, func() {}, err
	}

	renderer, err := templates.NewRenderer()
	if err != nil {
		return nil, func() {}, err
	}

	// Each server process gets its own usage file so concurrent role
	// servers never contend on one JSON document.
	tracker, err := usage.NewTracker(roleUsagePath(cfg.UsageLogFile, role))
	if err != nil {
		return nil, func() {}, err
	}

	transcript, err := eventlog.NewTranscript(role, "", cfg.ConversationLogDir)
	if err != nil {
		return nil, func() {}, err
	}
	cleanup := func() { transcript.Finalize() }

	client, err := agent.NewFactory(cfg).ClientFor(roleType)
	if err != nil {
		return nil, cleanup, err
	}

	var memory *agent.History
	if cfg.EnableMemory {
		memory = agent.NewHistory(true, cfg.MemoryWindow)
	}

	switch role {
	case mcp.RoleArchitect:
		return mcp.ArchitectTools(architect.New(client, renderer, tracker, transcript).WithMemory(memory)), cleanup, nil
	case mcp.RoleCoder:
		return mcp.CoderTools(coder.New(client, renderer, tracker, transcript).WithMemory(memory)), cleanup, nil
	case mcp.RoleTester:
		workspace := sandbox.NewWorkspace(cfg.WorkspaceDir)
		runner := sandbox.NewRunner(workspace, sandbox.NewLocalExec())
		return mcp.TesterTools(tester.New(client, renderer, tracker, transcript, workspace, runner, cfg.ExecTimeout).WithMemory(memory)), cleanup, nil
	case mcp.RoleDebugger:
		workspace := sandbox.NewWorkspace(cfg.WorkspaceDir)
		runner := sandbox.NewRunner(workspace, sandbox.NewLocalExec())
		return mcp.DebuggerTools(debugger.New(client, renderer, tracker, transcript, workspace, runner, cfg.MaxDebugAttempts, cfg.ExecTimeout).WithMemory(memory)), cleanup, nil
	default:
		return nil, cleanup, fmt.Errorf("unknown role %q", role)
	}
}

// roleUsagePath derives a per-role usage file, api_usage.json becoming
// api_usage.architect.json.
func roleUsagePath(base, role string) string {
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "." + role + ext
}
