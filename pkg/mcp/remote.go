package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"aicoder/pkg/agent/llmerrors"
	"aicoder/pkg/artifacts"
)

// Remote role adapters satisfy the pipeline driver's stage interfaces
// over an MCP connection, so the orchestrator runs unchanged whether
// roles are in-process or subprocesses.

// RemoteArchitect proxies plan creation to an architect server.
type RemoteArchitect struct {
	client *Client
}

// NewRemoteArchitect wraps an initialized architect connection.
func NewRemoteArchitect(client *Client) *RemoteArchitect {
	return &RemoteArchitect{client: client}
}

func (r *RemoteArchitect) CreateArchitecture(ctx context.Context, requirements string) (*artifacts.ArchitecturalPlan, error) {
	var plan artifacts.ArchitecturalPlan
	args := map[string]any{"requirements": requirements}
	if err := callArtifact(ctx, r.client, "create_architecture", args, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// RemoteCoder proxies code generation to a coder server.
type RemoteCoder struct {
	client *Client
}

// NewRemoteCoder wraps an initialized coder connection.
func NewRemoteCoder(client *Client) *RemoteCoder {
	return &RemoteCoder{client: client}
}

func (r *RemoteCoder) Generate(ctx context.Context, plan *artifacts.ArchitecturalPlan) (*artifacts.CodePackage, error) {
	planJSON, err := artifactJSON(plan)
	if err != nil {
		return nil, err
	}
	var cp artifacts.CodePackage
	args := map[string]any{"architectural_plan": planJSON}
	if err := callArtifact(ctx, r.client, "generate_code", args, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// RemoteTester proxies test generation and execution to a tester
// server. The sandbox lives on the server side.
type RemoteTester struct {
	client *Client
}

// NewRemoteTester wraps an initialized tester connection.
func NewRemoteTester(client *Client) *RemoteTester {
	return &RemoteTester{client: client}
}

func (r *RemoteTester) GenerateTests(ctx context.Context, cp *artifacts.CodePackage) (string, error) {
	cpJSON, err := artifactJSON(cp)
	if err != nil {
		return "", err
	}
	var result struct {
		TestCode string `json:"test_code"`
	}
	args := map[string]any{"code_package": cpJSON}
	if err := callArtifact(ctx, r.client, "generate_tests", args, &result); err != nil {
		return "", err
	}
	if result.TestCode == "" {
		return "", llmerrors.New(llmerrors.KindParse, "tester server returned an empty test suite")
	}
	return result.TestCode, nil
}

func (r *RemoteTester) RunTests(ctx context.Context, cp *artifacts.CodePackage, testSource string) (*artifacts.TestPackage, error) {
	cpJSON, err := artifactJSON(cp)
	if err != nil {
		return nil, err
	}
	var tp artifacts.TestPackage
	args := map[string]any{"code_package": cpJSON, "test_source": testSource}
	if err := callArtifact(ctx, r.client, "run_tests", args, &tp); err != nil {
		return nil, err
	}
	return &tp, nil
}

// RemoteDebugger proxies the fix-and-verify loop to a debugger server.
type RemoteDebugger struct {
	client *Client
}

// NewRemoteDebugger wraps an initialized debugger connection.
func NewRemoteDebugger(client *Client) *RemoteDebugger {
	return &RemoteDebugger{client: client}
}

func (r *RemoteDebugger) FixAndVerify(ctx context.Context, tp *artifacts.TestPackage) (*artifacts.DebugResult, error) {
	tpJSON, err := artifactJSON(tp)
	if err != nil {
		return nil, err
	}
	var dr artifacts.DebugResult
	args := map[string]any{"test_package": tpJSON}
	if err := callArtifact(ctx, r.client, "fix_code", args, &dr); err != nil {
		return nil, err
	}
	return &dr, nil
}

// callArtifact invokes a tool and decodes the text result into v.
func callArtifact(ctx context.Context, client *Client, tool string, args map[string]any, v any) error {
	text, err := client.CallTool(ctx, tool, args)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return llmerrors.Wrap(llmerrors.KindParse, err, fmt.Sprintf("tool %s returned undecodable artifact", tool))
	}
	return nil
}

func artifactJSON(v any) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}
	return string(body), nil
}
