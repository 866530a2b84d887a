package agentpool

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"qaforge/internal/model"
)

// CoderDriver drives the external code-generation tool over MCP: agents in
// this pool are workers bound to one stdio MCP server exposing a generate
// tool and a fix tool.
type CoderDriver struct {
	client       *client.Client
	generateTool string
	fixTool      string
}

// CoderDriverConfig names the MCP server process and its two tools.
type CoderDriverConfig struct {
	Command      string
	Args         []string
	Env          map[string]string
	GenerateTool string
	FixTool      string
}

// NewCoderDriver spawns and initializes the configured MCP server.
func NewCoderDriver(ctx context.Context, cfg CoderDriverConfig) (*CoderDriver, error) {
	if cfg.GenerateTool == "" {
		cfg.GenerateTool = "generate"
	}
	if cfg.FixTool == "" {
		cfg.FixTool = "fix"
	}

	envVars := []string{}
	for key, value := range cfg.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", key, os.ExpandEnv(value)))
	}

	mcpClient, err := client.NewStdioMCPClient(cfg.Command, envVars, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    "qaforge",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}

	return &CoderDriver{
		client:       mcpClient,
		generateTool: cfg.GenerateTool,
		fixTool:      cfg.FixTool,
	}, nil
}

// Close shuts down the MCP server connection.
func (d *CoderDriver) Close() {
	d.client.Close()
}

// Run invokes the server's generate tool for a first attempt, or its fix
// tool when the run context carries previous attempts (a repair call).
func (d *CoderDriver) Run(ctx context.Context, agent model.Agent, task model.Task, rc model.RunTaskContext) (model.RunResult, error) {
	tool := d.generateTool
	if len(rc.PreviousAttempts) > 0 {
		tool = d.fixTool
	}

	args := map[string]interface{}{
		"task_id":     task.ID,
		"description": task.Description,
		"working_dir": rc.WorkingDir,
	}
	if len(task.TargetFiles) > 0 {
		args["target_files"] = task.TargetFiles
	}
	if len(rc.RelevantFiles) > 0 {
		args["relevant_files"] = rc.RelevantFiles
	}
	if len(rc.PreviousAttempts) > 0 {
		args["previous_attempts"] = rc.PreviousAttempts
	}

	result, err := d.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      tool,
			Arguments: args,
		},
	})
	if err != nil {
		return model.RunResult{}, fmt.Errorf("tool call failed: %w", err)
	}

	output := extractContent(result)
	if result.IsError {
		return model.RunResult{Success: false, Error: output}, nil
	}
	return model.RunResult{Success: true, Artifact: output}, nil
}

// extractContent combines all content items into one string. Content can
// be text, resource, or other types depending on the protocol version, so
// the formatting stays generic.
func extractContent(result *mcp.CallToolResult) string {
	var b strings.Builder
	for _, content := range result.Content {
		fmt.Fprintf(&b, "%v\n", content)
	}
	return strings.TrimSpace(b.String())
}
