// qaforge runs a natural-language task through the multi-agent QA
// pipeline: a worker agent drives the configured code-generation tool,
// then the build → lint → test → review gates iterate until convergence
// or escalation.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"qaforge/internal/agentpool"
	"qaforge/internal/config"
	"qaforge/internal/contextbuild"
	"qaforge/internal/contextmgr"
	"qaforge/internal/gates"
	"qaforge/internal/llmclient"
	"qaforge/internal/logging"
	"qaforge/internal/memory"
	"qaforge/internal/model"
	"qaforge/internal/qaloop"
	"qaforge/internal/ui"
	"qaforge/internal/vcs"
)

const coderSystemPrompt = "You are a coding agent. Implement the task using the provided repository context, then ensure the project builds, lints, tests, and reviews cleanly."

func main() {
	var (
		configPath = flag.String("config", "", "path to qaforge.yaml")
		projectDir = flag.String("project", ".", "project directory to operate on")
		taskName   = flag.String("name", "task", "short task name")
	)
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: qaforge [flags] <task description>")
		os.Exit(2)
	}
	description := strings.Join(flag.Args(), " ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Warning: failed to load config, using defaults: %v\n", err)
		cfg = config.Get()
	}

	logPath := ""
	if cfg.Audit.Enabled {
		logPath = config.GetAuditLogPath()
	}
	logger := logging.Setup(logPath, cfg.Audit.LogLevel)
	defer logging.Stop()

	status := ui.GetGlobalStatus()
	status.Start("qaforge " + *taskName)

	// Memory backends are optional; the context builder degrades to empty
	// components without them.
	var codeSearch contextbuild.CodeSearcher
	var memSearch contextbuild.MemorySearcher
	if cfg.Memory.Enabled {
		store, err := memory.NewStore(cfg.Memory.DBPath)
		if err != nil {
			logger.Warn().Err(err).Msg("memory store unavailable")
		} else {
			defer store.Close()
			codeSearch = store
			memSearch = store
		}
	}

	builder := contextbuild.NewBuilder(codeSearch, memSearch, contextbuild.Options{
		MinCodeRelevance:   cfg.Builder.MinCodeRelevance,
		MinMemoryRelevance: cfg.Builder.MinMemoryRelevance,
		MaxFileSizeChars:   cfg.Builder.MaxFileSizeChars,
		Analyze: contextbuild.AnalyzeOptions{
			MaxFiles:        cfg.Context.MaxFiles,
			IncludePatterns: cfg.Context.IncludePatterns,
			ExcludePatterns: cfg.Context.ExcludePatterns,
			CountReferences: cfg.Analysis.CountReferences,
		},
	})
	manager := contextmgr.NewManager(builder)
	integration := contextmgr.NewAgentContextIntegration(manager, coderSystemPrompt, cfg.Context.MaxTokens, false)

	pool, err := buildPool(ctx, cfg)
	if err != nil {
		status.Stop()
		fmt.Fprintf(os.Stderr, "failed to start agent pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	loopFactory, err := buildLoopFactory(cfg, *projectDir)
	if err != nil {
		status.Stop()
		fmt.Fprintf(os.Stderr, "failed to wire gates: %v\n", err)
		os.Exit(1)
	}

	coordinator := agentpool.NewCoordinator(pool, loopFactory, integration, cfg.Agents.MaxConcurrent)

	task := model.Task{
		Name:        *taskName,
		Description: description,
		ProjectPath: *projectDir,
	}

	status.Update("running QA loop")
	result, err := coordinator.Dispatch(ctx, task)
	status.Stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dispatch failed: %v\n", err)
		os.Exit(1)
	}

	printResult(result)
	if !result.Success {
		os.Exit(1)
	}
}

func buildPool(ctx context.Context, cfg *config.Config) (*agentpool.Pool, error) {
	if cfg.Agents.Coder.Command == "" {
		return nil, fmt.Errorf("no coder tool configured (agents.coder.command)")
	}

	driver, err := agentpool.NewCoderDriver(ctx, agentpool.CoderDriverConfig{
		Command:      cfg.Agents.Coder.Command,
		Args:         cfg.Agents.Coder.Args,
		Env:          cfg.Agents.Coder.Env,
		GenerateTool: cfg.Agents.Coder.GenerateTool,
		FixTool:      cfg.Agents.Coder.FixTool,
	})
	if err != nil {
		return nil, err
	}

	return agentpool.New(driver, agentpool.Config{
		MaxAgents:   cfg.Agents.MaxAgents,
		IdleTimeout: time.Duration(cfg.QALoop.AgentIdleTimeout) * time.Second,
	}), nil
}

func buildLoopFactory(cfg *config.Config, projectDir string) (agentpool.LoopFactory, error) {
	git, err := vcs.NewGit(projectDir)
	if err != nil {
		return nil, fmt.Errorf("not inside a git repository: %w", err)
	}

	var llm gates.LLMClient
	for _, llmCfg := range cfg.LLMs {
		if llmCfg.Provider == "ollama" {
			llm = llmclient.NewOllamaClient(llmclient.Config{
				Provider:    llmCfg.Provider,
				Model:       llmCfg.Model,
				Temperature: llmCfg.Temperature,
				BaseURL:     llmCfg.BaseURL,
			})
			break
		}
	}
	if llm == nil {
		return nil, fmt.Errorf("no ollama LLM configured for the review gate")
	}

	review := gates.NewReviewRunner(llm, git)
	review.MaxDiffSize = cfg.Review.MaxDiffSize
	review.AdditionalCriteria = cfg.Review.AdditionalCriteria

	status := ui.GetGlobalStatus()
	loopCfg := qaloop.Config{
		MaxIterations:      cfg.QALoop.MaxIterations,
		StopOnFirstFailure: cfg.QALoop.StopOnFirstFailure(),
		WorkingDir:         cfg.QALoop.WorkingDir,
		AuditEnabled:       cfg.Audit.Enabled,
		OnGate: func(gate model.GateKind, iteration int, passed bool) {
			status.GateOutcome(string(gate), iteration, passed)
		},
	}

	return func(coder qaloop.Coder) *qaloop.Loop {
		return qaloop.New(
			gates.NewBuildRunner(),
			gates.NewLintRunner(),
			gates.NewTestRunner(),
			review,
			coder,
			loopCfg,
		)
	}, nil
}

func printResult(result model.QALoopResult) {
	if result.Success {
		fmt.Printf("All gates passed after %d iteration(s).\n", result.Iterations)
		return
	}

	fmt.Printf("QA loop did not converge after %d iteration(s)", result.Iterations)
	if result.Escalated {
		fmt.Printf(" (escalated: %s)", result.Reason)
	}
	fmt.Println()

	for _, e := range result.LastBuild.Errors {
		fmt.Printf("  [build] %s:%d:%d: %s\n", e.File, e.Line, e.Column, e.Message)
	}
	for _, e := range result.LastLint.Errors {
		fmt.Printf("  [lint] %s:%d:%d: %s\n", e.File, e.Line, e.Column, e.Message)
	}
	for _, e := range result.LastTest.Errors {
		fmt.Printf("  [test] %s\n", e.Message)
	}
	for _, b := range result.LastReview.Blockers {
		fmt.Printf("  [review] blocker: %s\n", b)
	}
}
