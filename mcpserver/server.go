package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/playground/codestore"
	"github.com/isdmx/playground/config"
	"github.com/isdmx/playground/language"
	"github.com/isdmx/playground/sandbox"
)

// Runner executes source code. *sandbox.Sandbox implements it.
type Runner interface {
	Run(ctx context.Context, req sandbox.Request) sandbox.Result
	Status() sandbox.Status
	Supported() []language.Language
}

// MCPServer represents the MCP server
type MCPServer struct {
	config     *config.Config
	logger     *zap.Logger
	runner     Runner
	store      *codestore.Store
	catalog    *codestore.Catalog
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, runner Runner, store *codestore.Store, catalog *codestore.Catalog) (*MCPServer, error) {
	if catalog == nil {
		catalog = codestore.NewCatalog()
	}

	s := &MCPServer{
		config:  cfg,
		logger:  logger,
		runner:  runner,
		store:   store,
		catalog: catalog,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.String("sandbox.isolation", cfg.Sandbox.Isolation),
		zap.Int("sandbox.timeout_sec", cfg.Sandbox.TimeoutSec),
		zap.Int("sandbox.load_timeout_sec", cfg.Sandbox.LoadTimeoutSec),
		zap.Int("sandbox.teardown_grace_ms", cfg.Sandbox.TeardownGraceMS),
		zap.Int("sandbox.memory_mb", cfg.Sandbox.MemoryMB),
		zap.Bool("sandbox.network_enabled", cfg.Sandbox.NetworkEnabled),
		zap.String("python.bundle_url", cfg.Python.BundleURL),
		zap.String("store.path", cfg.Store.Path),
		zap.Bool("store.in_memory", cfg.Store.InMemory),
		zap.String("catalog.path", cfg.Catalog.Path),
		zap.Int("catalog.problems", len(catalog.Problems())),
		zap.Bool("metrics.enabled", cfg.Metrics.Enabled),
	)

	s.mcpServer = server.NewMCPServer("playground-sandbox", "1.0.0", server.WithToolCapabilities(false))

	s.registerTools()

	return s, nil
}

func (s *MCPServer) registerTools() {
	languages := make([]string, 0, len(language.All))
	for _, l := range language.All {
		languages = append(languages, string(l))
	}

	s.mcpServer.AddTool(mcp.NewTool("run_code",
		mcp.WithDescription("Run source code in the sandbox and return its transcript. "+
			"When code is omitted the source stored for problem_id is run."),
		mcp.WithString("language", mcp.Required(), mcp.Description("Source language"), mcp.Enum(languages...)),
		mcp.WithString("code", mcp.Description("Source code to run")),
		mcp.WithString("problem_id", mcp.Description("Problem the source belongs to; the source is saved for it")),
	), s.handleRunCode)

	s.mcpServer.AddTool(mcp.NewTool("save_code",
		mcp.WithDescription("Store the source of one language for a problem"),
		mcp.WithString("problem_id", mcp.Required(), mcp.Description("Problem identifier")),
		mcp.WithString("language", mcp.Required(), mcp.Description("Source language"), mcp.Enum(languages...)),
		mcp.WithString("code", mcp.Required(), mcp.Description("Source code")),
	), s.handleSaveCode)

	s.mcpServer.AddTool(mcp.NewTool("load_code",
		mcp.WithDescription("Return the stored source of a problem, or its starting template"),
		mcp.WithString("problem_id", mcp.Required(), mcp.Description("Problem identifier")),
		mcp.WithString("language", mcp.Required(), mcp.Description("Source language"), mcp.Enum(languages...)),
	), s.handleLoadCode)

	s.mcpServer.AddTool(mcp.NewTool("list_problems",
		mcp.WithDescription("List the problems of the catalog"),
	), s.handleListProblems)

	s.mcpServer.AddTool(mcp.NewTool("sandbox_status",
		mcp.WithDescription("Report the sandbox state, the active run and whether a runtime is loading"),
	), s.handleSandboxStatus)
}

type runResponse struct {
	RunID      string                `json:"run_id"`
	Language   language.Language     `json:"language"`
	Outcome    sandbox.Outcome       `json:"outcome"`
	Transcript string                `json:"transcript"`
	Events     []sandbox.OutputEvent `json:"events"`
	StartedAt  time.Time             `json:"started_at"`
	DurationMS int64                 `json:"duration_ms"`
}

func (s *MCPServer) handleRunCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	lang, errResult := requireLanguage(request)
	if errResult != nil {
		return errResult, nil
	}

	code := request.GetString("code", "")
	problemID := strings.TrimSpace(request.GetString("problem_id", ""))

	switch {
	case code == "" && problemID != "":
		code = s.source(problemID, lang)
	case problemID != "":
		s.store.Put(problemID, lang, code)
	}

	s.logger.Info("running code in sandbox",
		zap.String("language", string(lang)),
		zap.String("problem_id", problemID),
		zap.Int("code_len", len(code)))

	result := s.runner.Run(ctx, sandbox.Request{Language: lang, Source: code})

	s.logger.Info("sandbox run completed",
		zap.String("run_id", result.RunID),
		zap.String("language", string(lang)),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("transcript_len", len(result.Transcript)))

	return jsonResult(runResponse{
		RunID:      result.RunID,
		Language:   result.Language,
		Outcome:    result.Outcome,
		Transcript: result.Transcript,
		Events:     result.Events,
		StartedAt:  result.StartedAt,
		DurationMS: result.Duration.Milliseconds(),
	})
}

func (s *MCPServer) handleSaveCode(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	problemID, err := request.RequireString("problem_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	lang, errResult := requireLanguage(request)
	if errResult != nil {
		return errResult, nil
	}

	code, err := request.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.store.Put(problemID, lang, code)
	s.logger.Debug("source saved", zap.String("problem_id", problemID), zap.String("language", string(lang)))

	return mcp.NewToolResultText(fmt.Sprintf("saved %s source for %s", lang.DisplayName(), problemID)), nil
}

func (s *MCPServer) handleLoadCode(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	problemID, err := request.RequireString("problem_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	lang, errResult := requireLanguage(request)
	if errResult != nil {
		return errResult, nil
	}

	return mcp.NewToolResultText(s.source(problemID, lang)), nil
}

func (s *MCPServer) handleListProblems(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.catalog.Problems())
}

type statusResponse struct {
	sandbox.Status
	Supported []language.Language `json:"supported"`
}

func (s *MCPServer) handleSandboxStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(statusResponse{
		Status:    s.runner.Status(),
		Supported: s.runner.Supported(),
	})
}

// source returns the stored source of the problem, or its template.
func (s *MCPServer) source(problemID string, lang language.Language) string {
	return s.store.GetOrDefault(problemID, lang, s.catalog.ProblemOrStub(problemID).Template)
}

func requireLanguage(request mcp.CallToolRequest) (language.Language, *mcp.CallToolResult) {
	name, err := request.RequireString("language")
	if err != nil {
		return "", mcp.NewToolResultError(err.Error())
	}

	lang, err := language.Parse(name)
	if err != nil {
		return "", mcp.NewToolResultError(err.Error())
	}

	return lang, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	s.httpServer = server.NewStreamableHTTPServer(s.mcpServer)
	return s.httpServer.Start(fmt.Sprintf(":%d", port))
}

// Shutdown stops the HTTP transport if it is running
func (s *MCPServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
