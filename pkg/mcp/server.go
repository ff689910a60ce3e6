package mcp

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rappen/RappSack/internal/store"
	"github.com/rappen/RappSack/pkg/plugin"
	"github.com/rappen/RappSack/pkg/schema"
	"github.com/rappen/RappSack/pkg/xrm"
)

// Tool names.
const (
	ToolResolve     = "rappsack.resolve"
	ToolVerify      = "rappsack.verify"
	ToolRun         = "rappsack.run"
	ToolInvocations = "rappsack.invocations"
)

// ContextDecoder validates and decodes a remote execution context payload.
// Satisfied by validation.ContextValidator.
type ContextDecoder interface {
	Validate(data []byte) (*xrm.ExecutionContext, *schema.ValidationResult)
}

// JournalReader reads the invocation journal. Satisfied by store.Store.
type JournalReader interface {
	GetInvocation(ctx context.Context, id string) (*schema.Invocation, error)
	ListInvocations(ctx context.Context, filter store.InvocationFilter) ([]*schema.Invocation, error)
	InvocationStats(ctx context.Context, since time.Time) (*store.InvocationStats, error)
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Registry   *plugin.Registry
	Runner     *plugin.Runner
	Decoder    ContextDecoder
	Conditions plugin.ConditionEvaluator
	Journal    JournalReader // optional: enables rappsack.invocations
	Logger     *slog.Logger
	Version    string
}

// Server wraps an MCP server with the plugin helper tools.
type Server struct {
	deps      ServerDeps
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with its tools registered. The invocations tool
// is only registered when a journal is configured.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{deps: deps, logger: logger}

	mcpSrv := server.NewMCPServer(
		"rappsack",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("RappSack resolves and gates Dataverse plugin execution contexts. Use rappsack.resolve to read the Target, PreImage, PostImage or Complete view of a context, rappsack.verify to check a needs declaration against it, rappsack.run to execute a registered plugin, and rappsack.invocations to query the invocation journal."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	tools := []server.ServerTool{
		{Tool: resolveTool(), Handler: s.handleResolve},
		{Tool: verifyTool(), Handler: s.handleVerify},
		{Tool: runTool(), Handler: s.handleRun},
	}
	if s.deps.Journal != nil {
		tools = append(tools, server.ServerTool{Tool: invocationsTool(), Handler: s.handleInvocations})
	}
	return tools
}

// --- Tool definitions ---

func resolveTool() mcp.Tool {
	return mcp.NewTool(ToolResolve,
		mcp.WithDescription("Resolve a view of the record in an execution context"),
		mcp.WithString("context", mcp.Required(), mcp.Description("Execution context in the remote JSON format")),
		mcp.WithString("view", mcp.Required(),
			mcp.Enum("target", "preimage", "postimage", "complete"),
			mcp.Description("View to resolve"),
		),
		mcp.WithNumber("index", mcp.Description("Record position in the Targets collection of a bulk operation")),
		mcp.WithString("pre_image_name", mcp.Description("Pick the pre image with this name")),
		mcp.WithString("post_image_name", mcp.Description("Pick the post image with this name")),
	)
}

func verifyTool() mcp.Tool {
	return mcp.NewTool(ToolVerify,
		mcp.WithDescription("Check needs against an execution context"),
		mcp.WithString("context", mcp.Required(), mcp.Description("Execution context in the remote JSON format")),
		mcp.WithObject("needs", mcp.Description("Needs declaration (message, stage, entity, attributes, pre_image, post_image, condition, ...)")),
		mcp.WithString("plugin", mcp.Description("Use the needs of this registered plugin instead")),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool(ToolRun,
		mcp.WithDescription("Execute a registered plugin against an execution context"),
		mcp.WithString("plugin", mcp.Required(), mcp.Description("Name of the registered plugin")),
		mcp.WithString("context", mcp.Required(), mcp.Description("Execution context in the remote JSON format")),
	)
}

func invocationsTool() mcp.Tool {
	return mcp.NewTool(ToolInvocations,
		mcp.WithDescription("Query the invocation journal"),
		mcp.WithString("id", mcp.Description("Return this invocation with its trace")),
		mcp.WithString("plugin", mcp.Description("Filter by plugin name")),
		mcp.WithString("status", mcp.Enum("executed", "skipped", "failed"), mcp.Description("Filter by status")),
		mcp.WithString("entity", mcp.Description("Filter by primary entity")),
		mcp.WithString("correlation_id", mcp.Description("Filter by correlation id")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
		mcp.WithBoolean("stats", mcp.Description("Return per-status counts of the last 24 hours instead")),
	)
}
