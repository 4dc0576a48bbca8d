// Package mcp exposes the run control surface as Model Context Protocol tools,
// so an assistant can start pipelines, read reviews and approve them.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/ports"
)

// GraphURI is the resource holding the graph topology.
const GraphURI = "conduit://graph"

// RunStatus aligns with the HTTP run payload and provides a unified structure across adapters.
type RunStatus struct {
	RunID       string            `json:"run_id" jsonschema_description:"Identifier of the run"`
	Status      domain.RunStatus  `json:"status" jsonschema_description:"Executor status of the run"`
	CurrentNode string            `json:"current_node,omitempty" jsonschema_description:"Node the run is at"`
	History     []string          `json:"history,omitempty" jsonschema_description:"Visited nodes in order"`
	Log         []domain.LogEntry `json:"log,omitempty" jsonschema_description:"Accumulated warnings and errors"`
	Fields      []string          `json:"fields,omitempty" jsonschema_description:"State fields present"`
}

// StartArgs are the arguments of start_run.
type StartArgs struct {
	Task                string  `json:"task"`
	DataLocation        string  `json:"data_location,omitempty"`
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"`
}

// RunArgs identify a run.
type RunArgs struct {
	RunID string `json:"run_id"`
}

// ResumeArgs are the arguments of resume_run.
type ResumeArgs struct {
	RunID    string            `json:"run_id"`
	Approved bool              `json:"approved"`
	Answers  map[string]string `json:"answers,omitempty"`
	Feedback string            `json:"feedback,omitempty"`
}

// Server wraps the engine and exposes it as an MCP Server.
type Server struct {
	engine    ports.Controller
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// NewServer creates a new MCP Server instance.
func NewServer(engine ports.Controller, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:    engine,
		mcpServer: server.NewMCPServer("conduit-mcp", strings.TrimSpace(version)),
		logger:    logger,
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Info("Shutdown signal received, stopping MCP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	// TOOL: start_run
	startTool := mcp.NewTool("start_run",
		mcp.WithDescription("Start an ML pipeline run for a natural-language task. The run executes in the background and pauses for human review."),
		mcp.WithString("task", mcp.Required(), mcp.Description("What to predict, e.g. 'predict house prices from the listing data'")),
		mcp.WithString("data_location", mcp.Description("Path or URI of the dataset")),
		mcp.WithNumber("confidence_threshold", mcp.Description("Minimum agent confidence between 0 and 1 (optional)")),
		mcp.WithOutputSchema[RunStatus](),
	)
	s.mcpServer.AddTool(startTool, mcp.NewStructuredToolHandler(s.handleStart))

	// TOOL: get_status
	statusTool := mcp.NewTool("get_status",
		mcp.WithDescription("Get the status, position and log of a run."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run identifier")),
		mcp.WithOutputSchema[RunStatus](),
	)
	s.mcpServer.AddTool(statusTool, mcp.NewStructuredToolHandler(s.handleStatus))

	// TOOL: get_review
	s.mcpServer.AddTool(mcp.NewTool("get_review",
		mcp.WithDescription("Get the review questions of a run awaiting approval."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run identifier")),
	), mcp.NewStructuredToolHandler(s.handleReview))

	// TOOL: resume_run
	resumeTool := mcp.NewTool("resume_run",
		mcp.WithDescription("Approve or reject a run awaiting approval. Unanswered questions take their recommended option."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run identifier")),
		mcp.WithBoolean("approved", mcp.Required(), mcp.Description("Whether the plan is approved")),
		mcp.WithObject("answers", mcp.Description("Question ID to chosen option")),
		mcp.WithString("feedback", mcp.Description("Free-text feedback, kept with the review")),
		mcp.WithOutputSchema[RunStatus](),
	)
	s.mcpServer.AddTool(resumeTool, mcp.NewStructuredToolHandler(s.handleResume))

	// TOOL: cancel_run
	cancelTool := mcp.NewTool("cancel_run",
		mcp.WithDescription("Cancel a run. A paused run can no longer be resumed."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run identifier")),
		mcp.WithOutputSchema[RunStatus](),
	)
	s.mcpServer.AddTool(cancelTool, mcp.NewStructuredToolHandler(s.handleCancel))
}

// Handler methods for structured tools

func (s *Server) handleStart(ctx context.Context, _ mcp.CallToolRequest, args StartArgs) (RunStatus, error) {
	if strings.TrimSpace(args.Task) == "" {
		return RunStatus{}, fmt.Errorf("task is required")
	}
	input := map[string]any{domain.FieldTask: args.Task}
	if args.DataLocation != "" {
		input[domain.FieldDataLocation] = args.DataLocation
	}
	if args.ConfidenceThreshold > 0 {
		input[domain.FieldConfidenceThreshold] = args.ConfidenceThreshold
	}
	runID, err := s.engine.Start(ctx, input)
	if err != nil {
		return RunStatus{}, fmt.Errorf("start failed: %w", err)
	}
	s.logger.Info("MCP: run started", "run_id", runID)
	return RunStatus{RunID: runID, Status: domain.StatusRunning}, nil
}

func (s *Server) handleStatus(ctx context.Context, _ mcp.CallToolRequest, args RunArgs) (RunStatus, error) {
	return s.status(ctx, args.RunID)
}

func (s *Server) handleReview(ctx context.Context, _ mcp.CallToolRequest, args RunArgs) (*domain.ReviewSession, error) {
	rs, err := s.engine.Review(ctx, args.RunID)
	if err != nil {
		return nil, fmt.Errorf("review failed: %w", err)
	}
	return rs, nil
}

func (s *Server) handleResume(ctx context.Context, _ mcp.CallToolRequest, args ResumeArgs) (RunStatus, error) {
	approval := domain.Approval{Approved: args.Approved, Answers: args.Answers, Feedback: args.Feedback}
	if err := s.engine.Resume(ctx, args.RunID, approval); err != nil {
		s.logger.Warn("MCP: resume rejected", "run_id", args.RunID, "err", err)
		return RunStatus{}, fmt.Errorf("resume failed: %w", err)
	}
	return s.status(ctx, args.RunID)
}

func (s *Server) handleCancel(ctx context.Context, _ mcp.CallToolRequest, args RunArgs) (RunStatus, error) {
	if err := s.engine.Cancel(ctx, args.RunID); err != nil {
		return RunStatus{}, fmt.Errorf("cancel failed: %w", err)
	}
	return s.status(ctx, args.RunID)
}

func (s *Server) status(ctx context.Context, runID string) (RunStatus, error) {
	rec, err := s.engine.GetStatus(ctx, runID)
	if err != nil {
		return RunStatus{}, fmt.Errorf("status failed: %w", err)
	}
	return RunStatus{
		RunID:       rec.RunID,
		Status:      rec.Status,
		CurrentNode: rec.CurrentNode,
		History:     rec.History,
		Log:         rec.Log,
		Fields:      rec.State.Keys(),
	}, nil
}

func (s *Server) registerResources() {
	// EXPOSE: conduit://graph
	s.mcpServer.AddResource(mcp.NewResource(GraphURI, "Pipeline Graph",
		mcp.WithResourceDescription("Nodes, field ownership and edges of the executed graph"),
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(s.engine.Inspect())
		if err != nil {
			return nil, fmt.Errorf("failed to encode graph: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      GraphURI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
