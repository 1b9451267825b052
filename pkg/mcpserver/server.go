// Package mcpserver re-exports the research tool registry over the Model
// Context Protocol, so external agent clients can call the same document
// search, web lookup and market tools the built-in engine uses. The server
// speaks SSE and is entirely optional: it only runs when the "mcp" section
// of config.json enables it.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"scholar/pkg/llm"
	"scholar/pkg/sources"
	"scholar/pkg/tools"
	"scholar/pkg/utils"

	jsoniter "github.com/json-iterator/go"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const serverName = "scholar"
const serverVersion = "1.0.0"

// Server wraps the tool registry and executor as an MCP server. Tool
// declarations are taken verbatim from the registry schemas, so MCP clients
// see exactly what the model sees.
type Server struct {
	registry  *tools.Registry
	executor  *tools.Executor
	mcpServer *server.MCPServer
}

// NewServer builds the MCP server and registers every tool currently in the
// registry. Tools registered afterwards are not picked up.
func NewServer(registry *tools.Registry, executor *tools.Executor) *Server {
	s := &Server{
		registry:  registry,
		executor:  executor,
		mcpServer: server.NewMCPServer(serverName, serverVersion),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeSSE serves the MCP endpoints on addr until ctx is cancelled, then
// shuts the listener down gracefully.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	baseURL := "http://" + addr
	if strings.HasPrefix(addr, ":") {
		baseURL = "http://localhost" + addr
	}

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.ListenAndServe()
	}()
	slog.Info("🔌 MCP server listening", "addr", addr, "tools", s.registry.Len())

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("mcp server shutdown: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// registerTools mirrors the registry into MCP tool declarations. Each
// registry schema already carries a full JSON Schema for its parameters, so
// the raw-schema constructor is used instead of the per-field builders.
func (s *Server) registerTools() {
	for _, schema := range s.registry.Schemas() {
		params, err := json.Marshal(schema.Parameters)
		if err != nil {
			slog.Warn("⚠️ Skipping MCP tool with unmarshalable schema", "tool", schema.Name, "error", err)
			continue
		}
		tool := mcp.NewToolWithRawSchema(schema.Name, schema.Description, params)
		s.mcpServer.AddTool(tool, s.toolHandler(schema.Name))
	}
}

// toolHandler adapts one registry tool to the MCP call contract. The
// executor's envelope is returned as the text result, so MCP clients and
// the model receive byte-identical payloads.
func (s *Server) toolHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(request.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		call := llm.ToolCall{
			ID:   "mcp_" + utils.GenerateID()[:8],
			Name: name,
			Function: llm.FunctionCall{
				Name:      name,
				Arguments: string(args),
			},
		}

		// Each MCP call gets its own aggregator; citations surface inside
		// the envelope payload rather than as a rendered footer.
		result := s.executor.Execute(ctx, call, sources.NewAggregator())
		if !result.OK {
			return mcp.NewToolResultError(result.Reason), nil
		}
		return mcp.NewToolResultText(result.Envelope()), nil
	}
}

// registerResources exposes the tool catalog for introspection.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource("scholar://tools", "Tool Catalog",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(s.registry.Schemas())
		if err != nil {
			return nil, fmt.Errorf("failed to encode tool catalog: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "scholar://tools",
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
