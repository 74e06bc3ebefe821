// Package mcp exposes the engine to MCP clients: planning, conversion
// and registry introspection as tools.
package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aretw0/transmute"
	"github.com/aretw0/transmute/pkg/converter"
	"github.com/aretw0/transmute/pkg/executor"
	"github.com/aretw0/transmute/pkg/planner"
	"github.com/aretw0/transmute/pkg/property"
)

// Engine defines the interface required by the MCP server.
type Engine interface {
	Plan(ctx context.Context, source property.Properties, target property.Pattern, from, to planner.Cardinality) (*planner.Plan, error)
	Convert(ctx context.Context, input []byte, props property.Properties, target property.Pattern) (*executor.Result, error)
	Converters() []*converter.Decl
}

// PlanResponse is the structured result of the plan_route tool.
type PlanResponse struct {
	Steps []string `json:"steps" jsonschema_description:"Converter ids in execution order"`
	Cost  float64  `json:"cost" jsonschema_description:"Accumulated objective cost"`
	Final any      `json:"final" jsonschema_description:"Predicted final properties"`
}

// ConvertResponse is the structured result of the convert tool.
type ConvertResponse struct {
	Output string `json:"output" jsonschema_description:"Base64-encoded output bytes"`
	Props  any    `json:"props" jsonschema_description:"Final properties"`
	Steps  int    `json:"steps" jsonschema_description:"Number of steps executed"`
}

// Server wraps the engine and exposes it as an MCP server.
type Server struct {
	engine    Engine
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server instance.
func NewServer(engine Engine) *Server {
	s := &Server{
		engine:    engine,
		mcpServer: server.NewMCPServer("transmute-mcp", transmute.Version),
	}
	s.registerTools()
	return s
}

// ServeStdio starts the server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{Addr: addr, Handler: mux}

	errs := make(chan error, 1)
	go func() {
		slog.Info("MCP server listening (SSE)", "address", addr)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		return httpServer.Shutdown(context.Background())
	}
}

func (s *Server) registerTools() {
	planTool := mcp.NewTool("plan_route",
		mcp.WithDescription("Find a conversion route from source properties to a target pattern."),
		mcp.WithString("source", mcp.Required(), mcp.Description("JSON object of source properties, e.g. {\"format\": \"json\"}")),
		mcp.WithString("target", mcp.Required(), mcp.Description("JSON object of target constraints, e.g. {\"format\": \"yaml\"}")),
		mcp.WithString("cardinality", mcp.Description("\"one\" (default) or \"many\" for batch inputs")),
		mcp.WithOutputSchema[PlanResponse](),
	)
	s.mcpServer.AddTool(planTool, mcp.NewStructuredToolHandler(s.handlePlan))

	convertTool := mcp.NewTool("convert",
		mcp.WithDescription("Convert base64-encoded bytes to the target pattern."),
		mcp.WithString("input", mcp.Required(), mcp.Description("Base64-encoded input bytes")),
		mcp.WithString("source", mcp.Required(), mcp.Description("JSON object of source properties")),
		mcp.WithString("target", mcp.Required(), mcp.Description("JSON object of target constraints")),
		mcp.WithOutputSchema[ConvertResponse](),
	)
	s.mcpServer.AddTool(convertTool, mcp.NewStructuredToolHandler(s.handleConvert))

	s.mcpServer.AddTool(mcp.NewTool("list_converters",
		mcp.WithDescription("List every registered converter declaration."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jsonBytes, err := json.Marshal(s.engine.Converters())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("marshal failed: %v", err)), nil
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})
}

func (s *Server) handlePlan(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (PlanResponse, error) {
	source, target, err := parseEndpoints(args)
	if err != nil {
		return PlanResponse{}, err
	}

	card := planner.One
	if c, _ := args["cardinality"].(string); c == "many" {
		card = planner.Many
	}

	plan, err := s.engine.Plan(ctx, source, target, card, card)
	if err != nil {
		return PlanResponse{}, fmt.Errorf("plan failed: %w", err)
	}

	return PlanResponse{
		Steps: plan.ConverterIDs(),
		Cost:  plan.Cost,
		Final: plan.Final.ToGo(),
	}, nil
}

func (s *Server) handleConvert(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (ConvertResponse, error) {
	source, target, err := parseEndpoints(args)
	if err != nil {
		return ConvertResponse{}, err
	}

	inputB64, _ := args["input"].(string)
	input, err := base64.StdEncoding.DecodeString(inputB64)
	if err != nil {
		return ConvertResponse{}, fmt.Errorf("input is not valid base64: %w", err)
	}

	res, err := s.engine.Convert(ctx, input, source, target)
	if err != nil {
		return ConvertResponse{}, fmt.Errorf("convert failed: %w", err)
	}

	return ConvertResponse{
		Output: base64.StdEncoding.EncodeToString(res.Data),
		Props:  res.Props.ToGo(),
		Steps:  res.Stats.StepsExecuted,
	}, nil
}

func parseEndpoints(args map[string]interface{}) (property.Properties, property.Pattern, error) {
	sourceStr, _ := args["source"].(string)
	targetStr, _ := args["target"].(string)

	var sourceRaw map[string]any
	if err := json.Unmarshal([]byte(sourceStr), &sourceRaw); err != nil {
		return nil, nil, fmt.Errorf("source is not a JSON object: %w", err)
	}
	source, err := property.FromMap(sourceRaw)
	if err != nil {
		return nil, nil, err
	}

	var target property.Pattern
	if err := json.Unmarshal([]byte(targetStr), &target); err != nil {
		return nil, nil, fmt.Errorf("target is not a JSON object: %w", err)
	}
	return source, target, nil
}
