// Package mcp exposes the Paper Service (C8) as a Model Context
// Protocol server: two tools, get_paper and search_papers, the same
// "KISS" two-tool surface the teacher's simple MCP server shipped,
// now backed by the read-through gateway instead of a multi-provider
// search aggregator.
package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"scholargate/internal/services"
)

// SimpleMCPServer is a minimal MCP transport over the Paper Service.
type SimpleMCPServer struct {
	server       *server.MCPServer
	paperService services.PaperServiceInterface
	logger       *slog.Logger
}

// NewSimpleMCPServer creates a simple MCP server.
func NewSimpleMCPServer(paperService services.PaperServiceInterface, logger *slog.Logger) *SimpleMCPServer {
	mcpServer := server.NewMCPServer(
		"scholargate",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s := &SimpleMCPServer{
		server:       mcpServer,
		paperService: paperService,
		logger:       logger,
	}

	s.registerSimpleTools()
	return s
}

func (s *SimpleMCPServer) registerSimpleTools() {
	getPaperTool := mcp.NewTool("get_paper",
		mcp.WithDescription("Get a paper by identifier (DOI, ArXiv, PMID, URL, or S2 paper id)"),
		mcp.WithString("id", mcp.Required()),
		mcp.WithString("fields", mcp.Description("comma-separated field selector")),
	)
	s.server.AddTool(getPaperTool, s.handleGetPaper)

	searchTool := mcp.NewTool("search_papers",
		mcp.WithDescription("Search scholarly papers"),
		mcp.WithString("query", mcp.Required()),
		mcp.WithNumber("limit", mcp.Description("max results, default 20")),
		mcp.WithNumber("offset", mcp.Description("result offset, default 0")),
	)
	s.server.AddTool(searchTool, s.handleSearch)

	s.logger.Info("registered MCP tools", slog.String("tools", "get_paper, search_papers"))
}

func (s *SimpleMCPServer) handleGetPaper(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	argsMap, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("invalid arguments format"), nil
	}

	paperID, ok := argsMap["id"].(string)
	if !ok || paperID == "" {
		return mcp.NewToolResultError("id parameter required"), nil
	}
	fields, _ := argsMap["fields"].(string)

	doc, err := s.paperService.GetPaper(ctx, paperID, fields, false)
	if err != nil {
		s.logger.Error("MCP get_paper failed", slog.String("paper_id", paperID), slog.String("error", err.Error()))
		return mcp.NewToolResultError(fmt.Sprintf("get_paper failed: %v", err)), nil
	}

	return mcp.NewToolResultText(string(doc)), nil
}

func (s *SimpleMCPServer) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	argsMap, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("invalid arguments format"), nil
	}

	query, ok := argsMap["query"].(string)
	if !ok || query == "" {
		return mcp.NewToolResultError("query parameter required"), nil
	}

	limit := 20
	if v, ok := argsMap["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}
	offset := 0
	if v, ok := argsMap["offset"].(float64); ok && v > 0 {
		offset = int(v)
	}

	doc, err := s.paperService.SearchPapers(ctx, query, offset, limit, "", "", "", "", false, true, true)
	if err != nil {
		s.logger.Error("MCP search_papers failed", slog.String("query", query), slog.String("error", err.Error()))
		return mcp.NewToolResultError(fmt.Sprintf("search_papers failed: %v", err)), nil
	}

	s.logger.Info("MCP search_papers completed", slog.String("query", query))
	return mcp.NewToolResultText(string(doc)), nil
}

// ServeStdio starts the MCP server via stdio.
func (s *SimpleMCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server via stdio")
	return server.ServeStdio(s.server)
}

// GetServer returns the underlying server.
func (s *SimpleMCPServer) GetServer() *server.MCPServer {
	return s.server
}
