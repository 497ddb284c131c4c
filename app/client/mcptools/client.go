// Package mcptools connects to stdio MCP servers that provide the external
// tools of a room agent (web search, url reading, image generation).
package mcptools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"hearth/app/config"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/samber/do"
)

var _ do.Shutdownable = (*Service)(nil)

type Service struct {
	clients []client.MCPClient
	tools   []*Tool
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	s := &Service{}

	for _, server := range cfg.MCP.Servers {
		if err := s.connect(server); err != nil {
			// External tools are optional; the agent runs without them.
			slog.Error("MCP server unavailable", "server", server.Name, "error", err)
		}
	}

	return s, nil
}

// Tools returns every tool discovered on the connected servers.
func (s *Service) Tools() []*Tool {
	return s.tools
}

func (s *Service) connect(server config.MCPServer) error {
	mcpClient, err := client.NewStdioMCPClient(server.Command, nil, server.Args...)
	if err != nil {
		return fmt.Errorf("failed to create MCP client for %s: %w", server.Name, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "hearth",
		Version: "1.0.0",
	}

	if _, err = mcpClient.Initialize(ctx, initRequest); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP client %s: %w", server.Name, err)
	}

	toolsResponse, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to list tools from %s: %w", server.Name, err)
	}

	for _, mcpTool := range toolsResponse.Tools {
		s.tools = append(s.tools, &Tool{
			client: mcpClient,
			tool:   mcpTool,
			name:   fmt.Sprintf("%s_%s", server.Name, mcpTool.Name),
		})
	}

	s.clients = append(s.clients, mcpClient)

	slog.Info("MCP server connected", "server", server.Name, "tools", len(toolsResponse.Tools))

	return nil
}

func (s *Service) Shutdown() error {
	for _, c := range s.clients {
		if err := c.Close(); err != nil {
			slog.Warn("Failed to close MCP client", "error", err)
		}
	}
	return nil
}
