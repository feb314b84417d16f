package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"chip-settlement/internal/chain"
	"chip-settlement/internal/store"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server exposes read-only operator tools over MCP streamable HTTP.
type Server struct {
	repo         store.Repository
	observer     chain.Observer
	houseAddress string

	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

func New(repo store.Repository, observer chain.Observer, houseAddress string) *Server {
	mcpSrv := server.NewMCPServer(
		"chip-settlement",
		"0.1.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
		server.WithResourceRecovery(),
	)
	s := &Server{
		repo:         repo,
		observer:     observer,
		houseAddress: houseAddress,
		mcpServer:    mcpSrv,
		httpServer:   server.NewStreamableHTTPServer(mcpSrv, server.WithStateLess(true), server.WithDisableStreaming(true)),
	}
	s.registerAccountTools()
	s.registerOperatorTools()
	s.registerResources()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.httpServer
}

func (s *Server) registerResources() {
	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"account://{address}/summary",
			"account_summary",
			mcp.WithTemplateDescription("Chip balance, reservations and lifetime totals for an address"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			raw := request.Params.URI
			if !strings.HasPrefix(raw, "account://") || !strings.HasSuffix(raw, "/summary") {
				return nil, nil
			}
			address := strings.TrimSuffix(strings.TrimPrefix(raw, "account://"), "/summary")
			if address == "" {
				return nil, nil
			}
			acct, err := s.repo.GetAccount(ctx, address)
			if err != nil {
				return nil, err
			}
			payload, err := json.Marshal(accountView(acct))
			if err != nil {
				return nil, err
			}
			return []mcp.ResourceContents{
				mcp.TextResourceContents{
					URI:      raw,
					MIMEType: "application/json",
					Text:     string(payload),
				},
			}, nil
		},
	)
}

func accountView(acct store.Account) map[string]any {
	return map[string]any{
		"account":   acct,
		"available": acct.Available(),
	}
}
