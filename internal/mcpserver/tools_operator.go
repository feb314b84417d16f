package mcpserver

import (
	"context"

	"chip-settlement/internal/store"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerOperatorTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_alerts",
			mcp.WithDescription("List monitor alerts, newest first"),
			mcp.WithBoolean("active", mcp.Description("Only unresolved alerts, default true")),
			mcp.WithString("type", mcp.Description("Optional alert type, e.g. LOW_BALANCE")),
			mcp.WithString("subject", mcp.Description("Optional subject address")),
			mcp.WithNumber("limit", mcp.Description("Page size, default 50, max 500")),
			mcp.WithNumber("offset", mcp.Description("Page offset, default 0")),
		),
		s.handleListAlerts,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"settlement_stats",
			mcp.WithDescription("Counts by status, chips outstanding and active alerts"),
		),
		s.handleSettlementStats,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"house_wallet_balance",
			mcp.WithDescription("Live token balance of the house wallet from the indexer"),
		),
		s.handleHouseWalletBalance,
	)
}

func (s *Server) handleListAlerts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit, offset := clampPagination(request.GetInt("limit", defaultPageLimit), request.GetInt("offset", 0), maxPageLimit)
	f := store.AlertFilter{
		ActiveOnly: request.GetBool("active", true),
		Type:       request.GetString("type", ""),
		Subject:    request.GetString("subject", ""),
	}
	items, err := s.repo.ListAlerts(ctx, f, limit, offset)
	if err != nil {
		return mapDomainError(err), nil
	}
	if items == nil {
		items = []store.Alert{}
	}
	return toolResult(map[string]any{"items": items, "limit": limit, "offset": offset}), nil
}

func (s *Server) handleSettlementStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return mapDomainError(err), nil
	}
	return toolResult(stats), nil
}

func (s *Server) handleHouseWalletBalance(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.houseAddress == "" {
		return toolError("not_configured", "house wallet address is not configured"), nil
	}
	bal, err := s.observer.WalletBalance(ctx, s.houseAddress)
	if err != nil {
		return mapDomainError(err), nil
	}
	return toolResult(map[string]any{"address": s.houseAddress, "balance": bal.String()}), nil
}
