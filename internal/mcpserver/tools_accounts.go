package mcpserver

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerAccountTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_account",
			mcp.WithDescription("Get chip balance, reserved chips and lifetime totals for an address"),
			mcp.WithString("address", mcp.Required(), mcp.Description("Wallet address")),
		),
		s.handleGetAccount,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_transaction",
			mcp.WithDescription("Get a deposit transaction by hash"),
			mcp.WithString("tx_hash", mcp.Required(), mcp.Description("Chain transaction hash")),
		),
		s.handleGetTransaction,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_withdrawal",
			mcp.WithDescription("Get a withdrawal by id"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Withdrawal id (wd_...)")),
		),
		s.handleGetWithdrawal,
	)
}

func (s *Server) handleGetAccount(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := strings.TrimSpace(request.GetString("address", ""))
	if address == "" {
		return toolError("invalid_request", "address is required"), nil
	}
	acct, err := s.repo.GetAccount(ctx, address)
	if err != nil {
		return mapDomainError(err), nil
	}
	return toolResult(accountView(acct)), nil
}

func (s *Server) handleGetTransaction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hash := strings.TrimSpace(request.GetString("tx_hash", ""))
	if hash == "" {
		return toolError("invalid_request", "tx_hash is required"), nil
	}
	txn, err := s.repo.GetTransaction(ctx, hash)
	if err != nil {
		return mapDomainError(err), nil
	}
	return toolResult(txn), nil
}

func (s *Server) handleGetWithdrawal(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(request.GetString("id", ""))
	if id == "" {
		return toolError("invalid_request", "id is required"), nil
	}
	w, err := s.repo.GetWithdrawal(ctx, id)
	if err != nil {
		return mapDomainError(err), nil
	}
	return toolResult(w), nil
}
