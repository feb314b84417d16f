package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sort"
	"testing"

	"chip-settlement/internal/chain"
	"chip-settlement/internal/store"
	"chip-settlement/internal/testutil"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/shopspring/decimal"
)

const (
	player = "bc1qplayer000000000000000000000000000000"
	house  = "bc1qhouse0000000000000000000000000000000"
)

type fixture struct {
	repo  *store.MemoryStore
	chain *testutil.FakeChain
	mcp   *client.Client
}

func newFixture(t *testing.T, houseAddress string) *fixture {
	t.Helper()
	repo := store.NewMemoryStore()
	fc := testutil.NewFakeChain()
	srv := New(repo, fc, houseAddress)
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	c, closeClient := newMCPClient(t, httpSrv.URL+"/mcp")
	t.Cleanup(closeClient)
	return &fixture{repo: repo, chain: fc, mcp: c}
}

func TestMCPServerListsOperatorTools(t *testing.T) {
	f := newFixture(t, house)
	tools := mustListTools(t, f.mcp)
	assertToolNames(t, tools,
		"get_account",
		"get_transaction",
		"get_withdrawal",
		"list_alerts",
		"settlement_stats",
		"house_wallet_balance",
	)
}

func TestGetAccountAndNotFound(t *testing.T) {
	f := newFixture(t, house)
	ctx := context.Background()
	if _, err := f.repo.Credit(ctx, player, 700, "credit", "seed"); err != nil {
		t.Fatalf("seed credit: %v", err)
	}

	res := mustCallTool(t, f.mcp, "get_account", map[string]any{"address": player})
	if res.IsError {
		t.Fatalf("get_account expected success, got %v", res.StructuredContent)
	}
	payload := mapFromStructured(t, res)
	if got := asFloat64(payload["available"]); got != 700 {
		t.Fatalf("available = %v, want 700", got)
	}

	missing := mustCallTool(t, f.mcp, "get_account", map[string]any{"address": "bc1qunknown"})
	assertToolErrorCode(t, missing, "not_found")

	empty := mustCallTool(t, f.mcp, "get_account", map[string]any{"address": " "})
	assertToolErrorCode(t, empty, "invalid_request")
}

func TestGetTransactionAndWithdrawal(t *testing.T) {
	f := newFixture(t, house)
	ctx := context.Background()
	if _, _, err := f.repo.RecordDetected(ctx, store.Transaction{TxHash: "0xabc", Address: player, TokenAmount: decimal.NewFromInt(1000)}); err != nil {
		t.Fatalf("record: %v", err)
	}
	w, err := f.repo.CreateWithdrawal(ctx, store.Withdrawal{Address: player, DestinationAddress: house, ChipAmount: 200})
	if err != nil {
		t.Fatalf("create withdrawal: %v", err)
	}

	txn := mapFromStructured(t, mustCallTool(t, f.mcp, "get_transaction", map[string]any{"tx_hash": "0xabc"}))
	if asString(txn["status"]) != string(store.TxDetected) {
		t.Fatalf("unexpected transaction %v", txn)
	}
	wd := mapFromStructured(t, mustCallTool(t, f.mcp, "get_withdrawal", map[string]any{"id": w.ID}))
	if asString(wd["id"]) != w.ID || asString(wd["status"]) != string(store.WithdrawalRequested) {
		t.Fatalf("unexpected withdrawal %v", wd)
	}
	assertToolErrorCode(t, mustCallTool(t, f.mcp, "get_withdrawal", map[string]any{"id": "wd_missing"}), "not_found")
}

func TestListAlertsAndStats(t *testing.T) {
	f := newFixture(t, house)
	ctx := context.Background()
	if _, _, err := f.repo.RaiseAlert(ctx, store.Alert{Type: "LOW_BALANCE", Severity: "high", SubjectAddress: house}, 0); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if _, _, err := f.repo.RaiseAlert(ctx, store.Alert{Type: "SUSPICIOUS_ACTIVITY", Severity: "medium", SubjectAddress: player}, 0); err != nil {
		t.Fatalf("raise: %v", err)
	}

	all := mapFromStructured(t, mustCallTool(t, f.mcp, "list_alerts", map[string]any{}))
	items, _ := all["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected 2 alerts, got %v", all)
	}
	filtered := mapFromStructured(t, mustCallTool(t, f.mcp, "list_alerts", map[string]any{"type": "LOW_BALANCE"}))
	items, _ = filtered["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 LOW_BALANCE alert, got %v", filtered)
	}

	stats := mapFromStructured(t, mustCallTool(t, f.mcp, "settlement_stats", map[string]any{}))
	if asFloat64(stats["active_alerts"]) != 2 {
		t.Fatalf("unexpected stats %v", stats)
	}
}

func TestHouseWalletBalance(t *testing.T) {
	f := newFixture(t, house)
	f.chain.SetBalance(decimal.RequireFromString("1234.5"), nil)
	res := mapFromStructured(t, mustCallTool(t, f.mcp, "house_wallet_balance", map[string]any{}))
	if asString(res["balance"]) != "1234.5" || asString(res["address"]) != house {
		t.Fatalf("unexpected balance payload %v", res)
	}

	f.chain.SetBalance(decimal.Zero, chain.ErrUnavailable)
	assertToolErrorCode(t, mustCallTool(t, f.mcp, "house_wallet_balance", map[string]any{}), "indexer_unavailable")

	unset := newFixture(t, "")
	assertToolErrorCode(t, mustCallTool(t, unset.mcp, "house_wallet_balance", map[string]any{}), "not_configured")
}

func TestMapDomainError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{store.ErrNotFound, "not_found"},
		{chain.ErrRateLimited, "indexer_unavailable"},
		{errors.New("boom"), "internal_error"},
		{nil, "internal_error"},
	}
	for _, tt := range tests {
		assertToolErrorCode(t, mapDomainError(tt.err), tt.want)
	}
}

func newMCPClient(t *testing.T, endpoint string) (*client.Client, func()) {
	t.Helper()
	ctx := context.Background()
	trans, err := transport.NewStreamableHTTP(endpoint)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	if err := trans.Start(ctx); err != nil {
		t.Fatalf("transport start: %v", err)
	}
	c := client.NewClient(trans)
	_, err = c.Initialize(ctx, mcp.InitializeRequest{Params: mcp.InitializeParams{ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION}})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return c, func() { _ = trans.Close() }
}

func mustListTools(t *testing.T, c *client.Client) []mcp.Tool {
	t.Helper()
	res, err := c.ListTools(context.Background(), mcp.ListToolsRequest{})
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	return res.Tools
}

func assertToolNames(t *testing.T, tools []mcp.Tool, expected ...string) {
	t.Helper()
	got := make([]string, 0, len(tools))
	for _, tool := range tools {
		got = append(got, tool.Name)
	}
	sort.Strings(got)
	sort.Strings(expected)
	if len(got) != len(expected) {
		t.Fatalf("tool count mismatch got=%v expected=%v", got, expected)
	}
	for i := range got {
		if got[i] != expected[i] {
			t.Fatalf("tool list mismatch got=%v expected=%v", got, expected)
		}
	}
}

func mustCallTool(t *testing.T, c *client.Client, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := c.CallTool(context.Background(), mcp.CallToolRequest{Params: mcp.CallToolParams{Name: name, Arguments: args}})
	if err != nil {
		t.Fatalf("call tool %s: %v", name, err)
	}
	return res
}

func assertToolErrorCode(t *testing.T, res *mcp.CallToolResult, want string) {
	t.Helper()
	if !res.IsError {
		t.Fatalf("expected tool error %q, got success: %v", want, res.StructuredContent)
	}
	payload := mapFromStructured(t, res)
	errObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Fatalf("error payload missing 'error': %v", payload)
	}
	if got := asString(errObj["code"]); got != want {
		t.Fatalf("error code=%q want=%q payload=%v", got, want, payload)
	}
}

func mapFromStructured(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	b, err := json.Marshal(res.StructuredContent)
	if err != nil {
		t.Fatalf("marshal structured content: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal structured content: %v", err)
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat64(v any) float64 {
	f, _ := v.(float64)
	return f
}
