package avsync

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testMCPImpl = &mcp.Implementation{Name: "avsync-test", Version: "0.1.0"}

func mcpSession(t *testing.T, svc *Service) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	svc.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCall(t *testing.T, session *mcp.ClientSession, name string, args any) *mcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return result
}

func mcpText(t *testing.T, result *mcp.CallToolResult, name string) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	if result.IsError {
		t.Fatalf("CallTool(%s) tool error: %s", name, tc.Text)
	}
	return tc.Text
}

func TestMCP_SyncAndQuery(t *testing.T) {
	// WHAT: The sync and query tools drive the same service as the HTTP surface.
	// WHY: Agents trigger syncs through MCP; results must be the JSON shapes documented for HTTP.
	f := newFixture(t, nil)
	f.publish(2024, zenithRows(3))
	session := mcpSession(t, f.svc)

	var idx IndexResult
	text := mcpText(t, mcpCall(t, session, "avsync_sync_index", map[string]any{}), "avsync_sync_index")
	if err := json.Unmarshal([]byte(text), &idx); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if idx.New != 3 || idx.Status != RunSuccess || idx.RunID == "" {
		t.Fatalf("index result = %+v", idx)
	}

	var pdf PDFResult
	text = mcpText(t, mcpCall(t, session, "avsync_sync_pdfs", map[string]any{"limit": 2}), "avsync_sync_pdfs")
	if err := json.Unmarshal([]byte(text), &pdf); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if pdf.Attempted != 2 || pdf.Parsed != 2 {
		t.Fatalf("pdf result = %+v", pdf)
	}

	var sum Summary
	text = mcpText(t, mcpCall(t, session, "avsync_summary", map[string]any{}), "avsync_summary")
	if err := json.Unmarshal([]byte(text), &sum); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sum.Entries.Pending != 1 || sum.Entries.Parsed != 2 || sum.Accidents != 2 {
		t.Fatalf("summary = %+v", sum)
	}

	var runs struct {
		Runs []*Run `json:"runs"`
	}
	text = mcpText(t, mcpCall(t, session, "avsync_runs", map[string]any{"limit": 1}), "avsync_runs")
	if err := json.Unmarshal([]byte(text), &runs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(runs.Runs) != 1 || runs.Runs[0].Kind != KindPDFSync {
		t.Fatalf("runs = %+v", runs.Runs)
	}

	var latest struct {
		Items []*LatestItem `json:"items"`
	}
	text = mcpText(t, mcpCall(t, session, "avsync_latest", map[string]any{"limit": 5}), "avsync_latest")
	if err := json.Unmarshal([]byte(text), &latest); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(latest.Items) != 3 {
		t.Fatalf("latest = %d items, want 3", len(latest.Items))
	}
}

func TestMCP_RequeueValidation(t *testing.T) {
	// WHAT: Invalid requeue arguments come back as a tool error, not a protocol error.
	f := newFixture(t, nil)
	session := mcpSession(t, f.svc)

	result := mcpCall(t, session, "avsync_requeue", map[string]any{})
	if !result.IsError {
		t.Fatal("expected tool error for empty requeue")
	}
	if tc, ok := result.Content[0].(*mcp.TextContent); !ok || tc.Text == "" {
		t.Fatalf("tool error content = %+v", result.Content)
	}

	result = mcpCall(t, session, "avsync_requeue", map[string]any{"all_failed": true})
	var resp struct {
		Requeued int `json:"requeued"`
	}
	if err := json.Unmarshal([]byte(mcpText(t, result, "avsync_requeue")), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Requeued != 0 {
		t.Fatalf("requeued = %d, want 0", resp.Requeued)
	}
}
