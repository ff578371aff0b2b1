package avsync

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/avreports/kit"
)

// RegisterMCP registers the avsync tools on an MCP server. Every tool goes
// through the same logging middleware as the HTTP surface.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerSyncIndexTool(srv)
	s.registerSyncPDFsTool(srv)
	s.registerRunsTool(srv)
	s.registerSummaryTool(srv)
	s.registerLatestTool(srv)
	s.registerRequeueTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	sc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sc["required"] = required
	}
	return sc
}

// registerTool wires endpoint behind the logging middleware and decodes the
// arguments into a fresh *T.
func registerTool[T any](s *Service, srv *mcp.Server, tool *mcp.Tool, endpoint func(context.Context, *T) (any, error)) {
	ep := kit.Chain(kit.Logging(s.logger, tool.Name))(func(ctx context.Context, req any) (any, error) {
		return endpoint(ctx, req.(*T))
	})
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r T
		if err := kit.DecodeArgs(req, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}
	kit.RegisterMCPTool(srv, tool, ep, decode)
}

type emptyReq struct{}

// --- sync ---

func (s *Service) registerSyncIndexTool(srv *mcp.Server) {
	registerTool(s, srv, &mcp.Tool{
		Name:        "avsync_sync_index",
		Description: "Fetch the public report listing and record new entries as pending.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, func(ctx context.Context, _ *emptyReq) (any, error) {
		return s.SyncIndex(ctx)
	})
}

type syncPDFsReq struct {
	Limit int `json:"limit"`
}

func (s *Service) registerSyncPDFsTool(srv *mcp.Server) {
	registerTool(s, srv, &mcp.Tool{
		Name:        "avsync_sync_pdfs",
		Description: "Download and parse pending report PDFs, oldest first.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Maximum entries to process (default from config)"},
		}, nil),
	}, func(ctx context.Context, r *syncPDFsReq) (any, error) {
		return s.SyncPDFs(ctx, r.Limit)
	})
}

// --- runs ---

type runsReq struct {
	Limit int  `json:"limit"`
	Open  bool `json:"open"`
}

func (s *Service) registerRunsTool(srv *mcp.Server) {
	registerTool(s, srv, &mcp.Tool{
		Name:        "avsync_runs",
		Description: "List sync runs, newest first. open=true lists runs that never finished.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Maximum runs (default 20)"},
			"open":  map[string]any{"type": "boolean", "description": "Only runs without ended_at"},
		}, nil),
	}, func(ctx context.Context, r *runsReq) (any, error) {
		runs, err := s.Runs(ctx, r.Limit, r.Open)
		if err != nil {
			return nil, err
		}
		return map[string]any{"runs": runs}, nil
	})
}

// --- summary / latest ---

func (s *Service) registerSummaryTool(srv *mcp.Server) {
	registerTool(s, srv, &mcp.Tool{
		Name:        "avsync_summary",
		Description: "Entry counts per status with document and accident totals.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, func(ctx context.Context, _ *emptyReq) (any, error) {
		return s.Summary(ctx)
	})
}

type latestReq struct {
	Limit int `json:"limit"`
}

func (s *Service) registerLatestTool(srv *mcp.Server) {
	registerTool(s, srv, &mcp.Tool{
		Name:        "avsync_latest",
		Description: "Most recently discovered entries with their parsed accident records.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Maximum entries (default 20)"},
		}, nil),
	}, func(ctx context.Context, r *latestReq) (any, error) {
		items, err := s.Latest(ctx, r.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"items": items}, nil
	})
}

// --- requeue ---

type requeueReq struct {
	EntryKeys []string `json:"entry_keys"`
	AllFailed bool     `json:"all_failed"`
}

func (s *Service) registerRequeueTool(srv *mcp.Server) {
	registerTool(s, srv, &mcp.Tool{
		Name:        "avsync_requeue",
		Description: "Reset entries to pending so the next PDF sync retries them.",
		InputSchema: inputSchema(map[string]any{
			"entry_keys": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Entry keys to reset"},
			"all_failed": map[string]any{"type": "boolean", "description": "Also reset every failed entry"},
		}, nil),
	}, func(ctx context.Context, r *requeueReq) (any, error) {
		n, err := s.Requeue(ctx, r.EntryKeys, r.AllFailed)
		if err != nil {
			return nil, err
		}
		return map[string]any{"requeued": n}, nil
	})
}
