package channel

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/shortshider/kit"
)

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var pageIDProp = map[string]any{"type": "string", "description": "Page ID (default page when omitted)"}

type toggleArgs struct {
	Hidden *bool  `json:"hidden"`
	PageID string `json:"page_id,omitempty"`
}

type pageArgs struct {
	PageID string `json:"page_id,omitempty"`
}

// RegisterMCP exposes the channel actions as MCP tools. Each tool replies
// with the same JSON Response the other transports return.
func RegisterMCP(srv *mcp.Server, router *Router, reg Registry, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	// send resolves the page and routes the request. Unknown pages are a
	// tool error, everything else is a Response.
	send := func(ctx context.Context, pageID string, req Request) (any, error) {
		t, ok := reg.Target(pageID)
		if !ok {
			return nil, &ProtocolError{Action: req.Action, Err: errUnknownPage(pageID)}
		}
		return router.Handle(kit.WithPageID(ctx, pageID), t, req), nil
	}

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "shortshider_toggle",
		Description: "Turn hiding of Shorts on or off for a page.",
		InputSchema: inputSchema(map[string]any{
			"hidden":  map[string]any{"type": "boolean", "description": "true hides Shorts, false shows them"},
			"page_id": pageIDProp,
		}, []string{"hidden"}),
	}, kit.Chain(kit.Logging(logger, "shortshider_toggle"))(func(ctx context.Context, req any) (any, error) {
		a := req.(*toggleArgs)
		return send(ctx, a.PageID, Request{Action: ActionToggle, Hidden: a.Hidden})
	}), kit.DecodeArgs[toggleArgs])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "shortshider_stats",
		Description: "Report how many Shorts elements are hidden on a page and whether hiding is on.",
		InputSchema: inputSchema(map[string]any{"page_id": pageIDProp}, nil),
	}, kit.Chain(kit.Logging(logger, "shortshider_stats"))(func(ctx context.Context, req any) (any, error) {
		a := req.(*pageArgs)
		return send(ctx, a.PageID, Request{Action: ActionStats})
	}), kit.DecodeArgs[pageArgs])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "shortshider_refresh",
		Description: "Reveal everything and classify the page again from scratch.",
		InputSchema: inputSchema(map[string]any{"page_id": pageIDProp}, nil),
	}, kit.Chain(kit.Logging(logger, "shortshider_refresh"))(func(ctx context.Context, req any) (any, error) {
		a := req.(*pageArgs)
		return send(ctx, a.PageID, Request{Action: ActionRefresh})
	}), kit.DecodeArgs[pageArgs])
}

type errUnknownPage string

func (e errUnknownPage) Error() string {
	if e == "" {
		return "no default page"
	}
	return "unknown page: " + string(e)
}
