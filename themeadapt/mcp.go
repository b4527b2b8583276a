package themeadapt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Yozuusan/Adtest-sub000/kit"
)

// RegisterMCP registers the adaptation tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerGetAdapterTool(srv)
	s.registerMapHTMLTool(srv)
	s.registerInvalidateTool(srv)
}

// toolMiddleware logs every call of a tool and turns a panic into an error.
func (s *Service) toolMiddleware(name string) kit.Middleware {
	return kit.Chain(s.toolLogging(name), toolRecovery)
}

func (s *Service) toolLogging(name string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			log := s.logger.With("tool", name, "transport", kit.GetTransport(ctx),
				"duration_ms", time.Since(start).Milliseconds())
			if shop := kit.GetShopID(ctx); shop != "" {
				log = log.With("shop_id", shop)
			}
			if rid := kit.GetRequestID(ctx); rid != "" {
				log = log.With("request_id", rid)
			}
			if err != nil {
				log.WarnContext(ctx, "themeadapt: tool call failed", "error", err)
				return nil, err
			}
			log.DebugContext(ctx, "themeadapt: tool call ok")
			return resp, nil
		}
	}
}

func toolRecovery(next kit.Endpoint) kit.Endpoint {
	return func(ctx context.Context, req any) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				resp, err = nil, fmt.Errorf("themeadapt: tool panicked: %v", r)
			}
		}()
		return next(ctx, req)
	}
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

var keyProperties = map[string]any{
	"shop_id":     map[string]any{"type": "string", "description": "Shop identifier"},
	"fingerprint": map[string]any{"type": "string", "description": "Theme fingerprint (32 hex chars)"},
}

// --- get_adapter ---

func (s *Service) registerGetAdapterTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "themeadapt_get_adapter",
		Description: "Return the theme adapter stored for a shop and theme fingerprint.",
		InputSchema: inputSchema(keyProperties, []string{"shop_id", "fingerprint"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*KeyRequest)
		a, ok, err := s.Get(ctx, r.ShopID, r.Fingerprint)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New("adapter not found")
		}
		return a, nil
	}

	kit.RegisterMCPTool(srv, tool, s.toolMiddleware(tool.Name)(endpoint), kit.DecodeJSON[KeyRequest]())
}

// --- map_html ---

type mapHTMLReq struct {
	ShopID string `json:"shop_id"`
	URL    string `json:"url"`
	HTML   string `json:"html"`
	Force  bool   `json:"force"`
}

func (s *Service) registerMapHTMLTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "themeadapt_map_html",
		Description: "Map a storefront theme from the HTML of one of its product pages and store the resulting adapter.",
		InputSchema: inputSchema(map[string]any{
			"shop_id": map[string]any{"type": "string", "description": "Shop identifier"},
			"url":     map[string]any{"type": "string", "description": "URL the markup was taken from"},
			"html":    map[string]any{"type": "string", "description": "Product page markup"},
			"force":   map[string]any{"type": "boolean", "description": "Re-infer even if the theme is already mapped"},
		}, []string{"shop_id", "html"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*mapHTMLReq)
		if r.HTML == "" {
			return nil, errors.New("html is required")
		}
		return s.MapHTML(ctx, r.ShopID, r.URL, r.HTML, r.Force)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		res, err := kit.DecodeJSON[mapHTMLReq]()(req)
		if err != nil {
			return nil, err
		}
		shop := res.Request.(*mapHTMLReq).ShopID
		res.EnrichCtx = func(ctx context.Context) context.Context { return kit.WithShopID(ctx, shop) }
		return res, nil
	}

	kit.RegisterMCPTool(srv, tool, s.toolMiddleware(tool.Name)(endpoint), decode)
}

// --- invalidate ---

func (s *Service) registerInvalidateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "themeadapt_invalidate",
		Description: "Drop the cached adapter of a shop and theme fingerprint. The durable copy is kept.",
		InputSchema: inputSchema(keyProperties, []string{"shop_id", "fingerprint"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*KeyRequest)
		if err := s.Invalidate(ctx, r.ShopID, r.Fingerprint); err != nil {
			return nil, err
		}
		return map[string]bool{"invalidated": true}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.toolMiddleware(tool.Name)(endpoint), kit.DecodeJSON[KeyRequest]())
}
