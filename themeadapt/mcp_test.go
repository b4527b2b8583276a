package themeadapt

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Yozuusan/Adtest-sub000/adapter"
)

var testMCPImpl = &mcp.Implementation{Name: "themeadapt-test", Version: "0.1.0"}

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

func mcpText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result.IsError {
		t.Fatalf("tool error: %+v", result.Content)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	return tc.Text
}

func TestMCP_MapThenGet(t *testing.T) {
	session := mcpSession(t, testService(t, &countingBackend{}))

	text := mcpText(t, mcpCall(t, session, "themeadapt_map_html", map[string]any{
		"shop_id": "soap-shop",
		"url":     "https://shop.example.com/products/soap",
		"html":    productPage,
	}))
	var res MapResult
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Skipped || res.Adapter == nil {
		t.Fatalf("map = %s", text)
	}

	text = mcpText(t, mcpCall(t, session, "themeadapt_get_adapter", map[string]any{
		"shop_id":     "soap-shop",
		"fingerprint": res.Fingerprint,
	}))
	a, err := adapter.Unmarshal([]byte(text))
	if err != nil {
		t.Fatalf("adapter.Unmarshal: %v", err)
	}
	if a.Selectors[adapter.FieldTitle] != "h1.product__title" {
		t.Errorf("title selector = %q", a.Selectors[adapter.FieldTitle])
	}

	text = mcpText(t, mcpCall(t, session, "themeadapt_invalidate", map[string]any{
		"shop_id":     "soap-shop",
		"fingerprint": res.Fingerprint,
	}))
	if text != `{"invalidated":true}` {
		t.Errorf("invalidate = %s", text)
	}
}

func TestMCP_ToolErrors(t *testing.T) {
	session := mcpSession(t, testService(t, nil))
	tests := []struct {
		name string
		tool string
		args map[string]any
	}{
		{"missing adapter", "themeadapt_get_adapter", map[string]any{"shop_id": "soap-shop", "fingerprint": "0123456789abcdef0123456789abcdef"}},
		{"invalid fingerprint", "themeadapt_invalidate", map[string]any{"shop_id": "soap-shop", "fingerprint": "nope"}},
		{"empty html", "themeadapt_map_html", map[string]any{"shop_id": "soap-shop", "html": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if res := mcpCall(t, session, tt.tool, tt.args); !res.IsError {
				t.Errorf("IsError = false, content = %+v", res.Content)
			}
		})
	}
}

func TestMCP_ListTools(t *testing.T) {
	session := mcpSession(t, testService(t, nil))
	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	want := map[string]bool{"themeadapt_get_adapter": true, "themeadapt_map_html": true, "themeadapt_invalidate": true}
	for _, tool := range res.Tools {
		delete(want, tool.Name)
	}
	if len(want) != 0 {
		t.Errorf("missing tools: %v", want)
	}
}
