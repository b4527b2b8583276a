package kit

import "context"

type contextKey string

const (
	requestIDKey contextKey = "kit_request_id"
	shopIDKey    contextKey = "kit_shop_id"
	transportKey contextKey = "kit_transport"
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

func WithShopID(ctx context.Context, shop string) context.Context {
	return context.WithValue(ctx, shopIDKey, shop)
}

func GetShopID(ctx context.Context) string {
	v, _ := ctx.Value(shopIDKey).(string)
	return v
}

// WithTransport records how a call arrived: "http", "mcp" or "connectivity".
func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, transportKey, t)
}

// GetTransport defaults to "http".
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(transportKey).(string); ok {
		return v
	}
	return "http"
}
