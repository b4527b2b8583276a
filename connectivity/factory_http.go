package connectivity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Yozuusan/Adtest-sub000/urlsafe"
)

// maxResponseBody caps remote responses at 10 MiB.
const maxResponseBody int64 = 10 << 20

type httpRouteConfig struct {
	TimeoutMs     int64  `json:"timeout_ms"`
	ContentType   string `json:"content_type"`
	AllowPrivate  bool   `json:"allow_private"`
	Authorization string `json:"authorization"`
}

// HTTPFactory POSTs the payload to the route endpoint and returns the body
// of a 2xx response. Endpoints resolving to private or loopback addresses
// are refused unless the route config sets allow_private.
func HTTPFactory() TransportFactory {
	return func(endpoint string, config json.RawMessage) (Handler, func(), error) {
		var cfg httpRouteConfig
		if len(config) > 0 {
			if err := json.Unmarshal(config, &cfg); err != nil {
				return nil, nil, fmt.Errorf("connectivity/http: config: %w", err)
			}
		}
		if !cfg.AllowPrivate {
			if err := urlsafe.ValidateURL(endpoint); err != nil {
				return nil, nil, fmt.Errorf("connectivity/http: %w", err)
			}
		}

		timeout := 30 * time.Second
		if cfg.TimeoutMs > 0 {
			timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
		}
		contentType := cfg.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		client := &http.Client{Timeout: timeout}

		h := func(ctx context.Context, payload []byte) ([]byte, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: request: %w", err)
			}
			req.Header.Set("Content-Type", contentType)
			if cfg.Authorization != "" {
				req.Header.Set("Authorization", cfg.Authorization)
			}
			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: do: %w", err)
			}
			defer resp.Body.Close()

			body, err := urlsafe.LimitedReadAll(resp.Body, maxResponseBody)
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: read: %w", err)
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return nil, fmt.Errorf("connectivity/http: status %d: %s", resp.StatusCode, body)
			}
			return body, nil
		}
		return h, client.CloseIdleConnections, nil
	}
}
