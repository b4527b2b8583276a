package injector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Yozuusan/Adtest-sub000/observability"
	"github.com/Yozuusan/Adtest-sub000/payload"
	"github.com/Yozuusan/Adtest-sub000/urlsafe"
)

const maxPayload = 1 << 20

// errNoPayload means neither the page nor the endpoint provided a bundle.
var errNoPayload = errors.New("injector: no payload")

// load resolves the bundle: a preloaded one, the inline script, then the
// payload endpoint keyed by the variant id found in the page URL.
func (r *Runtime) load(ctx context.Context) (*payload.Bundle, error) {
	if r.preloaded != nil {
		if !r.preloaded.Content.Injectable() {
			return r.preloaded, payload.ErrNoContent
		}
		return r.preloaded, nil
	}
	raw, ok, err := r.doc.ScriptJSON(r.cfg.InlineScriptID)
	if err != nil {
		r.logger.Debug("injector: inline payload unreadable", "error", err)
	}
	if ok {
		b, err := payload.Decode([]byte(raw))
		if err == nil || errors.Is(err, payload.ErrNoContent) {
			return b, err
		}
		r.logger.Warn("injector: inline payload invalid", "error", err)
	}
	return r.fetch(ctx)
}

func (r *Runtime) fetch(ctx context.Context) (*payload.Bundle, error) {
	if r.cfg.PayloadEndpoint == "" {
		return nil, errNoPayload
	}
	page, err := url.Parse(r.doc.URL())
	if err != nil {
		return nil, errNoPayload
	}
	q := page.Query()
	variant := q.Get(r.cfg.VariantParam)
	if variant == "" {
		return nil, errNoPayload
	}
	if err := urlsafe.ValidateIdentifier(variant); err != nil {
		return nil, fmt.Errorf("injector: variant id: %w", err)
	}
	shop := q.Get(r.cfg.ShopParam)
	if shop == "" {
		shop = r.cfg.ShopID
	}
	if shop == "" {
		shop = page.Hostname()
	}

	endpoint, err := url.Parse(r.cfg.PayloadEndpoint)
	if err != nil {
		return nil, fmt.Errorf("injector: payload endpoint: %w", err)
	}
	eq := endpoint.Query()
	eq.Set("variant_id", variant)
	eq.Set("shop_id", shop)
	endpoint.RawQuery = eq.Encode()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("injector: payload request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("injector: payload fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return nil, errNoPayload
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("injector: payload fetch: status %d", resp.StatusCode)
	}
	body, err := urlsafe.LimitedReadAll(resp.Body, maxPayload)
	if err != nil {
		return nil, fmt.Errorf("injector: payload read: %w", err)
	}
	b, err := payload.Decode(body)
	if b != nil {
		if b.VariantID == "" {
			b.VariantID = variant
		}
		if b.ShopID == "" {
			b.ShopID = shop
		}
	}
	return b, err
}

// BeaconFunc delivers a view event. Errors are logged and dropped.
type BeaconFunc func(ctx context.Context, ev observability.ViewEvent) error

// HTTPBeacon posts view events as JSON to endpoint.
func HTTPBeacon(client *http.Client, endpoint string) BeaconFunc {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context, ev observability.ViewEvent) error {
		body, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("injector: beacon status %d", resp.StatusCode)
		}
		return nil
	}
}
