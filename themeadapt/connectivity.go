package themeadapt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Yozuusan/Adtest-sub000/adapter"
	"github.com/Yozuusan/Adtest-sub000/connectivity"
	"github.com/Yozuusan/Adtest-sub000/inference"
	"github.com/Yozuusan/Adtest-sub000/kit"
)

// KeyRequest addresses one stored adapter.
type KeyRequest struct {
	ShopID      string `json:"shop_id"`
	Fingerprint string `json:"fingerprint"`
}

// GetResponse is the reply of themeadapt_get.
type GetResponse struct {
	Found   bool             `json:"found"`
	Adapter *adapter.Adapter `json:"adapter,omitempty"`
}

// RegisterConnectivity registers the service handlers on a connectivity Router.
//
// Registered services:
//
//	themeadapt_map         map a theme from a URL or markup
//	themeadapt_get         read a stored adapter
//	themeadapt_invalidate  drop a cached adapter
//	themeadapt_infer       infer an adapter from a snapshot, without saving
//	themeadapt_complete    raw backend call, for remote engines
func (s *Service) RegisterConnectivity(router *connectivity.Router) {
	register := func(name string, h connectivity.Handler) {
		router.RegisterLocal(name, connectivity.Chain(
			connectivity.Logging(s.logger, name),
			connectivity.Recovery(s.logger),
		)(h))
	}
	register("themeadapt_map", s.handleMapConn)
	register("themeadapt_get", s.handleGetConn)
	register("themeadapt_invalidate", s.handleInvalidateConn)
	register("themeadapt_infer", s.handleInferConn)
	if h := s.engine.CompleteHandler(); h != nil {
		register(inference.CompleteService, h)
	}
}

func (s *Service) handleMapConn(ctx context.Context, payload []byte) ([]byte, error) {
	var req MapRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	ctx = kit.WithTransport(kit.WithShopID(ctx, req.ShopID), "connectivity")
	res, err := s.mapRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

func (s *Service) handleGetConn(ctx context.Context, payload []byte) ([]byte, error) {
	var req KeyRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	a, ok, err := s.Get(ctx, req.ShopID, req.Fingerprint)
	if err != nil {
		return nil, err
	}
	return json.Marshal(GetResponse{Found: ok, Adapter: a})
}

func (s *Service) handleInvalidateConn(ctx context.Context, payload []byte) ([]byte, error) {
	var req KeyRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := s.Invalidate(ctx, req.ShopID, req.Fingerprint); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]bool{"invalidated": true})
}

func (s *Service) handleInferConn(ctx context.Context, payload []byte) ([]byte, error) {
	var snap adapter.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return json.Marshal(s.engine.Infer(ctx, &snap))
}
