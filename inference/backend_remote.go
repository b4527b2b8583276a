package inference

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Yozuusan/Adtest-sub000/connectivity"
)

// CompleteService is the connectivity service name of a raw backend call.
const CompleteService = "themeadapt_complete"

// RemoteBackend forwards completions to another node through a router,
// typically one holding the model credentials.
type RemoteBackend struct {
	Router  *connectivity.Router
	Service string // defaults to CompleteService
}

func (b *RemoteBackend) Complete(ctx context.Context, req Request) (string, error) {
	svc := b.Service
	if svc == "" {
		svc = CompleteService
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("inference/remote: marshal: %w", err)
	}
	resp, err := b.Router.Call(ctx, svc, payload)
	if err != nil {
		return "", fmt.Errorf("inference/remote: %w", err)
	}
	return string(resp), nil
}
