package themeadapt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Yozuusan/Adtest-sub000/idgen"
	"github.com/Yozuusan/Adtest-sub000/mapqueue"
	"github.com/Yozuusan/Adtest-sub000/urlsafe"
)

// ErrJobsDisabled is returned by Enqueue and Job when no queue is configured.
var ErrJobsDisabled = errors.New("themeadapt: mapping jobs disabled")

// WithQueue enables asynchronous mapping jobs run by RunWorkers.
func WithQueue(q *mapqueue.Queue, workers int) Option {
	return func(s *Service) {
		s.queue = q
		s.workers = workers
	}
}

// Enqueue validates req and stores it as a mapping job. The job id is
// returned at once; the mapping happens on a worker.
func (s *Service) Enqueue(ctx context.Context, req MapRequest) (string, error) {
	if s.queue == nil {
		return "", ErrJobsDisabled
	}
	if err := urlsafe.ValidateIdentifier(req.ShopID); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if req.URL == "" && req.HTML == "" {
		return "", fmt.Errorf("%w: url or html is required", ErrInvalidRequest)
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	id, err := s.queue.Enqueue(ctx, req.ShopID, data)
	if err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "themeadapt: mapping job queued", "job_id", id, "shop_id", req.ShopID)
	return id, nil
}

// Job returns a mapping job by id, or nil, nil. Malformed ids are not found.
func (s *Service) Job(ctx context.Context, id string) (*mapqueue.Job, error) {
	if s.queue == nil {
		return nil, ErrJobsDisabled
	}
	id, err := idgen.Parse(id, mapqueue.IDPrefix)
	if err != nil {
		return nil, nil
	}
	return s.queue.Get(ctx, id)
}

// RunWorkers processes queued mapping jobs until ctx is done. It returns at
// once when jobs are disabled.
func (s *Service) RunWorkers(ctx context.Context) {
	if s.queue == nil {
		return
	}
	s.queue.Run(ctx, s.workers, s.runJob)
}

func (s *Service) runJob(ctx context.Context, job *mapqueue.Job) (string, error) {
	var req MapRequest
	if err := json.Unmarshal(job.Request, &req); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	res, err := s.mapRequest(ctx, req)
	if err != nil {
		return "", err
	}
	return res.Fingerprint, nil
}

// mapRequest maps from markup when the request carries it, from the URL
// otherwise.
func (s *Service) mapRequest(ctx context.Context, req MapRequest) (*MapResult, error) {
	if req.HTML != "" {
		return s.MapHTML(ctx, req.ShopID, req.URL, req.HTML, req.Force)
	}
	return s.MapURL(ctx, req.ShopID, req.URL, req.Force)
}
