// Package mapqueue runs theme mapping jobs out of band on a SQLite-backed
// visibility-timeout queue.
//
// A claimed job is hidden from other workers for the visibility window. A
// worker that finishes marks it done; a worker that fails schedules a retry
// with exponential backoff; a worker that dies simply lets the window
// expire and the job reappears. Finished jobs are kept so that callers can
// poll their status until Purge removes them.
//
//	queued → running → done
//	            ↓
//	         queued (retry) … → failed
package mapqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Yozuusan/Adtest-sub000/idgen"
)

// Status is the lifecycle stage of a job.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// IDPrefix starts every job id.
const IDPrefix = "job_"

// Schema is the DDL of the job table.
const Schema = `
CREATE TABLE IF NOT EXISTS mapping_jobs (
    job_id      TEXT PRIMARY KEY,
    shop_id     TEXT NOT NULL,
    request     BLOB NOT NULL,
    status      TEXT NOT NULL DEFAULT 'queued',
    result      TEXT NOT NULL DEFAULT '',
    last_error  TEXT NOT NULL DEFAULT '',
    attempts    INTEGER NOT NULL DEFAULT 0,
    visible_at  INTEGER NOT NULL,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mapping_jobs_claim ON mapping_jobs (status, visible_at);
`

// Job is one mapping request and its outcome.
type Job struct {
	ID        string    `json:"job_id"`
	ShopID    string    `json:"shop_id"`
	Request   []byte    `json:"-"`
	Status    Status    `json:"status"`
	Result    string    `json:"result,omitempty"` // fingerprint of the mapped theme
	LastError string    `json:"last_error,omitempty"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Options configures a Queue. Zero values select the defaults.
type Options struct {
	// Visibility is how long a claimed job stays hidden. Default 2m.
	Visibility time.Duration
	// PollInterval is the delay between claim rounds in Run. Default 1s.
	PollInterval time.Duration
	// MaxAttempts before a job is marked failed. Default 3.
	MaxAttempts int
	// Backoff is the first retry delay, doubled per attempt. Default 5s.
	Backoff time.Duration
	Logger  *slog.Logger
	// Now overrides the clock.
	Now func() time.Time
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 2 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Queue is the job queue handle. Safe for concurrent use.
type Queue struct {
	db    *sql.DB
	opts  Options
	newID idgen.Generator
}

// New creates a queue over db. Call EnsureTable once at startup.
func New(db *sql.DB, opts Options) *Queue {
	opts.defaults()
	return &Queue{db: db, opts: opts, newID: idgen.Prefixed(IDPrefix, idgen.UUIDv7())}
}

// EnsureTable creates the job table if it does not exist.
func (q *Queue) EnsureTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, Schema)
	return err
}

// Enqueue stores a job, immediately visible, and returns its id.
func (q *Queue) Enqueue(ctx context.Context, shopID string, request []byte) (string, error) {
	id := q.newID()
	now := q.opts.Now().UnixMilli()
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO mapping_jobs (job_id, shop_id, request, visible_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, shopID, request, now, now, now)
	if err != nil {
		return "", fmt.Errorf("mapqueue: enqueue: %w", err)
	}
	return id, nil
}

// Claim picks the oldest visible job, queued or abandoned while running,
// and hides it for the visibility window. Returns nil, nil if none is
// visible.
func (q *Queue) Claim(ctx context.Context) (*Job, error) {
	now := q.opts.Now()
	row := q.db.QueryRowContext(ctx, `
		UPDATE mapping_jobs
		SET status = 'running', visible_at = ?, attempts = attempts + 1, updated_at = ?
		WHERE job_id = (
			SELECT job_id FROM mapping_jobs
			WHERE status IN ('queued', 'running') AND visible_at <= ?
			ORDER BY visible_at ASC
			LIMIT 1
		)
		RETURNING `+jobColumns,
		now.Add(q.opts.Visibility).UnixMilli(), now.UnixMilli(), now.UnixMilli())
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mapqueue: claim: %w", err)
	}
	return j, nil
}

// Complete marks a job done with the fingerprint it produced.
func (q *Queue) Complete(ctx context.Context, id, fingerprint string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE mapping_jobs SET status = 'done', result = ?, last_error = '', updated_at = ?
		WHERE job_id = ?`,
		fingerprint, q.opts.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("mapqueue: complete: %w", err)
	}
	return nil
}

// Fail records cause and schedules a retry after the backoff of the job's
// attempt count, or marks the job failed once MaxAttempts is reached.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) error {
	now := q.opts.Now()
	status, visible := StatusQueued, now.Add(q.backoff(job.Attempts))
	if job.Attempts >= q.opts.MaxAttempts {
		status, visible = StatusFailed, now
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE mapping_jobs SET status = ?, last_error = ?, visible_at = ?, updated_at = ?
		WHERE job_id = ?`,
		string(status), cause.Error(), visible.UnixMilli(), now.UnixMilli(), job.ID)
	if err != nil {
		return fmt.Errorf("mapqueue: fail: %w", err)
	}
	return nil
}

func (q *Queue) backoff(attempts int) time.Duration {
	d := q.opts.Backoff
	for i := 1; i < attempts && d < time.Hour; i++ {
		d *= 2
	}
	return d
}

// Get returns a job by id, or nil, nil.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM mapping_jobs WHERE job_id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mapqueue: get: %w", err)
	}
	return j, nil
}

// Pending counts jobs not yet done or failed.
func (q *Queue) Pending(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mapping_jobs WHERE status IN ('queued', 'running')`).Scan(&n)
	return n, err
}

// Purge deletes finished jobs last updated before the cutoff.
func (q *Queue) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := q.opts.Now().Add(-olderThan).UnixMilli()
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM mapping_jobs WHERE status IN ('done', 'failed') AND updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("mapqueue: purge: %w", err)
	}
	return res.RowsAffected()
}

// Handler maps one job and returns the theme fingerprint.
type Handler func(ctx context.Context, job *Job) (string, error)

// Run claims visible jobs every PollInterval and hands them to handler on
// at most workers goroutines. It blocks until ctx is cancelled, then waits
// for in-flight jobs.
func (q *Queue) Run(ctx context.Context, workers int, handler Handler) {
	if workers < 1 {
		workers = 1
	}
	log := q.opts.Logger
	log.Info("mapqueue: workers started", "workers", workers, "visibility", q.opts.Visibility, "poll", q.opts.PollInterval)

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		log.Info("mapqueue: workers stopped")
	}()

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			job, err := q.Claim(ctx)
			if err != nil || job == nil {
				<-sem
				if err != nil && ctx.Err() == nil {
					log.Warn("mapqueue: claim failed", "error", err)
				}
				break
			}
			wg.Add(1)
			go func(j *Job) {
				defer wg.Done()
				defer func() { <-sem }()
				q.process(ctx, j, handler)
			}(job)
		}
	}
}

func (q *Queue) process(ctx context.Context, j *Job, handler Handler) {
	log := q.opts.Logger.With("job_id", j.ID, "shop_id", j.ShopID, "attempt", j.Attempts)
	fp, err := runHandler(ctx, j, handler)
	// The job outcome is recorded even when ctx was cancelled mid-run.
	bg := context.WithoutCancel(ctx)
	if err != nil {
		log.Warn("mapqueue: job failed", "error", err)
		if ferr := q.Fail(bg, j, err); ferr != nil {
			log.Error("mapqueue: record failure", "error", ferr)
		}
		return
	}
	if cerr := q.Complete(bg, j.ID, fp); cerr != nil {
		log.Error("mapqueue: record completion", "error", cerr)
		return
	}
	log.Info("mapqueue: job done", "fingerprint", fp)
}

func runHandler(ctx context.Context, j *Job, handler Handler) (fp string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mapqueue: handler panicked: %v", r)
		}
	}()
	return handler(ctx, j)
}

const jobColumns = `job_id, shop_id, request, status, result, last_error, attempts, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var (
		j                Job
		status           string
		created, updated int64
	)
	if err := row.Scan(&j.ID, &j.ShopID, &j.Request, &status, &j.Result, &j.LastError, &j.Attempts, &created, &updated); err != nil {
		return nil, err
	}
	j.Status = Status(status)
	j.CreatedAt = time.UnixMilli(created)
	j.UpdatedAt = time.UnixMilli(updated)
	return &j, nil
}
