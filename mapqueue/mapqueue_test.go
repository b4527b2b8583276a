package mapqueue_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Yozuusan/Adtest-sub000/dbopen"
	"github.com/Yozuusan/Adtest-sub000/mapqueue"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newQ(t *testing.T, opts mapqueue.Options) (*mapqueue.Queue, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	if opts.Now == nil {
		opts.Now = c.Now
	}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	q := mapqueue.New(dbopen.OpenMemory(t), opts)
	if err := q.EnsureTable(context.Background()); err != nil {
		t.Fatal(err)
	}
	return q, c
}

func TestEnqueueAndClaim(t *testing.T) {
	q, _ := newQ(t, mapqueue.Options{})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "soap-shop", []byte(`{"url":"https://shop.example.com/products/soap"}`))
	if err != nil {
		t.Fatal(err)
	}
	job, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil || job.ID != id || job.ShopID != "soap-shop" {
		t.Fatalf("job = %+v", job)
	}
	if job.Status != mapqueue.StatusRunning || job.Attempts != 1 {
		t.Fatalf("status %q attempts %d", job.Status, job.Attempts)
	}

	// Hidden while running.
	again, err := q.Claim(ctx)
	if err != nil || again != nil {
		t.Fatalf("second claim = %+v, %v", again, err)
	}
}

func TestClaim_Empty(t *testing.T) {
	q, _ := newQ(t, mapqueue.Options{})
	job, err := q.Claim(context.Background())
	if err != nil || job != nil {
		t.Fatalf("Claim = %+v, %v", job, err)
	}
}

func TestComplete(t *testing.T) {
	q, _ := newQ(t, mapqueue.Options{})
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, "soap-shop", []byte("{}"))
	q.Claim(ctx)

	if err := q.Complete(ctx, id, "0123456789abcdef0123456789abcdef"); err != nil {
		t.Fatal(err)
	}
	job, err := q.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != mapqueue.StatusDone || job.Result != "0123456789abcdef0123456789abcdef" {
		t.Errorf("job = %+v", job)
	}
	if n, _ := q.Pending(ctx); n != 0 {
		t.Errorf("pending = %d", n)
	}
}

func TestVisibilityTimeout(t *testing.T) {
	q, c := newQ(t, mapqueue.Options{Visibility: time.Minute})
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, "soap-shop", []byte("{}"))
	q.Claim(ctx)

	c.Advance(59 * time.Second)
	if job, _ := q.Claim(ctx); job != nil {
		t.Fatal("job visible before the window expired")
	}
	c.Advance(2 * time.Second)
	job, err := q.Claim(ctx)
	if err != nil || job == nil || job.ID != id {
		t.Fatalf("abandoned job not reclaimed: %+v, %v", job, err)
	}
	if job.Attempts != 2 {
		t.Errorf("attempts = %d", job.Attempts)
	}
}

func TestFail_RetriesWithBackoffThenFails(t *testing.T) {
	q, c := newQ(t, mapqueue.Options{MaxAttempts: 2, Backoff: 10 * time.Second})
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, "soap-shop", []byte("{}"))

	job, _ := q.Claim(ctx)
	if err := q.Fail(ctx, job, errors.New("fetch: status 503")); err != nil {
		t.Fatal(err)
	}
	got, _ := q.Get(ctx, id)
	if got.Status != mapqueue.StatusQueued || got.LastError != "fetch: status 503" {
		t.Fatalf("after first failure: %+v", got)
	}
	if j, _ := q.Claim(ctx); j != nil {
		t.Fatal("retry visible before backoff")
	}

	c.Advance(10 * time.Second)
	job, _ = q.Claim(ctx)
	if job == nil {
		t.Fatal("retry not visible after backoff")
	}
	q.Fail(ctx, job, errors.New("still down"))
	got, _ = q.Get(ctx, id)
	if got.Status != mapqueue.StatusFailed || got.Attempts != 2 {
		t.Fatalf("after last attempt: %+v", got)
	}
	c.Advance(time.Hour)
	if j, _ := q.Claim(ctx); j != nil {
		t.Fatal("failed job claimed again")
	}
}

func TestGet_Missing(t *testing.T) {
	q, _ := newQ(t, mapqueue.Options{})
	job, err := q.Get(context.Background(), "job_missing")
	if err != nil || job != nil {
		t.Fatalf("Get = %+v, %v", job, err)
	}
}

func TestPurge(t *testing.T) {
	q, c := newQ(t, mapqueue.Options{})
	ctx := context.Background()
	done, _ := q.Enqueue(ctx, "s", []byte("{}"))
	q.Claim(ctx)
	q.Complete(ctx, done, "fp")
	queued, _ := q.Enqueue(ctx, "s", []byte("{}"))

	c.Advance(48 * time.Hour)
	n, err := q.Purge(ctx, 24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("Purge = %d, %v", n, err)
	}
	if j, _ := q.Get(ctx, queued); j == nil {
		t.Error("queued job purged")
	}
}

// --- workers ---

func TestRun_ProcessesJobs(t *testing.T) {
	q, _ := newQ(t, mapqueue.Options{PollInterval: 10 * time.Millisecond, Now: time.Now})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ids []string
	for range 5 {
		id, _ := q.Enqueue(ctx, "soap-shop", []byte("{}"))
		ids = append(ids, id)
	}

	var inFlight, peak atomic.Int32
	done := make(chan struct{})
	go func() {
		q.Run(ctx, 2, func(ctx context.Context, j *mapqueue.Job) (string, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return "fp-" + j.ID, nil
		})
		close(done)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := q.Pending(context.Background()); n == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	for _, id := range ids {
		j, _ := q.Get(context.Background(), id)
		if j == nil || j.Status != mapqueue.StatusDone || j.Result != "fp-"+id {
			t.Errorf("job %s = %+v", id, j)
		}
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
}

func TestRun_HandlerErrorAndPanic(t *testing.T) {
	q, _ := newQ(t, mapqueue.Options{PollInterval: 10 * time.Millisecond, MaxAttempts: 1, Now: time.Now})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bad, _ := q.Enqueue(ctx, "s", []byte(`"error"`))
	boom, _ := q.Enqueue(ctx, "s", []byte(`"panic"`))

	done := make(chan struct{})
	go func() {
		q.Run(ctx, 1, func(ctx context.Context, j *mapqueue.Job) (string, error) {
			if string(j.Request) == `"panic"` {
				panic("exploded")
			}
			return "", errors.New("no product form")
		})
		close(done)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := q.Pending(context.Background()); n == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	for _, id := range []string{bad, boom} {
		j, _ := q.Get(context.Background(), id)
		if j == nil || j.Status != mapqueue.StatusFailed || j.LastError == "" {
			t.Errorf("job %s = %+v", id, j)
		}
	}
}
