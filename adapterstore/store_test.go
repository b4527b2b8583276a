package adapterstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/redis/go-redis/v9"

	"github.com/Yozuusan/Adtest-sub000/adapter"
	"github.com/Yozuusan/Adtest-sub000/dbopen"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	s, err := New(context.Background(), dbopen.OpenMemory(t), dbopen.SQLite, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func sample() *adapter.Adapter {
	return &adapter.Adapter{
		Selectors:  map[adapter.FieldName]string{adapter.FieldTitle: "h1"},
		Order:      []adapter.FieldName{adapter.FieldTitle},
		Confidence: map[adapter.FieldName]float64{adapter.FieldTitle: 0.9},
		Strategies: map[adapter.FieldName]adapter.Strategy{adapter.FieldTitle: adapter.StrategyText},
		Source:     adapter.SourceInference,
	}
}

var ignoreTimes = cmpopts.IgnoreFields(adapter.Adapter{}, "CreatedAt", "UpdatedAt")

func TestSaveLoad_RoundTrip(t *testing.T) {
	cache := NewLRUCache(16, time.Hour)
	s := testStore(t, WithCache(cache))
	ctx := context.Background()

	saved, err := s.Save(ctx, "shop", "fp1", sample())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.Fingerprint != "fp1" || saved.CreatedAt.IsZero() {
		t.Fatalf("saved = %+v", saved)
	}
	got, ok := s.Load(ctx, "shop", "fp1")
	if !ok {
		t.Fatal("Load: not found")
	}
	if diff := cmp.Diff(saved, got); diff != "" {
		t.Errorf("loaded adapter (-saved +got):\n%s", diff)
	}
}

func TestLoad_CacheMissFallsBackAndRepopulates(t *testing.T) {
	cache := NewLRUCache(16, time.Hour)
	s := testStore(t, WithCache(cache))
	ctx := context.Background()

	if _, err := s.Save(ctx, "shop", "fp1", sample()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cache.Delete(ctx, CacheKey("shop", "fp1"))
	if cache.Len() != 0 {
		t.Fatal("cache not empty")
	}

	got, ok := s.Load(ctx, "shop", "fp1")
	if !ok {
		t.Fatal("Load: not found with durable copy present")
	}
	want := sample()
	want.Fingerprint = "fp1"
	if diff := cmp.Diff(want, got, ignoreTimes); diff != "" {
		t.Errorf("adapter (-want +got):\n%s", diff)
	}
	data, cached, _ := cache.Get(ctx, CacheKey("shop", "fp1"))
	if !cached {
		t.Fatal("cache not repopulated")
	}
	fromCache, err := adapter.Unmarshal(data)
	if err != nil {
		t.Fatalf("cached entry: %v", err)
	}
	if diff := cmp.Diff(got, fromCache); diff != "" {
		t.Errorf("cached adapter (-loaded +cached):\n%s", diff)
	}
}

func TestLoad_Absent(t *testing.T) {
	s := testStore(t, WithCache(NewLRUCache(4, time.Hour)))
	if a, ok := s.Load(context.Background(), "shop", "nope"); ok || a != nil {
		t.Fatalf("Load = %v, %v", a, ok)
	}
}

func TestInvalidate_CacheOnly(t *testing.T) {
	cache := NewLRUCache(16, time.Hour)
	s := testStore(t, WithCache(cache))
	ctx := context.Background()
	s.Save(ctx, "shop", "fp1", sample())

	if err := s.Invalidate(ctx, "shop", "fp1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, CacheKey("shop", "fp1")); ok {
		t.Fatal("entry still cached")
	}
	if _, ok := s.Load(ctx, "shop", "fp1"); !ok {
		t.Fatal("durable copy lost")
	}
}

func TestResave_KeepsCreatedAt(t *testing.T) {
	clock := time.UnixMilli(10_000).UTC()
	s := testStore(t, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	first, _ := s.Save(ctx, "shop", "fp1", sample())
	clock = clock.Add(time.Minute)
	next := sample()
	next.Confidence[adapter.FieldTitle] = 0.75
	second, err := s.Save(ctx, "shop", "fp1", next)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("createdAt changed: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("updatedAt not advanced: %v -> %v", first.UpdatedAt, second.UpdatedAt)
	}
	got, _ := s.Load(ctx, "shop", "fp1")
	if got.Confidence[adapter.FieldTitle] != 0.75 {
		t.Errorf("last write lost: %v", got.Confidence)
	}
}

func TestSave_RejectsInvalid(t *testing.T) {
	s := testStore(t)
	bad := sample()
	delete(bad.Strategies, adapter.FieldTitle)
	if _, err := s.Save(context.Background(), "shop", "fp", bad); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := s.Save(context.Background(), "", "fp", sample()); err == nil {
		t.Fatal("expected error for empty shop")
	}
}

func TestSave_ConcurrentSameKey(t *testing.T) {
	s := testStore(t, WithCache(NewLRUCache(16, time.Hour)))
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a := sample()
			a.Confidence[adapter.FieldTitle] = float64(i) / 10
			if _, err := s.Save(ctx, "shop", "fp", a); err != nil {
				t.Errorf("Save: %v", err)
			}
		}()
	}
	wg.Wait()
	got, ok := s.Load(ctx, "shop", "fp")
	if !ok || got.Validate() != nil {
		t.Fatalf("Load after concurrent saves: %v %v", got, ok)
	}
}

// --- degraded modes ---

type brokenCache struct{}

var errCacheDown = errors.New("cache down")

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errCacheDown
}

func (brokenCache) Set(context.Context, string, []byte) error { return errCacheDown }
func (brokenCache) Delete(context.Context, string) error      { return errCacheDown }

func TestBrokenCache_DegradesToDurable(t *testing.T) {
	s := testStore(t, WithCache(brokenCache{}))
	ctx := context.Background()
	if _, err := s.Save(ctx, "shop", "fp", sample()); err != nil {
		t.Fatalf("Save with broken cache: %v", err)
	}
	if _, ok := s.Load(ctx, "shop", "fp"); !ok {
		t.Fatal("Load with broken cache: not found")
	}
}

func TestDurableDown_ReadsAsAbsent(t *testing.T) {
	s := testStore(t)
	s.Close()
	if a, ok := s.Load(context.Background(), "shop", "fp"); ok || a != nil {
		t.Fatalf("Load on closed db = %v, %v", a, ok)
	}
}

func TestCorruptCacheEntry_Ignored(t *testing.T) {
	cache := NewLRUCache(4, time.Hour)
	s := testStore(t, WithCache(cache))
	ctx := context.Background()
	s.Save(ctx, "shop", "fp", sample())
	cache.Set(ctx, CacheKey("shop", "fp"), []byte("not json"))

	if _, ok := s.Load(ctx, "shop", "fp"); !ok {
		t.Fatal("Load: not found")
	}
}

// stuckCache holds entries it can no longer delete.
type stuckCache struct{ *LRUCache }

func (stuckCache) Delete(context.Context, string) error { return errCacheDown }

func TestCorruptCacheEntry_DeleteFailureLogged(t *testing.T) {
	var buf bytes.Buffer
	cache := stuckCache{NewLRUCache(4, time.Hour)}
	s := testStore(t, WithCache(cache), WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	ctx := context.Background()
	s.Save(ctx, "shop", "fp", sample())
	cache.Set(ctx, CacheKey("shop", "fp"), []byte("not json"))

	if _, ok := s.Load(ctx, "shop", "fp"); !ok {
		t.Fatal("Load: not found")
	}
	if !strings.Contains(buf.String(), "adapterstore: cache delete failed") {
		t.Errorf("delete failure not logged:\n%s", buf.String())
	}
}

// --- redis ---

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cache := NewRedisCache(client, time.Hour)
	s := testStore(t, WithCache(cache))
	ctx := context.Background()

	if _, err := s.Save(ctx, "shop", "fp", sample()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	key := CacheKey("shop", "fp")
	if !mr.Exists(key) {
		t.Fatalf("key %q not in redis", key)
	}
	if ttl := mr.TTL(key); ttl != time.Hour {
		t.Errorf("ttl = %v, want 1h", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if mr.Exists(key) {
		t.Fatal("entry did not expire")
	}
	if _, ok := s.Load(ctx, "shop", "fp"); !ok {
		t.Fatal("Load after expiry: not found")
	}
	if !mr.Exists(key) {
		t.Fatal("cache not repopulated after expiry")
	}
}

func TestSnapshotArchive(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	snap := &adapter.Snapshot{Title: "Soap", CapturedAt: time.UnixMilli(42).UTC()}
	if err := s.PutSnapshot(ctx, "shop", "fp", snap); err != nil {
		t.Fatalf("PutSnapshot: %v", err)
	}
	got, err := s.GetSnapshot(ctx, "shop", "fp")
	if err != nil || got == nil || got.Title != "Soap" {
		t.Fatalf("GetSnapshot = %+v, %v", got, err)
	}
}
