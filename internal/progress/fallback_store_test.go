package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// memStore stands in for the durable tier.
type memStore struct {
	mu      sync.Mutex
	data    map[Key]*model.Progress
	gets    int
	patches int
}

func newMemStore() *memStore {
	return &memStore{data: map[Key]*model.Progress{}}
}

func (m *memStore) Get(_ context.Context, key Key) (*model.Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	p, ok := m.data[key]
	if !ok {
		return nil, ErrStaleOrMissingProgress
	}
	return p.Clone(), nil
}

func (m *memStore) Put(_ context.Context, key Key, p *model.Progress, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = p.Clone()
	return nil
}

func (m *memStore) Delete(context.Context, Key) error { return nil }

func (m *memStore) Patch(_ context.Context, key Key, patch model.ProgressPatch, _ time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patches++
	p, ok := m.data[key]
	if !ok {
		return 0, ErrStaleOrMissingProgress
	}
	p.Apply(patch)
	return p.AnsweredCount(), nil
}

type recordingSink struct {
	mu      sync.Mutex
	updates []CounterUpdate
}

func (r *recordingSink) EnqueueCounter(_ context.Context, u CounterUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return nil
}

func TestFallbackStoreReconstructsAfterExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	durable := newMemStore()
	store := NewFallbackStore(NewRedisStore(client, time.Second), durable, nil, time.Hour, zerolog.Nop())
	ctx := context.Background()
	key := Key{UserID: 42, ScheduleID: uuid.New()}

	seed := model.NewProgress()
	seed.Answers[1] = model.Answer{Option: intPtr(0)}
	_ = durable.Put(ctx, key, seed, 0)
	if err := store.Put(ctx, key, seed, 10*time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}

	mr.FastForward(11 * time.Minute)
	if mr.Exists(config.CacheKey.ProgressKey(42, key.ScheduleID)) {
		t.Fatalf("fast tier entry should have expired")
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("expected reconstruction from durable tier, got %v", err)
	}
	if got.AnsweredCount() != 1 || *got.Answers[1].Option != 0 {
		t.Fatalf("unexpected reconstructed progress: %+v", got.Answers)
	}
	if !mr.Exists(config.CacheKey.ProgressKey(42, key.ScheduleID)) {
		t.Fatalf("fast tier should be backfilled")
	}
	if ttl := mr.TTL(config.CacheKey.ProgressKey(42, key.ScheduleID)); ttl != time.Hour {
		t.Fatalf("backfill should use the store ttl, got %v", ttl)
	}
}

func TestFallbackStorePatchRebuildsMissingHash(t *testing.T) {
	_, client := newTestRedis(t)
	durable := newMemStore()
	sink := &recordingSink{}
	store := NewFallbackStore(NewRedisStore(client, time.Second), durable, sink, time.Hour, zerolog.Nop())
	ctx := context.Background()
	key := Key{UserID: 5, ScheduleID: uuid.New()}

	seed := model.NewProgress()
	seed.Answers[0] = model.Answer{Option: intPtr(2)}
	_ = durable.Put(ctx, key, seed, 0)

	n, err := store.Patch(ctx, key, model.ProgressPatch{Position: 1, Answer: &model.Answer{Option: intPtr(3)}}, time.Hour)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 answered after rebuild and patch, got %d", n)
	}
	if durable.patches != 0 {
		t.Fatalf("healthy patch must not write the durable snapshot")
	}
	if len(sink.updates) != 1 || sink.updates[0].Answered != 2 {
		t.Fatalf("expected one counter update with 2 answered, got %+v", sink.updates)
	}
}

func TestFallbackStoreDegradesWhenFastTierDown(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	durable := newMemStore()
	sink := &recordingSink{}
	store := NewFallbackStore(NewRedisStore(client, 100*time.Millisecond), durable, sink, time.Hour, zerolog.Nop())
	ctx := context.Background()
	key := Key{UserID: 8, ScheduleID: uuid.New()}

	_ = durable.Put(ctx, key, model.NewProgress(), 0)
	mr.Close()

	n, err := store.Patch(ctx, key, model.ProgressPatch{Position: 0, Answer: &model.Answer{Option: intPtr(1)}}, time.Hour)
	if err != nil {
		t.Fatalf("patch must not fail while degraded: %v", err)
	}
	if n != 1 || durable.patches != 1 {
		t.Fatalf("expected durable patch, got n=%d patches=%d", n, durable.patches)
	}
	if len(sink.updates) != 0 {
		t.Fatalf("degraded writes update the counter directly, got %d queued", len(sink.updates))
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get must not fail while degraded: %v", err)
	}
	if got.AnsweredCount() != 1 {
		t.Fatalf("expected durable answers, got %d", got.AnsweredCount())
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("delete must not fail while degraded: %v", err)
	}
}

// waitForRedis lets the client drop connections broken by a restart.
func waitForRedis(t *testing.T, client *redis.Client) {
	t.Helper()
	for i := 0; i < 10; i++ {
		if client.Ping(context.Background()).Err() == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("redis did not come back")
}

func TestFallbackStoreMergesOutageWritesAfterRecovery(t *testing.T) {
	mr, client := newTestRedis(t)
	durable := newMemStore()
	store := NewFallbackStore(NewRedisStore(client, 100*time.Millisecond), durable, nil, time.Hour, zerolog.Nop())
	ctx := context.Background()
	key := Key{UserID: 11, ScheduleID: uuid.New()}
	hash := config.CacheKey.ProgressKey(11, key.ScheduleID)

	seed := model.NewProgress()
	seed.Answers[3] = model.Answer{Option: intPtr(1)}
	_ = durable.Put(ctx, key, seed, 0)
	if err := store.Put(ctx, key, seed, time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Saved on the fast tier only; the durable snapshot lags behind.
	if _, err := store.Patch(ctx, key, model.ProgressPatch{Position: 0, Answer: &model.Answer{Option: intPtr(2)}}, time.Hour); err != nil {
		t.Fatalf("healthy patch: %v", err)
	}

	mr.Close()
	if _, err := store.Patch(ctx, key, model.ProgressPatch{Position: 1, Answer: &model.Answer{Text: "jawaban saat gangguan"}}, time.Hour); err != nil {
		t.Fatalf("degraded patch: %v", err)
	}
	if _, err := store.Patch(ctx, key, model.ProgressPatch{Position: 3, Answer: &model.Answer{}}, time.Hour); err != nil {
		t.Fatalf("degraded clear: %v", err)
	}

	if err := mr.Restart(); err != nil {
		t.Fatalf("restart miniredis: %v", err)
	}
	waitForRedis(t, client)
	if !mr.Exists(hash) {
		t.Fatalf("the pre-outage hash should have survived the restart")
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get after recovery: %v", err)
	}
	if a, ok := got.Answers[1]; !ok || a.Text != "jawaban saat gangguan" {
		t.Fatalf("answer saved during the outage is missing: %+v", got.Answers)
	}
	if a, ok := got.Answers[0]; !ok || *a.Option != 2 {
		t.Fatalf("fast-tier answer from before the outage is missing: %+v", got.Answers)
	}
	if _, ok := got.Answers[3]; ok {
		t.Fatalf("answer cleared during the outage came back: %+v", got.Answers)
	}
	if mr.HGet(hash, "a:1") == "" || mr.HGet(hash, "a:3") != "" {
		t.Fatalf("fast hash not repaired: a:1=%q a:3=%q", mr.HGet(hash, "a:1"), mr.HGet(hash, "a:3"))
	}

	n, err := store.Patch(ctx, key, model.ProgressPatch{Position: 2, Answer: &model.Answer{Option: intPtr(0)}}, time.Hour)
	if err != nil {
		t.Fatalf("patch after recovery: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 answered after recovery, got %d", n)
	}
	if durable.patches != 2 {
		t.Fatalf("post-recovery patch must stay on the fast tier, durable patches=%d", durable.patches)
	}
}

func TestFallbackStorePatchRepairsBeforeWriting(t *testing.T) {
	mr, client := newTestRedis(t)
	durable := newMemStore()
	store := NewFallbackStore(NewRedisStore(client, 100*time.Millisecond), durable, nil, time.Hour, zerolog.Nop())
	ctx := context.Background()
	key := Key{UserID: 12, ScheduleID: uuid.New()}

	_ = durable.Put(ctx, key, model.NewProgress(), 0)
	if err := store.Put(ctx, key, model.NewProgress(), time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}

	mr.Close()
	if _, err := store.Patch(ctx, key, model.ProgressPatch{Position: 4, Flagged: boolPtr(true)}, time.Hour); err != nil {
		t.Fatalf("degraded flag: %v", err)
	}
	if err := mr.Restart(); err != nil {
		t.Fatalf("restart miniredis: %v", err)
	}
	waitForRedis(t, client)

	// The first write after recovery lands on a repaired hash.
	if _, err := store.Patch(ctx, key, model.ProgressPatch{Position: 5, Answer: &model.Answer{Option: intPtr(1)}}, time.Hour); err != nil {
		t.Fatalf("patch after recovery: %v", err)
	}
	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Flags[4] || got.AnsweredCount() != 1 {
		t.Fatalf("expected flag 4 and one answer, got flags=%v answers=%v", got.Flags, got.Answers)
	}
}

func TestFallbackStoreMissingEverywhere(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewFallbackStore(NewRedisStore(client, time.Second), newMemStore(), nil, time.Hour, zerolog.Nop())

	_, err := store.Get(context.Background(), Key{UserID: 1, ScheduleID: uuid.New()})
	if !errors.Is(err, ErrStaleOrMissingProgress) {
		t.Fatalf("expected ErrStaleOrMissingProgress, got %v", err)
	}
}

func TestFallbackStoreReconstructReturnsCopies(t *testing.T) {
	_, client := newTestRedis(t)
	durable := newMemStore()
	store := NewFallbackStore(NewRedisStore(client, time.Second), durable, nil, time.Hour, zerolog.Nop())
	ctx := context.Background()
	key := Key{UserID: 2, ScheduleID: uuid.New()}
	_ = durable.Put(ctx, key, model.NewProgress(), 0)

	var wg sync.WaitGroup
	results := make([]*model.Progress, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := store.Get(ctx, key)
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			results[i] = p
		}(i)
	}
	wg.Wait()

	if results[0] == nil {
		t.Fatalf("first caller got no progress")
	}
	results[0].Answers[0] = model.Answer{Text: "mutated"}
	for i := 1; i < len(results); i++ {
		if results[i] == nil {
			continue
		}
		if _, ok := results[i].Answers[0]; ok {
			t.Fatalf("callers must not share progress maps")
		}
	}
}
