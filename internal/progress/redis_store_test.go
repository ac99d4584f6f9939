package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func TestRedisStorePutGetRoundTrip(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client, time.Second)
	ctx := context.Background()
	key := Key{UserID: 7, ScheduleID: uuid.New()}

	p := model.NewProgress()
	p.Answers[0] = model.Answer{Option: intPtr(2)}
	p.Answers[3] = model.Answer{Text: "Fotosintesis terjadi di kloroplas"}
	p.Flags[1] = true

	if err := store.Put(ctx, key, p, time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ttl := mr.TTL(config.CacheKey.ProgressKey(7, key.ScheduleID)); ttl != time.Hour {
		t.Fatalf("expected ttl 1h, got %v", ttl)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AnsweredCount() != 2 {
		t.Fatalf("expected 2 answers, got %d", got.AnsweredCount())
	}
	if *got.Answers[0].Option != 2 || got.Answers[3].Text != "Fotosintesis terjadi di kloroplas" {
		t.Fatalf("unexpected answers: %+v", got.Answers)
	}
	if !got.Flags[1] || len(got.Flags) != 1 {
		t.Fatalf("unexpected flags: %+v", got.Flags)
	}
}

func TestRedisStoreSeededEmptyProgressIsNotAMiss(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStore(client, time.Second)
	ctx := context.Background()
	key := Key{UserID: 1, ScheduleID: uuid.New()}

	if err := store.Put(ctx, key, model.NewProgress(), time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("expected seeded progress, got %v", err)
	}
	if got.AnsweredCount() != 0 {
		t.Fatalf("expected empty progress, got %d answers", got.AnsweredCount())
	}
}

func TestRedisStoreGetMiss(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStore(client, time.Second)

	_, err := store.Get(context.Background(), Key{UserID: 1, ScheduleID: uuid.New()})
	if !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}

func TestRedisStorePatch(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client, time.Second)
	ctx := context.Background()
	key := Key{UserID: 9, ScheduleID: uuid.New()}

	if _, err := store.Patch(ctx, key, model.ProgressPatch{Position: 0, Answer: &model.Answer{Option: intPtr(1)}}, time.Hour); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss before seeding, got %v", err)
	}

	if err := store.Put(ctx, key, model.NewProgress(), time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}

	steps := []struct {
		name  string
		patch model.ProgressPatch
		want  int
	}{
		{"answer first", model.ProgressPatch{Position: 0, Answer: &model.Answer{Option: intPtr(1)}}, 1},
		{"answer essay", model.ProgressPatch{Position: 4, Answer: &model.Answer{Text: "jawaban"}}, 2},
		{"change answer", model.ProgressPatch{Position: 0, Answer: &model.Answer{Option: intPtr(3)}}, 2},
		{"flag only", model.ProgressPatch{Position: 2, Flagged: boolPtr(true)}, 2},
		{"clear essay", model.ProgressPatch{Position: 4, Answer: &model.Answer{Text: "   "}}, 1},
	}
	for _, step := range steps {
		n, err := store.Patch(ctx, key, step.patch, time.Hour)
		if err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if n != step.want {
			t.Fatalf("%s: expected answered %d, got %d", step.name, step.want, n)
		}
	}

	if ttl := mr.TTL(config.CacheKey.ProgressKey(9, key.ScheduleID)); ttl != time.Hour {
		t.Fatalf("patch should reset ttl to 1h, got %v", ttl)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if *got.Answers[0].Option != 3 {
		t.Fatalf("expected option 3 at position 0, got %+v", got.Answers[0])
	}
	if _, ok := got.Answers[4]; ok {
		t.Fatalf("cleared essay should be gone")
	}
	if !got.Flags[2] {
		t.Fatalf("expected position 2 flagged")
	}

	if _, err := store.Patch(ctx, key, model.ProgressPatch{Position: 2, Flagged: boolPtr(false)}, time.Hour); err != nil {
		t.Fatalf("unflag: %v", err)
	}
	got, _ = store.Get(ctx, key)
	if got.Flags[2] {
		t.Fatalf("expected position 2 unflagged")
	}
}

func TestRedisStoreCorruptFieldIsStale(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client, time.Second)
	key := Key{UserID: 3, ScheduleID: uuid.New()}

	mr.HSet(config.CacheKey.ProgressKey(3, key.ScheduleID), "a:0", "{not json")

	_, err := store.Get(context.Background(), key)
	if !errors.Is(err, ErrStaleOrMissingProgress) {
		t.Fatalf("expected ErrStaleOrMissingProgress, got %v", err)
	}
}
