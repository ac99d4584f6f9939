package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"golang.org/x/sync/singleflight"
)

// FallbackStore composes the fast tier over the durable tier. Reads prefer the
// fast tier and rebuild it from the durable snapshot on a miss; writes go to the
// fast tier and degrade to the durable tier when Redis is unreachable.
//
// Writes made while degraded are remembered per key. The next healthy call for
// that key merges those positions from the durable snapshot into the fast hash
// before serving it, so a hash that outlived the outage is never served stale.
type FallbackStore struct {
	fast     Store
	durable  Store
	counters CounterSink
	ttl      time.Duration
	rebuild  singleflight.Group
	log      zerolog.Logger

	mu    sync.Mutex
	dirty map[Key]*degradedWrites
}

// degradedWrites lists what the durable tier holds newer than the fast tier.
// gen changes on every merge so a finished repair can tell whether more
// degraded writes arrived while it ran.
type degradedWrites struct {
	gen     uint64
	whole   bool
	answers map[int]struct{}
	flags   map[int]struct{}
}

func newDegradedWrites() *degradedWrites {
	return &degradedWrites{answers: map[int]struct{}{}, flags: map[int]struct{}{}}
}

func (d *degradedWrites) merge(o *degradedWrites) {
	d.gen++
	d.whole = d.whole || o.whole
	for pos := range o.answers {
		d.answers[pos] = struct{}{}
	}
	for pos := range o.flags {
		d.flags[pos] = struct{}{}
	}
}

func (d *degradedWrites) clone() *degradedWrites {
	out := newDegradedWrites()
	out.merge(d)
	out.gen = d.gen
	return out
}

// NewFallbackStore creates the composed store. ttl applies to backfills after a
// miss; counters may be nil.
func NewFallbackStore(fast, durable Store, counters CounterSink, ttl time.Duration, log zerolog.Logger) *FallbackStore {
	return &FallbackStore{
		fast:     fast,
		durable:  durable,
		counters: counters,
		ttl:      ttl,
		log:      log.With().Str("component", "progress_store").Logger(),
		dirty:    map[Key]*degradedWrites{},
	}
}

func (s *FallbackStore) Get(ctx context.Context, key Key) (*model.Progress, error) {
	if s.isDirty(key) {
		if p, err := s.repair(ctx, key); p != nil || err != nil {
			return p, err
		}
	}

	p, err := s.fast.Get(ctx, key)
	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, ErrMiss), errors.Is(err, ErrStaleOrMissingProgress):
		return s.reconstruct(ctx, key)
	default:
		s.degraded(key, "get", err)
		return s.durable.Get(ctx, key)
	}
}

func (s *FallbackStore) Put(ctx context.Context, key Key, p *model.Progress, ttl time.Duration) error {
	if err := s.fast.Put(ctx, key, p, ttl); err != nil {
		s.degraded(key, "put", err)
		if err := s.durable.Put(ctx, key, p, ttl); err != nil {
			return err
		}
		w := newDegradedWrites()
		w.whole = true
		s.markDirty(key, w)
		return nil
	}
	// A full snapshot supersedes anything written while degraded.
	s.dropDirty(key)
	s.enqueueCounter(ctx, key, p.AnsweredCount())
	return nil
}

// Delete ends the key's lifetime, so pending degraded writes are forgotten: the
// durable snapshot is the final record.
func (s *FallbackStore) Delete(ctx context.Context, key Key) error {
	s.dropDirty(key)
	if err := s.fast.Delete(ctx, key); err != nil {
		s.degraded(key, "delete", err)
	}
	return s.durable.Delete(ctx, key)
}

func (s *FallbackStore) Patch(ctx context.Context, key Key, patch model.ProgressPatch, ttl time.Duration) (int, error) {
	if s.isDirty(key) {
		if _, err := s.repair(ctx, key); err != nil {
			return 0, err
		}
		if s.isDirty(key) {
			// Still unrepaired: the fast tier is down or behind, stay durable.
			return s.patchDurable(ctx, key, patch, ttl)
		}
	}

	n, err := s.fast.Patch(ctx, key, patch, ttl)
	if errors.Is(err, ErrMiss) {
		// Expired or evicted: rebuild from the durable snapshot, then retry once.
		if _, rerr := s.reconstruct(ctx, key); rerr != nil {
			return 0, rerr
		}
		n, err = s.fast.Patch(ctx, key, patch, ttl)
	}
	if err != nil {
		s.degraded(key, "patch", err)
		return s.patchDurable(ctx, key, patch, ttl)
	}
	s.enqueueCounter(ctx, key, n)
	return n, nil
}

func (s *FallbackStore) patchDurable(ctx context.Context, key Key, patch model.ProgressPatch, ttl time.Duration) (int, error) {
	n, err := s.durable.Patch(ctx, key, patch, ttl)
	if err != nil {
		return 0, err
	}
	w := newDegradedWrites()
	if patch.Answer != nil {
		w.answers[patch.Position] = struct{}{}
	}
	if patch.Flagged != nil {
		w.flags[patch.Position] = struct{}{}
	}
	s.markDirty(key, w)
	return n, nil
}

// repair brings a key written while degraded back onto the fast tier. The fast
// hash keeps answers the durable tier never saw; positions written while degraded
// are taken from the durable snapshot. Concurrent callers share one repair. When
// the fast tier is still unreachable the durable snapshot is returned and the key
// stays dirty. A nil progress with a nil error means another caller already
// repaired the key.
func (s *FallbackStore) repair(ctx context.Context, key Key) (*model.Progress, error) {
	flightKey := fmt.Sprintf("repair:%d:%s", key.UserID, key.ScheduleID)
	v, err, _ := s.rebuild.Do(flightKey, func() (interface{}, error) {
		w := s.peekDirty(key)
		if w == nil {
			return (*model.Progress)(nil), nil
		}

		fastP, err := s.fast.Get(ctx, key)
		if err != nil && !errors.Is(err, ErrMiss) && !errors.Is(err, ErrStaleOrMissingProgress) {
			s.degraded(key, "repair", err)
			return s.durable.Get(ctx, key)
		}
		durP, err := s.durable.Get(ctx, key)
		if err != nil {
			return nil, err
		}

		merged := durP.Clone()
		if fastP != nil && !w.whole {
			merged = fastP.Clone()
			for pos := range w.answers {
				if a, ok := durP.Answers[pos]; ok {
					merged.Answers[pos] = a
				} else {
					delete(merged.Answers, pos)
				}
			}
			for pos := range w.flags {
				if durP.Flags[pos] {
					merged.Flags[pos] = true
				} else {
					delete(merged.Flags, pos)
				}
			}
		}

		if err := s.fast.Put(ctx, key, merged, s.ttl); err != nil {
			s.degraded(key, "repair", err)
			return durP, nil
		}
		s.clearDirty(key, w.gen)
		s.enqueueCounter(ctx, key, merged.AnsweredCount())
		s.log.Info().
			Int("user_id", key.UserID).
			Str("schedule_id", key.ScheduleID.String()).
			Int("answered", merged.AnsweredCount()).
			Msg("fast tier repaired after degraded writes")
		return merged, nil
	})
	if err != nil {
		return nil, err
	}
	p, _ := v.(*model.Progress)
	if p == nil {
		return nil, nil
	}
	return p.Clone(), nil
}

func (s *FallbackStore) markDirty(key Key, w *degradedWrites) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.dirty[key]
	if !ok {
		cur = newDegradedWrites()
		s.dirty[key] = cur
	}
	cur.merge(w)
}

func (s *FallbackStore) peekDirty(key Key) *degradedWrites {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.dirty[key]; ok {
		return w.clone()
	}
	return nil
}

// clearDirty forgets the key only if no degraded write arrived after gen.
func (s *FallbackStore) clearDirty(key Key, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.dirty[key]; ok && w.gen == gen {
		delete(s.dirty, key)
	}
}

func (s *FallbackStore) dropDirty(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dirty, key)
}

func (s *FallbackStore) isDirty(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dirty[key]
	return ok
}

// reconstruct loads the durable snapshot once per key even under concurrent
// misses and backfills the fast tier.
func (s *FallbackStore) reconstruct(ctx context.Context, key Key) (*model.Progress, error) {
	flightKey := fmt.Sprintf("%d:%s", key.UserID, key.ScheduleID)
	v, err, _ := s.rebuild.Do(flightKey, func() (interface{}, error) {
		p, err := s.durable.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := s.fast.Put(ctx, key, p, s.ttl); err != nil {
			s.degraded(key, "backfill", err)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Progress).Clone(), nil
}

func (s *FallbackStore) enqueueCounter(ctx context.Context, key Key, answered int) {
	if s.counters == nil {
		return
	}
	u := CounterUpdate{UserID: key.UserID, ScheduleID: key.ScheduleID, Answered: answered, At: time.Now()}
	if err := s.counters.EnqueueCounter(ctx, u); err != nil {
		s.log.Warn().Err(err).Int("user_id", key.UserID).Msg("failed to enqueue progress counter")
	}
}

func (s *FallbackStore) degraded(key Key, op string, err error) {
	s.log.Warn().
		Err(fmt.Errorf("%w: %v", ErrProgressUnavailable, err)).
		Str("op", op).
		Int("user_id", key.UserID).
		Str("schedule_id", key.ScheduleID.String()).
		Msg("fast tier unavailable, using durable tier")
}
