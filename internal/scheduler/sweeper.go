package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// ExpiredSessionLister finds active sessions whose time plus grace is over.
type ExpiredSessionLister interface {
	ListExpired(ctx context.Context, now time.Time, grace time.Duration) ([]model.Session, error)
}

// Finisher force-finishes a participant's active session.
type Finisher interface {
	ForceFinish(ctx context.Context, userID int, trigger model.FinishTrigger, actor service.Actor) (*service.FinishOutcome, error)
}

// Sweeper periodically finalizes sessions that outlived their duration plus grace,
// so abandoned attempts still produce a result.
type Sweeper struct {
	sessions ExpiredSessionLister
	finisher Finisher
	grace    time.Duration
	spec     string
	log      zerolog.Logger
	now      func() time.Time
	cron     *cron.Cron
}

func NewSweeper(sessions ExpiredSessionLister, finisher Finisher, spec string, grace time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		sessions: sessions,
		finisher: finisher,
		grace:    grace,
		spec:     spec,
		log:      log.With().Str("component", "sweeper").Logger(),
		now:      time.Now,
	}
}

// Start schedules the sweep. Runs never overlap. The schedule stops when ctx is done.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := s.cron.AddFunc(s.spec, func() { s.Sweep(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info().Str("spec", s.spec).Dur("grace", s.grace).Msg("Sweeper started")

	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
		s.log.Info().Msg("Sweeper stopped")
	}()
	return nil
}

// Sweep finalizes every expired session once and returns how many it closed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	expired, err := s.sessions.ListExpired(ctx, s.now(), s.grace)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list expired sessions")
		return 0
	}

	closed := 0
	for _, sess := range expired {
		if ctx.Err() != nil {
			break
		}
		out, err := s.finisher.ForceFinish(ctx, sess.UserID, model.TriggerTimeout, service.SystemActor)
		switch {
		case errors.Is(err, service.ErrNoActiveSession):
			// Finished by the participant in the meantime.
			continue
		case err != nil:
			s.log.Error().Err(err).Int("user_id", sess.UserID).Str("session_id", sess.ID.String()).Msg("Failed to finalize expired session")
			continue
		}
		if !out.Duplicate {
			closed++
		}
	}
	if closed > 0 {
		s.log.Info().Int("count", closed).Msg("Finalized expired sessions")
	}
	return closed
}
