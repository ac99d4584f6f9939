package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// PostgresStore is the durable tier: the session_progress row of the user's
// active session for the schedule.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the durable tier.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const selectActiveProgress = `
	SELECT sp.session_id, sp.answers, sp.flags, s.question_count
	FROM session_progress sp
	JOIN exam_sessions s ON s.id = sp.session_id
	WHERE s.user_id = $1 AND s.schedule_id = $2 AND s.status = 'active'`

// Get reconstructs progress from the durable snapshot. A missing row or an
// undecodable snapshot yields ErrStaleOrMissingProgress.
func (s *PostgresStore) Get(ctx context.Context, key Key) (*model.Progress, error) {
	row := s.pool.QueryRow(ctx, selectActiveProgress, key.UserID, key.ScheduleID)
	_, p, err := scanProgress(row)
	return p, err
}

// Put overwrites the snapshot and refreshes the session's answered counter.
// ttl is ignored: the durable copy lives as long as the session.
func (s *PostgresStore) Put(ctx context.Context, key Key, p *model.Progress, _ time.Duration) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, selectActiveProgress+` FOR UPDATE OF s`, key.UserID, key.ScheduleID)
		// A corrupt snapshot is overwritten; only a missing session is an error.
		sessionID, _, err := scanProgress(row)
		if sessionID == uuid.Nil {
			return err
		}
		return writeSnapshot(ctx, tx, sessionID, p)
	})
}

// Delete is a no-op: the durable copy is the final record of the session.
func (s *PostgresStore) Delete(context.Context, Key) error {
	return nil
}

// Patch applies a delta to the durable snapshot under a row lock.
func (s *PostgresStore) Patch(ctx context.Context, key Key, patch model.ProgressPatch, _ time.Duration) (int, error) {
	var answered int
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, selectActiveProgress+` FOR UPDATE OF s`, key.UserID, key.ScheduleID)
		sessionID, p, err := scanProgress(row)
		if err != nil {
			if sessionID == uuid.Nil {
				return err
			}
			// The snapshot is corrupt but the session exists: start over from the patch.
			p = model.NewProgress()
		}
		p.Apply(patch)
		answered = p.AnsweredCount()
		return writeSnapshot(ctx, tx, sessionID, p)
	})
	return answered, err
}

// scanProgress returns the session id whenever the row exists, even if the
// snapshot itself fails to decode.
func scanProgress(row pgx.Row) (uuid.UUID, *model.Progress, error) {
	var (
		sessionID     uuid.UUID
		answersRaw    []byte
		flagsRaw      []byte
		questionCount int
	)
	if err := row.Scan(&sessionID, &answersRaw, &flagsRaw, &questionCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sessionID, nil, fmt.Errorf("%w: no durable progress for active session", ErrStaleOrMissingProgress)
		}
		return sessionID, nil, fmt.Errorf("query durable progress: %w", err)
	}

	p, err := DecodeSnapshot(answersRaw, flagsRaw, questionCount)
	if err != nil {
		return sessionID, nil, err
	}
	return sessionID, p, nil
}

// DecodeSnapshot parses the JSONB columns of session_progress and checks every
// position against the instance size.
func DecodeSnapshot(answersRaw, flagsRaw []byte, questionCount int) (*model.Progress, error) {
	p := model.NewProgress()
	if len(answersRaw) > 0 {
		if err := sonic.Unmarshal(answersRaw, &p.Answers); err != nil {
			return nil, fmt.Errorf("%w: answers: %v", ErrStaleOrMissingProgress, err)
		}
	}
	if len(flagsRaw) > 0 {
		if err := sonic.Unmarshal(flagsRaw, &p.Flags); err != nil {
			return nil, fmt.Errorf("%w: flags: %v", ErrStaleOrMissingProgress, err)
		}
	}
	if p.Answers == nil {
		p.Answers = map[int]model.Answer{}
	}
	if p.Flags == nil {
		p.Flags = map[int]bool{}
	}
	if err := p.Validate(questionCount); err != nil {
		return nil, err
	}
	return p, nil
}

// EncodeSnapshot renders progress into the JSONB columns of session_progress.
func EncodeSnapshot(p *model.Progress) (answers, flags []byte, err error) {
	if p == nil {
		p = model.NewProgress()
	}
	answerMap := make(map[int]model.Answer, len(p.Answers))
	for pos, a := range p.Answers {
		if !a.IsEmpty() {
			answerMap[pos] = a
		}
	}
	flagMap := make(map[int]bool, len(p.Flags))
	for pos, f := range p.Flags {
		if f {
			flagMap[pos] = true
		}
	}
	if answers, err = sonic.Marshal(answerMap); err != nil {
		return nil, nil, fmt.Errorf("encode answers: %w", err)
	}
	if flags, err = sonic.Marshal(flagMap); err != nil {
		return nil, nil, fmt.Errorf("encode flags: %w", err)
	}
	return answers, flags, nil
}

func writeSnapshot(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, p *model.Progress) error {
	answers, flags, err := EncodeSnapshot(p)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE session_progress SET answers = $2, flags = $3, updated_at = NOW() WHERE session_id = $1`,
		sessionID, answers, flags,
	); err != nil {
		return fmt.Errorf("update durable progress: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE exam_sessions SET progress = $2, last_update = NOW() WHERE id = $1`,
		sessionID, p.AnsweredCount(),
	); err != nil {
		return fmt.Errorf("update session counter: %w", err)
	}
	return nil
}
