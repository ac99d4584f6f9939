// Package progress keeps a participant's in-flight answers and flags across a
// fast Redis tier and the durable Postgres tier.
package progress

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var (
	// ErrMiss means the tier holds nothing for the key.
	ErrMiss = errors.New("progress: miss")
	// ErrProgressUnavailable means the fast tier could not be reached in time.
	ErrProgressUnavailable = errors.New("progress: fast tier unavailable")
	// ErrStaleOrMissingProgress means the durable record is absent or corrupt.
	ErrStaleOrMissingProgress = model.ErrStaleOrMissingProgress
)

// Key addresses one participant's progress for one schedule.
type Key struct {
	UserID     int
	ScheduleID uuid.UUID
}

// Store is the progress contract shared by both tiers and their composition.
type Store interface {
	Get(ctx context.Context, key Key) (*model.Progress, error)
	Put(ctx context.Context, key Key, p *model.Progress, ttl time.Duration) error
	Delete(ctx context.Context, key Key) error
	// Patch applies one autosave delta and returns the resulting answered count.
	Patch(ctx context.Context, key Key, patch model.ProgressPatch, ttl time.Duration) (int, error)
}
