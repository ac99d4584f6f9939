package repository

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
)

// MonitorRepository provides data access for the proctor risk board.
// It combines PostgreSQL (violation history) and Redis (live answer counts).
type MonitorRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool, rdb *redis.Client) *MonitorRepository {
	return &MonitorRepository{pool: pool, rdb: rdb}
}

// ViolationCounts returns, per session, the number of violations of each type.
// Activity events are not counted.
func (r *MonitorRepository) ViolationCounts(ctx context.Context, sessionIDs []uuid.UUID) (map[uuid.UUID]map[string]int, error) {
	counts := make(map[uuid.UUID]map[string]int, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return counts, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT session_id, event_type, COUNT(*)
		 FROM exam_events
		 WHERE session_id = ANY($1) AND kind = 'violation'
		 GROUP BY session_id, event_type`,
		sessionIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var sid uuid.UUID
		var eventType string
		var n int
		if err := rows.Scan(&sid, &eventType, &n); err != nil {
			return nil, err
		}
		if counts[sid] == nil {
			counts[sid] = map[string]int{}
		}
		counts[sid][eventType] = n
	}
	return counts, rows.Err()
}

// LiveAnswerCounts reads answered counts straight from the fast tier. Keys that
// are absent are left out, so callers keep the durable counter for them.
func (r *MonitorRepository) LiveAnswerCounts(ctx context.Context, keys []LiveKey) (map[int]int, error) {
	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.StringSliceCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HKeys(ctx, config.CacheKey.ProgressKey(k.UserID, k.ScheduleID))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	counts := make(map[int]int, len(keys))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		n := 0
		for _, f := range fields {
			if strings.HasPrefix(f, "a:") {
				n++
			}
		}
		counts[keys[i].UserID] = n
	}
	return counts, nil
}

// LiveKey identifies a participant's fast-tier progress.
type LiveKey struct {
	UserID     int
	ScheduleID uuid.UUID
}
