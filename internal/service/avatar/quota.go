package avatar

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"time"

	"afterlifego/internal/models"
	"afterlifego/internal/redis"
)

// Limiter enforces the per-session daily interaction quota. Implementations
// must make CheckAndIncrement atomic under concurrent callers.
type Limiter interface {
	// CheckAndIncrement consumes one slot or returns ErrQuotaExceeded.
	CheckAndIncrement(ctx context.Context, sessionID string, limit int) error
	// Decrement returns a slot consumed by a failed interaction.
	Decrement(ctx context.Context, sessionID string)
	Usage(ctx context.Context, sessionID string, limit int) (models.Usage, error)
}

func utcDay() string {
	return time.Now().UTC().Format("2006-01-02")
}

// dbLimiter counts interactions in usage_counters with a conditional update,
// so two concurrent calls can never both take the last slot.
type dbLimiter struct {
	db *sql.DB
}

func newDBLimiter(db *sql.DB) *dbLimiter { return &dbLimiter{db: db} }

func (l *dbLimiter) CheckAndIncrement(ctx context.Context, sessionID string, limit int) error {
	day := utcDay()
	for attempt := 0; attempt < 3; attempt++ {
		res, err := l.db.ExecContext(ctx,
			"UPDATE usage_counters SET count = count + 1 WHERE session_id = ? AND day = ? AND count < ?",
			sessionID, day, limit)
		if err != nil {
			return fmt.Errorf("increment usage: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return nil
		}

		var count int
		err = l.db.QueryRowContext(ctx,
			"SELECT count FROM usage_counters WHERE session_id = ? AND day = ?",
			sessionID, day).Scan(&count)
		switch {
		case err == sql.ErrNoRows:
			if limit < 1 {
				return ErrQuotaExceeded
			}
			_, err = l.db.ExecContext(ctx,
				"INSERT INTO usage_counters (session_id, day, count) VALUES (?, ?, 1)",
				sessionID, day)
			if err == nil {
				return nil
			}
			// unique violation: another caller created the row, retry the
			// conditional update
			continue
		case err != nil:
			return fmt.Errorf("read usage: %w", err)
		case count >= limit:
			return ErrQuotaExceeded
		}
		// conditional update raced with a reset or rollback; retry
	}
	return ErrQuotaExceeded
}

func (l *dbLimiter) Decrement(ctx context.Context, sessionID string) {
	_, err := l.db.ExecContext(ctx,
		"UPDATE usage_counters SET count = count - 1 WHERE session_id = ? AND day = ? AND count > 0",
		sessionID, utcDay())
	if err != nil {
		log.Printf("[avatar] return quota slot for %s: %v", sessionID, err)
	}
}

func (l *dbLimiter) Usage(ctx context.Context, sessionID string, limit int) (models.Usage, error) {
	var count int
	err := l.db.QueryRowContext(ctx,
		"SELECT count FROM usage_counters WHERE session_id = ? AND day = ?",
		sessionID, utcDay()).Scan(&count)
	if err != nil && err != sql.ErrNoRows {
		return models.Usage{}, fmt.Errorf("read usage: %w", err)
	}
	return usageFrom(count, limit), nil
}

// redisLimiter keeps the counter in redis under a per-day key. INCR is atomic
// and the key expires on its own after the day rolls over.
type redisLimiter struct {
	cache *redis.Client
}

func newRedisLimiter(cache *redis.Client) *redisLimiter {
	return &redisLimiter{cache: cache}
}

func quotaKey(sessionID string) string {
	return "quota:" + sessionID + ":" + utcDay()
}

func (l *redisLimiter) CheckAndIncrement(ctx context.Context, sessionID string, limit int) error {
	key := quotaKey(sessionID)
	n, err := l.cache.Incr(ctx, key)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	if err := l.cache.ExpireNX(ctx, key, 48*time.Hour); err != nil {
		log.Printf("[avatar] set quota expiry for %s: %v", sessionID, err)
	}
	if n > int64(limit) {
		// give the slot back so Usage never over-reports
		if err := l.cache.Raw().Decr(ctx, key).Err(); err != nil {
			log.Printf("[avatar] rollback quota for %s: %v", sessionID, err)
		}
		return ErrQuotaExceeded
	}
	return nil
}

func (l *redisLimiter) Decrement(ctx context.Context, sessionID string) {
	if err := l.cache.Raw().Decr(ctx, quotaKey(sessionID)).Err(); err != nil {
		log.Printf("[avatar] return quota slot for %s: %v", sessionID, err)
	}
}

func (l *redisLimiter) Usage(ctx context.Context, sessionID string, limit int) (models.Usage, error) {
	v, err := l.cache.Get(ctx, quotaKey(sessionID))
	if err == redis.ErrCacheMiss {
		return usageFrom(0, limit), nil
	}
	if err != nil {
		return models.Usage{}, fmt.Errorf("read usage: %w", err)
	}
	count, err := strconv.Atoi(v)
	if err != nil {
		return models.Usage{}, fmt.Errorf("parse usage counter: %w", err)
	}
	return usageFrom(count, limit), nil
}

func usageFrom(count, limit int) models.Usage {
	if count < 0 {
		count = 0
	}
	if count > limit {
		count = limit
	}
	remaining := limit - count
	return models.Usage{Used: count, Remaining: remaining, Limit: limit}
}
