package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const (
	directLimitSetting  = "direct_purchase_limit"
	directLimitCacheKey = "purchasing:settings:" + directLimitSetting
)

type settingsDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SettingsStore reads purchasing settings from the purchase_settings table.
type SettingsStore struct {
	db       settingsDB
	fallback decimal.Decimal
}

// NewSettingsStore constructs a store. fallback applies while the setting is
// missing or unparsable.
func NewSettingsStore(db settingsDB, fallback decimal.Decimal) *SettingsStore {
	return &SettingsStore{db: db, fallback: fallback}
}

// DirectPurchaseLimit implements SettingsPort.
func (s *SettingsStore) DirectPurchaseLimit(ctx context.Context) (decimal.Decimal, error) {
	var raw string
	err := s.db.QueryRow(ctx, `SELECT value FROM purchase_settings WHERE key = $1`, directLimitSetting).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.fallback, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("load %s: %w", directLimitSetting, err)
	}
	limit, err := decimal.NewFromString(raw)
	if err != nil || limit.IsNegative() {
		return s.fallback, nil
	}
	return limit, nil
}

// SetDirectPurchaseLimit implements SettingsWriter.
func (s *SettingsStore) SetDirectPurchaseLimit(ctx context.Context, limit decimal.Decimal, actorID int64) error {
	_, err := s.db.Exec(ctx, `INSERT INTO purchase_settings (key, value, updated_by, updated_at)
		VALUES ($1, $2, NULLIF($3::bigint, 0), NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = NOW()`,
		directLimitSetting, limit.StringFixed(2), actorID)
	return err
}

// CachedSettings fronts a SettingsPort with Redis. Concurrent misses share one
// load. Redis failures degrade to reading the source directly.
type CachedSettings struct {
	source SettingsPort
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewCachedSettings wraps source. A nil client disables caching.
func NewCachedSettings(source SettingsPort, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedSettings {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSettings{source: source, client: client, ttl: ttl, logger: logger}
}

// DirectPurchaseLimit implements SettingsPort.
func (c *CachedSettings) DirectPurchaseLimit(ctx context.Context) (decimal.Decimal, error) {
	if c.client == nil {
		return c.source.DirectPurchaseLimit(ctx)
	}
	raw, err := c.client.Get(ctx, directLimitCacheKey).Result()
	if err == nil {
		if limit, perr := decimal.NewFromString(raw); perr == nil {
			return limit, nil
		}
	} else if err != redis.Nil {
		c.logger.Warn("settings cache read failed", slog.Any("error", err))
	}

	resultChan := c.group.DoChan(directLimitCacheKey, func() (interface{}, error) {
		limit, err := c.source.DirectPurchaseLimit(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, directLimitCacheKey, limit.String(), c.ttl).Err(); err != nil {
			c.logger.Warn("settings cache write failed", slog.Any("error", err))
		}
		return limit, nil
	})
	select {
	case <-ctx.Done():
		return decimal.Zero, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return decimal.Zero, res.Err
		}
		return res.Val.(decimal.Decimal), nil
	}
}

// SetDirectPurchaseLimit implements SettingsWriter and drops the cached value.
func (c *CachedSettings) SetDirectPurchaseLimit(ctx context.Context, limit decimal.Decimal, actorID int64) error {
	writer, ok := c.source.(SettingsWriter)
	if !ok {
		return fmt.Errorf("%w: settings are read only", ErrStateConflict)
	}
	if err := writer.SetDirectPurchaseLimit(ctx, limit, actorID); err != nil {
		return err
	}
	if c.client != nil {
		if err := c.client.Del(ctx, directLimitCacheKey).Err(); err != nil {
			c.logger.Warn("settings cache invalidation failed", slog.Any("error", err))
		}
	}
	return nil
}
