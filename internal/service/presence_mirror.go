package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"caredial/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	presenceKeyPrefix = "presence:"
	onlineSetKey      = "online_users"
)

// PresenceMirror copies online/offline transitions into Redis so sibling
// services can read presence without talking to this process. Strictly
// best effort: the in-memory registry stays authoritative, and mirror
// failures are logged only.
type PresenceMirror struct {
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

// NewPresenceMirror returns nil when addr is empty; all methods are
// nil-safe so callers don't need to guard.
func NewPresenceMirror(addr string, db int, ttl time.Duration, log zerolog.Logger) *PresenceMirror {
	if addr == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	return &PresenceMirror{
		rdb: redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		ttl: ttl,
		log: log.With().Str("component", "presence_mirror").Logger(),
	}
}

type presenceEntry struct {
	UserID   uint      `json:"user_id"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

func (m *PresenceMirror) SetOnline(ctx context.Context, userID uint) {
	if m == nil {
		return
	}
	data, _ := json.Marshal(presenceEntry{UserID: userID, Status: domain.PresenceOnline, LastSeen: time.Now()})
	key := presenceKey(userID)
	pipe := m.rdb.Pipeline()
	pipe.Set(ctx, key, data, m.ttl)
	pipe.SAdd(ctx, onlineSetKey, userID)
	pipe.Expire(ctx, onlineSetKey, m.ttl*2)
	if _, err := pipe.Exec(ctx); err != nil {
		m.log.Warn().Err(err).Uint("user_id", userID).Msg("mirror online failed")
	}
}

func (m *PresenceMirror) SetOffline(ctx context.Context, userID uint) {
	if m == nil {
		return
	}
	pipe := m.rdb.Pipeline()
	pipe.Del(ctx, presenceKey(userID))
	pipe.SRem(ctx, onlineSetKey, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		m.log.Warn().Err(err).Uint("user_id", userID).Msg("mirror offline failed")
	}
}

// Refresh re-arms the TTL for a user who is still connected. Called
// periodically from the connection ping loop.
func (m *PresenceMirror) Refresh(ctx context.Context, userID uint) {
	if m == nil {
		return
	}
	if err := m.rdb.Expire(ctx, presenceKey(userID), m.ttl).Err(); err != nil {
		m.log.Warn().Err(err).Uint("user_id", userID).Msg("mirror refresh failed")
	}
}

// Ping verifies connectivity at startup.
func (m *PresenceMirror) Ping(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.rdb.Ping(ctx).Err()
}

func presenceKey(userID uint) string {
	return fmt.Sprintf("%s%d", presenceKeyPrefix, userID)
}
