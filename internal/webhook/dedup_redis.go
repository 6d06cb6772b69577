package webhook

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"kycflow/pkg/domain"
)

// dedupTTL matches the durable ledger's retention window.
const dedupTTL = 7 * 24 * time.Hour

// RedisDedup is a best-effort fast path in front of the durable ledger.
// It only ever short-circuits confirmed duplicates; a miss or a redis
// failure falls through to the unique insert, which stays authoritative.
type RedisDedup struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisDedup wraps a redis client as a dedup fast path.
func NewRedisDedup(client *redis.Client, logger *slog.Logger) *RedisDedup {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisDedup{client: client, logger: logger}
}

func dedupKey(vendor domain.VendorID, eventID domain.EventID) string {
	return "kyc:webhook:" + vendor.String() + ":" + eventID.String()
}

// Seen reports whether the event was already marked. Errors read as
// "not seen".
func (d *RedisDedup) Seen(ctx context.Context, vendor domain.VendorID, eventID domain.EventID) bool {
	n, err := d.client.Exists(ctx, dedupKey(vendor, eventID)).Result()
	if err != nil {
		if err != redis.Nil {
			d.logger.Warn("webhook dedup read failed", "error", err)
		}
		return false
	}
	return n > 0
}

// Mark remembers the event for the dedup window.
func (d *RedisDedup) Mark(ctx context.Context, vendor domain.VendorID, eventID domain.EventID) {
	if err := d.client.Set(ctx, dedupKey(vendor, eventID), "1", dedupTTL).Err(); err != nil {
		d.logger.Warn("webhook dedup write failed", "error", err)
	}
}
