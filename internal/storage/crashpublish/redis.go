package crashpublish

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/crashstats/antenna/internal/crash_ingestion/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPublisher pushes crash ids onto a redis list for processors that
// BRPOP from it.
type RedisPublisher struct {
	client *redis.Client
	key    string
	log    *zap.Logger
}

// NewRedis parses a redis:// URL and connects lazily.
func NewRedis(url, key string, log *zap.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	return NewRedisWithClient(redis.NewClient(opts), key, log), nil
}

func NewRedisWithClient(client *redis.Client, key string, log *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, key: key, log: log}
}

func (p *RedisPublisher) Publish(ctx context.Context, crashID string) error {
	if err := p.client.LPush(ctx, p.key, crashID).Err(); err != nil {
		return errors.Wrapf(err, "redis publish %s", crashID)
	}
	p.log.Debug("redis: published crash", zap.String("crash_id", crashID), zap.String("key", p.key))
	return nil
}

func (p *RedisPublisher) CheckHealth(ctx context.Context, state *domain.HealthState) {
	if err := p.client.Ping(ctx).Err(); err != nil {
		state.AddError("RedisPublisher", err.Error())
		return
	}

	n, err := p.client.LLen(ctx, p.key).Result()
	if err != nil {
		state.AddError("RedisPublisher", err.Error())
		return
	}
	state.SetInfo("redis_queue_depth", n)
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
