package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bobmcallan/pfreturns/internal/common"
)

// RedisWindow is a sliding window shared by every server instance using the
// same Redis. Each key is a sorted set of request timestamps.
// Redis errors allow the request.
type RedisWindow struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	logger *common.Logger
	now    func() time.Time
}

// NewRedisWindow connects to Redis and verifies the connection.
func NewRedisWindow(cfg common.RedisConfig, limit int, window time.Duration, logger *common.Logger) (*RedisWindow, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "pfreturns:ratelimit"
	}
	return &RedisWindow{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (r *RedisWindow) key(client string) string {
	return r.prefix + ":" + client
}

// allowScript prunes the window, counts it and records the request in one
// atomic step. KEYS[1] is the client set; ARGV is window start, now, limit,
// member and window in milliseconds. Returns 1 when the request is admitted.
var allowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// Allow implements Limiter.
func (r *RedisWindow) Allow(ctx context.Context, client string) bool {
	now := r.now()
	admitted, err := allowScript.Run(ctx, r.client, []string{r.key(client)},
		strconv.FormatInt(now.Add(-r.window).UnixNano(), 10),
		strconv.FormatInt(now.UnixNano(), 10),
		r.limit,
		uuid.NewString(),
		r.window.Milliseconds(),
	).Int()
	if err != nil {
		r.logger.Warn().Err(err).Str("client", client).Msg("Rate limit check failed, allowing request")
		return true
	}
	return admitted == 1
}

// Stats scans the limiter keys and counts requests in the current window.
func (r *RedisWindow) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	start := strconv.FormatInt(r.now().Add(-r.window).UnixNano(), 10)

	iter := r.client.Scan(ctx, 0, r.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		st.StorageSize++
		n, err := r.client.ZCount(ctx, iter.Val(), "("+start, "+inf").Result()
		if err != nil {
			return st, err
		}
		st.TotalRequests += int(n)
		if n > 0 {
			st.UniqueClients++
		}
	}
	return st, iter.Err()
}

// Close releases the Redis connection.
func (r *RedisWindow) Close() error {
	return r.client.Close()
}
