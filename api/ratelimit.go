package api

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	requestBucket = "requests"
	portBucket    = "ports"
)

// RateLimiter keeps fixed-window counters per client in Redis. Buckets keep
// independent budgets apart, so request counts and scanned ports never mix.
type RateLimiter struct {
	client redis.Cmdable
	window time.Duration
}

// NewRateLimiter returns a limiter whose windows last window, one minute when
// window is not positive.
func NewRateLimiter(client redis.Cmdable, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{client: client, window: window}
}

// Usage is a counter after a charge.
type Usage struct {
	Used    int64
	ResetIn time.Duration
}

// RetryAfter renders ResetIn as whole seconds for the Retry-After header.
func (u Usage) RetryAfter() string {
	secs := int64((u.ResetIn + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

func (l *RateLimiter) key(bucket, client string) string {
	return fmt.Sprintf("ratelimit:%s:%s", bucket, client)
}

// Charge adds cost to the client's counter in bucket. The window opens with
// the first charge and later charges do not extend it.
func (l *RateLimiter) Charge(ctx context.Context, bucket, client string, cost int64) (Usage, error) {
	key := l.key(bucket, client)
	pipe := l.client.TxPipeline()
	used := pipe.IncrBy(ctx, key, cost)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return Usage{}, err
	}

	resetIn := ttl.Val()
	// A counter created by this charge has no expiry yet.
	if resetIn < 0 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return Usage{}, err
		}
		resetIn = l.window
	}
	return Usage{Used: used.Val(), ResetIn: resetIn}, nil
}

// Refund takes back a charge whose work was never done.
func (l *RateLimiter) Refund(ctx context.Context, bucket, client string, cost int64) error {
	return l.client.DecrBy(ctx, l.key(bucket, client), cost).Err()
}
