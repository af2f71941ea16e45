package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/config"
	"github.com/redis/go-redis/v9"
)

// checkAndIncrement counts one unit unless the allowance is spent. The
// counter expires after the billing period ends.
//
// KEYS[1] counter, ARGV[1] limit (-1 unlimited), ARGV[2] ttl seconds.
var checkAndIncrement = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if limit >= 0 and current >= limit then
  return {0, current}
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return {1, current}
`)

var release = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current > 0 then
  return redis.call('DECR', KEYS[1])
end
return 0
`)

// RedisMeter keeps counters in Redis so every API replica shares them.
type RedisMeter struct {
	client redis.UniversalClient
	limits LimitSource
	now    func() time.Time
}

// NewRedisMeter creates a meter over client.
func NewRedisMeter(client redis.UniversalClient, limits LimitSource) *RedisMeter {
	return &RedisMeter{client: client, limits: limits, now: time.Now}
}

// NewRedisMeterFromURL parses a redis:// URL and creates a meter.
func NewRedisMeterFromURL(url string, limits LimitSource) (*RedisMeter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return NewRedisMeter(redis.NewClient(opts), limits), nil
}

func (m *RedisMeter) CheckAndIncrementExecutionUsage(ctx context.Context, orgID, _ string) (Usage, error) {
	now := m.now()
	limit := m.limits.ExecutionLimit(orgID)
	ttl := int64(periodEnd(now).Sub(now)/time.Second) + 1

	values, err := checkAndIncrement.Run(ctx, m.client, []string{PeriodKey(orgID, now)}, limit, ttl).Int64Slice()
	if err != nil {
		return Usage{}, fmt.Errorf("failed to meter execution usage: %w", err)
	}

	if len(values) != 2 {
		return Usage{}, fmt.Errorf("unexpected usage script reply %v", values)
	}

	return newUsage(values[0] == 1, values[1], limit), nil
}

func (m *RedisMeter) ReleaseExecutionUsage(ctx context.Context, orgID string) error {
	err := release.Run(ctx, m.client, []string{PeriodKey(orgID, m.now())}).Err()
	if err != nil {
		return fmt.Errorf("failed to release execution usage: %w", err)
	}

	return nil
}

// Ping checks the connection.
func (m *RedisMeter) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close releases the client.
func (m *RedisMeter) Close() error {
	return m.client.Close()
}

var _ LimitSource = config.Limits{}
