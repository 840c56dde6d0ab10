package cache

import (
	"context"
	"errors"
	"time"

	"github.com/Domenick1991/spiritbooking/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotHeld is returned by ReleaseBookingLock when the lock expired or
// was taken over by another request before release.
var ErrLockNotHeld = errors.New("booking lock not held")

// releaseLockScript deletes the lock only while it still carries our token.
const releaseLockScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

type RedisCache struct {
	client   *redis.Client
	newToken func() string
}

func NewRedisCache(cfg config.RedisConfig) *RedisCache {
	return NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}))
}

func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, newToken: uuid.NewString}
}

// AcquireBookingLock reports false when another writer already holds the lock.
// The returned token must be passed to ReleaseBookingLock.
func (c *RedisCache) AcquireBookingLock(ctx context.Context, bookingID string, ttl time.Duration) (string, bool, error) {
	token := c.newToken()
	ok, err := c.client.SetNX(ctx, bookingLockKey(bookingID), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

func (c *RedisCache) ReleaseBookingLock(ctx context.Context, bookingID, token string) error {
	deleted, err := c.client.Eval(ctx, releaseLockScript, []string{bookingLockKey(bookingID)}, token).Int64()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// MarkReminderSent returns true only for the first caller within ttl.
func (c *RedisCache) MarkReminderSent(ctx context.Context, bookingID string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, reminderKey(bookingID), "sent", ttl).Result()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func bookingLockKey(bookingID string) string {
	return "lock:booking:" + bookingID
}

func reminderKey(bookingID string) string {
	return "reminder:booking:" + bookingID
}
