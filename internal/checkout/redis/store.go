package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-engagements/internal/models"
)

var ErrSessionNotFound = errors.New("checkout session not found or expired")

const defaultLockTTL = 30 * time.Second

// releaseLock deletes the lock only while it is still held by the caller.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Redis struct {
	Client     *redis.Client
	SessionTTL time.Duration
	LockTTL    time.Duration
}

func NewRedis(client *redis.Client, sessionTTL time.Duration) *Redis {
	return &Redis{
		Client:     client,
		SessionTTL: sessionTTL,
		LockTTL:    defaultLockTTL,
	}
}

func sessionKey(transactionID string) string {
	return "checkout:" + transactionID
}

func lockKey(transactionID string) string {
	return "checkout_confirm_lock:" + transactionID
}

// SaveSession caches a session for client polling until SessionTTL passes.
func (r *Redis) SaveSession(ctx context.Context, s models.CheckoutSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal checkout session: %w", err)
	}
	return r.Client.Set(ctx, sessionKey(s.TransactionID), data, r.SessionTTL).Err()
}

func (r *Redis) GetSession(ctx context.Context, transactionID string) (*models.CheckoutSession, error) {
	data, err := r.Client.Get(ctx, sessionKey(transactionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var s models.CheckoutSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal checkout session: %w", err)
	}
	return &s, nil
}

// LockConfirmation marks a transaction as being fulfilled by owner.
// It reports false while another owner holds the lock.
func (r *Redis) LockConfirmation(ctx context.Context, transactionID, owner string) (bool, error) {
	return r.Client.SetNX(ctx, lockKey(transactionID), owner, r.LockTTL).Result()
}

func (r *Redis) UnlockConfirmation(ctx context.Context, transactionID, owner string) error {
	err := releaseLock.Run(ctx, r.Client, []string{lockKey(transactionID)}, owner).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}
