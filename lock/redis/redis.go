// Package redis implements lock.Locker with Redis SET NX.
package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/credits/lock"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker holds locks as "<prefix><key>" Redis keys.
type Locker struct {
	client redis.UniversalClient
	prefix string
}

// New creates a locker. prefix defaults to "credits:lock:".
func New(client redis.UniversalClient, prefix string) *Locker {
	if prefix == "" {
		prefix = "credits:lock:"
	}
	return &Locker{client: client, prefix: prefix}
}

func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, lock.ErrLocked
	}

	fullKey := l.prefix + key
	var once sync.Once
	return func() {
		once.Do(func() {
			// Detached from ctx so a canceled request still releases.
			_ = releaseScript.Run(context.Background(), l.client, []string{fullKey}, token).Err() //nolint:errcheck // expiry reclaims the key
		})
	}, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

var _ lock.Locker = (*Locker)(nil)
