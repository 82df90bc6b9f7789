package auth

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Comcast/automata/blueprint"
	"github.com/Comcast/automata/storage"
)

// DefaultKeyTTL is how long a KeyCache keeps a key.
var DefaultKeyTTL = 5 * time.Minute

// SigningKey is a token verification key and the tenant it may
// speak for.
type SigningKey struct {
	Key      ed25519.PublicKey
	TenantID string
}

// KeyFetcher gets a key by id.
type KeyFetcher func(ctx context.Context, kid string) (*SigningKey, error)

type cachedKey struct {
	key     *SigningKey
	expires time.Time
}

// KeyCache is a process-wide key cache with a TTL and explicit
// invalidation.
type KeyCache struct {
	sync.Mutex

	TTL   time.Duration
	Fetch KeyFetcher

	// Now is for tests.  Nil means time.Now.
	Now func() time.Time

	keys map[string]cachedKey
}

func NewKeyCache(fetch KeyFetcher, ttl time.Duration) *KeyCache {
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}
	return &KeyCache{
		TTL:   ttl,
		Fetch: fetch,
		keys:  make(map[string]cachedKey),
	}
}

func (c *KeyCache) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// Get returns the cached key or fetches it.  Fetch errors aren't
// cached.
func (c *KeyCache) Get(ctx context.Context, kid string) (*SigningKey, error) {
	c.Lock()
	k, have := c.keys[kid]
	c.Unlock()
	if have && c.now().Before(k.expires) {
		return k.key, nil
	}

	key, err := c.Fetch(ctx, kid)
	if err != nil {
		return nil, err
	}

	c.Lock()
	if c.keys == nil {
		c.keys = make(map[string]cachedKey)
	}
	c.keys[kid] = cachedKey{
		key:     key,
		expires: c.now().Add(c.TTL),
	}
	c.Unlock()

	return key, nil
}

// Invalidate forgets the given keys or, with no arguments, all keys.
func (c *KeyCache) Invalidate(kids ...string) {
	c.Lock()
	defer c.Unlock()
	if len(kids) == 0 {
		c.keys = make(map[string]cachedKey)
		log.Debug().Msg("key cache cleared")
		return
	}
	for _, kid := range kids {
		delete(c.keys, kid)
	}
}

// AccountKeys fetches Account public keys from the directory.  The
// key id is the account id.  An Account without a tenant has no
// signing key.
func AccountKeys(dir storage.Directory) KeyFetcher {
	return func(ctx context.Context, kid string) (*SigningKey, error) {
		acct, err := dir.GetAccount(ctx, kid)
		if err != nil {
			return nil, err
		}
		if acct.TenantID == "" {
			return nil, fmt.Errorf("account %s isn't bound to a tenant", kid)
		}
		key, err := blueprint.ParsePublicKey(acct.PublicKey)
		if err != nil {
			return nil, err
		}
		return &SigningKey{
			Key:      key,
			TenantID: acct.TenantID,
		}, nil
	}
}
