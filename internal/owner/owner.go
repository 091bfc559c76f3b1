// Package owner maps external owner ids to internal users.
package owner

import (
	"context"
	"strconv"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/cadence-import/internal/model"
)

// ErrUserNotFound is returned when no user of the company carries the
// external owner id.
var ErrUserNotFound = eris.New("owner: user not found")

// UserLookup is the store query the resolver needs.
type UserLookup interface {
	GetUserByIntegrationID(ctx context.Context, companyID int64, integrationID string) (*model.User, error)
}

// Cache memoizes owner lookups for a single batch run, including misses.
// It must not outlive the run that created it.
type Cache struct {
	mu    sync.RWMutex
	users map[string]*model.User // nil value marks a known miss
	group singleflight.Group
}

// NewCache creates an empty per-batch cache.
func NewCache() *Cache {
	return &Cache{users: make(map[string]*model.User)}
}

func (c *Cache) get(key string) (*model.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[key]
	return u, ok
}

func (c *Cache) put(key string, u *model.User) {
	c.mu.Lock()
	c.users[key] = u
	c.mu.Unlock()
}

// Len returns the number of cached entries, misses included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.users)
}

// Resolver resolves owners through a store.
type Resolver struct {
	store UserLookup
}

// NewResolver creates a Resolver.
func NewResolver(store UserLookup) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the user with the external owner id in the company. The
// cache is consulted first; concurrent misses on the same key share one
// store query. Store failures are returned as is and never cached.
func (r *Resolver) Resolve(ctx context.Context, externalOwnerID string, companyID int64, cache *Cache) (*model.User, error) {
	if externalOwnerID == "" {
		return nil, eris.Wrap(ErrUserNotFound, "owner: empty owner id")
	}
	if cache == nil {
		cache = NewCache()
	}

	key := strconv.FormatInt(companyID, 10) + "/" + externalOwnerID
	if u, ok := cache.get(key); ok {
		return found(u, externalOwnerID)
	}

	v, err, _ := cache.group.Do(key, func() (any, error) {
		if u, ok := cache.get(key); ok {
			return u, nil
		}
		u, err := r.store.GetUserByIntegrationID(ctx, companyID, externalOwnerID)
		if err != nil {
			return nil, eris.Wrapf(err, "owner: lookup %s", externalOwnerID)
		}
		cache.put(key, u)
		return u, nil
	})
	if err != nil {
		return nil, err
	}
	return found(v.(*model.User), externalOwnerID)
}

func found(u *model.User, externalOwnerID string) (*model.User, error) {
	if u == nil {
		return nil, eris.Wrapf(ErrUserNotFound, "owner: %s", externalOwnerID)
	}
	return u, nil
}
