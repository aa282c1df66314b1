package access

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/repository"
)

// AllowList resolves allow-list entries.
type AllowList interface {
	LookupUsername(ctx context.Context, username string) (*domain.User, error)
	LookupID(ctx context.Context, id string) (*domain.User, error)
}

// StoreAllowList reads entries straight from the user store.
type StoreAllowList struct {
	users repository.UserRepository
}

// NewStoreAllowList wraps a user repository.
func NewStoreAllowList(users repository.UserRepository) StoreAllowList {
	return StoreAllowList{users: users}
}

// LookupUsername finds an entry by GitHub username, ignoring case.
func (s StoreAllowList) LookupUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.users.GetUserByGithubUsername(ctx, username)
}

// LookupID finds an entry by identifier.
func (s StoreAllowList) LookupID(ctx context.Context, id string) (*domain.User, error) {
	return s.users.GetUserByID(ctx, id)
}

type cacheEntry struct {
	user    domain.User
	expires time.Time
}

// CachedAllowList keeps successful lookups for a fixed TTL. Misses and errors
// are never cached so a newly granted user is admitted immediately.
type CachedAllowList struct {
	mu     sync.RWMutex
	next   AllowList
	ttl    time.Duration
	now    func() time.Time
	byName map[string]cacheEntry
	byID   map[string]cacheEntry
}

// NewCachedAllowList decorates next with a TTL cache.
func NewCachedAllowList(next AllowList, ttl time.Duration) *CachedAllowList {
	return &CachedAllowList{
		next:   next,
		ttl:    ttl,
		now:    time.Now,
		byName: make(map[string]cacheEntry),
		byID:   make(map[string]cacheEntry),
	}
}

// LookupUsername returns a cached entry or loads it.
func (c *CachedAllowList) LookupUsername(ctx context.Context, username string) (*domain.User, error) {
	key := strings.ToLower(strings.TrimSpace(username))
	if user, ok := c.get(c.byName, key); ok {
		return user, nil
	}
	user, err := c.next.LookupUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	c.put(*user)
	return user, nil
}

// LookupID returns a cached entry or loads it.
func (c *CachedAllowList) LookupID(ctx context.Context, id string) (*domain.User, error) {
	if user, ok := c.get(c.byID, id); ok {
		return user, nil
	}
	user, err := c.next.LookupID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.put(*user)
	return user, nil
}

// Invalidate drops every cached entry.
func (c *CachedAllowList) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byName = make(map[string]cacheEntry)
	c.byID = make(map[string]cacheEntry)
}

func (c *CachedAllowList) get(index map[string]cacheEntry, key string) (*domain.User, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := index[key]
	if !ok || !c.now().Before(entry.expires) {
		return nil, false
	}
	user := entry.user
	return &user, true
}

func (c *CachedAllowList) put(user domain.User) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := cacheEntry{user: user, expires: c.now().Add(c.ttl)}
	c.byID[user.ID] = entry
	if user.GithubUsername != "" {
		c.byName[strings.ToLower(user.GithubUsername)] = entry
	}
}
