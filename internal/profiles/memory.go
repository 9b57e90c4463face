package profiles

import (
	"context"
	"sync"

	"servhub/internal/models"
)

// MemoryProfileCache is the in-process fallback cache. Last-writer-wins on
// concurrent inserts; profile data is eventually consistent.
type MemoryProfileCache struct {
	mu       sync.RWMutex
	profiles map[string]*models.Profile
}

func NewMemoryProfileCache() *MemoryProfileCache {
	return &MemoryProfileCache{profiles: make(map[string]*models.Profile)}
}

func (c *MemoryProfileCache) Get(ctx context.Context, id string) (*models.Profile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[id]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (c *MemoryProfileCache) Set(ctx context.Context, profile *models.Profile) error {
	copied := *profile
	c.mu.Lock()
	c.profiles[profile.ID] = &copied
	c.mu.Unlock()
	return nil
}

func (c *MemoryProfileCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.profiles = make(map[string]*models.Profile)
	c.mu.Unlock()
	return nil
}
