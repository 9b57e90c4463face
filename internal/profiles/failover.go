package profiles

import (
	"context"
	"sync/atomic"
	"time"

	"servhub/internal/domain"
	"servhub/internal/models"

	"github.com/rs/zerolog"
)

// FailoverProfileCache prefers the primary cache and falls back to the
// secondary when the primary errors. The primary is retried after a cooldown.
type FailoverProfileCache struct {
	primary   domain.ProfileCache
	fallback  domain.ProfileCache
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverProfileCache(primary, fallback domain.ProfileCache, logger *zerolog.Logger) *FailoverProfileCache {
	return &FailoverProfileCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (c *FailoverProfileCache) markDown(err error) {
	c.logger.Error().Err(err).Msg("Primary profile cache failed, falling back to memory")
	c.isDown.Store(true)
	c.lastCheck.Store(time.Now().UnixNano())
}

func (c *FailoverProfileCache) shouldRetryPrimary() bool {
	return time.Since(time.Unix(0, c.lastCheck.Load())) > time.Minute
}

func (c *FailoverProfileCache) Get(ctx context.Context, id string) (*models.Profile, error) {
	if !c.isDown.Load() {
		p, err := c.primary.Get(ctx, id)
		if err == nil {
			return p, nil
		}
		c.markDown(err)
	}

	if c.isDown.Load() && c.shouldRetryPrimary() {
		p, err := c.primary.Get(ctx, id)
		if err == nil {
			c.isDown.Store(false)
			return p, nil
		}
		c.lastCheck.Store(time.Now().UnixNano())
	}

	return c.fallback.Get(ctx, id)
}

func (c *FailoverProfileCache) Set(ctx context.Context, profile *models.Profile) error {
	if !c.isDown.Load() {
		if err := c.primary.Set(ctx, profile); err == nil {
			return nil
		} else {
			c.markDown(err)
		}
	}
	return c.fallback.Set(ctx, profile)
}

func (c *FailoverProfileCache) Clear(ctx context.Context) error {
	// Both sides are cleared so a recovered primary cannot resurrect stale
	// entries.
	if err := c.primary.Clear(ctx); err != nil {
		c.markDown(err)
	}
	return c.fallback.Clear(ctx)
}
