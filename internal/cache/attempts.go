package cache

import (
	"errors"
	"fmt"
	"time"
)

// AgentBudget is a per-caller attempt counter with a TTL reset policy.
// Every agent dispatch consumes one attempt; when a caller runs out, the bot
// pipeline routes their triggers to the grammar parser instead.
type AgentBudget struct {
	cache *Cache
	max   int
	ttl   time.Duration
}

// NewAgentBudget creates an attempt budget backed by the cache.
func NewAgentBudget(cache *Cache, max int, ttl time.Duration) *AgentBudget {
	return &AgentBudget{cache: cache, max: max, ttl: ttl}
}

// Consume takes one attempt for the caller. Returns true when the caller
// still had budget. With the cache disabled no budget exists, so the caller
// degrades to the grammar path.
func (b *AgentBudget) Consume(fid int64) (bool, error) {
	if b == nil || b.max <= 0 {
		return false, nil
	}

	count, err := b.cache.Incr(b.key(fid), b.ttl)
	if err != nil {
		if errors.Is(err, ErrCacheDisabled) {
			return false, nil
		}
		return false, err
	}
	return count <= int64(b.max), nil
}

func (b *AgentBudget) key(fid int64) string {
	return fmt.Sprintf("agent:attempts:%d", fid)
}
