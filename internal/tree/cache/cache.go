// Package cache memoizes compiled execution trees by source text.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/engine"
)

// InMemory holds up to max trees. Concurrent misses on one key share a single
// compile; errors and panics are never cached.
type InMemory struct {
	mu    sync.RWMutex
	max   int
	items map[string]engine.Node
	group singleflight.Group
}

func NewInMemory(max int) *InMemory {
	if max < 0 {
		max = 0
	}
	return &InMemory{
		max:   max,
		items: make(map[string]engine.Node, max),
	}
}

func (c *InMemory) GetOrCompute(key string, fn func() (engine.Node, error)) (engine.Node, error) {
	h := hash(key)

	c.mu.RLock()
	if v, ok := c.items[h]; ok {
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(h, func() (out any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("tree compile panicked: %v", r)
			}
		}()

		c.mu.RLock()
		cached, ok := c.items[h]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		n, err := fn()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if len(c.items) < c.max {
			c.items[h] = n
		}
		c.mu.Unlock()
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(engine.Node), nil
}

func (c *InMemory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
