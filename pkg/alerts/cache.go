/*
Copyright 2026 Zestminds.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package alerts

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// cacheTTL is the staleness window the list endpoints tolerate.
const cacheTTL = 5 * time.Minute

// ruleCache holds every rule grouped by user plus a single freshness stamp.
// Racing refreshes are tolerated: each produces a consistent snapshot and
// the last stamp writer wins; singleflight merely dedupes concurrent loads.
type ruleCache struct {
	ttl time.Duration

	mu          sync.RWMutex
	byUser      map[int64][]Rule
	refreshedAt time.Time

	group singleflight.Group
}

func newRuleCache(ttl time.Duration) *ruleCache {
	return &ruleCache{ttl: ttl}
}

type loaderFunc func(ctx context.Context) (map[int64][]Rule, error)

// RulesForUser returns the cached rules for one user, refreshing the whole
// cache first when the stamp is stale.
func (c *ruleCache) RulesForUser(ctx context.Context, userID int64, load loaderFunc) ([]Rule, error) {
	c.mu.RLock()
	fresh := !c.refreshedAt.IsZero() && time.Since(c.refreshedAt) < c.ttl
	rules := c.byUser[userID]
	c.mu.RUnlock()

	if fresh {
		return rules, nil
	}

	_, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		byUser, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.byUser = byUser
		c.refreshedAt = time.Now()
		c.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byUser[userID], nil
}

// Invalidate zeroes the stamp; the next read reloads.
func (c *ruleCache) Invalidate() {
	c.mu.Lock()
	c.refreshedAt = time.Time{}
	c.mu.Unlock()
}
