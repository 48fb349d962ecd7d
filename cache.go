// Copyright 2024 The Credflow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package credflow

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// TokenSupplier produces a fresh [Token]. It is invoked by a [TokenCache]
// when no valid cached token exists for a key.
type TokenSupplier func(context.Context) (*Token, error)

// TokenCacheOptions provides options for configuring a [TokenCache].
type TokenCacheOptions struct {
	// DisableAutoRefresh makes the cache keep returning a stored token even
	// after it has expired. The default is false. Optional.
	DisableAutoRefresh bool
	// ExpireEarly configures the amount of time before a token expires, that
	// it should be refreshed. If unset, the default value is 1 minute.
	// Optional.
	ExpireEarly time.Duration
}

func (o *TokenCacheOptions) autoRefresh() bool {
	if o == nil {
		return true
	}
	return !o.DisableAutoRefresh
}

func (o *TokenCacheOptions) expireEarly() time.Duration {
	if o == nil || o.ExpireEarly == 0 {
		return defaultExpireEarly
	}
	return o.ExpireEarly
}

// NewTokenCache creates a keyed token cache. Distinct keys are fully
// independent; for a single key at most one supplier invocation is in flight
// at a time and all concurrent callers for that key observe its result.
func NewTokenCache(opts *TokenCacheOptions) *TokenCache {
	return &TokenCache{
		autoRefresh: opts.autoRefresh(),
		expireEarly: opts.expireEarly(),
		tokens:      make(map[string]*Token),
	}
}

// TokenCache stores the last issued token per key and refreshes it within the
// configured expiry skew. Failed supplier calls are never stored.
type TokenCache struct {
	autoRefresh bool
	expireEarly time.Duration

	group singleflight.Group

	mu     sync.Mutex
	tokens map[string]*Token
}

// GetOrRefresh returns the cached token for key if it is still valid within
// the expiry skew, otherwise invokes supplier under a per-key single-flight
// lock, stores the result on success, and returns it. An already-expired
// token is never returned. If the caller's context is done while a refresh is
// in flight, the caller unblocks with the context error but the refresh keeps
// running for the remaining waiters.
func (c *TokenCache) GetOrRefresh(ctx context.Context, key string, supplier TokenSupplier) (*Token, error) {
	c.mu.Lock()
	cached := c.tokens[key]
	c.mu.Unlock()
	if cached.isValidWithEarlyExpiry(c.expireEarly) {
		return cached, nil
	}
	if cached != nil && !c.autoRefresh {
		return cached, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// The fetch is detached from the initiating caller so that its
		// cancellation cannot fail other callers awaiting the same key.
		t, err := supplier(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.tokens[key] = t
		c.mu.Unlock()
		return t, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Token), nil
	}
}

// CacheKey builds a [TokenCache] key from a credential source identity, the
// requested scope set, and an optional impersonation chain. Scope order does
// not matter; two requests for the same scope set share a key, and any
// difference in scopes or chain yields a distinct key.
func CacheKey(source string, scopes []string, chain []string) string {
	sorted := make([]string, len(scopes))
	copy(sorted, scopes)
	sort.Strings(sorted)
	var sb strings.Builder
	sb.WriteString(source)
	sb.WriteString("|")
	sb.WriteString(strings.Join(sorted, " "))
	sb.WriteString("|")
	sb.WriteString(strings.Join(chain, ","))
	return sb.String()
}
