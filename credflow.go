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

// Package credflow provides the building blocks for resolving credentials and
// exchanging them for access tokens: the token model, token caching with a
// single-flight refresh guarantee, and the token-endpoint exchange used by the
// concrete credential types in [github.com/credflow/credflow/credentials].
package credflow

import (
	"context"
	"time"
)

const (
	// defaultExpireEarly is how long before expiry a cached token is
	// considered stale and refreshed.
	defaultExpireEarly = time.Minute
)

// for testing
var timeNow = time.Now

// TokenProvider specifies an interface for anything that can return a token.
type TokenProvider interface {
	// Token returns a Token or an error.
	// The Token returned must be safe to use
	// concurrently.
	// The returned Token must not be modified.
	// The context provided must be sent along to any requests that are made in
	// the implementing code.
	Token(context.Context) (*Token, error)
}

// Token holds the credential token used to authorize requests. All fields are
// considered read-only.
type Token struct {
	// Value is the token used to authorize requests. It is usually an access
	// token but may be other types of tokens such as ID tokens in some flows.
	Value string
	// Type is the type of token Value is. If uninitialized, it should be
	// assumed to be a "Bearer" token.
	Type string
	// Expiry is the time the token is set to expire. It is always an absolute
	// timestamp.
	Expiry time.Time
	// Scopes are the scopes the token was granted for. May be empty for flows
	// that do not report granted scopes.
	Scopes []string
	// Metadata may include, but is not limited to, the body of the token
	// response returned by the server.
	Metadata map[string]interface{}
}

// IsValid reports that a [Token] is non-nil, has a [Token.Value], and has not
// expired. A token is considered expired if [Token.Expiry] has passed or will
// pass in the next minute.
func (t *Token) IsValid() bool {
	return t.isValidWithEarlyExpiry(defaultExpireEarly)
}

func (t *Token) isValidWithEarlyExpiry(earlyExpiry time.Duration) bool {
	if t == nil || t.Value == "" {
		return false
	}
	if t.Expiry.IsZero() {
		return true
	}
	return !t.Expiry.Round(0).Add(-earlyExpiry).Before(timeNow())
}

// CachedTokenProviderOptions provides options for configuring a cached
// [TokenProvider].
type CachedTokenProviderOptions struct {
	// DisableAutoRefresh makes the TokenProvider always return the same token,
	// even if it is expired. The default is false. Optional.
	DisableAutoRefresh bool
	// ExpireEarly configures the amount of time before a token expires, that it
	// should be refreshed. If unset, the default value is 1 minute. Optional.
	ExpireEarly time.Duration
}

func (ctpo *CachedTokenProviderOptions) cacheOptions() *TokenCacheOptions {
	if ctpo == nil {
		return nil
	}
	return &TokenCacheOptions{
		DisableAutoRefresh: ctpo.DisableAutoRefresh,
		ExpireEarly:        ctpo.ExpireEarly,
	}
}

// NewCachedTokenProvider wraps a [TokenProvider] to cache the tokens returned
// by the underlying provider. Concurrent callers share a single in-flight
// refresh per provider, and a caller abandoning its context does not cancel a
// refresh other callers are still waiting on.
func NewCachedTokenProvider(tp TokenProvider, opts *CachedTokenProviderOptions) TokenProvider {
	if ctp, ok := tp.(*cachedTokenProvider); ok {
		return ctp
	}
	return &cachedTokenProvider{
		tp:    tp,
		cache: NewTokenCache(opts.cacheOptions()),
	}
}

type cachedTokenProvider struct {
	tp    TokenProvider
	cache *TokenCache
}

func (c *cachedTokenProvider) Token(ctx context.Context) (*Token, error) {
	return c.cache.GetOrRefresh(ctx, "token", c.tp.Token)
}
