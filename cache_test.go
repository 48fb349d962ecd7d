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
	"sync/atomic"
	"testing"
	"time"
)

func TestCacheKey(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		wantSame bool
	}{
		{
			name:     "scope order ignored",
			a:        CacheKey("sa.json", []string{"scope-a", "scope-b"}, nil),
			b:        CacheKey("sa.json", []string{"scope-b", "scope-a"}, nil),
			wantSame: true,
		},
		{
			name:     "different scopes differ",
			a:        CacheKey("sa.json", []string{"scope-a"}, nil),
			b:        CacheKey("sa.json", []string{"scope-b"}, nil),
			wantSame: false,
		},
		{
			name:     "different sources differ",
			a:        CacheKey("sa.json", []string{"scope-a"}, nil),
			b:        CacheKey("other.json", []string{"scope-a"}, nil),
			wantSame: false,
		},
		{
			name:     "impersonation chain differs from none",
			a:        CacheKey("sa.json", []string{"scope-a"}, []string{"mid@example.com"}),
			b:        CacheKey("sa.json", []string{"scope-a"}, nil),
			wantSame: false,
		},
		{
			name:     "chain order matters",
			a:        CacheKey("sa.json", []string{"scope-a"}, []string{"one@example.com", "two@example.com"}),
			b:        CacheKey("sa.json", []string{"scope-a"}, []string{"two@example.com", "one@example.com"}),
			wantSame: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a == tt.b; got != tt.wantSame {
				t.Errorf("CacheKey equality = %v, want %v (a=%q b=%q)", got, tt.wantSame, tt.a, tt.b)
			}
		})
	}
}

func TestTokenCache_KeysAreIndependent(t *testing.T) {
	cache := NewTokenCache(nil)
	ctx := context.Background()

	var calls int64
	supplierFor := func(value string) TokenSupplier {
		return func(context.Context) (*Token, error) {
			atomic.AddInt64(&calls, 1)
			return &Token{Value: value, Expiry: time.Now().Add(time.Hour)}, nil
		}
	}

	keyA := CacheKey("sa.json", []string{"scope-a"}, nil)
	keyB := CacheKey("sa.json", []string{"scope-b"}, nil)

	tokA, err := cache.GetOrRefresh(ctx, keyA, supplierFor("token-a"))
	if err != nil {
		t.Fatalf("GetOrRefresh(keyA) = %v", err)
	}
	tokB, err := cache.GetOrRefresh(ctx, keyB, supplierFor("token-b"))
	if err != nil {
		t.Fatalf("GetOrRefresh(keyB) = %v", err)
	}
	if tokA.Value == tokB.Value {
		t.Fatalf("scope sets shared a token: %q", tokA.Value)
	}

	// Repeat lookups are cache hits per key.
	tokA2, err := cache.GetOrRefresh(ctx, keyA, supplierFor("token-a2"))
	if err != nil {
		t.Fatalf("GetOrRefresh(keyA) = %v", err)
	}
	if tokA2.Value != "token-a" {
		t.Errorf("got %q, want cached %q", tokA2.Value, "token-a")
	}
	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Errorf("got %d supplier calls, want 2", got)
	}
}

func TestTokenCache_NeverReturnsExpired(t *testing.T) {
	cache := NewTokenCache(nil)
	ctx := context.Background()
	key := CacheKey("sa.json", []string{"scope-a"}, nil)

	short, err := cache.GetOrRefresh(ctx, key, func(context.Context) (*Token, error) {
		return &Token{Value: "stale", Expiry: time.Now().Add(-time.Minute)}, nil
	})
	if err != nil {
		t.Fatalf("GetOrRefresh() = %v", err)
	}
	if short.Value != "stale" {
		t.Fatalf("got %q, want %q", short.Value, "stale")
	}

	// The stored token has expired; the cache must refresh, not serve it.
	fresh, err := cache.GetOrRefresh(ctx, key, func(context.Context) (*Token, error) {
		return &Token{Value: "fresh", Expiry: time.Now().Add(time.Hour)}, nil
	})
	if err != nil {
		t.Fatalf("GetOrRefresh() = %v", err)
	}
	if fresh.Value != "fresh" {
		t.Errorf("got %q, want %q", fresh.Value, "fresh")
	}
}
