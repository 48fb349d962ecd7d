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

package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestComputeTokenProvider(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got, want := r.Header.Get("Metadata-Flavor"), "Google"; got != want {
			t.Errorf("got %q, want %q", got, want)
		}
		if got, want := r.URL.Query().Get("scopes"), "scope-a,scope-b"; got != want {
			t.Errorf("got %q, want %q", got, want)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"metadata-token","expires_in":3600,"token_type":"Bearer"}`)
	}))
	defer ts.Close()
	t.Setenv("GCE_METADATA_HOST", ts.Listener.Addr().String())

	tp := computeTokenProvider(&DetectOptions{Scopes: []string{"scope-a", "scope-b"}})
	tok, err := tp.Token(context.Background())
	if err != nil {
		t.Fatalf("tp.Token() = %v", err)
	}
	if got, want := tok.Value, "metadata-token"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := tok.Metadata["credflow.tokenSource"], "compute-metadata"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestComputeTokenProvider_NoServiceAccount(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()
	t.Setenv("GCE_METADATA_HOST", ts.Listener.Addr().String())

	tp := computeTokenProvider(&DetectOptions{})
	_, err := tp.Token(context.Background())
	// The instance answers but carries no identity: terminal, not transient.
	if !errors.Is(err, ErrNoServiceAccount) {
		t.Fatalf("got %v, want ErrNoServiceAccount", err)
	}
	if errors.Is(err, ErrMetadataUnavailable) {
		t.Error("terminal error must not also read as unavailable")
	}
}

func TestComputeTokenProvider_MetadataUnavailable(t *testing.T) {
	// A closed listener: connection refused on every attempt.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := ts.Listener.Addr().String()
	ts.Close()
	t.Setenv("GCE_METADATA_HOST", addr)

	tp := computeTokenProvider(&DetectOptions{})
	_, err := tp.Token(context.Background())
	if !errors.Is(err, ErrMetadataUnavailable) {
		t.Fatalf("got %v, want ErrMetadataUnavailable", err)
	}
}

func TestComputeTokenProvider_Expiry(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"metadata-token","expires_in":3600,"token_type":"Bearer"}`)
	}))
	defer ts.Close()
	t.Setenv("GCE_METADATA_HOST", ts.Listener.Addr().String())

	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	old := timeNow
	defer func() { timeNow = old }()
	timeNow = func() time.Time { return fixed }

	tp := computeTokenProvider(&DetectOptions{})
	tok, err := tp.Token(context.Background())
	if err != nil {
		t.Fatalf("tp.Token() = %v", err)
	}
	if got, want := tok.Expiry, fixed.Add(3600*time.Second); !got.Equal(want) {
		t.Errorf("got expiry %v, want %v", got, want)
	}
}

func TestComputeTokenProvider_IncompleteToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"token_type":"Bearer"}`)
	}))
	defer ts.Close()
	t.Setenv("GCE_METADATA_HOST", ts.Listener.Addr().String())

	tp := computeTokenProvider(&DetectOptions{})
	_, err := tp.Token(context.Background())
	if err == nil {
		t.Fatal("expected error for incomplete token")
	}
	if !strings.Contains(err.Error(), "incomplete") {
		t.Errorf("got %v, want incomplete token error", err)
	}
}
