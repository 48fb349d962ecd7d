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

package externalaccount

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type staticSupplier string

func (s staticSupplier) SubjectToken(context.Context) (string, error) {
	return string(s), nil
}

func TestNewTokenProvider(t *testing.T) {
	var hits int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("r.ParseForm() = %v", err)
		}
		if got, want := r.FormValue("subject_token"), "supplied-token"; got != want {
			t.Errorf("got %q, want %q", got, want)
		}
		if got, want := r.FormValue("grant_type"), "urn:ietf:params:oauth:grant-type:token-exchange"; got != want {
			t.Errorf("got %q, want %q", got, want)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"sts-token","token_type":"Bearer","expires_in":3600}`)
	}))
	defer ts.Close()

	tp, err := NewTokenProvider(&Options{
		Audience:             "//iam.example.com/pools/pool-id/providers/provider-id",
		SubjectTokenType:     "urn:ietf:params:oauth:token-type:jwt",
		TokenURL:             ts.URL,
		SubjectTokenProvider: staticSupplier("supplied-token"),
		Scopes:               []string{"scope-a"},
		Client:               ts.Client(),
	})
	if err != nil {
		t.Fatalf("NewTokenProvider() = %v", err)
	}
	tok, err := tp.Token(context.Background())
	if err != nil {
		t.Fatalf("tp.Token() = %v", err)
	}
	if got, want := tok.Value, "sts-token"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	// The provider is cached: a second call does not hit the endpoint.
	if _, err := tp.Token(context.Background()); err != nil {
		t.Fatalf("tp.Token() = %v", err)
	}
	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Errorf("got %d requests, want 1", got)
	}
}

func TestNewTokenProvider_Validation(t *testing.T) {
	if _, err := NewTokenProvider(nil); err == nil {
		t.Error("expected error for nil options")
	}
	if _, err := NewTokenProvider(&Options{
		Audience:         "audience",
		SubjectTokenType: "type",
		TokenURL:         "url",
	}); err == nil {
		t.Error("expected error for missing subject token provider")
	}
}
