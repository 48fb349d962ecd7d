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
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/credflow/credflow/internal/jwt"
)

func testKeyPEM(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey() = %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("x509.MarshalPKCS8PrivateKey() = %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return key, pemBytes
}

func Test2LOTokenProvider(t *testing.T) {
	key, pemBytes := testKeyPEM(t)
	var hits int64
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("r.ParseForm() = %v", err)
		}
		if got, want := r.FormValue("grant_type"), GrantTypeJWTBearer; got != want {
			t.Errorf("got %q, want %q", got, want)
		}
		assertion := r.FormValue("assertion")
		if err := jwt.VerifyJWS(assertion, &key.PublicKey); err != nil {
			t.Errorf("jwt.VerifyJWS() = %v", err)
		}
		claims, err := jwt.DecodeJWS(assertion)
		if err != nil {
			t.Fatalf("jwt.DecodeJWS() = %v", err)
		}
		if got, want := claims.Iss, "robot@example.com"; got != want {
			t.Errorf("got iss %q, want %q", got, want)
		}
		if got, want := claims.Scope, "scope-a scope-b"; got != want {
			t.Errorf("got scope %q, want %q", got, want)
		}
		if got, want := claims.Aud, ts.URL; got != want {
			t.Errorf("got aud %q, want %q", got, want)
		}
		if claims.Exp <= claims.Iat {
			t.Errorf("exp %d not after iat %d", claims.Exp, claims.Iat)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"token-90","token_type":"Bearer","expires_in":3600}`)
	}))
	defer ts.Close()

	tp, err := New2LOTokenProvider(&Options2LO{
		Email:      "robot@example.com",
		PrivateKey: pemBytes,
		TokenURL:   ts.URL,
		Scopes:     []string{"scope-a", "scope-b"},
		Client:     ts.Client(),
	})
	if err != nil {
		t.Fatalf("New2LOTokenProvider() = %v", err)
	}
	tok, err := tp.Token(context.Background())
	if err != nil {
		t.Fatalf("tp.Token() = %v", err)
	}
	if got, want := tok.Value, "token-90"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	// One signing plus exactly one endpoint round trip.
	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Errorf("got %d requests, want 1", got)
	}
}

func Test2LOTokenProvider_SubjectAndAudience(t *testing.T) {
	key, pemBytes := testKeyPEM(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assertion := r.FormValue("assertion")
		if err := jwt.VerifyJWS(assertion, &key.PublicKey); err != nil {
			t.Errorf("jwt.VerifyJWS() = %v", err)
		}
		claims, err := jwt.DecodeJWS(assertion)
		if err != nil {
			t.Fatalf("jwt.DecodeJWS() = %v", err)
		}
		if got, want := claims.Sub, "user@example.com"; got != want {
			t.Errorf("got sub %q, want %q", got, want)
		}
		if got, want := claims.Aud, "https://service.example.com/"; got != want {
			t.Errorf("got aud %q, want %q", got, want)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"token-90","expires_in":3600}`)
	}))
	defer ts.Close()

	tp, err := New2LOTokenProvider(&Options2LO{
		Email:      "robot@example.com",
		PrivateKey: pemBytes,
		TokenURL:   ts.URL,
		Subject:    "user@example.com",
		Audience:   "https://service.example.com/",
		Client:     ts.Client(),
	})
	if err != nil {
		t.Fatalf("New2LOTokenProvider() = %v", err)
	}
	if _, err := tp.Token(context.Background()); err != nil {
		t.Fatalf("tp.Token() = %v", err)
	}
}

func Test2LOTokenProvider_BadKey(t *testing.T) {
	tp, err := New2LOTokenProvider(&Options2LO{
		Email:      "robot@example.com",
		PrivateKey: []byte("not a key"),
		TokenURL:   "https://example.com/token",
	})
	if err != nil {
		t.Fatalf("New2LOTokenProvider() = %v", err)
	}
	_, err = tp.Token(context.Background())
	var credErr *Error
	if !errors.As(err, &credErr) {
		t.Fatalf("error not of correct type: %T", err)
	}
	if got, want := credErr.Stage, StageSigning; got != want {
		t.Errorf("got stage %q, want %q", got, want)
	}
}

func Test2LOTokenProvider_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts *Options2LO
	}{
		{name: "nil options"},
		{
			name: "missing email",
			opts: &Options2LO{PrivateKey: []byte("key"), TokenURL: "url"},
		},
		{
			name: "missing key",
			opts: &Options2LO{Email: "robot@example.com", TokenURL: "url"},
		},
		{
			name: "missing token URL",
			opts: &Options2LO{Email: "robot@example.com", PrivateKey: []byte("key")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New2LOTokenProvider(tt.opts); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
