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

package internal

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestParseKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey() = %v", err)
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("x509.MarshalPKCS8PrivateKey() = %v", err)
	}
	pkcs1 := x509.MarshalPKCS1PrivateKey(key)

	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{
			name: "pem pkcs8",
			key:  pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}),
		},
		{
			name: "pem pkcs1",
			key:  pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: pkcs1}),
		},
		{
			name: "bare pkcs8",
			key:  pkcs8,
		},
		{
			name:    "garbage",
			key:     []byte("not a key"),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKey(tt.key)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKey() = %v", err)
			}
			if got.N.Cmp(key.N) != 0 {
				t.Error("parsed key does not match the original")
			}
		})
	}
}

type failReader struct{}

func (failReader) Read([]byte) (int, error) {
	return 0, errors.New("read failed")
}

func TestReadAll(t *testing.T) {
	body, err := ReadAll(strings.NewReader("response body"))
	if err != nil {
		t.Fatalf("ReadAll() = %v", err)
	}
	if got, want := string(body), "response body"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if _, err := ReadAll(failReader{}); err == nil {
		t.Error("expected error from failing reader")
	}
}

func TestCloneDefaultClient(t *testing.T) {
	got := CloneDefaultClient()
	if got.Transport == http.DefaultTransport {
		t.Error("client should not share http.DefaultTransport")
	}
	if got.Timeout == 0 {
		t.Error("client should carry a request timeout")
	}
}
