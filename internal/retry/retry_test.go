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

package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"
)

type temporaryError struct {
	msg string
}

func (e *temporaryError) Error() string {
	return e.msg
}

func (e *temporaryError) Temporary() bool {
	return true
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		want   bool
	}{
		{
			name:   "200 OK",
			status: http.StatusOK,
			want:   false,
		},
		{
			name:   "500 Internal Server Error",
			status: http.StatusInternalServerError,
			want:   true,
		},
		{
			name:   "503 Service Unavailable",
			status: http.StatusServiceUnavailable,
			want:   true,
		},
		{
			name:   "408 Request Timeout",
			status: http.StatusRequestTimeout,
			want:   true,
		},
		{
			name:   "429 Too Many Requests",
			status: http.StatusTooManyRequests,
			want:   true,
		},
		{
			name:   "400 Bad Request",
			status: http.StatusBadRequest,
			want:   false,
		},
		{
			name:   "403 Forbidden",
			status: http.StatusForbidden,
			want:   false,
		},
		{
			name:   "404 Not Found",
			status: http.StatusNotFound,
			want:   false,
		},
		{
			name: "EOF",
			err:  io.EOF,
			want: true,
		},
		{
			name: "unexpected EOF",
			err:  io.ErrUnexpectedEOF,
			want: true,
		},
		{
			name: "temporary error",
			err:  &temporaryError{msg: "temporary"},
			want: true,
		},
		{
			name: "wrapped temporary error",
			err:  fmt.Errorf("wrapped: %w", &temporaryError{msg: "temporary"}),
			want: true,
		},
		{
			name: "non-temporary error",
			err:  errors.New("non-temporary"),
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldRetry(tt.status, tt.err); got != tt.want {
				t.Errorf("ShouldRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultBackoff(t *testing.T) {
	bo := DefaultBackoff()
	prevMax := time.Duration(0)
	for i := 0; i < 10; i++ {
		d := bo.Pause()
		if d < 0 || d > bo.Max {
			t.Fatalf("Pause() = %v, want within [0, %v]", d, bo.Max)
		}
		if d > prevMax {
			prevMax = d
		}
	}
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() = %v, want context.Canceled", err)
	}
}
