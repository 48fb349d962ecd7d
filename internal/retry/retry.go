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

// Package retry classifies token-endpoint failures as transient or terminal
// and provides the shared backoff used for bounded retries.
package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/googleapis/gax-go/v2"
)

// DefaultMaxAttempts is the total number of attempts made for a single
// logical exchange before a transient failure is surfaced.
const DefaultMaxAttempts = 3

// DefaultBackoff returns the backoff settings used between retry attempts.
func DefaultBackoff() gax.Backoff {
	return gax.Backoff{
		Initial:    250 * time.Millisecond,
		Max:        5 * time.Second,
		Multiplier: 2,
	}
}

// Sleep waits for the given pause or until ctx is done, whichever comes
// first.
func Sleep(ctx context.Context, d time.Duration) error {
	return gax.Sleep(ctx, d)
}

type temporary interface {
	Temporary() bool
}

// ShouldRetry reports whether a failed attempt with the given HTTP status
// and/or transport error is transient. Server errors, timeouts, and dropped
// connections are transient; any 4xx rejection is terminal.
func ShouldRetry(status int, err error) bool {
	if status >= http.StatusInternalServerError ||
		status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests {
		return true
	}
	if err == nil {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var tmp temporary
	if errors.As(err, &tmp) && tmp.Temporary() {
		return true
	}
	return false
}
