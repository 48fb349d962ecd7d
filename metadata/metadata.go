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

// Package metadata is a client for the instance metadata service ambient on
// platform virtual machines. It consumes the service's contract: plain HTTP
// GETs against a link-local host with a "Metadata-Flavor: Google" request
// header, echoed back in the response.
package metadata

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/credflow/credflow/internal/retry"
	"github.com/googleapis/gax-go/v2/internallog"
)

const (
	// metadataIP is the documented metadata server IP address.
	metadataIP = "169.254.169.254"

	// metadataHostEnv is the environment variable specifying the
	// metadata server addr.
	metadataHostEnv = "GCE_METADATA_HOST"

	flavorHeader = "Metadata-Flavor"
	flavorValue  = "Google"
)

// NotDefinedError is returned when requested metadata is not defined.
//
// The underlying string is the suffix that was requested.
type NotDefinedError string

func (suffix NotDefinedError) Error() string {
	return fmt.Sprintf("metadata: attribute %q not defined", string(suffix))
}

var (
	onProbeOnce sync.Once
	onProbe     bool
)

// OnPlatform reports whether the process can reach a metadata server. The
// probe runs once per process; discovery relies on it to decide whether an
// ambient credential is available at all.
func OnPlatform() bool {
	onProbeOnce.Do(func() {
		onProbe = probe()
	})
	return onProbe
}

func probe() bool {
	// A deployment that sets the host override asserts the server exists.
	if os.Getenv(metadataHostEnv) != "" {
		return true
	}
	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequest("GET", "http://"+metadataIP, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", "credflow/metadata")
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.Header.Get(flavorHeader) == flavorValue
}

// Options for configuring a [Client].
type Options struct {
	// Client is the HTTP client used to make requests. Optional.
	Client *http.Client
	// Host overrides the metadata server host. If empty the environment
	// override or the well-known IP is used. Optional.
	Host string
	// Logger for debug logging. Optional.
	Logger *slog.Logger
}

// Client provides metadata service lookups.
type Client struct {
	hc     *http.Client
	host   string
	logger *slog.Logger
}

// NewClient returns a Client configured from opts. A nil opts is allowed.
func NewClient(opts *Options) *Client {
	if opts == nil {
		opts = &Options{}
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	host := opts.Host
	if host == "" {
		host = os.Getenv(metadataHostEnv)
	}
	if host == "" {
		host = metadataIP
	}
	return &Client{
		hc:     client,
		host:   host,
		logger: internallog.New(opts.Logger),
	}
}

// GetWithContext returns the raw value of the metadata service at the given
// suffix, e.g. "instance/service-accounts/default/token". A missing suffix is
// reported as [NotDefinedError]; transient server and transport failures are
// retried with bounded backoff before being surfaced.
func (c *Client) GetWithContext(ctx context.Context, suffix string) (string, error) {
	suffix = strings.TrimLeft(suffix, "/")
	u := "http://" + c.host + "/computeMetadata/v1/" + suffix

	bo := retry.DefaultBackoff()
	var lastErr error
	for attempt := 0; attempt < retry.DefaultMaxAttempts; attempt++ {
		if attempt > 0 {
			if err := retry.Sleep(ctx, bo.Pause()); err != nil {
				return "", err
			}
		}
		req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
		if err != nil {
			return "", err
		}
		req.Header.Set(flavorHeader, flavorValue)
		c.logger.DebugContext(ctx, "metadata request", "request", internallog.HTTPRequest(req, nil))
		resp, err := c.hc.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("metadata: unreachable: %w", err)
			if retry.ShouldRetry(0, err) {
				continue
			}
			return "", lastErr
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("metadata: reading response: %w", err)
			continue
		}
		c.logger.DebugContext(ctx, "metadata response", "response", internallog.HTTPResponse(resp, body))
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return "", NotDefinedError(suffix)
		case resp.StatusCode != http.StatusOK:
			lastErr = fmt.Errorf("metadata: status code %d: %s", resp.StatusCode, body)
			if retry.ShouldRetry(resp.StatusCode, nil) {
				continue
			}
			return "", lastErr
		}
		return string(body), nil
	}
	return "", lastErr
}
