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
	"log/slog"
	"net/http"

	"github.com/credflow/credflow/internal"
	"github.com/credflow/credflow/internal/credsfile"
	"github.com/googleapis/gax-go/v2/internallog"
)

// urlSubjectProvider fetches the subject token from a local HTTP endpoint,
// typically a sidecar or link-local identity service.
type urlSubjectProvider struct {
	URL     string
	Headers map[string]string
	Format  *credsfile.Format
	Client  *http.Client
	Logger  *slog.Logger
}

func (sp *urlSubjectProvider) subjectToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", sp.URL, nil)
	if err != nil {
		return "", fmt.Errorf("externalaccount: HTTP request for URL-sourced credential failed: %w", err)
	}
	for key, val := range sp.Headers {
		req.Header.Add(key, val)
	}
	client := sp.Client
	if client == nil {
		client = internal.CloneDefaultClient()
	}
	logger := internallog.New(sp.Logger)
	logger.DebugContext(ctx, "url subject token request", "request", internallog.HTTPRequest(req, nil))
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("externalaccount: invalid response when retrieving subject token: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := internal.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("externalaccount: invalid body in subject token URL query: %w", err)
	}
	logger.DebugContext(ctx, "url subject token response", "response", internallog.HTTPResponse(resp, respBody))
	if c := resp.StatusCode; c < 200 || c > 299 {
		return "", fmt.Errorf("externalaccount: status code %d: %s", c, respBody)
	}
	return parseSubjectToken(respBody, sp.Format)
}
