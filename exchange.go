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
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/credflow/credflow/internal"
	"github.com/credflow/credflow/internal/retry"
	"github.com/googleapis/gax-go/v2/internallog"
)

// OAuth2 grant and token types used across the credential flows.
const (
	GrantTypeJWTBearer     = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	GrantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"
	GrantTypeRefreshToken  = "refresh_token"

	TokenTypeAccessToken = "urn:ietf:params:oauth:token-type:access_token"
)

// ExchangeOptions configure a single logical token-endpoint exchange.
type ExchangeOptions struct {
	// Endpoint is the token endpoint URL the exchange is POSTed to. Required.
	Endpoint string
	// GrantType is sent as the grant_type form field. Required.
	GrantType string
	// Params holds the remaining form fields of the request. Optional.
	Params url.Values
	// Headers are added to the request. Optional.
	Headers http.Header
	// Scopes the resulting token is requested for. Recorded on the returned
	// [Token] when the endpoint does not echo granted scopes back. Optional.
	Scopes []string
	// Client is used to make the request. If unset a default client is used.
	// Optional.
	Client *http.Client
	// Stage tags errors produced by this exchange. Defaults to
	// [StageTokenExchange]. Optional.
	Stage Stage
	// MaxAttempts bounds retries of transient failures. Defaults to 3.
	// Optional.
	MaxAttempts int
	// Logger for debug logging of the round trip. Optional.
	Logger *slog.Logger
}

func (o *ExchangeOptions) validate() error {
	if o == nil {
		return fmt.Errorf("credflow: exchange options must be provided")
	}
	if o.Endpoint == "" {
		return fmt.Errorf("credflow: exchange endpoint must be provided")
	}
	if o.GrantType == "" {
		return fmt.Errorf("credflow: exchange grant type must be provided")
	}
	return nil
}

func (o *ExchangeOptions) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return internal.CloneDefaultClient()
}

func (o *ExchangeOptions) stage() Stage {
	if o.Stage == "" {
		return StageTokenExchange
	}
	return o.Stage
}

func (o *ExchangeOptions) maxAttempts() int {
	if o.MaxAttempts > 0 {
		return o.MaxAttempts
	}
	return retry.DefaultMaxAttempts
}

// Exchange POSTs an OAuth2 grant to a token endpoint and returns the issued
// [Token]. Transient failures (5xx, timeouts, dropped connections) are
// retried with exponential backoff up to MaxAttempts; rejections (4xx) are
// surfaced immediately as an [*Error] carrying the provider's response body.
func Exchange(ctx context.Context, opts *ExchangeOptions) (*Token, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	v := url.Values{}
	for key, vals := range opts.Params {
		for _, val := range vals {
			v.Add(key, val)
		}
	}
	v.Set("grant_type", opts.GrantType)
	encoded := v.Encode()

	client := opts.client()
	logger := internallog.New(opts.Logger)
	bo := retry.DefaultBackoff()

	var lastErr *Error
	for attempt := 0; attempt < opts.maxAttempts(); attempt++ {
		if attempt > 0 {
			if err := retry.Sleep(ctx, bo.Pause()); err != nil {
				return nil, err
			}
		}
		req, err := http.NewRequestWithContext(ctx, "POST", opts.Endpoint, strings.NewReader(encoded))
		if err != nil {
			return nil, fmt.Errorf("credflow: unable to build token request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Content-Length", strconv.Itoa(len(encoded)))
		for key, vals := range opts.Headers {
			for _, val := range vals {
				req.Header.Add(key, val)
			}
		}
		logger.DebugContext(ctx, "token request", "request", internallog.HTTPRequest(req, []byte(encoded)))

		resp, err := client.Do(req)
		if err != nil {
			lastErr = &Error{Stage: opts.stage(), Err: err}
			if retry.ShouldRetry(0, err) {
				continue
			}
			return nil, lastErr
		}
		body, err := internal.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = &Error{Stage: opts.stage(), Response: resp, Err: err}
			continue
		}
		logger.DebugContext(ctx, "token response", "response", internallog.HTTPResponse(resp, body))
		if c := resp.StatusCode; c < 200 || c > 299 {
			lastErr = newResponseError(opts.stage(), resp, body)
			if lastErr.Temporary() {
				continue
			}
			return nil, lastErr
		}
		return parseTokenResponse(opts, body)
	}
	return nil, lastErr
}

// tokenResponse is the standard JSON body of a token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

func parseTokenResponse(opts *ExchangeOptions, body []byte) (*Token, error) {
	var res tokenResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &Error{Stage: opts.stage(), Body: body, Err: fmt.Errorf("invalid token response: %w", err)}
	}
	if res.AccessToken == "" {
		return nil, &Error{Stage: opts.stage(), Body: body, Err: fmt.Errorf("token response missing access_token")}
	}
	token := &Token{
		Value: res.AccessToken,
		Type:  res.TokenType,
	}
	if token.Type == "" {
		token.Type = internal.TokenTypeBearer
	}
	if res.ExpiresIn > 0 {
		token.Expiry = timeNow().Add(time.Duration(res.ExpiresIn) * time.Second)
	}
	if res.Scope != "" {
		token.Scopes = strings.Fields(res.Scope)
	} else {
		token.Scopes = append([]string(nil), opts.Scopes...)
	}
	token.Metadata = make(map[string]interface{})
	json.Unmarshal(body, &token.Metadata) // no error checks for optional fields
	return token, nil
}
