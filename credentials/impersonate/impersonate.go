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

// Package impersonate obtains tokens for a target identity by walking a
// delegation chain: each hop calls the credential service's
// generateAccessToken operation authorized by the token the previous hop
// produced, never by the base credential directly.
package impersonate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/credflow/credflow"
	"github.com/credflow/credflow/internal"
	"github.com/credflow/credflow/internal/retry"
	"github.com/googleapis/gax-go/v2/internallog"
)

const (
	defaultEndpoint = "https://iamcredentials.googleapis.com"

	// tokenCreatorScope is requested for every intermediate hop: it is the
	// capability needed to call generateAccessToken for the next identity.
	tokenCreatorScope = "https://www.googleapis.com/auth/cloud-platform"
)

// ErrImpersonationDenied indicates a hop in the delegation chain lacks the
// token-creator grant on the next identity. Terminal: it is an authorization
// failure, not a transient one, and is never retried.
var ErrImpersonationDenied = errors.New("impersonate: delegation hop denied")

// generateAccessTokenPath extracts the target principal from a full
// generateAccessToken URL as found in credential files.
var generateAccessTokenPath = regexp.MustCompile(`/v1/projects/-/serviceAccounts/([^:/]+):generateAccessToken$`)

// Options for obtaining an impersonated token.
type Options struct {
	// Base provides the token authorizing the first hop. Required.
	Base credflow.TokenProvider
	// TargetPrincipal is the email of the identity to act as. Required
	// unless URL is set.
	TargetPrincipal string
	// Delegates are intermediate identities, in order: the base credential
	// must hold the token-creator grant on the first delegate, each delegate
	// on the next, and the last delegate on the target. Optional.
	Delegates []string
	// Scopes the final token should have. Required.
	Scopes []string
	// Lifetime of the final token. Defaults to one hour. Optional.
	Lifetime time.Duration
	// Endpoint of the credential service. Defaults to the platform IAM
	// credentials endpoint. Optional.
	Endpoint string
	// URL is a full generateAccessToken URL for the target, as carried by
	// credential files. Mutually exclusive with TargetPrincipal. Optional.
	URL string
	// Client used for the hop requests. Optional.
	Client *http.Client
	// Logger for debug logging. Optional.
	Logger *slog.Logger
}

func (o *Options) validate() error {
	if o == nil {
		return errors.New("impersonate: options must be provided")
	}
	if o.Base == nil {
		return errors.New("impersonate: base credential must be provided")
	}
	if o.TargetPrincipal == "" && o.URL == "" {
		return errors.New("impersonate: target principal must be provided")
	}
	if o.TargetPrincipal != "" && o.URL != "" {
		return errors.New("impersonate: only one of target principal or URL may be provided")
	}
	if len(o.Scopes) == 0 {
		return errors.New("impersonate: scopes must be provided")
	}
	if o.Lifetime.Hours() > 12 {
		return errors.New("impersonate: max lifetime is 12 hours")
	}
	return nil
}

func (o *Options) endpoint() (string, error) {
	if o.URL == "" {
		if o.Endpoint != "" {
			return o.Endpoint, nil
		}
		return defaultEndpoint, nil
	}
	u, err := url.Parse(o.URL)
	if err != nil {
		return "", fmt.Errorf("impersonate: invalid impersonation URL: %w", err)
	}
	return u.Scheme + "://" + u.Host, nil
}

func (o *Options) targetPrincipal() (string, error) {
	if o.TargetPrincipal != "" {
		return o.TargetPrincipal, nil
	}
	m := generateAccessTokenPath.FindStringSubmatch(o.URL)
	if m == nil {
		return "", fmt.Errorf("impersonate: cannot derive target principal from URL %q", o.URL)
	}
	return m[1], nil
}

// NewTokenProvider returns a [credflow.TokenProvider] that impersonates the
// target. The provider is not cached; callers normally wrap it with
// [credflow.NewCachedTokenProvider].
func NewTokenProvider(opts *Options) (credflow.TokenProvider, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	endpoint, err := opts.endpoint()
	if err != nil {
		return nil, err
	}
	target, err := opts.targetPrincipal()
	if err != nil {
		return nil, err
	}
	lifetime := internal.DefaultTokenLifetime
	if opts.Lifetime != 0 {
		lifetime = opts.Lifetime
	}
	client := opts.Client
	if client == nil {
		client = internal.CloneDefaultClient()
	}
	chain := make([]string, 0, len(opts.Delegates)+1)
	chain = append(chain, opts.Delegates...)
	chain = append(chain, target)
	return &chainTokenProvider{
		base:     opts.Base,
		chain:    chain,
		scopes:   append([]string(nil), opts.Scopes...),
		lifetime: fmt.Sprintf("%.fs", lifetime.Seconds()),
		endpoint: endpoint,
		client:   client,
		logger:   internallog.New(opts.Logger),
	}, nil
}

type chainTokenProvider struct {
	base     credflow.TokenProvider
	chain    []string
	scopes   []string
	lifetime string
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// Token walks the chain. Hop i is authorized by the token hop i-1 produced;
// intermediate hops request only the token-creator capability, the last hop
// requests the caller's scopes.
func (p *chainTokenProvider) Token(ctx context.Context) (*credflow.Token, error) {
	tok, err := p.base.Token(ctx)
	if err != nil {
		return nil, err
	}
	for i, principal := range p.chain {
		scopes := []string{tokenCreatorScope}
		if i == len(p.chain)-1 {
			scopes = p.scopes
		}
		tok, err = p.generateAccessToken(ctx, principal, tok, scopes)
		if err != nil {
			return nil, err
		}
	}
	return tok, nil
}

type generateAccessTokenRequest struct {
	Lifetime string   `json:"lifetime,omitempty"`
	Scope    []string `json:"scope,omitempty"`
}

type generateAccessTokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpireTime  string `json:"expireTime"`
}

func (p *chainTokenProvider) generateAccessToken(ctx context.Context, principal string, authTok *credflow.Token, scopes []string) (*credflow.Token, error) {
	reqBody := generateAccessTokenRequest{
		Lifetime: p.lifetime,
		Scope:    scopes,
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("impersonate: unable to marshal request: %w", err)
	}
	u := fmt.Sprintf("%s/v1/projects/-/serviceAccounts/%s:generateAccessToken", p.endpoint, principal)

	bo := retry.DefaultBackoff()
	var lastErr error
	for attempt := 0; attempt < retry.DefaultMaxAttempts; attempt++ {
		if attempt > 0 {
			if err := retry.Sleep(ctx, bo.Pause()); err != nil {
				return nil, err
			}
		}
		req, err := http.NewRequestWithContext(ctx, "POST", u, bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("impersonate: unable to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", internal.TokenTypeBearer+" "+authTok.Value)
		p.logger.DebugContext(ctx, "impersonation request", "request", internallog.HTTPRequest(req, b))

		resp, err := p.client.Do(req)
		if err != nil {
			lastErr = &credflow.Error{Stage: credflow.StageImpersonation, Err: err}
			if retry.ShouldRetry(0, err) {
				continue
			}
			return nil, lastErr
		}
		body, err := internal.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = &credflow.Error{Stage: credflow.StageImpersonation, Response: resp, Err: err}
			continue
		}
		p.logger.DebugContext(ctx, "impersonation response", "response", internallog.HTTPResponse(resp, body))
		if c := resp.StatusCode; c < 200 || c > 299 {
			credErr := &credflow.Error{
				Stage:    credflow.StageImpersonation,
				Response: resp,
				Body:     body,
			}
			if c == http.StatusForbidden || c == http.StatusUnauthorized {
				credErr.Err = fmt.Errorf("%w: %s", ErrImpersonationDenied, principal)
			}
			if credErr.Temporary() {
				lastErr = credErr
				continue
			}
			return nil, credErr
		}
		return parseGenerateAccessTokenResponse(body, scopes)
	}
	return nil, lastErr
}

func parseGenerateAccessTokenResponse(body []byte, scopes []string) (*credflow.Token, error) {
	var res generateAccessTokenResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("impersonate: unable to parse response: %w", err)
	}
	expiry, err := time.Parse(time.RFC3339, res.ExpireTime)
	if err != nil {
		return nil, fmt.Errorf("impersonate: unable to parse expiry: %w", err)
	}
	return &credflow.Token{
		Value:  res.AccessToken,
		Type:   internal.TokenTypeBearer,
		Expiry: expiry,
		Scopes: scopes,
	}, nil
}
