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

// Package externalaccount builds token providers for workload identity
// federation when the subject token is produced programmatically rather than
// read from a credential file. Callers supply the external token through a
// [SubjectTokenProvider] and receive a cached [credflow.TokenProvider] that
// exchanges it at the Security Token Service on demand.
package externalaccount

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/credflow/credflow"
	iexacc "github.com/credflow/credflow/credentials/internal/externalaccount"
)

// SubjectTokenProvider supplies the externally issued token presented for
// exchange. It is called on every mint, so rotated source tokens are picked
// up without restarting the process.
type SubjectTokenProvider interface {
	// SubjectToken returns the token to exchange. Blocking work must honor
	// ctx.
	SubjectToken(ctx context.Context) (string, error)
}

// Options for creating a workload identity federation token provider.
type Options struct {
	// Audience is the Security Token Service audience, naming the identity
	// pool and provider. Required.
	Audience string
	// SubjectTokenType is the STS token type based on the OAuth2 token
	// exchange spec, e.g. "urn:ietf:params:oauth:token-type:jwt". Required.
	SubjectTokenType string
	// TokenURL is the STS token exchange endpoint. Required.
	TokenURL string
	// SubjectTokenProvider supplies the subject token. Required.
	SubjectTokenProvider SubjectTokenProvider
	// ServiceAccountImpersonationURL adds an impersonation hop after the
	// exchange. Optional.
	ServiceAccountImpersonationURL string
	// ServiceAccountImpersonationLifetimeSeconds is the lifetime requested
	// for the impersonated token. Optional.
	ServiceAccountImpersonationLifetimeSeconds int
	// ClientID and ClientSecret add basic authentication to the STS request.
	// Optional.
	ClientID     string
	ClientSecret string
	// Scopes for the resulting access token. Optional.
	Scopes []string
	// EarlyTokenRefresh configures how early before expiry tokens are
	// refreshed. Optional.
	EarlyTokenRefresh time.Duration
	// Client for token requests. Optional.
	Client *http.Client
	// Logger for debug logging. Optional.
	Logger *slog.Logger
}

// NewTokenProvider returns a cached [credflow.TokenProvider] for the
// configuration.
func NewTokenProvider(opts *Options) (credflow.TokenProvider, error) {
	if opts == nil {
		return nil, errors.New("externalaccount: options must be provided")
	}
	if opts.SubjectTokenProvider == nil {
		return nil, errors.New("externalaccount: subject token provider must be provided")
	}
	tp, err := iexacc.NewTokenProvider(&iexacc.Options{
		Audience:                       opts.Audience,
		SubjectTokenType:               opts.SubjectTokenType,
		TokenURL:                       opts.TokenURL,
		SubjectTokenSupplier:           opts.SubjectTokenProvider.SubjectToken,
		ServiceAccountImpersonationURL: opts.ServiceAccountImpersonationURL,
		ServiceAccountImpersonationLifetimeSeconds: opts.ServiceAccountImpersonationLifetimeSeconds,
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		Scopes:       opts.Scopes,
		Client:       opts.Client,
		Logger:       opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return credflow.NewCachedTokenProvider(tp, &credflow.CachedTokenProviderOptions{
		ExpireEarly: opts.EarlyTokenRefresh,
	}), nil
}
