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

// Package externalaccount implements workload identity federation: a subject
// token issued by an external provider is exchanged at a Security Token
// Service for an access token, optionally followed by a service account
// impersonation hop.
package externalaccount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/credflow/credflow"
	"github.com/credflow/credflow/credentials/impersonate"
	"github.com/credflow/credflow/internal/credsfile"
)

const (
	// cloudPlatformScope is requested on the STS token when an impersonation
	// hop follows: the intermediate token only needs the capability to call
	// generateAccessToken.
	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
)

// SubjectTokenSupplier is a caller-provided source of subject tokens, used
// when the externally issued token is not available as a file or local URL.
type SubjectTokenSupplier func(ctx context.Context) (string, error)

// Options stores the configuration for fetching tokens with external
// credentials.
type Options struct {
	// Audience is the Security Token Service audience, identifying the
	// identity pool and provider the subject token is trusted by. Required.
	Audience string
	// SubjectTokenType identifies the type of the subject token per the
	// OAuth2 token exchange spec, e.g.
	// "urn:ietf:params:oauth:token-type:jwt". Required.
	SubjectTokenType string
	// TokenURL is the STS token exchange endpoint. Required.
	TokenURL string
	// CredentialSource describes where the subject token is found locally.
	// One of CredentialSource or SubjectTokenSupplier is required.
	CredentialSource *credsfile.CredentialSource
	// SubjectTokenSupplier returns the subject token directly. Optional.
	SubjectTokenSupplier SubjectTokenSupplier
	// ServiceAccountImpersonationURL is the generateAccessToken URL of the
	// service account to impersonate with the exchanged token. Optional.
	ServiceAccountImpersonationURL string
	// ServiceAccountImpersonationLifetimeSeconds is the lifetime requested
	// for the impersonated token. Optional.
	ServiceAccountImpersonationLifetimeSeconds int
	// ClientID and ClientSecret add basic authentication to the STS request
	// when the exchange endpoint requires client credentials. Optional.
	ClientID     string
	ClientSecret string
	// Scopes for the resulting access token. Optional.
	Scopes []string
	// Client for token requests. Optional.
	Client *http.Client
	// Logger for debug logging. Optional.
	Logger *slog.Logger
}

func (o *Options) validate() error {
	if o == nil {
		return errors.New("externalaccount: options must be provided")
	}
	if o.Audience == "" {
		return errors.New("externalaccount: audience must be provided")
	}
	if o.SubjectTokenType == "" {
		return errors.New("externalaccount: subject token type must be provided")
	}
	if o.TokenURL == "" {
		return errors.New("externalaccount: token URL must be provided")
	}
	if o.CredentialSource == nil && o.SubjectTokenSupplier == nil {
		return errors.New("externalaccount: a credential source or subject token supplier must be provided")
	}
	return nil
}

// NewTokenProvider returns a [credflow.TokenProvider] for the external
// account configuration. When an impersonation URL is configured the
// provider performs two network calls in order: the STS exchange, then the
// generateAccessToken hop authorized by the exchanged token.
func NewTokenProvider(opts *Options) (credflow.TokenProvider, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	supplier, err := newSubjectTokenProvider(opts)
	if err != nil {
		return nil, err
	}
	tp := &tokenProvider{
		opts:     opts,
		supplier: supplier,
		scopes:   append([]string(nil), opts.Scopes...),
	}
	if opts.ServiceAccountImpersonationURL == "" {
		return tp, nil
	}

	// The STS token only carries the capability to impersonate; the final
	// scopes are requested on the impersonation hop.
	scopes := tp.scopes
	tp.scopes = []string{cloudPlatformScope}
	lifetime := time.Duration(opts.ServiceAccountImpersonationLifetimeSeconds) * time.Second
	return impersonate.NewTokenProvider(&impersonate.Options{
		Base:     tp,
		URL:      opts.ServiceAccountImpersonationURL,
		Scopes:   scopes,
		Lifetime: lifetime,
		Client:   opts.Client,
		Logger:   opts.Logger,
	})
}

// subjectTokenProvider yields the externally issued token to exchange.
type subjectTokenProvider interface {
	subjectToken(ctx context.Context) (string, error)
}

// newSubjectTokenProvider determines which kind of credential source the
// configuration describes.
func newSubjectTokenProvider(o *Options) (subjectTokenProvider, error) {
	if o.SubjectTokenSupplier != nil {
		return supplierSubjectProvider(o.SubjectTokenSupplier), nil
	}
	cs := o.CredentialSource
	if cs.File != "" {
		return &fileSubjectProvider{File: cs.File, Format: cs.Format}, nil
	}
	if cs.URL != "" {
		return &urlSubjectProvider{URL: cs.URL, Headers: cs.Headers, Format: cs.Format, Client: o.Client, Logger: o.Logger}, nil
	}
	return nil, errors.New("externalaccount: unable to parse credential source")
}

type supplierSubjectProvider SubjectTokenSupplier

func (s supplierSubjectProvider) subjectToken(ctx context.Context) (string, error) {
	return s(ctx)
}

// tokenProvider exchanges a subject token at the STS endpoint.
type tokenProvider struct {
	opts     *Options
	supplier subjectTokenProvider
	scopes   []string
}

func (tp *tokenProvider) Token(ctx context.Context) (*credflow.Token, error) {
	subjectToken, err := tp.supplier.subjectToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("externalaccount: retrieving subject token: %w", err)
	}

	v := url.Values{}
	v.Set("audience", tp.opts.Audience)
	v.Set("requested_token_type", credflow.TokenTypeAccessToken)
	v.Set("subject_token", subjectToken)
	v.Set("subject_token_type", tp.opts.SubjectTokenType)
	if len(tp.scopes) > 0 {
		v.Set("scope", strings.Join(tp.scopes, " "))
	}
	headers := make(http.Header)
	injectClientAuthentication(tp.opts.ClientID, tp.opts.ClientSecret, headers)

	return credflow.Exchange(ctx, &credflow.ExchangeOptions{
		Endpoint:  tp.opts.TokenURL,
		GrantType: credflow.GrantTypeTokenExchange,
		Params:    v,
		Headers:   headers,
		Scopes:    tp.scopes,
		Client:    tp.opts.Client,
		Logger:    tp.opts.Logger,
	})
}
