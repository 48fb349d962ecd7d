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
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// OptionsRefresh is the configuration for exchanging a long-lived refresh
// token for access tokens. The refresh token itself never expires from this
// flow's perspective and is never replaced by it.
type OptionsRefresh struct {
	// ClientID is the application's OAuth2 client ID. Required.
	ClientID string
	// ClientSecret is the application's OAuth2 client secret. Required.
	ClientSecret string
	// RefreshToken is the long-lived credential being exchanged. Required.
	RefreshToken string
	// TokenURL is the token endpoint. Required.
	TokenURL string
	// Scopes specifies requested permissions for the access token. Optional.
	Scopes []string
	// Client is the client to be used to make the underlying token requests.
	// Optional.
	Client *http.Client
	// Logger for debug logging. Optional.
	Logger *slog.Logger
}

func (o *OptionsRefresh) validate() error {
	if o == nil {
		return errors.New("credflow: options must be provided")
	}
	if o.ClientID == "" {
		return errors.New("credflow: client ID must be provided")
	}
	if o.ClientSecret == "" {
		return errors.New("credflow: client secret must be provided")
	}
	if o.RefreshToken == "" {
		return errors.New("credflow: refresh token must be provided")
	}
	if o.TokenURL == "" {
		return errors.New("credflow: token URL must be provided")
	}
	return nil
}

// NewRefreshTokenProvider returns a [TokenProvider] that mints access tokens
// from a stored refresh token.
func NewRefreshTokenProvider(opts *OptionsRefresh) (TokenProvider, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return tokenProviderRefresh{opts: opts}, nil
}

type tokenProviderRefresh struct {
	opts *OptionsRefresh
}

func (tp tokenProviderRefresh) Token(ctx context.Context) (*Token, error) {
	v := url.Values{}
	v.Set("client_id", tp.opts.ClientID)
	v.Set("client_secret", tp.opts.ClientSecret)
	v.Set("refresh_token", tp.opts.RefreshToken)
	if len(tp.opts.Scopes) > 0 {
		v.Set("scope", strings.Join(tp.opts.Scopes, " "))
	}
	return Exchange(ctx, &ExchangeOptions{
		Endpoint:  tp.opts.TokenURL,
		GrantType: GrantTypeRefreshToken,
		Params:    v,
		Scopes:    tp.opts.Scopes,
		Client:    tp.opts.Client,
		Logger:    tp.opts.Logger,
	})
}
