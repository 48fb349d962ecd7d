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
	"time"

	"github.com/credflow/credflow/internal"
	"github.com/credflow/credflow/internal/jwt"
)

// Options2LO is the configuration settings for doing a 2-legged JWT OAuth2
// flow: a signed assertion is exchanged at the token endpoint for an access
// token, with no user involvement.
type Options2LO struct {
	// Email is the issuer of the assertion, set as the "iss" claim. Required.
	Email string
	// PrivateKey contains the contents of an RSA private key or the contents
	// of a PEM file that contains a private key. It is used to sign the
	// assertion. Required.
	PrivateKey []byte
	// PrivateKeyID is the ID of the key used to sign the assertion. It is
	// used as the "kid" in the JWT header. Optional.
	PrivateKeyID string
	// TokenURL is the endpoint the signed assertion is sent to, and the
	// default "aud" claim. Required.
	TokenURL string
	// Subject is used to impersonate a user, set as the "sub" claim.
	// Optional.
	Subject string
	// Scopes specifies requested permissions for the token. Optional.
	Scopes []string
	// Audience overrides the "aud" claim. Optional.
	Audience string
	// Expires specifies the lifetime of the assertion, at most one hour. If
	// unset, one hour is requested. Optional.
	Expires time.Duration
	// Client is the client to be used to make the underlying token requests.
	// Optional.
	Client *http.Client
	// Logger for debug logging. Optional.
	Logger *slog.Logger
}

func (o *Options2LO) validate() error {
	if o == nil {
		return errors.New("credflow: options must be provided")
	}
	if o.Email == "" {
		return errors.New("credflow: email must be provided")
	}
	if len(o.PrivateKey) == 0 {
		return errors.New("credflow: private key must be provided")
	}
	if o.TokenURL == "" {
		return errors.New("credflow: token URL must be provided")
	}
	return nil
}

// New2LOTokenProvider returns a [TokenProvider] from the provided options.
func New2LOTokenProvider(opts *Options2LO) (TokenProvider, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return tokenProvider2LO{opts: opts}, nil
}

type tokenProvider2LO struct {
	opts *Options2LO
}

func (tp tokenProvider2LO) Token(ctx context.Context) (*Token, error) {
	pk, err := internal.ParseKey(tp.opts.PrivateKey)
	if err != nil {
		return nil, &Error{Stage: StageSigning, Err: err}
	}
	now := timeNow()
	exp := now.Add(internal.DefaultTokenLifetime)
	if tp.opts.Expires > 0 {
		exp = now.Add(tp.opts.Expires)
	}
	claims := &jwt.Claims{
		Iss:   tp.opts.Email,
		Sub:   tp.opts.Subject,
		Scope: strings.Join(tp.opts.Scopes, " "),
		Aud:   tp.opts.TokenURL,
		Iat:   now.Unix(),
		Exp:   exp.Unix(),
	}
	if tp.opts.Audience != "" {
		claims.Aud = tp.opts.Audience
	}
	assertion, err := jwt.EncodeJWS(claims, tp.opts.PrivateKeyID, pk)
	if err != nil {
		return nil, &Error{Stage: StageSigning, Err: err}
	}
	v := url.Values{}
	v.Set("assertion", assertion)
	return Exchange(ctx, &ExchangeOptions{
		Endpoint:  tp.opts.TokenURL,
		GrantType: GrantTypeJWTBearer,
		Params:    v,
		Scopes:    tp.opts.Scopes,
		Client:    tp.opts.Client,
		Logger:    tp.opts.Logger,
	})
}
