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

// Package oauth2adapt helps converts types used in [github.com/credflow/credflow]
// and [golang.org/x/oauth2], so credflow providers can feed code written
// against the oauth2 interfaces and vice versa.
package oauth2adapt

import (
	"context"
	"errors"

	"github.com/credflow/credflow"
	"golang.org/x/oauth2"
)

// TokenProviderFromTokenSource converts any [golang.org/x/oauth2.TokenSource]
// into a [credflow.TokenProvider].
func TokenProviderFromTokenSource(ts oauth2.TokenSource) credflow.TokenProvider {
	return &tokenProviderAdapter{ts: ts}
}

type tokenProviderAdapter struct {
	ts oauth2.TokenSource
}

// Token fulfills the [credflow.TokenProvider] interface. It is important to
// note that the underlying token source does not accept a context, so the one
// passed here is ignored.
func (tp *tokenProviderAdapter) Token(context.Context) (*credflow.Token, error) {
	tok, err := tp.ts.Token()
	if err != nil {
		var retrieveError *oauth2.RetrieveError
		if errors.As(err, &retrieveError) {
			return nil, &credflow.Error{
				Response: retrieveError.Response,
				Body:     retrieveError.Body,
				Err:      retrieveError,
			}
		}
		return nil, err
	}
	return &credflow.Token{
		Value:  tok.AccessToken,
		Type:   tok.Type(),
		Expiry: tok.Expiry,
	}, nil
}

// TokenSourceFromTokenProvider converts any [credflow.TokenProvider] into a
// [golang.org/x/oauth2.TokenSource].
func TokenSourceFromTokenProvider(tp credflow.TokenProvider) oauth2.TokenSource {
	return &tokenSourceAdapter{tp: tp}
}

type tokenSourceAdapter struct {
	tp credflow.TokenProvider
}

// Token fulfills the [golang.org/x/oauth2.TokenSource] interface. It is
// important to note that the underlying provider will use a background
// context, since the interface does not accept one.
func (ts *tokenSourceAdapter) Token() (*oauth2.Token, error) {
	tok, err := ts.tp.Token(context.Background())
	if err != nil {
		var credErr *credflow.Error
		if errors.As(err, &credErr) && credErr.Err == nil {
			// Surface the response details to oauth2 callers too.
			credErr.Err = &oauth2.RetrieveError{
				Response: credErr.Response,
				Body:     credErr.Body,
			}
		}
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: tok.Value,
		TokenType:   tok.Type,
		Expiry:      tok.Expiry,
	}, nil
}
