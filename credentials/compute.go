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

package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/credflow/credflow"
	"github.com/credflow/credflow/metadata"
)

// for testing
var timeNow = time.Now

var (
	// ErrMetadataUnavailable indicates the metadata server could not be
	// reached. Transient: the server may be briefly unready early in an
	// instance's life.
	ErrMetadataUnavailable = errors.New("credentials: metadata server unavailable")
	// ErrNoServiceAccount indicates the instance is reachable but runs with
	// no attached service account. Terminal: retrying cannot help.
	ErrNoServiceAccount = errors.New("credentials: instance has no attached service account")
)

const computeTokenURI = "instance/service-accounts/default/token"

// computeTokenProvider creates a [credflow.TokenProvider] that fetches tokens
// from the instance metadata service.
func computeTokenProvider(opts *DetectOptions) credflow.TokenProvider {
	return credflow.NewCachedTokenProvider(&computeProvider{
		scopes: opts.scopes(),
		client: metadata.NewClient(&metadata.Options{Logger: opts.Logger}),
	}, &credflow.CachedTokenProviderOptions{
		ExpireEarly: opts.EarlyTokenRefresh,
	})
}

type computeProvider struct {
	scopes []string
	client *metadata.Client
}

type metadataTokenResp struct {
	AccessToken  string `json:"access_token"`
	ExpiresInSec int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

func (cs *computeProvider) Token(ctx context.Context) (*credflow.Token, error) {
	tokenURI, err := url.Parse(computeTokenURI)
	if err != nil {
		return nil, err
	}
	if len(cs.scopes) > 0 {
		v := url.Values{}
		v.Set("scopes", strings.Join(cs.scopes, ","))
		tokenURI.RawQuery = v.Encode()
	}
	tokenJSON, err := cs.client.GetWithContext(ctx, tokenURI.String())
	if err != nil {
		var nd metadata.NotDefinedError
		if errors.As(err, &nd) {
			return nil, fmt.Errorf("%w: %v", ErrNoServiceAccount, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMetadataUnavailable, err)
	}
	var res metadataTokenResp
	if err := json.NewDecoder(strings.NewReader(tokenJSON)).Decode(&res); err != nil {
		return nil, fmt.Errorf("credentials: invalid token JSON from metadata: %w", err)
	}
	if res.ExpiresInSec == 0 || res.AccessToken == "" {
		return nil, errors.New("credentials: incomplete token received from metadata")
	}
	return &credflow.Token{
		Value:  res.AccessToken,
		Type:   res.TokenType,
		Expiry: timeNow().Add(time.Duration(res.ExpiresInSec) * time.Second),
		Scopes: cs.scopes,
		Metadata: map[string]interface{}{
			"credflow.tokenSource":    "compute-metadata",
			"credflow.serviceAccount": "default",
		},
	}, nil
}
