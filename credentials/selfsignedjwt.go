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
	"strings"

	"github.com/credflow/credflow"
	"github.com/credflow/credflow/internal"
	"github.com/credflow/credflow/internal/credsfile"
	"github.com/credflow/credflow/internal/jwt"
)

// configureSelfSignedJWT uses the private key in the service account to
// create a JWT without making a network call: the signed assertion itself is
// the bearer credential.
func configureSelfSignedJWT(f *credsfile.ServiceAccountFile, opts *DetectOptions) (credflow.TokenProvider, error) {
	return &selfSignedTokenProvider{
		email:        f.ClientEmail,
		audience:     opts.Audience,
		scopes:       opts.scopes(),
		privateKey:   []byte(f.PrivateKey),
		privateKeyID: f.PrivateKeyID,
	}, nil
}

type selfSignedTokenProvider struct {
	email        string
	audience     string
	scopes       []string
	privateKey   []byte
	privateKeyID string
}

func (tp *selfSignedTokenProvider) Token(context.Context) (*credflow.Token, error) {
	pk, err := internal.ParseKey(tp.privateKey)
	if err != nil {
		return nil, &credflow.Error{Stage: credflow.StageSigning, Err: err}
	}
	iat := timeNow()
	exp := iat.Add(internal.DefaultTokenLifetime)
	claims := &jwt.Claims{
		Iss:   tp.email,
		Sub:   tp.email,
		Aud:   tp.audience,
		Scope: strings.Join(tp.scopes, " "),
		Iat:   iat.Unix(),
		Exp:   exp.Unix(),
	}
	signed, err := jwt.EncodeJWS(claims, tp.privateKeyID, pk)
	if err != nil {
		return nil, &credflow.Error{Stage: credflow.StageSigning, Err: err}
	}
	return &credflow.Token{
		Value:  signed,
		Type:   internal.TokenTypeBearer,
		Expiry: exp,
		Scopes: tp.scopes,
	}, nil
}
