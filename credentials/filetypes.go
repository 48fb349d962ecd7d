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
	"errors"
	"fmt"

	"github.com/credflow/credflow"
	"github.com/credflow/credflow/credentials/impersonate"
	"github.com/credflow/credflow/credentials/internal/externalaccount"
	"github.com/credflow/credflow/internal/credsfile"
)

// fileCredentials matches the file's type discriminator exactly once and
// builds the strongly typed provider for it.
func fileCredentials(b []byte, opts *DetectOptions) (*Credentials, error) {
	fileType, err := credsfile.ParseFileType(b)
	if err != nil {
		return nil, err
	}

	var projectID, quotaProjectID, universeDomain string
	var tp credflow.TokenProvider
	switch fileType {
	case credsfile.ServiceAccountKey:
		f, err := credsfile.ParseServiceAccount(b)
		if err != nil {
			return nil, err
		}
		tp, err = handleServiceAccount(f, opts)
		if err != nil {
			return nil, err
		}
		projectID = f.ProjectID
		universeDomain = f.UniverseDomain
	case credsfile.UserCredentialsKey:
		f, err := credsfile.ParseUserCredentials(b)
		if err != nil {
			return nil, err
		}
		tp, err = handleUserCredential(f, opts)
		if err != nil {
			return nil, err
		}
		quotaProjectID = f.QuotaProjectID
	case credsfile.ExternalAccountKey:
		f, err := credsfile.ParseExternalAccount(b)
		if err != nil {
			return nil, err
		}
		tp, err = handleExternalAccount(f, opts)
		if err != nil {
			return nil, err
		}
		quotaProjectID = f.QuotaProjectID
		universeDomain = f.UniverseDomain
	case credsfile.ImpersonatedServiceAccountKey:
		f, err := credsfile.ParseImpersonatedServiceAccount(b)
		if err != nil {
			return nil, err
		}
		tp, err = handleImpersonatedServiceAccount(f, opts)
		if err != nil {
			return nil, err
		}
		universeDomain = f.UniverseDomain
	default:
		return nil, fmt.Errorf("credentials: unsupported filetype %d", fileType)
	}
	tp = credflow.NewCachedTokenProvider(tp, &credflow.CachedTokenProviderOptions{
		ExpireEarly: opts.EarlyTokenRefresh,
	})
	return newCredentials(tp, b, projectID, quotaProjectID, universeDomain), nil
}

func handleServiceAccount(f *credsfile.ServiceAccountFile, opts *DetectOptions) (credflow.TokenProvider, error) {
	if opts.UseSelfSignedJWT {
		return configureSelfSignedJWT(f, opts)
	}
	opts2LO := &credflow.Options2LO{
		Email:        f.ClientEmail,
		PrivateKey:   []byte(f.PrivateKey),
		PrivateKeyID: f.PrivateKeyID,
		Scopes:       opts.scopes(),
		TokenURL:     f.TokenURL,
		Subject:      opts.Subject,
		Audience:     opts.Audience,
		Client:       opts.client(),
		Logger:       opts.Logger,
	}
	if opts2LO.TokenURL == "" {
		opts2LO.TokenURL = opts.tokenURL()
	}
	return credflow.New2LOTokenProvider(opts2LO)
}

func handleUserCredential(f *credsfile.UserCredentialsFile, opts *DetectOptions) (credflow.TokenProvider, error) {
	optsRefresh := &credflow.OptionsRefresh{
		ClientID:     f.ClientID,
		ClientSecret: f.ClientSecret,
		RefreshToken: f.RefreshToken,
		TokenURL:     opts.tokenURL(),
		Scopes:       opts.scopes(),
		Client:       opts.client(),
		Logger:       opts.Logger,
	}
	return credflow.NewRefreshTokenProvider(optsRefresh)
}

func handleExternalAccount(f *credsfile.ExternalAccountFile, opts *DetectOptions) (credflow.TokenProvider, error) {
	externalOpts := &externalaccount.Options{
		Audience:                       f.Audience,
		SubjectTokenType:               f.SubjectTokenType,
		TokenURL:                       f.TokenURL,
		ServiceAccountImpersonationURL: f.ServiceAccountImpersonationURL,
		ServiceAccountImpersonationLifetimeSeconds: f.ServiceAccountImpersonation.TokenLifetimeSeconds,
		ClientSecret:     f.ClientSecret,
		ClientID:         f.ClientID,
		CredentialSource: f.CredentialSource,
		Scopes:           opts.scopes(),
		Client:           opts.client(),
		Logger:           opts.Logger,
	}
	return externalaccount.NewTokenProvider(externalOpts)
}

func handleImpersonatedServiceAccount(f *credsfile.ImpersonatedServiceAccountFile, opts *DetectOptions) (credflow.TokenProvider, error) {
	if f.ServiceAccountImpersonationURL == "" || f.CredSource == nil {
		return nil, errors.New("credentials: missing 'source_credentials' field or 'service_account_impersonation_url' in credentials")
	}

	sourceOpts := *opts
	sourceOpts.UseSelfSignedJWT = false
	sourceOpts.Scopes = []string{tokenCreatorScope}
	sourceOpts.Audience = ""
	base, err := fileCredentials(f.CredSource, &sourceOpts)
	if err != nil {
		return nil, err
	}
	return impersonate.NewTokenProvider(&impersonate.Options{
		Base:      base,
		URL:       f.ServiceAccountImpersonationURL,
		Delegates: f.Delegates,
		Scopes:    opts.scopes(),
		Client:    opts.client(),
		Logger:    opts.Logger,
	})
}
