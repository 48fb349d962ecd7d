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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/credflow/credflow"
	"github.com/credflow/credflow/internal"
	"github.com/credflow/credflow/internal/credsfile"
	"github.com/credflow/credflow/metadata"
)

const (
	// defaultTokenURL is the assumed token endpoint when a credential file
	// does not carry one.
	defaultTokenURL = "https://oauth2.googleapis.com/token"

	// tokenCreatorScope is the capability required of every hop in a
	// delegation chain except the last.
	tokenCreatorScope = "https://www.googleapis.com/auth/cloud-platform"
)

// ErrNoCredentials is returned by [DetectDefault] when every discovery
// location has been exhausted. There is no fallback.
var ErrNoCredentials = errors.New("credentials: could not find default credentials")

// for testing
var onPlatform = metadata.OnPlatform

// Credentials is the result of credential detection: a cached token provider
// plus the identifying properties of the underlying source.
type Credentials struct {
	credflow.TokenProvider

	json           []byte
	projectID      string
	quotaProjectID string
	universeDomain string
}

// JSON returns the bytes associated with the file used to source credentials
// if one was used.
func (c *Credentials) JSON() []byte {
	return c.json
}

// ProjectID returns the project ID associated with the credential file, if
// any.
func (c *Credentials) ProjectID() string {
	return c.projectID
}

// QuotaProjectID returns the quota project ID associated with the credential
// file, if any.
func (c *Credentials) QuotaProjectID() string {
	return c.quotaProjectID
}

// UniverseDomain returns the default service domain for the credential, if
// the file carried one.
func (c *Credentials) UniverseDomain() string {
	return c.universeDomain
}

// DetectOptions provides configuration for [DetectDefault].
type DetectOptions struct {
	// Scopes that credentials tokens should have. Example:
	// https://www.googleapis.com/auth/cloud-platform. Required if Audience is
	// not provided.
	Scopes []string
	// Audience that credentials tokens should have. Only applicable for
	// 2-legged flows with service accounts. If specified, scopes should not
	// be provided.
	Audience string
	// Subject is the user email used for domain wide delegation. Optional.
	Subject string
	// EarlyTokenRefresh configures how early before a token expires that it
	// should be refreshed. If unset, the default value is 1 minute. Optional.
	EarlyTokenRefresh time.Duration
	// TokenURL overrides the token endpoint for user credential and
	// service-account flows whose file does not name one. Optional.
	TokenURL string
	// CredentialsFile overrides detection logic and sources a credential file
	// from the provided filepath. If provided, CredentialsJSON must not be.
	// Optional.
	CredentialsFile string
	// CredentialsJSON overrides detection logic and uses the JSON bytes as
	// the source for the credential. If provided, CredentialsFile must not
	// be. Optional.
	CredentialsJSON []byte
	// UseSelfSignedJWT directs service account based credentials to create a
	// self-signed JWT with the private key found in the file, skipping any
	// network requests that would normally be made. Optional.
	UseSelfSignedJWT bool
	// Client configures the underlying client used to make network requests
	// when fetching tokens. Optional.
	Client *http.Client
	// Logger for debug logging. Optional.
	Logger *slog.Logger
}

func (o *DetectOptions) validate() error {
	if o == nil {
		return errors.New("credentials: options must be provided")
	}
	if len(o.Scopes) > 0 && o.Audience != "" {
		return errors.New("credentials: both scopes and audience were provided")
	}
	if len(o.CredentialsJSON) > 0 && o.CredentialsFile != "" {
		return errors.New("credentials: both credentials file and JSON were provided")
	}
	return nil
}

func (o *DetectOptions) tokenURL() string {
	if o.TokenURL != "" {
		return o.TokenURL
	}
	return defaultTokenURL
}

func (o *DetectOptions) scopes() []string {
	scopes := make([]string, len(o.Scopes))
	copy(scopes, o.Scopes)
	return scopes
}

// cacheSource names the credential source this configuration will resolve
// to, mirroring the discovery order of [DetectDefault]. Two configurations
// share a source component only when they resolve to the same credential
// material.
func (o *DetectOptions) cacheSource() string {
	if len(o.CredentialsJSON) > 0 {
		sum := sha256.Sum256(o.CredentialsJSON)
		return "json:" + hex.EncodeToString(sum[:])
	}
	if o.CredentialsFile != "" {
		return "file:" + o.CredentialsFile
	}
	if filename := credsfile.GetFileNameFromEnv(""); filename != "" {
		return "file:" + filename
	}
	wellKnown := credsfile.GetWellKnownFileName()
	if _, err := os.Stat(wellKnown); err == nil {
		return "file:" + wellKnown
	}
	return "metadata"
}

func (o *DetectOptions) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return internal.CloneDefaultClient()
}

// DetectDefault searches for default credentials and returns them wrapped in
// a cached token provider.
//
// It looks for credentials in the following places, preferring the first
// location found:
//
//   - A JSON blob or file explicitly provided via the options.
//   - A JSON file whose path is specified by the GOOGLE_APPLICATION_CREDENTIALS
//     environment variable.
//   - A JSON file in the CLI's well-known location:
//     $HOME/.config/gcloud/application_default_credentials.json
//     (%APPDATA%/gcloud on Windows).
//   - The instance metadata server, when its reachability probe succeeds.
//
// Ambient discovery inputs are read once here, not per token call.
func DetectDefault(opts *DetectOptions) (*Credentials, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if len(opts.CredentialsJSON) > 0 {
		return readCredentialsFileJSON(opts.CredentialsJSON, opts)
	}
	if opts.CredentialsFile != "" {
		return readCredentialsFile(opts.CredentialsFile, opts)
	}
	if filename := credsfile.GetFileNameFromEnv(""); filename != "" {
		creds, err := readCredentialsFile(filename, opts)
		if err != nil {
			return nil, err
		}
		return creds, nil
	}

	fileName := credsfile.GetWellKnownFileName()
	if b, err := os.ReadFile(fileName); err == nil {
		return readCredentialsFileJSON(b, opts)
	}

	if onPlatform() {
		return newCredentials(computeTokenProvider(opts), nil, "", "", ""), nil
	}

	return nil, fmt.Errorf("%w; see the setup documentation for your deployment environment", ErrNoCredentials)
}

func newCredentials(tp credflow.TokenProvider, json []byte, projectID, quotaProjectID, universeDomain string) *Credentials {
	return &Credentials{
		TokenProvider:  tp,
		json:           json,
		projectID:      projectID,
		quotaProjectID: quotaProjectID,
		universeDomain: universeDomain,
	}
}

func readCredentialsFile(filename string, opts *DetectOptions) (*Credentials, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return readCredentialsFileJSON(b, opts)
}

func readCredentialsFileJSON(b []byte, opts *DetectOptions) (*Credentials, error) {
	return fileCredentials(b, opts)
}

// TokenForScopes resolves a token for an ad-hoc scope set against the same
// detection configuration, keyed in the provided cache so callers with
// different scope sets never share a token.
func TokenForScopes(ctx context.Context, cache *credflow.TokenCache, opts *DetectOptions, scopes []string) (*credflow.Token, error) {
	scoped := *opts
	scoped.Scopes = append([]string(nil), scopes...)
	key := credflow.CacheKey(scoped.cacheSource(), scopes, nil)
	return cache.GetOrRefresh(ctx, key, func(ctx context.Context) (*credflow.Token, error) {
		creds, err := DetectDefault(&scoped)
		if err != nil {
			return nil, err
		}
		return creds.Token(ctx)
	})
}
