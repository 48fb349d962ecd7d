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

// Package credsfile contains the definition and parsing of the JSON
// credential file formats, distinguished by their "type" field, and the
// discovery of their well-known filesystem locations.
package credsfile

import (
	"encoding/json"
)

// CredentialType represents different types of credential filetypes.
type CredentialType int

const (
	// UnknownCredType is an unidentified file type.
	UnknownCredType CredentialType = iota
	// ServiceAccountKey is a "service_account" file type: a private key owned
	// by the process, used to sign assertions.
	ServiceAccountKey
	// UserCredentialsKey is an "authorized_user" file type: a long-lived
	// refresh token plus the client it was issued to.
	UserCredentialsKey
	// ExternalAccountKey is an "external_account" file type: a pointer to an
	// externally supplied subject token plus the exchange endpoints.
	ExternalAccountKey
	// ImpersonatedServiceAccountKey is an "impersonated_service_account" file
	// type: source credentials plus a delegation chain to a target identity.
	ImpersonatedServiceAccountKey
)

// parseCredentialType returns the associated filetype based on the parsed
// typeString provided.
func parseCredentialType(typeString string) CredentialType {
	switch typeString {
	case "service_account":
		return ServiceAccountKey
	case "authorized_user":
		return UserCredentialsKey
	case "external_account":
		return ExternalAccountKey
	case "impersonated_service_account":
		return ImpersonatedServiceAccountKey
	default:
		return UnknownCredType
	}
}

// ServiceAccountFile representation.
type ServiceAccountFile struct {
	Type           string `json:"type"`
	ProjectID      string `json:"project_id"`
	PrivateKeyID   string `json:"private_key_id"`
	PrivateKey     string `json:"private_key"`
	ClientEmail    string `json:"client_email"`
	ClientID       string `json:"client_id"`
	TokenURL       string `json:"token_uri"`
	UniverseDomain string `json:"universe_domain"`
}

// UserCredentialsFile representation.
type UserCredentialsFile struct {
	Type           string `json:"type"`
	ClientID       string `json:"client_id"`
	ClientSecret   string `json:"client_secret"`
	QuotaProjectID string `json:"quota_project_id"`
	RefreshToken   string `json:"refresh_token"`
}

// ExternalAccountFile representation.
type ExternalAccountFile struct {
	Type                           string                      `json:"type"`
	ClientID                       string                      `json:"client_id"`
	ClientSecret                   string                      `json:"client_secret"`
	Audience                       string                      `json:"audience"`
	SubjectTokenType               string                      `json:"subject_token_type"`
	TokenURL                       string                      `json:"token_url"`
	CredentialSource               *CredentialSource           `json:"credential_source,omitempty"`
	ServiceAccountImpersonationURL string                      `json:"service_account_impersonation_url"`
	ServiceAccountImpersonation    ServiceAccountImpersonation `json:"service_account_impersonation"`
	QuotaProjectID                 string                      `json:"quota_project_id"`
	UniverseDomain                 string                      `json:"universe_domain"`
}

// CredentialSource stores the information necessary to retrieve the
// externally supplied subject token for an external account.
type CredentialSource struct {
	// File is the location of a local file holding the subject token.
	File string `json:"file"`
	// URL is a local/ambient HTTP endpoint serving the subject token.
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Format  *Format           `json:"format,omitempty"`
}

// Format describes how a subject token is wrapped at its source: raw text or
// a field inside a JSON document.
type Format struct {
	// Type is either "text" or "json". When not provided "text" is assumed.
	Type string `json:"type"`
	// SubjectTokenFieldName is only required for JSON format. It is the field
	// name that the credential will check for the subject token.
	SubjectTokenFieldName string `json:"subject_token_field_name"`
}

// ServiceAccountImpersonation holds impersonation settings for an external
// account.
type ServiceAccountImpersonation struct {
	TokenLifetimeSeconds int `json:"token_lifetime_seconds"`
}

// ImpersonatedServiceAccountFile representation.
type ImpersonatedServiceAccountFile struct {
	Type                           string          `json:"type"`
	ServiceAccountImpersonationURL string          `json:"service_account_impersonation_url"`
	Delegates                      []string        `json:"delegates"`
	CredSource                     json.RawMessage `json:"source_credentials"`
	UniverseDomain                 string          `json:"universe_domain"`
}
