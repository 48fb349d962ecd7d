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

// Package credentials resolves ambient default credentials and turns them
// into cached token providers.
//
// [DetectDefault] searches, in order: an explicitly provided credential file
// or JSON blob, the file named by the GOOGLE_APPLICATION_CREDENTIALS
// environment variable, the CLI's well-known credential file location, and
// finally the instance metadata server. The first source found wins; when
// none is found [ErrNoCredentials] is returned.
//
// Credential files are a tagged union over their "type" field. Each type maps
// to one provider: "service_account" signs assertions with the file's private
// key, "authorized_user" replays a stored refresh token,
// "external_account" exchanges an externally supplied subject token at a
// Security Token Service, and "impersonated_service_account" layers a
// delegation chain on top of recursively resolved source credentials.
package credentials
