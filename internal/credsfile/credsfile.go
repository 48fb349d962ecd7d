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

package credsfile

import (
	"os"
	"path/filepath"
	"runtime"
)

// CredsfileEnvVar is the environment variable checked for an explicit
// credential file path.
const CredsfileEnvVar = "GOOGLE_APPLICATION_CREDENTIALS"

const wellKnownFile = "application_default_credentials.json"

// for testing
var getenv = os.Getenv

// GetFileNameFromEnv returns the override if provided or the credential file
// path named by the environment. An empty string means no explicit file is
// configured.
func GetFileNameFromEnv(override string) string {
	if override != "" {
		return override
	}
	return getenv(CredsfileEnvVar)
}

// GetWellKnownFileName tries to locate the filepath for the user credential
// file populated by the platform CLI at its conventional location.
func GetWellKnownFileName() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(getenv("APPDATA"), "gcloud", wellKnownFile)
	}
	return filepath.Join(guessUnixHomeDir(), ".config", "gcloud", wellKnownFile)
}

func guessUnixHomeDir() string {
	// Prefer $HOME over user.Current due to glibc bug: golang.org/issue/13470
	if v := getenv("HOME"); v != "" {
		return v
	}
	// Else, fall back to user.Current:
	if u, err := os.UserHomeDir(); err == nil {
		return u
	}
	return ""
}
