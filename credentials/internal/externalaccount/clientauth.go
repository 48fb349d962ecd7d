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

package externalaccount

import (
	"encoding/base64"
	"net/http"
)

// injectClientAuthentication adds HTTP basic authentication to the exchange
// request when the token endpoint requires client credentials. No-op when no
// client ID is configured.
func injectClientAuthentication(clientID, clientSecret string, headers http.Header) {
	if clientID == "" {
		return
	}
	plainHeader := clientID + ":" + clientSecret
	headers.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(plainHeader)))
}
