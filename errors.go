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
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/credflow/credflow/internal/retry"
)

// Stage identifies which step of a credential flow produced an error, so an
// impersonation failure is never mistaken for a failure of the final API
// call.
type Stage string

const (
	// StageTokenExchange covers errors from a token-endpoint round trip.
	StageTokenExchange Stage = "token-exchange"
	// StageImpersonation covers errors from a generateAccessToken hop.
	StageImpersonation Stage = "impersonation"
	// StageSigning covers errors building or signing an assertion.
	StageSigning Stage = "signing"
	// StageMetadata covers errors talking to the local metadata service.
	StageMetadata Stage = "metadata"
)

// Error is an error associated with retrieving a [Token]. It can hold useful
// additional details for debugging.
type Error struct {
	// Stage is the flow step that produced the error.
	Stage Stage
	// Response is the HTTP response associated with error. The body will
	// always be already closed and consumed.
	Response *http.Response
	// Body is the HTTP response body.
	Body []byte
	// Err is the underlying wrapped error.
	Err error

	// code returned in the token response
	code string
	// description returned in the token response
	description string
	// uri returned in the token response
	uri string
}

func (e *Error) Error() string {
	if e.code != "" {
		s := fmt.Sprintf("credflow: %s: %q", e.stage(), e.code)
		if e.description != "" {
			s += fmt.Sprintf(" %q", e.description)
		}
		if e.uri != "" {
			s += fmt.Sprintf(" %q", e.uri)
		}
		return s
	}
	if e.Response != nil {
		return fmt.Sprintf("credflow: %s: cannot fetch token: %v\nResponse: %s", e.stage(), e.Response.StatusCode, e.Body)
	}
	return fmt.Sprintf("credflow: %s: cannot fetch token: %v", e.stage(), e.Err)
}

func (e *Error) stage() Stage {
	if e.Stage == "" {
		return StageTokenExchange
	}
	return e.Stage
}

// Temporary reports whether the error is transient and the operation that
// produced it may be retried. Rejections (4xx responses) are never temporary.
func (e *Error) Temporary() bool {
	var status int
	if e.Response != nil {
		status = e.Response.StatusCode
	}
	return retry.ShouldRetry(status, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newResponseError builds an [Error] from a non-2xx token-endpoint response,
// attaching the provider's error fields when the body carries them.
func newResponseError(stage Stage, resp *http.Response, body []byte) *Error {
	e := &Error{
		Stage:    stage,
		Response: resp,
		Body:     body,
	}
	var detail struct {
		Code        string `json:"error"`
		Description string `json:"error_description"`
		URI         string `json:"error_uri"`
	}
	if err := json.Unmarshal(body, &detail); err == nil {
		e.code = detail.Code
		e.description = detail.Description
		e.uri = detail.URI
	}
	return e
}
