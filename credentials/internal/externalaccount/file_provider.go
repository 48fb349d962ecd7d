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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/credflow/credflow/internal/credsfile"
)

const (
	fileTypeText = "text"
	fileTypeJSON = "json"
)

// fileSubjectProvider reads the subject token from a local file. The file is
// re-read on every call so rotated tokens are picked up.
type fileSubjectProvider struct {
	File   string
	Format *credsfile.Format
}

func (sp *fileSubjectProvider) subjectToken(context.Context) (string, error) {
	tokenFile, err := os.Open(sp.File)
	if err != nil {
		return "", fmt.Errorf("externalaccount: failed to open credential file %q: %w", sp.File, err)
	}
	defer tokenFile.Close()
	tokenBytes := make([]byte, 1<<20)
	n, err := tokenFile.Read(tokenBytes)
	if err != nil && n == 0 {
		return "", fmt.Errorf("externalaccount: failed to read credential file: %w", err)
	}
	tokenBytes = tokenBytes[:n]
	return parseSubjectToken(tokenBytes, sp.Format)
}

// parseSubjectToken applies the configured format to the raw token material.
// With no format, or format "text", the material is the token itself.
func parseSubjectToken(b []byte, format *credsfile.Format) (string, error) {
	if format == nil {
		return string(b), nil
	}
	switch format.Type {
	case "", fileTypeText:
		return string(b), nil
	case fileTypeJSON:
		jsonData := make(map[string]interface{})
		if err := json.Unmarshal(b, &jsonData); err != nil {
			return "", fmt.Errorf("externalaccount: failed to unmarshal subject token: %w", err)
		}
		val, ok := jsonData[format.SubjectTokenFieldName]
		if !ok {
			return "", errors.New("externalaccount: provided subject_token_field_name not found in credentials")
		}
		token, ok := val.(string)
		if !ok {
			return "", errors.New("externalaccount: improperly formatted subject token")
		}
		return token, nil
	default:
		return "", fmt.Errorf("externalaccount: invalid credential source field type %q", format.Type)
	}
}
