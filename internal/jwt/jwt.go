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

// Package jwt builds, signs, and decodes the RS256 assertions presented to
// token endpoints.
package jwt

import (
	"crypto/rsa"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// DefaultLifetime is the value of exp - iat when the caller does not set
// exp, and the maximum accepted when it does. Assertions are short-lived by
// contract.
const DefaultLifetime = 3600 // seconds

// for testing
var timeNow = time.Now

// Claims holds the registered and additional claims of an assertion.
type Claims struct {
	Iss   string
	Sub   string
	Aud   string
	Scope string
	Exp   int64
	Iat   int64

	// AdditionalClaims holds any claims beyond the registered set. Keys here
	// must not collide with registered claim names.
	AdditionalClaims map[string]interface{}
}

// mapClaims flattens the claim set, defaulting iat to now and exp to
// iat + DefaultLifetime when unset.
func (c *Claims) mapClaims() (jwtv5.MapClaims, error) {
	iat := c.Iat
	if iat == 0 {
		iat = timeNow().Unix()
	}
	exp := c.Exp
	if exp == 0 {
		exp = iat + DefaultLifetime
	}
	if exp <= iat {
		return nil, fmt.Errorf("jwt: exp (%d) must be after iat (%d)", exp, iat)
	}
	if exp-iat > DefaultLifetime {
		return nil, fmt.Errorf("jwt: lifetime %ds exceeds the maximum of %ds", exp-iat, DefaultLifetime)
	}
	m := jwtv5.MapClaims{
		"iss": c.Iss,
		"aud": c.Aud,
		"iat": iat,
		"exp": exp,
	}
	if c.Sub != "" {
		m["sub"] = c.Sub
	}
	if c.Scope != "" {
		m["scope"] = c.Scope
	}
	for k, v := range c.AdditionalClaims {
		if _, ok := m[k]; ok {
			return nil, fmt.Errorf("jwt: claim %q collides with a registered claim", k)
		}
		m[k] = v
	}
	return m, nil
}

// EncodeJWS signs the claim set with the provided RSA key and returns the
// compact serialization. keyID, when non-empty, is set as the "kid" header.
func EncodeJWS(c *Claims, keyID string, key *rsa.PrivateKey) (string, error) {
	m, err := c.mapClaims()
	if err != nil {
		return "", err
	}
	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodRS256, m)
	if keyID != "" {
		tok.Header["kid"] = keyID
	}
	signed, err := tok.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("jwt: unable to sign assertion: %w", err)
	}
	return signed, nil
}

// DecodeJWS decodes a claim set from a serialized assertion without
// verifying the signature.
func DecodeJWS(payload string) (*Claims, error) {
	m := jwtv5.MapClaims{}
	parser := jwtv5.NewParser()
	if _, _, err := parser.ParseUnverified(payload, m); err != nil {
		return nil, fmt.Errorf("jwt: unable to decode assertion: %w", err)
	}
	return claimsFromMap(m), nil
}

// VerifyJWS tests whether the provided assertion was signed by the private
// half of key.
func VerifyJWS(payload string, key *rsa.PublicKey) error {
	parser := jwtv5.NewParser(
		jwtv5.WithValidMethods([]string{jwtv5.SigningMethodRS256.Alg()}),
		// Claim validation is the consuming endpoint's job; only the
		// signature is checked here.
		jwtv5.WithoutClaimsValidation(),
	)
	_, err := parser.Parse(payload, func(*jwtv5.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil {
		return fmt.Errorf("jwt: invalid signature: %w", err)
	}
	return nil
}

func claimsFromMap(m jwtv5.MapClaims) *Claims {
	c := &Claims{}
	additional := make(map[string]interface{})
	for k, v := range m {
		switch k {
		case "iss":
			c.Iss, _ = v.(string)
		case "sub":
			c.Sub, _ = v.(string)
		case "aud":
			c.Aud, _ = v.(string)
		case "scope":
			c.Scope, _ = v.(string)
		case "exp":
			c.Exp = toInt64(v)
		case "iat":
			c.Iat = toInt64(v)
		default:
			additional[k] = v
		}
	}
	if len(additional) > 0 {
		c.AdditionalClaims = additional
	}
	return c
}

// toInt64 converts the number representations json.Unmarshal may produce.
func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	}
	return 0
}
