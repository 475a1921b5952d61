// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

// Package signature authenticates inbound webhook bodies.
//
// Two trust paths are tried in order: an HMAC-SHA256 digest of the raw body
// keyed by the channel secret, then a bearer token compared against the
// configured API key. Verification never returns an error; anything that
// cannot be checked is reported as unverified.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
)

const (
	digestPrefix = "sha256="
	bearerPrefix = "Bearer "
)

type Verifier struct {
	ChannelSecret string
	APIKey        string
	Logger        *slog.Logger
}

func NewVerifier(channelSecret, apiKey string, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{ChannelSecret: channelSecret, APIKey: apiKey, Logger: logger}
}

// Verify reports whether header authenticates body.
func (v *Verifier) Verify(body []byte, header string) bool {
	if header == "" {
		return false
	}

	if v.ChannelSecret != "" {
		expected, err := Digest(body, v.ChannelSecret)
		if err != nil {
			v.logger().Warn("signature digest failed", "error", err)
		} else if hmac.Equal([]byte(expected), []byte(stripDigestPrefix(header))) {
			return true
		}
	}

	if strings.HasPrefix(header, bearerPrefix) && v.APIKey != "" {
		token := strings.TrimPrefix(header, bearerPrefix)
		return subtle.ConstantTimeCompare([]byte(token), []byte(v.APIKey)) == 1
	}

	return false
}

func (v *Verifier) logger() *slog.Logger {
	if v.Logger == nil {
		return slog.Default()
	}
	return v.Logger
}

// Digest returns the base64 HMAC-SHA256 of body keyed by secret.
func Digest(body []byte, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("signature secret is empty")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	if _, err := mac.Write(body); err != nil {
		return "", fmt.Errorf("hmac write: %w", err)
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

func stripDigestPrefix(header string) string {
	if len(header) >= len(digestPrefix) && strings.EqualFold(header[:len(digestPrefix)], digestPrefix) {
		return header[len(digestPrefix):]
	}
	return header
}
