// Copyright 2025 Philipp Hossner
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package validation

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/crypto/bcrypt"
	corev1 "k8s.io/api/core/v1"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
)

// Data keys of the special secret types.
const (
	HtpasswdKey = "htpasswd"
	JWKKey      = "jwk"
	CAKey       = "ca.crt"
)

// ErrUnsupportedSecretType is returned for secret types the controller does not consume.
var ErrUnsupportedSecretType = errors.New("unsupported secret type")

// ValidateSecret checks the payload of a secret according to its type.
func ValidateSecret(secret *corev1.Secret) error {
	switch string(secret.Type) {
	case v1.SecretTypeTLS:
		return ValidateTLSSecret(secret)
	case v1.SecretTypeCA:
		return ValidateCASecret(secret)
	case v1.SecretTypeHtpasswd:
		return ValidateHtpasswdSecret(secret)
	case v1.SecretTypeJWK:
		return ValidateJWKSecret(secret)
	default:
		return fmt.Errorf("%w %q", ErrUnsupportedSecretType, secret.Type)
	}
}

// IsSupportedSecretType reports whether secrets of type t are consumed.
func IsSupportedSecretType(t corev1.SecretType) bool {
	switch string(t) {
	case v1.SecretTypeTLS, v1.SecretTypeCA, v1.SecretTypeHtpasswd, v1.SecretTypeJWK:
		return true
	}
	return false
}

// ValidateTLSSecret checks that the secret holds a matching certificate and key.
func ValidateTLSSecret(secret *corev1.Secret) error {
	cert, ok := secret.Data[corev1.TLSCertKey]
	if !ok {
		return fmt.Errorf("secret doesn't have %s", corev1.TLSCertKey)
	}
	key, ok := secret.Data[corev1.TLSPrivateKeyKey]
	if !ok {
		return fmt.Errorf("secret doesn't have %s", corev1.TLSPrivateKeyKey)
	}
	if _, err := tls.X509KeyPair(cert, key); err != nil {
		return fmt.Errorf("failed to validate TLS cert and key: %w", err)
	}
	return nil
}

// ValidateCASecret checks that the secret holds a PEM encoded CA certificate.
func ValidateCASecret(secret *corev1.Secret) error {
	data, ok := secret.Data[CAKey]
	if !ok {
		return fmt.Errorf("secret doesn't have %s", CAKey)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return fmt.Errorf("the data field %s must hold a valid CERTIFICATE PEM block", CAKey)
	}
	if block.Type != "CERTIFICATE" {
		return fmt.Errorf("the data field %s must hold a valid CERTIFICATE PEM block, but got '%s'", CAKey, block.Type)
	}
	if _, err := x509.ParseCertificate(block.Bytes); err != nil {
		return fmt.Errorf("failed to validate certificate: %w", err)
	}
	return nil
}

// ValidateHtpasswdSecret checks that every line of the htpasswd file is a
// user:hash pair and that bcrypt hashes are well formed.
func ValidateHtpasswdSecret(secret *corev1.Secret) error {
	data, ok := secret.Data[HtpasswdKey]
	if !ok {
		return fmt.Errorf("secret doesn't have %s", HtpasswdKey)
	}
	_, err := ParseHtpasswd(data)
	return err
}

// ParseHtpasswd parses an htpasswd file into a user to hash map.
func ParseHtpasswd(data []byte) (map[string]string, error) {
	entries := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		user, hash, ok := strings.Cut(text, ":")
		if !ok || user == "" || hash == "" {
			return nil, fmt.Errorf("line %d: expected user:hash", line)
		}
		if strings.HasPrefix(hash, "$2") {
			if _, err := bcrypt.Cost([]byte(hash)); err != nil {
				return nil, fmt.Errorf("line %d: invalid bcrypt hash for user %s: %w", line, user, err)
			}
		}
		entries[user] = hash
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.New("htpasswd file contains no entries")
	}
	return entries, nil
}

// ValidateJWKSecret checks that the secret holds a non-empty JSON Web Key Set.
func ValidateJWKSecret(secret *corev1.Secret) error {
	data, ok := secret.Data[JWKKey]
	if !ok {
		return fmt.Errorf("secret doesn't have %s", JWKKey)
	}
	set, err := jwk.Parse(data)
	if err != nil {
		return fmt.Errorf("failed to parse JWKS: %w", err)
	}
	if set.Len() == 0 {
		return errors.New("JWKS contains no keys")
	}
	return nil
}
