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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	corev1 "k8s.io/api/core/v1"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
	"nginx-reconciler/pkg/testutil"
)

const testJWKS = `{"keys":[{"kty":"oct","kid":"0001","k":"ZmFudGFzdGljand0"}]}`

func TestValidateSecret(t *testing.T) {
	cert, key := testutil.SelfSignedPair("cafe.example.com")
	_, otherKey := testutil.SelfSignedPair("other.example.com")

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	htpasswd := []byte(fmt.Sprintf("# users\nfoo:%s\nbar:$apr1$abc$def\n", hash))

	tests := []struct {
		name    string
		secret  *corev1.Secret
		wantErr string
	}{
		{
			name: "tls",
			secret: &corev1.Secret{Type: corev1.SecretTypeTLS, Data: map[string][]byte{
				corev1.TLSCertKey: cert, corev1.TLSPrivateKeyKey: key,
			}},
		},
		{
			name: "tls key mismatch",
			secret: &corev1.Secret{Type: corev1.SecretTypeTLS, Data: map[string][]byte{
				corev1.TLSCertKey: cert, corev1.TLSPrivateKeyKey: otherKey,
			}},
			wantErr: "private key does not match public key",
		},
		{
			name:   "ca",
			secret: &corev1.Secret{Type: v1.SecretTypeCA, Data: map[string][]byte{CAKey: cert}},
		},
		{
			name:    "ca without pem",
			secret:  &corev1.Secret{Type: v1.SecretTypeCA, Data: map[string][]byte{CAKey: []byte("not a certificate")}},
			wantErr: "ca.crt",
		},
		{
			name:   "htpasswd",
			secret: &corev1.Secret{Type: v1.SecretTypeHtpasswd, Data: map[string][]byte{HtpasswdKey: htpasswd}},
		},
		{
			name:    "htpasswd malformed line",
			secret:  &corev1.Secret{Type: v1.SecretTypeHtpasswd, Data: map[string][]byte{HtpasswdKey: []byte("foo\n")}},
			wantErr: "line 1: expected user:hash",
		},
		{
			name:    "htpasswd empty",
			secret:  &corev1.Secret{Type: v1.SecretTypeHtpasswd, Data: map[string][]byte{HtpasswdKey: []byte("\n# nobody\n")}},
			wantErr: "htpasswd file contains no entries",
		},
		{
			name:    "htpasswd missing key",
			secret:  &corev1.Secret{Type: v1.SecretTypeHtpasswd, Data: map[string][]byte{"users": htpasswd}},
			wantErr: "secret doesn't have htpasswd",
		},
		{
			name:   "jwk",
			secret: &corev1.Secret{Type: v1.SecretTypeJWK, Data: map[string][]byte{JWKKey: []byte(testJWKS)}},
		},
		{
			name:    "jwk empty set",
			secret:  &corev1.Secret{Type: v1.SecretTypeJWK, Data: map[string][]byte{JWKKey: []byte(`{"keys":[]}`)}},
			wantErr: "JWKS contains no keys",
		},
		{
			name:    "opaque",
			secret:  &corev1.Secret{Type: corev1.SecretTypeOpaque},
			wantErr: "unsupported secret type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSecret(tt.secret)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateSecret_UnsupportedIsSentinel(t *testing.T) {
	err := ValidateSecret(&corev1.Secret{Type: corev1.SecretTypeOpaque})
	assert.ErrorIs(t, err, ErrUnsupportedSecretType)
	assert.False(t, IsSupportedSecretType(corev1.SecretTypeOpaque))
	assert.True(t, IsSupportedSecretType(corev1.SecretTypeTLS))
}

func TestParseHtpasswd(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	entries, err := ParseHtpasswd([]byte("foo:" + string(hash) + "\n"))
	require.NoError(t, err)
	assert.Equal(t, string(hash), entries["foo"])

	_, err = ParseHtpasswd([]byte("foo:$2y$xx$broken\n"))
	assert.ErrorContains(t, err, "invalid bcrypt hash for user foo")
}
