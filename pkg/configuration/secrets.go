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

package configuration

import (
	"bytes"
	"errors"
	"fmt"

	corev1 "k8s.io/api/core/v1"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
	"nginx-reconciler/pkg/controller/resourcestore"
	"nginx-reconciler/pkg/validation"
)

var errSecretMissing = errors.New("secret doesn't exist")

type secretEntry struct {
	secret *corev1.Secret
	err    error
}

// secret returns the decoded and validated Secret ns/name.
func (r *run) secret(ns, name string) (*corev1.Secret, error) {
	id := resourcestore.Identity{Kind: v1.KindSecret, Namespace: ns, Name: name}
	if e, ok := r.secrets[id]; ok {
		return e.secret, e.err
	}

	e := r.loadSecret(id)
	r.secrets[id] = e
	return e.secret, e.err
}

func (r *run) loadSecret(id resourcestore.Identity) secretEntry {
	res, ok := r.snap.Get(id)
	if !ok {
		return secretEntry{err: errSecretMissing}
	}
	var s corev1.Secret
	if err := v1.FromUnstructured(res.Object, &s); err != nil {
		return secretEntry{err: err}
	}
	if err := validation.ValidateSecret(&s); err != nil && !errors.Is(err, validation.ErrUnsupportedSecretType) {
		return secretEntry{secret: &s, err: err}
	}
	return secretEntry{secret: &s}
}

// typedSecret is like secret but also checks the secret type.
func (r *run) typedSecret(ns, name, secretType string) (*corev1.Secret, error) {
	s, err := r.secret(ns, name)
	if err != nil {
		return nil, err
	}
	if string(s.Type) != secretType {
		return nil, &wrongTypeError{got: string(s.Type), want: secretType}
	}
	return s, nil
}

type wrongTypeError struct {
	got, want string
}

func (e *wrongTypeError) Error() string {
	return fmt.Sprintf("secret is of a wrong type '%s', must be '%s'", e.got, e.want)
}

// secretProblem formats a secret lookup failure of a policy the way it
// appears in status messages.
func secretProblem(label, policy, ns, name string, err error) string {
	var wt *wrongTypeError
	if errors.As(err, &wt) {
		return fmt.Sprintf("%s policy %s references a secret %s/%s of a wrong type '%s', must be '%s'",
			label, policy, ns, name, wt.got, wt.want)
	}
	return fmt.Sprintf("%s policy %s references an invalid secret %s/%s: %v", label, policy, ns, name, err)
}

// secretFileName names a file derived from the Secret ns/name. "_" never
// appears in a namespace, so names from different namespaces differ.
func secretFileName(ns, name, suffix string) string {
	return ns + "_" + name + suffix
}

// auxFile adds a file derived from a secret and returns its name.
func (r *run) auxFile(ns, name, suffix string, content []byte) string {
	fileName := secretFileName(ns, name, suffix)
	r.files[fileName] = AuxFile{Name: fileName, Content: content}
	return fileName
}

// certificate resolves the TLS Secret ns/name for the server user.
//
// When the Secret is missing or invalid but was loaded successfully before,
// the previous certificate is kept and a warning is returned. An empty name
// means no certificate is available.
func (r *run) certificate(ns, name, user string, dynamic bool) (string, string) {
	key := ns + "/" + name
	r.usedTLS[key] = true

	content, warning := r.certificateContent(ns, name)
	if content == nil {
		return "", warning
	}

	fileName := secretFileName(ns, name, ".pem")
	c, ok := r.certs[fileName]
	if !ok {
		c = &Certificate{Name: fileName, Secret: key, Dynamic: true, Content: content}
		r.certs[fileName] = c
	}
	c.Users = appendUnique(c.Users, user)
	c.Dynamic = c.Dynamic && dynamic
	return fileName, warning
}

func (r *run) certificateContent(ns, name string) ([]byte, string) {
	key := ns + "/" + name

	s, err := r.typedSecret(ns, name, v1.SecretTypeTLS)
	if err == nil {
		content := pemBundle(s)
		r.b.lastGood[key] = content
		return content, ""
	}

	if content, ok := r.b.lastGood[key]; ok {
		r.b.logger.Warn("TLS secret unusable, keeping last known good certificate", "secret", key, "error", err)
		return content, fmt.Sprintf("TLS secret %s is invalid: %v. The last valid certificate is used", key, err)
	}
	return nil, fmt.Sprintf("TLS secret %s is invalid: %v", key, err)
}

// pruneLastGood forgets certificates no resource refers to any more.
func (r *run) pruneLastGood() {
	for key := range r.b.lastGood {
		if !r.usedTLS[key] {
			delete(r.b.lastGood, key)
		}
	}
}

// reportSecrets records the validation state of every Secret.
func (r *run) reportSecrets() {
	for _, res := range r.snap.List(v1.KindSecret) {
		rep := r.report(res)
		if _, err := r.secret(res.Namespace, res.Name); err != nil {
			rep.err = err
		}
	}
}

func pemBundle(s *corev1.Secret) []byte {
	var buf bytes.Buffer
	buf.Write(bytes.TrimSpace(s.Data[corev1.TLSCertKey]))
	buf.WriteByte('\n')
	buf.Write(bytes.TrimSpace(s.Data[corev1.TLSPrivateKeyKey]))
	buf.WriteByte('\n')
	return buf.Bytes()
}

func appendUnique(list []string, s string) []string {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}
