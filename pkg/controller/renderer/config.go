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

package renderer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// File is a file written next to the main configuration.
type File struct {
	Name    string
	Content []byte
}

// Certificate is a certificate and key bundle written to the secrets
// directory.
type Certificate struct {
	File

	// Secret is the namespace/name of the source Secret.
	Secret string

	// Dynamic is true when NGINX reads the file on every handshake, so a
	// new content is picked up without a reload.
	Dynamic bool
}

// SplitWeights is the key-value entry that selects the active weight
// combination of a dynamic split.
type SplitWeights struct {
	Zone  string
	Key   string
	Value string
}

// Config is a fully rendered NGINX configuration.
type Config struct {
	// Main is the content of nginx.conf.
	Main string

	// Files are auxiliary files such as htpasswd, JWKS and CA bundles.
	Files []File

	Certificates []Certificate
	Weights      []SplitWeights

	// checksum is set on copies made by StaleWeights.
	checksum string
}

// Checksum returns the sha256 of the main configuration and the auxiliary
// files. Certificates and split weights are not part of the checksum: they
// are compared separately because both can change without a reload. The
// default of a dynamic split map names the active weights, so it is masked.
func (c *Config) Checksum() string {
	if c.checksum != "" {
		return c.checksum
	}
	main := c.Main
	for _, w := range c.Weights {
		main = strings.Replace(main, "default $"+w.Value+";", "default <"+w.Zone+">;", 1)
	}

	h := sha256.New()
	h.Write([]byte(main))
	for _, f := range c.Files {
		h.Write([]byte{0})
		h.Write([]byte(f.Name))
		h.Write([]byte{0})
		h.Write(f.Content)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// StaleWeights returns a copy of c whose split weights match no rendered
// value, so ChangedWeights reports all of them again. The checksum of c is
// kept.
func (c *Config) StaleWeights() *Config {
	stale := *c
	stale.checksum = c.Checksum()
	stale.Weights = make([]SplitWeights, len(c.Weights))
	for i, w := range c.Weights {
		w.Value = ""
		stale.Weights[i] = w
	}
	return &stale
}

// Certificate returns the certificate with the given name.
func (c *Config) Certificate(name string) (Certificate, bool) {
	for _, cert := range c.Certificates {
		if cert.Name == name {
			return cert, true
		}
	}
	return Certificate{}, false
}

// ChangedCertificates returns the certificates of c whose content differs
// from prev, and whether the certificate names are the same in both.
func (c *Config) ChangedCertificates(prev *Config) (changed []Certificate, sameNames bool) {
	if len(c.Certificates) != len(prev.Certificates) {
		return nil, false
	}
	for _, cert := range c.Certificates {
		old, ok := prev.Certificate(cert.Name)
		if !ok {
			return nil, false
		}
		if !bytes.Equal(old.Content, cert.Content) {
			changed = append(changed, cert)
		}
	}
	return changed, true
}

// ChangedWeights returns the split weights of c that differ from prev.
func (c *Config) ChangedWeights(prev *Config) []SplitWeights {
	old := make(map[string]string, len(prev.Weights))
	for _, w := range prev.Weights {
		old[w.Zone+"/"+w.Key] = w.Value
	}
	var changed []SplitWeights
	for _, w := range c.Weights {
		if v, ok := old[w.Zone+"/"+w.Key]; !ok || v != w.Value {
			changed = append(changed, w)
		}
	}
	return changed
}
