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

// Package dataplane applies rendered configuration to a local NGINX.
//
// A full reload stages every file atomically, checks the result with
// "nginx -t", signals the master process and waits until the workers serve
// the new configuration version. If any step fails the previous files are
// restored so that the files on disk always match what NGINX runs.
//
// Certificates that NGINX loads per handshake and split weights kept in a
// key-value zone are changed without a reload through UpdateCertificates
// and UpdateWeights.
package dataplane

import "context"

// File is a file written next to the main configuration.
type File struct {
	Name    string
	Content []byte
}

// KeyVal is an entry of an NGINX Plus key-value zone.
type KeyVal struct {
	Zone  string
	Key   string
	Value string
}

// Config is the set of files making up one NGINX configuration.
type Config struct {
	// Main is the content of nginx.conf.
	Main string
	// Files are written to the secrets directory.
	Files []File
	// Certificates are written to the secrets directory with owner-only
	// permissions.
	Certificates []File
}

// Manager applies configuration to NGINX.
//
// All methods return a *ReloadError on failure. Implementations must be
// safe for concurrent use.
type Manager interface {
	// Apply writes cfg and reloads NGINX.
	Apply(ctx context.Context, cfg *Config) error

	// UpdateCertificates replaces certificate files without a reload.
	UpdateCertificates(ctx context.Context, certs []File) error

	// UpdateWeights stores split weights in their key-value zones.
	UpdateWeights(ctx context.Context, weights []KeyVal) error
}
