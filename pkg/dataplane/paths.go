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

package dataplane

import "path/filepath"

const (
	// MainFile is the name of the main configuration file.
	MainFile = "nginx.conf"

	// VersionFile holds the map defining $config_version. It is included
	// by the main configuration and rewritten on every reload.
	VersionFile = "config-version.conf"
)

// Paths are the locations NGINX reads its configuration from. They must
// match the directories the configuration was rendered with.
type Paths struct {
	ConfDir    string
	SecretsDir string
	PIDFile    string
}

// DefaultPaths returns the standard locations of an NGINX container.
func DefaultPaths() Paths {
	return Paths{
		ConfDir:    "/etc/nginx",
		SecretsDir: "/etc/nginx/secrets",
		PIDFile:    "/var/run/nginx.pid",
	}
}

func (p Paths) withDefaults() Paths {
	d := DefaultPaths()
	if p.ConfDir == "" {
		p.ConfDir = d.ConfDir
	}
	if p.SecretsDir == "" {
		p.SecretsDir = d.SecretsDir
	}
	if p.PIDFile == "" {
		p.PIDFile = d.PIDFile
	}
	return p
}

// MainConfig returns the path of nginx.conf.
func (p Paths) MainConfig() string {
	return filepath.Join(p.ConfDir, MainFile)
}

// Secret returns the path of a file in the secrets directory.
func (p Paths) Secret(name string) string {
	return filepath.Join(p.SecretsDir, name)
}

func (p Paths) versionFile() string {
	return filepath.Join(p.ConfDir, VersionFile)
}
