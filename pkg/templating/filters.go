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

package templating

import (
	"fmt"
	"path/filepath"
	"strings"
)

// PathResolver turns file names of the configuration model into absolute
// paths on the NGINX host.
type PathResolver struct {
	// ConfDir holds the main configuration. Default: /etc/nginx
	ConfDir string

	// SecretsDir holds certificates, keys, htpasswd and JWKS files.
	// Default: /etc/nginx/secrets
	SecretsDir string

	// StateDir holds files written at runtime, e.g. key-value zone state.
	// Default: /var/lib/nginx/state
	StateDir string
}

// GetPath resolves a file name for a file type:
//
//	{{ "default-cafe.pem" | get_path("secret") }}  -> /etc/nginx/secrets/default-cafe.pem
//	{{ "keyval.json" | get_path("state") }}        -> /var/lib/nginx/state/keyval.json
//	{{ "" | get_path("secret") }}                  -> /etc/nginx/secrets
func (pr *PathResolver) GetPath(in interface{}, args ...interface{}) (interface{}, error) {
	filename, ok := in.(string)
	if !ok {
		return nil, fmt.Errorf("get_path: file name must be a string, got %T", in)
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("get_path requires 1 argument (file type), got %d", len(args))
	}
	fileType, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("get_path: file type must be a string, got %T", args[0])
	}

	var base string
	switch fileType {
	case "conf":
		base = pr.ConfDir
	case "secret":
		base = pr.SecretsDir
	case "state":
		base = pr.StateDir
	default:
		return nil, fmt.Errorf("get_path: invalid file type %q, must be \"conf\", \"secret\" or \"state\"", fileType)
	}

	if filename == "" {
		return base, nil
	}
	return filepath.Join(base, filename), nil
}

// OnOff renders a boolean as an NGINX flag.
//
//	gunzip {{ server.gunzip | onoff }};
func OnOff(in interface{}, args ...interface{}) (interface{}, error) {
	b, ok := in.(bool)
	if !ok {
		return nil, fmt.Errorf("onoff: input must be a bool, got %T", in)
	}
	if b {
		return "on", nil
	}
	return "off", nil
}

// Quote renders a string as an NGINX string literal. Values that need no
// quoting are returned unchanged.
//
//	auth_basic {{ auth.realm | quote }};
func Quote(in interface{}, args ...interface{}) (interface{}, error) {
	s, ok := in.(string)
	if !ok {
		return nil, fmt.Errorf("quote: input must be a string, got %T", in)
	}
	if s != "" && !strings.ContainsAny(s, " \t\r\n;{}\"'\\#") {
		return s, nil
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`, nil
}

// Filters returns the custom filters the NGINX templates use.
func Filters(resolver *PathResolver) map[string]FilterFunc {
	return map[string]FilterFunc{
		"get_path": resolver.GetPath,
		"onoff":    OnOff,
		"quote":    Quote,
	}
}
