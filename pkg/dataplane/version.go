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

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Version is the version of the local nginx binary.
type Version struct {
	Major int
	Minor int
	Patch int
	// Plus is set for NGINX Plus builds.
	Plus bool
	Full string
}

// Compare compares two versions by major, minor and patch.
// It returns -1, 0 or 1.
func (v *Version) Compare(other *Version) int {
	a := [3]int{v.Major, v.Minor, v.Patch}
	b := [3]int{other.Major, other.Minor, other.Patch}
	for i := range a {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	return 0
}

// Capabilities are the features the controller relies on that depend on the
// nginx build.
type Capabilities struct {
	// DynamicCertificates: ssl_certificate accepts variables, so certificate
	// files are read per handshake (1.15.9+).
	DynamicCertificates bool

	// KeyValAPI: key-value zones can be changed through the Plus API.
	KeyValAPI bool
}

var dynamicCertificatesSince = &Version{Major: 1, Minor: 15, Patch: 9}

// CapabilitiesFromVersion computes the capabilities of v. A nil version
// has none.
func CapabilitiesFromVersion(v *Version) Capabilities {
	if v == nil {
		return Capabilities{}
	}
	return Capabilities{
		DynamicCertificates: v.Compare(dynamicCertificatesSince) >= 0,
		KeyValAPI:           v.Plus,
	}
}

// ParseVersionOutput parses the output of "nginx -v":
//
//	nginx version: nginx/1.27.3
//	nginx version: nginx/1.27.2 (nginx-plus-r33)
func ParseVersionOutput(output string) (*Version, error) {
	line := strings.TrimSpace(strings.SplitN(output, "\n", 2)[0])

	const prefix = "nginx version: nginx/"
	if !strings.HasPrefix(line, prefix) {
		return nil, fmt.Errorf("unexpected nginx version format: %q", line)
	}
	fields := strings.Fields(strings.TrimPrefix(line, prefix))
	if len(fields) == 0 {
		return nil, fmt.Errorf("no version number found in: %q", line)
	}

	parts := strings.Split(fields[0], ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid version %q", fields[0])
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid version %q: %w", fields[0], err)
		}
		nums[i] = n
	}

	return &Version{
		Major: nums[0],
		Minor: nums[1],
		Patch: nums[2],
		Plus:  strings.Contains(line, "nginx-plus"),
		Full:  strings.TrimPrefix(line, "nginx version: "),
	}, nil
}

// DetectVersion runs "<binary> -v" and parses its output. nginx prints the
// version on stderr, so the combined output is used.
func DetectVersion(ctx context.Context, run CommandRunner, binary string) (*Version, error) {
	if run == nil {
		run = ExecRunner
	}
	out, err := run(ctx, binary, "-v")
	if err != nil {
		return nil, fmt.Errorf("failed to run %s -v: %w", binary, err)
	}
	return ParseVersionOutput(string(out))
}

// CommandRunner runs a command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%s binary not found: %w", name, err)
	}
	return exec.CommandContext(ctx, path, args...).CombinedOutput()
}
