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
	"fmt"
	"strings"
)

// Phase is the step of applying a configuration that failed.
type Phase string

const (
	PhaseWrite   Phase = "write"
	PhaseTest    Phase = "test"
	PhaseReload  Phase = "reload"
	PhaseDynamic Phase = "dynamic"
)

// ReloadError reports a failed reload or dynamic update. The previous
// configuration stays active.
type ReloadError struct {
	Phase   Phase
	Message string

	// Output holds the relevant lines printed by nginx, if any.
	Output []string

	Cause error
}

func (e *ReloadError) Error() string {
	msg := fmt.Sprintf("%s failed: %s", e.Phase, e.Message)
	if len(e.Output) > 0 {
		msg += ": " + strings.Join(e.Output, "; ")
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *ReloadError) Unwrap() error {
	return e.Cause
}

func newReloadError(phase Phase, message string, cause error) *ReloadError {
	return &ReloadError{Phase: phase, Message: message, Cause: cause}
}

// parseNginxError extracts the diagnostic lines from nginx output.
//
// nginx prints lines like
//
//	nginx: [emerg] unknown directive "proxy_pas" in /etc/nginx/nginx.conf:42
//	nginx: configuration file /etc/nginx/nginx.conf test failed
//
// Only the leveled messages are kept, without the "nginx: " prefix.
func parseNginxError(output string) []string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "nginx: ")
		for _, level := range []string{"[emerg]", "[alert]", "[crit]", "[error]"} {
			if strings.HasPrefix(line, level) {
				lines = append(lines, line)
				break
			}
		}
	}
	if len(lines) == 0 && strings.TrimSpace(output) != "" {
		lines = append(lines, strings.TrimSpace(output))
	}
	return lines
}
