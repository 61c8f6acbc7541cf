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
	"regexp"
	"strings"
)

// RegexReplaceProcessor replaces every match of a pattern, line by line.
type RegexReplaceProcessor struct {
	pattern *regexp.Regexp
	replace string
}

// NewRegexReplaceProcessor compiles pattern. replace may reference capture
// groups as $1.
func NewRegexReplaceProcessor(pattern, replace string) (*RegexReplaceProcessor, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
	}

	return &RegexReplaceProcessor{
		pattern: re,
		replace: replace,
	}, nil
}

// Process implements PostProcessor.
func (p *RegexReplaceProcessor) Process(input string) (string, error) {
	if input == "" {
		return input, nil
	}

	lines := strings.Split(input, "\n")
	for i, line := range lines {
		lines[i] = p.pattern.ReplaceAllString(line, p.replace)
	}

	return strings.Join(lines, "\n"), nil
}
