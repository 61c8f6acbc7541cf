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
	"strings"
)

// PostProcessor transforms rendered template output.
type PostProcessor interface {
	Process(input string) (string, error)
}

// PostProcessorType names a post-processor in the configuration.
type PostProcessorType string

const (
	// PostProcessorTypeRegexReplace applies a regex find/replace to every line.
	PostProcessorTypeRegexReplace PostProcessorType = "regex_replace"

	// PostProcessorTypeCollapseBlankLines strips trailing whitespace and
	// squeezes runs of empty lines into one.
	PostProcessorTypeCollapseBlankLines PostProcessorType = "collapse_blank_lines"
)

// PostProcessorConfig configures one post-processor.
type PostProcessorConfig struct {
	Type PostProcessorType `yaml:"type" json:"type"`

	// Params holds type specific settings. regex_replace requires
	// "pattern" and "replace".
	Params map[string]string `yaml:"params" json:"params"`
}

// NewPostProcessor creates the post-processor described by config.
func NewPostProcessor(config PostProcessorConfig) (PostProcessor, error) {
	switch config.Type {
	case PostProcessorTypeRegexReplace:
		pattern, ok := config.Params["pattern"]
		if !ok {
			return nil, fmt.Errorf("regex_replace processor requires 'pattern' parameter")
		}

		replace, ok := config.Params["replace"]
		if !ok {
			return nil, fmt.Errorf("regex_replace processor requires 'replace' parameter")
		}

		return NewRegexReplaceProcessor(pattern, replace)

	case PostProcessorTypeCollapseBlankLines:
		return CollapseBlankLines{}, nil

	default:
		return nil, fmt.Errorf("unknown post-processor type: %s", config.Type)
	}
}

// CollapseBlankLines removes trailing whitespace from every line and keeps
// at most one empty line in a row.
type CollapseBlankLines struct{}

// Process implements PostProcessor.
func (CollapseBlankLines) Process(input string) (string, error) {
	lines := strings.Split(input, "\n")
	out := lines[:0]
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n"), nil
}

// Chain applies processors in order.
func Chain(input string, processors ...PostProcessor) (string, error) {
	var err error
	for _, p := range processors {
		if input, err = p.Process(input); err != nil {
			return "", err
		}
	}
	return input, nil
}
