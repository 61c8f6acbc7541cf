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
	"strconv"
	"strings"
)

type errorLocation struct {
	Line   int
	Column int
}

type parsedError struct {
	Location *errorLocation
	Problem  string
	Hints    []string
}

var (
	lineColPattern       = regexp.MustCompile(`Line=(\d+)\s+Col=(\d+)`)
	locationPattern      = regexp.MustCompile(`at line (\d+)`)
	unknownMethodPattern = regexp.MustCompile(`unknown method '([^']+)'`)
	undefinedVarPattern  = regexp.MustCompile(`undefined variable '([^']+)'`)
	typeMismatchPattern  = regexp.MustCompile(`expected (\w+), got (\w+)`)
)

// FormatRenderError formats a rendering error as a multi-line message with
// the location, the offending template line and a hint.
func FormatRenderError(err error, templateName, templateContent string) string {
	if err == nil {
		return ""
	}

	parsed := parseTemplateError(err.Error())

	var b strings.Builder
	fmt.Fprintf(&b, "Template Rendering Error: %s\n", templateName)
	b.WriteString(strings.Repeat("-", 60))
	b.WriteString("\n")

	if parsed.Location != nil {
		fmt.Fprintf(&b, "Location: Line %d, Column %d\n", parsed.Location.Line, parsed.Location.Column)
	}
	fmt.Fprintf(&b, "Problem:  %s\n", parsed.problemOr(err, 100))

	if parsed.Location != nil && templateContent != "" {
		if context := extractTemplateContext(templateContent, parsed.Location.Line, parsed.Location.Column); context != "" {
			b.WriteString("\nTemplate Context:\n")
			b.WriteString(context)
		}
	}

	if len(parsed.Hints) > 0 {
		b.WriteString("\nHint: ")
		b.WriteString(strings.Join(parsed.Hints, "\n      "))
		b.WriteString("\n")
	}

	return b.String()
}

func (p parsedError) problemOr(err error, limit int) string {
	if p.Problem != "" {
		return p.Problem
	}
	problem := err.Error()
	if len(problem) > limit {
		problem = problem[:limit-3] + "..."
	}
	return problem
}

func parseTemplateError(errorStr string) parsedError {
	return parsedError{
		Location: extractLocation(errorStr),
		Problem:  extractProblem(errorStr),
		Hints:    generateHints(errorStr),
	}
}

func extractLocation(errorStr string) *errorLocation {
	if m := lineColPattern.FindStringSubmatch(errorStr); len(m) == 3 {
		line, _ := strconv.Atoi(m[1])
		col, _ := strconv.Atoi(m[2])
		return &errorLocation{Line: line, Column: col}
	}
	if m := locationPattern.FindStringSubmatch(errorStr); len(m) == 2 {
		line, _ := strconv.Atoi(m[1])
		return &errorLocation{Line: line}
	}
	return nil
}

func extractProblem(errorStr string) string {
	if m := unknownMethodPattern.FindStringSubmatch(errorStr); len(m) == 2 {
		return fmt.Sprintf("Unknown method '%s'", m[1])
	}
	if m := undefinedVarPattern.FindStringSubmatch(errorStr); len(m) == 2 {
		return fmt.Sprintf("Undefined variable '%s'", m[1])
	}
	if m := typeMismatchPattern.FindStringSubmatch(errorStr); len(m) == 3 {
		return fmt.Sprintf("Type mismatch: expected %s, got %s", m[1], m[2])
	}
	return ""
}

func generateHints(errorStr string) []string {
	var hints []string

	if strings.Contains(errorStr, "undefined variable") {
		hints = append(hints,
			"Check that the variable is part of the configuration model.",
			"Model fields use snake_case names, e.g. 'server.https_ports'.")
	}
	if strings.Contains(errorStr, "unknown method") {
		hints = append(hints,
			"Map values are read with dot notation (e.g. 'server.name'), not methods.")
	}
	if strings.Contains(errorStr, "expected") && strings.Contains(errorStr, "got") {
		hints = append(hints,
			"The template expects a different data type than the model provides.")
	}
	if strings.Contains(errorStr, "ForControlStructure") {
		hints = append(hints,
			"Loops must iterate over a list, not a single value.")
	}

	return hints
}

// extractTemplateContext returns the failing line with a caret under column.
func extractTemplateContext(templateContent string, line, column int) string {
	lines := strings.Split(templateContent, "\n")
	if line < 1 || line > len(lines) {
		return ""
	}

	errorLine := lines[line-1]
	prefix := strconv.Itoa(line) + " | "

	var b strings.Builder
	b.WriteString(prefix + errorLine + "\n")
	if column > 0 && column <= len(errorLine)+1 {
		b.WriteString(strings.Repeat(" ", len(prefix)+column-1))
		b.WriteString("^\n")
	}
	return b.String()
}
