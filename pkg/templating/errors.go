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

import "fmt"

// CompilationError is returned when a template fails to compile.
type CompilationError struct {
	TemplateName string

	// TemplateSnippet holds the first 200 characters of the template.
	TemplateSnippet string

	Cause error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("failed to compile template '%s': %v", e.TemplateName, e.Cause)
}

func (e *CompilationError) Unwrap() error {
	return e.Cause
}

// RenderError is returned when executing a compiled template fails.
type RenderError struct {
	TemplateName string
	Cause        error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("failed to render template '%s': %v", e.TemplateName, e.Cause)
}

func (e *RenderError) Unwrap() error {
	return e.Cause
}

// TemplateNotFoundError is returned when rendering an unknown template.
type TemplateNotFoundError struct {
	TemplateName       string
	AvailableTemplates []string
}

func (e *TemplateNotFoundError) Error() string {
	return fmt.Sprintf("template '%s' not found", e.TemplateName)
}

// UnsupportedEngineError is returned for an unknown EngineType.
type UnsupportedEngineError struct {
	EngineType EngineType
}

func (e *UnsupportedEngineError) Error() string {
	return fmt.Sprintf("unsupported template engine type: %s", e.EngineType)
}

// NewCompilationError creates a CompilationError.
func NewCompilationError(templateName, templateContent string, cause error) *CompilationError {
	snippet := templateContent
	if len(snippet) > 200 {
		snippet = snippet[:200] + "..."
	}

	return &CompilationError{
		TemplateName:    templateName,
		TemplateSnippet: snippet,
		Cause:           cause,
	}
}

// NewRenderError creates a RenderError.
func NewRenderError(templateName string, cause error) *RenderError {
	return &RenderError{
		TemplateName: templateName,
		Cause:        cause,
	}
}

// NewTemplateNotFoundError creates a TemplateNotFoundError.
func NewTemplateNotFoundError(templateName string, availableTemplates []string) *TemplateNotFoundError {
	return &TemplateNotFoundError{
		TemplateName:       templateName,
		AvailableTemplates: availableTemplates,
	}
}

// NewUnsupportedEngineError creates an UnsupportedEngineError.
func NewUnsupportedEngineError(engineType EngineType) *UnsupportedEngineError {
	return &UnsupportedEngineError{EngineType: engineType}
}
