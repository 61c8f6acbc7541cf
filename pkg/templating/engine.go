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

// Package templating compiles and renders the Jinja2-style templates the
// NGINX configuration is generated from.
package templating

import (
	"fmt"
	"sort"

	"github.com/nikolalohinski/gonja/v2/builtins"
	"github.com/nikolalohinski/gonja/v2/config"
	"github.com/nikolalohinski/gonja/v2/exec"
)

// FilterFunc is a custom filter that can be registered with the engine.
// It receives the piped value and the filter arguments.
//
// Example:
//
//	func onOff(in interface{}, args ...interface{}) (interface{}, error) {
//	    b, ok := in.(bool)
//	    if !ok {
//	        return nil, fmt.Errorf("onoff: expected bool, got %T", in)
//	    }
//	    if b {
//	        return "on", nil
//	    }
//	    return "off", nil
//	}
type FilterFunc func(in interface{}, args ...interface{}) (interface{}, error)

// TemplateEngine holds a set of compiled templates. All templates are
// compiled up front so syntax errors surface when the engine is created.
type TemplateEngine struct {
	engineType        EngineType
	rawTemplates      map[string]string
	compiledTemplates map[string]*exec.Template
}

// New creates a TemplateEngine from templates keyed by name.
func New(engineType EngineType, templates map[string]string) (*TemplateEngine, error) {
	return NewWithFilters(engineType, templates, nil)
}

// NewWithFilters creates a TemplateEngine with custom filters registered on
// top of the builtin ones.
//
// Example:
//
//	resolver := &templating.PathResolver{SecretsDir: "/etc/nginx/secrets"}
//	filters := map[string]templating.FilterFunc{
//	    "get_path": resolver.GetPath,
//	}
//	engine, err := templating.NewWithFilters(templating.EngineTypeGonja, templates, filters)
func NewWithFilters(engineType EngineType, templates map[string]string, customFilters map[string]FilterFunc) (*TemplateEngine, error) {
	if engineType != EngineTypeGonja {
		return nil, NewUnsupportedEngineError(engineType)
	}

	engine := &TemplateEngine{
		engineType:        engineType,
		rawTemplates:      make(map[string]string, len(templates)),
		compiledTemplates: make(map[string]*exec.Template, len(templates)),
	}

	// Templates include each other by plain name: {% include "upstreams" %}.
	loader := NewSimpleLoader(templates)

	// TrimBlocks and LeftStripBlocks keep block tags from leaving blank
	// lines and stray indentation in the generated configuration.
	cfg := &config.Config{
		BlockStartString:    "{%",
		BlockEndString:      "%}",
		VariableStartString: "{{",
		VariableEndString:   "}}",
		CommentStartString:  "{#",
		CommentEndString:    "#}",
		AutoEscape:          false,
		StrictUndefined:     false,
		TrimBlocks:          true,
		LeftStripBlocks:     true,
	}

	filters := builtins.Filters
	if len(customFilters) > 0 {
		filterMap := make(map[string]exec.FilterFunction, len(customFilters))
		for name, customFilter := range customFilters {
			filterMap[name] = wrapCustomFilter(customFilter)
		}
		filters = filters.Update(exec.NewFilterSet(filterMap))
	}

	environment := &exec.Environment{
		Filters:           filters,
		Tests:             builtins.Tests,
		ControlStructures: builtins.ControlStructures,
		Methods:           builtins.Methods,
		Context:           builtins.GlobalFunctions,
	}

	for name, content := range templates {
		engine.rawTemplates[name] = content

		compiled, err := exec.NewTemplate(name, cfg, loader, environment)
		if err != nil {
			return nil, NewCompilationError(name, content, err)
		}
		engine.compiledTemplates[name] = compiled
	}

	return engine, nil
}

// Render executes the named template with context.
func (e *TemplateEngine) Render(templateName string, context map[string]interface{}) (string, error) {
	template, exists := e.compiledTemplates[templateName]
	if !exists {
		return "", NewTemplateNotFoundError(templateName, e.TemplateNames())
	}

	output, err := template.ExecuteToString(exec.NewContext(context))
	if err != nil {
		return "", NewRenderError(templateName, err)
	}

	return output, nil
}

// EngineType returns the template engine type used by this instance.
func (e *TemplateEngine) EngineType() EngineType {
	return e.engineType
}

// TemplateNames returns the sorted names of all templates.
func (e *TemplateEngine) TemplateNames() []string {
	names := make([]string, 0, len(e.rawTemplates))
	for name := range e.rawTemplates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetRawTemplate returns the source of the named template.
func (e *TemplateEngine) GetRawTemplate(templateName string) (string, error) {
	template, exists := e.rawTemplates[templateName]
	if !exists {
		return "", NewTemplateNotFoundError(templateName, e.TemplateNames())
	}
	return template, nil
}

func (e *TemplateEngine) String() string {
	return fmt.Sprintf("TemplateEngine{type=%s, templates=%d}", e.engineType, len(e.compiledTemplates))
}

// wrapCustomFilter adapts a FilterFunc to gonja's filter signature.
func wrapCustomFilter(customFilter FilterFunc) exec.FilterFunction {
	return func(e *exec.Evaluator, in *exec.Value, params *exec.VarArgs) *exec.Value {
		var args []interface{}
		if params != nil {
			for _, arg := range params.Args {
				args = append(args, arg.Interface())
			}
		}

		result, err := customFilter(in.Interface(), args...)
		if err != nil {
			return exec.AsValue(err)
		}
		return exec.AsValue(result)
	}
}
