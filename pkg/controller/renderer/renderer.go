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

// Package renderer generates the NGINX configuration text from a merged
// configuration model.
//
// Rendering is a pure function of the model and the rendering options: the
// model only holds deterministically ordered slices and the templates only
// iterate slices, so the same model always renders to the same bytes.
package renderer

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"nginx-reconciler/pkg/configuration"
	"nginx-reconciler/pkg/templating"
)

// MainTemplate is the name of the template rendered into nginx.conf.
const MainTemplate = "nginx.conf"

const (
	DefaultStatusPort        = 8080
	DefaultPassthroughSocket = "unix:/var/lib/nginx/passthrough-https.sock"
)

//go:embed templates/*.j2
var builtinTemplates embed.FS

// Options shape the rendered configuration.
type Options struct {
	EnableIPv6             bool
	EnableSnippets         bool
	EnableDynamicSSLReload bool

	// Plus enables the NGINX Plus API location used for key-value updates.
	Plus bool

	StatusPort        int
	PassthroughSocket string
	Paths             templating.PathResolver

	// Templates replace builtin templates by name, e.g. "servers".
	Templates map[string]string

	PostProcessors []templating.PostProcessorConfig
}

// Renderer renders Models into Configs.
type Renderer struct {
	opts       Options
	engine     *templating.TemplateEngine
	resolver   *templating.PathResolver
	processors []templating.PostProcessor
}

// New compiles the builtin templates, with overrides from opts applied.
func New(opts Options) (*Renderer, error) {
	if opts.StatusPort == 0 {
		opts.StatusPort = DefaultStatusPort
	}
	if opts.PassthroughSocket == "" {
		opts.PassthroughSocket = DefaultPassthroughSocket
	}
	if opts.Paths.ConfDir == "" {
		opts.Paths.ConfDir = "/etc/nginx"
	}
	if opts.Paths.SecretsDir == "" {
		opts.Paths.SecretsDir = "/etc/nginx/secrets"
	}
	if opts.Paths.StateDir == "" {
		opts.Paths.StateDir = "/var/lib/nginx/state"
	}

	templates, err := BuiltinTemplates()
	if err != nil {
		return nil, err
	}
	for name, content := range opts.Templates {
		templates[name] = content
	}

	resolver := opts.Paths
	engine, err := templating.NewWithFilters(templating.EngineTypeGonja, templates, templating.Filters(&resolver))
	if err != nil {
		return nil, fmt.Errorf("failed to create template engine: %w", err)
	}

	processors := []templating.PostProcessor{templating.CollapseBlankLines{}}
	for _, cfg := range opts.PostProcessors {
		p, err := templating.NewPostProcessor(cfg)
		if err != nil {
			return nil, fmt.Errorf("invalid post-processor: %w", err)
		}
		processors = append(processors, p)
	}

	return &Renderer{
		opts:       opts,
		engine:     engine,
		resolver:   &resolver,
		processors: processors,
	}, nil
}

// BuiltinTemplates returns the embedded templates keyed by name.
func BuiltinTemplates() (map[string]string, error) {
	entries, err := fs.ReadDir(builtinTemplates, "templates")
	if err != nil {
		return nil, err
	}
	templates := make(map[string]string, len(entries))
	for _, entry := range entries {
		content, err := fs.ReadFile(builtinTemplates, path.Join("templates", entry.Name()))
		if err != nil {
			return nil, err
		}
		templates[strings.TrimSuffix(entry.Name(), ".j2")] = string(content)
	}
	return templates, nil
}

// Render renders model. A *templating.RenderError is returned if a template
// fails; FormatError turns it into a readable message.
func (r *Renderer) Render(model *configuration.Model) (*Config, error) {
	main, err := r.engine.Render(MainTemplate, r.buildRenderingContext(model))
	if err != nil {
		return nil, err
	}
	main, err = templating.Chain(main, r.processors...)
	if err != nil {
		return nil, fmt.Errorf("post-processing failed: %w", err)
	}

	cfg := &Config{Main: main}
	for _, f := range model.Files {
		cfg.Files = append(cfg.Files, File{Name: f.Name, Content: f.Content})
	}
	for _, c := range model.Certificates {
		cfg.Certificates = append(cfg.Certificates, Certificate{
			File:    File{Name: c.Name, Content: c.Content},
			Secret:  c.Secret,
			Dynamic: r.opts.EnableDynamicSSLReload && c.Dynamic,
		})
	}
	for _, sc := range model.SplitClients {
		if !sc.Dynamic {
			continue
		}
		cfg.Weights = append(cfg.Weights, SplitWeights{Zone: sc.KeyValZone, Key: sc.KeyValKey, Value: sc.Value})
	}

	return cfg, nil
}

// FormatError returns a multi-line description of a rendering error.
func (r *Renderer) FormatError(err error) string {
	name := MainTemplate
	var renderErr *templating.RenderError
	if errors.As(err, &renderErr) {
		name = renderErr.TemplateName
	}
	content, _ := r.engine.GetRawTemplate(name)
	return templating.FormatRenderError(err, name, content)
}

// Paths returns the directories the configuration refers to.
func (r *Renderer) Paths() templating.PathResolver {
	return *r.resolver
}
