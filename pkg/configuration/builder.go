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

package configuration

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	v1 "nginx-reconciler/pkg/apis/configuration/v1"
	"nginx-reconciler/pkg/claims"
	"nginx-reconciler/pkg/controller/resourcestore"
	"nginx-reconciler/pkg/validation"
)

// Options are the feature flags and object references the Builder works with.
type Options struct {
	// IngressClass selects the resources handled by this controller.
	// Resources without a class are always handled.
	IngressClass string

	// GlobalConfiguration is the namespace/name of the GlobalConfiguration
	// holding the custom listeners. Empty disables custom listeners.
	GlobalConfiguration string

	// ConfigMap is the namespace/name of the ConfigMap with global settings.
	ConfigMap string

	EnableSnippets             bool
	EnableTLSPassthrough       bool
	TLSPassthroughPort         int
	EnableDynamicWeightChanges bool
}

func (o Options) validationOptions() validation.Options {
	return validation.Options{
		EnableSnippets:       o.EnableSnippets,
		EnableTLSPassthrough: o.EnableTLSPassthrough,
	}
}

// Builder turns store snapshots into Models.
//
// Between passes the Builder keeps the host and listener claim tables and the
// last certificate that was successfully loaded from each TLS Secret.
// Build must not be called concurrently.
type Builder struct {
	opts      Options
	logger    *slog.Logger
	hosts     *claims.Table[claims.HostKey]
	listeners *claims.Table[claims.ListenerKey]

	mu       sync.Mutex
	lastGood map[string][]byte
}

// NewBuilder creates a Builder.
func NewBuilder(opts Options, logger *slog.Logger) *Builder {
	if opts.TLSPassthroughPort == 0 {
		opts.TLSPassthroughPort = validation.DefaultHTTPSPort
	}
	return &Builder{
		opts:      opts,
		logger:    logger.With("component", "config-builder"),
		hosts:     claims.NewHostTable(),
		listeners: claims.NewListenerTable(),
		lastGood:  make(map[string][]byte),
	}
}

// Build merges every valid resource of snap into a Model and reports the
// validation outcome of each resource.
func (b *Builder) Build(snap *resourcestore.Snapshot) *Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := newRun(b, snap)

	r.model.Global = r.buildGlobal()
	r.gc = r.globalConfiguration()
	r.collectPolicies()
	r.collectVirtualServerRoutes()

	vss := r.collectVirtualServers()
	tss := r.collectTransportServers()
	ings := r.collectIngresses()

	r.arbitrateHosts(vss, tss, ings)
	r.arbitrateListeners(tss)

	for _, c := range vss {
		if c.rejected() {
			continue
		}
		r.buildVirtualServer(c)
	}
	for _, c := range tss {
		if c.rejected() {
			continue
		}
		r.buildTransportServer(c)
	}
	r.buildIngresses(ings)

	r.finishVirtualServerRoutes()
	r.reportSecrets()
	r.pruneLastGood()

	return r.result()
}

// run holds the state of a single Build pass.
type run struct {
	b    *Builder
	opts Options
	snap *resourcestore.Snapshot

	model   *Model
	reports map[resourcestore.Identity]*report

	gc       *v1.GlobalConfiguration
	policies map[resourcestore.Identity]*v1.Policy
	vsrs     map[resourcestore.Identity]*vsrEntry

	secrets   map[resourcestore.Identity]secretEntry
	certs     map[string]*Certificate
	files     map[string]AuxFile
	upstreams map[string]Upstream
	streamUps map[string]Upstream
	zones     map[string]RateLimitZone
	usedTLS   map[string]bool
	promoted  map[resourcestore.Identity]bool
}

func newRun(b *Builder, snap *resourcestore.Snapshot) *run {
	return &run{
		b:         b,
		opts:      b.opts,
		snap:      snap,
		model:     &Model{},
		reports:   make(map[resourcestore.Identity]*report),
		policies:  make(map[resourcestore.Identity]*v1.Policy),
		vsrs:      make(map[resourcestore.Identity]*vsrEntry),
		secrets:   make(map[resourcestore.Identity]secretEntry),
		certs:     make(map[string]*Certificate),
		files:     make(map[string]AuxFile),
		upstreams: make(map[string]Upstream),
		streamUps: make(map[string]Upstream),
		zones:     make(map[string]RateLimitZone),
		usedTLS:   make(map[string]bool),
		promoted:  make(map[resourcestore.Identity]bool),
	}
}

// report accumulates the findings for one resource.
type report struct {
	id              resourcestore.Identity
	resourceVersion string
	generation      int64

	err          error
	conflict     error
	warnings     validation.Warnings
	referencedBy string
}

func (r *run) report(res resourcestore.WatchedResource) *report {
	if rep, ok := r.reports[res.Identity]; ok {
		return rep
	}
	rep := &report{id: res.Identity, resourceVersion: res.ResourceVersion, generation: res.Generation}
	r.reports[res.Identity] = rep
	return rep
}

func (rep *report) warn(format string, args ...interface{}) {
	rep.warnings.Add(fmt.Sprintf(format, args...))
}

func (rep *report) outcome() Outcome {
	o := Outcome{ID: rep.id, ResourceVersion: rep.resourceVersion, Generation: rep.generation, ReferencedBy: rep.referencedBy}
	key := rep.id.Key()

	switch {
	case rep.err != nil:
		o.State = resourcestore.StateInvalid
		o.Reason = v1.ReasonRejected
		o.Message = fmt.Sprintf("%s %s was rejected with error: %v", rep.id.Kind, key, rep.err)
	case rep.conflict != nil:
		o.State = resourcestore.StateWarning
		o.Reason = v1.ReasonRejected
		o.Message = rep.conflict.Error()
	case len(rep.warnings) > 0:
		o.State = resourcestore.StateWarning
		o.Reason = v1.ReasonAddedOrUpdatedWithWarning
		o.Message = fmt.Sprintf("Configuration for %s was added or updated ; with warning(s): %s", key, rep.warnings.String())
	default:
		o.State = resourcestore.StateValid
		o.Reason = v1.ReasonAddedOrUpdated
		o.Message = fmt.Sprintf("Configuration for %s was added or updated", key)
	}
	return o
}

// decode checks the schema of res and converts it into out. Failures are
// recorded as validation errors on the report.
func (r *run) decode(res resourcestore.WatchedResource, out interface{}) bool {
	rep := r.report(res)
	if err := validation.ValidateSchema(res.Object); err != nil {
		rep.err = err
		return false
	}
	if err := v1.FromUnstructured(res.Object, out); err != nil {
		rep.err = err
		return false
	}
	return true
}

func (r *run) classMatches(class string) bool {
	return class == "" || class == r.opts.IngressClass
}

// handled reports whether res selects the class of this controller.
// Resources of other classes get no outcome at all.
func (r *run) handled(res resourcestore.WatchedResource) bool {
	class, _, _ := unstructured.NestedString(res.Object.Object, "spec", "ingressClassName")
	if class == "" && res.Kind == v1.KindIngress {
		class = res.Object.GetAnnotations()[v1.AnnotationIngressClass]
	}
	return r.classMatches(class)
}

func (r *run) result() *Result {
	m := r.model

	for _, u := range r.upstreams {
		m.Upstreams = append(m.Upstreams, u)
	}
	for _, u := range r.streamUps {
		m.StreamUpstreams = append(m.StreamUpstreams, u)
	}
	for _, c := range r.certs {
		sort.Strings(c.Users)
		m.Certificates = append(m.Certificates, *c)
	}
	for _, f := range r.files {
		m.Files = append(m.Files, f)
	}
	for _, z := range r.zones {
		m.RateLimitZones = append(m.RateLimitZones, z)
	}

	sort.Slice(m.Servers, func(i, j int) bool { return m.Servers[i].Name < m.Servers[j].Name })
	for i := range m.Servers {
		sortLocations(m.Servers[i].Locations)
	}
	sort.Slice(m.Upstreams, func(i, j int) bool { return m.Upstreams[i].Name < m.Upstreams[j].Name })
	sort.Slice(m.StreamUpstreams, func(i, j int) bool { return m.StreamUpstreams[i].Name < m.StreamUpstreams[j].Name })
	sort.Slice(m.SplitClients, func(i, j int) bool { return m.SplitClients[i].Variable < m.SplitClients[j].Variable })
	sort.Slice(m.RateLimitZones, func(i, j int) bool { return m.RateLimitZones[i].Name < m.RateLimitZones[j].Name })
	sort.Slice(m.StreamServers, func(i, j int) bool { return m.StreamServers[i].Name < m.StreamServers[j].Name })
	sort.Slice(m.PassthroughHosts, func(i, j int) bool { return m.PassthroughHosts[i].Host < m.PassthroughHosts[j].Host })
	sort.Slice(m.Certificates, func(i, j int) bool { return m.Certificates[i].Name < m.Certificates[j].Name })
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Name < m.Files[j].Name })

	res := &Result{Model: m}
	for _, rep := range r.reports {
		res.Outcomes = append(res.Outcomes, rep.outcome())
	}
	sort.Slice(res.Outcomes, func(i, j int) bool { return res.Outcomes[i].ID.Less(res.Outcomes[j].ID) })

	for id := range r.promoted {
		res.Promoted = append(res.Promoted, id)
	}
	sort.Slice(res.Promoted, func(i, j int) bool { return res.Promoted[i].Less(res.Promoted[j]) })
	return res
}

// objectName joins name parts into an NGINX upstream, zone or server name.
// Kubernetes names never contain "_", so different parts never produce the
// same name.
func objectName(parts ...string) string {
	return strings.Join(parts, "_")
}

// variableEscaper maps the characters of Kubernetes names that NGINX does not
// allow in variable names. Runs of "_" stay unambiguous: a single one
// separates parts, three stand for "." and an even number for dashes.
var variableEscaper = strings.NewReplacer("-", "__", ".", "___")

// variableName is objectName for NGINX variable names.
func variableName(parts ...string) string {
	return variableEscaper.Replace(objectName(parts...))
}

// sortLocations orders exact and prefix locations by path. Regex locations
// go last and keep the order of their routes, which is the order NGINX
// evaluates them in.
func sortLocations(locs []Location) {
	sort.SliceStable(locs, func(a, b int) bool {
		ra, rb := isRegexPath(locs[a].Path), isRegexPath(locs[b].Path)
		if ra || rb {
			return !ra && rb
		}
		return locs[a].Path < locs[b].Path
	})
}

func isRegexPath(path string) bool {
	return strings.HasPrefix(path, "~")
}
