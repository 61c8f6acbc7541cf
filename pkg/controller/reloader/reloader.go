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

// Package reloader implements the component that brings NGINX to the
// latest rendered configuration.
//
// Rendered configurations replace each other while a reload is in flight,
// so only the newest one is applied. Full reloads are rate limited; dynamic
// updates of certificates and split weights are not.
package reloader

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"nginx-reconciler/pkg/controller/events"
	"nginx-reconciler/pkg/controller/renderer"
	"nginx-reconciler/pkg/dataplane"
	busevents "nginx-reconciler/pkg/events"
)

const (
	// ComponentName identifies the reloader in readiness responses.
	ComponentName = "reloader"

	// EventBufferSize is the size of the event subscription buffer.
	EventBufferSize = 100
)

// Options configure the reloader.
type Options struct {
	Flags Flags

	// MinReloadInterval is the minimum time between two full reloads.
	// Zero disables rate limiting.
	MinReloadInterval time.Duration
}

// pendingConfig is a rendered configuration waiting to be applied.
type pendingConfig struct {
	reconcileID string
	cfg         *renderer.Config
}

// Component applies rendered configurations through a dataplane.Manager.
//
// Event subscriptions:
//   - ConfigRenderedEvent: replace the pending configuration
//   - ReadinessRequest: ready once a configuration has been applied
type Component struct {
	eventBus  *busevents.EventBus
	eventChan <-chan busevents.Event
	logger    *slog.Logger
	manager   dataplane.Manager
	flags     Flags
	limiter   *rate.Limiter

	mu         sync.Mutex
	pending    *pendingConfig
	superseded int
	applied    *renderer.Config
	lastErr    error

	wake chan struct{}
}

// New creates a reloader component.
func New(eventBus *busevents.EventBus, manager dataplane.Manager, opts Options, logger *slog.Logger) *Component {
	limit := rate.Inf
	if opts.MinReloadInterval > 0 {
		limit = rate.Every(opts.MinReloadInterval)
	}
	return &Component{
		eventBus:  eventBus,
		eventChan: eventBus.Subscribe(EventBufferSize),
		logger:    logger.With("component", ComponentName),
		manager:   manager,
		flags:     opts.Flags,
		limiter:   rate.NewLimiter(limit, 1),
		wake:      make(chan struct{}, 1),
	}
}

// Start runs the event loop and the apply loop until ctx is cancelled.
func (c *Component) Start(ctx context.Context) error {
	c.logger.Info("reloader starting",
		"dynamic_ssl", c.flags.DynamicSSL,
		"dynamic_weights", c.flags.DynamicWeights,
		"min_reload_interval", c.limiter.Limit())

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.applyLoop(ctx)
	}()

	for {
		select {
		case event := <-c.eventChan:
			c.handleEvent(event)
		case <-ctx.Done():
			<-done
			c.logger.Info("reloader shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// Applied returns the configuration NGINX runs, or nil.
func (c *Component) Applied() *renderer.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applied
}

func (c *Component) handleEvent(event busevents.Event) {
	switch e := event.(type) {
	case *events.ConfigRenderedEvent:
		c.enqueue(e.ReconcileID, e.Config)

	case *events.ReadinessRequest:
		c.mu.Lock()
		ready := c.applied != nil
		detail := "no configuration applied yet"
		if ready {
			detail = "running " + c.applied.Checksum()
		}
		c.mu.Unlock()
		c.eventBus.Publish(events.NewReadinessResponse(e.RequestID(), ComponentName, ready, detail))
	}
}

// enqueue replaces the pending configuration (latest wins) and wakes the
// apply loop.
func (c *Component) enqueue(reconcileID string, cfg *renderer.Config) {
	c.mu.Lock()
	if c.pending != nil {
		c.superseded++
		c.logger.Debug("pending configuration superseded",
			"reconcile_id", c.pending.reconcileID,
			"by", reconcileID)
	}
	c.pending = &pendingConfig{reconcileID: reconcileID, cfg: cfg}
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Component) takePending() *pendingConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending
	c.pending = nil
	return p
}

func (c *Component) applyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
			c.process(ctx)
		}
	}
}

func (c *Component) process(ctx context.Context) {
	p := c.takePending()
	if p == nil {
		return
	}

	d := Decide(c.Applied(), p.cfg, c.flags)
	if d.Action == FullReload {
		if c.limiter.Tokens() < 1 {
			c.logger.Debug("waiting for reload rate limit", "reconcile_id", p.reconcileID)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return
		}
		// Configurations rendered while waiting replace this one.
		if newer := c.takePending(); newer != nil {
			p = newer
			d = Decide(c.Applied(), p.cfg, c.flags)
		}
	}

	c.execute(ctx, p, d)
}

func (c *Component) execute(ctx context.Context, p *pendingConfig, d Decision) {
	checksum := p.cfg.Checksum()
	logger := c.logger.With("reconcile_id", p.reconcileID, "checksum", shortChecksum(checksum))

	switch d.Action {
	case SkipNoop:
		logger.Debug("configuration unchanged, skipping reload")
		c.eventBus.Publish(events.NewReloadSkippedEvent(checksum))
		c.setApplied(p.cfg, nil)

	case DynamicUpdate:
		if err := c.applyDynamic(ctx, checksum, d); err != nil {
			logger.Error("dynamic update failed", "error", err)
			c.eventBus.Publish(events.NewReloadFailedEvent(checksum, phaseOf(err), err, 0))
			c.setErr(err)
			return
		}
		logger.Info("configuration updated without reload", "reasons", d.Reasons)
		c.setApplied(p.cfg, nil)

	case FullReload:
		logger.Info("reloading nginx", "reasons", d.Reasons)
		c.eventBus.Publish(events.NewReloadStartedEvent(checksum, d.Reasons))

		start := time.Now()
		err := c.manager.Apply(ctx, toDataplane(p.cfg))
		durationMs := time.Since(start).Milliseconds()
		if err != nil {
			logger.Error("reload failed, previous configuration stays active",
				"error", err,
				"duration_ms", durationMs)
			c.eventBus.Publish(events.NewReloadFailedEvent(checksum, phaseOf(err), err, durationMs))
			c.setErr(err)
			return
		}
		logger.Info("nginx reloaded", "duration_ms", durationMs)
		c.eventBus.Publish(events.NewReloadCompletedEvent(checksum, durationMs))

		var werr error
		if len(d.Weights) > 0 {
			werr = c.applyWeights(ctx, checksum, d.Weights)
			if werr != nil {
				logger.Error("failed to store split weights after reload", "error", werr)
				c.eventBus.Publish(events.NewReloadFailedEvent(checksum, phaseOf(werr), werr, 0))
			}
		}
		c.setApplied(p.cfg, werr)
	}
}

func (c *Component) applyDynamic(ctx context.Context, checksum string, d Decision) error {
	if len(d.Certificates) > 0 {
		files := make([]dataplane.File, 0, len(d.Certificates))
		for _, cert := range d.Certificates {
			files = append(files, dataplane.File{Name: cert.Name, Content: cert.Content})
		}
		if err := c.manager.UpdateCertificates(ctx, files); err != nil {
			return err
		}
		c.eventBus.Publish(events.NewDynamicUpdateAppliedEvent("certificates", len(files), checksum))
	}
	if len(d.Weights) > 0 {
		return c.applyWeights(ctx, checksum, d.Weights)
	}
	return nil
}

func (c *Component) applyWeights(ctx context.Context, checksum string, weights []renderer.SplitWeights) error {
	kvs := make([]dataplane.KeyVal, 0, len(weights))
	for _, w := range weights {
		kvs = append(kvs, dataplane.KeyVal{Zone: w.Zone, Key: w.Key, Value: w.Value})
	}
	if err := c.manager.UpdateWeights(ctx, kvs); err != nil {
		return err
	}
	c.eventBus.Publish(events.NewDynamicUpdateAppliedEvent("weights", len(kvs), checksum))
	return nil
}

// setApplied records cfg as running. When storing the split weights failed
// they are recorded as stale so the next pass pushes them again.
func (c *Component) setApplied(cfg *renderer.Config, weightsErr error) {
	if weightsErr != nil {
		cfg = cfg.StaleWeights()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applied = cfg
	c.lastErr = weightsErr
}

func (c *Component) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
}

// LastError returns the error of the last apply, nil after a success.
func (c *Component) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Superseded returns how many rendered configurations were replaced before
// they were applied.
func (c *Component) Superseded() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.superseded
}

func toDataplane(cfg *renderer.Config) *dataplane.Config {
	out := &dataplane.Config{
		Main:         cfg.Main,
		Files:        make([]dataplane.File, 0, len(cfg.Files)),
		Certificates: make([]dataplane.File, 0, len(cfg.Certificates)),
	}
	for _, f := range cfg.Files {
		out.Files = append(out.Files, dataplane.File{Name: f.Name, Content: f.Content})
	}
	for _, cert := range cfg.Certificates {
		out.Certificates = append(out.Certificates, dataplane.File{Name: cert.Name, Content: cert.Content})
	}
	return out
}

func phaseOf(err error) string {
	var reloadErr *dataplane.ReloadError
	if errors.As(err, &reloadErr) {
		return string(reloadErr.Phase)
	}
	return "unknown"
}

func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
