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
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"nginx-reconciler/pkg/retry"
)

const (
	DefaultStatusURL       = "http://127.0.0.1:8080"
	DefaultReloadTimeout   = 60 * time.Second
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultBreakerFailures = 5
	DefaultBreakerTimeout  = 30 * time.Second
)

// Options configure an NginxManager.
type Options struct {
	// Binary is the nginx executable. Defaults to "nginx".
	Binary string
	Paths  Paths

	// StatusURL is the base URL of the status server of the rendered
	// configuration, which serves /config-version.
	StatusURL string

	// PlusAPIURL is the base URL of the NGINX Plus API. Defaults to
	// StatusURL + "/api".
	PlusAPIURL     string
	PlusAPIVersion int

	// ReloadTimeout bounds the wait for the workers to serve a new
	// configuration version.
	ReloadTimeout time.Duration
	PollInterval  time.Duration

	// StartIfStopped starts the master process when no PID file exists
	// instead of signalling it.
	StartIfStopped bool

	// BreakerFailures consecutive failures suspend reloads for
	// BreakerTimeout. Configurations rejected by "nginx -t" do not count.
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	Runner     CommandRunner
	HTTPClient *http.Client
}

func (o Options) withDefaults() Options {
	o.Paths = o.Paths.withDefaults()
	if o.Binary == "" {
		o.Binary = "nginx"
	}
	if o.StatusURL == "" {
		o.StatusURL = DefaultStatusURL
	}
	o.StatusURL = strings.TrimSuffix(o.StatusURL, "/")
	if o.PlusAPIURL == "" {
		o.PlusAPIURL = o.StatusURL + "/api"
	}
	if o.PlusAPIVersion == 0 {
		o.PlusAPIVersion = DefaultPlusAPIVersion
	}
	if o.ReloadTimeout == 0 {
		o.ReloadTimeout = DefaultReloadTimeout
	}
	if o.PollInterval == 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = DefaultBreakerFailures
	}
	if o.BreakerTimeout == 0 {
		o.BreakerTimeout = DefaultBreakerTimeout
	}
	if o.Runner == nil {
		o.Runner = ExecRunner
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	return o
}

// NginxManager manages the configuration files of a local NGINX and its
// master process.
type NginxManager struct {
	opts    Options
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker
	keyvals *keyValClient

	mu      sync.Mutex
	version int64
	// written are the files in the secrets directory created by the
	// manager. Files missing from the next configuration are removed.
	written map[string]struct{}
}

var _ Manager = (*NginxManager)(nil)

// NewNginxManager creates an NginxManager.
func NewNginxManager(opts Options, logger *slog.Logger) *NginxManager {
	opts = opts.withDefaults()
	m := &NginxManager{
		opts:    opts,
		logger:  logger.With("component", "nginx-manager"),
		written: make(map[string]struct{}),
		keyvals: &keyValClient{
			baseURL: strings.TrimSuffix(opts.PlusAPIURL, "/"),
			version: opts.PlusAPIVersion,
			client:  opts.HTTPClient,
		},
	}
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "nginx-reload",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			var reloadErr *ReloadError
			if errors.As(err, &reloadErr) && reloadErr.Phase == PhaseTest {
				return true
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.logger.Warn("reload circuit breaker state changed",
				"from", from.String(),
				"to", to.String())
		},
	})
	return m
}

// Version returns the configuration version NGINX currently serves.
func (m *NginxManager) Version() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

// BreakerState returns the state of the reload circuit breaker.
func (m *NginxManager) BreakerState() string {
	return m.breaker.State().String()
}

// Apply writes cfg, validates it with "nginx -t", reloads NGINX and waits
// until the workers serve it. On failure the previous files are restored.
func (m *NginxManager) Apply(ctx context.Context, cfg *Config) error {
	return m.execute(func() error { return m.apply(ctx, cfg) })
}

// UpdateCertificates atomically replaces certificate files. NGINX reads them
// on the next handshake.
func (m *NginxManager) UpdateCertificates(ctx context.Context, certs []File) error {
	return m.execute(func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		files := make([]stagedFile, 0, len(certs))
		for _, c := range certs {
			files = append(files, stagedFile{path: m.opts.Paths.Secret(c.Name), content: c.Content, perm: 0o600})
		}
		if err := writeFiles(files); err != nil {
			return newReloadError(PhaseDynamic, "failed to update certificates", err)
		}
		for _, f := range files {
			m.written[f.path] = struct{}{}
		}
		m.logger.Info("certificates updated without reload", "count", len(certs))
		return nil
	})
}

// UpdateWeights stores split weights through the NGINX Plus API.
func (m *NginxManager) UpdateWeights(ctx context.Context, weights []KeyVal) error {
	return m.execute(func() error {
		for _, kv := range weights {
			if err := m.keyvals.set(ctx, kv); err != nil {
				return newReloadError(PhaseDynamic, "failed to update split weights", err)
			}
		}
		m.logger.Info("split weights updated without reload", "count", len(weights))
		return nil
	})
}

func (m *NginxManager) execute(fn func() error) error {
	_, err := m.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return newReloadError(PhaseReload, "reloads suspended after repeated failures", err)
	}
	return err
}

func (m *NginxManager) apply(ctx context.Context, cfg *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	version := m.version + 1
	files, secrets := m.stage(cfg, version)

	saved, err := snapshot(files)
	if err != nil {
		return newReloadError(PhaseWrite, "failed to back up configuration", err)
	}

	if err := writeFiles(files); err != nil {
		return m.rollback(saved, newReloadError(PhaseWrite, "failed to write configuration", err))
	}

	main := m.opts.Paths.MainConfig()
	if out, err := m.opts.Runner(ctx, m.opts.Binary, "-t", "-c", main); err != nil {
		reloadErr := newReloadError(PhaseTest, "configuration test failed", err)
		reloadErr.Output = parseNginxError(string(out))
		return m.rollback(saved, reloadErr)
	}

	if err := m.signal(ctx, main); err != nil {
		return m.rollback(saved, err)
	}

	if err := m.waitForVersion(ctx, version); err != nil {
		return m.rollback(saved, newReloadError(PhaseReload, fmt.Sprintf("nginx did not serve version %d", version), err))
	}

	var stale []string
	for path := range m.written {
		if _, ok := secrets[path]; !ok {
			stale = append(stale, path)
		}
	}
	if err := removeFiles(stale); err != nil {
		m.logger.Warn("failed to remove stale files", "error", err)
	}

	m.version = version
	m.written = secrets
	m.logger.Info("nginx reloaded", "version", version, "files", len(files), "removed", len(stale))
	return nil
}

// stage returns the files making up cfg at version and the set of paths in
// the secrets directory among them.
func (m *NginxManager) stage(cfg *Config, version int64) ([]stagedFile, map[string]struct{}) {
	p := m.opts.Paths
	files := []stagedFile{
		{path: p.MainConfig(), content: []byte(cfg.Main), perm: 0o644},
		{path: p.versionFile(), content: []byte(versionFileContent(version)), perm: 0o644},
	}
	secrets := make(map[string]struct{}, len(cfg.Files)+len(cfg.Certificates))
	for _, f := range cfg.Files {
		files = append(files, stagedFile{path: p.Secret(f.Name), content: f.Content, perm: 0o644})
		secrets[p.Secret(f.Name)] = struct{}{}
	}
	for _, c := range cfg.Certificates {
		files = append(files, stagedFile{path: p.Secret(c.Name), content: c.Content, perm: 0o600})
		secrets[p.Secret(c.Name)] = struct{}{}
	}
	return files, secrets
}

func (m *NginxManager) rollback(saved backup, cause *ReloadError) error {
	if err := saved.restore(); err != nil {
		m.logger.Error("failed to restore previous configuration", "error", err)
		cause.Message += " (restoring the previous files also failed)"
	}
	return cause
}

// signal reloads the master process, or starts it when allowed and no PID
// file exists.
func (m *NginxManager) signal(ctx context.Context, main string) *ReloadError {
	args := []string{"-s", "reload", "-c", main}
	if m.opts.StartIfStopped {
		if _, err := os.Stat(m.opts.Paths.PIDFile); errors.Is(err, fs.ErrNotExist) {
			m.logger.Info("starting nginx", "pid_file", m.opts.Paths.PIDFile)
			args = []string{"-c", main}
		}
	}
	if out, err := m.opts.Runner(ctx, m.opts.Binary, args...); err != nil {
		reloadErr := newReloadError(PhaseReload, "failed to signal nginx", err)
		reloadErr.Output = parseNginxError(string(out))
		return reloadErr
	}
	return nil
}

// waitForVersion polls /config-version until it reports version.
func (m *NginxManager) waitForVersion(ctx context.Context, version int64) error {
	endpoint := m.opts.StatusURL + "/config-version"
	want := strconv.FormatInt(version, 10)

	_, err := retry.Poll(ctx, m.opts.PollInterval, m.opts.ReloadTimeout, func(ctx context.Context) (retry.Result, error) {
		got, err := m.fetch(ctx, endpoint)
		if err != nil {
			return retry.NotYetReady, err
		}
		if got != want {
			return retry.NotYetReady, fmt.Errorf("serving version %s", got)
		}
		return retry.Ready, nil
	})
	return err
}

func (m *NginxManager) fetch(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return "", err
	}
	resp, err := m.opts.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return strings.TrimSpace(string(body)), nil
}

func versionFileContent(version int64) string {
	return fmt.Sprintf("map $host $config_version {\n    default %d;\n}\n", version)
}
