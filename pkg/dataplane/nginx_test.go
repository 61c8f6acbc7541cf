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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var versionPattern = regexp.MustCompile(`default (\d+);`)

// fakeNginx stands in for the nginx binary and its status server.
type fakeNginx struct {
	t     *testing.T
	paths Paths

	mu        sync.Mutex
	served    string
	calls     [][]string
	testErr   string
	reloadErr bool
	// ignoreReload keeps serving the old version after a reload signal.
	ignoreReload bool

	server *httptest.Server
}

func newFakeNginx(t *testing.T) *fakeNginx {
	t.Helper()
	dir := t.TempDir()
	f := &fakeNginx{
		t: t,
		paths: Paths{
			ConfDir:    filepath.Join(dir, "conf"),
			SecretsDir: filepath.Join(dir, "secrets"),
			PIDFile:    filepath.Join(dir, "nginx.pid"),
		},
		served: "0",
	}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/config-version" {
			http.NotFound(w, r)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		fmt.Fprint(w, f.served)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeNginx) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{name}, args...))

	switch {
	case len(args) > 0 && args[0] == "-t":
		if f.testErr != "" {
			return []byte(f.testErr), errors.New("exit status 1")
		}
		return []byte("nginx: configuration file test is successful"), nil
	case f.reloadErr:
		return []byte("nginx: [error] invalid PID number"), errors.New("exit status 1")
	case f.ignoreReload:
		return nil, nil
	}

	content, err := os.ReadFile(f.paths.versionFile())
	require.NoError(f.t, err)
	m := versionPattern.FindSubmatch(content)
	require.NotNil(f.t, m)
	f.served = string(m[1])
	return nil, nil
}

func (f *fakeNginx) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, strings.Join(c, " "))
	}
	return out
}

func (f *fakeNginx) manager(opts Options) *NginxManager {
	opts.Paths = f.paths
	opts.StatusURL = f.server.URL
	opts.Runner = f.run
	if opts.ReloadTimeout == 0 {
		opts.ReloadTimeout = 300 * time.Millisecond
	}
	opts.PollInterval = 10 * time.Millisecond
	return NewNginxManager(opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(content)
}

func testConfig(main string) *Config {
	return &Config{
		Main: main,
		Files: []File{
			{Name: "default-htpasswd", Content: []byte("user:hash\n")},
		},
		Certificates: []File{
			{Name: "default_cafe-secret.pem", Content: []byte("cert-v1")},
		},
	}
}

func TestNginxManager_Apply(t *testing.T) {
	f := newFakeNginx(t)
	m := f.manager(Options{})

	require.NoError(t, m.Apply(context.Background(), testConfig("events {}\n")))

	assert.Equal(t, int64(1), m.Version())
	assert.Equal(t, "events {}\n", readFile(t, f.paths.MainConfig()))
	assert.Contains(t, readFile(t, f.paths.versionFile()), "default 1;")
	assert.Equal(t, "cert-v1", readFile(t, f.paths.Secret("default_cafe-secret.pem")))

	info, err := os.Stat(f.paths.Secret("default_cafe-secret.pem"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	main := f.paths.MainConfig()
	assert.Equal(t, []string{
		"nginx -t -c " + main,
		"nginx -s reload -c " + main,
	}, f.commands())

	require.NoError(t, m.Apply(context.Background(), testConfig("events { worker_connections 512; }\n")))
	assert.Equal(t, int64(2), m.Version())
	assert.Contains(t, readFile(t, f.paths.versionFile()), "default 2;")
}

func TestNginxManager_Apply_TestFailureRestoresFiles(t *testing.T) {
	f := newFakeNginx(t)
	m := f.manager(Options{})
	require.NoError(t, m.Apply(context.Background(), testConfig("events {}\n")))

	f.testErr = "nginx: [emerg] unknown directive \"proxy_pas\" in nginx.conf:3\n" +
		"nginx: configuration file nginx.conf test failed\n"

	cfg := testConfig("events {}\nproxy_pas x;\n")
	cfg.Certificates[0].Content = []byte("cert-v2")
	cfg.Files = append(cfg.Files, File{Name: "default-jwk", Content: []byte("{}")})

	err := m.Apply(context.Background(), cfg)
	require.Error(t, err)

	var reloadErr *ReloadError
	require.ErrorAs(t, err, &reloadErr)
	assert.Equal(t, PhaseTest, reloadErr.Phase)
	assert.Equal(t, []string{`[emerg] unknown directive "proxy_pas" in nginx.conf:3`}, reloadErr.Output)

	assert.Equal(t, int64(1), m.Version())
	assert.Equal(t, "events {}\n", readFile(t, f.paths.MainConfig()))
	assert.Contains(t, readFile(t, f.paths.versionFile()), "default 1;")
	assert.Equal(t, "cert-v1", readFile(t, f.paths.Secret("default_cafe-secret.pem")))
	assert.NoFileExists(t, f.paths.Secret("default-jwk"))

	// Only the initial reload was signalled.
	reloads := 0
	for _, c := range f.commands() {
		if strings.Contains(c, "-s reload") {
			reloads++
		}
	}
	assert.Equal(t, 1, reloads)
}

func TestNginxManager_Apply_VersionTimeoutRestoresFiles(t *testing.T) {
	f := newFakeNginx(t)
	m := f.manager(Options{ReloadTimeout: 100 * time.Millisecond})
	require.NoError(t, m.Apply(context.Background(), testConfig("events {}\n")))

	f.ignoreReload = true
	err := m.Apply(context.Background(), testConfig("events { }\n"))

	var reloadErr *ReloadError
	require.ErrorAs(t, err, &reloadErr)
	assert.Equal(t, PhaseReload, reloadErr.Phase)
	assert.Contains(t, err.Error(), "did not serve version 2")
	assert.Equal(t, int64(1), m.Version())
	assert.Equal(t, "events {}\n", readFile(t, f.paths.MainConfig()))
}

func TestNginxManager_Apply_RemovesStaleFiles(t *testing.T) {
	f := newFakeNginx(t)
	m := f.manager(Options{})
	require.NoError(t, m.Apply(context.Background(), testConfig("events {}\n")))
	require.FileExists(t, f.paths.Secret("default-htpasswd"))

	cfg := testConfig("events {}\n")
	cfg.Files = nil
	require.NoError(t, m.Apply(context.Background(), cfg))

	assert.NoFileExists(t, f.paths.Secret("default-htpasswd"))
	assert.FileExists(t, f.paths.Secret("default_cafe-secret.pem"))
}

func TestNginxManager_Apply_StartsStoppedNginx(t *testing.T) {
	f := newFakeNginx(t)
	m := f.manager(Options{StartIfStopped: true})

	require.NoError(t, m.Apply(context.Background(), testConfig("events {}\n")))
	assert.Equal(t, "nginx -c "+f.paths.MainConfig(), f.commands()[1])

	require.NoError(t, os.WriteFile(f.paths.PIDFile, []byte("1\n"), 0o644))
	require.NoError(t, m.Apply(context.Background(), testConfig("events {}\n")))
	assert.Equal(t, "nginx -s reload -c "+f.paths.MainConfig(), f.commands()[3])
}

func TestNginxManager_Breaker(t *testing.T) {
	t.Run("opens after consecutive reload failures", func(t *testing.T) {
		f := newFakeNginx(t)
		m := f.manager(Options{BreakerFailures: 2, BreakerTimeout: time.Hour})
		f.reloadErr = true

		for i := 0; i < 2; i++ {
			err := m.Apply(context.Background(), testConfig("events {}\n"))
			var reloadErr *ReloadError
			require.ErrorAs(t, err, &reloadErr)
			assert.Equal(t, PhaseReload, reloadErr.Phase)
		}
		assert.Equal(t, "open", m.BreakerState())

		calls := len(f.commands())
		err := m.Apply(context.Background(), testConfig("events {}\n"))
		require.ErrorIs(t, err, gobreaker.ErrOpenState)
		assert.Len(t, f.commands(), calls, "nginx must not be invoked while the breaker is open")
	})

	t.Run("rejected configurations do not count", func(t *testing.T) {
		f := newFakeNginx(t)
		m := f.manager(Options{BreakerFailures: 2, BreakerTimeout: time.Hour})
		f.testErr = "nginx: [emerg] bad"

		for i := 0; i < 4; i++ {
			require.Error(t, m.Apply(context.Background(), testConfig("events {}\n")))
		}
		assert.Equal(t, "closed", m.BreakerState())
	})
}

func TestNginxManager_UpdateCertificates(t *testing.T) {
	f := newFakeNginx(t)
	m := f.manager(Options{})
	require.NoError(t, m.Apply(context.Background(), testConfig("events {}\n")))
	calls := len(f.commands())

	err := m.UpdateCertificates(context.Background(), []File{
		{Name: "default_cafe-secret.pem", Content: []byte("cert-v2")},
	})
	require.NoError(t, err)

	assert.Equal(t, "cert-v2", readFile(t, f.paths.Secret("default_cafe-secret.pem")))
	assert.Len(t, f.commands(), calls, "certificate updates must not reload nginx")
	assert.Equal(t, int64(1), m.Version())
}

func TestNginxManager_UpdateWeights(t *testing.T) {
	type request struct {
		Method string
		Path   string
		Body   map[string]string
	}
	var (
		mu       sync.Mutex
		requests []request
		stored   = map[string]bool{}
	)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)

		mu.Lock()
		defer mu.Unlock()
		requests = append(requests, request{Method: r.Method, Path: r.URL.Path, Body: body})

		switch r.Method {
		case http.MethodPatch:
			if !stored[r.URL.Path] {
				http.Error(w, `{"error":{"status":404,"code":"KeyvalKeyNotFound"}}`, http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case http.MethodPost:
			stored[r.URL.Path] = true
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer api.Close()

	f := newFakeNginx(t)
	m := f.manager(Options{PlusAPIURL: api.URL + "/api"})

	kv := KeyVal{Zone: "vs_default_cafe_keyval_zone_split_clients_0", Key: "vs_default_cafe_keyval_key_split_clients_0", Value: "vs_default_cafe_splits_0_20_80"}
	require.NoError(t, m.UpdateWeights(context.Background(), []KeyVal{kv}))
	require.NoError(t, m.UpdateWeights(context.Background(), []KeyVal{kv}))

	path := "/api/9/http/keyvals/vs_default_cafe_keyval_zone_split_clients_0"
	body := map[string]string{kv.Key: kv.Value}
	assert.Equal(t, []request{
		{Method: http.MethodPatch, Path: path, Body: body},
		{Method: http.MethodPost, Path: path, Body: body},
		{Method: http.MethodPatch, Path: path, Body: body},
	}, requests)
	assert.Empty(t, f.commands())
}

func TestNginxManager_UpdateWeights_Error(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "keyval zone not found", http.StatusNotFound)
	}))
	defer api.Close()

	f := newFakeNginx(t)
	m := f.manager(Options{PlusAPIURL: api.URL})

	err := m.UpdateWeights(context.Background(), []KeyVal{{Zone: "z", Key: "k", Value: "v"}})
	var reloadErr *ReloadError
	require.ErrorAs(t, err, &reloadErr)
	assert.Equal(t, PhaseDynamic, reloadErr.Phase)
	assert.Contains(t, err.Error(), "unexpected status 404")
}

func TestParseNginxError(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   []string
	}{
		{
			name:   "emerg line",
			output: "nginx: [emerg] host not found in upstream \"x\" in /etc/nginx/nginx.conf:12\nnginx: configuration file /etc/nginx/nginx.conf test failed\n",
			want:   []string{`[emerg] host not found in upstream "x" in /etc/nginx/nginx.conf:12`},
		},
		{
			name:   "unleveled output",
			output: "  exec: \"nginx\": executable file not found in $PATH  ",
			want:   []string{`exec: "nginx": executable file not found in $PATH`},
		},
		{
			name:   "empty",
			output: "",
			want:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseNginxError(tt.output))
		})
	}
}
