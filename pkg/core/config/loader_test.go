package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nginx-reconciler/pkg/templating"
)

func TestParseConfig_Success(t *testing.T) {
	yamlConfig := `
controller:
  healthz_port: 8082
  metrics_port: 9091
  ingress_class: internal
  global_configuration: nginx-ingress/global

logging:
  verbose: 2

features:
  enable_tls_passthrough: true
  enable_dynamic_ssl_reload: true

watch:
  namespace_label: "team=web"

timing:
  batch_interval: 500ms
  batch_max_wait: 2s

nginx:
  plus: true
  start_nginx: true

templates:
  nginx.conf: "events {}"

post_processors:
  - type: collapse_blank_lines
`

	cfg, err := parseConfig(yamlConfig)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8082, cfg.Controller.HealthzPort)
	assert.Equal(t, "internal", cfg.Controller.IngressClass)
	assert.Equal(t, "nginx-ingress/global", cfg.Controller.GlobalConfiguration)
	assert.Equal(t, 2, cfg.Logging.Verbose)
	assert.True(t, cfg.Features.EnableTLSPassthrough)
	assert.True(t, cfg.Features.EnableDynamicSSLReload)
	assert.Equal(t, "team=web", cfg.Watch.NamespaceLabel)
	assert.Equal(t, "500ms", cfg.Timing.BatchInterval)
	assert.True(t, cfg.Nginx.Plus)
	assert.True(t, cfg.Nginx.StartNginx)
	assert.Equal(t, "events {}", cfg.Templates["nginx.conf"])
	require.Len(t, cfg.PostProcessors, 1)
	assert.Equal(t, templating.PostProcessorTypeCollapseBlankLines, cfg.PostProcessors[0].Type)
}

func TestParseConfig_EmptyString(t *testing.T) {
	cfg, err := parseConfig("")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "config YAML is empty")
}

func TestParseConfig_OnlyComments(t *testing.T) {
	cfg, err := parseConfig("# nothing here\n")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "config YAML is empty")
}

func TestParseConfig_InvalidYAML(t *testing.T) {
	yamlConfig := `
controller:
  healthz_port: 8082
  invalid_indentation
`

	cfg, err := parseConfig(yamlConfig)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to unmarshal YAML")
}

func TestParseConfig_UnknownField(t *testing.T) {
	yamlConfig := `
features:
  enable_snipets: true
`

	cfg, err := parseConfig(yamlConfig)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "enable_snipets")
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig("logging:\n  verbose: 0\n")
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Logging.Verbose)
	assert.Equal(t, DefaultHealthzPort, cfg.Controller.HealthzPort)
	assert.Equal(t, DefaultIngressClass, cfg.Controller.IngressClass)
	assert.True(t, cfg.Controller.LeaderElection.IsEnabled())
	assert.True(t, cfg.Features.CustomResources())
	assert.Equal(t, DefaultTLSPassthroughPort, cfg.Features.TLSPassthroughPort)
	assert.Equal(t, DefaultNginxConfDir, cfg.Nginx.ConfDir)
	assert.NoError(t, ValidateStructure(cfg))
}

func TestLoadConfig_ExplicitFalse(t *testing.T) {
	cfg, err := LoadConfig(`
controller:
  leader_election:
    enabled: false
features:
  enable_custom_resources: false
`)
	require.NoError(t, err)

	assert.False(t, cfg.Controller.LeaderElection.IsEnabled())
	assert.False(t, cfg.Features.CustomResources())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "valid.yaml")
	require.NoError(t, os.WriteFile(valid, []byte("controller:\n  ingress_class: edge\n"), 0o600))

	cfg, err := LoadFile(valid)
	require.NoError(t, err)
	assert.Equal(t, "edge", cfg.Controller.IngressClass)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("logging:\n  verbose: 7\n"), 0o600))

	_, err = LoadFile(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid.yaml")
	assert.Contains(t, err.Error(), "verbose")

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
