package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	path := writeConfigFile(t, `
logs:
  level: debug
server:
  listen_address: 0.0.0.0
  port: 8085
  protocol: http
storage:
  hostname: localhost
  port: 5432
  username: broker
  password: broker
  database: trustbroker
event_bus:
  enabled: true
  provider: amqp
  amqp:
    hostname: rabbit
    port: 5672
key_provider:
  url: https://keyops.internal
  timeout_seconds: 5
ca_client:
  url: https://ca.internal
sweep:
  enabled: true
  frequency: "* * * * *"
`)
	t.Setenv(configFileEnvVar, path)

	conf, err := LoadConfig[BrokerConfig](nil)
	require.NoError(t, err)

	assert.Equal(t, Debug, conf.Logs.Level)
	assert.Equal(t, 8085, conf.Server.Port)
	assert.Equal(t, HTTP, conf.Server.Protocol)
	assert.Equal(t, "trustbroker", conf.Storage.Database)
	assert.True(t, conf.EventBus.Enabled)
	assert.Equal(t, AMQP, conf.EventBus.Provider)
	assert.Equal(t, "rabbit", conf.EventBus.Amqp.Hostname)
	assert.Equal(t, "https://keyops.internal", conf.KeyProvider.URL)
	assert.Equal(t, 5, conf.KeyProvider.TimeoutSeconds)
	assert.True(t, conf.Sweep.Enabled)
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9000
`)
	t.Setenv(configFileEnvVar, path)

	defaults := &BrokerConfig{}
	defaults.Logs.Level = Info
	defaults.Server = HttpServer{
		ListenAddress: "0.0.0.0",
		Port:          8085,
		Protocol:      HTTP,
	}

	conf, err := LoadConfig[BrokerConfig](defaults)
	require.NoError(t, err)

	// File values win over defaults; missing keys fall back.
	assert.Equal(t, 9000, conf.Server.Port)
	assert.Equal(t, "0.0.0.0", conf.Server.ListenAddress)
	assert.Equal(t, Info, conf.Logs.Level)
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv(configFileEnvVar, filepath.Join(t.TempDir(), "nope.yml"))

	_, err := LoadConfig[BrokerConfig](nil)
	assert.Error(t, err)
}

func TestDecodeEncodeStructRoundtrip(t *testing.T) {
	source := KeyProvider{URL: "https://keyops.internal", TimeoutSeconds: 7}

	encoded, err := EncodeStruct(source)
	require.NoError(t, err)
	assert.Equal(t, "https://keyops.internal", encoded["url"])

	decoded, err := DecodeStruct[KeyProvider](encoded)
	require.NoError(t, err)
	assert.Equal(t, source, decoded)
}
