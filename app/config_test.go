package huddle

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	def, err := (&DefaultConfigLoader{}).Load()
	require.NoError(t, err)
	require.NoError(t, def.Validate())

	config.valid, def.valid = false, false
	assert.Equal(t, def, config)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
port: 9000
mode: prod
ws:
  default_room: general
  pong_wait: 30s
history:
  room_capacity: 10
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))

	t.Setenv("HUDDLE_PORT", "9100")
	t.Setenv("HUDDLE_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("HUDDLE_WS_WRITE_WAIT", "2s")

	config, err := LoadConfig(dir)
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, 9100, config.Port, "environment overrides the file")
	assert.Equal(t, ProdMode, config.Mode)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, config.AllowedOrigins)
	assert.Equal(t, "general", config.WS.DefaultRoom)
	assert.Equal(t, 30*time.Second, config.WS.PongWait)
	assert.Equal(t, 2*time.Second, config.WS.WriteWait)
	assert.Equal(t, 10, config.History.RoomCapacity)
	assert.Equal(t, 100, config.History.DMCapacity)
}

func TestEnvConfigLoaderReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("HUDDLE_HOSTNAME=127.0.0.1\n"), 0o600))
	// godotenv writes to the process environment; restore it afterwards
	t.Setenv("HUDDLE_HOSTNAME", "")
	os.Unsetenv("HUDDLE_HOSTNAME")

	config, err := (&EnvConfigLoader{Files: []string{envFile, filepath.Join(dir, "missing.env")}, Paths: []string{dir}}).Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", config.Hostname)
}

func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(c *Config)
		msg    string
	}{
		{name: "port", modify: func(c *Config) { c.Port = 70000 }, msg: "port must be a valid port number"},
		{name: "mode", modify: func(c *Config) { c.Mode = "staging" }, msg: "mode must be one of [dev prod]"},
		{name: "room", modify: func(c *Config) { c.WS.DefaultRoom = "a/b" }, msg: "ws.defaultroom must be a valid room name"},
		{name: "capacity", modify: func(c *Config) { c.History.DMCapacity = 0 }, msg: "history.dmcapacity must be at least 1"},
		{name: "tls pair", modify: func(c *Config) { c.TLS.Crt = "server.crt" }, msg: "tls.key is required when crt is set"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := (&DefaultConfigLoader{}).Load()
			require.NoError(t, err)
			tc.modify(c)
			err = c.Validate()
			require.Error(t, err)
			assert.Contains(t, FormatValidationErrors(err), tc.msg)
		})
	}
}
