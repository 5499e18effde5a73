package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func write(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "marketd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(write(t, "genesis: market.toml\n"))
	require.NoError(t, err)
	require.Equal(t, ":8470", cfg.ListenAddress)
	require.Equal(t, 20.0, cfg.RateLimit.PerSecond)
	require.Equal(t, 40, cfg.RateLimit.Burst)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(write(t, `
listen: "127.0.0.1:9000"
env: prod
genesis: market.toml
data_dir: /var/lib/marketd
auth:
  admin_secret: sekrit
rate_limit:
  per_second: 5
  burst: 10
log:
  file: /var/log/marketd.log
`))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
	require.Equal(t, "prod", cfg.Environment)
	require.Equal(t, "sekrit", cfg.Auth.AdminSecret)
	require.Equal(t, 5.0, cfg.RateLimit.PerSecond)
	require.Equal(t, "/var/log/marketd.log", cfg.Log.File)
}

func TestLoadRequiresGenesis(t *testing.T) {
	_, err := Load(write(t, "listen: ':1234'\n"))
	require.Error(t, err)
}

func TestLoadRequiresPath(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
}
