package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/and161185/fbrt/internal/model"
)

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse(args))
	return Load(viper.New(), fs)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t)
	require.NoError(t, err)
	require.Equal(t, "default", cfg.Account)
	require.Equal(t, FormatText, cfg.Format)
	require.Equal(t, model.DefaultOptions(), cfg.Options())
	require.Error(t, cfg.RequireSource())
	require.Error(t, cfg.RequireStore())
}

func TestLoad_Flags(t *testing.T) {
	cfg, err := load(t, "--format=json", "--appstate=state.json", "--self-listen", "--auto-mark-read=false", "--handshake-timeout=5s")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, cfg.Format)
	require.NoError(t, cfg.RequireSource())

	o := cfg.Options()
	require.True(t, o.SelfListen)
	require.False(t, o.AutoMarkRead)
	require.Equal(t, 5*time.Second, o.HandshakeTimeout)
}

func TestLoad_EnvAndFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "fbrt.toml")
	require.NoError(t, os.WriteFile(file, []byte(`
format = "yaml"
dsn = "postgres://file"
proxy = "http://proxy:3128"
update-presence = true
`), 0o600))
	t.Setenv("FBRT_DSN", "postgres://env")
	t.Setenv("FBRT_BYPASS_REGION", "prn")

	cfg, err := load(t, "--config", file, "--proxy", "http://flag:8080")
	require.NoError(t, err)
	require.Equal(t, FormatYAML, cfg.Format)
	require.Equal(t, "postgres://env", cfg.DSN)
	require.Equal(t, "prn", cfg.BypassRegion)
	require.Equal(t, "http://flag:8080", cfg.Proxy)
	require.True(t, cfg.UpdatePresence)
	require.NoError(t, cfg.RequireStore())
}

func TestLoad_Invalid(t *testing.T) {
	_, err := load(t, "--format=xml")
	require.ErrorContains(t, err, "unknown format")

	_, err = load(t, "--config", filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorContains(t, err, "read config file")

	_, err = load(t, "--handshake-timeout=-1s")
	require.Error(t, err)
}
