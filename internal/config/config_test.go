package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json5")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Agent.MaxTurns)
	assert.Equal(t, 20, cfg.Agent.BatchMaxTurns)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 60*time.Second, cfg.Remote.Timeout())
	assert.True(t, cfg.Agent.Scrub())
}

func TestLoad_JSON5(t *testing.T) {
	path := writeConfig(t, `{
		// comments and trailing commas are fine
		agent: { maxTurns: 12, batchMaxTurns: 8, scrubCredentials: false, },
		browser: { headless: false, chromeArgs: "--lang=en-US --proxy-server='http://proxy:3128'" },
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Agent.MaxTurns)
	assert.Equal(t, 8, cfg.Agent.BatchMaxTurns)
	assert.False(t, cfg.Agent.Scrub())
	assert.False(t, cfg.Browser.Headless)
	// untouched fields keep defaults
	assert.Equal(t, 9300, cfg.Browser.BasePort)

	args, err := cfg.Browser.ExtraArgs()
	require.NoError(t, err)
	assert.Equal(t, []string{"--lang=en-US", "--proxy-server=http://proxy:3128"}, args)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("WEBPILOT_MODEL", "claude-test")
	t.Setenv("WEBPILOT_HEADLESS", "false")
	t.Setenv("WEBPILOT_REMOTE_ADDR", "0.0.0.0:9999")

	cfg, err := Load(writeConfig(t, `{provider: {model: "from-file"}}`))
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", cfg.Provider.APIKey)
	assert.Equal(t, "claude-test", cfg.Provider.Model)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, "0.0.0.0:9999", cfg.Remote.Addr)
}

func TestLoad_BadHeadlessEnv(t *testing.T) {
	t.Setenv("WEBPILOT_HEADLESS", "maybe")
	_, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	assert.ErrorContains(t, err, "WEBPILOT_HEADLESS")
}

func TestValidate_TurnBudgets(t *testing.T) {
	_, err := Load(writeConfig(t, `{agent: {maxTurns: 0, batchMaxTurns: -1}}`))
	require.Error(t, err)
	assert.ErrorContains(t, err, "agent.maxTurns must be positive")
	assert.ErrorContains(t, err, "agent.batchMaxTurns must be positive")
}

func TestValidate_Other(t *testing.T) {
	cfg := Default()
	cfg.Remote.Path = "ws"
	cfg.Telemetry.OTLPProtocol = "udp"
	cfg.Browser.ChromeArgs = `--flag="unterminated`
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "remote.path")
	assert.ErrorContains(t, err, "otlpProtocol")
	assert.ErrorContains(t, err, "chromeArgs")
}

func TestLoad_ParseError(t *testing.T) {
	_, err := Load(writeConfig(t, `{agent: `))
	assert.ErrorContains(t, err, "parse config")
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".webpilot/x"), ExpandHome("~/.webpilot/x"))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
}

func TestNormalizeLabel(t *testing.T) {
	cases := map[string]string{
		"":             DefaultLabel,
		"Worker 1":     "worker-1",
		"  --shop--  ": "shop",
		"ok_label-2":   "ok_label-2",
		"!!!":          DefaultLabel,
		"Ünïcode Sïte": "n-code-s-te",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeLabel(in), "input %q", in)
	}
}

func TestSessionLabels(t *testing.T) {
	assert.Equal(t, []string{"batch-0", "batch-1", "batch-2"}, SessionLabels("Batch", 3))
}

func TestWatcher_Reloads(t *testing.T) {
	path := writeConfig(t, `{agent: {maxTurns: 5}}`)
	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	var got atomic.Int32
	w.OnChange(func(cfg *Config) { got.Store(int32(cfg.Agent.MaxTurns)) })
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`{agent: {maxTurns: 7}}`), 0o600))
	assert.Eventually(t, func() bool { return got.Load() == 7 }, 2*time.Second, 20*time.Millisecond)
}

func TestWatcher_InvalidReloadKeepsPrevious(t *testing.T) {
	path := writeConfig(t, `{agent: {maxTurns: 5}}`)
	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	var calls atomic.Int32
	w.OnChange(func(*Config) { calls.Add(1) })
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`{agent: {maxTurns: 0}}`), 0o600))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}
