package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SimplyPrint/card-gateway/internal/config"
	"github.com/SimplyPrint/card-gateway/internal/driver"
	"github.com/SimplyPrint/card-gateway/internal/driver/pcsc"
)

// isolate keeps settings and env overrides from the developer's machine out
// of the test.
func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	for _, key := range []string{
		"CARD_GATEWAY_HOST", "CARD_GATEWAY_PORT", "CARD_GATEWAY_DRIVER",
		"CARD_GATEWAY_DRIVER_MODE", "CARD_GATEWAY_DRIVER_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "card-gateway ")
	assert.Contains(t, out, "Git commit:")
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	isolate(t)

	cfg, err := loadConfig(&globalOptions{host: "0.0.0.0", port: 4000})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:4000", cfg.Address())

	_, err = loadConfig(&globalOptions{port: 70000})
	assert.ErrorContains(t, err, "server.port")
}

func TestAbsConfigPath(t *testing.T) {
	assert.Empty(t, absConfigPath(&globalOptions{}))
	got := absConfigPath(&globalOptions{configPath: "gateway.toml"})
	assert.True(t, filepath.IsAbs(got), got)
}

func TestNewInvoker(t *testing.T) {
	cfg := config.Default()
	inv, ok := newInvoker(cfg).(*driver.ProcessInvoker)
	require.True(t, ok, "process mode should build a ProcessInvoker")
	assert.Equal(t, config.DefaultCommand, inv.Command)
	assert.Equal(t, []string{config.DefaultScript}, inv.Args)
	assert.Equal(t, config.DefaultTimeout, inv.Timeout)

	cfg.Driver.Mode = config.ModePCSC
	native, ok := newInvoker(cfg).(*pcsc.Invoker)
	require.True(t, ok, "pcsc mode should build a pcsc.Invoker")
	assert.Equal(t, config.DefaultTimeout, native.Timeout)
}

func TestNewDispatcherRegistersMetrics(t *testing.T) {
	reg := newRegistry()
	d := newDispatcher(config.Default(), dispatcherDeps{registry: reg})
	require.NotNil(t, d)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "card_gateway_history_records")
	assert.Contains(t, names, "go_goroutines")
}

// writeShellDriverConfig points the process driver at a shell one-liner that
// prints reply whatever operation it is given.
func writeShellDriverConfig(t *testing.T, reply string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell driver needs a POSIX sh")
	}
	path := filepath.Join(t.TempDir(), "gateway.toml")
	content := `[driver]
mode = "process"
command = "sh"
args = ["-c", 'echo "$GW_REPLY"', "sh"]
env = ['GW_REPLY=` + reply + `']
timeout = "5s"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadersCommand(t *testing.T) {
	isolate(t)
	path := writeShellDriverConfig(t, `{"success":true,"readers":["PICC","SAM"],"count":2}`)

	out, err := execute(t, "readers", "--config", path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc), out)
	assert.Equal(t, true, doc["success"])
	assert.Equal(t, "SAM", doc["active"])
	assert.Equal(t, float64(1), doc["activeIndex"])
}

func TestUIDCommandFailure(t *testing.T) {
	isolate(t)
	path := writeShellDriverConfig(t, `{"success":false,"error":"No card present - please place card on reader"}`)

	out, err := execute(t, "uid", "--config", path, "--reader", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No card present")
	assert.True(t, strings.Contains(out, `"success": false`), out)
}
