package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv(EnvControlSecret, "")
	t.Setenv(EnvAuditSecret, "")
	dir := t.TempDir()
	writeFile(t, dir, "control.key", "s3cret\n")
	writeFile(t, dir, "audit.key", "audit-s3cret")
	path := writeFile(t, dir, "gateway.yaml", `
modbus:
  addr: 0.0.0.0:1502
control:
  secret_file: control.key
audit:
  secret_file: audit.key
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8000", cfg.API.Addr)
	assert.Equal(t, time.Second, cfg.Publisher.Interval)
	assert.Equal(t, 10, cfg.Publisher.LogEvery)
	assert.Equal(t, "127.0.0.1:1502", cfg.Monitor.Target)
	assert.Equal(t, 60*time.Second, cfg.Control.Freshness)
	assert.Equal(t, 0.90, cfg.Monitor.Limits.VpuMin)
	assert.Equal(t, 200.0, cfg.Monitor.Limits.SourceRampKW)
	assert.False(t, cfg.Modbus.Writable)
	assert.Equal(t, []byte("s3cret"), cfg.Control.Secret)
	assert.Equal(t, []byte("audit-s3cret"), cfg.Audit.Secret)
	assert.Equal(t, filepath.Join(dir, "control.key"), cfg.Control.SecretFile)
}

func TestEnvOverridesSecretFiles(t *testing.T) {
	t.Setenv(EnvControlSecret, "from-env")
	t.Setenv(EnvAuditSecret, "audit-env")
	dir := t.TempDir()
	path := writeFile(t, dir, "gateway.yaml", "control:\n  secret_file: missing.key\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("from-env"), cfg.Control.Secret)
	assert.Equal(t, []byte("audit-env"), cfg.Audit.Secret)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv(EnvControlSecret, "c")
	t.Setenv(EnvAuditSecret, "a")

	tests := map[string]string{
		"bad api addr":       "api:\n  addr: nope\n",
		"negative interval":  "publisher:\n  interval: -1s\n",
		"bad log level":      "log:\n  level: loud\n",
		"influx without org": "influx:\n  url: http://localhost:8086\n  bucket: b\n",
		"inverted limits":    "monitor:\n  limits:\n    vpu_min: 1.2\n    vpu_max: 0.9\n    f_min: 59\n    f_max: 61\n    pv_ramp_kw: 1\n    source_ramp_kw: 1\n",
		"watch without file": "control:\n  watch_secret: true\n",
		"not yaml":           "api: [",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "gateway.yaml", body)
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestPartialLimitsKeepOtherDefaults(t *testing.T) {
	t.Setenv(EnvControlSecret, "c")
	t.Setenv(EnvAuditSecret, "a")
	path := writeFile(t, t.TempDir(), "gateway.yaml", "monitor:\n  limits:\n    vpu_min: 0.95\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	l := cfg.Monitor.Limits
	assert.Equal(t, 0.95, l.VpuMin)
	assert.Equal(t, 1.10, l.VpuMax)
	assert.Equal(t, 59.5, l.FMin)
	assert.Equal(t, 60.5, l.FMax)
	assert.Equal(t, 100.0, l.PVRampKW)
	assert.Equal(t, 200.0, l.SourceRampKW)
}

func TestMissingSecretsFailValidation(t *testing.T) {
	t.Setenv(EnvControlSecret, "")
	t.Setenv(EnvAuditSecret, "")
	path := writeFile(t, t.TempDir(), "gateway.yaml", "{}\n")

	_, err := Load(path)
	require.ErrorContains(t, err, EnvControlSecret)

	cfg, err := LoadUnchecked(path)
	require.NoError(t, err)
	assert.Equal(t, "data/control.json", cfg.Control.StateFile)
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Control.Secret = []byte("x")
	cfg.Influx.Token = "tok"
	r := cfg.Redacted()
	assert.Nil(t, r.Control.Secret)
	assert.Equal(t, "REDACTED", r.Influx.Token)
	assert.Equal(t, []byte("x"), cfg.Control.Secret)
}
