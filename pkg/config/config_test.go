package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fabric.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
fabric:
  machine_ip: "10.0.0.1"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DefaultAgentPort, cfg.Port)
	require.Equal(t, DefaultParallelismCap, cfg.AdmissionParallelism)
	require.Equal(t, DefaultPlacementRetries, cfg.PlacementRetries)
	require.Equal(t, DefaultArchivalRetries, cfg.ArchivalRetries)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeConfig(t, `
fabric:
  machine_ip: "10.0.0.1"
  bogus_key: 1
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRequiresMachineIP(t *testing.T) {
	path := writeConfig(t, `
fabric:
  port: 5002
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadHonorsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
fabric:
  machine_ip: "10.0.0.1"
  port: 6000
  cpu_memory: 2048
  admission_parallelism: 4
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 6000, cfg.Port)
	require.Equal(t, int64(2048), cfg.CPUMemory)
	require.Equal(t, 4, cfg.AdmissionParallelism)
}
