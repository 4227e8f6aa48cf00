package node

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
DataDir = "/tmp/axl-test"
NetworkID = 7
ListenAddr = ":40404"
StaticPeers = ["10.0.0.1:32323", "10.0.0.2:32323"]
Mining = true
MineIntervalMs = 1000
DBCacheSize = "128MiB"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/axl-test", cfg.DataDir)
	assert.Equal(t, uint64(7), cfg.NetworkID)
	assert.Equal(t, ":40404", cfg.ListenAddr)
	assert.Len(t, cfg.StaticPeers, 2)
	assert.True(t, cfg.Mining)
	assert.Equal(t, uint64(1000), cfg.MineIntervalMs)

	mb, err := cfg.dbCacheBytes()
	require.NoError(t, err)
	assert.Equal(t, 128, mb)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `NetworkID = 3`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, uint64(3), cfg.NetworkID)
	assert.Equal(t, DefaultConfig.ListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultConfig.DBCacheSize, cfg.DBCacheSize)
}

func TestLoadConfigBadCacheSize(t *testing.T) {
	path := writeConfig(t, `DBCacheSize = "lots"`)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigUnknownField(t *testing.T) {
	path := writeConfig(t, `NoSuchKnob = true`)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}
