package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FelixRiddle/swarm-weave/config"
)

func TestBuildConfig_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"node":{"listen_port":4001,"use_ipv6":true}}`), 0o600))

	t.Setenv(config.EnvListenPort, "4002")
	t.Setenv(config.EnvTestMode, "true")

	require.NoError(t, flag.Set("config", path))
	require.NoError(t, flag.Set("port", "4003"))
	require.NoError(t, flag.Set("server", "false"))
	require.NoError(t, flag.Set("key-seed", "7"))

	cfg, err := buildConfig()
	require.NoError(t, err)

	// 文件
	assert.True(t, cfg.Node.UseIPv6)
	// 环境变量
	assert.True(t, cfg.Node.TestMode)
	// 命令行
	assert.Equal(t, uint16(4003), cfg.Node.ListenPort)
	assert.Equal(t, config.RoleClient, cfg.Node.Role)
	require.NotNil(t, cfg.Node.KeySeed)
	assert.Equal(t, uint8(7), *cfg.Node.KeySeed)

	assert.True(t, isFlagSet("port"))
	assert.False(t, isFlagSet("relay"))

	require.NoError(t, flag.Set("key-seed", "300"))
	_, err = buildConfig()
	assert.Error(t, err)
}
