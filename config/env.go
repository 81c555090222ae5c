package config

import (
	"fmt"
	"strconv"
)

// 环境变量名
const (
	EnvKeySeed          = "SWARM_KEY_SEED"
	EnvListenPort       = "SWARM_LISTEN_PORT"
	EnvRelay            = "SWARM_RELAY"
	EnvUseIPv6          = "SWARM_USE_IPV6"
	EnvTestMode         = "SWARM_TEST_MODE"
	EnvDataDir          = "SWARM_DATA_DIR"
	EnvBootstrapAddress = "SWARM_BOOTSTRAP_ADDRESS"
	EnvBootstrapPeerID  = "SWARM_BOOTSTRAP_PEER_ID"
)

// ApplyEnv 用环境变量覆盖配置，getenv 通常为 os.Getenv
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvKeySeed); v != "" {
		seed, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvKeySeed, err)
		}
		s := uint8(seed)
		c.Node.KeySeed = &s
	}
	if v := getenv(EnvListenPort); v != "" {
		port, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvListenPort, err)
		}
		c.Node.ListenPort = uint16(port)
	}
	for name, dst := range map[string]*bool{
		EnvRelay:    &c.Node.Relay,
		EnvUseIPv6:  &c.Node.UseIPv6,
		EnvTestMode: &c.Node.TestMode,
	} {
		if v := getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = b
		}
	}
	if v := getenv(EnvDataDir); v != "" {
		c.Identity.DataDir = v
		c.Identity.KeyStore = true
	}
	if v := getenv(EnvBootstrapAddress); v != "" {
		c.Node.BootstrapAddress = v
	}
	if v := getenv(EnvBootstrapPeerID); v != "" {
		c.Node.BootstrapPeerID = v
	}
	return nil
}
