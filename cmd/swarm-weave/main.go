// Package main 提供 swarm-weave 命令行入口
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/FelixRiddle/swarm-weave/config"
	"github.com/FelixRiddle/swarm-weave/node"
)

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
// 优先级：命令行 > 环境变量（SWARM_*）> 配置文件 > 默认值。
// 只有显式给出的参数才覆盖下层配置。
//
// ═══════════════════════════════════════════════════════════════════════════
var (
	// ─────────────────────────────────────────────────────────────────────
	// 节点参数
	// ─────────────────────────────────────────────────────────────────────
	server       = flag.Bool("server", true, "以服务端运行（false = 客户端，不应答回拨）")
	port         = flag.Int("port", 0, "监听端口（0 = 随机端口）")
	serverAddr   = flag.String("server-address", "", "引导节点地址，如 /ip4/1.2.3.4/tcp/4001")
	serverPeerID = flag.String("server-peer-id", "", "引导节点 ID")
	keySeed      = flag.Int("key-seed", -1, "确定性身份种子 0-255（仅测试使用）")
	useIPv6      = flag.Bool("ipv6", false, "监听 IPv6 地址")
	relay        = flag.Bool("relay", false, "作为中继节点")
	testMode     = flag.Bool("test-mode", false, "额外订阅诊断主题")

	// ─────────────────────────────────────────────────────────────────────
	// 配置与数据
	// ─────────────────────────────────────────────────────────────────────
	configFile = flag.String("config", "", "配置文件路径（JSON）")
	dataDir    = flag.String("data-dir", "", "数据目录，设置后启用持久化密钥库")
	logLevel   = flag.String("log-level", "", "日志级别 debug/info/warn/error")

	// ─────────────────────────────────────────────────────────────────────
	// 信息显示
	// ─────────────────────────────────────────────────────────────────────
	showVersion = flag.Bool("version", false, "显示版本信息")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	if *showVersion {
		fmt.Println(node.VersionInfo())
		return nil
	}

	cfg, err := buildConfig()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}

	n, err := node.New(cfg, node.WithInput(os.Stdin))
	if err != nil {
		if errors.Is(err, node.ErrConfiguration) {
			return fmt.Errorf("配置错误: %w", err)
		}
		return fmt.Errorf("创建节点失败: %w", err)
	}
	defer func() { _ = n.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("📦 %s\n", node.VersionInfo())
	fmt.Printf("节点 ID: %s\n", n.ID())
	fmt.Println("输入文本回车即可广播，按 Ctrl+C 退出")

	go printMessages(ctx, n)

	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("节点异常退出: %w", err)
	}
	fmt.Println("\n节点已退出")
	return nil
}

// buildConfig 依次叠加配置文件、环境变量与命令行参数
func buildConfig() (*config.Config, error) {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if isFlagSet("server") {
		cfg.Node.Role = config.RoleClient
		if *server {
			cfg.Node.Role = config.RoleServer
		}
	}
	if isFlagSet("port") {
		if *port < 0 || *port > 65535 {
			return nil, fmt.Errorf("invalid port %d", *port)
		}
		cfg.Node.ListenPort = uint16(*port)
	}
	if isFlagSet("server-address") {
		cfg.Node.BootstrapAddress = *serverAddr
	}
	if isFlagSet("server-peer-id") {
		cfg.Node.BootstrapPeerID = *serverPeerID
	}
	if isFlagSet("key-seed") {
		if *keySeed < 0 || *keySeed > 255 {
			return nil, fmt.Errorf("key seed must be in [0, 255], got %d", *keySeed)
		}
		seed := uint8(*keySeed)
		cfg.Node.KeySeed = &seed
	}
	if isFlagSet("ipv6") {
		cfg.Node.UseIPv6 = *useIPv6
	}
	if isFlagSet("relay") {
		cfg.Node.Relay = *relay
	}
	if isFlagSet("test-mode") {
		cfg.Node.TestMode = *testMode
	}
	if isFlagSet("data-dir") {
		cfg.Identity.DataDir = *dataDir
		cfg.Identity.KeyStore = true
	}
	if isFlagSet("log-level") {
		cfg.Log.Level = *logLevel
	}
	return cfg, nil
}

// isFlagSet 检查参数是否在命令行中显式给出
func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// printMessages 把收到的消息打印到标准输出
func printMessages(ctx context.Context, n *node.Node) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-n.Messages():
			fmt.Printf("[%s] %s\n", m.From.ShortString(), m.Data)
		}
	}
}
