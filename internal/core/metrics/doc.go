// Package metrics 提供节点级监控指标
//
// 每个节点拥有独立的 prometheus.Registry，同一进程内运行多个节点时
// 指标互不冲突。所有记录方法对 nil *Metrics 安全，组件可不注入指标。
//
// 使用示例:
//
//	m := metrics.New("swarm_weave")
//	m.MessagePublished("chat-net", 5)
//	http.Handle("/metrics", m.Handler())
package metrics
