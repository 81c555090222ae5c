// Package behaviour 组合节点的各个子协议
//
// Behaviour 把广播消息（gossipsub）、局域网发现（mDNS）、自描述（identify）、
// 可达性（autonat / 端口映射 / STUN）、中继（circuit v2 hop）和存活探测（ping）
// 组合为一个值，对外只暴露一条带标签的事件流：
//
//	b, err := behaviour.NewBehaviour(id, sw, cfg)
//	if err != nil {
//	    return err
//	}
//	if err := b.Start(); err != nil {
//	    return err
//	}
//	for ev := range b.Events() {
//	    switch ev := ev.(type) {
//	    case behaviour.DiscoveryEvent:
//	        b.Apply(behaviour.AddExplicitPeer{Peer: ev.Peer})
//	    case behaviour.MessageEvent:
//	        fmt.Println(string(ev.Data))
//	    }
//	}
//
// 各组件的事件按轮询顺序合并：每次从上一次服务的组件之后开始检查，
// 任何组件都不会因为另一个组件持续产生事件而饿死。
//
// 事件处理方以 Command 表达副作用，由 Apply 统一分发给能处理它的组件。
package behaviour
