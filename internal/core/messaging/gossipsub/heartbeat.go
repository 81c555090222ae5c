package gossipsub

import (
	"math/rand/v2"
	"time"

	"github.com/FelixRiddle/swarm-weave/pkg/types"
)

// heartbeatLoop 按 HeartbeatInterval 维护 mesh、fanout 并发送 gossip
func (r *Router) heartbeatLoop() {
	defer r.wg.Done()

	delay := r.clock.Timer(r.cfg.HeartbeatInitialDelay)
	select {
	case <-r.ctx.Done():
		delay.Stop()
		return
	case <-delay.C:
	}
	r.heartbeat()

	ticker := r.clock.Ticker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.heartbeat()
		}
	}
}

// heartbeat 执行一次维护
func (r *Router) heartbeat() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	out := make(map[types.PeerID]*ControlMessage)
	control := func(p types.PeerID) *ControlMessage {
		c, ok := out[p]
		if !ok {
			c = &ControlMessage{}
			out[p] = c
		}
		return c
	}

	r.expireBackoffLocked(now)
	backoffSecs := uint64(r.cfg.PruneBackoff / time.Second)

	// mesh 维护
	for topic := range r.mySubs {
		mesh := r.mesh[topic]
		for p := range mesh {
			_, subscribed := r.topics[topic][p]
			_, explicit := r.explicit[p]
			if !subscribed || explicit {
				delete(mesh, p)
			}
		}

		if len(mesh) < r.cfg.Dlo {
			for _, p := range r.candidatesLocked(topic, mesh, now, r.cfg.D-len(mesh)) {
				mesh[p] = struct{}{}
				c := control(p)
				c.Graft = append(c.Graft, ControlGraft{Topic: topic})
			}
		}

		if len(mesh) > r.cfg.Dhi {
			members := make([]types.PeerID, 0, len(mesh))
			for p := range mesh {
				members = append(members, p)
			}
			shufflePeers(members)
			for _, p := range members[r.cfg.D:] {
				delete(mesh, p)
				r.setBackoffLocked(topic, p, now.Add(r.cfg.PruneBackoff))
				c := control(p)
				c.Prune = append(c.Prune, ControlPrune{Topic: topic, Backoff: backoffSecs})
			}
		}

		r.emitGossipLocked(topic, mesh, control)
	}

	// fanout 维护
	for topic, fanout := range r.fanout {
		if now.Sub(r.lastPub[topic]) > r.cfg.FanoutTTL {
			delete(r.fanout, topic)
			delete(r.lastPub, topic)
			continue
		}
		for p := range fanout {
			if _, ok := r.topics[topic][p]; !ok {
				delete(fanout, p)
			}
		}
		if len(fanout) < r.cfg.D {
			for _, p := range r.candidatesLocked(topic, fanout, now, r.cfg.D-len(fanout)) {
				fanout[p] = struct{}{}
			}
		}
		r.emitGossipLocked(topic, fanout, control)
	}

	for p, c := range out {
		if ps, ok := r.peers[p]; ok {
			r.enqueueLocked(ps, &RPC{Control: c})
		}
	}
	r.mcache.shift()
}

// emitGossipLocked 向 exclude 之外订阅了主题的节点发送 IHAVE
func (r *Router) emitGossipLocked(topic string, exclude peerSet, control func(types.PeerID) *ControlMessage) {
	ids := r.mcache.gossipIDs(topic)
	if len(ids) == 0 {
		return
	}
	if len(ids) > r.cfg.MaxIHaveLength {
		rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		ids = ids[:r.cfg.MaxIHaveLength]
	}

	var candidates []types.PeerID
	for p := range r.topics[topic] {
		if _, ok := exclude[p]; ok {
			continue
		}
		if _, ok := r.explicit[p]; ok {
			continue
		}
		candidates = append(candidates, p)
	}

	target := r.cfg.Dlazy
	if n := int(r.cfg.GossipFactor * float64(len(candidates))); n > target {
		target = n
	}
	shufflePeers(candidates)
	if len(candidates) > target {
		candidates = candidates[:target]
	}
	for _, p := range candidates {
		c := control(p)
		c.IHave = append(c.IHave, ControlIHave{Topic: topic, MessageIDs: ids})
	}
}

func (r *Router) expireBackoffLocked(now time.Time) {
	for topic, m := range r.backoff {
		for p, until := range m {
			if !now.Before(until) {
				delete(m, p)
			}
		}
		if len(m) == 0 {
			delete(r.backoff, topic)
		}
	}
}

func shufflePeers(ps []types.PeerID) {
	rand.Shuffle(len(ps), func(i, j int) { ps[i], ps[j] = ps[j], ps[i] })
}
