// =============================================================================
// 文件: internal/transport/registry.go
// 描述: 可靠 UDP 传输 - peer 注册表 (ID 分配与查找)
// =============================================================================
package transport

import (
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/mrcgq/rudp/internal/protocol"
)

// PeerRegistry peer 注册表, 读多写少
type PeerRegistry struct {
	cfg ConnConfig

	peers  map[protocol.PeerID]*Peer
	byAddr map[string]*Peer
	lastID protocol.PeerID

	// 统计
	totalCreated uint64
	totalRemoved uint64

	mu sync.RWMutex
}

// NewPeerRegistry 创建注册表
func NewPeerRegistry(cfg ConnConfig) *PeerRegistry {
	if cfg.MaxPeerID < protocol.PeerIDClientMin {
		cfg.MaxPeerID = protocol.PeerIDMax
	}
	return &PeerRegistry{
		cfg:    cfg,
		peers:  make(map[protocol.PeerID]*Peer),
		byAddr: make(map[string]*Peer),
		lastID: protocol.PeerIDClientMin - 1,
	}
}

// Lookup 按 ID 查找
func (r *PeerRegistry) Lookup(id protocol.PeerID) *Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peers[id]
}

// LookupAddr 按地址查找
func (r *PeerRegistry) LookupAddr(addr net.Addr) *Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byAddr[addr.String()]
}

// Create 为新地址分配 ID 并创建半开 peer
// ID 从上次分配值之后开始扫描, 在 [PeerIDClientMin, MaxPeerID] 内回绕, 跳过占用中的 ID
func (r *PeerRegistry) Create(addr net.Addr) (*Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := addr.String()
	if p, ok := r.byAddr[key]; ok {
		return p, nil
	}

	lo, hi := protocol.PeerIDClientMin, r.cfg.MaxPeerID
	span := int(hi-lo) + 1

	id := r.lastID
	for i := 0; i < span; i++ {
		if id >= hi || id < lo {
			id = lo
		} else {
			id++
		}
		if _, used := r.peers[id]; !used {
			p := newPeer(id, addr, r.cfg)
			r.peers[id] = p
			r.byAddr[key] = p
			r.lastID = id
			r.totalCreated++
			return p, nil
		}
	}

	return nil, fmt.Errorf("%w: %d 个 ID 均被占用", ErrPeerIDExhausted, span)
}

// Add 以指定 ID 注册 peer (客户端登记服务器)
func (r *PeerRegistry) Add(id protocol.PeerID, addr net.Addr) (*Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, used := r.peers[id]; used {
		return nil, fmt.Errorf("peer ID %d 已存在", id)
	}
	key := addr.String()
	if _, used := r.byAddr[key]; used {
		return nil, fmt.Errorf("地址 %s 已注册", key)
	}

	p := newPeer(id, addr, r.cfg)
	r.peers[id] = p
	r.byAddr[key] = p
	r.totalCreated++
	return p, nil
}

// Remove 移除 peer, 不存在时返回 false
func (r *PeerRegistry) Remove(id protocol.PeerID) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[id]
	if !ok {
		return nil, false
	}
	delete(r.peers, id)
	if cur, ok := r.byAddr[p.addr.String()]; ok && cur == p {
		delete(r.byAddr, p.addr.String())
	}
	r.totalRemoved++
	return p, true
}

// IDs 所有 peer ID (升序)
func (r *PeerRegistry) IDs() []protocol.PeerID {
	r.mu.RLock()
	ids := make([]protocol.PeerID, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Peers 当前 peer 快照
func (r *PeerRegistry) Peers() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	return peers
}

// Range 遍历快照, fn 返回 false 时停止
func (r *PeerRegistry) Range(fn func(p *Peer) bool) {
	for _, p := range r.Peers() {
		if !fn(p) {
			return
		}
	}
}

// Len peer 数量
func (r *PeerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// GetStats 获取统计
func (r *PeerRegistry) GetStats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]interface{}{
		"peers":         len(r.peers),
		"last_id":       r.lastID,
		"total_created": r.totalCreated,
		"total_removed": r.totalRemoved,
	}
}
