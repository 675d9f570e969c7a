// =============================================================================
// 文件: internal/transport/registry_test.go
// 描述: peer 注册表与队列测试
// =============================================================================
package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcgq/rudp/internal/protocol"
)

func udpAddr(port int) net.Addr {
	return &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: port}
}

func TestRegistryCreateSequential(t *testing.T) {
	r := NewPeerRegistry(DefaultConnConfig())

	a, err := r.Create(udpAddr(1000))
	require.NoError(t, err)
	b, err := r.Create(udpAddr(1001))
	require.NoError(t, err)

	assert.Equal(t, protocol.PeerIDClientMin, a.ID())
	assert.Equal(t, protocol.PeerIDClientMin+1, b.ID())
	assert.Equal(t, PeerHalfOpen, a.State())

	// 同一地址返回同一个 peer
	again, err := r.Create(udpAddr(1000))
	require.NoError(t, err)
	assert.Same(t, a, again)

	assert.Same(t, b, r.LookupAddr(udpAddr(1001)))
	assert.Equal(t, []protocol.PeerID{2, 3}, r.IDs())
}

func TestRegistryExhaustionAndReuse(t *testing.T) {
	cfg := DefaultConnConfig()
	cfg.MaxPeerID = 4
	r := NewPeerRegistry(cfg)

	for i := 0; i < 3; i++ {
		_, err := r.Create(udpAddr(2000 + i))
		require.NoError(t, err)
	}

	_, err := r.Create(udpAddr(2100))
	require.ErrorIs(t, err, ErrPeerIDExhausted, "ID 用尽应返回错误")

	// 释放 3 后, 下一次分配回绕并复用它
	p, ok := r.Remove(3)
	require.True(t, ok)
	assert.Nil(t, r.LookupAddr(p.Address()), "移除后地址索引应清除")

	n, err := r.Create(udpAddr(2100))
	require.NoError(t, err)
	assert.Equal(t, protocol.PeerID(3), n.ID())
	assert.Equal(t, 3, r.Len())

	_, ok = r.Remove(3)
	require.True(t, ok)
	_, ok = r.Remove(3)
	assert.False(t, ok, "重复移除应返回 false")
}

func TestRegistryAddServer(t *testing.T) {
	r := NewPeerRegistry(DefaultConnConfig())

	p, err := r.Add(protocol.PeerIDServer, udpAddr(30000))
	require.NoError(t, err)
	assert.Equal(t, protocol.PeerIDServer, p.ID())

	_, err = r.Add(protocol.PeerIDServer, udpAddr(30001))
	assert.Error(t, err, "重复 ID 应失败")
}

func TestPeerGetStats(t *testing.T) {
	r := NewPeerRegistry(DefaultConnConfig())
	p, err := r.Create(udpAddr(5000))
	require.NoError(t, err)

	_, ok := p.Channel(1).Window().Add(p.Address(), func(uint16) []byte { return []byte{0} })
	require.True(t, ok)

	st := p.GetStats()
	assert.Equal(t, "HALF_OPEN", st["state"])
	channels, ok := st["channels"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, channels, protocol.ChannelCount)

	assert.Equal(t, uint8(1), channels[1]["index"])
	assert.Equal(t, 1, channels[1]["window"].(map[string]interface{})["in_flight"])
	assert.Equal(t, 0, channels[0]["window"].(map[string]interface{})["in_flight"])
	assert.Contains(t, channels[1], "reorder")
	assert.Contains(t, channels[1], "reassembler")
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue[int]()
	for i := 0; i < 5; i++ {
		require.True(t, q.Push(i))
	}
	assert.Equal(t, 5, q.Len())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		v, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}

	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := NewQueue[string]()

	var wg sync.WaitGroup
	wg.Add(1)
	var got string
	go func() {
		defer wg.Done()
		got, _ = q.Pop(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push("hello")
	wg.Wait()
	assert.Equal(t, "hello", got)
}

func TestQueueCloseAndContext(t *testing.T) {
	q := NewQueue[int]()
	q.Push(1)
	q.Close()

	assert.False(t, q.Push(2), "关闭后 Push 应失败")

	v, err := q.Pop(context.Background())
	require.NoError(t, err, "关闭后剩余元素仍可取出")
	assert.Equal(t, 1, v)

	_, err = q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrConnectionClosed)

	open := NewQueue[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = open.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
