// =============================================================================
// 文件: internal/transport/reliability_test.go
// 描述: 发送窗口/重排缓冲区/分片重组测试
// =============================================================================
package transport

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/mrcgq/rudp/internal/protocol"
)

var testAddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 30000}

func encodeSeq(seq uint16) []byte {
	return protocol.ReliableFrame(seq, protocol.OriginalFrame([]byte("x")))
}

func TestSendWindowAddUntilFull(t *testing.T) {
	w := NewSendWindow(4, 65534)

	var seqs []uint16
	for i := 0; i < 4; i++ {
		p, ok := w.Add(testAddr, encodeSeq)
		if !ok {
			t.Fatalf("第 %d 个 Add 失败", i)
		}
		seqs = append(seqs, p.Seqnum)
	}

	want := []uint16{65534, 65535, 0, 1}
	for i := range want {
		if seqs[i] != want[i] {
			t.Errorf("seq[%d] = %d, want %d", i, seqs[i], want[i])
		}
	}

	if !w.IsFull() {
		t.Error("窗口应该已满")
	}
	if _, ok := w.Add(testAddr, encodeSeq); ok {
		t.Error("窗口已满时 Add 应失败")
	}
}

func TestSendWindowOnAck(t *testing.T) {
	w := NewSendWindow(3, protocol.SeqnumInitial)
	for i := 0; i < 3; i++ {
		w.Add(testAddr, encodeSeq)
	}

	// 未知序列号
	if p, _ := w.OnAck(1234); p != nil {
		t.Error("未知 ACK 应被忽略")
	}

	// 确认中间的包: 窗口基不动, 仍然满
	p, wasFull := w.OnAck(protocol.SeqnumInitial + 1)
	if p == nil || !wasFull {
		t.Fatalf("OnAck = %v, wasFull=%v", p, wasFull)
	}
	if !w.IsFull() {
		t.Error("基序列号未确认时窗口仍应满")
	}

	// 重复确认
	if p, _ := w.OnAck(protocol.SeqnumInitial + 1); p != nil {
		t.Error("重复 ACK 应被忽略")
	}

	// 确认基序列号: 窗口前移两格
	if p, _ := w.OnAck(protocol.SeqnumInitial); p == nil {
		t.Fatal("基序列号 ACK 失败")
	}
	if got := w.Occupation(); got != 1 {
		t.Errorf("Occupation = %d, want 1", got)
	}
	if w.Len() != 1 {
		t.Errorf("Len = %d, want 1", w.Len())
	}

	stats := w.GetStats()
	if stats["ignored_acks"].(uint64) != 2 {
		t.Errorf("ignored_acks = %v, want 2", stats["ignored_acks"])
	}
}

func TestSendWindowTakeResends(t *testing.T) {
	w := NewSendWindow(8, 100)

	a, _ := w.Add(testAddr, encodeSeq)
	b, _ := w.Add(testAddr, encodeSeq)
	c, _ := w.Add(testAddr, encodeSeq)

	base := time.Now()
	a.SentTime = base.Add(-300 * time.Millisecond)
	b.SentTime = base.Add(-500 * time.Millisecond)
	c.SentTime = base

	// 超时 100ms: a 和 b 到期, b 更早
	due := w.TakeResends(base, 100*time.Millisecond, 10)
	if len(due) != 2 {
		t.Fatalf("到期数量 = %d, want 2", len(due))
	}
	if due[0].Seqnum != b.Seqnum || due[1].Seqnum != a.Seqnum {
		t.Errorf("重传顺序 = [%d %d], want [%d %d]", due[0].Seqnum, due[1].Seqnum, b.Seqnum, a.Seqnum)
	}
	for _, p := range due {
		if p.ResendCount != 1 || !p.SentTime.Equal(base) {
			t.Errorf("seq %d 未标记重传", p.Seqnum)
		}
	}

	// 刚重传过, 不应再次到期
	if again := w.TakeResends(base.Add(50*time.Millisecond), 100*time.Millisecond, 10); len(again) != 0 {
		t.Errorf("不应重复到期: %d", len(again))
	}

	// limit 限制
	if got := w.TakeResends(base.Add(time.Second), 100*time.Millisecond, 1); len(got) != 1 {
		t.Errorf("limit=1 时返回 %d 个", len(got))
	}

	if n := w.Clear(); n != 3 {
		t.Errorf("Clear = %d, want 3", n)
	}
	if w.Len() != 0 || w.IsFull() {
		t.Error("Clear 后窗口应为空")
	}
}

func TestSendWindowDueResendsAndMark(t *testing.T) {
	w := NewSendWindow(8, 100)

	a, _ := w.Add(testAddr, encodeSeq)
	b, _ := w.Add(testAddr, encodeSeq)

	base := time.Now()
	a.SentTime = base.Add(-200 * time.Millisecond)
	b.SentTime = base.Add(-400 * time.Millisecond)

	due := w.DueResends(base, 100*time.Millisecond)
	if len(due) != 2 || due[0] != b || due[1] != a {
		t.Fatalf("到期顺序错误: %v", due)
	}
	// 只查看, 不修改
	if a.ResendCount != 0 || b.ResendCount != 0 {
		t.Fatal("DueResends 不应标记重传")
	}

	if !w.MarkResent(b, base) {
		t.Fatal("在途包应能标记")
	}
	if b.ResendCount != 1 || !b.SentTime.Equal(base) {
		t.Errorf("标记后 count=%d sent=%v", b.ResendCount, b.SentTime)
	}

	// 查看与标记之间被确认
	if p, _ := w.OnAck(a.Seqnum); p != a {
		t.Fatal("确认 a 失败")
	}
	if w.MarkResent(a, base) {
		t.Error("已确认的包不应再标记")
	}
	if a.ResendCount != 0 {
		t.Errorf("已确认的包 ResendCount = %d", a.ResendCount)
	}
	if got := w.GetStats()["total_resent"]; got != uint64(1) {
		t.Errorf("total_resent = %v, want 1", got)
	}
}

func frame(data string) *protocol.Frame {
	return &protocol.Frame{Type: protocol.PacketTypeOriginal, Data: []byte(data)}
}

func TestReorderBufferSwapped(t *testing.T) {
	b := NewReorderBuffer(64, 65535)

	// B 先到
	if s := b.Insert(0, frame("B")); s != ReorderBuffered {
		t.Fatalf("B: %s, want BUFFERED", s)
	}
	if got := b.ReadOrdered(); len(got) != 0 {
		t.Fatal("A 未到时不应交付")
	}

	if s := b.Insert(65535, frame("A")); s != ReorderReady {
		t.Fatalf("A: %s, want READY", s)
	}

	got := b.ReadOrdered()
	if len(got) != 2 || string(got[0].Data) != "A" || string(got[1].Data) != "B" {
		t.Fatalf("交付顺序错误: %v", got)
	}
	if b.Expected() != 1 {
		t.Errorf("Expected = %d, want 1", b.Expected())
	}
}

func TestReorderBufferDuplicates(t *testing.T) {
	b := NewReorderBuffer(8, 10)

	b.Insert(10, frame("a"))
	b.ReadOrdered()

	// 已交付: 重复, 需要 ACK
	s := b.Insert(10, frame("a"))
	if s != ReorderDuplicate || !s.ShouldAck() {
		t.Errorf("迟到重传: %s", s)
	}

	// 已缓存: 重复
	b.Insert(12, frame("c"))
	if s := b.Insert(12, frame("c")); s != ReorderDuplicate {
		t.Errorf("重复缓存: %s", s)
	}

	// 超出窗口: 丢弃且不 ACK
	s = b.Insert(11+8, frame("far"))
	if s != ReorderOutOfWindow || s.ShouldAck() {
		t.Errorf("超窗口: %s", s)
	}

	if b.Insert(11, frame("b")) != ReorderReady {
		t.Fatal("11 应可交付")
	}
	got := b.ReadOrdered()
	if len(got) != 2 {
		t.Fatalf("交付 %d 个, want 2", len(got))
	}
	if b.HasGaps() {
		t.Error("不应存在空洞")
	}
}

func splitFrames(t *testing.T, payload []byte, splitSeq uint16, chunk int) []*protocol.Frame {
	t.Helper()
	raw, err := protocol.SplitPayload(payload, splitSeq, chunk)
	if err != nil {
		t.Fatalf("分片失败: %v", err)
	}
	frames := make([]*protocol.Frame, 0, len(raw))
	for _, r := range raw {
		f, err := protocol.DecodeFrame(r)
		if err != nil {
			t.Fatalf("解码失败: %v", err)
		}
		frames = append(frames, f)
	}
	return frames
}

func TestReassemblerOutOfOrder(t *testing.T) {
	r := NewReassembler(16, time.Second)
	payload := bytes.Repeat([]byte("0123456789"), 10)
	frames := splitFrames(t, payload, 7, 30)
	now := time.Now()

	// 逆序输入
	for i := len(frames) - 1; i > 0; i-- {
		if _, s := r.Feed(frames[i], false, now); s != FeedPartial {
			t.Fatalf("分片 %d: status=%d", i, s)
		}
	}
	if _, s := r.Feed(frames[3], false, now); s != FeedDuplicate {
		t.Errorf("重复分片: status=%d", s)
	}

	data, s := r.Feed(frames[0], false, now)
	if s != FeedComplete {
		t.Fatalf("应完成: status=%d", s)
	}
	if !bytes.Equal(data, payload) {
		t.Error("重组结果不一致")
	}
	if r.Pending() != 0 {
		t.Errorf("Pending = %d", r.Pending())
	}

	// 完成后的迟到分片不会重新开启分片组
	if _, s := r.Feed(frames[2], false, now); s != FeedDuplicate {
		t.Errorf("迟到分片: status=%d", s)
	}
	if r.Pending() != 0 {
		t.Error("迟到分片不应创建新条目")
	}
}

func TestReassemblerRejects(t *testing.T) {
	r := NewReassembler(4, time.Second)
	now := time.Now()

	tooMany := &protocol.Frame{Type: protocol.PacketTypeSplit, SplitSeqnum: 1, ChunkCount: 5, ChunkIndex: 0}
	if _, s := r.Feed(tooMany, true, now); s != FeedRejected {
		t.Errorf("超过分片上限: status=%d", s)
	}

	first := &protocol.Frame{Type: protocol.PacketTypeSplit, SplitSeqnum: 2, ChunkCount: 3, ChunkIndex: 0, Data: []byte("a")}
	r.Feed(first, true, now)
	mismatch := &protocol.Frame{Type: protocol.PacketTypeSplit, SplitSeqnum: 2, ChunkCount: 2, ChunkIndex: 1, Data: []byte("b")}
	if _, s := r.Feed(mismatch, true, now); s != FeedRejected {
		t.Errorf("分片数不一致: status=%d", s)
	}
}

func TestReassemblerSweep(t *testing.T) {
	r := NewReassembler(16, 100*time.Millisecond)
	now := time.Now()

	unreliable := &protocol.Frame{Type: protocol.PacketTypeSplit, SplitSeqnum: 1, ChunkCount: 2, ChunkIndex: 0, Data: []byte("u")}
	reliable := &protocol.Frame{Type: protocol.PacketTypeSplit, SplitSeqnum: 2, ChunkCount: 2, ChunkIndex: 0, Data: []byte("r")}
	r.Feed(unreliable, false, now)
	r.Feed(reliable, true, now)

	if n := r.Sweep(now.Add(50 * time.Millisecond)); n != 0 {
		t.Errorf("未超时不应清理: %d", n)
	}
	if n := r.Sweep(now.Add(200 * time.Millisecond)); n != 1 {
		t.Errorf("应清理 1 个不可靠分片组, got %d", n)
	}
	if r.Pending() != 1 {
		t.Errorf("可靠分片组应保留: Pending=%d", r.Pending())
	}
}
