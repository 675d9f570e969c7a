// =============================================================================
// 文件: internal/protocol/seqnum.go
// 描述: 可靠 UDP 传输 - 16 位序列号回绕运算
// =============================================================================
package protocol

const (
	// SeqnumInitial 每个通道的初始序列号, 接近回绕点以便尽早暴露回绕问题
	SeqnumInitial uint16 = 65500

	// MaxReliableWindow 可靠窗口上限, 必须小于序列号空间的一半
	MaxReliableWindow = 0x8000
)

// SeqnumHigher a 是否在 b 之后 (考虑回绕)
func SeqnumHigher(a, b uint16) bool {
	return a != b && int16(a-b) > 0
}

// SeqnumDistance 从 from 前进到 to 需要的步数
func SeqnumDistance(from, to uint16) uint16 {
	return to - from
}

// SeqnumInWindow seq 是否落在 [base, base+size) 内
func SeqnumInWindow(seq, base uint16, size int) bool {
	return int(seq-base) < size
}
