// =============================================================================
// 文件: internal/protocol/split.go
// 描述: 可靠 UDP 传输 - 分片工具函数
// =============================================================================
package protocol

import "fmt"

// MaxOriginalPayload 单个数据报 (含可靠包装) 能携带的最大负载
func MaxOriginalPayload(maxPacketSize int) int {
	return maxPacketSize - BaseHeaderSize - ReliableHeaderSize - OriginalHeaderSize
}

// MaxSplitChunk 单个分片 (含可靠包装) 能携带的最大数据量
func MaxSplitChunk(maxPacketSize int) int {
	return maxPacketSize - BaseHeaderSize - ReliableHeaderSize - SplitHeaderSize
}

// NeedsSplit 检查负载是否需要分片
func NeedsSplit(dataLen, maxPacketSize int) bool {
	return dataLen > MaxOriginalPayload(maxPacketSize)
}

// CalculateChunkCount 计算需要的分片数
func CalculateChunkCount(dataLen, chunkSize int) int {
	if dataLen <= chunkSize {
		return 1
	}
	return (dataLen + chunkSize - 1) / chunkSize
}

// SplitPayload 把负载切成按索引排序的分片帧
func SplitPayload(data []byte, splitSeqnum uint16, chunkSize int) ([][]byte, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("无效的分片大小: %d", chunkSize)
	}

	count := CalculateChunkCount(len(data), chunkSize)
	if count > 0xFFFF {
		return nil, fmt.Errorf("%w: 需要 %d 个分片", ErrTooManyChunks, count)
	}

	frames := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		frames = append(frames, SplitFrame(splitSeqnum, uint16(count), uint16(i), data[start:end]))
	}
	return frames, nil
}
