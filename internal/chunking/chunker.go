// Package chunking 把原始文本或结构化简历块切成可检索的单元。
package chunking

import (
	"strings"

	"github.com/xiaodongyu/Job-fit-engine/internal/constants"
)

// SlidingWindow 按固定窗口长度切分文本，相邻窗口之间保留重叠。
// 长度按rune计，空白输入返回nil。overlap会被钳制到size-1，
// 保证窗口始终前移。
func SlidingWindow(text string, size, overlap int) []string {
	if size <= 0 {
		size = constants.DefaultChunkSize
	}
	if overlap < 0 {
		overlap = constants.DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size - 1
	}

	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		sliceEnd := end
		if sliceEnd > len(runes) {
			sliceEnd = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:sliceEnd]))
		if piece != "" {
			chunks = append(chunks, piece)
		}
		start = end - overlap
	}
	return chunks
}
