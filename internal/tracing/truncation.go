package tracing

import (
	"strings"
)

// 追踪属性上报的长度上限，避免把大段文本塞进 span
const (
	// DefaultMaxLength 默认属性值最大长度
	DefaultMaxLength = 200
	// MaxChunkLength 切片文本在 span 属性中的最大长度
	MaxChunkLength = 150
	// MaxQueryLength 检索查询在 span 属性中的最大长度
	MaxQueryLength = 200
	// MaxPromptLength 提示词在 span 属性中的最大长度
	MaxPromptLength = 300
)

// maskPIILookup 需要脱敏的字段名（小写匹配）
var maskPIILookup = map[string]bool{
	"password":      true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"secret":        true,
	"authorization": true,
	"phone":         true,
	"email":         true,
	"id_card":       true,
}

// TruncateString 截断字符串到指定长度，超出部分用省略号替代
func TruncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// MaskPII 对敏感字段值进行脱敏处理
func MaskPII(key, value string) string {
	lowerKey := strings.ToLower(key)
	if maskPIILookup[lowerKey] {
		return "***MASKED***"
	}
	for sensitive := range maskPIILookup {
		if strings.Contains(lowerKey, sensitive) {
			return "***MASKED***"
		}
	}
	return value
}

// SafeAttributeValue 生成安全的属性值：先脱敏再截断
func SafeAttributeValue(key, value string) string {
	masked := MaskPII(key, value)
	return TruncateString(masked, DefaultMaxLength)
}

// SafeChunkContent 生成切片文本的安全属性值
func SafeChunkContent(text string) string {
	return TruncateString(strings.TrimSpace(text), MaxChunkLength)
}

// SafeQueryText 生成检索查询的安全属性值
func SafeQueryText(query string) string {
	return TruncateString(strings.TrimSpace(query), MaxQueryLength)
}

// SafePromptText 生成提示词的安全属性值
func SafePromptText(prompt string) string {
	return TruncateString(strings.TrimSpace(prompt), MaxPromptLength)
}
