package llm

import (
	"strings"
)

// ExtractJSON 从模型回复中宽松提取 JSON：优先取 ```json 代码块，退化为括号匹配。
// 提取只负责定位文本，字段校验由各阶段的归一化层完成。
func ExtractJSON(s string) string {
	if block := extractCodeBlock(s); block != "" {
		return block
	}
	return extractBraced(s)
}

// extractCodeBlock 提取 ```json ... ``` 代码块内容
func extractCodeBlock(s string) string {
	start := strings.Index(s, "```json")
	if start == -1 {
		start = strings.Index(s, "```")
		if start == -1 {
			return ""
		}
	}

	rest := s[start:]
	nl := strings.Index(rest, "\n")
	if nl == -1 {
		return ""
	}
	rest = rest[nl+1:]

	end := strings.Index(rest, "```")
	if end == -1 {
		return ""
	}

	return strings.TrimSpace(rest[:end])
}

// extractBraced 括号配对提取第一个完整的 JSON 对象
func extractBraced(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
