package retrieval

import (
	"regexp"
	"strings"
)

// 代码形态 token：snake_case、camelCase 调用、点路径引用
var codeTokenRe = regexp.MustCompile(`\b\w+_\w+\b|\b\w+\.\w+\(|\b[a-z]+[A-Z]\w*\b`)

var questionWords = []string{
	"how", "why", "what", "where", "which", "when", "explain", "overview",
}

// ClassifyIntent 用轻量启发式判定查询意图：
// 引号包裹或代码形态 token → exact；疑问式或长查询 → exploratory；
// 其余 → semantic。
func ClassifyIntent(query string) Intent {
	q := strings.TrimSpace(query)
	if q == "" {
		return IntentSemantic
	}

	if strings.Count(q, `"`) >= 2 || strings.Count(q, "'") >= 2 {
		return IntentExact
	}
	if codeTokenRe.MatchString(q) {
		return IntentExact
	}

	lower := strings.ToLower(q)
	if strings.HasSuffix(q, "?") {
		return IntentExploratory
	}
	words := strings.Fields(lower)
	for _, w := range questionWords {
		if len(words) > 0 && words[0] == w {
			return IntentExploratory
		}
	}
	if len(words) > 8 {
		return IntentExploratory
	}
	return IntentSemantic
}

// thresholdFor 意图到相似度阈值的映射
func thresholdFor(intent Intent, exact, semantic, exploratory float64) float64 {
	switch intent {
	case IntentExact:
		return exact
	case IntentExploratory:
		return exploratory
	default:
		return semantic
	}
}
