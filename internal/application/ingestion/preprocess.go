package ingestion

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"repo-analysis-rag/internal/domain/entity"
)

// Preprocessor 遍历规范化文档，抽取代码片段、标识符与内容类型标签。
// 纯变换，无副作用；无法识别的块原样通过，不丢弃。
type Preprocessor struct{}

func NewPreprocessor() *Preprocessor {
	return &Preprocessor{}
}

var (
	// 函数调用/定义形态：name( 或 obj.method(
	funcTokenRe = regexp.MustCompile(`\b([a-zA-Z_][a-zA-Z0-9_]*)\s*\(`)
	// 类/类型定义关键字后的标识符
	classTokenRe = regexp.MustCompile(`\b(?:class|struct|interface|type|trait)\s+([A-Z][a-zA-Z0-9_]*)`)
	// 代码形态的行内片段：snake_case、camelCase 调用、路径式引用
	codeShapeRe = regexp.MustCompile("(`[^`]+`)|\\b[a-z][a-zA-Z0-9]*_[a-z][a-zA-Z0-9_]*\\b|\\b[a-z][a-zA-Z0-9]*[A-Z][a-zA-Z0-9]*\\s*\\(")
)

// 常见框架/库名词表。按词形匹配正文，不区分大小写。
var knownFrameworks = []string{
	"react", "vue", "angular", "django", "flask", "fastapi", "spring",
	"gin", "echo", "express", "rails", "laravel", "pytorch", "tensorflow",
	"kubernetes", "docker", "terraform", "kafka", "redis", "postgres",
	"postgresql", "mysql", "mongodb", "milvus", "gorm", "numpy", "pandas",
}

func (p *Preprocessor) Preprocess(doc *CanonicalDocument) *PreprocessedDocument {
	out := &PreprocessedDocument{
		Source:          doc,
		ParseConfidence: doc.ParseConfidence,
	}

	// sectionIdx 为当前最近 heading 在 out.Blocks 中的下标
	var walk func(blocks []*Block, sectionIdx int)
	walk = func(blocks []*Block, sectionIdx int) {
		for _, b := range blocks {
			ab := p.annotate(b)
			out.Blocks = append(out.Blocks, ab)
			out.SectionOf = append(out.SectionOf, sectionIdx)
			childSection := sectionIdx
			if b.Type == BlockHeading {
				childSection = len(out.Blocks) - 1
			}
			if len(b.Children) > 0 {
				walk(b.Children, childSection)
			}
		}
	}
	walk(doc.Blocks, -1)
	return out
}

func (p *Preprocessor) annotate(b *Block) *AnnotatedBlock {
	ab := &AnnotatedBlock{Block: b}

	switch b.Type {
	case BlockCode:
		ab.ContentType = entity.ContentTypeCode
		ab.Language = b.Language
		if ab.Language == "" {
			ab.Language = guessLanguage(b.Text)
		}
	default:
		if looksStructured(b.Text) {
			ab.ContentType = entity.ContentTypeStructuredData
		} else if codeShapeRe.MatchString(b.Text) &&
			len(codeShapeRe.FindAllString(b.Text, -1))*12 > len(b.Text) {
			// 行内代码密度高的段落按代码处理
			ab.ContentType = entity.ContentTypeCode
		} else {
			ab.ContentType = entity.ContentTypeNarrative
		}
	}

	ab.Functions = extractFunctions(b.Text)
	ab.Classes = extractClasses(b.Text)
	ab.Frameworks = extractFrameworks(b.Text)
	return ab
}

// guessLanguage 对无语言声明的代码块做粗略猜测。
// 目标是给检索过滤一个可用标签，不追求精确。
func guessLanguage(code string) string {
	switch {
	case strings.Contains(code, "func ") && strings.Contains(code, ":="):
		return "go"
	case strings.Contains(code, "def ") && strings.Contains(code, ":"):
		return "python"
	case strings.Contains(code, "fn ") && strings.Contains(code, "->"):
		return "rust"
	case strings.Contains(code, "function ") || strings.Contains(code, "=>"):
		return "javascript"
	case strings.Contains(code, "public class ") || strings.Contains(code, "private "):
		return "java"
	case strings.HasPrefix(strings.TrimSpace(code), "{") || strings.HasPrefix(strings.TrimSpace(code), "["):
		return "json"
	case strings.Contains(code, "SELECT ") || strings.Contains(code, "select "):
		return "sql"
	case strings.HasPrefix(strings.TrimSpace(code), "#!") || strings.Contains(code, "$ "):
		return "shell"
	}
	return ""
}

// looksStructured 行多数形如 key: value 或表格分隔时视为结构化数据
func looksStructured(text string) bool {
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return false
	}
	hits := 0
	for _, ln := range lines {
		t := strings.TrimSpace(ln)
		if t == "" {
			continue
		}
		if strings.Contains(t, "|") || kvShape(t) {
			hits++
		}
	}
	return hits*2 > len(lines)
}

func kvShape(line string) bool {
	idx := strings.Index(line, ":")
	if idx <= 0 || idx > 40 {
		return false
	}
	key := line[:idx]
	for _, r := range key {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' && r != ' ' {
			return false
		}
	}
	return true
}

func extractFunctions(text string) []string {
	seen := map[string]struct{}{}
	for _, m := range funcTokenRe.FindAllStringSubmatch(text, -1) {
		name := m[1]
		if isReservedWord(name) || len(name) < 3 {
			continue
		}
		seen[name] = struct{}{}
	}
	return sortedKeys(seen, 16)
}

func extractClasses(text string) []string {
	seen := map[string]struct{}{}
	for _, m := range classTokenRe.FindAllStringSubmatch(text, -1) {
		seen[m[1]] = struct{}{}
	}
	// 无定义关键字时，退化为捕捉 PascalCase 引用（仅在反引号里，避免误收普通词）
	for _, m := range regexp.MustCompile("`([A-Z][a-zA-Z0-9]*[a-z][a-zA-Z0-9]*)`").FindAllStringSubmatch(text, -1) {
		seen[m[1]] = struct{}{}
	}
	return sortedKeys(seen, 16)
}

func extractFrameworks(text string) []string {
	lower := strings.ToLower(text)
	seen := map[string]struct{}{}
	for _, fw := range knownFrameworks {
		if containsWord(lower, fw) {
			seen[fw] = struct{}{}
		}
	}
	return sortedKeys(seen, 8)
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		pos := strings.Index(haystack[idx:], word)
		if pos < 0 {
			return false
		}
		pos += idx
		before := pos == 0 || !isWordRune(rune(haystack[pos-1]))
		afterIdx := pos + len(word)
		after := afterIdx >= len(haystack) || !isWordRune(rune(haystack[afterIdx]))
		if before && after {
			return true
		}
		idx = pos + len(word)
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func isReservedWord(s string) bool {
	switch s {
	case "if", "for", "while", "switch", "return", "func", "def", "catch", "print", "println", "main":
		return true
	}
	return false
}

func sortedKeys(m map[string]struct{}, limit int) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
