package ingestion

import (
	"strings"
	"unicode"
)

// FormatNeutralParser 将任意生成器产出的报告文本解析为规范化文档。
// 只依赖通用结构线索（标题标记、代码围栏、列表符号、编号条目），
// 不针对某个生成器写死字符串模式。
type FormatNeutralParser struct{}

func NewFormatNeutralParser() *FormatNeutralParser {
	return &FormatNeutralParser{}
}

// Parse 尽力解析：结构残缺时仍返回覆盖已识别部分的文档，
// 并通过 ParseConfidence 反映识别程度，不让整次摄取失败。
func (p *FormatNeutralParser) Parse(raw string) *CanonicalDocument {
	doc := &CanonicalDocument{}
	if strings.TrimSpace(raw) == "" {
		doc.ParseConfidence = 0
		return doc
	}

	lines := splitLinesWithOffsets(raw)
	flat := make([]*Block, 0, 32)

	var (
		structured int // 被结构线索覆盖的行数
		total      int // 非空行数
	)

	i := 0
	for i < len(lines) {
		ln := lines[i]
		text := ln.text

		if strings.TrimSpace(text) == "" {
			i++
			continue
		}
		total++

		// 代码围栏：``` 或 ~~~ 开头，吞到闭合围栏或文末
		if fence, lang := fenceMarker(text); fence != "" {
			start := ln.offset
			end := start + len(text)
			var buf strings.Builder
			j := i + 1
			closed := false
			for j < len(lines) {
				if f, _ := fenceMarker(lines[j].text); f == fence {
					end = lines[j].offset + len(lines[j].text)
					closed = true
					break
				}
				if buf.Len() > 0 {
					buf.WriteByte('\n')
				}
				buf.WriteString(lines[j].text)
				end = lines[j].offset + len(lines[j].text)
				j++
			}
			flat = append(flat, &Block{
				Type:        BlockCode,
				Text:        buf.String(),
				Language:    lang,
				StartOffset: start,
				EndOffset:   end,
			})
			// 围栏行本身也计入结构覆盖
			covered := j - i
			if closed {
				covered++
			}
			structured += covered
			total += covered - 1
			if closed {
				i = j + 1
			} else {
				i = j
			}
			continue
		}

		// 标题：# 前缀、下划线式（=== / ---）、或多级编号小节（"2.3 Title"）
		if level, title, ok := headingMarker(text); ok {
			flat = append(flat, &Block{
				Type:        BlockHeading,
				Level:       level,
				Text:        title,
				StartOffset: ln.offset,
				EndOffset:   ln.offset + len(text),
			})
			structured++
			i++
			continue
		}
		if i+1 < len(lines) {
			if level, ok := underlineMarker(lines[i+1].text); ok && strings.TrimSpace(text) != "" {
				flat = append(flat, &Block{
					Type:        BlockHeading,
					Level:       level,
					Text:        strings.TrimSpace(text),
					StartOffset: ln.offset,
					EndOffset:   lines[i+1].offset + len(lines[i+1].text),
				})
				structured += 2
				total++
				i += 2
				continue
			}
		}

		// 列表项：-、*、+、数字. 前缀（缩进深度决定嵌套层级）
		if depth, item, ok := listMarker(text); ok {
			flat = append(flat, &Block{
				Type:        BlockListItem,
				Level:       depth,
				Text:        item,
				StartOffset: ln.offset,
				EndOffset:   ln.offset + len(text),
			})
			structured++
			i++
			continue
		}

		// 段落：连续的普通行合并为一块
		start := ln.offset
		end := start + len(text)
		var buf strings.Builder
		buf.WriteString(strings.TrimSpace(text))
		j := i + 1
		for j < len(lines) {
			next := lines[j].text
			if strings.TrimSpace(next) == "" {
				break
			}
			if f, _ := fenceMarker(next); f != "" {
				break
			}
			if _, _, ok := headingMarker(next); ok {
				break
			}
			if _, _, ok := listMarker(next); ok {
				break
			}
			if j+1 < len(lines) {
				if _, ok := underlineMarker(lines[j+1].text); ok {
					break
				}
			}
			buf.WriteByte('\n')
			buf.WriteString(strings.TrimSpace(next))
			end = lines[j].offset + len(next)
			total++
			j++
		}
		flat = append(flat, &Block{
			Type:        BlockParagraph,
			Text:        buf.String(),
			StartOffset: start,
			EndOffset:   end,
		})
		i = j
	}

	doc.Blocks = nestByHeading(flat)
	if total > 0 {
		doc.ParseConfidence = float64(structured) / float64(total)
	}
	if len(flat) > 0 && doc.ParseConfidence < 0.05 {
		// 完全无结构的纯文本：仍可作为段落摄取，置一个保底置信度
		doc.ParseConfidence = 0.05
	}
	return doc
}

type offsetLine struct {
	text   string
	offset int
}

func splitLinesWithOffsets(s string) []offsetLine {
	out := make([]offsetLine, 0, 64)
	off := 0
	for {
		idx := strings.IndexByte(s[off:], '\n')
		if idx < 0 {
			out = append(out, offsetLine{text: strings.TrimRight(s[off:], "\r"), offset: off})
			break
		}
		out = append(out, offsetLine{text: strings.TrimRight(s[off:off+idx], "\r"), offset: off})
		off += idx + 1
		if off >= len(s) {
			break
		}
	}
	return out
}

// fenceMarker 返回围栏标记（``` 或 ~~~）及声明语言
func fenceMarker(line string) (string, string) {
	t := strings.TrimLeft(line, " \t")
	for _, f := range []string{"```", "~~~"} {
		if strings.HasPrefix(t, f) {
			lang := strings.TrimSpace(strings.TrimLeft(t, string(f[0])))
			return f, strings.ToLower(lang)
		}
	}
	return "", ""
}

// headingMarker 识别 "# 标题" 与 "1.2 标题" 形式的多级编号小节行
func headingMarker(line string) (int, string, bool) {
	t := strings.TrimSpace(line)
	if strings.HasPrefix(t, "#") {
		level := 0
		for level < len(t) && t[level] == '#' && level < 6 {
			level++
		}
		title := strings.TrimSpace(t[level:])
		if title == "" {
			return 0, "", false
		}
		return level, title, true
	}
	// 编号小节："2.3 Details"、"1.2.1 Title"。
	// 单级编号（"1. Install deps"）是平铺列表项，交给 listMarker
	dot := 0
	for dot < len(t) && (unicode.IsDigit(rune(t[dot])) || t[dot] == '.') {
		dot++
	}
	if dot > 0 && dot < len(t) && t[dot] == ' ' {
		numbering := strings.TrimSuffix(t[:dot], ".")
		if strings.ContainsRune(numbering, '.') {
			title := strings.TrimSpace(t[dot:])
			if title != "" && len(title) <= 80 && !strings.HasSuffix(title, ".") {
				return strings.Count(numbering, ".") + 1, title, true
			}
		}
	}
	return 0, "", false
}

// underlineMarker 识别 setext 风格下划线（=== 为一级，--- 为二级）
func underlineMarker(line string) (int, bool) {
	t := strings.TrimSpace(line)
	if len(t) < 3 {
		return 0, false
	}
	if strings.Count(t, "=") == len(t) {
		return 1, true
	}
	if strings.Count(t, "-") == len(t) {
		return 2, true
	}
	return 0, false
}

// listMarker 识别列表项，返回嵌套深度（按两空格一级折算）
func listMarker(line string) (int, string, bool) {
	indent := 0
	for indent < len(line) && (line[indent] == ' ' || line[indent] == '\t') {
		indent++
	}
	t := line[indent:]
	for _, m := range []string{"- ", "* ", "+ "} {
		if strings.HasPrefix(t, m) {
			return indent/2 + 1, strings.TrimSpace(t[len(m):]), true
		}
	}
	// "1. item" / "2) item"
	d := 0
	for d < len(t) && unicode.IsDigit(rune(t[d])) {
		d++
	}
	if d > 0 && d < len(t)-1 && (t[d] == '.' || t[d] == ')') && t[d+1] == ' ' {
		return indent/2 + 1, strings.TrimSpace(t[d+2:]), true
	}
	return 0, "", false
}

// nestByHeading 按标题层级把扁平块列表折叠为树：
// 标题块收纳其后所有层级更深的块，直到遇到同级或更浅的标题。
func nestByHeading(flat []*Block) []*Block {
	roots := make([]*Block, 0, len(flat))
	stack := make([]*Block, 0, 8)

	appendTo := func(b *Block) {
		if len(stack) == 0 {
			roots = append(roots, b)
			return
		}
		top := stack[len(stack)-1]
		top.Children = append(top.Children, b)
	}

	for _, b := range flat {
		if b.Type != BlockHeading {
			appendTo(b)
			continue
		}
		for len(stack) > 0 && stack[len(stack)-1].Level >= b.Level {
			stack = stack[:len(stack)-1]
		}
		appendTo(b)
		stack = append(stack, b)
	}
	return roots
}
