package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleReport = `# Security Analysis

## Overview
The service exposes an HTTP API built with gin.
Authentication uses JWT tokens.

## Vulnerable Code
` + "```go" + `
func checkToken(t string) bool {
	return t != ""
}
` + "```" + `

## Findings
- Token validation is trivially bypassable
- No rate limiting on the login endpoint

## Summary
Overall risk is high until token validation is fixed.
`

func TestParse_MarkdownStructure(t *testing.T) {
	doc := NewFormatNeutralParser().Parse(sampleReport)
	require.NotNil(t, doc)
	assert.Greater(t, doc.ParseConfidence, 0.3)

	// 顶层应只有一个一级标题，其余块挂在其下
	require.Len(t, doc.Blocks, 1)
	root := doc.Blocks[0]
	assert.Equal(t, BlockHeading, root.Type)
	assert.Equal(t, 1, root.Level)
	assert.Equal(t, "Security Analysis", root.Text)

	var headings, codes, lists, paras int
	var walk func([]*Block)
	walk = func(blocks []*Block) {
		for _, b := range blocks {
			switch b.Type {
			case BlockHeading:
				headings++
			case BlockCode:
				codes++
			case BlockListItem:
				lists++
			case BlockParagraph:
				paras++
			}
			walk(b.Children)
		}
	}
	walk(doc.Blocks)
	assert.Equal(t, 5, headings)
	assert.Equal(t, 1, codes)
	assert.Equal(t, 2, lists)
	assert.Equal(t, 2, paras)
}

func TestParse_CodeFenceKeepsLanguageAndBody(t *testing.T) {
	doc := NewFormatNeutralParser().Parse(sampleReport)

	var code *Block
	var walk func([]*Block)
	walk = func(blocks []*Block) {
		for _, b := range blocks {
			if b.Type == BlockCode {
				code = b
			}
			walk(b.Children)
		}
	}
	walk(doc.Blocks)

	require.NotNil(t, code)
	assert.Equal(t, "go", code.Language)
	assert.Contains(t, code.Text, "func checkToken")
	assert.NotContains(t, code.Text, "```")
}

func TestParse_UnclosedFenceConsumesToEnd(t *testing.T) {
	raw := "# Report\n\n```python\nprint('hi')\n"
	doc := NewFormatNeutralParser().Parse(raw)

	require.Len(t, doc.Blocks, 1)
	require.Len(t, doc.Blocks[0].Children, 1)
	code := doc.Blocks[0].Children[0]
	assert.Equal(t, BlockCode, code.Type)
	assert.Equal(t, "python", code.Language)
	assert.Contains(t, code.Text, "print('hi')")
}

func TestParse_SetextHeadings(t *testing.T) {
	raw := "Main Title\n====\n\nSection\n----\n\nbody text here\n"
	doc := NewFormatNeutralParser().Parse(raw)

	require.Len(t, doc.Blocks, 1)
	assert.Equal(t, 1, doc.Blocks[0].Level)
	assert.Equal(t, "Main Title", doc.Blocks[0].Text)
	require.Len(t, doc.Blocks[0].Children, 1)
	sub := doc.Blocks[0].Children[0]
	assert.Equal(t, 2, sub.Level)
	assert.Equal(t, "Section", sub.Text)
	require.Len(t, sub.Children, 1)
	assert.Equal(t, BlockParagraph, sub.Children[0].Type)
}

func TestParse_NumberedSections(t *testing.T) {
	raw := "1.1 Dependency Risks\n\nlodash is outdated.\n"
	doc := NewFormatNeutralParser().Parse(raw)

	require.Len(t, doc.Blocks, 1)
	assert.Equal(t, BlockHeading, doc.Blocks[0].Type)
	assert.Equal(t, "Dependency Risks", doc.Blocks[0].Text)
}

func TestParse_FlatNumberedStepsStayListItems(t *testing.T) {
	raw := "# Setup\n\n1. Install deps\n2. Run migrations\n3. Start the server\n\n## Notes\nRuns on port 8080.\n"
	doc := NewFormatNeutralParser().Parse(raw)

	// 单级编号是步骤列表而不是小节标题，后续小节的层级不受影响
	require.Len(t, doc.Blocks, 1)
	root := doc.Blocks[0]
	assert.Equal(t, "Setup", root.Text)
	require.Len(t, root.Children, 4)
	for _, b := range root.Children[:3] {
		assert.Equal(t, BlockListItem, b.Type)
	}
	notes := root.Children[3]
	assert.Equal(t, BlockHeading, notes.Type)
	assert.Equal(t, 2, notes.Level)
}

func TestParse_PlainTextDegradesGracefully(t *testing.T) {
	raw := "just some prose without any structure at all\nspread over two lines\n"
	doc := NewFormatNeutralParser().Parse(raw)

	require.Len(t, doc.Blocks, 1)
	assert.Equal(t, BlockParagraph, doc.Blocks[0].Type)
	assert.Greater(t, doc.ParseConfidence, 0.0)
	assert.Less(t, doc.ParseConfidence, 0.3)
}

func TestParse_EmptyInput(t *testing.T) {
	doc := NewFormatNeutralParser().Parse("   \n\n  ")
	assert.Empty(t, doc.Blocks)
	assert.Zero(t, doc.ParseConfidence)
}

func TestParse_SourceOffsetsPreserved(t *testing.T) {
	raw := "# A\n\nbody\n"
	doc := NewFormatNeutralParser().Parse(raw)

	require.Len(t, doc.Blocks, 1)
	h := doc.Blocks[0]
	assert.Equal(t, 0, h.StartOffset)
	require.Len(t, h.Children, 1)
	p := h.Children[0]
	assert.Equal(t, "body", raw[p.StartOffset:p.EndOffset])
}
