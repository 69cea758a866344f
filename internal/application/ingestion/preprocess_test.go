package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-analysis-rag/internal/domain/entity"
)

func preprocess(t *testing.T, raw string) *PreprocessedDocument {
	t.Helper()
	return NewPreprocessor().Preprocess(NewFormatNeutralParser().Parse(raw))
}

func TestPreprocess_CodeBlockLabeled(t *testing.T) {
	pdoc := preprocess(t, "```go\nfunc Authenticate(u string) error {\n\treturn nil\n}\n```\n")

	require.Len(t, pdoc.Blocks, 1)
	b := pdoc.Blocks[0]
	assert.Equal(t, entity.ContentTypeCode, b.ContentType)
	assert.Equal(t, "go", b.Language)
	assert.Contains(t, b.Functions, "Authenticate")
}

func TestPreprocess_LanguageGuessWithoutFence(t *testing.T) {
	cases := map[string]string{
		"def handler(event):\n    return event":      "python",
		"func main() {\n\tx := 1\n}":                 "go",
		"fn run() -> i32 {\n    0\n}":                "rust",
		"SELECT id FROM users WHERE active = true;":  "sql",
		"{\n  \"key\": \"value\"\n}":                 "json",
	}
	for code, want := range cases {
		assert.Equal(t, want, guessLanguage(code), "code: %s", code)
	}
}

func TestPreprocess_ClassExtraction(t *testing.T) {
	pdoc := preprocess(t, "```python\nclass ReportParser:\n    pass\n```\n")
	require.Len(t, pdoc.Blocks, 1)
	assert.Contains(t, pdoc.Blocks[0].Classes, "ReportParser")
}

func TestPreprocess_FrameworkDetection(t *testing.T) {
	pdoc := preprocess(t, "The backend is built with Django and uses Redis for caching.\n")
	require.Len(t, pdoc.Blocks, 1)
	assert.ElementsMatch(t, []string{"django", "redis"}, pdoc.Blocks[0].Frameworks)
}

func TestPreprocess_StructuredData(t *testing.T) {
	raw := "severity: high\ncategory: injection\ncwe: CWE-89\nconfidence: certain\n"
	pdoc := preprocess(t, raw)
	require.NotEmpty(t, pdoc.Blocks)
	assert.Equal(t, entity.ContentTypeStructuredData, pdoc.Blocks[0].ContentType)
}

func TestPreprocess_NarrativeDefault(t *testing.T) {
	pdoc := preprocess(t, "This project looks well maintained overall.\n")
	require.Len(t, pdoc.Blocks, 1)
	assert.Equal(t, entity.ContentTypeNarrative, pdoc.Blocks[0].ContentType)
}

func TestPreprocess_SectionTracking(t *testing.T) {
	raw := "# Top\n\npara one\n\n## Sub\n\npara two\n"
	pdoc := preprocess(t, raw)

	// 扁平化顺序: Top, para one, Sub, para two
	require.Len(t, pdoc.Blocks, 4)
	assert.Equal(t, -1, pdoc.SectionOf[0])
	assert.Equal(t, 0, pdoc.SectionOf[1])
	assert.Equal(t, 0, pdoc.SectionOf[2])
	assert.Equal(t, 2, pdoc.SectionOf[3])
}

func TestPreprocess_ReservedWordsFiltered(t *testing.T) {
	pdoc := preprocess(t, "```c\nif (x) { foo_bar(x); return; }\n```\n")
	require.Len(t, pdoc.Blocks, 1)
	assert.NotContains(t, pdoc.Blocks[0].Functions, "if")
	assert.Contains(t, pdoc.Blocks[0].Functions, "foo_bar")
}
