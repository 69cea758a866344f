package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"repo-analysis-rag/internal/domain/entity"
)

type stubTagGenerator struct {
	tags      []string
	questions []string
	err       error
	calls     int
}

func (s *stubTagGenerator) Generate(_ context.Context, _ string) ([]string, []string, error) {
	s.calls++
	return s.tags, s.questions, s.err
}

func TestEnhance_PrefixesWithoutTouchingContent(t *testing.T) {
	gen := &stubTagGenerator{
		tags:      []string{"auth", "security"},
		questions: []string{"How is the token validated?"},
	}
	e := NewChunkEnhancer(gen)

	ck := &entity.Chunk{Content: "Token validation happens in checkToken.", ContentType: entity.ContentTypeNarrative}
	e.Enhance(context.Background(), ck)

	assert.Equal(t, "Token validation happens in checkToken.", ck.Content)
	assert.Contains(t, ck.EnhancedContent, "auth")
	assert.Contains(t, ck.EnhancedContent, "How is the token validated?")
	assert.Contains(t, ck.EnhancedContent, ck.Content)
	assert.Contains(t, ck.Tags, "auth")
	assert.Contains(t, ck.Tags, "security")
}

func TestEnhance_GeneratorFailureFallsBackToHeuristics(t *testing.T) {
	gen := &stubTagGenerator{err: errors.New("model down")}
	e := NewChunkEnhancer(gen)

	ck := &entity.Chunk{
		Content:     "```go\nfunc Validate() {}\n```",
		ContentType: entity.ContentTypeCode,
		Language:    "go",
	}
	e.Enhance(context.Background(), ck)

	assert.Equal(t, 1, gen.calls)
	assert.Contains(t, ck.Tags, "code")
	assert.Contains(t, ck.Tags, "go")
	assert.NotEmpty(t, ck.EnhancedContent)
}

func TestEnhance_NilGeneratorUsesHeuristics(t *testing.T) {
	e := NewChunkEnhancer(nil)

	ck := &entity.Chunk{
		Content:     "# Authentication Flow\nThe login endpoint issues JWTs.",
		ContentType: entity.ContentTypeNarrative,
		Frameworks:  []string{"gin"},
	}
	e.Enhance(context.Background(), ck)

	assert.Contains(t, ck.Tags, "narrative")
	assert.Contains(t, ck.Tags, "gin")
	assert.Contains(t, ck.EnhancedContent, "Authentication Flow")
}

func TestEnhance_TagsDeduplicatedAndBounded(t *testing.T) {
	gen := &stubTagGenerator{tags: []string{"Auth", "auth", "AUTH", "a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8", "a9", "a10", "a11"}}
	e := NewChunkEnhancer(gen)

	ck := &entity.Chunk{Content: "x"}
	e.Enhance(context.Background(), ck)

	counts := map[string]int{}
	for _, tag := range ck.Tags {
		counts[tag]++
	}
	assert.Equal(t, 1, counts["auth"])
	assert.LessOrEqual(t, len(ck.Tags), 12)
}
