package ingestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-analysis-rag/internal/domain/entity"
)

func chunkReport(t *testing.T, raw string, maxSize int) ([]*entity.Chunk, []*entity.ChunkRelationship) {
	t.Helper()
	doc := NewFormatNeutralParser().Parse(raw)
	pdoc := NewPreprocessor().Preprocess(doc)
	req := &IngestRequest{
		RepositoryID: "repo-1",
		SourceType:   entity.SourceTypeAnalysisReport,
		SourceID:     "report-1",
		RawText:      raw,
	}
	return NewHierarchicalChunker(maxSize).Chunk(pdoc, req, 0, time.Now())
}

const threeSectionReport = `# Intro
This report covers the demo service and its authentication flow in detail.

# Code Example
` + "```go" + `
func login(user, pass string) error {
	return authenticate(user, pass)
}
` + "```" + `

# Summary
The service works but needs hardening before production use.
`

func TestChunk_ThreeSections(t *testing.T) {
	chunks, rels := chunkReport(t, threeSectionReport, 120)

	require.Len(t, chunks, 3)
	for i, ck := range chunks {
		assert.Equal(t, i, ck.ChunkIndex)
		assert.Equal(t, 3, ck.TotalChunks)
		assert.Equal(t, "repo-1", ck.RepositoryID)
		assert.Equal(t, entity.EmbeddingStatusPending, ck.EmbeddingStatus)
	}
	assert.Contains(t, chunks[0].Content, "Intro")
	assert.Contains(t, chunks[1].Content, "func login")
	assert.Contains(t, chunks[2].Content, "Summary")

	var sequential []*entity.ChunkRelationship
	for _, r := range rels {
		if r.RelationshipType == entity.RelationshipSequential {
			sequential = append(sequential, r)
		}
	}
	require.Len(t, sequential, 2)
	assert.Equal(t, chunks[0].ID, sequential[0].SourceChunkID)
	assert.Equal(t, chunks[1].ID, sequential[0].TargetChunkID)
	assert.Equal(t, chunks[1].ID, sequential[1].SourceChunkID)
	assert.Equal(t, chunks[2].ID, sequential[1].TargetChunkID)
}

func TestChunk_DeterministicIndexAndID(t *testing.T) {
	first, _ := chunkReport(t, threeSectionReport, 120)
	second, _ := chunkReport(t, threeSectionReport, 120)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].ChunkIndex, second[i].ChunkIndex)
	}
}

func TestChunk_EditedSectionKeepsPositions(t *testing.T) {
	edited := threeSectionReport[:len(threeSectionReport)-len("The service works but needs hardening before production use.\n")] +
		"A completely rewritten summary with different content.\n"

	before, _ := chunkReport(t, threeSectionReport, 120)
	after, _ := chunkReport(t, edited, 120)

	require.Equal(t, len(before), len(after))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
	}
	assert.Equal(t, before[0].Content, after[0].Content)
	assert.Equal(t, before[1].Content, after[1].Content)
	assert.NotEqual(t, before[2].Content, after[2].Content)
}

func TestChunk_OversizedBlockKeptWhole(t *testing.T) {
	long := make([]byte, 0, 600)
	for i := 0; i < 60; i++ {
		long = append(long, []byte("0123456789")...)
	}
	raw := "# Big Code\n```\n" + string(long) + "\n```\n"

	chunks, _ := chunkReport(t, raw, 100)

	// 超限代码块不拆分，独占一个 chunk
	var codeChunk *entity.Chunk
	for _, ck := range chunks {
		if ck.ContentType == entity.ContentTypeCode {
			codeChunk = ck
		}
	}
	require.NotNil(t, codeChunk)
	assert.Contains(t, codeChunk.Content, string(long))
}

func TestChunk_HierarchicalRelationships(t *testing.T) {
	raw := `# Root
intro paragraph long enough to matter for chunking purposes here.

## Child Section
child body that will land in its own chunk because of the size limit imposed.
`
	chunks, rels := chunkReport(t, raw, 80)
	require.GreaterOrEqual(t, len(chunks), 2)

	var hier []*entity.ChunkRelationship
	for _, r := range rels {
		if r.RelationshipType == entity.RelationshipHierarchical {
			hier = append(hier, r)
		}
	}
	require.NotEmpty(t, hier)
	// 子小节块指向承载其父标题的块
	assert.Equal(t, chunks[0].ID, hier[0].TargetChunkID)
}

func TestChunk_TemporaryStorageGetsExpiry(t *testing.T) {
	doc := NewFormatNeutralParser().Parse("# A\n\nbody text\n")
	pdoc := NewPreprocessor().Preprocess(doc)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	req := &IngestRequest{
		RepositoryID: "repo-1",
		SourceType:   entity.SourceTypeToolResult,
		SourceID:     "scan-1",
		StorageType:  entity.StorageTypeTemporary,
	}
	chunks, _ := NewHierarchicalChunker(1600).Chunk(pdoc, req, time.Hour, now)

	require.NotEmpty(t, chunks)
	require.NotNil(t, chunks[0].ExpiresAt)
	assert.Equal(t, now.Add(time.Hour), *chunks[0].ExpiresAt)
	assert.Equal(t, entity.StorageTypeTemporary, chunks[0].StorageType)
}

func TestChunk_PermanentHasNoExpiry(t *testing.T) {
	chunks, _ := chunkReport(t, "# A\n\nbody\n", 1600)
	require.NotEmpty(t, chunks)
	assert.Equal(t, entity.StorageTypePermanent, chunks[0].StorageType)
	assert.Nil(t, chunks[0].ExpiresAt)
}
