package usecase

import (
	"context"
	"strings"
	"testing"

	searchdomain "levramail-backend/internal/search/domain"
	"levramail-backend/internal/search/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var qaVectors = map[string][]float32{
	"how do i reset my password":  {1, 0, 0},
	"How do I reset my password":  {1, 0, 0},
	"how to reset my password":    {0.99, 0.05, 0},
	"password reset steps please": {0.9, 0.4, 0},
	"what is on my calendar":      {0, 1, 0},
}

var longAnswer = strings.Repeat("Open settings, choose security and follow the reset link. ", 2)

func newTestQACache(t *testing.T) (QACache, repository.QARepository) {
	db := newSearchDB(t)
	repo := repository.NewQARepository(db)
	return NewQACache(repo, nil, &mapEmbedder{vectors: qaVectors}), repo
}

func TestQACacheLookupThreshold(t *testing.T) {
	c, _ := newTestQACache(t)
	ctx := context.Background()

	added, err := c.Add(ctx, "acc", "how do i reset my password", longAnswer)
	require.NoError(t, err)
	require.True(t, added)

	hit := c.Lookup(ctx, "acc", "password reset steps please")
	require.NotNil(t, hit)
	assert.Equal(t, longAnswer, hit.Response)

	assert.Nil(t, c.Lookup(ctx, "acc", "what is on my calendar"))
	assert.Nil(t, c.Lookup(ctx, "other", "how do i reset my password"))
}

func TestQACacheSkipsShortAndDuplicateAnswers(t *testing.T) {
	c, repo := newTestQACache(t)
	ctx := context.Background()

	added, err := c.Add(ctx, "acc", "how do i reset my password", "Use settings.")
	require.NoError(t, err)
	assert.False(t, added)

	added, err = c.Add(ctx, "acc", "how do i reset my password", longAnswer)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = c.Add(ctx, "acc", "how to reset my password", longAnswer)
	require.NoError(t, err)
	assert.False(t, added)

	// Similar but not a duplicate.
	added, err = c.Add(ctx, "acc", "password reset steps please", longAnswer)
	require.NoError(t, err)
	assert.True(t, added)

	entries, err := repo.FindByAccount("acc")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestQACacheMarkUnhelpfulDeletes(t *testing.T) {
	c, repo := newTestQACache(t)
	ctx := context.Background()

	_, err := c.Add(ctx, "acc", "how do i reset my password", longAnswer)
	require.NoError(t, err)
	_, err = c.Add(ctx, "acc", "what is on my calendar", longAnswer)
	require.NoError(t, err)
	_, err = c.Add(ctx, "other", "how do i reset my password", longAnswer)
	require.NoError(t, err)

	n, err := c.MarkUnhelpful(ctx, "acc", "How do I reset my password")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Nil(t, c.Lookup(ctx, "acc", "how do i reset my password"))
	assert.NotNil(t, c.Lookup(ctx, "acc", "what is on my calendar"))
	assert.NotNil(t, c.Lookup(ctx, "other", "how do i reset my password"))

	// Substring match on the stored question also removes it.
	n, err = c.MarkUnhelpful(ctx, "acc", "calendar")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	entries, err := repo.FindByAccount("acc")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// recordingIndex captures what the cache sends to a remote index.
type recordingIndex struct {
	*LocalIndex
	added   []string
	deleted []string
}

func (r *recordingIndex) Add(_ context.Context, e *searchdomain.QAEntry) error {
	r.added = append(r.added, e.ID)
	return nil
}

func (r *recordingIndex) Delete(_ context.Context, ids ...string) error {
	r.deleted = append(r.deleted, ids...)
	return nil
}

func TestQACacheDeletesFromIndex(t *testing.T) {
	db := newSearchDB(t)
	repo := repository.NewQARepository(db)
	idx := &recordingIndex{LocalIndex: NewLocalIndex(repo)}
	c := NewQACache(repo, idx, &mapEmbedder{vectors: qaVectors})
	ctx := context.Background()

	_, err := c.Add(ctx, "acc", "how do i reset my password", longAnswer)
	require.NoError(t, err)
	require.Len(t, idx.added, 1)

	_, err = c.MarkUnhelpful(ctx, "acc", "how to reset my password")
	require.NoError(t, err)
	assert.Equal(t, idx.added, idx.deleted)
}

func TestChromaSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, chromaSimilarity(0), 1e-9)
	assert.InDelta(t, 0.5, chromaSimilarity(1), 1e-9)
	assert.InDelta(t, 0.0, chromaSimilarity(2), 1e-9)
}
