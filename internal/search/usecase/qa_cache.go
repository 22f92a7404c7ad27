package usecase

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	searchdomain "levramail-backend/internal/search/domain"
	"levramail-backend/internal/search/repository"
	"levramail-backend/pkg/chroma"
	"levramail-backend/pkg/dbtypes"
	"levramail-backend/pkg/embedding"

	"github.com/google/uuid"
)

const (
	// LookupThreshold is the similarity a cached answer needs to be served.
	LookupThreshold = 0.85
	// DuplicateThreshold marks two questions as the same question.
	DuplicateThreshold = 0.95
	minResponseLength  = 50
	queryCandidates    = 5
)

// QAMatch is an indexed entry and its similarity to a question.
type QAMatch struct {
	ID         string
	Similarity float64
}

// QAIndex finds cached questions similar to a new one. vec may be nil when embedding failed.
type QAIndex interface {
	Add(ctx context.Context, entry *searchdomain.QAEntry) error
	Query(ctx context.Context, accountID, question string, vec []float32, n int) ([]QAMatch, error)
	Delete(ctx context.Context, ids ...string) error
}

// LocalIndex compares against the vectors stored with the entries.
type LocalIndex struct {
	repo repository.QARepository
}

func NewLocalIndex(repo repository.QARepository) *LocalIndex {
	return &LocalIndex{repo: repo}
}

// Add is a no-op: the row store already holds the vector.
func (l *LocalIndex) Add(context.Context, *searchdomain.QAEntry) error { return nil }

func (l *LocalIndex) Query(_ context.Context, accountID, _ string, vec []float32, n int) ([]QAMatch, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	entries, err := l.repo.FindByAccount(accountID)
	if err != nil {
		return nil, err
	}
	matches := make([]QAMatch, 0, len(entries))
	for _, e := range entries {
		if len(e.Embeddings) != len(vec) {
			continue
		}
		matches = append(matches, QAMatch{ID: e.ID, Similarity: dbtypes.Cosine(vec, e.Embeddings)})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if len(matches) > n {
		matches = matches[:n]
	}
	return matches, nil
}

// Delete is a no-op: removing the rows removes the vectors.
func (l *LocalIndex) Delete(context.Context, ...string) error { return nil }

// ChromaIndex keeps questions in a Chroma collection, which embeds them itself.
type ChromaIndex struct {
	client *chroma.Client
}

func NewChromaIndex(client *chroma.Client) *ChromaIndex {
	return &ChromaIndex{client: client}
}

func (c *ChromaIndex) Add(ctx context.Context, entry *searchdomain.QAEntry) error {
	return c.client.Upsert(ctx, entry.ID, entry.AccountID, entry.Query)
}

func (c *ChromaIndex) Query(ctx context.Context, accountID, question string, _ []float32, n int) ([]QAMatch, error) {
	found, err := c.client.Query(ctx, accountID, question, n)
	if err != nil {
		return nil, err
	}
	out := make([]QAMatch, 0, len(found))
	for _, m := range found {
		out = append(out, QAMatch{ID: m.ID, Similarity: chromaSimilarity(m.Distance)})
	}
	return out, nil
}

func (c *ChromaIndex) Delete(ctx context.Context, ids ...string) error {
	return c.client.Delete(ctx, ids...)
}

// chromaSimilarity converts a squared L2 distance between unit vectors to cosine similarity.
func chromaSimilarity(distance float64) float64 {
	return 1 - distance/2
}

// QACache stores answered questions per account and serves them to similar questions.
type QACache interface {
	// Lookup returns the best cached answer at or above LookupThreshold, or nil.
	Lookup(ctx context.Context, accountID, question string) *searchdomain.QAEntry
	// Add caches an answer. Short answers and near-duplicates of a cached question are skipped.
	Add(ctx context.Context, accountID, question, response string) (bool, error)
	// MarkUnhelpful deletes the entries for question and returns how many were removed.
	MarkUnhelpful(ctx context.Context, accountID, question string) (int64, error)
}

type qaCache struct {
	repo     repository.QARepository
	index    QAIndex
	embedder embedding.Embedder
}

// NewQACache defaults to a LocalIndex over repo when index is nil.
func NewQACache(repo repository.QARepository, index QAIndex, embedder embedding.Embedder) QACache {
	if index == nil {
		index = NewLocalIndex(repo)
	}
	return &qaCache{repo: repo, index: index, embedder: embedder}
}

func (c *qaCache) embed(ctx context.Context, text string) []float32 {
	if c.embedder == nil {
		return nil
	}
	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		log.Printf("[QACache] Embedding failed: %v", err)
		return nil
	}
	return vec
}

func (c *qaCache) match(ctx context.Context, accountID, question string, vec []float32) []QAMatch {
	matches, err := c.index.Query(ctx, accountID, question, vec, queryCandidates)
	if err != nil {
		log.Printf("[QACache] Index query failed: %v", err)
		return nil
	}
	return matches
}

func (c *qaCache) Lookup(ctx context.Context, accountID, question string) *searchdomain.QAEntry {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil
	}
	var best *QAMatch
	for _, m := range c.match(ctx, accountID, question, c.embed(ctx, question)) {
		if m.Similarity >= LookupThreshold && (best == nil || m.Similarity > best.Similarity) {
			m := m
			best = &m
		}
	}
	if best == nil {
		return nil
	}
	entry, err := c.repo.FindByID(best.ID)
	if err != nil {
		log.Printf("[QACache] Failed to load entry %s: %v", best.ID, err)
		return nil
	}
	if entry == nil || entry.AccountID != accountID {
		return nil
	}
	log.Printf("[QACache] Hit for account %s (similarity %.3f)", accountID, best.Similarity)
	return entry
}

func (c *qaCache) Add(ctx context.Context, accountID, question, response string) (bool, error) {
	question = strings.TrimSpace(question)
	if question == "" || len(strings.TrimSpace(response)) < minResponseLength {
		return false, nil
	}

	vec := c.embed(ctx, question)
	for _, m := range c.match(ctx, accountID, question, vec) {
		if m.Similarity >= DuplicateThreshold {
			return false, nil
		}
	}

	entry := &searchdomain.QAEntry{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		Query:      question,
		Response:   response,
		Embeddings: dbtypes.Vector(vec),
	}
	if err := c.repo.Create(entry); err != nil {
		return false, fmt.Errorf("failed to store answer: %w", err)
	}
	if err := c.index.Add(ctx, entry); err != nil {
		log.Printf("[QACache] Failed to index entry %s: %v", entry.ID, err)
	}
	return true, nil
}

func (c *qaCache) MarkUnhelpful(ctx context.Context, accountID, question string) (int64, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return 0, nil
	}

	ids, err := c.repo.FindContaining(accountID, question)
	if err != nil {
		return 0, fmt.Errorf("failed to find entries: %w", err)
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	for _, m := range c.match(ctx, accountID, question, c.embed(ctx, question)) {
		if m.Similarity >= DuplicateThreshold && !seen[m.ID] {
			seen[m.ID] = true
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	// Entries of other accounts returned by the index are never deleted.
	owned := ids[:0]
	for _, id := range ids {
		entry, err := c.repo.FindByID(id)
		if err == nil && entry != nil && entry.AccountID == accountID {
			owned = append(owned, id)
		}
	}

	n, err := c.repo.Delete(owned)
	if err != nil {
		return 0, fmt.Errorf("failed to delete entries: %w", err)
	}
	if err := c.index.Delete(ctx, owned...); err != nil {
		log.Printf("[QACache] Failed to delete %d entries from index: %v", len(owned), err)
	}
	log.Printf("[QACache] Removed %d unhelpful entries for account %s", n, accountID)
	return n, nil
}
