package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	maildomain "levramail-backend/internal/mail/domain"
	searchdomain "levramail-backend/internal/search/domain"
	"levramail-backend/internal/search/repository"
	"levramail-backend/pkg/embedding"
	"levramail-backend/pkg/fuzzy"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultLimit     = 20
	DefaultThreshold = 0.6

	// minKeywordScore is given to substring matches the fuzzy scorer does not see,
	// e.g. deep inside a long body.
	minKeywordScore = 0.1
)

var ErrEmptyTerm = errors.New("search term is empty")

// Engine searches the email, uploaded file and synced item families of an account.
type Engine interface {
	// VectorSearch ranks emails by similarity. A quota error degrades to keyword search.
	VectorSearch(ctx context.Context, accountID string, q searchdomain.Query) ([]searchdomain.Hit, error)
	// VectorSearchAllSources splits the limit 50/25/25 across emails, files and synced items.
	VectorSearchAllSources(ctx context.Context, accountID string, q searchdomain.Query) ([]searchdomain.Hit, error)
	Search(ctx context.Context, accountID, term string, limit int) ([]searchdomain.Hit, error)
	SearchBySource(ctx context.Context, accountID, term, source string, limit int) ([]searchdomain.Hit, error)
	DocumentCount(ctx context.Context, accountID string) (*searchdomain.DocumentCount, error)
	Insert(ctx context.Context, doc maildomain.IndexDocument) error
	InsertBatch(ctx context.Context, docs []maildomain.IndexDocument) searchdomain.BatchStats
}

// Defaults apply to queries that leave Limit or Threshold unset.
type Defaults struct {
	Limit     int
	Threshold float64
}

type engine struct {
	repo     repository.VectorRepository
	embedder embedding.Embedder
	defaults Defaults
}

// NewEngine searches the vectors in repo. Vector searches fail without an embedder; keyword search
// still works.
func NewEngine(repo repository.VectorRepository, embedder embedding.Embedder, defaults Defaults) Engine {
	if defaults.Limit <= 0 {
		defaults.Limit = DefaultLimit
	}
	if defaults.Threshold <= 0 {
		defaults.Threshold = DefaultThreshold
	}
	return &engine{repo: repo, embedder: embedder, defaults: defaults}
}

func (e *engine) normalize(q searchdomain.Query) searchdomain.Query {
	q.Term = strings.TrimSpace(q.Term)
	if q.Limit <= 0 {
		q.Limit = e.defaults.Limit
	}
	if q.Threshold <= 0 {
		q.Threshold = e.defaults.Threshold
	}
	return q
}

func (e *engine) embedQuery(ctx context.Context, term string) ([]float32, error) {
	if e.embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	return e.embedder.Embed(ctx, term)
}

func (e *engine) VectorSearch(ctx context.Context, accountID string, q searchdomain.Query) ([]searchdomain.Hit, error) {
	q = e.normalize(q)
	if q.Term == "" {
		return nil, ErrEmptyTerm
	}

	vec, err := e.embedQuery(ctx, q.Term)
	if embedding.IsQuotaError(err) {
		log.Printf("[Search] Embedding quota exceeded, falling back to keyword search")
		return e.Search(ctx, accountID, q.Term, q.Limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return e.searchEmails(accountID, vec, q.Limit, q)
}

func (e *engine) VectorSearchAllSources(ctx context.Context, accountID string, q searchdomain.Query) ([]searchdomain.Hit, error) {
	q = e.normalize(q)
	if q.Term == "" {
		return nil, ErrEmptyTerm
	}

	vec, err := e.embedQuery(ctx, q.Term)
	if embedding.IsQuotaError(err) {
		log.Printf("[Search] Embedding quota exceeded, falling back to email keyword search")
		return e.Search(ctx, accountID, q.Term, q.Limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	emailLimit := int(math.Ceil(0.5 * float64(q.Limit)))
	otherLimit := int(math.Ceil(0.25 * float64(q.Limit)))

	var emails, files, items []searchdomain.Hit
	var g errgroup.Group
	g.Go(func() error {
		hits, err := e.searchEmails(accountID, vec, emailLimit, q)
		if err != nil {
			log.Printf("[Search] Email search failed: %v", err)
		}
		emails = hits
		return nil
	})
	g.Go(func() error {
		hits, err := e.searchFiles(accountID, vec, otherLimit, q.Threshold)
		if err != nil {
			log.Printf("[Search] File search failed: %v", err)
		}
		files = hits
		return nil
	})
	g.Go(func() error {
		hits, err := e.searchItems(accountID, vec, otherLimit, q.Threshold)
		if err != nil {
			log.Printf("[Search] Integration search failed: %v", err)
		}
		items = hits
		return nil
	})
	_ = g.Wait()

	merged := make([]searchdomain.Hit, 0, len(emails)+len(files)+len(items))
	merged = append(merged, emails...)
	merged = append(merged, files...)
	merged = append(merged, items...)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > q.Limit {
		merged = merged[:q.Limit]
	}
	return merged, nil
}

// candidates filters by threshold and truncates to limit.
func (e *engine) candidates(source, accountID string, vec []float32, limit int, threshold float64) ([]searchdomain.Candidate, error) {
	found, err := e.repo.Similar(source, accountID, vec, limit)
	if err != nil {
		return nil, err
	}
	out := found[:0]
	for _, c := range found {
		if c.Similarity >= threshold {
			out = append(out, c)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (e *engine) searchEmails(accountID string, vec []float32, limit int, q searchdomain.Query) ([]searchdomain.Hit, error) {
	cands, err := e.candidates(searchdomain.SourceEmail, accountID, vec, limit, q.Threshold)
	if err != nil {
		return nil, err
	}
	cands = preferFirst(cands, q.PreferredIDs)

	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.ID
	}
	rows, err := e.repo.Emails(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load emails: %w", err)
	}
	byID := make(map[string]maildomain.Email, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}

	hits := make([]searchdomain.Hit, 0, len(cands))
	for _, c := range cands {
		if doc, ok := byID[c.ID]; ok {
			hits = append(hits, searchdomain.Hit{ID: c.ID, Score: c.Similarity, Source: searchdomain.SourceEmail, Document: doc})
		}
	}
	return hits, nil
}

// preferFirst moves candidates whose email or thread id is preferred to the front, keeping order otherwise.
func preferFirst(cands []searchdomain.Candidate, preferred []string) []searchdomain.Candidate {
	if len(preferred) == 0 {
		return cands
	}
	set := make(map[string]bool, len(preferred))
	for _, id := range preferred {
		set[id] = true
	}
	out := make([]searchdomain.Candidate, 0, len(cands))
	for _, c := range cands {
		if set[c.ID] || (c.ThreadID != "" && set[c.ThreadID]) {
			out = append(out, c)
		}
	}
	for _, c := range cands {
		if !set[c.ID] && (c.ThreadID == "" || !set[c.ThreadID]) {
			out = append(out, c)
		}
	}
	return out
}

func (e *engine) searchFiles(accountID string, vec []float32, limit int, threshold float64) ([]searchdomain.Hit, error) {
	cands, err := e.candidates(searchdomain.SourceFile, accountID, vec, limit, threshold)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.ID
	}
	rows, err := e.repo.Files(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load files: %w", err)
	}
	byID := map[string]interface{}{}
	for _, r := range rows {
		byID[r.ID] = r
	}
	return toHits(cands, byID, searchdomain.SourceFile), nil
}

func (e *engine) searchItems(accountID string, vec []float32, limit int, threshold float64) ([]searchdomain.Hit, error) {
	cands, err := e.candidates(searchdomain.SourceIntegration, accountID, vec, limit, threshold)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.ID
	}
	rows, err := e.repo.Items(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load synced items: %w", err)
	}
	byID := map[string]interface{}{}
	for _, r := range rows {
		byID[r.ID] = r
	}
	return toHits(cands, byID, searchdomain.SourceIntegration), nil
}

func toHits(cands []searchdomain.Candidate, docs map[string]interface{}, source string) []searchdomain.Hit {
	hits := make([]searchdomain.Hit, 0, len(cands))
	for _, c := range cands {
		if doc, ok := docs[c.ID]; ok {
			hits = append(hits, searchdomain.Hit{ID: c.ID, Score: c.Similarity, Source: source, Document: doc})
		}
	}
	return hits
}

func (e *engine) Search(ctx context.Context, accountID, term string, limit int) ([]searchdomain.Hit, error) {
	return e.SearchBySource(ctx, accountID, term, searchdomain.SourceEmail, limit)
}

func (e *engine) SearchBySource(_ context.Context, accountID, term, source string, limit int) ([]searchdomain.Hit, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, ErrEmptyTerm
	}
	if limit <= 0 {
		limit = e.defaults.Limit
	}

	switch source {
	case searchdomain.SourceEmail, "":
		rows, err := e.repo.KeywordEmails(accountID, term, limit)
		if err != nil {
			return nil, fmt.Errorf("keyword search failed: %w", err)
		}
		fromIDs := make([]string, 0, len(rows))
		for _, r := range rows {
			fromIDs = append(fromIDs, r.FromID)
		}
		senders, err := e.repo.SenderAddresses(fromIDs)
		if err != nil {
			senders = map[string]string{}
		}
		hits := make([]searchdomain.Hit, 0, len(rows))
		for _, r := range rows {
			body := r.Body
			if body == "" {
				body = r.BodySnippet
			}
			score := math.Max(fuzzy.Score(term, r.Subject, senders[r.FromID], body), minKeywordScore)
			hits = append(hits, searchdomain.Hit{ID: r.ID, Score: score, Source: searchdomain.SourceEmail, Document: r})
		}
		return hits, nil

	case searchdomain.SourceFile:
		rows, err := e.repo.KeywordFiles(accountID, term, limit)
		if err != nil {
			return nil, fmt.Errorf("keyword search failed: %w", err)
		}
		hits := make([]searchdomain.Hit, 0, len(rows))
		for _, r := range rows {
			score := math.Max(fuzzy.Score(term, r.FileName, "", r.Text), minKeywordScore)
			hits = append(hits, searchdomain.Hit{ID: r.ID, Score: score, Source: source, Document: r})
		}
		return hits, nil

	case searchdomain.SourceIntegration:
		rows, err := e.repo.KeywordItems(accountID, term, limit)
		if err != nil {
			return nil, fmt.Errorf("keyword search failed: %w", err)
		}
		hits := make([]searchdomain.Hit, 0, len(rows))
		for _, r := range rows {
			score := math.Max(fuzzy.Score(term, r.Title, "", r.Content), minKeywordScore)
			hits = append(hits, searchdomain.Hit{ID: r.ID, Score: score, Source: source, Document: r})
		}
		return hits, nil
	}
	return nil, fmt.Errorf("unknown source %q", source)
}

func (e *engine) DocumentCount(_ context.Context, accountID string) (*searchdomain.DocumentCount, error) {
	return e.repo.Count(accountID)
}

func (e *engine) Insert(_ context.Context, doc maildomain.IndexDocument) error {
	if len(doc.Embeddings) == 0 {
		return fmt.Errorf("document %s has no embeddings", doc.ID)
	}
	source := doc.Source
	if source == "" {
		source = searchdomain.SourceEmail
	}
	return e.repo.SetEmbedding(source, doc.ID, doc.Embeddings)
}

func (e *engine) InsertBatch(ctx context.Context, docs []maildomain.IndexDocument) searchdomain.BatchStats {
	var stats searchdomain.BatchStats
	for _, doc := range docs {
		if err := e.Insert(ctx, doc); err != nil {
			log.Printf("[Search] Failed to index %s: %v", doc.ID, err)
			stats.Failed++
			continue
		}
		stats.Inserted++
	}
	return stats
}
