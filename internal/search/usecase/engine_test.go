package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	accountdomain "levramail-backend/internal/account/domain"
	integrationdomain "levramail-backend/internal/integration/domain"
	maildomain "levramail-backend/internal/mail/domain"
	searchdomain "levramail-backend/internal/search/domain"
	"levramail-backend/internal/search/repository"
	"levramail-backend/internal/testutil"
	"levramail-backend/pkg/dbtypes"
	"levramail-backend/pkg/embedding"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type mapEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (m *mapEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	if v, ok := m.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func newSearchDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := testutil.NewDB(t,
		&accountdomain.Account{}, &maildomain.Thread{}, &maildomain.Email{}, &maildomain.EmailAddress{},
		&integrationdomain.AppConnection{}, &integrationdomain.SyncedItem{}, &integrationdomain.ChatAttachment{},
		&searchdomain.QAEntry{},
	)
	require.NoError(t, db.Create(&accountdomain.Account{ID: "acc", UserID: "u1", Provider: accountdomain.ProviderAurinko}).Error)
	require.NoError(t, db.Create(&maildomain.Thread{ID: "t1", AccountID: "acc"}).Error)
	require.NoError(t, db.Create(&maildomain.Thread{ID: "t2", AccountID: "acc"}).Error)
	require.NoError(t, db.Create(&maildomain.Thread{ID: "foreign", AccountID: "other"}).Error)
	require.NoError(t, db.Create(&integrationdomain.AppConnection{ID: "conn", UserID: "u1", Provider: integrationdomain.ProviderGoogleDrive}).Error)
	return db
}

func addEmail(t *testing.T, db *gorm.DB, id, threadID, subject string, vec []float32, sentAt time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&maildomain.Email{
		ID: id, ThreadID: threadID, Subject: subject, Body: "body of " + subject, SentAt: sentAt, Embeddings: dbtypes.Vector(vec),
	}).Error)
}

func seedFamilies(t *testing.T, db *gorm.DB) {
	t.Helper()
	now := time.Now()
	addEmail(t, db, "e1", "t1", "Budget review", []float32{1, 0, 0}, now.Add(-3*time.Hour))
	addEmail(t, db, "e2", "t2", "Budget draft", []float32{0.9, 0.1, 0}, now.Add(-2*time.Hour))
	addEmail(t, db, "e3", "t1", "Lunch", []float32{0, 1, 0}, now.Add(-time.Hour))
	addEmail(t, db, "e4", "t2", "Budget numbers", []float32{0.8, 0.2, 0}, now)
	addEmail(t, db, "x1", "foreign", "Budget elsewhere", []float32{1, 0, 0}, now)
	addEmail(t, db, "e5", "t1", "No vector budget", nil, now.Add(time.Minute))

	require.NoError(t, db.Create(&integrationdomain.ChatAttachment{ID: "f1", AccountID: "acc", FileName: "budget.txt", Text: "budget", TextEmbeddings: dbtypes.Vector{0.95, 0.05, 0}}).Error)
	require.NoError(t, db.Create(&integrationdomain.ChatAttachment{ID: "f2", AccountID: "acc", FileName: "plan.txt", Text: "plan", TextEmbeddings: dbtypes.Vector{0.7, 0.3, 0}}).Error)
	require.NoError(t, db.Create(&integrationdomain.SyncedItem{ID: "s1", ConnectionID: "conn", ExternalID: "d1", Title: "Budget sheet", Embeddings: dbtypes.Vector{0.85, 0.15, 0}}).Error)
	require.NoError(t, db.Create(&integrationdomain.SyncedItem{ID: "s2", ConnectionID: "conn", ExternalID: "d2", Title: "Notes", Embeddings: dbtypes.Vector{0.6, 0.4, 0}}).Error)
}

func newTestEngine(t *testing.T) (Engine, *gorm.DB, *mapEmbedder) {
	db := newSearchDB(t)
	seedFamilies(t, db)
	emb := &mapEmbedder{vectors: map[string][]float32{"budget": {1, 0, 0}}}
	return NewEngine(repository.NewVectorRepository(db), emb, Defaults{}), db, emb
}

func hitIDs(hits []searchdomain.Hit) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids
}

func TestVectorSearchRanksAndFilters(t *testing.T) {
	e, _, _ := newTestEngine(t)

	hits, err := e.VectorSearch(context.Background(), "acc", searchdomain.Query{Term: "budget"})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2", "e4"}, hitIDs(hits))
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	for _, h := range hits {
		assert.Equal(t, searchdomain.SourceEmail, h.Source)
		assert.IsType(t, maildomain.Email{}, h.Document)
	}
}

func TestVectorSearchPreferredIDsFirst(t *testing.T) {
	e, _, _ := newTestEngine(t)

	hits, err := e.VectorSearch(context.Background(), "acc", searchdomain.Query{Term: "budget", PreferredIDs: []string{"t2"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"e2", "e4", "e1"}, hitIDs(hits))

	hits, err = e.VectorSearch(context.Background(), "acc", searchdomain.Query{Term: "budget", Limit: 1, Threshold: 0.99})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, hitIDs(hits))
}

func TestVectorSearchAllSourcesSplitsLimit(t *testing.T) {
	e, _, _ := newTestEngine(t)

	hits, err := e.VectorSearchAllSources(context.Background(), "acc", searchdomain.Query{Term: "budget", Limit: 4})
	require.NoError(t, err)
	require.Len(t, hits, 4)

	counts := map[string]int{}
	for i, h := range hits {
		counts[h.Source]++
		if i > 0 {
			assert.GreaterOrEqual(t, hits[i-1].Score, h.Score)
		}
	}
	assert.Equal(t, map[string]int{searchdomain.SourceEmail: 2, searchdomain.SourceFile: 1, searchdomain.SourceIntegration: 1}, counts)
	assert.Equal(t, []string{"e1", "f1", "e2", "s1"}, hitIDs(hits))
}

// failingRepo breaks one family.
type failingRepo struct {
	repository.VectorRepository
	source string
}

func (f *failingRepo) Similar(source, accountID string, vec []float32, n int) ([]searchdomain.Candidate, error) {
	if source == f.source {
		return nil, errors.New("table missing")
	}
	return f.VectorRepository.Similar(source, accountID, vec, n)
}

func TestFamilyFailureDoesNotCancelOthers(t *testing.T) {
	db := newSearchDB(t)
	seedFamilies(t, db)
	repo := &failingRepo{VectorRepository: repository.NewVectorRepository(db), source: searchdomain.SourceFile}
	e := NewEngine(repo, &mapEmbedder{vectors: map[string][]float32{"budget": {1, 0, 0}}}, Defaults{})

	hits, err := e.VectorSearchAllSources(context.Background(), "acc", searchdomain.Query{Term: "budget", Limit: 4})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2", "s1"}, hitIDs(hits))
}

func TestQuotaErrorFallsBackToKeywordSearch(t *testing.T) {
	e, _, emb := newTestEngine(t)
	emb.err = &embedding.QuotaError{Provider: "gemini", Status: 429, Message: "RESOURCE_EXHAUSTED"}

	hits, err := e.VectorSearchAllSources(context.Background(), "acc", searchdomain.Query{Term: "Budget"})
	require.NoError(t, err)
	// Newest first, scoped to the account, every email family hit.
	assert.Equal(t, []string{"e5", "e4", "e2", "e1"}, hitIDs(hits))
	for _, h := range hits {
		assert.Equal(t, searchdomain.SourceEmail, h.Source)
		assert.Greater(t, h.Score, 0.0)
	}

	hits, err = e.VectorSearch(context.Background(), "acc", searchdomain.Query{Term: "lunch"})
	require.NoError(t, err)
	assert.Equal(t, []string{"e3"}, hitIDs(hits))
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
}

func TestOtherEmbeddingErrorsFail(t *testing.T) {
	e, _, emb := newTestEngine(t)
	emb.err = errors.New("connection refused")

	_, err := e.VectorSearch(context.Background(), "acc", searchdomain.Query{Term: "budget"})
	assert.Error(t, err)
}

func TestSearchBySource(t *testing.T) {
	e, _, _ := newTestEngine(t)

	files, err := e.SearchBySource(context.Background(), "acc", "plan", searchdomain.SourceFile, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"f2"}, hitIDs(files))

	items, err := e.SearchBySource(context.Background(), "acc", "sheet", searchdomain.SourceIntegration, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, hitIDs(items))

	_, err = e.SearchBySource(context.Background(), "acc", "  ", searchdomain.SourceEmail, 10)
	assert.ErrorIs(t, err, ErrEmptyTerm)
}

func TestInsertBatchAndCount(t *testing.T) {
	e, db, _ := newTestEngine(t)
	ctx := context.Background()

	count, err := e.DocumentCount(ctx, "acc")
	require.NoError(t, err)
	assert.Equal(t, searchdomain.DocumentCount{Emails: 4, Files: 2, Integrations: 2, Total: 8}, *count)

	stats := e.InsertBatch(ctx, []maildomain.IndexDocument{
		{ID: "e5", Embeddings: []float32{0, 1, 0}},
		{ID: "missing", Embeddings: []float32{1, 0, 0}},
		{ID: "e3"},
	})
	assert.Equal(t, searchdomain.BatchStats{Inserted: 1, Failed: 2}, stats)

	var e5 maildomain.Email
	require.NoError(t, db.First(&e5, "id = ?", "e5").Error)
	assert.Equal(t, dbtypes.Vector{0, 1, 0}, e5.Embeddings)

	count, err = e.DocumentCount(ctx, "acc")
	require.NoError(t, err)
	assert.EqualValues(t, 5, count.Emails)
}
