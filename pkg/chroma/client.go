// Package chroma stores cached assistant answers in a Chroma Cloud collection.
package chroma

import (
	"context"
	"fmt"
	"log"

	"levramail-backend/pkg/config"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/amikos-tech/chroma-go/pkg/embeddings/gemini"
)

const DefaultCollection = "qa_cache"

// Match is a query result. Distance is the collection's squared L2 distance.
type Match struct {
	ID       string
	Distance float64
}

type Client struct {
	client     chroma.Client
	collection chroma.Collection
}

// NewClient connects to Chroma Cloud and opens the collection, embedding documents with Gemini.
func NewClient(ctx context.Context, cfg *config.Config, collectionName string) (*Client, error) {
	if cfg.ChromaAPIKey == "" {
		return nil, fmt.Errorf("CHROMA_API_KEY is required")
	}
	embedFunc, err := embeddingFunction(cfg.GeminiApiKey, cfg.EmbeddingModel)
	if err != nil {
		return nil, err
	}

	opts := []chroma.ClientOption{
		chroma.WithBaseURL(chroma.ChromaCloudEndpoint),
		chroma.WithCloudAPIKey(cfg.ChromaAPIKey),
	}
	switch {
	case cfg.ChromaDatabase != "" && cfg.ChromaTenant != "":
		opts = append(opts, chroma.WithDatabaseAndTenant(cfg.ChromaDatabase, cfg.ChromaTenant))
	case cfg.ChromaTenant != "":
		opts = append(opts, chroma.WithTenant(cfg.ChromaTenant))
	}

	client, err := chroma.NewHTTPClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Chroma client: %w", err)
	}

	if collectionName == "" {
		collectionName = DefaultCollection
	}
	collection, err := client.GetOrCreateCollection(ctx, collectionName, chroma.WithEmbeddingFunctionCreate(embedFunc))
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	log.Printf("[Chroma] Initialized collection %s", collectionName)
	return &Client{client: client, collection: collection}, nil
}

// embeddingFunction builds the Gemini embedder for the collection. An empty apiKey falls back
// to GEMINI_API_KEY and an empty model to the library default.
func embeddingFunction(apiKey, model string) (*gemini.GeminiEmbeddingFunction, error) {
	opts := []gemini.Option{gemini.WithEnvAPIKey()}
	if apiKey != "" {
		opts = []gemini.Option{gemini.WithAPIKey(apiKey)}
	}
	if model != "" {
		opts = append(opts, gemini.WithDefaultModel(embeddings.EmbeddingModel(model)))
	}
	embedFunc, err := gemini.NewGeminiEmbeddingFunction(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini embedding function: %w", err)
	}
	return embedFunc, nil
}

// Upsert stores text under id, scoped to accountID.
func (c *Client) Upsert(ctx context.Context, id, accountID, text string) error {
	metadata, err := chroma.NewDocumentMetadataFromMap(map[string]interface{}{
		"account_id": accountID,
	})
	if err != nil {
		return fmt.Errorf("failed to create metadata: %w", err)
	}

	err = c.collection.Upsert(
		ctx,
		chroma.WithIDs(chroma.DocumentID(id)),
		chroma.WithMetadatas(metadata),
		chroma.WithTexts(text),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

// Query returns up to n documents of accountID nearest to text.
func (c *Client) Query(ctx context.Context, accountID, text string, n int) ([]Match, error) {
	results, err := c.collection.Query(
		ctx,
		chroma.WithQueryTexts(text),
		chroma.WithNResults(n),
		chroma.WithWhereQuery(chroma.EqString("account_id", accountID)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}
	if results == nil || results.CountGroups() == 0 {
		return nil, nil
	}

	idGroups := results.GetIDGroups()
	distanceGroups := results.GetDistancesGroups()
	if len(idGroups) == 0 {
		return nil, nil
	}

	matches := make([]Match, 0, len(idGroups[0]))
	for i, id := range idGroups[0] {
		m := Match{ID: string(id)}
		if len(distanceGroups) > 0 && i < len(distanceGroups[0]) {
			m.Distance = float64(distanceGroups[0][i])
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// Delete removes documents by id.
func (c *Client) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	docIDs := make([]chroma.DocumentID, 0, len(ids))
	for _, id := range ids {
		docIDs = append(docIDs, chroma.DocumentID(id))
	}
	if err := c.collection.Delete(ctx, chroma.WithIDsDelete(docIDs...)); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}
