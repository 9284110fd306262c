package search

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemConfig configures NewChromemIndex.
type ChromemConfig struct {
	PersistPath string // directory; empty keeps the index in memory
	Collection  string
}

// ChromemIndex implements Searcher with an in-process chromem-go collection.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewChromemIndex opens (or creates) the collection.
func NewChromemIndex(cfg ChromemConfig, embedder Embedder) (*ChromemIndex, error) {
	if cfg.Collection == "" {
		cfg.Collection = "support_documents"
	}

	var (
		db  *chromem.DB
		err error
	)
	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(cfg.PersistPath, "chromem.gob"), false)
		if err != nil {
			return nil, fmt.Errorf("search: create persistent db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	embed := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}
	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("search: create collection: %w", err)
	}

	return &ChromemIndex{db: db, collection: collection}, nil
}

// Add implements Searcher.
func (c *ChromemIndex) Add(ctx context.Context, docs []Document) error {
	for _, doc := range docs {
		if err := c.collection.AddDocument(ctx, chromem.Document{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		}); err != nil {
			return fmt.Errorf("search: add document %s: %w", doc.ID, err)
		}
	}
	return nil
}

// Search implements Searcher.
func (c *ChromemIndex) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	// chromem rejects k larger than the collection.
	k = min(k, c.collection.Count())
	if k <= 0 {
		return nil, nil
	}

	found, err := c.collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("search: query collection: %w", err)
	}

	results := make([]Result, 0, len(found))
	for _, r := range found {
		results = append(results, Result{
			Document: Document{ID: r.ID, Content: r.Content, Metadata: r.Metadata},
			Distance: distance(r.Similarity),
		})
	}
	return results, nil
}

// Count implements Searcher.
func (c *ChromemIndex) Count(context.Context) (int, error) {
	return c.collection.Count(), nil
}
