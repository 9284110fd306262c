// Package search provides the vector search used to answer support
// questions from the knowledge base. Two indexes implement Searcher: an
// in-process chromem-go collection (optionally persisted to disk) and a
// Qdrant collection reached over gRPC. Both rank by cosine distance.
package search

import (
	"context"
	"errors"
)

// ErrEmptyQuery is returned for blank queries.
var ErrEmptyQuery = errors.New("search: empty query")

// Document is one indexed support snippet.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// Result is a matched document and its cosine distance to the query
// (0 is identical, larger is less similar).
type Result struct {
	Document Document
	Distance float32
}

// Searcher is implemented by vector indexes. Implementations must be safe
// for concurrent use.
type Searcher interface {
	// Search returns up to k documents closest to query, nearest first.
	Search(ctx context.Context, query string, k int) ([]Result, error)
	// Add indexes docs, replacing documents with the same ID.
	Add(ctx context.Context, docs []Document) error
	// Count returns the number of indexed documents.
	Count(ctx context.Context) (int, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// distance converts a cosine similarity into a distance.
func distance(similarity float32) float32 { return 1 - similarity }
