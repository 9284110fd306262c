package search

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds configuration for connecting to Qdrant.
type QdrantConfig struct {
	URL        string // e.g. "http://localhost:6333"
	APIKey     string
	Collection string
}

// QdrantIndex implements Searcher backed by a Qdrant collection. Document
// content is kept in the point payload.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	embedder   Embedder
}

// parseQdrantURL extracts host, port, and TLS flag from a Qdrant URL. The
// REST port 6333 is mapped to the gRPC port 6334.
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("search: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()
	port = 6334

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("search: invalid port in qdrant URL: %q", portStr)
		}
		if p != 6333 {
			port = p
		}
	}

	return host, port, useTLS, nil
}

// NewQdrantIndex connects to Qdrant via gRPC.
func NewQdrantIndex(cfg QdrantConfig, embedder Embedder) (*QdrantIndex, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("search: connect to qdrant at %s:%d: %w", host, port, err)
	}

	if cfg.Collection == "" {
		cfg.Collection = "support_documents"
	}
	return &QdrantIndex{client: client, collection: cfg.Collection, embedder: embedder}, nil
}

// EnsureCollection creates the collection if it does not exist.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("search: check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.embedder.Dimensions()), //nolint:gosec
			Distance: qdrant.Distance_Cosine,
		}),
	}); err != nil {
		return fmt.Errorf("search: create collection %q: %w", q.collection, err)
	}
	return nil
}

// pointID maps a document id onto the UUID Qdrant requires.
func pointID(docID string) string {
	if _, err := uuid.Parse(docID); err == nil {
		return docID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(docID)).String()
}

// Add implements Searcher.
func (q *QdrantIndex) Add(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, doc := range docs {
		vec, err := q.embedder.Embed(ctx, doc.Content)
		if err != nil {
			return fmt.Errorf("search: embed document %s: %w", doc.ID, err)
		}
		payload := map[string]any{"doc_id": doc.ID, "content": doc.Content}
		for k, v := range doc.Metadata {
			payload["meta_"+k] = v
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID(doc.ID)),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	}); err != nil {
		return fmt.Errorf("search: qdrant upsert %d points: %w", len(points), err)
	}
	return nil
}

// Search implements Searcher. Qdrant reports cosine similarity as the score.
func (q *QdrantIndex) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		return nil, nil
	}

	vec, err := q.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}

	limit := uint64(k) //nolint:gosec
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("search: qdrant query: %w", err)
	}

	results := make([]Result, 0, len(scored))
	for _, sp := range scored {
		doc := Document{ID: sp.Id.GetUuid(), Metadata: map[string]string{}}
		for key, v := range sp.Payload {
			switch {
			case key == "content":
				doc.Content = v.GetStringValue()
			case key == "doc_id":
				doc.ID = v.GetStringValue()
			case strings.HasPrefix(key, "meta_"):
				doc.Metadata[strings.TrimPrefix(key, "meta_")] = v.GetStringValue()
			}
		}
		results = append(results, Result{Document: doc, Distance: distance(sp.Score)})
	}
	return results, nil
}

// Count implements Searcher.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("search: qdrant count: %w", err)
	}
	return int(n), nil //nolint:gosec
}

// Close shuts down the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
