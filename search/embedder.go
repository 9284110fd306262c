package search

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIEmbedderConfig configures NewOpenAIEmbedder.
type OpenAIEmbedderConfig struct {
	Model     string // defaults to text-embedding-3-small
	APIKey    string
	BaseURL   string
	CacheSize int // LRU cache size, default 10000
	Dims      int // defaults to 1536
}

// OpenAIEmbedder embeds text with the OpenAI embeddings API and caches
// vectors by text.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dims   int
	cache  *lru.Cache[string, []float32]
}

// NewOpenAIEmbedder creates an OpenAIEmbedder.
func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		cfg.Model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10000
	}
	if cfg.Dims <= 0 {
		cfg.Dims = 1536
	}

	cache, err := lru.New[string, []float32](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("search: create cache: %w", err)
	}

	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	return &OpenAIEmbedder{client: &client, model: cfg.Model, dims: cfg.Dims, cache: cache}, nil
}

// Embed returns the embedding of text, from cache when possible.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}

	var vec []float32
	err := WithRetry(ctx, 2, time.Second, func() error {
		resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			return err
		}
		if len(resp.Data) == 0 {
			return Permanent(fmt.Errorf("search: embeddings response without data"))
		}
		vec = make([]float32, len(resp.Data[0].Embedding))
		for i, f := range resp.Data[0].Embedding {
			vec[i] = float32(f)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search: embed: %w", err)
	}

	e.cache.Add(text, vec)
	return vec, nil
}

// Dimensions returns the vector size of the configured model.
func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

// HashingEmbedder is a deterministic offline embedder: lower-cased words are
// hashed into a fixed number of buckets and the vector is L2 normalized.
// It needs no network and suits tests and demos.
type HashingEmbedder struct {
	Dims int
}

// Embed implements Embedder.
func (h HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dims := h.Dimensions()
	vec := make([]float32, dims)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		hf := fnv.New32a()
		_, _ = hf.Write([]byte(w))
		vec[hf.Sum32()%uint32(dims)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec, nil
}

// Dimensions implements Embedder.
func (h HashingEmbedder) Dimensions() int {
	if h.Dims <= 0 {
		return 256
	}
	return h.Dims
}
