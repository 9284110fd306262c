// Package tokens estimates token usage for models that do not report it.
package tokens

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/hupe1980/bankmesh/core"
	"github.com/hupe1980/bankmesh/model"
)

// Chat framing overhead, as counted for OpenAI chat models.
const (
	tokensPerMessage = 3
	tokensPerRole    = 1
	tokensPerCall    = 3
	tokensPerTool    = 7
	assistantPriming = 3
)

// Counter counts tokens with the cl100k_base encoding. When the encoding
// cannot be loaded it falls back to one token per four bytes.
type Counter struct {
	once  sync.Once
	codec tokenizer.Codec
}

// NewCounter returns a Counter. The codec loads lazily.
func NewCounter() *Counter { return &Counter{} }

func (c *Counter) load() tokenizer.Codec {
	c.once.Do(func() {
		codec, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			c.codec = codec
		}
	})
	return c.codec
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if codec := c.load(); codec != nil {
		if ids, _, err := codec.Encode(text); err == nil {
			return len(ids)
		}
	}
	return (len(text) + 3) / 4
}

// Request estimates the prompt tokens of req.
func (c *Counter) Request(req model.Request) int {
	total := 0
	if req.Instructions != "" {
		total += tokensPerMessage + tokensPerRole + c.Count(req.Instructions)
	}

	for _, content := range req.Contents {
		total += tokensPerMessage + tokensPerRole + c.Content(content)
	}

	for _, t := range req.Tools {
		total += c.Count(t.Function.Name) + c.Count(t.Function.Description) + tokensPerTool
		if t.Function.Parameters != nil {
			b, _ := json.Marshal(t.Function.Parameters)
			total += c.Count(string(b))
		}
	}

	return total + assistantPriming
}

// Content counts the text, call and result parts of content.
func (c *Counter) Content(content core.Content) int {
	total := 0
	for _, p := range content.Parts {
		switch v := p.(type) {
		case core.TextPart:
			total += c.Count(v.Text)
		case core.FunctionCallPart:
			total += c.Count(v.FunctionCall.Name) + c.Count(v.FunctionCall.Arguments) + tokensPerCall
		case core.FunctionResponsePart:
			b, _ := json.Marshal(v.FunctionResponse.Response)
			total += c.Count(string(b)) + c.Count(v.FunctionResponse.Error) + 2
		}
	}
	return total
}

// WithEstimate wraps m so that every final response carries Usage. Reported
// usage is passed through untouched.
func WithEstimate(m model.Model, counter *Counter) model.Model {
	if counter == nil {
		counter = NewCounter()
	}
	return &estimating{Model: m, counter: counter}
}

type estimating struct {
	model.Model
	counter *Counter
}

func (e *estimating) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	inner, errCh := e.Model.Generate(ctx, req)
	out := make(chan model.Response, 1)

	go func() {
		defer close(out)
		for r := range inner {
			if !r.Partial && r.Usage == nil {
				prompt := e.counter.Request(req)
				completion := e.counter.Content(r.Content)
				r.Usage = &model.TokenUsage{
					PromptTokens:     prompt,
					CompletionTokens: completion,
					TotalTokens:      prompt + completion,
				}
			}
			select {
			case out <- r:
			case <-ctx.Done():
				// Drain so the inner producer can exit.
				for range inner {
				}
				return
			}
		}
	}()

	return out, errCh
}
