package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/bankmesh/core"
)

// Step is one canned completion of a ScriptedModel.
type Step struct {
	Text         string
	Calls        []core.FunctionCall
	Err          error
	Usage        *TokenUsage
	FinishReason string
}

// TextStep answers with a final text completion.
func TextStep(text string) Step {
	return Step{Text: text, FinishReason: core.FinishReasonStop}
}

// CallStep requests a single tool call.
func CallStep(callID, name, args string) Step {
	return Step{
		Calls:        []core.FunctionCall{{ID: callID, Name: name, Arguments: args}},
		FinishReason: core.FinishReasonToolCalls,
	}
}

// ErrorStep fails the request with err.
func ErrorStep(err error) Step { return Step{Err: err} }

// ScriptedModel replays queued steps in order and records every request.
// Once the queue is empty it echoes the last user text.
type ScriptedModel struct {
	mu       sync.Mutex
	info     Info
	steps    []Step
	requests []Request
}

// NewScriptedModel creates a ScriptedModel with the given queue.
func NewScriptedModel(name string, steps ...Step) *ScriptedModel {
	return &ScriptedModel{
		info:  Info{Name: name, Provider: "scripted", SupportsTools: true},
		steps: steps,
	}
}

// Enqueue appends steps to the queue.
func (m *ScriptedModel) Enqueue(steps ...Step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, steps...)
}

// Requests returns a copy of the requests seen so far.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Remaining reports how many steps are still queued.
func (m *ScriptedModel) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.steps)
}

func (m *ScriptedModel) next(req Request) Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.steps) == 0 {
		return TextStep(fmt.Sprintf("Mock response to: %s", lastUserText(req)))
	}
	s := m.steps[0]
	m.steps = m.steps[1:]
	return s
}

// Generate implements Model.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if err := ctx.Err(); err != nil {
			errCh <- err
			return
		}

		step := m.next(req)
		if step.Err != nil {
			errCh <- step.Err
			return
		}

		parts := make([]core.Part, 0, len(step.Calls)+1)
		if step.Text != "" {
			parts = append(parts, core.TextPart{Text: step.Text})
		}
		for _, c := range step.Calls {
			parts = append(parts, core.FunctionCallPart{FunctionCall: c})
		}

		finish := step.FinishReason
		if finish == "" {
			finish = core.FinishReasonStop
			if len(step.Calls) > 0 {
				finish = core.FinishReasonToolCalls
			}
		}

		respCh <- Response{
			ID:           core.NewID(),
			Content:      core.Content{Role: core.RoleAssistant, Parts: parts},
			FinishReason: finish,
			Usage:        step.Usage,
			ModelName:    m.info.Name,
		}
	}()

	return respCh, errCh
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }

func lastUserText(req Request) string {
	for i := len(req.Contents) - 1; i >= 0; i-- {
		if req.Contents[i].Role == core.RoleUser {
			return req.Contents[i].Text()
		}
	}
	return ""
}
