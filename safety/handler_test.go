package safety

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bankmesh/core"
	"github.com/hupe1980/bankmesh/internal/testutil"
	"github.com/hupe1980/bankmesh/model"
	"github.com/hupe1980/bankmesh/registry"
	"github.com/hupe1980/bankmesh/trace"
)

func hateError() *model.PolicyError {
	return &model.PolicyError{
		Provider:  "openai",
		Code:      "content_filter",
		Message:   "The response was filtered",
		InnerCode: "ResponsibleAIPolicyViolation",
		FilterResults: map[string]model.FilterResult{
			"hate":     {Filtered: true, Severity: "high"},
			"violence": {Filtered: false, Severity: "safe"},
		},
	}
}

func TestHandlePolicyRejection(t *testing.T) {
	store := testutil.NewStore(t)
	pub := trace.NewMemoryPublisher()
	h := NewHandler(store, registry.New(store), func(o *Options) { o.Publisher = pub })
	ctx := context.Background()

	out, err := h.HandlePolicyRejection(ctx, Rejection{
		SessionID:   "s1",
		UserID:      "user_5",
		TraceID:     "t1",
		Err:         fmt.Errorf("agent account_agent: %w", hateError()),
		UserMessage: "something hateful",
		AgentName:   "account_agent",
	})
	require.NoError(t, err)

	assert.Equal(t, DefaultRefusal, out.Text)
	assert.Equal(t, []string{"hate"}, out.Categories)

	recs, err := store.TraceRecords(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, core.KindHuman, recs[0].MessageType)
	assert.Equal(t, "something hateful", recs[0].Content)
	assert.Equal(t, 0, recs[0].RoutingStep)

	assert.Equal(t, core.KindAgentResponse, recs[1].MessageType)
	assert.Equal(t, "account_agent", recs[1].AgentName)
	assert.Equal(t, 1, recs[1].RoutingStep)
	assert.Equal(t, FinishReasonContentFilter, recs[1].FinishReason)
	assert.Contains(t, recs[1].ContentFilterResults, `"hate"`)

	hops, err := store.AgentTraces(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, hops, 1)
	assert.Equal(t, trace.SystemAgent, hops[0].FromAgent)
	assert.Equal(t, "account_agent", hops[0].CurrentAgent)
	assert.False(t, hops[0].Success)
	assert.Equal(t, "content_filter: hate", hops[0].ErrorMessage)

	sess, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"account_agent"}, sess.AgentsUsed)

	events := pub.Events("s1")
	require.Len(t, events, 1)
	assert.Equal(t, "hate", events[0].FilterCategory)
	assert.Equal(t, "something hateful", events[0].UserMessage)
}

func TestHandlePolicyRejectionWithoutUserMessage(t *testing.T) {
	store := testutil.NewStore(t)
	h := NewHandler(store, registry.New(store), func(o *Options) { o.RefusalText = "Blocked." })
	ctx := context.Background()

	out, err := h.HandlePolicyRejection(ctx, Rejection{
		SessionID: "s1",
		UserID:    "u",
		Err:       &model.PolicyError{Provider: "anthropic", Code: "refusal"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out.TraceID)
	assert.Equal(t, DefaultAgent, out.Agent)
	assert.Equal(t, "Blocked.", out.Text)

	recs, err := store.TraceRecords(ctx, out.TraceID)
	require.NoError(t, err)
	require.Len(t, recs, 1, "a rejected turn always leaves at least one record")
	assert.Equal(t, "Blocked.", recs[0].Content)
}

func TestHandlePolicyRejectionRequiresError(t *testing.T) {
	store := testutil.NewStore(t)
	_, err := NewHandler(store, registry.New(store)).HandlePolicyRejection(context.Background(), Rejection{SessionID: "s"})
	assert.ErrorIs(t, err, ErrNoError)
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "content_filter: hate", Summary(hateError()))
	assert.Equal(t, "refusal: declined", Summary(&model.PolicyError{Code: "refusal", Message: "declined"}))
	assert.Equal(t, "content_filter", Summary(&model.PolicyError{}))
	assert.Equal(t, "boom", Summary(errors.New("boom")))
}

func TestHandlePolicyRejectionIsIdempotent(t *testing.T) {
	store := testutil.NewStore(t)
	pub := trace.NewMemoryPublisher()
	h := NewHandler(store, registry.New(store), func(o *Options) { o.Publisher = pub })
	ctx := context.Background()

	rej := Rejection{
		SessionID:   "s1",
		UserID:      "user_5",
		TraceID:     "t1",
		Err:         hateError(),
		UserMessage: "something hateful",
		MessageID:   "human_42",
		AgentName:   "support_agent",
	}

	first, err := h.HandlePolicyRejection(ctx, rej)
	require.NoError(t, err)
	second, err := h.HandlePolicyRejection(ctx, rej)
	require.NoError(t, err)

	assert.Equal(t, first.Hop.ID, second.Hop.ID)
	assert.Equal(t, trace.HopID("t1", 1), first.Hop.ID)

	recs, err := store.TraceRecords(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "human_42", recs[0].MessageID)
	assert.Equal(t, first.Records[1].MessageID, recs[1].MessageID)

	hops, err := store.AgentTraces(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, hops, 1)

	assert.Len(t, pub.Events("s1"), 1, "a repeated rejection publishes nothing")

	sess, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"support_agent"}, sess.AgentsUsed)
	assert.Equal(t, 1, sess.TotalAgentsUsed)
}
