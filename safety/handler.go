package safety

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/bankmesh/core"
	"github.com/hupe1980/bankmesh/logging"
	"github.com/hupe1980/bankmesh/model"
	"github.com/hupe1980/bankmesh/trace"
)

// DefaultAgent answers refusals when the rejection names no agent.
const DefaultAgent = "coordinator"

// FinishReasonContentFilter is the finish reason of a synthesized refusal.
const FinishReasonContentFilter = "content_filter"

// DefaultRefusal is shown to the user instead of a blocked answer.
const DefaultRefusal = "I'm sorry, but I can't help with that request because it was flagged by our content safety policy. Please rephrase your message and try again."

// ErrNoError is returned when a Rejection carries no error.
var ErrNoError = errors.New("safety: rejection without error")

// Rejection describes a refused turn.
type Rejection struct {
	SessionID string
	UserID    string
	// TraceID defaults to a new id.
	TraceID string
	Err     error
	// UserMessage is the prompt that was rejected, if known.
	UserMessage string
	// MessageID is the id of the rejected Human message. It defaults to an
	// id derived from the trace.
	MessageID string
	// AgentName is the agent that was running, DefaultAgent if empty.
	AgentName string
}

// Outcome is what HandlePolicyRejection persisted.
type Outcome struct {
	Text       string
	TraceID    string
	Agent      string
	Categories []string
	Records    []core.ChatRecord
	Hop        core.AgentTraceRecord
}

// Options configures a Handler.
type Options struct {
	RefusalText string
	Publisher   trace.Publisher
	Logger      logging.Logger
	Now         func() time.Time
}

// Handler persists policy rejections.
type Handler struct {
	store     core.TraceStore
	registry  trace.Registry
	refusal   string
	publisher trace.Publisher
	logger    logging.Logger
	now       func() time.Time
}

// NewHandler creates a Handler writing to store.
func NewHandler(store core.TraceStore, reg trace.Registry, optFns ...func(o *Options)) *Handler {
	opts := Options{
		RefusalText: DefaultRefusal,
		Now:         time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.RefusalText == "" {
		opts.RefusalText = DefaultRefusal
	}

	return &Handler{
		store:     store,
		registry:  reg,
		refusal:   opts.RefusalText,
		publisher: opts.Publisher,
		logger:    logging.OrNoOp(opts.Logger),
		now:       opts.Now,
	}
}

// Summary renders err as a short hop error message such as
// "content_filter: hate, violence".
func Summary(err error) string {
	pe, ok := model.AsPolicyError(err)
	if !ok {
		return err.Error()
	}

	code := pe.Code
	if code == "" {
		code = FinishReasonContentFilter
	}

	if cats := pe.FilteredCategories(); len(cats) > 0 {
		return code + ": " + strings.Join(cats, ", ")
	}

	if pe.Message != "" {
		return code + ": " + pe.Message
	}

	return code
}

// HandlePolicyRejection records rej and returns the refusal. The human
// record (routing step 0), the refusal (step 1) and the failed hop commit
// together.
func (h *Handler) HandlePolicyRejection(ctx context.Context, rej Rejection) (Outcome, error) {
	if rej.Err == nil {
		return Outcome{}, ErrNoError
	}

	out := Outcome{
		Text:    h.refusal,
		TraceID: rej.TraceID,
		Agent:   rej.AgentName,
	}
	if out.TraceID == "" {
		out.TraceID = core.NewID()
	}
	if out.Agent == "" {
		out.Agent = DefaultAgent
	}

	filterResults := ""
	if pe, ok := model.AsPolicyError(rej.Err); ok {
		out.Categories = pe.FilteredCategories()
		filterResults = pe.FilterResultsJSON()
	}

	summary := Summary(rej.Err)

	h.logger.Warn("safety.policy_rejection", "session_id", rej.SessionID, "trace_id", out.TraceID,
		"agent", out.Agent, "summary", summary)

	if _, err := h.store.EnsureSession(ctx, rej.SessionID, rej.UserID); err != nil {
		return out, fmt.Errorf("safety: ensure session: %w", err)
	}

	agentID, err := h.registry.GetOrCreateAgent(ctx, out.Agent)
	if err != nil {
		return out, fmt.Errorf("safety: resolve agent: %w", err)
	}

	now := h.now().UTC()

	if rej.UserMessage != "" {
		humanID := rej.MessageID
		if humanID == "" {
			humanID = messageID(out.TraceID, "human")
		}
		out.Records = append(out.Records, core.ChatRecord{
			MessageID:   humanID,
			SessionID:   rej.SessionID,
			TraceID:     out.TraceID,
			UserID:      rej.UserID,
			MessageType: core.KindHuman,
			Content:     rej.UserMessage,
			RoutingStep: 0,
			TraceEnd:    now,
		})
	}

	refusal := core.AgentResponse{
		ID:           messageID(out.TraceID, "refusal"),
		Content:      h.refusal,
		AgentName:    out.Agent,
		FinishReason: FinishReasonContentFilter,
	}

	out.Records = append(out.Records, core.ChatRecord{
		MessageID:            refusal.ID,
		SessionID:            rej.SessionID,
		TraceID:              out.TraceID,
		UserID:               rej.UserID,
		AgentID:              agentID,
		AgentName:            out.Agent,
		MessageType:          core.KindAgentResponse,
		Content:              h.refusal,
		ContentFilterResults: filterResults,
		FinishReason:         FinishReasonContentFilter,
		RoutingStep:          1,
		TraceEnd:             now,
	})

	out.Hop = core.AgentTraceRecord{
		ID:           trace.HopID(out.TraceID, 1),
		SessionID:    rej.SessionID,
		TraceID:      out.TraceID,
		StepOrder:    1,
		FromAgent:    trace.SystemAgent,
		CurrentAgent: out.Agent,
		AgentID:      agentID,
		Success:      false,
		ErrorMessage: summary,
		CreatedAt:    now,
	}

	// A repeated rejection of the same trace writes nothing new.
	refusalWritten := false
	err = h.store.WithinTx(ctx, func(w core.TraceWriter) error {
		for i := range out.Records {
			written, err := w.InsertChatRecord(ctx, &out.Records[i])
			if err != nil {
				return err
			}
			if out.Records[i].MessageType == core.KindAgentResponse {
				refusalWritten = written
			}
		}
		return w.InsertAgentTrace(ctx, &out.Hop)
	})
	if err != nil {
		h.logger.Error("safety.persist.failed", "session_id", rej.SessionID, "trace_id", out.TraceID, "error", err)
		return out, fmt.Errorf("safety: persist rejection: %w", err)
	}

	if _, _, err := h.store.RecordSessionActivity(ctx, rej.SessionID, []string{out.Agent}, now); err != nil {
		return out, fmt.Errorf("safety: update session: %w", err)
	}

	if refusalWritten {
		h.publish(ctx, rej, out, refusal, now)
	}

	return out, nil
}

func (h *Handler) publish(ctx context.Context, rej Rejection, out Outcome, refusal core.AgentResponse, at time.Time) {
	if h.publisher == nil {
		return
	}

	category := strings.Join(out.Categories, ",")
	if category == "" {
		category = FinishReasonContentFilter
	}

	ev := trace.Event{
		Timestamp:         at,
		TraceID:           out.TraceID,
		SessionID:         rej.SessionID,
		UserID:            rej.UserID,
		AgentName:         out.Agent,
		MessageType:       refusal.Kind(),
		Message:           refusal,
		UserMessage:       rej.UserMessage,
		FilterCategory:    category,
		ContentFilterInfo: out.Hop.ErrorMessage,
	}

	if err := h.publisher.Publish(ctx, ev); err != nil {
		h.logger.Warn("safety.publish.error", "trace_id", out.TraceID, "error", err)
	}
}

// messageID derives the id of a synthesized record from its trace.
func messageID(traceID, role string) string {
	return "msg_" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(traceID+"#"+role)).String()
}
