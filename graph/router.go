package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/bankmesh/core"
	"github.com/hupe1980/bankmesh/logging"
	"github.com/hupe1980/bankmesh/model"
)

// Node names and task types of the built-in routes.
const (
	NodeCoordinator = "coordinator"
	NodeAccount     = "account_agent"
	NodeTransaction = "transaction_agent"
	NodeSupport     = "support_agent"

	TaskAccountManagement = "account_management"
	TaskTransactions      = "transactions"
	TaskCustomerSupport   = "customer_support"
)

// Variants of the built-in rule presets.
const (
	VariantTwoWay   = "two_way"
	VariantThreeWay = "three_way"
)

// Route is the outcome of classification.
type Route struct {
	Target   string `koanf:"target" json:"target"`
	TaskType string `koanf:"task_type" json:"task_type"`
}

// Rule routes a message containing any of Keywords to Target.
type Rule struct {
	Target   string   `koanf:"target" json:"target"`
	TaskType string   `koanf:"task_type" json:"task_type"`
	Keywords []string `koanf:"keywords" json:"keywords"`
}

// AccountKeywords trigger the account specialist.
var AccountKeywords = []string{
	"account", "balance", "transaction", "transfer", "payment",
	"spending", "summary", "history", "money", "deposit", "withdraw",
	"credit", "debit", "checking", "savings", "expense", "income", "breakdown",
	"statement", "funds", "pay", "send", "receive",
}

// TransactionKeywords are checked before AccountKeywords in the three-way
// variant.
var TransactionKeywords = []string{"transfer", "send money", "payment", "spending", "history"}

// DefaultFallback is the route of messages no rule matches.
var DefaultFallback = Route{Target: NodeSupport, TaskType: TaskCustomerSupport}

// Preset returns the rules of a built-in variant.
func Preset(variant string) ([]Rule, error) {
	account := Rule{Target: NodeAccount, TaskType: TaskAccountManagement, Keywords: AccountKeywords}

	switch variant {
	case VariantTwoWay, "":
		return []Rule{account}, nil
	case VariantThreeWay:
		return []Rule{
			{Target: NodeTransaction, TaskType: TaskTransactions, Keywords: TransactionKeywords},
			account,
		}, nil
	default:
		return nil, fmt.Errorf("graph: unknown routing variant %q", variant)
	}
}

// Classifier chooses the specialist for a message.
type Classifier interface {
	Classify(ctx context.Context, text string) (Route, error)
}

// Router is the keyword classifier. Matching is a case-insensitive
// substring test, so "pay" also matches "payday".
type Router struct {
	rules    []Rule
	fallback Route
}

// NewRouter creates a Router. A zero fallback becomes DefaultFallback.
func NewRouter(rules []Rule, fallback Route) *Router {
	if fallback.Target == "" {
		fallback = DefaultFallback
	}

	normalized := make([]Rule, 0, len(rules))
	for _, r := range rules {
		kw := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kw = append(kw, k)
			}
		}
		normalized = append(normalized, Rule{Target: r.Target, TaskType: r.TaskType, Keywords: kw})
	}

	return &Router{rules: normalized, fallback: fallback}
}

// Route returns the first rule whose keywords occur in text, or the fallback.
func (r *Router) Route(text string) Route {
	lower := strings.ToLower(text)
	for _, rule := range r.rules {
		for _, k := range rule.Keywords {
			if strings.Contains(lower, k) {
				return Route{Target: rule.Target, TaskType: rule.TaskType}
			}
		}
	}
	return r.fallback
}

// Classify implements Classifier. It never fails.
func (r *Router) Classify(_ context.Context, text string) (Route, error) {
	return r.Route(text), nil
}

// Targets lists every node the router can dispatch to, fallback last.
func (r *Router) Targets() []Route {
	seen := map[string]bool{}
	var out []Route
	for _, rule := range r.rules {
		if !seen[rule.Target] {
			seen[rule.Target] = true
			out = append(out, Route{Target: rule.Target, TaskType: rule.TaskType})
		}
	}
	if !seen[r.fallback.Target] {
		out = append(out, r.fallback)
	}
	return out
}

const classifierPrompt = `You are a routing coordinator. Analyze the request and respond with ONLY the agent name.

## Routing Rules ##
%s
## Output Format ##
Respond with ONLY one of: %s
Do NOT add any other text, explanation, or formatting.`

// ModelClassifier asks a model which specialist should answer. Any failure,
// including an answer naming no known target, falls back to the keyword
// router.
type ModelClassifier struct {
	llm      model.Model
	keywords *Router
	targets  []Route
	prompt   string
	logger   logging.Logger
}

// NewModelClassifier creates a classifier choosing among the targets of
// keywords.
func NewModelClassifier(llm model.Model, keywords *Router, logger logging.Logger) *ModelClassifier {
	return &ModelClassifier{
		llm:      llm,
		keywords: keywords,
		targets:  keywords.Targets(),
		logger:   logging.OrNoOp(logger),
	}
}

// WithPrompt replaces the generated routing directive with prompt. An
// empty prompt keeps the generated one.
func (c *ModelClassifier) WithPrompt(prompt string) *ModelClassifier {
	c.prompt = prompt
	return c
}

func (c *ModelClassifier) directive() string {
	if c.prompt != "" {
		return c.prompt
	}

	var rules strings.Builder
	names := make([]string, 0, len(c.targets))
	for _, t := range c.targets {
		fmt.Fprintf(&rules, "- %s requests -> respond: %q\n", strings.ReplaceAll(t.TaskType, "_", " "), t.Target)
		names = append(names, fmt.Sprintf("%q", t.Target))
	}

	return fmt.Sprintf(classifierPrompt, rules.String(), strings.Join(names, " or "))
}

// Classify implements Classifier.
func (c *ModelClassifier) Classify(ctx context.Context, text string) (Route, error) {
	resp, err := model.Complete(ctx, c.llm, model.Request{
		Instructions: c.directive(),
		Contents:     []core.Content{{Role: core.RoleUser, Parts: []core.Part{core.TextPart{Text: text}}}},
	})
	if err != nil {
		if _, ok := model.AsPolicyError(err); ok {
			return Route{}, err
		}
		c.logger.Warn("graph.classifier.error", "error", err)
		return c.keywords.Route(text), nil
	}

	answer := strings.ToLower(resp.Content.Text())
	for _, t := range c.targets {
		if strings.Contains(answer, t.Target) {
			return t, nil
		}
	}

	c.logger.Warn("graph.classifier.unrecognized", "answer", answer)
	return c.keywords.Route(text), nil
}
