package registry

import (
	"context"

	"github.com/hupe1980/bankmesh/core"
)

// Role agents of the routing graph.
const (
	AgentCoordinator = "coordinator"
	AgentAccount     = "account_agent"
	AgentTransaction = "transaction_agent"
	AgentSupport     = "support_agent"
	AgentBankingV1   = "banking_agent_v1"
)

func seedTools() []*core.ToolDefinition {
	str := map[string]any{"type": "string"}
	return []*core.ToolDefinition{
		{
			Name:        "get_user_accounts",
			Description: "Retrieves all accounts for a given user",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			Name:        "get_transactions_summary",
			Description: "Provides spending summary with time period and account filters",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"time_period": str, "account_name": str},
			},
		},
		{
			Name:             "search_support_documents",
			Description:      "Searches knowledge base for customer support answers",
			CostPerCallCents: 2,
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"user_question": str},
				"required":   []any{"user_question"},
			},
		},
		{
			Name:        "create_new_account",
			Description: "Creates a new bank account for the user",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"account_type": map[string]any{"type": "string", "enum": []any{"checking", "savings", "credit"}},
					"name":         str,
					"balance":      map[string]any{"type": "number"},
				},
				"required": []any{"account_type", "name"},
			},
		},
		{
			Name:        "transfer_money",
			Description: "Transfers money between accounts or to external accounts",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"from_account_name":   str,
					"to_account_name":     str,
					"amount":              map[string]any{"type": "number"},
					"to_external_details": map[string]any{"type": "object"},
				},
				"required": []any{"from_account_name", "amount"},
			},
		},
		{
			Name:             "query_database",
			Description:      "Query the database using direct tools to describe tables or read data",
			CostPerCallCents: 1,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action":     map[string]any{"type": "string", "enum": []any{"describe", "read"}},
					"table_name": str,
					"schema":     str,
					"query":      str,
					"limit":      map[string]any{"type": "integer"},
				},
				"required": []any{"action"},
			},
		},
	}
}

func seedAgents(modelName string) []*core.AgentDefinition {
	return []*core.AgentDefinition{
		{
			Name:        AgentBankingV1,
			Description: "A customer support banking agent to help answer questions about their account and other general banking inquiries.",
			AgentType:   "assistant",
			LLMConfig: map[string]any{
				"model":       modelName,
				"rate_limit":  50,
				"token_limit": 1000,
			},
			PromptTemplate: "You are a banking assistant. Answer the user's questions about their bank accounts.",
		},
		{
			Name:        AgentCoordinator,
			Description: "Classifies each request and routes it to a specialist agent.",
			AgentType:   "router",
		},
		{
			Name:        AgentAccount,
			Description: "Handles balances, accounts, spending summaries and transfers.",
			AgentType:   "specialist",
		},
		{
			Name:        AgentTransaction,
			Description: "Handles transfers, payments and transaction history.",
			AgentType:   "specialist",
		},
		{
			Name:        AgentSupport,
			Description: "Answers general banking questions from the support knowledge base.",
			AgentType:   "specialist",
		},
	}
}

// Seed registers the built-in tool and agent definitions. Existing records
// are left untouched.
func (r *Registry) Seed(ctx context.Context, modelName string) error {
	for _, def := range seedTools() {
		def.Version = "1.0.0"
		def.Active = true
		id, err := r.ensureTool(ctx, def)
		if err != nil {
			return err
		}
		r.tools.Add(def.Name, id)
	}

	for _, def := range seedAgents(modelName) {
		id, err := r.ensureAgent(ctx, def)
		if err != nil {
			return err
		}
		r.agents.Add(def.Name, id)
	}

	return nil
}
