package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hupe1980/bankmesh/core"
)

type agentRow struct {
	ID             string `db:"id"`
	Name           string `db:"name"`
	Description    string `db:"description"`
	AgentType      string `db:"agent_type"`
	PromptTemplate string `db:"prompt_template"`
	LLMConfig      string `db:"llm_config"`
	CreatedAt      int64  `db:"created_at"`
}

type toolRow struct {
	ID               string `db:"id"`
	Name             string `db:"name"`
	Description      string `db:"description"`
	InputSchema      string `db:"input_schema"`
	CostPerCallCents int    `db:"cost_per_call_cents"`
	Version          string `db:"version"`
	Active           int    `db:"active"`
	CreatedAt        int64  `db:"created_at"`
}

// FindAgentByName implements core.RegistryStore.
func (s *Store) FindAgentByName(ctx context.Context, name string) (*core.AgentDefinition, error) {
	var row agentRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT * FROM agent_definitions WHERE name = ?`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: find agent %q: %w", name, err)
	}

	def := &core.AgentDefinition{
		ID:             row.ID,
		Name:           row.Name,
		Description:    row.Description,
		AgentType:      row.AgentType,
		PromptTemplate: row.PromptTemplate,
		CreatedAt:      fromMillis(row.CreatedAt),
	}
	if err := decodeJSONMap(row.LLMConfig, &def.LLMConfig); err != nil {
		return nil, fmt.Errorf("storage: decode llm_config of %q: %w", name, err)
	}

	return def, nil
}

// InsertAgent implements core.RegistryStore.
func (s *Store) InsertAgent(ctx context.Context, def *core.AgentDefinition) error {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	def.CreatedAt = nowOr(def.CreatedAt)

	cfg, err := encodeJSONMap(def.LLMConfig)
	if err != nil {
		return fmt.Errorf("storage: encode llm_config: %w", err)
	}

	query := s.db.Rebind(`INSERT INTO agent_definitions (id, name, description, agent_type,
prompt_template, llm_config, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query, def.ID, def.Name, def.Description, def.AgentType,
		def.PromptTemplate, cfg, millis(def.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("storage: insert agent %q: %w", def.Name, core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("storage: insert agent %q: %w", def.Name, err)
	}

	return nil
}

// FindToolByName implements core.RegistryStore.
func (s *Store) FindToolByName(ctx context.Context, name string) (*core.ToolDefinition, error) {
	var row toolRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT * FROM tool_definitions WHERE name = ?`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: find tool %q: %w", name, err)
	}

	def := &core.ToolDefinition{
		ID:               row.ID,
		Name:             row.Name,
		Description:      row.Description,
		CostPerCallCents: row.CostPerCallCents,
		Version:          row.Version,
		Active:           row.Active != 0,
		CreatedAt:        fromMillis(row.CreatedAt),
	}
	if err := decodeJSONMap(row.InputSchema, &def.InputSchema); err != nil {
		return nil, fmt.Errorf("storage: decode input_schema of %q: %w", name, err)
	}

	return def, nil
}

// InsertTool implements core.RegistryStore.
func (s *Store) InsertTool(ctx context.Context, def *core.ToolDefinition) error {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	def.CreatedAt = nowOr(def.CreatedAt)

	schema, err := encodeJSONMap(def.InputSchema)
	if err != nil {
		return fmt.Errorf("storage: encode input_schema: %w", err)
	}

	query := s.db.Rebind(`INSERT INTO tool_definitions (id, name, description, input_schema,
cost_per_call_cents, version, active, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query, def.ID, def.Name, def.Description, schema,
		def.CostPerCallCents, def.Version, boolInt(def.Active), millis(def.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("storage: insert tool %q: %w", def.Name, core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("storage: insert tool %q: %w", def.Name, err)
	}

	return nil
}

func encodeJSONMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJSONMap(s string, dst *map[string]any) error {
	if s == "" || s == "{}" {
		return nil
	}
	return json.Unmarshal([]byte(s), dst)
}
