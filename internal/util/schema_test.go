package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transferSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"from_account_name": map[string]any{"type": "string"},
			"amount":            map[string]any{"type": "number", "minimum": 0.01},
			"account_type":      map[string]any{"type": "string", "enum": []string{"checking", "savings"}},
			"limit":             map[string]any{"type": "integer"},
		},
		"required": []any{"from_account_name", "amount"},
	}
}

func TestValidateParameters(t *testing.T) {
	tests := []struct {
		name      string
		params    map[string]any
		wantField string
		wantMsg   string
	}{
		{name: "valid", params: map[string]any{"from_account_name": "Checking", "amount": 10.0, "limit": 5.0}},
		{name: "missing", params: map[string]any{"amount": 10.0}, wantField: "from_account_name", wantMsg: "required field is missing"},
		{name: "wrong type", params: map[string]any{"from_account_name": 1.0, "amount": 10.0}, wantField: "from_account_name", wantMsg: "expected type string"},
		{name: "fractional integer", params: map[string]any{"from_account_name": "a", "amount": 1.0, "limit": 2.5}, wantField: "limit", wantMsg: "expected type integer"},
		{name: "enum", params: map[string]any{"from_account_name": "a", "amount": 1.0, "account_type": "brokerage"}, wantField: "account_type", wantMsg: "must be one of"},
		{name: "minimum", params: map[string]any{"from_account_name": "a", "amount": 0.0}, wantField: "amount", wantMsg: "must be at least"},
		{name: "extra fields", params: map[string]any{"from_account_name": "a", "amount": 1.0, "note": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParameters(tt.params, transferSchema())
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantField, vErr.Field)
			assert.Contains(t, vErr.Message, tt.wantMsg)
		})
	}
}

func TestRequiredFields(t *testing.T) {
	assert.Equal(t, []string{"a"}, RequiredFields(map[string]any{"required": []string{"a"}}))
	assert.Equal(t, []string{"a", "b"}, RequiredFields(map[string]any{"required": []any{"a", 1, "b"}}))
	assert.Nil(t, RequiredFields(map[string]any{}))
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("Serve user {{.user_id}} & be 'polite'.", map[string]any{"user_id": "user_5"})
	require.NoError(t, err)
	assert.Equal(t, "Serve user user_5 & be 'polite'.", out)

	out, err = RenderTemplate("Serve user {{.user_id}} & be 'polite'.", map[string]any{"user_id": "user_6"})
	require.NoError(t, err)
	assert.Equal(t, "Serve user user_6 & be 'polite'.", out)

	out, err = RenderTemplate("Session [{{.session_id}}]", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "Session []", out)

	out, err = RenderTemplate("plain", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain", out)

	_, err = RenderTemplate("{{.broken", nil)
	assert.Error(t, err)
}
