package util

import (
	"strings"
	"sync"
	"text/template"
)

var directives sync.Map // directive text -> *template.Template

// RenderTemplate renders an agent directive with text/template. Directives
// reference per-turn values such as {{.user_id}}; unknown keys render empty.
// Parsed templates are cached by text.
func RenderTemplate(text string, vars map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	var tmpl *template.Template
	if cached, ok := directives.Load(text); ok {
		tmpl = cached.(*template.Template)
	} else {
		parsed, err := template.New("directive").Option("missingkey=zero").Parse(text)
		if err != nil {
			return "", err
		}
		directives.Store(text, parsed)
		tmpl = parsed
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, vars); err != nil {
		return "", err
	}

	return strings.ReplaceAll(sb.String(), "<no value>", ""), nil
}
