package registry

import (
	_ "embed"
	"fmt"
	"maps"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

//go:embed aliases.yaml
var defaultAliases []byte

// Aliases maps wrapper tool names to canonical registry names.
type Aliases struct {
	Version string
	Tools   map[string]string
}

// DefaultAliases returns the embedded alias table.
func DefaultAliases() *Aliases {
	a, err := ParseAliases(defaultAliases)
	if err != nil {
		panic(fmt.Sprintf("registry: embedded aliases: %v", err))
	}
	return a
}

// ParseAliases decodes a YAML alias table with a version and a tools map.
func ParseAliases(data []byte) (*Aliases, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("registry: parse aliases: %w", err)
	}

	a := &Aliases{
		Version: k.String("version"),
		Tools:   make(map[string]string),
	}
	for from, to := range k.StringMap("tools") {
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		if from == "" || to == "" {
			return nil, fmt.Errorf("registry: alias %q -> %q: empty name", from, to)
		}
		a.Tools[from] = to
	}

	return a, nil
}

// Merge returns a copy of a with extra applied on top. version replaces the
// table version when non-empty.
func (a *Aliases) Merge(version string, extra map[string]string) *Aliases {
	out := &Aliases{Version: a.Version, Tools: maps.Clone(a.Tools)}
	if out.Tools == nil {
		out.Tools = make(map[string]string)
	}
	maps.Copy(out.Tools, extra)
	if version != "" {
		out.Version = version
	}
	return out
}

// Canonical resolves name through the table. Unknown names map to themselves.
func (a *Aliases) Canonical(name string) string {
	if a == nil {
		return name
	}
	if to, ok := a.Tools[name]; ok {
		return to
	}
	return name
}
