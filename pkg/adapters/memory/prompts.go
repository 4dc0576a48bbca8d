package memory

import (
	"fmt"
	"sort"
)

// Prompts implements ports.PromptSource using an in-memory map.
type Prompts struct {
	templates map[string]string
}

// NewPrompts creates a prompt source from agent name to template text.
func NewPrompts(templates map[string]string) *Prompts {
	copied := make(map[string]string, len(templates))
	for k, v := range templates {
		copied[k] = v
	}
	return &Prompts{templates: copied}
}

// GetPrompt retrieves the template of an agent.
func (p *Prompts) GetPrompt(agent string) (string, error) {
	content, ok := p.templates[agent]
	if !ok {
		return "", fmt.Errorf("prompt not found: %s", agent)
	}
	return content, nil
}

// ListPrompts returns all agent names with a template.
func (p *Prompts) ListPrompts() ([]string, error) {
	keys := make([]string, 0, len(p.templates))
	for k := range p.templates {
		keys = append(keys, k)
	}
	sort.Strings(keys) // Deterministic order
	return keys, nil
}
