// Package loam reads prompt templates from a Loam document repository.
//
// Each Markdown document holds one template in its body; the frontmatter
// names the agent it overrides:
//
//	---
//	agent: config
//	description: terse config extraction
//	---
//	Task: {{.Task}}
//	Reply with JSON ...
package loam

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/conduit/pkg/ports"
	"github.com/aretw0/loam"
)

// Prompts adapts a Loam repository to ports.PromptSource.
type Prompts struct {
	Repo *loam.TypedRepository[PromptMetadata]
}

var _ ports.PromptSource = (*Prompts)(nil)

// New creates a new Loam prompt source.
func New(repo *loam.TypedRepository[PromptMetadata]) *Prompts {
	return &Prompts{
		Repo: repo,
	}
}

// Open initializes a read-only Loam repository at dir.
func Open(dir string) (*Prompts, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	// Strict keeps frontmatter numbers consistent across formats; ReadOnly
	// avoids Loam's sandbox behaviour, prompts are never written.
	repo, err := loam.Init(absPath,
		loam.WithStrict(true),
		loam.WithReadOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loam: %w", err)
	}
	return New(loam.NewTypedRepository[PromptMetadata](repo)), nil
}

// load indexes enabled templates by agent name.
func (p *Prompts) load() (map[string]string, error) {
	docs, err := p.Repo.List(context.Background())
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}

	seen := make(map[string]string)
	out := make(map[string]string, len(docs))
	for _, doc := range docs {
		if doc.Data.Disabled {
			continue
		}
		agent := doc.Data.Agent
		if agent == "" {
			agent = trimExtension(doc.ID)
		}
		if existing, ok := seen[agent]; ok {
			return nil, fmt.Errorf("collision detected: agent '%s' has templates in both '%s' and '%s'", agent, existing, doc.ID)
		}
		seen[agent] = doc.ID
		out[agent] = strings.TrimSpace(doc.Content)
	}
	return out, nil
}

// GetPrompt returns the template overriding an agent's built-in prompt.
func (p *Prompts) GetPrompt(agent string) (string, error) {
	all, err := p.load()
	if err != nil {
		return "", err
	}
	text, ok := all[agent]
	if !ok || text == "" {
		return "", fmt.Errorf("prompt not found: %s", agent)
	}
	return text, nil
}

// ListPrompts returns the agents with a template, sorted.
func (p *Prompts) ListPrompts() ([]string, error) {
	all, err := p.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(all))
	for name, text := range all {
		if text != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func trimExtension(id string) string {
	id = filepath.ToSlash(id)
	if ext := filepath.Ext(id); ext != "" {
		id = strings.TrimSuffix(id, ext)
	}
	return filepath.Base(id)
}
