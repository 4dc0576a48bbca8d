package tests

import (
	"testing"

	"github.com/aretw0/conduit/pkg/ports"
)

// PromptSourceContractTest is a reusable test suite that verifies if an adapter complies with ports.PromptSource.
func PromptSourceContractTest(t *testing.T, source ports.PromptSource, setupData map[string]string) {
	t.Helper()

	// 1. Test GetPrompt (Success)
	t.Run("GetPrompt_Success", func(t *testing.T) {
		for agent, expected := range setupData {
			content, err := source.GetPrompt(agent)
			if err != nil {
				t.Fatalf("unexpected error getting prompt %s: %v", agent, err)
			}
			if content != expected {
				t.Errorf("content mismatch for %s. got %q, want %q", agent, content, expected)
			}
		}
	})

	// 2. Test GetPrompt (NotFound)
	t.Run("GetPrompt_NotFound", func(t *testing.T) {
		_, err := source.GetPrompt("non-existent-agent")
		if err == nil {
			t.Error("expected error for non-existent agent, got nil")
		}
	})

	// 3. Test ListPrompts
	t.Run("ListPrompts", func(t *testing.T) {
		agents, err := source.ListPrompts()
		if err != nil {
			t.Fatalf("unexpected error listing prompts: %v", err)
		}

		if len(agents) != len(setupData) {
			t.Errorf("expected %d prompts, got %d", len(setupData), len(agents))
		}

		lookup := make(map[string]bool)
		for _, a := range agents {
			lookup[a] = true
		}

		for a := range setupData {
			if !lookup[a] {
				t.Errorf("prompt %s missing from list", a)
			}
		}
	})
}
