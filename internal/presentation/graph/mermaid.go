package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/conduit/pkg/domain"
)

// GraphOverlay contains dynamic run data to visualize on the graph.
type GraphOverlay struct {
	VisitedNodes []string
	CurrentNode  string
	Status       domain.RunStatus
}

// OverlayFor builds the overlay of a run record.
func OverlayFor(rec *domain.RunRecord) *GraphOverlay {
	if rec == nil {
		return nil
	}
	return &GraphOverlay{VisitedNodes: rec.History, CurrentNode: rec.CurrentNode, Status: rec.Status}
}

// GenerateMermaid produces a Mermaid flowchart syntax string from a topology.
// It applies semantic styling:
// - Entry: ((Circle))
// - Parallel / FanOut: [[Subroutine]]
// - Barrier (human review): [/Parallelogram/]
// - Default: [Rectangle]
// It also applies overlay styles (Visited/Current) if provided.
func GenerateMermaid(topo domain.Topology, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, node := range topo.Nodes {
		safeID := sanitizeMermaidID(node.Name)

		opener, closer := "[", "]"
		switch {
		case node.Name == topo.Entry:
			opener, closer = "((", "))"
		case node.Kind == domain.NodeParallel || node.Kind == domain.NodeFanOut:
			opener, closer = "[[", "]]"
		case node.Kind == domain.NodeBarrier:
			opener, closer = "[/", "/]"
		}

		label := node.Name
		if len(node.Branches) > 0 {
			label = fmt.Sprintf("%s <br/> %s", node.Name, strings.Join(node.Branches, " | "))
		} else if node.Kind == domain.NodeFanOut {
			label = node.Name + " <br/> fan-out"
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, opener, label, closer))

		for _, e := range node.Edges {
			safeTo := sanitizeMermaidID(e.To)
			arrow := "-->"
			if e.Label != "" {
				// Escape double quotes in the label for Mermaid
				arrow = fmt.Sprintf("-- \"%s\" -->", strings.ReplaceAll(e.Label, "\"", "'"))
			}
			sb.WriteString(fmt.Sprintf("    %s %s %s\n", safeID, arrow, safeTo))
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
		sb.WriteString("    classDef failed fill:#ffcdd2,stroke:#b71c1c,stroke-width:4px,color:#000;\n")

		visitedSet := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			safeID := sanitizeMermaidID(id)
			if !visitedSet[safeID] && safeID != "" {
				visitedSet[safeID] = true
				sb.WriteString(fmt.Sprintf("    class %s visited;\n", safeID))
			}
		}

		if overlay.CurrentNode != "" {
			class := "current"
			if overlay.Status == domain.StatusFailed {
				class = "failed"
			}
			sb.WriteString(fmt.Sprintf("    class %s %s;\n", sanitizeMermaidID(overlay.CurrentNode), class))
		}
	}

	return sb.String()
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
