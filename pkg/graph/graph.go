package graph

import (
	"context"
	"time"

	"github.com/aretw0/conduit/pkg/domain"
)

// Handler performs the work of a node and returns the fields it writes.
// A nil patch means the node wrote nothing.
type Handler func(ctx context.Context, s domain.State) (*domain.Patch, error)

// Predicate selects a conditional edge.
type Predicate func(s domain.State) bool

// QuestionsFunc produces the review questions of a barrier from the State.
type QuestionsFunc func(s domain.State) ([]domain.Question, error)

// Edge is an outgoing transition. A nil When is unconditional.
type Edge struct {
	To    string
	Label string
	When  Predicate
}

// Branch is one named arm of a static parallel node.
type Branch struct {
	Name   string
	Reads  []string
	Writes []string
	Run    Handler
}

// FanOut describes a dynamic parallel node: one branch per key computed from
// the State, whose results are merged into a single owned field.
type FanOut struct {
	// Keys lists the branch keys. Duplicates are dropped.
	Keys func(s domain.State) ([]string, error)
	// Run produces the result of one branch.
	Run func(ctx context.Context, s domain.State, key string) (any, error)
	// Into is the field receiving the successful results, sorted by key.
	Into string
}

// Node is a compiled graph vertex.
type Node struct {
	Name      string
	Kind      domain.NodeKind
	Reads     []string
	Writes    []string
	Run       Handler
	Questions QuestionsFunc
	Branches  []Branch
	FanOut    *FanOut
	// MaxConcurrency bounds parallel branches. Zero uses the executor default.
	MaxConcurrency int
	// Timeout bounds the handler. Zero means no per-node timeout.
	Timeout time.Duration
	Edges   []Edge
}

// Owns reports whether the node declared the field as a write.
func (n *Node) Owns(field string) bool {
	for _, w := range n.Writes {
		if w == field {
			return true
		}
	}
	return false
}

// Graph is an immutable, validated set of nodes.
type Graph struct {
	entry string
	nodes map[string]*Node
	order []string
}

// Entry returns the name of the first node.
func (g *Graph) Entry() string {
	return g.entry
}

// Node returns the node with the given name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Names returns node names in declaration order.
func (g *Graph) Names() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Next picks the edge to follow out of a node.
// Edges are tried in declaration order and the first match wins.
// ok is false when the node has no edges (the run is complete).
func (g *Graph) Next(from string, s domain.State) (to string, ok bool, err error) {
	n, found := g.nodes[from]
	if !found {
		return "", false, &domain.RoutingError{Node: from}
	}
	if len(n.Edges) == 0 {
		return "", false, nil
	}
	for _, e := range n.Edges {
		if e.When == nil || e.When(s) {
			return e.To, true, nil
		}
	}
	return "", false, &domain.RoutingError{Node: from}
}

// Topology describes the graph for introspection.
func (g *Graph) Topology() domain.Topology {
	t := domain.Topology{Entry: g.entry, Nodes: make([]domain.NodeInfo, 0, len(g.order))}
	for _, name := range g.order {
		n := g.nodes[name]
		info := domain.NodeInfo{
			Name:   n.Name,
			Kind:   n.Kind,
			Reads:  append([]string(nil), n.Reads...),
			Writes: append([]string(nil), n.Writes...),
		}
		for _, b := range n.Branches {
			info.Branches = append(info.Branches, b.Name)
		}
		for _, e := range n.Edges {
			info.Edges = append(info.Edges, domain.EdgeInfo{To: e.To, Label: e.Label})
		}
		t.Nodes = append(t.Nodes, info)
	}
	return t
}
