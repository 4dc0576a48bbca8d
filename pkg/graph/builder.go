package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/conduit/pkg/domain"
)

// reviewFields are owned by every barrier: resume writes the human decision there.
var reviewFields = []string{domain.FieldReviewAnswers, domain.FieldReviewApproved, domain.FieldReviewFeedback}

// Builder manages the graph construction.
type Builder struct {
	entry string
	nodes map[string]*NodeBuilder
	order []string
	errs  []error
}

// New creates a new graph builder.
func New() *Builder {
	return &Builder{
		nodes: make(map[string]*NodeBuilder),
	}
}

// Entry sets the first node. It defaults to the first node added.
func (b *Builder) Entry(name string) *Builder {
	b.entry = name
	return b
}

func (b *Builder) add(name string, kind domain.NodeKind) *NodeBuilder {
	nb := &NodeBuilder{node: Node{Name: name, Kind: kind}, builder: b}
	if name == "" {
		b.errs = append(b.errs, errors.New("node name cannot be empty"))
		return nb
	}
	if _, dup := b.nodes[name]; dup {
		b.errs = append(b.errs, fmt.Errorf("node %q declared twice", name))
		return nb
	}
	b.nodes[name] = nb
	b.order = append(b.order, name)
	return nb
}

// Task adds a node that runs a handler.
func (b *Builder) Task(name string, run Handler) *NodeBuilder {
	nb := b.add(name, domain.NodeTask)
	nb.node.Run = run
	return nb
}

// Barrier adds a node that runs a handler and then pauses the run for human approval.
// The review questions are read from the review_questions field unless Ask overrides them.
func (b *Builder) Barrier(name string, run Handler) *NodeBuilder {
	nb := b.add(name, domain.NodeBarrier)
	nb.node.Run = run
	return nb
}

// Parallel adds a node whose branches run concurrently and write disjoint fields.
func (b *Builder) Parallel(name string, branches ...Branch) *NodeBuilder {
	nb := b.add(name, domain.NodeParallel)
	nb.node.Branches = branches
	return nb
}

// FanOut adds a node running one branch per key.
func (b *Builder) FanOut(name string, spec FanOut) *NodeBuilder {
	nb := b.add(name, domain.NodeFanOut)
	nb.node.FanOut = &spec
	return nb
}

// MustBuild is like Build but panics on an invalid graph.
func (b *Builder) MustBuild() *Graph {
	g, err := b.Build()
	if err != nil {
		panic(err)
	}
	return g
}

// Build validates the declarations and compiles the graph.
func (b *Builder) Build() (*Graph, error) {
	errs := append([]error(nil), b.errs...)
	if len(b.order) == 0 {
		errs = append(errs, errors.New("graph has no nodes"))
		return nil, errors.Join(errs...)
	}

	entry := b.entry
	if entry == "" {
		entry = b.order[0]
	}
	if _, ok := b.nodes[entry]; !ok {
		errs = append(errs, fmt.Errorf("entry node %q does not exist", entry))
	}

	g := &Graph{entry: entry, nodes: make(map[string]*Node, len(b.nodes))}
	for _, name := range b.order {
		n := b.nodes[name].node
		if err := compile(&n); err != nil {
			errs = append(errs, err)
		}
		for i, e := range n.Edges {
			if _, ok := b.nodes[e.To]; !ok {
				errs = append(errs, fmt.Errorf("node %q: edge to unknown node %q", name, e.To))
			}
			if e.When == nil && i < len(n.Edges)-1 {
				errs = append(errs, fmt.Errorf("node %q: edges after the unconditional edge to %q are unreachable", name, e.To))
			}
		}
		g.nodes[name] = &n
		g.order = append(g.order, name)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if unreachable := g.unreachable(); len(unreachable) > 0 {
		return nil, fmt.Errorf("nodes unreachable from %q: %s", entry, strings.Join(unreachable, ", "))
	}
	return g, nil
}

// compile checks a node in isolation and derives its write set.
func compile(n *Node) error {
	switch n.Kind {
	case domain.NodeTask, domain.NodeBarrier:
		if n.Run == nil {
			return fmt.Errorf("node %q: missing handler", n.Name)
		}
		if n.Kind == domain.NodeBarrier {
			n.Writes = union(n.Writes, reviewFields)
		}
	case domain.NodeParallel:
		if len(n.Branches) == 0 {
			return fmt.Errorf("node %q: parallel node without branches", n.Name)
		}
		owner := make(map[string]string)
		names := make(map[string]bool)
		writes := append([]string(nil), n.Writes...)
		reads := append([]string(nil), n.Reads...)
		for _, br := range n.Branches {
			if br.Name == "" || names[br.Name] {
				return fmt.Errorf("node %q: branch names must be unique and non-empty (%q)", n.Name, br.Name)
			}
			names[br.Name] = true
			if br.Run == nil {
				return fmt.Errorf("node %q: branch %q has no handler", n.Name, br.Name)
			}
			for _, w := range br.Writes {
				if other, taken := owner[w]; taken {
					return fmt.Errorf("node %q: branches %q and %q both write %q", n.Name, other, br.Name, w)
				}
				owner[w] = br.Name
			}
			writes = union(writes, br.Writes)
			reads = union(reads, br.Reads)
		}
		n.Writes = writes
		n.Reads = reads
	case domain.NodeFanOut:
		f := n.FanOut
		if f == nil || f.Keys == nil || f.Run == nil {
			return fmt.Errorf("node %q: fan-out needs Keys and Run", n.Name)
		}
		if f.Into == "" {
			return fmt.Errorf("node %q: fan-out needs an Into field", n.Name)
		}
		n.Writes = union(n.Writes, []string{f.Into})
	default:
		return fmt.Errorf("node %q: unknown kind %q", n.Name, n.Kind)
	}
	return nil
}

func (g *Graph) unreachable() []string {
	seen := map[string]bool{g.entry: true}
	queue := []string{g.entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.nodes[cur].Edges {
			if !seen[e.To] {
				seen[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	var out []string
	for _, name := range g.order {
		if !seen[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func union(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, v := range b {
		found := false
		for _, x := range out {
			if x == v {
				found = true
				break
			}
		}
		if !found {
			out = append(out, v)
		}
	}
	return out
}

// NodeBuilder provides a fluent API for configuring a node.
type NodeBuilder struct {
	node    Node
	builder *Builder
}

// Reads declares the State fields the node requires.
// The executor fails the run before invoking the node if one is absent.
func (n *NodeBuilder) Reads(fields ...string) *NodeBuilder {
	n.node.Reads = union(n.node.Reads, fields)
	return n
}

// Writes declares the State fields the node owns.
func (n *NodeBuilder) Writes(fields ...string) *NodeBuilder {
	n.node.Writes = union(n.node.Writes, fields)
	return n
}

// Ask sets how a barrier derives its review questions.
func (n *NodeBuilder) Ask(fn QuestionsFunc) *NodeBuilder {
	n.node.Questions = fn
	return n
}

// Limit bounds the number of concurrent branches.
func (n *NodeBuilder) Limit(maxConcurrency int) *NodeBuilder {
	n.node.MaxConcurrency = maxConcurrency
	return n
}

// Timeout bounds the handler of the node.
func (n *NodeBuilder) Timeout(d time.Duration) *NodeBuilder {
	n.node.Timeout = d
	return n
}

// Go adds an unconditional transition to the target node.
func (n *NodeBuilder) Go(target string) *NodeBuilder {
	n.node.Edges = append(n.node.Edges, Edge{To: target})
	return n
}

// Branch adds a conditional transition to the target node.
func (n *NodeBuilder) Branch(label string, when Predicate, target string) *NodeBuilder {
	if when == nil {
		n.builder.errs = append(n.builder.errs, fmt.Errorf("node %q: branch %q has no predicate", n.node.Name, label))
	}
	n.node.Edges = append(n.node.Edges, Edge{To: target, Label: label, When: when})
	return n
}

// Terminal marks the node as the end of the flow.
func (n *NodeBuilder) Terminal() *NodeBuilder {
	n.node.Edges = nil
	return n
}
