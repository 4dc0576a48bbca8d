package domain

// NodeKind distinguishes how the executor drives a node.
type NodeKind string

const (
	NodeTask     NodeKind = "task"
	NodeBarrier  NodeKind = "barrier"
	NodeParallel NodeKind = "parallel"
	NodeFanOut   NodeKind = "fan_out"
)

// EdgeInfo describes one outgoing edge.
type EdgeInfo struct {
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

// NodeInfo describes one node for introspection.
type NodeInfo struct {
	Name     string     `json:"name"`
	Kind     NodeKind   `json:"kind"`
	Reads    []string   `json:"reads,omitempty"`
	Writes   []string   `json:"writes,omitempty"`
	Branches []string   `json:"branches,omitempty"`
	Edges    []EdgeInfo `json:"edges,omitempty"`
}

// Topology is the static shape of a compiled graph.
type Topology struct {
	Entry string     `json:"entry"`
	Nodes []NodeInfo `json:"nodes"`
}
