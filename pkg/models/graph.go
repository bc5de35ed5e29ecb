package models

import (
	"strings"
)

// SourceNodeName is the single shared source node every table chain is
// rooted at.
const SourceNodeName NodeName = "StagingSource"

// NodeName is a transform node identifier following the
// {StepKind}{TableName} convention (sinks use the Load prefix). All
// construction and parsing of node names lives here so producers and
// consumers cannot drift.
type NodeName string

// stepPrefixes is ordered so parsing tries longer prefixes first.
var stepPrefixes = []struct {
	prefix string
	kind   StepKind
}{
	{"Aggregate", StepAggregate},
	{"Select", StepSelect},
	{"Derive", StepDerive},
	{"Cast", StepCast},
	{"Load", StepSink},
}

// NewNodeName builds the node name for a step owned by table.
func NewNodeName(kind StepKind, table string) NodeName {
	for _, sp := range stepPrefixes {
		if sp.kind == kind {
			return NodeName(sp.prefix + table)
		}
	}
	return NodeName(table)
}

// Parse splits a node name into its step kind and owning table.
// Returns false for the source node and for names outside the
// convention.
func (n NodeName) Parse() (StepKind, string, bool) {
	if n == SourceNodeName {
		return "", "", false
	}
	s := string(n)
	for _, sp := range stepPrefixes {
		if strings.HasPrefix(s, sp.prefix) && len(s) > len(sp.prefix) {
			return sp.kind, s[len(sp.prefix):], true
		}
	}
	return "", "", false
}

// IsSink reports whether the name denotes a sink node.
func (n NodeName) IsSink() bool {
	kind, _, ok := n.Parse()
	return ok && kind == StepSink
}

// TransformNode is one node in a transform graph. Every node except the
// source has exactly one upstream node.
type TransformNode struct {
	Name        NodeName `json:"name"`
	Kind        StepKind `json:"kind"`
	OwningTable string   `json:"owning_table"`
	Upstream    NodeName `json:"upstream"`
}

// TransformGraph is a DAG of named transform nodes: one linear chain per
// table, all rooted at the shared source. Nodes are stored in emission
// order (table by table, steps in chain order).
type TransformGraph struct {
	Source NodeName        `json:"source"`
	Nodes  []TransformNode `json:"nodes"`
}

// NodesFor returns the chain of nodes owned by table, in chain order.
func (g *TransformGraph) NodesFor(table string) []TransformNode {
	var chain []TransformNode
	for _, n := range g.Nodes {
		if n.OwningTable == table {
			chain = append(chain, n)
		}
	}
	return chain
}

// CountKind returns how many nodes of the given kind the graph holds.
func (g *TransformGraph) CountKind(kind StepKind) int {
	count := 0
	for _, n := range g.Nodes {
		if n.Kind == kind {
			count++
		}
	}
	return count
}

// SinkNames returns all sink node names in emission order.
func (g *TransformGraph) SinkNames() []NodeName {
	var sinks []NodeName
	for _, n := range g.Nodes {
		if n.Kind == StepSink {
			sinks = append(sinks, n.Name)
		}
	}
	return sinks
}

// TransformationNames returns all non-sink node names in emission order.
// Sinks and transformations are disjoint sets.
func (g *TransformGraph) TransformationNames() []NodeName {
	var names []NodeName
	for _, n := range g.Nodes {
		if n.Kind != StepSink {
			names = append(names, n.Name)
		}
	}
	return names
}
