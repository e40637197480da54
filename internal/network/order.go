package network

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// graphOf builds the parent -> child graph. Node IDs are positions in the
// sorted name list. With fixedOnly, probabilistic links are left out.
func (n *Network) graphOf(fixedOnly bool) *simple.DirectedGraph {
	g := simple.NewDirectedGraph()
	for i := range n.names {
		g.AddNode(simple.Node(int64(i)))
	}
	for _, name := range n.names {
		v := n.variables[name]
		parents := v.FixedParents()
		if !fixedOnly {
			parents = v.Parents()
		}
		for _, parent := range parents {
			g.SetEdge(g.NewEdge(n.node(parent), n.node(name)))
		}
	}
	return g
}

func (n *Network) node(name string) graph.Node {
	return simple.Node(int64(sort.SearchStrings(n.names, name)))
}

func (n *Network) nameOf(node graph.Node) string {
	return n.names[node.ID()]
}

// inferOrder returns a topological order of the full graph. Ties are broken
// by name so identical networks yield identical orders.
func (n *Network) inferOrder() ([]string, error) {
	g := n.graphOf(false)
	sorted, err := topo.SortStabilized(g, func(nodes []graph.Node) {
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dependency graph has a cycle: %v", ErrStructuralInconsistency, err)
	}
	order := make([]string, len(sorted))
	for i, node := range sorted {
		order[i] = n.nameOf(node)
	}
	return order, nil
}

// createsCycle reports whether adding parent -> child to g closes a cycle.
func (n *Network) createsCycle(g *simple.DirectedGraph, parent, child string) bool {
	if parent == child {
		return true
	}
	return topo.PathExistsIn(g, n.node(child), n.node(parent))
}
