package lossless

// routes.go builds the forwarding tables of the switches from shortest paths
// through the fabric.
//
// The general approach is to convert the fabric into the data structures used by a
// graph package that has built-in path discovery algorithms.  Weighting each link by 1,
// a shortest path minimizes the number of hops.
//   Nodes of the graph are the fabric's switches and NICs, identified by node id, with
// an edge between two nodes whenever a link joins a device of one to a device of the
// other.  After a path is computed from node to node we look up, on each switch, the
// device whose peer is the next node of the path, and record its port as the way
// out toward the path's destination.
//
//   The Dijkstra algorithm we call computes a tree of shortest paths from a named node,
// so the route from src to dst is read off a tree rooted in src.  Trees are cached per
// root until the fabric changes.

import (
	"math"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// routeTable holds the graph form of the fabric and the shortest-path trees computed on it.
// It is discarded (set to nil in the Fabric) whenever a node or link is added.
type routeTable struct {
	// connGraph is the graph/simple representation of the fabric's links
	connGraph graph.Graph

	// gNodes[i] is the graph node standing for the fabric node with id i
	gNodes map[int]simple.Node

	// cachedSP maps the id of a path source to the shortest-path tree rooted in it
	cachedSP map[int]path.Shortest
}

// buildConnGraph returns a routeTable whose graph has one node per fabric node and
// one edge, of weight 1, per link
func (fab *Fabric) buildConnGraph() *routeTable {
	rt := &routeTable{gNodes: make(map[int]simple.Node), cachedSP: make(map[int]path.Shortest)}
	connGraph := simple.NewWeightedUndirectedGraph(0, math.Inf(1))

	// every node appears, even one with no links, so that a lookup on it fails cleanly
	for _, n := range fab.nodes {
		rt.gNodes[n.id] = simple.Node(n.id)
		connGraph.AddNode(rt.gNodes[n.id])
	}

	// each device contributes the edge to its peer; the graph is undirected so the
	// peer's device sets the same edge again
	for _, n := range fab.nodes {
		for _, dev := range n.devices {
			weightedEdge := simple.WeightedEdge{F: rt.gNodes[n.id], T: rt.gNodes[dev.peerNode], W: 1.0}
			connGraph.SetWeightedEdge(weightedEdge)
		}
	}
	rt.connGraph = connGraph
	return rt
}

// spTree returns the shortest path tree rooted in input argument 'from'.  If the tree
// is found in the cache it is returned, if not it is computed, saved, and returned.
func (rt *routeTable) spTree(from int) path.Shortest {
	spTree, present := rt.cachedSP[from]
	if present {
		return spTree
	}

	// let graph/path.DijkstraFrom compute the tree. The first argument
	// is the root of the tree, the second is the graph
	spTree = path.DijkstraFrom(rt.gNodes[from], rt.connGraph)
	rt.cachedSP[from] = spTree
	return spTree
}

// convertNodeSeq extracts the fabric node ids from a sequence of graph nodes
// (e.g. like a path) and returns that list
func convertNodeSeq(nsQ []graph.Node) []int {
	rtn := make([]int, 0, len(nsQ))
	for _, node := range nsQ {
		rtn = append(rtn, int(node.ID()))
	}
	return rtn
}

// Path returns the ids of the nodes on a shortest path from src to dst, inclusive of
// both ends.  The list is empty when src is not a node of the fabric or dst cannot be
// reached from it.  The graph is rebuilt first if the fabric changed since the last call.
func (fab *Fabric) Path(src, dst int) []int {
	if fab.routes == nil {
		fab.routes = fab.buildConnGraph()
	}
	if _, present := fab.routes.gNodes[src]; !present {
		return []int{}
	}

	// nodeSeq is nil if dst is not reachable in the tree rooted at src
	nodeSeq, _ := fab.routes.spTree(src).To(int64(dst))
	return convertNodeSeq(nodeSeq)
}

// ShowPath returns a string that lists the names of the nodes on a path, separated by
// commas, in the order the path visits them.  Ids that name no node are skipped.
func (fab *Fabric) ShowPath(route []int) string {
	names := make([]string, 0, len(route))
	for _, id := range route {
		if n, present := fab.NodeByID(id); present {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, ",")
}

// ComputeRoutes fills every switch's forwarding table with the port to use toward each
// NIC, the port whose link leads to the next node on a shortest path.  The tables are
// rebuilt from scratch.  An error naming every (switch, NIC) pair without a route is
// returned if some NIC cannot be reached from some switch; the reachable entries are
// still filled in.
func (fab *Fabric) ComputeRoutes() error {
	fab.routes = fab.buildConnGraph()
	errs := []error{}
	for _, sw := range fab.nodes {
		if sw.kind != SwitchNode {
			continue
		}
		sw.fwd = make(map[int]PortID)
		for _, nic := range fab.nodes {
			if nic.kind != NICNode {
				continue
			}

			// a usable route has the switch and at least one more node on it
			route := fab.Path(sw.id, nic.id)
			if len(route) < 2 {
				errs = append(errs, errors.Errorf("no route from %s to %s", sw.name, nic.name))
				continue
			}

			// find the device whose far end is the next hop
			nxtHop := route[1]
			for _, dev := range sw.devices {
				if dev.peerNode == nxtHop {
					sw.fwd[nic.id] = dev.port
					break
				}
			}
		}
	}
	return ReportErrs(errs)
}
