package statroute

// routes.go builds the weighted topology graph and computes latency-optimal paths through it.

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// The general approach is to convert the topology description into the data structures
// of a graph package that has built-in path discovery algorithms.  Each edge is weighted
// by the link latency, in milliseconds, so a shortest path minimizes end-to-end delay.
// The Dijkstra variant we call computes, for a source, every shortest path to every
// destination; among equal-cost paths we pick the lexicographically smallest sequence
// of node names, so the outcome does not depend on map iteration order inside the graph package.

// DefaultLinkWeight is the weight of a link whose delay attribute is absent
const DefaultLinkWeight = 1.0

// ErrNoPath is returned by ShortestPath when the destination is unreachable
var ErrNoPath = errors.New("no path")

// NodeKind distinguishes switches from hosts
type NodeKind int

const (
	SwitchNode NodeKind = iota
	HostNode
)

var nodeKindToStr map[NodeKind]string = map[NodeKind]string{SwitchNode: "switch", HostNode: "host"}

func (nk NodeKind) String() string {
	return nodeKindToStr[nk]
}

// Node is a switch or host in the graph
type Node struct {
	Name string
	Kind NodeKind

	// hosts only
	MAC string
	IP  string

	// switches only
	DPID            string
	Model           string
	Ports           map[string]int // port name -> OpenFlow port number
	CanProgramFlows bool
}

// Link is an undirected edge. Port1 is the port on Node1, Port2 the port on Node2.
type Link struct {
	Node1  string
	Node2  string
	Port1  string
	Port2  string
	Weight float64
}

// nodePair is the key under which an unordered pair of node ids is stored
type nodePair struct {
	lo, hi int64
}

func makeNodePair(a, b int64) nodePair {
	if a > b {
		a, b = b, a
	}
	return nodePair{lo: a, hi: b}
}

// Path is the sequence of node names from source host to destination host, inclusive
type Path []string

func (p Path) String() string {
	return strings.Join(p, ",")
}

// PlannedPath is the outcome of planning for one ordered pair of hosts
type PlannedPath struct {
	Src  string
	Dst  string
	Path Path
	Cost float64
}

// HostPair names an ordered pair of hosts
type HostPair struct {
	Src string
	Dst string
}

// Graph is an immutable snapshot of the topology, built once per optimization pass.
type Graph struct {
	nodes    map[string]*Node
	names    []string // node names, sorted; index i has gonum id i
	idByName map[string]int64
	hostIds  map[int64]bool

	connGraph *simple.WeightedUndirectedGraph
	links     map[nodePair]*Link

	// shortest-path results, by source id
	cachedSP map[int64]path.ShortestAlts
}

// ParseDelay converts a link delay attribute into a weight in milliseconds.
// An empty attribute gives DefaultLinkWeight. A bare number is taken to be in
// milliseconds; otherwise the unit suffix (ns, us, µs, ms, s, ...) is honored.
func ParseDelay(delay string) (float64, error) {
	delay = strings.TrimSpace(delay)
	if len(delay) == 0 {
		return DefaultLinkWeight, nil
	}

	var weight float64
	value, err := strconv.ParseFloat(delay, 64)
	if err == nil {
		weight = value
	} else {
		dur, derr := time.ParseDuration(delay)
		if derr != nil {
			return 0, fmt.Errorf("malformed delay %q", delay)
		}
		weight = float64(dur) / float64(time.Millisecond)
	}

	if math.IsNaN(weight) || math.IsInf(weight, 0) || weight < 0 {
		return 0, fmt.Errorf("delay %q is not a finite non-negative latency", delay)
	}

	return weight, nil
}

// BuildGraph creates the graph snapshot from a topology.  Every problem found
// in the topology is reported in the aggregated error, and no graph is returned then.
func BuildGraph(topo Topology) (*Graph, error) {
	g := &Graph{
		nodes:    make(map[string]*Node),
		idByName: make(map[string]int64),
		hostIds:  make(map[int64]bool),
		links:    make(map[nodePair]*Link),
		cachedSP: make(map[int64]path.ShortestAlts),
	}
	errList := []error{}

	for _, sd := range topo.TopoSwitches() {
		node := &Node{Name: sd.Name, Kind: SwitchNode, DPID: sd.DPID, Model: sd.Model,
			Ports: make(map[string]int), CanProgramFlows: sd.CanProgramFlows()}
		numbers := make(map[int]string)
		for _, port := range sd.Ports {
			if _, present := node.Ports[port.Name]; present {
				errList = append(errList, fmt.Errorf("switch %s lists port %s more than once", sd.Name, port.Name))
				continue
			}
			if other, present := numbers[port.Number]; present {
				errList = append(errList, fmt.Errorf("switch %s uses port number %d for both %s and %s",
					sd.Name, port.Number, other, port.Name))
				continue
			}
			numbers[port.Number] = port.Name
			node.Ports[port.Name] = port.Number
		}
		errList = append(errList, g.addNode(node))
	}
	for _, hd := range topo.TopoHosts() {
		errList = append(errList, g.addNode(&Node{Name: hd.Name, Kind: HostNode, MAC: hd.MAC, IP: hd.IP}))
	}

	// gonum ids follow the sorted order of node names
	g.names = make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		g.names = append(g.names, name)
	}
	slices.Sort(g.names)

	g.connGraph = simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for idx, name := range g.names {
		id := int64(idx)
		g.idByName[name] = id
		g.connGraph.AddNode(simple.Node(id))
		if g.nodes[name].Kind == HostNode {
			g.hostIds[id] = true
		}
	}

	for _, ld := range topo.TopoLinks() {
		errList = append(errList, g.addLink(ld))
	}

	if err := ReportErrs(errList); err != nil {
		return nil, err
	}

	return g, nil
}

// addNode remembers node, complaining if the name is already used
func (g *Graph) addNode(node *Node) error {
	if len(node.Name) == 0 {
		return fmt.Errorf("%s with empty name", node.Kind)
	}
	if _, present := g.nodes[node.Name]; present {
		return fmt.Errorf("node name %s used more than once", node.Name)
	}
	g.nodes[node.Name] = node

	return nil
}

// addLink validates a link description and adds it as a weighted edge
func (g *Graph) addLink(ld LinkDesc) error {
	id1, present1 := g.idByName[ld.Node1]
	id2, present2 := g.idByName[ld.Node2]
	if !present1 || !present2 {
		return fmt.Errorf("link %s-%s names an unknown node", ld.Node1, ld.Node2)
	}
	if id1 == id2 {
		return fmt.Errorf("link from %s to itself", ld.Node1)
	}

	key := makeNodePair(id1, id2)
	if _, present := g.links[key]; present {
		return fmt.Errorf("more than one link between %s and %s", ld.Node1, ld.Node2)
	}

	weight, err := ParseDelay(ld.Delay)
	if err != nil {
		return fmt.Errorf("link %s-%s: %w", ld.Node1, ld.Node2, err)
	}

	g.links[key] = &Link{Node1: ld.Node1, Node2: ld.Node2, Port1: ld.Port1, Port2: ld.Port2, Weight: weight}
	g.connGraph.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(id1), T: simple.Node(id2), W: weight})

	return nil
}

// Node returns the named node, or nil
func (g *Graph) Node(name string) *Node {
	return g.nodes[name]
}

// NodeNames returns the names of all nodes, sorted
func (g *Graph) NodeNames() []string {
	return slices.Clone(g.names)
}

// Hosts returns the host nodes, sorted by name
func (g *Graph) Hosts() []*Node {
	return g.nodesOfKind(HostNode)
}

// Switches returns the switch nodes, sorted by name
func (g *Graph) Switches() []*Node {
	return g.nodesOfKind(SwitchNode)
}

func (g *Graph) nodesOfKind(kind NodeKind) []*Node {
	rtn := []*Node{}
	for _, name := range g.names {
		if g.nodes[name].Kind == kind {
			rtn = append(rtn, g.nodes[name])
		}
	}
	return rtn
}

// LinkBetween returns the link joining the two named nodes, or nil
func (g *Graph) LinkBetween(name1, name2 string) *Link {
	id1, present1 := g.idByName[name1]
	id2, present2 := g.idByName[name2]
	if !present1 || !present2 {
		return nil
	}
	return g.links[makeNodePair(id1, id2)]
}

// PathCost sums the link weights along p.  It fails if consecutive entries are not linked.
func (g *Graph) PathCost(p Path) (float64, error) {
	cost := 0.0
	for idx := 1; idx < len(p); idx++ {
		link := g.LinkBetween(p[idx-1], p[idx])
		if link == nil {
			return 0, fmt.Errorf("no link between %s and %s", p[idx-1], p[idx])
		}
		cost += link.Weight
	}
	return cost, nil
}

// transitGraph presents the topology to the path search with hosts as dead ends,
// except for the host the search starts from.  Hosts do not forward.
type transitGraph struct {
	g   *Graph
	src int64
}

func (tg transitGraph) From(id int64) graph.Nodes {
	if id != tg.src && tg.g.hostIds[id] {
		return graph.Empty
	}
	return tg.g.connGraph.From(id)
}

func (tg transitGraph) Edge(uid, vid int64) graph.Edge {
	return tg.g.connGraph.Edge(uid, vid)
}

func (tg transitGraph) Weight(xid, yid int64) (float64, bool) {
	return tg.g.connGraph.Weight(xid, yid)
}

// getSPTree returns the shortest path results for the source with the given id,
// computing and caching them on first use
func (g *Graph) getSPTree(from int64) path.ShortestAlts {
	spTree, present := g.cachedSP[from]
	if present {
		return spTree
	}

	spTree = path.DijkstraAllFrom(simple.Node(from), transitGraph{g: g, src: from})
	g.cachedSP[from] = spTree

	return spTree
}

// convertNodeSeq turns a sequence of graph nodes into a sequence of node names
func (g *Graph) convertNodeSeq(nsQ []graph.Node) Path {
	rtn := make(Path, 0, len(nsQ))
	for _, node := range nsQ {
		rtn = append(rtn, g.names[node.ID()])
	}
	return rtn
}

// ShortestPath returns the minimum-latency path from src to dst and its cost.
// Equal-cost alternatives are resolved by choosing the lexicographically smallest
// sequence of node names.  ErrNoPath is returned when dst cannot be reached.
func (g *Graph) ShortestPath(src, dst string) (Path, float64, error) {
	srcId, present1 := g.idByName[src]
	dstId, present2 := g.idByName[dst]
	if !present1 || !present2 {
		return nil, 0, fmt.Errorf("unknown node in route request %s -> %s", src, dst)
	}
	if srcId == dstId {
		return Path{src}, 0, nil
	}

	spTree := g.getSPTree(srcId)
	nodeSeqs, weight := spTree.AllTo(dstId)
	if len(nodeSeqs) == 0 || math.IsInf(weight, 1) {
		return nil, 0, ErrNoPath
	}

	var best Path
	for _, nodeSeq := range nodeSeqs {
		candidate := g.convertNodeSeq(nodeSeq)
		if best == nil || slices.Compare(candidate, best) < 0 {
			best = candidate
		}
	}

	return best, weight, nil
}

// PlanPaths computes a path for every ordered pair of distinct hosts.  Pairs with no
// connecting route are skipped; see UnreachablePairs.  Results are ordered by (Src, Dst).
func (g *Graph) PlanPaths() []PlannedPath {
	planned := []PlannedPath{}
	hosts := g.Hosts()

	for _, src := range hosts {
		for _, dst := range hosts {
			if src.Name == dst.Name {
				continue
			}
			route, cost, err := g.ShortestPath(src.Name, dst.Name)
			if err != nil {
				continue
			}
			planned = append(planned, PlannedPath{Src: src.Name, Dst: dst.Name, Path: route, Cost: cost})
		}
	}

	return planned
}

// UnreachablePairs lists the ordered pairs of distinct hosts with no connecting path
func (g *Graph) UnreachablePairs() []HostPair {
	untouched := []HostPair{}
	hosts := g.Hosts()

	for _, src := range hosts {
		for _, dst := range hosts {
			if src.Name == dst.Name {
				continue
			}
			if _, _, err := g.ShortestPath(src.Name, dst.Name); errors.Is(err, ErrNoPath) {
				untouched = append(untouched, HostPair{Src: src.Name, Dst: dst.Name})
			}
		}
	}

	return untouched
}
