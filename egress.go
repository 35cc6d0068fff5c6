package statroute

import (
	"fmt"
	"strings"
)

// Hop says that, on a path, packets leave switch Switch for NextHop
// through the port named PortName, whose OpenFlow number is Port.
type Hop struct {
	Switch   string
	NextHop  string
	PortName string
	Port     int
}

// PortResolutionError reports that the egress port of a switch on a path
// could not be determined unambiguously from the topology data.
type PortResolutionError struct {
	Switch  string
	NextHop string
	Reason  string
}

func (pre *PortResolutionError) Error() string {
	return fmt.Sprintf("egress from %s toward %s: %s", pre.Switch, pre.NextHop, pre.Reason)
}

// egressPortName picks, of the two port names stored on a link, the one owned by
// the named switch.  Port names carry their owner's name followed by '-'.
func egressPortName(link *Link, swtch string) (string, bool, bool) {
	prefix := swtch + "-"
	match1 := strings.HasPrefix(link.Port1, prefix)
	match2 := strings.HasPrefix(link.Port2, prefix)

	switch {
	case match1 && !match2:
		return link.Port1, true, false
	case match2 && !match1:
		return link.Port2, true, false
	}
	return "", false, match1 && match2
}

// ResolveEgress determines, for every switch strictly between the source and
// destination hosts of p, the local port that faces the next node on p.
func (g *Graph) ResolveEgress(p Path) ([]Hop, error) {
	if len(p) < 2 {
		return nil, fmt.Errorf("path %s has fewer than two nodes", p)
	}

	hops := make([]Hop, 0, len(p)-2)
	for idx := 1; idx < len(p)-1; idx++ {
		here := p[idx]
		next := p[idx+1]

		node := g.Node(here)
		if node == nil || node.Kind != SwitchNode {
			return nil, &PortResolutionError{Switch: here, NextHop: next, Reason: "interior of path is not a switch"}
		}

		link := g.LinkBetween(here, next)
		if link == nil {
			return nil, &PortResolutionError{Switch: here, NextHop: next, Reason: "no link between them"}
		}

		portName, found, ambiguous := egressPortName(link, here)
		if ambiguous {
			return nil, &PortResolutionError{Switch: here, NextHop: next,
				Reason: fmt.Sprintf("both ports %s and %s carry the switch prefix", link.Port1, link.Port2)}
		}
		if !found {
			return nil, &PortResolutionError{Switch: here, NextHop: next,
				Reason: fmt.Sprintf("neither port %s nor %s carries the switch prefix", link.Port1, link.Port2)}
		}

		portNum, present := node.Ports[portName]
		if !present {
			return nil, &PortResolutionError{Switch: here, NextHop: next,
				Reason: fmt.Sprintf("port %s missing from the switch port table", portName)}
		}

		hops = append(hops, Hop{Switch: here, NextHop: next, PortName: portName, Port: portNum})
	}

	return hops, nil
}
