package statroute

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveEgressChain(t *testing.T) {
	g := buildGraph(t, chainTopo(t))

	hops, err := g.ResolveEgress(Path{"A", "X", "Y", "Z", "C"})
	require.NoError(t, err)
	assert.Equal(t, []Hop{
		{Switch: "X", NextHop: "Y", PortName: "X-eth2", Port: 2},
		{Switch: "Y", NextHop: "Z", PortName: "Y-eth2", Port: 2},
		{Switch: "Z", NextHop: "C", PortName: "Z-eth2", Port: 2},
	}, hops)

	hops, err = g.ResolveEgress(Path{"C", "Z", "Y", "X", "A"})
	require.NoError(t, err)
	assert.Equal(t, []Hop{
		{Switch: "Z", NextHop: "Y", PortName: "Z-eth1", Port: 1},
		{Switch: "Y", NextHop: "X", PortName: "Y-eth1", Port: 1},
		{Switch: "X", NextHop: "A", PortName: "X-eth1", Port: 1},
	}, hops)
}

func TestResolveEgressDirectLink(t *testing.T) {
	g := buildGraph(t, chainTopo(t))

	// two hosts side by side have no switch between them, so nothing to resolve
	hops, err := g.ResolveEgress(Path{"A", "X"})
	require.NoError(t, err)
	assert.Empty(t, hops)

	_, err = g.ResolveEgress(Path{"A"})
	assert.Error(t, err)
}

// twoSwitchTopo links switches S and T (each with one host) using the given port names
func twoSwitchTopo(sPort, tPort string, sPorts, tPorts []PortDesc) *TopoCfg {
	return &TopoCfg{
		Switches: []SwitchDesc{
			{Name: "S", Ports: append([]PortDesc{{Name: "S-eth1", Number: 1}}, sPorts...)},
			{Name: "T", Ports: append([]PortDesc{{Name: "T-eth1", Number: 1}}, tPorts...)},
		},
		Hosts: []HostDesc{{Name: "A", MAC: macA}, {Name: "B", MAC: macB}},
		Links: []LinkDesc{
			{Node1: "A", Port1: "A-eth0", Node2: "S", Port2: "S-eth1"},
			{Node1: "S", Port1: sPort, Node2: "T", Port2: tPort},
			{Node1: "T", Port1: "T-eth1", Node2: "B", Port2: "B-eth0"},
		},
	}
}

func TestResolveEgressFailures(t *testing.T) {
	tests := []struct {
		name string
		topo *TopoCfg
	}{
		{
			name: "both ports carry the prefix",
			topo: twoSwitchTopo("S-eth2", "S-eth3",
				[]PortDesc{{Name: "S-eth2", Number: 2}, {Name: "S-eth3", Number: 3}}, nil),
		},
		{
			name: "no port carries the prefix",
			topo: twoSwitchTopo("port7", "T-eth2", nil, []PortDesc{{Name: "T-eth2", Number: 2}}),
		},
		{
			name: "port absent from the port table",
			topo: twoSwitchTopo("S-eth9", "T-eth2", nil, []PortDesc{{Name: "T-eth2", Number: 2}}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := buildGraph(t, tt.topo)
			route, _, err := g.ShortestPath("A", "B")
			require.NoError(t, err)
			require.Equal(t, Path{"A", "S", "T", "B"}, route)

			_, err = g.ResolveEgress(route)
			require.Error(t, err)
			var pre *PortResolutionError
			require.True(t, errors.As(err, &pre))
			assert.Equal(t, "S", pre.Switch)
			assert.Equal(t, "T", pre.NextHop)
		})
	}
}

func TestResolveEgressBadPaths(t *testing.T) {
	g := buildGraph(t, chainTopo(t))

	// an interior host
	_, err := g.ResolveEgress(Path{"X", "A", "X"})
	var pre *PortResolutionError
	require.True(t, errors.As(err, &pre))
	assert.Equal(t, "A", pre.Switch)

	// a hop with no link
	_, err = g.ResolveEgress(Path{"A", "X", "Z", "C"})
	require.True(t, errors.As(err, &pre))
	assert.Equal(t, "X", pre.Switch)
	assert.Equal(t, "Z", pre.NextHop)
}

func TestResolveEgressSimilarNames(t *testing.T) {
	// s1's prefix "s1-" must not capture the ports of s10
	g := buildGraph(t, &TopoCfg{
		Switches: []SwitchDesc{
			{Name: "s1", Ports: []PortDesc{{Name: "s1-eth1", Number: 1}, {Name: "s1-eth2", Number: 2}}},
			{Name: "s10", Ports: []PortDesc{{Name: "s10-eth1", Number: 1}, {Name: "s10-eth2", Number: 2}}},
		},
		Hosts: []HostDesc{{Name: "A", MAC: macA}, {Name: "B", MAC: macB}},
		Links: []LinkDesc{
			{Node1: "A", Port1: "A-eth0", Node2: "s1", Port2: "s1-eth1"},
			{Node1: "s10", Port1: "s10-eth1", Node2: "s1", Port2: "s1-eth2"},
			{Node1: "s10", Port1: "s10-eth2", Node2: "B", Port2: "B-eth0"},
		},
	})

	hops, err := g.ResolveEgress(Path{"A", "s1", "s10", "B"})
	require.NoError(t, err)
	assert.Equal(t, []Hop{
		{Switch: "s1", NextHop: "s10", PortName: "s1-eth2", Port: 2},
		{Switch: "s10", NextHop: "B", PortName: "s10-eth2", Port: 2},
	}, hops)
}
