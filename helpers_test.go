package statroute

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	macA = "00:00:00:00:00:0a"
	macB = "00:00:00:00:00:0b"
	macC = "00:00:00:00:00:0c"
)

// chainTopo builds host A on switch X, host C on switch Z, and switch Y between X and Z,
// every link with delay 1ms.  Ports: A-eth0/X-eth1, X-eth2/Y-eth1, Y-eth2/Z-eth1, Z-eth2/C-eth0.
func chainTopo(t *testing.T) *TopoCfg {
	t.Helper()
	tf := CreateTopoCfgFrame("chain")

	hostA := CreateHostFrame("A", macA, "10.0.0.1/24")
	hostC := CreateHostFrame("C", macC, "10.0.0.3/24")
	swX := CreateSwitchFrame("X", "0000000000000001")
	swY := CreateSwitchFrame("Y", "0000000000000002")
	swZ := CreateSwitchFrame("Z", "0000000000000003")

	for _, host := range []*HostFrame{hostA, hostC} {
		require.NoError(t, tf.AddHost(host))
	}
	for _, swtch := range []*SwitchFrame{swX, swY, swZ} {
		require.NoError(t, tf.AddSwitch(swtch))
	}

	require.NoError(t, tf.ConnectDevs(hostA, swX, "1ms", 0))
	require.NoError(t, tf.ConnectDevs(swX, swY, "1ms", 0))
	require.NoError(t, tf.ConnectDevs(swY, swZ, "1ms", 0))
	require.NoError(t, tf.ConnectDevs(swZ, hostC, "1ms", 0))

	tc := tf.Transform()
	return &tc
}

// isolatedTopo builds two components, A-X and B-Y, with no link between them
func isolatedTopo(t *testing.T) *TopoCfg {
	t.Helper()
	tf := CreateTopoCfgFrame("isolated")

	hostA := CreateHostFrame("A", macA, "10.0.0.1/24")
	hostB := CreateHostFrame("B", macB, "10.0.0.2/24")
	swX := CreateSwitchFrame("X", "0000000000000001")
	swY := CreateSwitchFrame("Y", "0000000000000002")

	require.NoError(t, tf.AddHost(hostA))
	require.NoError(t, tf.AddHost(hostB))
	require.NoError(t, tf.AddSwitch(swX))
	require.NoError(t, tf.AddSwitch(swY))
	require.NoError(t, tf.ConnectDevs(hostA, swX, "1ms", 0))
	require.NoError(t, tf.ConnectDevs(hostB, swY, "1ms", 0))

	tc := tf.Transform()
	return &tc
}

// tieredTopo builds the 14-switch, 16-host mininet tiered topology
func tieredTopo(t *testing.T) *TopoCfg {
	t.Helper()
	tf, err := BuildTieredTopo(MininetTieredParams())
	require.NoError(t, err)
	tc := tf.Transform()
	return &tc
}

// buildGraph builds the graph of a topology the test expects to be valid
func buildGraph(t *testing.T, topo Topology) *Graph {
	t.Helper()
	g, err := BuildGraph(topo)
	require.NoError(t, err)
	return g
}
