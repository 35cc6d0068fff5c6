package statroute

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowTableReplaceSemantics(t *testing.T) {
	ft := CreateFlowTable("X")

	ft.applyCmd(AddFlowCmd(DefaultDenyRule("X")))
	ft.applyCmd(AddFlowCmd(ForwardRule("X", macA, 1)))
	ft.applyCmd(AddFlowCmd(ForwardRule("X", macA, 2)))
	ft.applyCmd(AddFlowCmd(ForwardRule("X", macC, 3)))

	assert.Equal(t, []FlowRule{
		ForwardRule("X", macA, 2),
		ForwardRule("X", macC, 3),
		DefaultDenyRule("X"),
	}, ft.Rules())

	rule, found := ft.Lookup(macA)
	require.True(t, found)
	assert.Equal(t, 2, rule.OutPort)

	rule, found = ft.Lookup(macB)
	require.True(t, found)
	assert.True(t, rule.Drop)

	ft.applyCmd(DelFlowsCmd("X"))
	assert.Empty(t, ft.Rules())
	_, found = ft.Lookup(macA)
	assert.False(t, found)
}

// runEmulated optimizes topo on a fresh emulated network, returning the programmer
func runEmulated(t *testing.T, g *Graph, del *DevExecList, tm *TraceManager) (*EmulatedProgrammer, *OptimizeReport) {
	t.Helper()
	prog := CreateEmulatedProgrammer(g, del)
	report, err := OptimizeGraph(context.Background(), g, prog, 1, tm)
	require.NoError(t, err)
	return prog, report
}

func TestEmulatedChainTables(t *testing.T) {
	g := buildGraph(t, chainTopo(t))
	prog, report := runEmulated(t, g, nil, nil)

	assert.Len(t, report.Paths, 2)
	assert.Len(t, report.Rules, 6)
	assert.Len(t, prog.Applied(), 12)

	assert.Equal(t, []FlowRule{
		ForwardRule("Y", macA, 1),
		ForwardRule("Y", macC, 2),
		DefaultDenyRule("Y"),
	}, prog.Table("Y").Rules())

	delivered, err := prog.Deliver(g, "A", "C")
	require.NoError(t, err)
	assert.Equal(t, Path{"A", "X", "Y", "Z", "C"}, delivered)

	delivered, err = prog.Deliver(g, "C", "A")
	require.NoError(t, err)
	assert.Equal(t, Path{"C", "Z", "Y", "X", "A"}, delivered)

	assert.Nil(t, prog.Table("A"))
}

func TestEmulatedRunIsIdempotent(t *testing.T) {
	g := buildGraph(t, chainTopo(t))
	prog := CreateEmulatedProgrammer(g, nil)
	logger, _ := test.NewNullLogger()

	var snapshots []map[string][]FlowRule
	for run := 0; run < 2; run++ {
		rules, pathErrs := BuildFlowRules(g, g.PlanPaths())
		require.Empty(t, pathErrs)

		installer := CreateFlowInstaller(prog, 1, nil)
		installer.SetLogger(logger)
		_, err := installer.Run(context.Background(), g.ProgrammableSwitches(), rules)
		require.NoError(t, err)

		snapshot := make(map[string][]FlowRule)
		for _, swtch := range []string{"X", "Y", "Z"} {
			snapshot[swtch] = prog.Table(swtch).Rules()
			assert.Len(t, snapshot[swtch], 3, "run %d switch %s", run, swtch)
		}
		snapshots = append(snapshots, snapshot)
	}
	assert.Equal(t, snapshots[0], snapshots[1])
	assert.Len(t, prog.Applied(), 24)
}

func TestEmulatedStaleRulesFlushed(t *testing.T) {
	g := buildGraph(t, chainTopo(t))
	prog := CreateEmulatedProgrammer(g, nil)

	// a rule left over from an earlier configuration
	_, err := prog.Apply(context.Background(), AddFlowCmd(ForwardRule("Y", "00:00:00:00:00:ff", 7)))
	require.NoError(t, err)
	require.Len(t, prog.Table("Y").Rules(), 1)

	_, err = OptimizeGraph(context.Background(), g, prog, 1, nil)
	require.NoError(t, err)

	for _, rule := range prog.Table("Y").Rules() {
		assert.NotEqual(t, "00:00:00:00:00:ff", rule.DlDst)
	}
}

func TestEmulatedVirtualTime(t *testing.T) {
	g := buildGraph(t, chainTopo(t))

	del := CreateDevExecList("ovs")
	del.AddTiming(DelFlows.String(), "Default", 0.005)
	del.AddTiming(AddFlow.String(), "Default", 0.002)

	prog, _ := runEmulated(t, g, del, nil)

	// 3 flushes, 3 default rules and 6 forwarding rules
	assert.InDelta(t, 3*0.005+9*0.002, prog.CurrentTime().Seconds(), 1e-6)
}

func TestEmulatedCommandsRunOnEventList(t *testing.T) {
	g := buildGraph(t, chainTopo(t))
	del := CreateDevExecList("ovs")
	del.AddTiming(AddFlow.String(), "Default", 0.002)
	prog := CreateEmulatedProgrammer(g, del)

	_, err := prog.Apply(context.Background(), AddFlowCmd(DefaultDenyRule("X")))
	require.NoError(t, err)
	_, err = prog.Apply(context.Background(), AddFlowCmd(ForwardRule("X", macC, 2)))
	require.NoError(t, err)

	// each command lands when the event manager reaches its completion time
	assert.InDelta(t, 0.004, prog.evtMgr.CurrentSeconds(), 1e-6)
	assert.Equal(t, prog.evtMgr.CurrentTime(), prog.CurrentTime())
	assert.Len(t, prog.Table("X").Rules(), 2)
}

func TestEmulatedTimingByModel(t *testing.T) {
	del := CreateDevExecList("models")
	del.AddTiming(AddFlow.String(), "fast", 1e-4)

	g := buildGraph(t, chainTopo(t))
	prog := CreateEmulatedProgrammer(g, del)

	assert.Equal(t, 1e-4, prog.execTime(AddFlow, "fast"))
	assert.Equal(t, DefaultCmdExecTime, prog.execTime(AddFlow, "slow"))
	assert.Equal(t, DefaultCmdExecTime, prog.execTime(DelFlows, "fast"))
}

func TestEmulatedProgrammerErrors(t *testing.T) {
	g := buildGraph(t, chainTopo(t))
	prog := CreateEmulatedProgrammer(g, nil)

	output, err := prog.Apply(context.Background(), DelFlowsCmd("nowhere"))
	assert.Error(t, err)
	assert.Contains(t, output, "nowhere")

	prog.SetUnreachable("X")
	_, err = prog.Apply(context.Background(), DelFlowsCmd("X"))
	assert.Error(t, err)
	assert.Empty(t, prog.Applied())
}

func TestDeliverFailures(t *testing.T) {
	g := buildGraph(t, chainTopo(t))
	prog := CreateEmulatedProgrammer(g, nil)
	ctx := context.Background()

	// empty tables drop nothing explicitly, but match nothing either
	_, err := prog.Deliver(g, "A", "C")
	assert.Error(t, err)

	// default deny everywhere
	for _, swtch := range []string{"X", "Y", "Z"} {
		_, err = prog.Apply(ctx, AddFlowCmd(DefaultDenyRule(swtch)))
		require.NoError(t, err)
	}
	visited, err := prog.Deliver(g, "A", "C")
	assert.Error(t, err)
	assert.Equal(t, Path{"A", "X"}, visited)

	// X and Y send frames for C back and forth
	_, err = prog.Apply(ctx, AddFlowCmd(ForwardRule("X", macC, 2)))
	require.NoError(t, err)
	_, err = prog.Apply(ctx, AddFlowCmd(ForwardRule("Y", macC, 1)))
	require.NoError(t, err)
	_, err = prog.Deliver(g, "A", "C")
	assert.ErrorContains(t, err, "loops")

	// X sends frames for C back to A
	_, err = prog.Apply(ctx, AddFlowCmd(ForwardRule("X", macC, 1)))
	require.NoError(t, err)
	_, err = prog.Deliver(g, "A", "C")
	assert.ErrorContains(t, err, "delivered to A")

	_, err = prog.Deliver(g, "A", "X")
	assert.Error(t, err)
}
