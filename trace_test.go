package statroute

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceOfEmulatedRun(t *testing.T) {
	g := buildGraph(t, chainTopo(t))
	tm := CreateTraceManager("chain", true)
	runEmulated(t, g, nil, tm)

	for _, swtch := range []string{"X", "Y", "Z"} {
		traces := tm.SwitchTrace(swtch)
		require.Len(t, traces, 4, swtch)

		assert.Equal(t, "ovs-ofctl del-flows "+swtch, traces[0].Cmd)
		assert.Equal(t, string(ResetPhase), traces[0].TraceType)
		assert.Equal(t, string(InstallPhase), traces[3].TraceType)

		prev := 0.0
		for _, trc := range traces {
			assert.Equal(t, "ok", trc.Status)
			stamp, err := strconv.ParseFloat(trc.TraceTime, 64)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, stamp, prev)
			assert.Greater(t, stamp, 0.0)
			prev = stamp
		}
	}
	assert.Empty(t, tm.SwitchTrace("A"))
}

func TestTraceRecordsFailures(t *testing.T) {
	g := buildGraph(t, chainTopo(t))
	prog := CreateEmulatedProgrammer(g, nil)
	prog.SetUnreachable("Z")
	tm := CreateTraceManager("chain", true)

	_, err := OptimizeGraph(context.Background(), g, prog, 1, tm)
	require.Error(t, err)

	for _, trc := range tm.SwitchTrace("Z") {
		assert.Contains(t, trc.Status, "unreachable")
	}
	for _, trc := range tm.SwitchTrace("X") {
		assert.Equal(t, "ok", trc.Status)
	}
}

func TestInactiveTraceManager(t *testing.T) {
	g := buildGraph(t, chainTopo(t))
	tm := CreateTraceManager("quiet", false)
	runEmulated(t, g, nil, tm)

	assert.Empty(t, tm.SwitchTrace("X"))

	filename := filepath.Join(t.TempDir(), "trace.json")
	require.NoError(t, tm.WriteToFile(filename))
	_, err := os.Stat(filename)
	assert.True(t, os.IsNotExist(err))
}

func TestTraceWriteToFile(t *testing.T) {
	g := buildGraph(t, chainTopo(t))
	tm := CreateTraceManager("chain", true)
	runEmulated(t, g, nil, tm)

	filename := filepath.Join(t.TempDir(), "trace.json")
	require.NoError(t, tm.WriteToFile(filename))

	bytes, err := os.ReadFile(filename)
	require.NoError(t, err)

	var readBack TraceManager
	require.NoError(t, json.Unmarshal(bytes, &readBack))
	assert.True(t, readBack.InUse)
	assert.Equal(t, "chain", readBack.ExpName)
	assert.Equal(t, tm.SwitchTrace("Y"), readBack.Traces["Y"])
	assert.Len(t, readBack.Traces, 3)
}
