package statroute

import (
	"strconv"
	"sync"

	"github.com/iti/evt/vrtime"
)

// TraceInst records one flow-table command issued during a pass
type TraceInst struct {
	TraceTime string `json:"tracetime" yaml:"tracetime"`
	TraceType string `json:"tracetype" yaml:"tracetype"` // phase, "reset" or "install"
	Cmd       string `json:"cmd" yaml:"cmd"`
	Status    string `json:"status" yaml:"status"` // "ok" or the error text
	Output    string `json:"output,omitempty" yaml:"output,omitempty"`
}

// CreateCmdTrace builds the trace record of a command outcome. TraceTime is filled in by AddTrace.
func CreateCmdTrace(result CmdResult) TraceInst {
	trcInst := TraceInst{TraceType: string(result.Phase), Cmd: result.Cmd.String(), Status: "ok", Output: result.Output}
	if result.Err != nil {
		trcInst.Status = result.Err.Error()
	}
	return trcInst
}

// TraceManager gathers the commands issued to each switch over an optimization pass
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// trace records by switch name, in the order they were issued
	Traces map[string][]TraceInst `json:"traces" yaml:"traces"`

	mu sync.Mutex
}

// CreateTraceManager is a constructor.  It saves the name of the experiment
// and a flag indicating whether the trace manager is active.  By testing this
// flag we can inhibit the activity of gathering a trace when we don't want it,
// while embedding calls to its methods everywhere we need them when it is
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.Traces = make(map[string][]TraceInst)
	return tm
}

// Active tells the caller whether the Trace Manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm.InUse
}

// AddTrace stamps the trace with vrt and stores it under the switch name
func (tm *TraceManager) AddTrace(vrt vrtime.Time, swtch string, trace TraceInst) {
	// return if we aren't using the trace manager
	if !tm.InUse {
		return
	}

	trace.TraceTime = strconv.FormatFloat(vrt.Seconds(), 'f', -1, 64)

	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.Traces[swtch] = append(tm.Traces[swtch], trace)
}

// SwitchTrace returns a copy of the records stored for one switch
func (tm *TraceManager) SwitchTrace(swtch string) []TraceInst {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return append([]TraceInst{}, tm.Traces[swtch]...)
}

// WriteToFile stores the Traces struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
// Nothing is written by an inactive trace manager.
func (tm *TraceManager) WriteToFile(filename string) error {
	if !tm.InUse {
		return nil
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()
	return writeDescFile(filename, struct {
		InUse   bool                   `json:"inuse" yaml:"inuse"`
		ExpName string                 `json:"expname" yaml:"expname"`
		Traces  map[string][]TraceInst `json:"traces" yaml:"traces"`
	}{tm.InUse, tm.ExpName, tm.Traces})
}
