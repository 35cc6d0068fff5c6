package statroute

// flowtable.go emulates the flow tables of a network of OpenFlow switches, so that a
// routing pass can be carried out and checked without a running network.  Commands take
// effect on virtual time, advanced by an event manager by the time the command is
// modeled to take on the switch.

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// DefaultCmdExecTime is the modeled duration (seconds) of a flow-table command
// when the timing table has nothing for the switch model
const DefaultCmdExecTime = 1e-3

// flowKey identifies a flow entry.  Adding a flow with the key of an existing
// entry replaces it, as in OpenFlow.
type flowKey struct {
	priority int
	dlDst    string
}

// FlowTable is the emulated flow table of one switch
type FlowTable struct {
	Switch string
	rules  map[flowKey]FlowRule
}

// CreateFlowTable is a constructor
func CreateFlowTable(swtch string) *FlowTable {
	return &FlowTable{Switch: swtch, rules: make(map[flowKey]FlowRule)}
}

// applyCmd carries out a flow-table command on the table
func (ft *FlowTable) applyCmd(cmd FlowCommand) {
	switch cmd.Op {
	case DelFlows:
		ft.rules = make(map[flowKey]FlowRule)
	case AddFlow:
		ft.rules[flowKey{priority: cmd.Rule.Priority, dlDst: cmd.Rule.DlDst}] = cmd.Rule
	}
}

// Rules returns the entries, highest priority first, then by destination MAC
func (ft *FlowTable) Rules() []FlowRule {
	rules := make([]FlowRule, 0, len(ft.rules))
	for _, rule := range ft.rules {
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].DlDst < rules[j].DlDst
	})
	return rules
}

// Lookup returns the highest-priority entry matching a frame addressed to dstMAC
func (ft *FlowTable) Lookup(dstMAC string) (FlowRule, bool) {
	for _, rule := range ft.Rules() {
		if rule.MatchAll() || rule.DlDst == dstMAC {
			return rule, true
		}
	}
	return FlowRule{}, false
}

// EmulatedProgrammer is a SwitchProgrammer acting on emulated flow tables.
type EmulatedProgrammer struct {
	mu sync.Mutex

	evtMgr *evtm.EventManager
	tables map[string]*FlowTable
	models map[string]string

	// map[operation] -> map[switch model] -> execution time
	execTimeTbl map[string]map[string]float64

	unreachable map[string]bool
	applied     []FlowCommand
}

// buildExecTimeTbl creates a map structure that stores the time taken by
// flow-table operations on switches.
//
//	The organization is
//	 map[operation type] -> map[device model] -> execution time
func buildExecTimeTbl(del *DevExecList) map[string]map[string]float64 {
	det := make(map[string]map[string]float64)

	if del != nil {
		for opType, mapList := range del.Times {
			_, present := det[opType]
			if !present {
				det[opType] = make(map[string]float64)
			}
			for _, devExecDesc := range mapList {
				det[opType][devExecDesc.Model] = devExecDesc.ExecTime
			}
		}
	}

	// add defaults for the operations we issue
	for _, op := range []CmdOp{DelFlows, AddFlow} {
		_, present := det[op.String()]
		if !present {
			det[op.String()] = make(map[string]float64)
		}
		_, present = det[op.String()]["Default"]
		if !present {
			det[op.String()]["Default"] = DefaultCmdExecTime
		}
	}
	return det
}

// CreateEmulatedProgrammer builds an empty flow table for every programmable switch of g.
// del gives command timings by switch model, and may be nil.
func CreateEmulatedProgrammer(g *Graph, del *DevExecList) *EmulatedProgrammer {
	ep := &EmulatedProgrammer{
		evtMgr:      evtm.New(),
		tables:      make(map[string]*FlowTable),
		models:      make(map[string]string),
		execTimeTbl: buildExecTimeTbl(del),
		unreachable: make(map[string]bool),
		applied:     []FlowCommand{},
	}
	for _, node := range g.Switches() {
		if !node.CanProgramFlows {
			continue
		}
		ep.tables[node.Name] = CreateFlowTable(node.Name)
		ep.models[node.Name] = node.Model
	}
	return ep
}

// SetUnreachable makes every later command to the switch fail
func (ep *EmulatedProgrammer) SetUnreachable(swtch string) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.unreachable[swtch] = true
}

// execTime returns the modeled duration of op on a switch of the given model
func (ep *EmulatedProgrammer) execTime(op CmdOp, model string) float64 {
	byModel := ep.execTimeTbl[op.String()]
	if execTime, present := byModel[model]; present {
		return execTime
	}
	return byModel["Default"]
}

// applyFlowCmd is the event handler that changes a flow table
func applyFlowCmd(evtMgr *evtm.EventManager, cxt any, data any) any {
	table := cxt.(*FlowTable)
	cmd := data.(FlowCommand)
	table.applyCmd(cmd)
	return nil
}

// Apply schedules the command on the event list, at the current virtual time plus the
// modeled duration of the command, and runs the event manager until it has taken effect.
func (ep *EmulatedProgrammer) Apply(ctx context.Context, cmd FlowCommand) (string, error) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if ep.unreachable[cmd.Switch] {
		return "", fmt.Errorf("switch %s unreachable", cmd.Switch)
	}
	table, present := ep.tables[cmd.Switch]
	if !present {
		return fmt.Sprintf("%s is not a bridge or a socket", cmd.Switch), fmt.Errorf("no flow table for %s", cmd.Switch)
	}

	// the event list holds only this command; running to its completion time
	// applies it and leaves the clock there
	delay := ep.execTime(cmd.Op, ep.models[cmd.Switch])
	ep.evtMgr.Schedule(table, cmd, applyFlowCmd, vrtime.SecondsToTime(delay))
	ep.evtMgr.Run(ep.evtMgr.CurrentSeconds() + delay)

	ep.applied = append(ep.applied, cmd)
	return "", nil
}

// CurrentTime is the virtual time at which the last command completed
func (ep *EmulatedProgrammer) CurrentTime() vrtime.Time {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.evtMgr.CurrentTime()
}

// Table returns the flow table of the switch, or nil
func (ep *EmulatedProgrammer) Table(swtch string) *FlowTable {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.tables[swtch]
}

// Applied returns the commands that took effect, in order
func (ep *EmulatedProgrammer) Applied() []FlowCommand {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return append([]FlowCommand{}, ep.applied...)
}

// Deliver follows a frame sent by host src to host dst through the emulated flow
// tables, and returns the nodes it visits.  It fails if the frame is dropped, loops,
// reaches a switch without a flow table, or arrives at the wrong host.
func (ep *EmulatedProgrammer) Deliver(g *Graph, src, dst string) (Path, error) {
	srcNode := g.Node(src)
	dstNode := g.Node(dst)
	if srcNode == nil || dstNode == nil || srcNode.Kind != HostNode || dstNode.Kind != HostNode {
		return nil, fmt.Errorf("delivery %s -> %s needs two hosts", src, dst)
	}

	// the frame leaves the source host on its (single) attached link
	visited := Path{src}
	here := ""
	for _, name := range g.NodeNames() {
		if g.LinkBetween(src, name) != nil {
			here = name
			break
		}
	}
	if len(here) == 0 {
		return visited, fmt.Errorf("host %s has no link", src)
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()

	for hops := 0; hops <= len(g.names); hops++ {
		visited = append(visited, here)
		node := g.Node(here)
		if node.Kind == HostNode {
			if here != dst {
				return visited, fmt.Errorf("frame for %s delivered to %s", dst, here)
			}
			return visited, nil
		}

		table, present := ep.tables[here]
		if !present {
			return visited, fmt.Errorf("switch %s has no flow table", here)
		}
		rule, found := table.Lookup(dstNode.MAC)
		if !found || rule.Drop {
			return visited, fmt.Errorf("frame for %s dropped at %s", dst, here)
		}

		next := ""
		for portName, portNum := range node.Ports {
			if portNum != rule.OutPort {
				continue
			}
			next = peerOnPort(g, here, portName)
			break
		}
		if len(next) == 0 {
			return visited, fmt.Errorf("port %d of %s leads nowhere", rule.OutPort, here)
		}
		here = next
	}

	return visited, fmt.Errorf("frame for %s loops", dst)
}

// peerOnPort returns the name of the node at the far end of the link
// attached to the named port of swtch, or "" if no link uses the port
func peerOnPort(g *Graph, swtch, portName string) string {
	for _, link := range g.links {
		if link.Node1 == swtch && link.Port1 == portName {
			return link.Node2
		}
		if link.Node2 == swtch && link.Port2 == portName {
			return link.Node1
		}
	}
	return ""
}
