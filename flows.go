package statroute

// flows.go holds the representation of OpenFlow rules, the commands that install them,
// and the installer that resets every switch and then pushes the forwarding rules.

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/iti/evt/vrtime"
	"github.com/panjf2000/ants/v2"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultDenyPriority is the priority of the match-all drop rule
	DefaultDenyPriority = 0

	// ForwardPriority is the priority of destination-MAC forwarding rules
	ForwardPriority = 100

	// OfctlBinary is the name of the command-line tool the commands are written for
	OfctlBinary = "ovs-ofctl"
)

// FlowRule is one entry of a switch flow table.  An empty DlDst matches all traffic.
// When Drop is set matching packets are discarded, otherwise they leave through OutPort.
type FlowRule struct {
	Switch   string
	Priority int
	DlDst    string
	OutPort  int
	Drop     bool
}

// DefaultDenyRule returns the lowest-priority match-all drop rule for a switch
func DefaultDenyRule(swtch string) FlowRule {
	return FlowRule{Switch: swtch, Priority: DefaultDenyPriority, Drop: true}
}

// ForwardRule returns the rule sending frames for dstMAC out of port on the switch
func ForwardRule(swtch, dstMAC string, port int) FlowRule {
	return FlowRule{Switch: swtch, Priority: ForwardPriority, DlDst: dstMAC, OutPort: port}
}

// MatchAll reports whether the rule matches every packet
func (fr FlowRule) MatchAll() bool {
	return len(fr.DlDst) == 0
}

// Spec returns the flow in the syntax ovs-ofctl add-flow accepts
func (fr FlowRule) Spec() string {
	fields := []string{fmt.Sprintf("priority=%d", fr.Priority)}
	if !fr.MatchAll() {
		fields = append(fields, "dl_dst="+fr.DlDst)
	}
	if fr.Drop {
		fields = append(fields, "actions=drop")
	} else {
		fields = append(fields, fmt.Sprintf("actions=output:%d", fr.OutPort))
	}
	return strings.Join(fields, ",")
}

// CmdOp is the kind of flow-table command
type CmdOp int

const (
	DelFlows CmdOp = iota
	AddFlow
)

var cmdOpToStr map[CmdOp]string = map[CmdOp]string{DelFlows: "del-flows", AddFlow: "add-flow"}

func (op CmdOp) String() string {
	return cmdOpToStr[op]
}

// FlowCommand is a single command against one switch's flow table.
// Rule is used only by AddFlow.
type FlowCommand struct {
	Op     CmdOp
	Switch string
	Rule   FlowRule
}

// DelFlowsCmd returns the command removing every flow from a switch
func DelFlowsCmd(swtch string) FlowCommand {
	return FlowCommand{Op: DelFlows, Switch: swtch}
}

// AddFlowCmd returns the command installing rule on its switch
func AddFlowCmd(rule FlowRule) FlowCommand {
	return FlowCommand{Op: AddFlow, Switch: rule.Switch, Rule: rule}
}

// Args returns the arguments given to ovs-ofctl to carry out the command
func (fc FlowCommand) Args() []string {
	if fc.Op == DelFlows {
		return []string{fc.Op.String(), fc.Switch}
	}
	return []string{fc.Op.String(), fc.Switch, fc.Rule.Spec()}
}

// String renders the full command line, e.g. "ovs-ofctl add-flow s1 priority=0,actions=drop"
func (fc FlowCommand) String() string {
	return OfctlBinary + " " + strings.Join(fc.Args(), " ")
}

// SwitchProgrammer executes flow-table commands.  Apply blocks until the command
// has completed or failed, and returns any diagnostic output the switch produced.
type SwitchProgrammer interface {
	Apply(ctx context.Context, cmd FlowCommand) (string, error)
}

// A VirtualClock is a SwitchProgrammer that keeps its own notion of time,
// used to stamp trace records.
type VirtualClock interface {
	CurrentTime() vrtime.Time
}

// CommandError describes a flow-table command that failed
type CommandError struct {
	Cmd    FlowCommand
	Output string
	Err    error
}

func (ce *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %v", ce.Cmd, ce.Err)
	if output := strings.TrimSpace(ce.Output); len(output) > 0 {
		msg += " (" + output + ")"
	}
	return msg
}

func (ce *CommandError) Unwrap() error {
	return ce.Err
}

// Phase names the step of the installation a command belongs to
type Phase string

const (
	ResetPhase   Phase = "reset"
	InstallPhase Phase = "install"
)

// CmdResult records the outcome of one command
type CmdResult struct {
	Phase  Phase
	Cmd    FlowCommand
	Output string
	Err    error
}

// InstallReport holds the outcome of every command issued by an installation pass
type InstallReport struct {
	Reset   []CmdResult
	Install []CmdResult
}

// Failed returns the results of commands that did not succeed, reset phase first
func (ir *InstallReport) Failed() []CmdResult {
	failed := []CmdResult{}
	for _, results := range [][]CmdResult{ir.Reset, ir.Install} {
		for _, result := range results {
			if result.Err != nil {
				failed = append(failed, result)
			}
		}
	}
	return failed
}

// Succeeded counts the commands that completed without error
func (ir *InstallReport) Succeeded() int {
	return len(ir.Reset) + len(ir.Install) - len(ir.Failed())
}

// Err aggregates the errors of all failed commands, nil if there were none
func (ir *InstallReport) Err() error {
	errs := []error{}
	for _, result := range ir.Failed() {
		errs = append(errs, result.Err)
	}
	return ReportErrs(errs)
}

// FlowInstaller pushes rules onto switches through a SwitchProgrammer.
// A pass first resets every switch to drop all traffic, and only when every reset
// has finished installs the forwarding rules.
type FlowInstaller struct {
	prog     SwitchProgrammer
	workers  int
	traceMgr *TraceManager
	logger   log.FieldLogger
	start    time.Time
}

// CreateFlowInstaller is a constructor.  With workers > 1 the commands for different
// switches are issued concurrently, within a phase.  tm may be nil.
func CreateFlowInstaller(prog SwitchProgrammer, workers int, tm *TraceManager) *FlowInstaller {
	if workers < 1 {
		workers = 1
	}
	return &FlowInstaller{prog: prog, workers: workers, traceMgr: tm, logger: log.StandardLogger(), start: time.Now()}
}

// SetLogger replaces the logger, which defaults to the logrus standard logger
func (fi *FlowInstaller) SetLogger(logger log.FieldLogger) {
	fi.logger = logger
}

// Run resets every listed switch and then installs the rules.  The report covers
// every command issued; the error is non-nil if any of them failed.
func (fi *FlowInstaller) Run(ctx context.Context, switches []string, rules []FlowRule) (*InstallReport, error) {
	report := new(InstallReport)

	// runPhase returns only once every command of the phase has finished,
	// so no forwarding rule is pushed before every switch drops by default
	report.Reset = fi.Reset(ctx, switches)
	report.Install = fi.Install(ctx, rules)

	fi.logger.WithFields(log.Fields{
		"reset":     len(report.Reset),
		"installed": len(report.Install),
		"failed":    len(report.Failed()),
	}).Info("static flows pushed")

	return report, report.Err()
}

// Reset deletes every flow on each switch and installs the default-deny rule.
func (fi *FlowInstaller) Reset(ctx context.Context, switches []string) []CmdResult {
	batches := make([][]FlowCommand, 0, len(switches))
	seen := make(map[string]bool)
	for _, swtch := range switches {
		if seen[swtch] {
			continue
		}
		seen[swtch] = true
		batches = append(batches, []FlowCommand{DelFlowsCmd(swtch), AddFlowCmd(DefaultDenyRule(swtch))})
	}

	return fi.runPhase(ctx, ResetPhase, batches)
}

// Install pushes the rules, one command per (switch, destination MAC, priority).  When the
// same key appears more than once the first rule is kept.
func (fi *FlowInstaller) Install(ctx context.Context, rules []FlowRule) []CmdResult {
	type ruleKey struct {
		swtch    string
		dlDst    string
		priority int
	}

	batches := [][]FlowCommand{}
	batchOf := make(map[string]int)
	kept := make(map[ruleKey]FlowRule)

	for _, rule := range rules {
		key := ruleKey{swtch: rule.Switch, dlDst: rule.DlDst, priority: rule.Priority}
		if prior, present := kept[key]; present {
			if prior != rule {
				fi.logger.WithFields(log.Fields{"switch": rule.Switch, "dl_dst": rule.DlDst,
					"kept": prior.Spec(), "dropped": rule.Spec()}).Debug("conflicting rule ignored")
			}
			continue
		}
		kept[key] = rule

		idx, present := batchOf[rule.Switch]
		if !present {
			idx = len(batches)
			batchOf[rule.Switch] = idx
			batches = append(batches, []FlowCommand{})
		}
		batches[idx] = append(batches[idx], AddFlowCmd(rule))
	}

	return fi.runPhase(ctx, InstallPhase, batches)
}

// runPhase carries out the batches of commands.  Commands within a batch are issued in
// order; batches are independent and run concurrently when workers > 1.  runPhase
// returns when every command has finished. Results follow batch order.
func (fi *FlowInstaller) runPhase(ctx context.Context, phase Phase, batches [][]FlowCommand) []CmdResult {
	batchResults := make([][]CmdResult, len(batches))

	if fi.workers == 1 || len(batches) < 2 {
		for idx, batch := range batches {
			batchResults[idx] = fi.runBatch(ctx, phase, batch)
		}
		return flattenResults(batchResults)
	}

	var wg sync.WaitGroup
	pool, err := ants.NewPool(fi.workers)
	if err != nil {
		fi.logger.WithError(err).Warn("goroutine pool unavailable, issuing commands sequentially")
		for idx, batch := range batches {
			batchResults[idx] = fi.runBatch(ctx, phase, batch)
		}
		return flattenResults(batchResults)
	}
	defer pool.Release()

	for idx, batch := range batches {
		idx, batch := idx, batch
		wg.Add(1)
		serr := pool.Submit(func() {
			defer wg.Done()
			batchResults[idx] = fi.runBatch(ctx, phase, batch)
		})
		if serr != nil {
			wg.Done()
			batchResults[idx] = fi.runBatch(ctx, phase, batch)
		}
	}
	wg.Wait()

	return flattenResults(batchResults)
}

// runBatch issues the commands of a batch in order
func (fi *FlowInstaller) runBatch(ctx context.Context, phase Phase, batch []FlowCommand) []CmdResult {
	results := make([]CmdResult, 0, len(batch))
	for _, cmd := range batch {
		results = append(results, fi.apply(ctx, phase, cmd))
	}
	return results
}

// apply issues one command, and logs and traces the outcome
func (fi *FlowInstaller) apply(ctx context.Context, phase Phase, cmd FlowCommand) CmdResult {
	result := CmdResult{Phase: phase, Cmd: cmd}

	if err := ctx.Err(); err != nil {
		result.Err = &CommandError{Cmd: cmd, Err: err}
	} else {
		output, err := fi.prog.Apply(ctx, cmd)
		result.Output = output
		if err != nil {
			result.Err = &CommandError{Cmd: cmd, Output: output, Err: err}
		}
	}

	entry := fi.logger.WithFields(log.Fields{"phase": string(phase), "switch": cmd.Switch, "cmd": cmd.String()})
	if result.Err != nil {
		entry.WithError(result.Err).Warn("flow command failed")
	} else {
		entry.Debug("flow command applied")
	}

	if fi.traceMgr != nil && fi.traceMgr.Active() {
		fi.traceMgr.AddTrace(fi.currentTime(), cmd.Switch, CreateCmdTrace(result))
	}

	return result
}

// currentTime reads the programmer's virtual clock if it has one,
// and otherwise the wall-clock time since the installer was created
func (fi *FlowInstaller) currentTime() vrtime.Time {
	if clock, ok := fi.prog.(VirtualClock); ok {
		return clock.CurrentTime()
	}
	return vrtime.SecondsToTime(time.Since(fi.start).Seconds())
}

func flattenResults(batchResults [][]CmdResult) []CmdResult {
	results := []CmdResult{}
	for _, batch := range batchResults {
		results = append(results, batch...)
	}
	return results
}
