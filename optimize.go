package statroute

// optimize.go ties the pieces of a static routing pass together: build the graph,
// plan a path for every pair of hosts, find the egress port at each switch on each path,
// and push the resulting rules after resetting every switch.

import (
	"context"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
)

// PathError reports a planned path for which no rules could be derived
type PathError struct {
	Src  string
	Dst  string
	Path Path
	Err  error
}

func (pe *PathError) Error() string {
	return fmt.Sprintf("path %s -> %s [%s]: %v", pe.Src, pe.Dst, pe.Path, pe.Err)
}

func (pe *PathError) Unwrap() error {
	return pe.Err
}

// OptimizeReport describes what an optimization pass computed and did
type OptimizeReport struct {
	Paths       []PlannedPath
	Unreachable []HostPair
	PathErrors  []*PathError
	Rules       []FlowRule
	Install     *InstallReport
}

// Err aggregates path and command failures, nil if there were none
func (rpt *OptimizeReport) Err() error {
	errs := []error{}
	for _, pe := range rpt.PathErrors {
		errs = append(errs, pe)
	}
	if rpt.Install != nil {
		errs = append(errs, rpt.Install.Err())
	}
	return ReportErrs(errs)
}

// BuildFlowRules derives the forwarding rules realizing the planned paths.  A path whose
// egress ports cannot be resolved contributes no rules and is reported instead.
// Switches that cannot be programmed are passed through without rules.
func BuildFlowRules(g *Graph, planned []PlannedPath) ([]FlowRule, []*PathError) {
	rules := []FlowRule{}
	pathErrs := []*PathError{}

	for _, pp := range planned {
		dst := g.Node(pp.Dst)
		if dst == nil || len(dst.MAC) == 0 {
			pathErrs = append(pathErrs, &PathError{Src: pp.Src, Dst: pp.Dst, Path: pp.Path,
				Err: fmt.Errorf("destination host has no MAC address")})
			continue
		}

		hops, err := g.ResolveEgress(pp.Path)
		if err != nil {
			pathErrs = append(pathErrs, &PathError{Src: pp.Src, Dst: pp.Dst, Path: pp.Path, Err: err})
			continue
		}

		for _, hop := range hops {
			if !g.Node(hop.Switch).CanProgramFlows {
				continue
			}
			rules = append(rules, ForwardRule(hop.Switch, dst.MAC, hop.Port))
		}
	}

	return rules, pathErrs
}

// ProgrammableSwitches returns the names of the switches that accept flow-table commands, sorted
func (g *Graph) ProgrammableSwitches() []string {
	names := []string{}
	for _, node := range g.Switches() {
		if node.CanProgramFlows {
			names = append(names, node.Name)
		}
	}
	return names
}

// CreateProgrammer returns the switch programming backend selected by the configuration.
// The dry-run backend writes commands to out.
func CreateProgrammer(cfg *OptimizerCfg, g *Graph, out io.Writer) (SwitchProgrammer, error) {
	switch cfg.Backend {
	case OfctlBackend:
		timeout, err := cfg.Timeout()
		if err != nil {
			return nil, err
		}
		return CreateOfctlProgrammer(cfg.OfctlPath, timeout), nil
	case DryRunBackend:
		return CreateRecordingProgrammer(out), nil
	case EmulateBackend:
		var del *DevExecList
		if len(cfg.DevExecFile) > 0 {
			var err error
			del, err = ReadDevExecList(cfg.DevExecFile, IsYAMLFile(cfg.DevExecFile), nil)
			if err != nil {
				return nil, err
			}
		}
		return CreateEmulatedProgrammer(g, del), nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// Optimize builds the graph of the topology and carries out a pass over it with OptimizeGraph.
// A topology that cannot be turned into a graph aborts the pass before any switch is touched.
func Optimize(ctx context.Context, topo Topology, prog SwitchProgrammer, workers int, tm *TraceManager) (*OptimizeReport, error) {
	g, err := BuildGraph(topo)
	if err != nil {
		return nil, fmt.Errorf("topology rejected: %w", err)
	}
	return OptimizeGraph(ctx, g, prog, workers, tm)
}

// OptimizeGraph plans shortest-latency paths between all hosts of g, and programs them
// through prog: every programmable switch is first reset to drop all traffic, then receives
// one rule per destination MAC it forwards.  The report is returned even when the error,
// which aggregates every path and command failure, is not nil.
func OptimizeGraph(ctx context.Context, g *Graph, prog SwitchProgrammer, workers int, tm *TraceManager) (*OptimizeReport, error) {
	logger := log.StandardLogger()
	report := new(OptimizeReport)

	report.Paths = g.PlanPaths()
	report.Unreachable = g.UnreachablePairs()
	for _, pair := range report.Unreachable {
		logger.WithFields(log.Fields{"src": pair.Src, "dst": pair.Dst}).Info("no path, pair skipped")
	}

	report.Rules, report.PathErrors = BuildFlowRules(g, report.Paths)
	for _, pe := range report.PathErrors {
		logger.WithFields(log.Fields{"src": pe.Src, "dst": pe.Dst}).WithError(pe.Err).Error("path not installed")
	}
	logger.WithFields(log.Fields{"paths": len(report.Paths), "rules": len(report.Rules)}).Info("paths computed")

	installer := CreateFlowInstaller(prog, workers, tm)
	report.Install, _ = installer.Run(ctx, g.ProgrammableSwitches(), report.Rules)

	return report, report.Err()
}
