// statroute computes minimum-latency paths between every pair of hosts of an emulated
// network and installs them as static OpenFlow rules.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/iti/cmdline"
	"github.com/iti/statroute"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// cmdlineParameters configures for recognition of command line variables
func cmdlineParameters() *cmdline.CmdParser {
	// create an argument parser
	cp := cmdline.NewCmdParser()
	cp.AddFlag(cmdline.StringFlag, "cfg", false)       // optimizer configuration, yaml, json or toml
	cp.AddFlag(cmdline.StringFlag, "topo", false)      // topology file, overrides the configuration
	cp.AddFlag(cmdline.StringFlag, "backend", false)   // ofctl, dryrun or emulate
	cp.AddFlag(cmdline.StringFlag, "workers", false)   // number of switches programmed concurrently
	cp.AddFlag(cmdline.StringFlag, "trace", false)     // file receiving the command trace
	cp.AddFlag(cmdline.StringFlag, "logDir", false)    // directory of the rotated log file
	cp.AddFlag(cmdline.StringFlag, "writeTopo", false) // write the built-in tiered topology here and exit

	return cp
}

// initLogging sends logrus output to stdout and, if logDir is given, to a rotated log file
func initLogging(logDir, level string) error {
	var out io.Writer = os.Stdout
	if len(logDir) > 0 {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return err
		}
		fileLogger := &lumberjack.Logger{
			Filename:   filepath.Join(logDir, "statroute.log"),
			MaxSize:    100, // MB
			MaxBackups: 7,
			MaxAge:     30, // days
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, fileLogger)
	}
	log.SetOutput(out)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	return nil
}

// loadCfg assembles the configuration from the file named by -cfg and the command-line overrides
func loadCfg(cp *cmdline.CmdParser) (*statroute.OptimizerCfg, error) {
	var cfg *statroute.OptimizerCfg
	var err error

	cfgFile := cp.GetVar("cfg").(string)
	if len(cfgFile) > 0 {
		cfg, err = statroute.ReadOptimizerCfg(cfgFile, nil)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = statroute.CreateOptimizerCfg("statroute")
	}

	if topo := cp.GetVar("topo").(string); len(topo) > 0 {
		cfg.TopoFile = topo
	}
	if backend := cp.GetVar("backend").(string); len(backend) > 0 {
		cfg.Backend = backend
	}
	if trace := cp.GetVar("trace").(string); len(trace) > 0 {
		cfg.TraceFile = trace
	}
	if workers := cp.GetVar("workers").(string); len(workers) > 0 {
		cfg.Workers, err = strconv.Atoi(workers)
		if err != nil {
			return nil, fmt.Errorf("workers %q: %w", workers, err)
		}
	}

	return cfg, cfg.Validate()
}

// writeTieredTopo saves the built-in mininet tiered topology to the named file
func writeTieredTopo(filename string) error {
	if valid, err := statroute.CheckOutputFiles([]string{filename}); !valid {
		return err
	}
	tf, err := statroute.BuildTieredTopo(statroute.MininetTieredParams())
	if err != nil {
		return err
	}
	tc := tf.Transform()
	return tc.WriteToFile(filename)
}

func run() int {
	cp := cmdlineParameters()
	cp.Parse()

	if out := cp.GetVar("writeTopo").(string); len(out) > 0 {
		if err := writeTieredTopo(out); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}

	cfg, err := loadCfg(cp)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := initLogging(cp.GetVar("logDir").(string), cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	if valid, err := statroute.CheckReadableFiles([]string{cfg.TopoFile, cfg.DevExecFile}); !valid {
		log.Errorf("input files unreadable: %v", err)
		return 2
	}

	topo, err := statroute.ReadTopoCfg(cfg.TopoFile, statroute.IsYAMLFile(cfg.TopoFile), nil)
	if err != nil {
		log.Errorf("reading topology %s failed: %v", cfg.TopoFile, err)
		return 2
	}
	g, err := statroute.BuildGraph(topo)
	if err != nil {
		log.Errorf("topology %s rejected: %v", cfg.TopoFile, err)
		return 2
	}

	prog, err := statroute.CreateProgrammer(cfg, g, os.Stdout)
	if err != nil {
		log.Errorf("creating %s backend failed: %v", cfg.Backend, err)
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tm := statroute.CreateTraceManager(cfg.Name, len(cfg.TraceFile) > 0)
	log.Infof("optimizing %s: %d switches, %d hosts, backend %s",
		topo.Name, len(g.Switches()), len(g.Hosts()), cfg.Backend)

	report, err := statroute.OptimizeGraph(ctx, g, prog, cfg.Workers, tm)

	if werr := tm.WriteToFile(cfg.TraceFile); werr != nil {
		log.Errorf("writing trace %s failed: %v", cfg.TraceFile, werr)
	}

	if ep, ok := prog.(*statroute.EmulatedProgrammer); ok {
		log.Infof("emulated programming finished at virtual time %fs", ep.CurrentTime().Seconds())
	}

	if err != nil {
		log.Errorf("%d commands failed, %d paths not installed",
			len(report.Install.Failed()), len(report.PathErrors))
		return 1
	}
	log.Infof("optimized static flows installed: %d commands", report.Install.Succeeded())
	return 0
}

func main() {
	os.Exit(run())
}
