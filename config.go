package statroute

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// names of the switch programming backends
const (
	OfctlBackend   = "ofctl"   // run ovs-ofctl against the live bridges
	DryRunBackend  = "dryrun"  // print the commands only
	EmulateBackend = "emulate" // apply to emulated flow tables
)

var backends []string = []string{OfctlBackend, DryRunBackend, EmulateBackend}

// OptimizerCfg configures an optimization pass
type OptimizerCfg struct {
	// Name identifies the run in traces and logs
	Name string `json:"name" yaml:"name" toml:"name"`

	// TopoFile holds the TopoCfg, yaml or json by extension
	TopoFile string `json:"topofile" yaml:"topofile" toml:"topofile"`

	// Backend is one of "ofctl", "dryrun", "emulate"
	Backend string `json:"backend" yaml:"backend" toml:"backend"`

	// OfctlPath locates ovs-ofctl; empty means $PATH
	OfctlPath string `json:"ofctlpath" yaml:"ofctlpath" toml:"ofctlpath"`

	// CmdTimeout bounds each ovs-ofctl call, e.g. "5s"; empty means no bound
	CmdTimeout string `json:"cmdtimeout" yaml:"cmdtimeout" toml:"cmdtimeout"`

	// Workers > 1 issues commands to different switches concurrently
	Workers int `json:"workers" yaml:"workers" toml:"workers"`

	// DevExecFile holds a DevExecList of command timings for the emulate backend
	DevExecFile string `json:"devexecfile" yaml:"devexecfile" toml:"devexecfile"`

	// TraceFile, when set, receives the trace of issued commands
	TraceFile string `json:"tracefile" yaml:"tracefile" toml:"tracefile"`

	// LogLevel is a logrus level name
	LogLevel string `json:"loglevel" yaml:"loglevel" toml:"loglevel"`
}

// CreateOptimizerCfg returns a configuration holding the defaults
func CreateOptimizerCfg(name string) *OptimizerCfg {
	cfg := &OptimizerCfg{Name: name}
	cfg.applyDefaults()
	return cfg
}

func (cfg *OptimizerCfg) applyDefaults() {
	if len(cfg.Name) == 0 {
		cfg.Name = "statroute"
	}
	if len(cfg.Backend) == 0 {
		cfg.Backend = OfctlBackend
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if len(cfg.LogLevel) == 0 {
		cfg.LogLevel = "info"
	}
}

// Timeout returns CmdTimeout as a duration, zero when unset
func (cfg *OptimizerCfg) Timeout() (time.Duration, error) {
	if len(cfg.CmdTimeout) == 0 {
		return 0, nil
	}
	timeout, err := time.ParseDuration(cfg.CmdTimeout)
	if err != nil {
		return 0, fmt.Errorf("cmdtimeout %q: %w", cfg.CmdTimeout, err)
	}
	if timeout < 0 {
		return 0, fmt.Errorf("cmdtimeout %q is negative", cfg.CmdTimeout)
	}
	return timeout, nil
}

// Validate returns an error describing every problem with the configuration
func (cfg *OptimizerCfg) Validate() error {
	errList := []error{}
	if !slices.Contains(backends, cfg.Backend) {
		errList = append(errList, fmt.Errorf("unknown backend %q, expected one of %v", cfg.Backend, backends))
	}
	if len(cfg.TopoFile) == 0 {
		errList = append(errList, fmt.Errorf("no topology file given"))
	}
	if _, err := cfg.Timeout(); err != nil {
		errList = append(errList, err)
	}
	return ReportErrs(errList)
}

// ReadOptimizerCfg reads the configuration from a yaml, json or toml file, selected
// by extension, and fills in defaults for absent values.  If dict is not empty it is
// decoded instead of the file, using the file name's extension to pick the format.
func ReadOptimizerCfg(filename string, dict []byte) (*OptimizerCfg, error) {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	cfg := new(OptimizerCfg)
	switch path.Ext(filename) {
	case ".yaml", ".YAML", ".yml":
		err = yaml.Unmarshal(dict, cfg)
	case ".json", ".JSON":
		err = json.Unmarshal(dict, cfg)
	case ".toml", ".TOML":
		_, err = toml.Decode(string(dict), cfg)
	default:
		err = fmt.Errorf("configuration %s has no yaml, json or toml extension", filename)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration %s: %w", filename, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}
