package statroute

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// OfctlProgrammer programs Open vSwitch bridges by running ovs-ofctl.
// Switch names are used as the bridge names, as mininet does.
type OfctlProgrammer struct {
	// Binary is the path of ovs-ofctl; empty means look it up in $PATH
	Binary string

	// Timeout bounds each command when positive
	Timeout time.Duration
}

// CreateOfctlProgrammer is a constructor
func CreateOfctlProgrammer(binary string, timeout time.Duration) *OfctlProgrammer {
	if len(binary) == 0 {
		binary = OfctlBinary
	}
	return &OfctlProgrammer{Binary: binary, Timeout: timeout}
}

// Apply runs the command and returns its combined stdout and stderr
func (op *OfctlProgrammer) Apply(ctx context.Context, cmd FlowCommand) (string, error) {
	if op.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, op.Timeout)
		defer cancel()
	}

	binary := op.Binary
	if len(binary) == 0 {
		binary = OfctlBinary
	}

	output, err := exec.CommandContext(ctx, binary, cmd.Args()...).CombinedOutput()
	return string(output), err
}

// RecordingProgrammer applies nothing; it remembers the commands it is given
// and, when Out is set, writes each command line to it.  Used for dry runs.
type RecordingProgrammer struct {
	Out io.Writer

	mu   sync.Mutex
	cmds []FlowCommand
}

// CreateRecordingProgrammer is a constructor. out may be nil.
func CreateRecordingProgrammer(out io.Writer) *RecordingProgrammer {
	return &RecordingProgrammer{Out: out, cmds: []FlowCommand{}}
}

// Apply records the command
func (rp *RecordingProgrammer) Apply(ctx context.Context, cmd FlowCommand) (string, error) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	rp.cmds = append(rp.cmds, cmd)
	if rp.Out != nil {
		if _, err := fmt.Fprintln(rp.Out, cmd.String()); err != nil {
			return "", err
		}
	}
	return "", nil
}

// Commands returns the commands received so far, in order
func (rp *RecordingProgrammer) Commands() []FlowCommand {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return append([]FlowCommand{}, rp.cmds...)
}
