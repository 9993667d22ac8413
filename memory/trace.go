package memory

import (
	"fmt"
	"io"

	"github.com/mattn/go-colorable"
)

// Color the trace output by subsystem. This may be helpful when several
// mutators interleave on one terminal.
const (
	traceGreen  = "\x1b[32m"
	traceYellow = "\x1b[33m"
	traceBlue   = "\x1b[34m"
	traceReset  = "\x1b[0m"
)

// Tracer writes opt-in heap traces. A disabled tracer discards everything.
type Tracer struct {
	w       io.Writer
	enabled bool
}

func newTracer(enabled bool) *Tracer {
	return &Tracer{w: colorable.NewColorableStderr(), enabled: enabled}
}

func (t *Tracer) tracef(color, format string, args ...interface{}) {
	if !t.enabled {
		return
	}
	fmt.Fprintf(t.w, color+format+traceReset+"\n", args...)
}

// DumpYoung prints the state of the young generation, for debugging.
func (om *ObjectMemory) DumpYoung(w io.Writer) {
	om.mu.Lock()
	fmt.Fprintf(w, "young generation:\n")
	fmt.Fprintf(w, "  current: %d/%d slots\n", om.baker.current.Used(), om.baker.current.Capacity())
	fmt.Fprintf(w, "  next:    %d/%d slots\n", om.baker.next.Used(), om.baker.next.Capacity())
	fmt.Fprintf(w, "  mature:  %d/%d slots\n", om.mature.inUse, om.mature.limit)
	om.mu.Unlock()
}
