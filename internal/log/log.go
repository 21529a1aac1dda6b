// Package log provides the process-wide default logger (for call sites that
// have no per-transfer *log.Logger handy) and a constructor for the
// per-transfer loggers that sender.Transfer and receiver.Transfer embed.
package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
)

var std = stdlog.New(os.Stderr, "", stdlog.LstdFlags)

// New returns a logger writing to w with the same flags as the package
// default, for attaching to a single transfer.
func New(w io.Writer) *stdlog.Logger {
	return stdlog.New(w, "", stdlog.LstdFlags)
}

// Printf writes to the process-wide default logger. Used by code paths that
// run before a per-transfer logger exists (argument parsing, daemon setup).
func Printf(format string, v ...interface{}) {
	std.Output(2, fmt.Sprintf(format, v...))
}
