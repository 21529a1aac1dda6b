// Package rsyncos bundles the OS-facing handles a transfer needs (standard
// streams, sandboxing toggles) so that core transfer code never touches
// os.Stdin/os.Stdout/os.Stderr directly and stays testable with in-memory
// pipes.
package rsyncos

import (
	"fmt"
	"io"
	"log"
)

// Env is the process environment handed down from the CLI entry point to
// the option parser and the client/server main loops.
type Env struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// DontRestrict disables the landlock sandboxing step even when Restrict
	// would otherwise report true; set for child processes that are already
	// confined by an ancestor.
	DontRestrict bool

	// Logger receives diagnostic output; when nil, Logf writes the
	// formatted line to Stderr with fmt.Fprintf.
	Logger *log.Logger
}

// Logf writes a formatted diagnostic line, defaulting to Stderr when no
// Logger has been configured.
func (e *Env) Logf(format string, args ...interface{}) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
		return
	}
	fmt.Fprintf(e.Stderr, format+"\n", args...)
}

// Restrict reports whether the caller should apply filesystem sandboxing
// before touching module paths.
func (e *Env) Restrict() bool {
	return !e.DontRestrict
}

// Std is the minimal read-only view of Env that packages outside of option
// parsing need: just the three standard streams.
type Std struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// StdFromEnv extracts the Std view out of a full Env.
func StdFromEnv(e *Env) Std {
	return Std{Stdin: e.Stdin, Stdout: e.Stdout, Stderr: e.Stderr}
}
