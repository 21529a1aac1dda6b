// Package testlogger adapts testing.T.Logf to an io.Writer, for code under
// test that wants a *log.Logger or a plain io.Writer for its diagnostic
// output instead of a direct dependency on *testing.T.
package testlogger

// T is the subset of *testing.T this package needs, so callers can also
// pass a *testing.B.
type T interface {
	Helper()
	Logf(format string, args ...interface{})
}

type writer struct {
	t T
}

func (w *writer) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Logf("%s", p)
	return len(p), nil
}

// New returns an io.Writer that forwards every Write to t.Logf, so output
// from a server running in a background goroutine is attributed to the
// right test and only printed on failure or with -v.
func New(t T) *writer {
	return &writer{t: t}
}
