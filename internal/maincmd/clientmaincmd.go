package maincmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gokrazy/rsync/internal/log"
	"github.com/gokrazy/rsync/internal/receiver"
	"github.com/gokrazy/rsync/internal/rsyncopts"
	"github.com/gokrazy/rsync/internal/rsyncos"
	"github.com/gokrazy/rsync/internal/rsyncstats"
	"github.com/gokrazy/rsync/internal/rsyncwire"
	"github.com/gokrazy/rsync/internal/sender"
	"github.com/gokrazy/rsync/internal/session"
	"github.com/google/shlex"
)

// readWriter adapts a separate ReadCloser/WriteCloser pair (an SSH child
// process's stdout/stdin pipes) to a single io.ReadWriter, the shape
// rsyncwire.Conn expects.
type readWriter struct {
	r io.Reader
	w io.Writer
}

func (r *readWriter) Read(p []byte) (n int, err error)  { return r.r.Read(p) }
func (r *readWriter) Write(p []byte) (n int, err error) { return r.w.Write(p) }

// rsyncMain dispatches a parsed invocation to either a purely local
// transfer (both paths on this host) or a remote-shell transfer. Daemon
// transport (rsync://, or an ssh-tunneled --daemon session) is out of scope
// for this implementation: gokr-rsync's "client" only ever speaks the
// remote-shell calling convention.
//
// rsync/main.c:start_client
func rsyncMain(ctx context.Context, osenv rsyncos.Std, opts *rsyncopts.Options, sources []string, dest string) (*rsyncstats.TransferStats, error) {
	if opts.Verbose() {
		log.Printf("dest: %q, sources: %q", dest, sources)
	}
	src := sources[0]

	var other, remotePath string
	var host string
	if h, p, ok := splitHostspec(dest); ok {
		host, remotePath = h, p
		other = src
	} else if h, p, ok := splitHostspec(src); ok {
		opts.SetSender()
		host, remotePath = h, p
		other = dest
	} else {
		opts.SetLocalServer()
		other = dest
	}

	if host == "" {
		// Both paths are local: run client and server halves in the same
		// process, connected by an in-memory pipe, instead of forking.
		return localTransfer(ctx, osenv, opts, other, src)
	}

	rc, wc, err := doCmd(osenv, opts, host, remotePath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	defer wc.Close()
	conn := &readWriter{r: rc, w: wc}

	paths := []string{other}
	if opts.Sender() {
		paths = []string{remotePath}
	}
	return clientRun(osenv, opts, conn, paths)
}

// splitHostspec recognizes the "host:path" and "user@host:path" remote-shell
// forms rsync(1) accepts; a bare local path returns ok=false.
func splitHostspec(arg string) (host, path string, ok bool) {
	idx := strings.IndexByte(arg, ':')
	if idx < 0 {
		return "", "", false
	}
	// A single leading '/' before the colon, or a Windows-style drive
	// letter, is a local path, not a hostspec; rsync's leading-colon "::"
	// daemon form is likewise not handled here (out of scope).
	if strings.HasPrefix(arg, "/") || idx == 1 {
		return "", "", false
	}
	return arg[:idx], arg[idx+1:], true
}

func localTransfer(ctx context.Context, osenv rsyncos.Std, opts *rsyncopts.Options, dest, src string) (*rsyncstats.TransferStats, error) {
	clientSide, serverSide := io.Pipe()
	serverSide2, clientSide2 := io.Pipe()

	errCh := make(chan error, 1)
	go func() {
		serverOpts := *opts
		serverOpts.SetServer()
		serverOpts.SetSender()
		conn := &readWriter{r: serverSide, w: clientSide2}
		_, err := serverRun(osenv, &serverOpts, conn, []string{src, dest})
		errCh <- err
	}()

	conn := &readWriter{r: serverSide2, w: clientSide}
	stats, err := clientRun(osenv, opts, conn, []string{dest})
	if serverErr := <-errCh; err == nil {
		err = serverErr
	}
	return stats, err
}

// rsync/main.c:do_cmd
func doCmd(osenv rsyncos.Std, opts *rsyncopts.Options, host, path string) (io.ReadCloser, io.WriteCloser, error) {
	cmd := opts.ShellCommand()
	if cmd == "" {
		cmd = "ssh"
		if e := os.Getenv("RSYNC_RSH"); e != "" {
			cmd = e
		}
	}
	args, err := shlex.Split(cmd)
	if err != nil {
		return nil, nil, err
	}
	args = append(args, host, "rsync")
	args = append(args, serverOptions(opts)...)
	args = append(args, ".")
	if !opts.Sender() {
		args = append(args, path)
	}

	if opts.Verbose() {
		log.Printf("doCmd args: %q", args)
	}

	ssh := exec.Command(args[0], args[1:]...)
	wc, err := ssh.StdinPipe()
	if err != nil {
		return nil, nil, err
	}
	rc, err := ssh.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	ssh.Stderr = osenv.Stderr
	if err := ssh.Start(); err != nil {
		return nil, nil, err
	}
	go func() {
		if err := ssh.Wait(); err != nil {
			log.Printf("remote shell exited: %v", err)
		}
	}()
	return rc, wc, nil
}

// serverOptions reconstructs the flag subset the remote rsync --server
// process needs, matching rsync's own server_options().
func serverOptions(opts *rsyncopts.Options) []string {
	args := []string{"--server"}
	if opts.Sender() {
		args = append(args, "--sender")
	}
	flags := "-l"
	if opts.Verbose() {
		flags += "v"
	}
	if opts.Recurse() {
		flags += "r"
	}
	if opts.PreservePerms() {
		flags += "p"
	}
	if opts.PreserveTimes() {
		flags += "t"
	}
	args = append(args, flags)
	if opts.DeleteMode() {
		args = append(args, "--delete")
	}
	return args
}

// clientRun is the client side of the handshake: once the version and seed
// are exchanged, it runs either the sender or the receiver half depending
// on how opts was configured by rsyncMain.
//
// rsync/main.c:client_run
func clientRun(osenv rsyncos.Std, opts *rsyncopts.Options, conn io.ReadWriter, paths []string) (*rsyncstats.TransferStats, error) {
	crd := &rsyncwire.CountingReader{R: conn}
	cwr := &rsyncwire.CountingWriter{W: conn}
	c := rsyncwire.NewConn(crd, cwr)

	seed, err := session.ClientHandshake(c)
	if err != nil {
		return nil, err
	}

	if opts.Sender() {
		if len(paths) != 1 {
			return nil, fmt.Errorf("BUG: expected exactly one path, got %q", paths)
		}
		other := paths[0]
		trimPrefix := filepath.Base(filepath.Clean(other))
		if strings.HasSuffix(other, "/") {
			trimPrefix += "/"
		}
		st := &sender.Transfer{
			Logger: log.New(osenv.Stderr),
			Opts:   opts,
			Conn:   c,
			Seed:   seed,
		}
		if err := sender.SendFilterList(c, nil); err != nil {
			return nil, err
		}
		return st.Do(crd, cwr, trimPrefix, other, []string{trimPrefix}, nil)
	}

	if len(paths) != 1 {
		return nil, fmt.Errorf("BUG: expected exactly one path, got %q", paths)
	}
	rt := &receiver.Transfer{
		Logger: log.New(osenv.Stderr),
		Opts:   transferOptsFrom(opts),
		Env:    osenv,
		Conn:   c,
		Seed:   seed,
	}
	if err := rt.OpenDestRoot(paths[0]); err != nil {
		return nil, err
	}

	const exclusionListEnd = 0
	if err := c.WriteInt32(exclusionListEnd); err != nil {
		return nil, err
	}
	if err := c.Flush(); err != nil {
		return nil, err
	}

	fileList, err := rt.ReceiveFileList()
	if err != nil {
		return nil, err
	}
	if opts.Verbose() {
		log.Printf("received %d names", len(fileList))
	}

	return rt.Do(c, fileList, false)
}

func transferOptsFrom(opts *rsyncopts.Options) *receiver.TransferOpts {
	return &receiver.TransferOpts{
		Verbose:           opts.Verbose(),
		DryRun:            opts.DryRun(),
		Server:            opts.Server(),
		DeleteMode:        opts.DeleteMode(),
		PreserveGid:       opts.PreserveGid(),
		PreserveUid:       opts.PreserveUid(),
		PreserveLinks:     opts.PreserveLinks(),
		PreservePerms:     opts.PreservePerms(),
		PreserveDevices:   opts.PreserveDevices(),
		PreserveSpecials:  opts.PreserveSpecials(),
		PreserveTimes:     opts.PreserveMTimes(),
		PreserveHardlinks: opts.PreserveHardLinks(),
		IgnoreTimes:       opts.IgnoreTimes(),
	}
}

func clientMain(ctx context.Context, args []string, osenv rsyncos.Std) (*rsyncstats.TransferStats, error) {
	env := &rsyncos.Env{Stdin: osenv.Stdin, Stdout: osenv.Stdout, Stderr: osenv.Stderr}
	pc, err := rsyncopts.ParseArguments(env, args[1:])
	if err != nil {
		return nil, err
	}
	opts := pc.Options
	remaining := pc.RemainingArgs
	if len(remaining) == 0 {
		fmt.Fprintln(osenv.Stderr, opts.Help())
		return nil, fmt.Errorf("rsync error: syntax or usage error")
	}
	if len(remaining) == 1 {
		return rsyncMain(ctx, osenv, opts, remaining, "")
	}
	dest := remaining[len(remaining)-1]
	sources := remaining[:len(remaining)-1]
	return rsyncMain(ctx, osenv, opts, sources, dest)
}
