// Package maincmd implements the subset of the `rsync` CLI surface this
// module supports: a remote-shell (ssh) or purely local client, and the
// --server counterpart that runs on the receiving end of a remote shell.
// Daemon-mode transport (rsync://, module configuration files, anonymous or
// authorized-SSH listeners) is out of scope: those are deployment/transport
// concerns layered on top of the duplex channel this module implements, not
// part of the transfer protocol itself.
package maincmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gokrazy/rsync/internal/filter"
	"github.com/gokrazy/rsync/internal/log"
	"github.com/gokrazy/rsync/internal/receiver"
	"github.com/gokrazy/rsync/internal/restrict"
	"github.com/gokrazy/rsync/internal/rsyncopts"
	"github.com/gokrazy/rsync/internal/rsyncos"
	"github.com/gokrazy/rsync/internal/rsyncstats"
	"github.com/gokrazy/rsync/internal/rsyncwire"
	"github.com/gokrazy/rsync/internal/sender"
	"github.com/gokrazy/rsync/internal/session"
)

// Main is the single entry point cmd/gokr-rsync uses: it parses args as
// rsync(1) would, then either runs the --server half of a remote-shell
// session or falls through to the interactive client.
func Main(ctx context.Context, osenv *rsyncos.Env, args []string) (*rsyncstats.TransferStats, error) {
	pc, err := rsyncopts.ParseArguments(osenv, args[1:])
	if err != nil {
		return nil, err
	}
	opts := pc.Options
	remaining := pc.RemainingArgs

	if opts.Server() {
		if len(remaining) < 2 || remaining[0] != "." {
			return nil, fmt.Errorf("invalid server invocation: expected \". PATH...\", got %q", remaining)
		}
		paths := remaining[1:]
		if err := maybeRestrict(osenv, opts, paths); err != nil {
			return nil, err
		}
		if err := dropPrivileges(osenv); err != nil {
			return nil, err
		}
		conn := &readWriter{r: osenv.Stdin, w: osenv.Stdout}
		return serverRun(rsyncos.StdFromEnv(osenv), opts, conn, paths)
	}

	std := rsyncos.StdFromEnv(osenv)
	return clientMain(ctx, args, std)
}

func maybeRestrict(osenv *rsyncos.Env, opts *rsyncopts.Options, paths []string) error {
	if !osenv.Restrict() {
		return nil
	}
	var roDirs, rwDirs []string
	if opts.Sender() {
		roDirs = append(roDirs, paths...)
	} else {
		for _, path := range paths {
			if err := os.MkdirAll(path, 0755); err != nil {
				return err
			}
		}
		rwDirs = append(rwDirs, paths...)
	}
	return restrict.MaybeFileSystem(roDirs, rwDirs)
}

// serverRun is the --server counterpart of clientRun: paths[0] is the
// source directory to read from when acting as the sender, paths[1] is the
// destination directory to write to when acting as the receiver.
func serverRun(osenv rsyncos.Std, opts *rsyncopts.Options, conn io.ReadWriter, paths []string) (*rsyncstats.TransferStats, error) {
	crd := &rsyncwire.CountingReader{R: conn}
	cwr := &rsyncwire.CountingWriter{W: conn}
	c := rsyncwire.NewConn(crd, cwr)

	seed, err := session.ServerHandshake(c)
	if err != nil {
		return nil, err
	}

	if opts.Sender() {
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
		// The server-as-sender still needs to read (and discard, absent
		// filter support on this path) the client's exclusion list before
		// transmitting the file list.
		if _, err := c.ReadInt32(); err != nil {
			return nil, err
		}
		return st.Do(crd, cwr, trimPrefix, other, []string{trimPrefix}, nil)
	}

	dest := paths[len(paths)-1]
	rt := &receiver.Transfer{
		Logger:  log.New(osenv.Stderr),
		Opts:    transferOptsFrom(opts),
		Env:     osenv,
		Conn:    c,
		Seed:    seed,
		Filters: filter.New(),
	}
	if err := rt.OpenDestRoot(dest); err != nil {
		return nil, err
	}

	if _, err := c.ReadInt32(); err != nil { // exclusion list end
		return nil, err
	}

	fileList, err := rt.ReceiveFileList()
	if err != nil {
		return nil, err
	}
	return rt.Do(c, fileList, true)
}
