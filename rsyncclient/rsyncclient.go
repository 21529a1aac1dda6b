// Package rsyncclient exposes the client half of the rsync wire protocol
// as a library: callers supply their own io.ReadWriter (a subprocess's
// stdin/stdout, an SSH session, an in-memory pipe) instead of gokr-rsync's
// command-line handling owning the transport.
package rsyncclient

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gokrazy/rsync/internal/receiver"
	"github.com/gokrazy/rsync/internal/rsyncopts"
	"github.com/gokrazy/rsync/internal/rsyncos"
	"github.com/gokrazy/rsync/internal/rsyncstats"
	"github.com/gokrazy/rsync/internal/rsyncwire"
	"github.com/gokrazy/rsync/internal/sender"
	"github.com/gokrazy/rsync/internal/session"
)

// Option configures a Client at construction time.
type Option interface {
	apply(*Client)
}

type optionFunc func(*Client)

func (f optionFunc) apply(c *Client) { f(c) }

// WithSender makes the client act as the sending side of the transfer
// (rsync's --sender flag): paths passed to Run are read locally and sent
// to the peer, instead of being written to.
func WithSender() Option {
	return optionFunc(func(c *Client) {
		c.opts.SetSender()
	})
}

// WithStderr directs diagnostic logging to w instead of os.Stderr.
func WithStderr(w io.Writer) Option {
	return optionFunc(func(c *Client) {
		c.stderr = w
	})
}

// Client is a parsed, ready-to-run rsync client invocation.
type Client struct {
	opts   *rsyncopts.Options
	stderr io.Writer
}

// New parses args (the flag subset documented by rsyncopts.Options, e.g.
// "-av") the way the gokr-rsync command line would, without yet requiring
// a transport: callers supply that to Run.
func New(args []string, opts ...Option) (*Client, error) {
	env := &rsyncos.Env{Stderr: os.Stderr}
	pc, err := rsyncopts.ParseArguments(env, args)
	if err != nil {
		return nil, err
	}
	c := &Client{
		opts:   pc.Options,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	return c, nil
}

// Run executes the client side of the handshake and transfer over rw,
// treating paths as the local side of the sync (the remote side's paths
// were already baked into the --server invocation on the other end of
// rw). It blocks until the transfer completes or ctx is done.
func (c *Client) Run(ctx context.Context, rw io.ReadWriter, paths []string) error {
	done := make(chan error, 1)
	go func() {
		_, err := c.run(rw, paths)
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (c *Client) run(rw io.ReadWriter, paths []string) (*rsyncstats.TransferStats, error) {
	crd := &rsyncwire.CountingReader{R: rw}
	cwr := &rsyncwire.CountingWriter{W: rw}
	conn := rsyncwire.NewConn(crd, cwr)

	seed, err := session.ClientHandshake(conn)
	if err != nil {
		return nil, err
	}

	logger := stdlog.New(c.stderr, "", stdlog.LstdFlags)

	if c.opts.Sender() {
		if len(paths) != 1 {
			return nil, fmt.Errorf("rsyncclient: sender mode expects exactly one local path, got %q", paths)
		}
		root := paths[0]
		trimPrefix := filepath.Base(filepath.Clean(root))
		if strings.HasSuffix(root, "/") {
			trimPrefix += "/"
		}
		st := &sender.Transfer{
			Logger: logger,
			Opts:   c.opts,
			Conn:   conn,
			Seed:   seed,
		}
		if err := sender.SendFilterList(conn, nil); err != nil {
			return nil, err
		}
		return st.Do(crd, cwr, trimPrefix, root, []string{trimPrefix}, nil)
	}

	if len(paths) != 1 {
		return nil, fmt.Errorf("rsyncclient: receiver mode expects exactly one destination path, got %q", paths)
	}
	rt := &receiver.Transfer{
		Logger: logger,
		Opts: &receiver.TransferOpts{
			DryRun:            c.opts.DryRun(),
			DeleteMode:        c.opts.DeleteMode(),
			PreserveGid:       c.opts.PreserveGid(),
			PreserveUid:       c.opts.PreserveUid(),
			PreserveLinks:     c.opts.PreserveLinks(),
			PreservePerms:     c.opts.PreservePerms(),
			PreserveDevices:   c.opts.PreserveDevices(),
			PreserveSpecials:  c.opts.PreserveSpecials(),
			PreserveTimes:     c.opts.PreserveMTimes(),
			PreserveHardlinks: c.opts.PreserveHardLinks(),
			IgnoreTimes:       c.opts.IgnoreTimes(),
		},
		Env:  rsyncos.Std{Stderr: c.stderr},
		Conn: conn,
		Seed: seed,
	}
	if err := rt.OpenDestRoot(paths[0]); err != nil {
		return nil, err
	}

	const exclusionListEnd = 0
	if err := conn.WriteInt32(exclusionListEnd); err != nil {
		return nil, err
	}
	if err := conn.Flush(); err != nil {
		return nil, err
	}

	fileList, err := rt.ReceiveFileList()
	if err != nil {
		return nil, err
	}
	return rt.Do(conn, fileList, false)
}
