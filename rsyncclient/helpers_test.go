package rsyncclient_test

import (
	"os"
	"path/filepath"

	"github.com/gokrazy/rsync/internal/rsyncopts"
	"github.com/gokrazy/rsync/internal/rsyncos"
)

func writeHello(dir, contents string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "hello"), []byte(contents), 0644)
}

func readHello(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// serverOpts parses the server-side flag set HandleConn expects, mirroring
// what a real --server invocation receives on the command line.
func serverOpts(sender bool) (*rsyncopts.Options, error) {
	env := &rsyncos.Env{Stderr: os.Stderr}
	args := []string{"--server"}
	if sender {
		args = append(args, "--sender")
	}
	args = append(args, "-av")
	pc, err := rsyncopts.ParseArguments(env, args)
	if err != nil {
		return nil, err
	}
	return pc.Options, nil
}
