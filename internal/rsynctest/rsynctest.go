// Package rsynctest provides helpers for exercising the sender/receiver
// pair against real files without a daemon: locating a system rsync
// binary for interop tests, and generating large or device-node fixtures
// that are tedious to construct inline in a test.
package rsynctest

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
)

// AnyRsync returns the path to a system rsync binary, skipping the test
// when none is installed (CI images and dev containers don't always carry
// one).
func AnyRsync(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("rsync")
	if err != nil {
		t.Skipf("no system rsync binary found: %v", err)
	}
	return path
}

const largeDataFileName = "large-data-file"

// WriteLargeDataFile creates a multi-megabyte file under dir, large enough
// to span many checksum blocks: headPattern fills the first block,
// bodyPattern fills the bulk of the file, and endPattern fills the last
// block, so an incremental re-run that only changes bodyPattern exercises
// the delta engine's literal/match mix instead of a single whole-file
// literal.
func WriteLargeDataFile(t *testing.T, dir string, headPattern, bodyPattern, endPattern []byte) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	const (
		blockSize = 64 * 1024
		numBlocks = 48
	)
	f, err := os.Create(filepath.Join(dir, largeDataFileName))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.Write(bytes.Repeat(headPattern, blockSize)); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < numBlocks-2; i++ {
		if _, err := f.Write(bytes.Repeat(bodyPattern, blockSize)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.Write(bytes.Repeat(endPattern, blockSize)); err != nil {
		t.Fatal(err)
	}
}

// DataFileMatches verifies a file written by WriteLargeDataFile landed at
// path with its head/tail blocks intact.
func DataFileMatches(path string, headPattern, bodyPattern, endPattern []byte) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	const blockSize = 64 * 1024
	if len(data) < 2*blockSize {
		return fmt.Errorf("file too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:blockSize], bytes.Repeat(headPattern, blockSize)) {
		return fmt.Errorf("head block mismatch")
	}
	if !bytes.Equal(data[len(data)-blockSize:], bytes.Repeat(endPattern, blockSize)) {
		return fmt.Errorf("tail block mismatch")
	}
	mid := data[blockSize : len(data)-blockSize]
	if len(mid) > 0 && !bytes.Equal(mid[:1], bodyPattern[:1]) {
		return fmt.Errorf("body block mismatch")
	}
	return nil
}

// dummyDevices are the (major, minor) pairs CreateDummyDeviceFiles
// materializes; chosen to be harmless to create and stat on any Linux box
// (they mirror /dev/null and /dev/zero without touching the real /dev).
var dummyDevices = []struct {
	name  string
	mode  uint32
	major uint32
	minor uint32
}{
	{name: "null", mode: syscall.S_IFCHR, major: 1, minor: 3},
	{name: "zero", mode: syscall.S_IFCHR, major: 1, minor: 5},
}

// CreateDummyDeviceFiles populates dir with a couple of character device
// nodes, for exercising PreserveDevices without requiring root access to
// the real /dev (the caller is still expected to run as root: mknod
// itself needs CAP_MKNOD).
func CreateDummyDeviceFiles(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	for _, dev := range dummyDevices {
		path := filepath.Join(dir, dev.name)
		devt := int(dev.major)<<8 | int(dev.minor)
		if err := syscall.Mknod(path, dev.mode|0644, devt); err != nil {
			t.Fatal(err)
		}
	}
}

// VerifyDummyDeviceFiles checks that the device nodes CreateDummyDeviceFiles
// wrote into srcDir were faithfully recreated (same major/minor) in destDir.
func VerifyDummyDeviceFiles(t *testing.T, srcDir, destDir string) {
	t.Helper()
	for _, dev := range dummyDevices {
		srcSt, err := os.Stat(filepath.Join(srcDir, dev.name))
		if err != nil {
			t.Fatal(err)
		}
		destSt, err := os.Stat(filepath.Join(destDir, dev.name))
		if err != nil {
			t.Fatal(err)
		}
		srcRdev := srcSt.Sys().(*syscall.Stat_t).Rdev
		destRdev := destSt.Sys().(*syscall.Stat_t).Rdev
		if srcRdev != destRdev {
			t.Errorf("%s: rdev mismatch: got %d, want %d", dev.name, destRdev, srcRdev)
		}
	}
}
