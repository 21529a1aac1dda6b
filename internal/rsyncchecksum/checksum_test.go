package rsyncchecksum_test

import (
	"testing"

	"github.com/gokrazy/rsync/internal/rsyncchecksum"
)

func TestRollingChecksumMatchesFullRecompute(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog, 0123456789")
	windowLen := 8

	r := rsyncchecksum.New(data[:windowLen])
	for i := 0; i+windowLen < len(data); i++ {
		want := rsyncchecksum.New(data[i+1 : i+1+windowLen]).Value()
		r.Roll(data[i], data[i+windowLen])
		if got := r.Value(); got != want {
			t.Fatalf("at i=%d: rolled value %d, want %d", i, got, want)
		}
	}
}

func TestSumSizesSqrootInvariant(t *testing.T) {
	for _, length := range []int64{0, 1, 700, 4096, 100000, 123456789} {
		sh := rsyncchecksum.SumSizesSqroot(length)
		if length == 0 {
			if sh.ChecksumCount != 0 || sh.RemainderLength != 0 {
				t.Fatalf("length=0: got %+v, want zero counts", sh)
			}
			continue
		}
		got := int64(sh.BlockLength)*int64(sh.ChecksumCount-1) + int64(sh.RemainderLength)
		if sh.RemainderLength == 0 {
			got = int64(sh.BlockLength) * int64(sh.ChecksumCount)
		}
		if got != length {
			t.Fatalf("length=%d: blockLength*(count-1)+remainder = %d, want %d (%+v)", length, got, length, sh)
		}
		if sh.RemainderLength < 0 || sh.RemainderLength > sh.BlockLength {
			t.Fatalf("length=%d: remainder %d out of range for block length %d", length, sh.RemainderLength, sh.BlockLength)
		}
	}
}
