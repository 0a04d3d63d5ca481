package rvth

import (
	"bytes"
	"testing"

	"github.com/spf13/afero"
)

func newMemRefFile(t *testing.T, name string, size int64) *RefFile {
	t.Helper()
	mem := afero.NewMemMapFs()
	if err := afero.WriteFile(mem, name, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	rf, err := openRefFile(mem, name)
	if err != nil {
		t.Fatal(err)
	}
	return rf
}

func TestPlainReaderReadWrite(t *testing.T) {
	rf := newMemRefFile(t, "disc.img", 10*LBASize)
	defer rf.Close()

	r, err := newPlainReader(rf, 2, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if r.LBAStart() != 2 || r.LBALen() != 4 {
		t.Fatalf("LBAStart/LBALen = %d/%d, want 2/4", r.LBAStart(), r.LBALen())
	}

	data := bytes.Repeat([]byte{0xAB}, int(2*LBASize))
	if _, err := r.Write(data, 1, 2); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, 2*LBASize)
	if _, err := r.Read(got, 1, 2); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("read back data does not match what was written")
	}
}

func TestPlainReaderOutOfRange(t *testing.T) {
	rf := newMemRefFile(t, "disc.img", 10*LBASize)
	defer rf.Close()

	r, err := newPlainReader(rf, 0, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	buf := make([]byte, 2*LBASize)
	if _, err := r.Read(buf, 3, 2); err != ErrOutOfRange {
		t.Errorf("err = %v, want ErrOutOfRange", err)
	}
}

func TestPlainReaderWholeFileWindow(t *testing.T) {
	rf := newMemRefFile(t, "disc.img", 8*LBASize)
	defer rf.Close()

	r, err := newPlainReader(rf, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if r.LBALen() != 8 {
		t.Errorf("LBALen = %d, want 8 (derived from file size)", r.LBALen())
	}
}

func TestLBAAdjust(t *testing.T) {
	rf := newMemRefFile(t, "disc.img", 8*LBASize)
	defer rf.Close()

	r, err := newPlainReader(rf, 0, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if err := r.LBAAdjust(3); err != nil {
		t.Fatal(err)
	}
	if r.LBAStart() != 3 || r.LBALen() != 5 {
		t.Errorf("after adjust LBAStart/LBALen = %d/%d, want 3/5", r.LBAStart(), r.LBALen())
	}

	if err := r.LBAAdjust(100); err == nil {
		t.Error("expected error adjusting past lba_len")
	}
}
