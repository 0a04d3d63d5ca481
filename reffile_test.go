package rvth

import (
	"testing"

	"github.com/spf13/afero"
)

func TestRefFileDupAndClose(t *testing.T) {
	mem := afero.NewMemMapFs()
	if err := afero.WriteFile(mem, "disc.img", make([]byte, 4*LBASize), 0o644); err != nil {
		t.Fatal(err)
	}

	rf, err := openRefFile(mem, "disc.img")
	if err != nil {
		t.Fatal(err)
	}

	dup := rf.dup()

	if err := dup.Close(); err != nil {
		t.Fatalf("closing the dup should not close the underlying file: %v", err)
	}

	size, err := rf.Size()
	if err != nil {
		t.Fatalf("original handle should still be usable after dup closed: %v", err)
	}
	if size != 4*LBASize {
		t.Errorf("size = %d, want %d", size, 4*LBASize)
	}

	if err := rf.Close(); err != nil {
		t.Fatalf("final Close: %v", err)
	}

	if err := rf.Close(); err == nil {
		t.Error("expected error closing an already-fully-closed RefFile")
	}
}

func TestRefFileReadWriteAt(t *testing.T) {
	mem := afero.NewMemMapFs()
	if err := afero.WriteFile(mem, "disc.img", make([]byte, 2*LBASize), 0o644); err != nil {
		t.Fatal(err)
	}

	rf, err := openRefFile(mem, "disc.img")
	if err != nil {
		t.Fatal(err)
	}
	defer rf.Close()

	want := []byte("hello, rvt-h")
	if _, err := rf.WriteAt(want, LBASize); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, len(want))
	if _, err := rf.ReadAt(got, LBASize); err != nil {
		t.Fatal(err)
	}
	if string(got) != string(want) {
		t.Errorf("ReadAt = %q, want %q", got, want)
	}
}
