package rvth

import (
	"errors"
	"os"
	"sync"

	"github.com/spf13/afero"
)

// LBASize is the fixed logical block size used throughout the bank
// table, the bank data areas and every Reader window.
const LBASize = 512

// fs is the default filesystem used to open paths passed to Open. It
// is swappable in tests the same way the teacher's package-scope
// afero.Fs is.
var fs afero.Fs = afero.NewOsFs()

// RefFile is a reference-counted handle over a single underlying
// afero.File. Multiple Readers (and the RvtH root that owns them)
// share one RefFile; the underlying file is closed only when the
// reference count drops to zero, mirroring ref_dup()/ref_close() in
// the original librvth.
type RefFile struct {
	mu       sync.Mutex
	file     afero.File
	fsys     afero.Fs
	refCount int
	isDevice bool
}

// openRefFile opens path for reading and writing (falling back to
// read-only) and returns a RefFile with a reference count of 1.
func openRefFile(fsys afero.Fs, path string) (*RefFile, error) {
	if fsys == nil {
		fsys = fs
	}
	file, err := fsys.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		file, err = fsys.Open(path)
		if err != nil {
			return nil, err
		}
	}
	return &RefFile{file: file, fsys: fsys, refCount: 1, isDevice: probeDevice(path)}, nil
}

// Fsys returns the afero.Fs this RefFile was opened against, so
// callers that derive new files from an existing RvtH (Extract's
// createStandaloneGCM) can stay on the same filesystem.
func (r *RefFile) Fsys() afero.Fs {
	return r.fsys
}

// dup increments the reference count and returns the same RefFile, as
// a convenience for call sites that want dup-then-store semantics.
func (r *RefFile) dup() *RefFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refCount++
	return r
}

// Close decrements the reference count, closing the underlying file
// once it reaches zero.
func (r *RefFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refCount <= 0 {
		return errors.New("rvth: RefFile closed too many times")
	}
	r.refCount--
	if r.refCount == 0 {
		return r.file.Close()
	}
	return nil
}

// Size returns the current length of the underlying stream in bytes.
func (r *RefFile) Size() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, err := r.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Seek repositions the underlying stream.
func (r *RefFile) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Seek(offset, whence)
}

// ReadAt performs a positioned read without disturbing any other
// seek-based caller sharing this RefFile, serialized under the mutex.
func (r *RefFile) ReadAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.ReadAt(p, off)
}

// WriteAt performs a positioned write, serialized under the mutex.
func (r *RefFile) WriteAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.WriteAt(p, off)
}

// Flush flushes any buffered writes to the underlying stream.
func (r *RefFile) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.file.(interface{ Sync() error }); ok {
		return f.Sync()
	}
	return nil
}

// MakeSparse truncates the file to totalBytes and, best-effort, hints
// that the tail should be stored as a hole. afero has no portable
// sparse-file primitive, so this is Truncate plus a no-op hint on
// platforms/backends that don't support holes — matching spec.md's
// "best-effort truncate/hole-punch hint" contract.
func (r *RefFile) MakeSparse(totalBytes int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Truncate(totalBytes)
}

// IsDevice reports whether the backing stream looks like a block
// device rather than a regular file, per the heuristic in
// probeDevice.
func (r *RefFile) IsDevice() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isDevice
}
