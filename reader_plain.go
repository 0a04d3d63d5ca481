package rvth

import "errors"

// plainReader maps LBAs linearly onto its RefFile window. This is the
// mandatory Reader variant; every other variant (CISO, WBFS) detects
// a compressed container and translates through an index table before
// falling back to the same bounds-checked read/write shape. Grounded
// on reader_plain.c's reader_plain_read/reader_plain_write, which seek
// to lba_start+lba_start_rel and perform a single positioned I/O.
type plainReader struct {
	file     *RefFile
	lbaStart uint32
	lbaLen   uint32
}

// newPlainReader opens a plain reader for the window [lbaStart,
// lbaStart+lbaLen) of file. If lbaStart == 0 and lbaLen == 0, the
// entire file is used, truncated down to a whole number of LBAs.
func newPlainReader(file *RefFile, lbaStart, lbaLen uint32) (Reader, error) {
	if lbaStart > 0 && lbaLen == 0 {
		return nil, errors.New("rvth: invalid reader window")
	}

	if lbaStart == 0 && lbaLen == 0 {
		size, err := file.Size()
		if err != nil {
			return nil, err
		}
		lbaLen = uint32(size / LBASize)
	}

	return &plainReader{file: file.dup(), lbaStart: lbaStart, lbaLen: lbaLen}, nil
}

func (r *plainReader) Read(dst []byte, lbaRel, n uint32) (uint32, error) {
	if err := checkBounds(lbaRel, n, r.lbaLen); err != nil {
		return 0, err
	}
	off := int64(r.lbaStart+lbaRel) * LBASize
	read, err := readFullAt(r.file, dst[:int64(n)*LBASize], off)
	return uint32(read) / LBASize, err
}

func (r *plainReader) Write(src []byte, lbaRel, n uint32) (uint32, error) {
	if err := checkBounds(lbaRel, n, r.lbaLen); err != nil {
		return 0, err
	}
	off := int64(r.lbaStart+lbaRel) * LBASize
	written, err := r.file.WriteAt(src[:int64(n)*LBASize], off)
	return uint32(written) / LBASize, err
}

func (r *plainReader) Flush() error {
	return r.file.Flush()
}

func (r *plainReader) LBAAdjust(delta uint32) error {
	if delta > r.lbaLen {
		return errors.New("rvth: lba_adjust delta exceeds lba_len")
	}
	r.lbaStart += delta
	r.lbaLen -= delta
	return nil
}

func (r *plainReader) LBAStart() uint32 { return r.lbaStart }
func (r *plainReader) LBALen() uint32   { return r.lbaLen }

func (r *plainReader) Close() error {
	return r.file.Close()
}

// readFullAt reads exactly len(dst) bytes at off, looping the way
// io.ReadFull does for a Reader, since RefFile.ReadAt may return a
// short read on some afero backends.
func readFullAt(file *RefFile, dst []byte, off int64) (int, error) {
	total := 0
	for total < len(dst) {
		n, err := file.ReadAt(dst[total:], off+int64(total))
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}
