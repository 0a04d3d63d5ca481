package rvth

// openReader opens the appropriate Reader variant for file's window
// [lbaStart, lbaStart+lbaLen). Detectors run in order CISO, then
// WBFS, then fall back to the mandatory plain reader — matching
// spec.md §4.3's "TODO: Detect CISO and WBFS" note in rvth_open_gcm(),
// promoted here to an actual detection chain. Detectors only apply to
// whole-file windows (lbaStart==0, lbaLen==0 meaning "whole file");
// bank-table windows within an HDD image are always plain.
func openReader(file *RefFile, lbaStart, lbaLen uint32) (Reader, error) {
	if lbaStart == 0 && lbaLen == 0 {
		if r, err := detectCISO(file); err != nil {
			return nil, err
		} else if r != nil {
			return r, nil
		}

		if r, err := detectWBFS(file); err != nil {
			return nil, err
		} else if r != nil {
			return r, nil
		}
	}

	return newPlainReader(file, lbaStart, lbaLen)
}
