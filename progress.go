package rvth

// Op identifies which operation a progress callback is reporting on.
type Op int

const (
	OpExtract Op = iota
	OpImport
	OpRecrypt
)

// State is the callback's snapshot of an in-progress operation, per
// spec.md §6.
type State struct {
	Op           Op
	SrcRoot      *RvtH
	DstRoot      *RvtH
	SrcBank      uint32
	DstBank      uint32
	LBAProcessed uint32
	LBATotal     uint32
}

// ProgressFunc is invoked at initialization, on every 1 MiB boundary,
// and at completion. Returning false cancels the operation at the
// next boundary with ErrCanceled.
type ProgressFunc func(State) bool
