package rvth

import "log/slog"

// logger is the package-wide structured logger for non-fatal,
// informational events (the common-key-index override, sparse-copy
// statistics, recrypt state transitions). It is swappable the same
// way fs (reffile.go) is, and defaults to slog.Default(); cmd/rvth
// does not call SetLogger, so it logs through that default.
var logger = slog.Default()

// SetLogger replaces the package-wide logger, letting a host
// application (or a test) redirect or silence library logging.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}
