// Package diag is the diagnostic text stream shared by the controller
// packages. It stays free of third-party imports so the same code builds for
// the MCU; the host binary installs its own logger through SetLogger.
package diag

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf.
var Logf func(format string, v ...any) = log.Printf

// SetLogger replaces the diagnostic logger. Passing nil mutes it.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}
