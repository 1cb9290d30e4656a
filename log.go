package acqcore

import (
	"log"
	"os"
)

// ProblemLogger logs warnings and errors surfaced by the core (ring
// buffer overflow, watchdog trips, driver failures). cmd/acqcored
// replaces it with a lumberjack-backed rotating file logger at startup;
// by default it logs to stderr so library users get something sensible
// even without a daemon wrapper. Grounded on dastard's global
// ProblemLogger (global_config.go, cmd/dastard/dastard.go).
var ProblemLogger = log.New(os.Stderr, "", log.LstdFlags)

func logWarnf(format string, args ...interface{}) {
	ProblemLogger.Printf(format, args...)
}
