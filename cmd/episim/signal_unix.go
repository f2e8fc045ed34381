//go:build !windows

package main

import (
	"os"
	"syscall"
)

// shutdownSignals stop a run and let in-flight scenarios be recorded.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
