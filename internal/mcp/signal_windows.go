//go:build windows

package mcp

import "os"

// shutdownSignals stop a run. Windows has no SIGTERM.
var shutdownSignals = []os.Signal{os.Interrupt}
