// Package version records build information for GoPanelGuard.
package version

import "fmt"

// Set at build time via -ldflags.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info returns a single-line build description
func Info() string {
	return fmt.Sprintf("GoPanelGuard %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
