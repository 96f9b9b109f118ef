package version

import (
	"fmt"
	"os"
	"runtime"
)

var (
	// Version is the application version - set by build flags
	Version = "dev"
	// GitCommit is the git commit hash - set by build flags
	GitCommit = "unknown"
	// BuildDate is the build date - set by build flags
	BuildDate = "unknown"
	// Board is the hardware target this binary was built for - set by build flags
	Board = "unknown"
)

// Info returns detailed version information
func Info() string {
	return fmt.Sprintf("Version: %s, Commit: %s, Built: %s, Board: %s, Go: %s/%s",
		Version, GitCommit, BuildDate, Board, runtime.Version(), runtime.GOARCH)
}

// Short returns a short version string
func Short() string {
	return Version
}

// Component returns version info for a specific component
func Component(componentName string) string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s, board: %s)",
		componentName, Version, GitCommit, BuildDate, Board)
}

// Target returns the board the binary was built for, falling back to the
// DEVLINK_BOARD environment variable and then the architecture.
func Target() string {
	if Board != "unknown" {
		return Board
	}
	if env := os.Getenv("DEVLINK_BOARD"); env != "" {
		return env
	}
	return runtime.GOOS + "/" + runtime.GOARCH
}
