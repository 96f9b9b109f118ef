package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	info := Info()
	for _, want := range []string{Version, GitCommit, runtime.Version()} {
		if !strings.Contains(info, want) {
			t.Errorf("Info() = %q, missing %q", info, want)
		}
	}
}

func TestComponent(t *testing.T) {
	got := Component("devlink")
	if !strings.HasPrefix(got, "devlink "+Version) {
		t.Errorf("Component() = %q", got)
	}
}

func TestTarget(t *testing.T) {
	orig := Board
	defer func() { Board = orig }()

	Board = "unknown"
	t.Setenv("DEVLINK_BOARD", "")
	if got := Target(); got != runtime.GOOS+"/"+runtime.GOARCH {
		t.Errorf("Target() = %q, want host platform", got)
	}

	t.Setenv("DEVLINK_BOARD", "rpi-zero2w")
	if got := Target(); got != "rpi-zero2w" {
		t.Errorf("Target() = %q, want env board", got)
	}

	Board = "esp32-bridge"
	if got := Target(); got != "esp32-bridge" {
		t.Errorf("Target() = %q, want build board", got)
	}
}
