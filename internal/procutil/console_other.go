//go:build !windows

package procutil

import "os/exec"

func detachConsole(*exec.Cmd) {}
