//go:build windows

package procutil

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// detachConsole starts the child without a console of its own. Native hosts
// are console programs, and a background process spawning one would
// otherwise flash a window. Existing SysProcAttr fields are kept.
func detachConsole(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.HideWindow = true
	cmd.SysProcAttr.CreationFlags |= windows.CREATE_NO_WINDOW
}
