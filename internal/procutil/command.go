package procutil

import (
	"context"
	"errors"
	"os/exec"
	"time"
)

// waitDelay bounds how long Wait blocks on the child's output pipes after the
// context kills it.
const waitDelay = 2 * time.Second

// Command returns a command for argv bound to ctx, without a console window on Windows.
func Command(ctx context.Context, argv []string) (*exec.Cmd, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("procutil: empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.WaitDelay = waitDelay
	detachConsole(cmd)
	return cmd, nil
}
