//go:build !windows

package procutil

import "testing"

func TestCommandLeavesSysProcAttrUnset(t *testing.T) {
	cmd, err := Command(t.Context(), []string{"ptt-native-host"})
	if err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	if cmd.SysProcAttr != nil {
		t.Fatalf("SysProcAttr = %+v, want nil", cmd.SysProcAttr)
	}
}
