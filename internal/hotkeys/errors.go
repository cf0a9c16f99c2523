package hotkeys

import "errors"

// ErrUnsupported is returned by Manager.Start on platforms without global
// hotkey support.
var ErrUnsupported = errors.New("hotkeys: global hotkeys are not supported on this platform")
