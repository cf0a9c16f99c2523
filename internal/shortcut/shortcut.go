package shortcut

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// Legacy DOM key codes of the modifier keys. These match the Win32 virtual-key
// codes for the same keys.
const (
	KeyCodeShift = 16
	KeyCodeCtrl  = 17
	KeyCodeAlt   = 18
	KeyCodeMeta  = 91
)

// modifierOrder is the order in which modifiers are extracted. When a shortcut
// consists only of modifiers, the last one found becomes the main key.
var modifierOrder = []struct {
	code int
	name string
	set  func(*Shortcut)
}{
	{KeyCodeShift, "Shift", func(s *Shortcut) { s.Shift = true }},
	{KeyCodeCtrl, "Ctrl", func(s *Shortcut) { s.Ctrl = true }},
	{KeyCodeAlt, "Alt", func(s *Shortcut) { s.Alt = true }},
	{KeyCodeMeta, "Meta", func(s *Shortcut) { s.Meta = true }},
}

// Shortcut is a PTT binding: one main key code plus modifier flags.
// The zero value is the empty shortcut.
type Shortcut struct {
	KeyCode int
	Shift   bool
	Ctrl    bool
	Alt     bool
	Meta    bool
}

// IsEmpty reports whether no binding is configured.
func (s Shortcut) IsEmpty() bool {
	return s == Shortcut{}
}

// FromKeyCodes splits decoded key codes into modifier flags and a main key.
// A list with more than one non-modifier code cannot be synthesized as a
// single key event and yields the empty shortcut.
func FromKeyCodes(codes KeyCodes) Shortcut {
	if len(codes) == 0 {
		return Shortcut{}
	}

	rest := slices.Clone(codes)
	var s Shortcut
	lastModifier := 0
	for _, mod := range modifierOrder {
		idx := slices.Index(rest, mod.code)
		if idx == -1 {
			continue
		}
		rest = slices.Delete(rest, idx, idx+1)
		mod.set(&s)
		lastModifier = mod.code
	}

	switch len(rest) {
	case 0:
		s.KeyCode = lastModifier
	case 1:
		s.KeyCode = rest[0]
	default:
		slog.Debug("[shortcut] unknown mod key present", "keyCodes", []int(rest))
		return Shortcut{}
	}
	return s
}

// String renders the binding like "Ctrl+Shift+P".
func (s Shortcut) String() string {
	if s.IsEmpty() {
		return ""
	}
	var parts []string
	for _, mod := range modifierOrder {
		var on bool
		switch mod.code {
		case KeyCodeShift:
			on = s.Shift
		case KeyCodeCtrl:
			on = s.Ctrl
		case KeyCodeAlt:
			on = s.Alt
		case KeyCodeMeta:
			on = s.Meta
		}
		if on && mod.code != s.KeyCode {
			parts = append(parts, mod.name)
		}
	}
	return strings.Join(append(parts, keyName(s.KeyCode)), "+")
}

var keyNames = map[int]string{
	0x08:         "Backspace",
	0x09:         "Tab",
	0x0D:         "Enter",
	KeyCodeShift: "Shift",
	KeyCodeCtrl:  "Ctrl",
	KeyCodeAlt:   "Alt",
	0x13:         "Pause",
	0x14:         "CapsLock",
	0x1B:         "Esc",
	0x20:         "Space",
	0x25:         "Left",
	0x26:         "Up",
	0x27:         "Right",
	0x28:         "Down",
	0x2D:         "Insert",
	0x2E:         "Delete",
	KeyCodeMeta:  "Meta",
	0xC0:         "`",
}

func keyName(code int) string {
	if name, ok := keyNames[code]; ok {
		return name
	}
	switch {
	case code >= 'A' && code <= 'Z', code >= '0' && code <= '9':
		return string(rune(code))
	case code >= 0x70 && code <= 0x87:
		return fmt.Sprintf("F%d", code-0x70+1)
	case code >= 0x60 && code <= 0x69:
		return fmt.Sprintf("Num%d", code-0x60)
	}
	return fmt.Sprintf("0x%02X", code)
}
