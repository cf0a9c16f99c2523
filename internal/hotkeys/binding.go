// Package hotkeys registers a system-wide key combination for the native
// host. While the combination is held the OS auto-repeats it, so every
// trigger becomes one pulse.
package hotkeys

import (
	"fmt"
	"strconv"
	"strings"
)

// Modifier is a hotkey modifier bitmask. Values match the Win32 MOD_* flags.
type Modifier uint32

const (
	ModAlt   Modifier = 0x0001
	ModCtrl  Modifier = 0x0002
	ModShift Modifier = 0x0004
	ModWin   Modifier = 0x0008
)

// Key codes share the Win32 virtual-key numbering, which also matches the
// browser keyCode for letters, digits and function keys.
const (
	keyTab    uint32 = 0x09
	keyReturn uint32 = 0x0D
	keyPause  uint32 = 0x13
	keyEscape uint32 = 0x1B
	keySpace  uint32 = 0x20
	keyLeft   uint32 = 0x25
	keyUp     uint32 = 0x26
	keyRight  uint32 = 0x27
	keyDown   uint32 = 0x28
	keyInsert uint32 = 0x2D
	keyDelete uint32 = 0x2E
	keyF1     uint32 = 0x70
	keyF13    uint32 = 0x7C
	keyF24    uint32 = 0x87
	keyGrave  uint32 = 0xC0
)

var modifierByName = map[string]Modifier{
	"CTRL":    ModCtrl,
	"CONTROL": ModCtrl,
	"SHIFT":   ModShift,
	"ALT":     ModAlt,
	"WIN":     ModWin,
	"SUPER":   ModWin,
	"META":    ModWin,
}

var keyByName = map[string]uint32{
	"SPACE":     keySpace,
	"TAB":       keyTab,
	"ENTER":     keyReturn,
	"RETURN":    keyReturn,
	"ESC":       keyEscape,
	"ESCAPE":    keyEscape,
	"PAUSE":     keyPause,
	"INSERT":    keyInsert,
	"DELETE":    keyDelete,
	"LEFT":      keyLeft,
	"RIGHT":     keyRight,
	"UP":        keyUp,
	"DOWN":      keyDown,
	"`":         keyGrave,
	"BACKQUOTE": keyGrave,
	"GRAVE":     keyGrave,
}

// modifierOrder fixes the order of modifiers in Binding.String.
var modifierOrder = []struct {
	mod  Modifier
	name string
}{
	{ModCtrl, "Ctrl"},
	{ModShift, "Shift"},
	{ModAlt, "Alt"},
	{ModWin, "Win"},
}

// Binding is a parsed hotkey. Construct it with ParseBinding.
type Binding struct {
	modifiers Modifier
	key       uint32
	keyName   string
}

// Modifiers returns the modifier bitmask.
func (b Binding) Modifiers() Modifier { return b.modifiers }

// Key returns the virtual-key code.
func (b Binding) Key() uint32 { return b.key }

// String returns the canonical form, e.g. "Ctrl+Shift+F9".
func (b Binding) String() string {
	parts := make([]string, 0, len(modifierOrder)+1)
	for _, m := range modifierOrder {
		if b.modifiers&m.mod != 0 {
			parts = append(parts, m.name)
		}
	}
	return strings.Join(append(parts, b.keyName), "+")
}

// ParseBinding parses a spec like "Ctrl+Shift+F9" or "F13". A modifier is
// required unless the key is one of F13-F24, which no keyboard layout types.
func ParseBinding(spec string) (Binding, error) {
	raw := strings.TrimSpace(spec)
	if raw == "" {
		return Binding{}, fmt.Errorf("hotkeys: empty binding")
	}

	parts := strings.Split(raw, "+")
	var modifiers Modifier
	for _, token := range parts[:len(parts)-1] {
		mod, ok := modifierByName[strings.ToUpper(strings.TrimSpace(token))]
		if !ok {
			return Binding{}, fmt.Errorf("hotkeys: unknown modifier %q in %q", token, raw)
		}
		modifiers |= mod
	}

	key, keyName, err := parseKey(parts[len(parts)-1])
	if err != nil {
		return Binding{}, fmt.Errorf("hotkeys: %q: %w", raw, err)
	}
	if modifiers == 0 && (key < keyF13 || key > keyF24) {
		return Binding{}, fmt.Errorf("hotkeys: %q needs a modifier", raw)
	}
	return Binding{modifiers: modifiers, key: key, keyName: keyName}, nil
}

func parseKey(raw string) (uint32, string, error) {
	token := strings.ToUpper(strings.TrimSpace(raw))
	if token == "" {
		return 0, "", fmt.Errorf("missing key")
	}
	if key, ok := keyByName[token]; ok {
		if key == keyGrave {
			return key, "`", nil
		}
		return key, token, nil
	}
	if len(token) == 1 {
		if ch := token[0]; (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			return uint32(ch), token, nil
		}
	}
	if rest, ok := strings.CutPrefix(token, "F"); ok && rest != "" {
		if n, err := strconv.Atoi(rest); err == nil && n >= 1 && n <= 24 {
			return keyF1 + uint32(n-1), token, nil
		}
	}
	if hex, ok := strings.CutPrefix(token, "0X"); ok {
		value, err := strconv.ParseUint(hex, 16, 8)
		if err != nil || value == 0 {
			return 0, "", fmt.Errorf("invalid key code %q", raw)
		}
		return uint32(value), token, nil
	}
	return 0, "", fmt.Errorf("unknown key %q", raw)
}
