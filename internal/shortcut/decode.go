// Package shortcut decodes the chat client's persisted voice settings.
//
// The records come from a key-value store whose schema is owned by the web
// client, not by webptt. Every decoder here is total: malformed input never
// panics or returns an error, it collapses to "nothing configured".
package shortcut

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// pushToTalkMode is the mode marker the client writes when PTT is selected.
const pushToTalkMode = "PUSH_TO_TALK"

// Sentinels framing each key entry of a stored shortcut: [keyboard, code, browser].
const (
	domainKeyboard = 0
	domainBrowser  = 4
)

var errBadEntry = errors.New("unrecognised shortcut specification")

// KeyCodes is the ascending list of raw key codes making up a stored shortcut,
// before modifier extraction. An empty list means no PTT shortcut.
type KeyCodes []int

// Equal reports whether both lists hold the same codes in the same order.
func (k KeyCodes) Equal(other KeyCodes) bool {
	return slices.Equal(k, other)
}

type mediaEngineRecord struct {
	Default *struct {
		Mode        string `json:"mode"`
		ModeOptions *struct {
			Shortcut [][]json.Number `json:"shortcut"`
		} `json:"modeOptions"`
	} `json:"default"`
}

type selectedChannelRecord struct {
	SelectedVoiceChannelID *json.RawMessage `json:"selectedVoiceChannelId"`
	LastConnectedTime      json.Number      `json:"lastConnectedTime"`
}

// DecodeShortcut returns the PTT key codes from a serialized shortcut record.
// raw is nil when the record does not exist yet (first use of the client).
func DecodeShortcut(raw *string) KeyCodes {
	if raw == nil {
		return KeyCodes{}
	}
	codes, err := decodeShortcut(*raw)
	if err != nil {
		slog.Warn("[shortcut] couldn't parse PTT shortcut", "error", err)
		return KeyCodes{}
	}
	return codes
}

func decodeShortcut(raw string) (KeyCodes, error) {
	var rec mediaEngineRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if rec.Default == nil {
		return nil, errors.New("record has no default settings")
	}
	if rec.Default.Mode != pushToTalkMode {
		return KeyCodes{}, nil
	}
	if rec.Default.ModeOptions == nil || rec.Default.ModeOptions.Shortcut == nil {
		return nil, errors.New("record has no shortcut list")
	}

	entries := rec.Default.ModeOptions.Shortcut
	codes := make(KeyCodes, 0, len(entries))
	for i, entry := range entries {
		code, err := parseEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		codes = append(codes, code)
	}
	slices.Sort(codes)
	return codes, nil
}

func parseEntry(entry []json.Number) (int, error) {
	if len(entry) != 3 {
		return 0, errBadEntry
	}
	domain, err := entry[0].Int64()
	if err != nil || domain != domainKeyboard {
		return 0, errBadEntry
	}
	domain2, err := entry[2].Int64()
	if err != nil || domain2 != domainBrowser {
		return 0, errBadEntry
	}
	code, err := entry[1].Int64()
	if err != nil {
		return 0, fmt.Errorf("key code %q: %w", entry[1], err)
	}
	return int(code), nil
}

// DecodeBroadcasting reports whether a serialized channel record says the
// page is connected to a voice channel.
func DecodeBroadcasting(raw *string) bool {
	if raw == nil {
		return false
	}
	var rec selectedChannelRecord
	if err := json.Unmarshal([]byte(*raw), &rec); err != nil {
		slog.Warn("[shortcut] couldn't parse broadcasting status", "error", err)
		return false
	}
	if rec.SelectedVoiceChannelID == nil || string(*rec.SelectedVoiceChannelID) == "null" {
		return false
	}
	if rec.LastConnectedTime == "" {
		// Absent or null timestamp is not zero.
		return true
	}
	last, err := rec.LastConnectedTime.Float64()
	if err != nil {
		slog.Warn("[shortcut] couldn't parse last connected time", "error", err)
		return false
	}
	return last != 0
}
