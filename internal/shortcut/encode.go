package shortcut

import (
	"encoding/json"
	"slices"
)

// EncodeShortcut renders codes as the client's shortcut record with PTT mode
// selected. It is what the client itself writes, so DecodeShortcut returns
// the sorted codes again.
func EncodeShortcut(codes KeyCodes) string {
	entries := make([][3]int, 0, len(codes))
	for _, code := range slices.Sorted(slices.Values(codes)) {
		entries = append(entries, [3]int{domainKeyboard, code, domainBrowser})
	}
	rec := map[string]any{
		"default": map[string]any{
			"mode":        pushToTalkMode,
			"modeOptions": map[string]any{"shortcut": entries},
		},
	}
	data, _ := json.Marshal(rec)
	return string(data)
}

// EncodeBroadcasting renders a channel record. An empty channelID writes a
// null channel, which never counts as broadcasting.
func EncodeBroadcasting(channelID string, lastConnected int64) string {
	var channel any
	if channelID != "" {
		channel = channelID
	}
	data, _ := json.Marshal(map[string]any{
		"selectedVoiceChannelId": channel,
		"lastConnectedTime":      lastConnected,
	})
	return string(data)
}
