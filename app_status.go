package main

import (
	"webptt/internal/relay"
)

// statusReport answers the status request of pttctl.
func (a *App) statusReport() relay.StatusReport {
	cfg := a.configSnapshot()
	holder, _ := a.registry.Holder()

	tabs := a.hub.Tabs()
	tabStatus := make([]relay.TabStatus, 0, len(tabs))
	for _, t := range tabs {
		tabStatus = append(tabStatus, relay.TabStatus{
			ID:    t.ID,
			URL:   t.URL,
			IsApp: relay.IsAppURL(t.URL, cfg.AppURLPrefixes),
		})
	}

	return relay.StatusReport{
		MinLengthMS:     relay.MinLengthMS(a.currentMinLength()),
		BroadcastingTab: holder,
		Fanout:          cfg.Fanout,
		Tabs:            tabStatus,
		NativeConnected: a.native != nil && a.native.Connected(),
		PulsesRelayed:   a.pulsesRelayed.Load(),
		RecentWarnings:  a.diagnostics.Lines(),
	}
}
