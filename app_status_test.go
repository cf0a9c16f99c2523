package main

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"webptt/internal/relay"
)

func TestStatusReport(t *testing.T) {
	app := startTestApp(t, nil)
	a := connectTab(t, app, "a", appPageURL)
	connectTab(t, app, "b", otherPageURL)
	ctl := connectTab(t, app, "pttctl", "")

	a.send(t, relay.MsgBroadcasting, true)
	waitForHolder(t, app, "a")
	app.relayPulse()
	if !waitForCondition(t, 2*time.Second, func() bool { return a.count(relay.MsgExtShortcutPushed) == 1 }) {
		t.Fatal("pulse not delivered")
	}

	reply := ctl.request(t, relay.MsgStatus, nil)
	var report relay.StatusReport
	if err := reply.DecodeValue(&report); err != nil {
		t.Fatalf("DecodeValue() error = %v", err)
	}

	if report.MinLengthMS != 800 {
		t.Errorf("MinLengthMS = %d, want 800", report.MinLengthMS)
	}
	if report.BroadcastingTab != "a" {
		t.Errorf("BroadcastingTab = %q, want a", report.BroadcastingTab)
	}
	if report.Fanout != "registered" {
		t.Errorf("Fanout = %q", report.Fanout)
	}
	if report.NativeConnected {
		t.Error("NativeConnected = true without a native host")
	}
	if report.PulsesRelayed != 1 {
		t.Errorf("PulsesRelayed = %d, want 1", report.PulsesRelayed)
	}
	if len(report.Tabs) != 3 {
		t.Fatalf("Tabs = %+v, want 3", report.Tabs)
	}
	apps := map[string]bool{}
	for _, tab := range report.Tabs {
		apps[tab.ID] = tab.IsApp
	}
	if !apps["a"] || apps["b"] || apps["pttctl"] {
		t.Errorf("IsApp flags = %v", apps)
	}
}

func TestStatusReportIncludesRecentWarnings(t *testing.T) {
	app := startTestApp(t, nil)

	orig := slog.Default()
	var sink strings.Builder
	app.installLogger(&sink)
	t.Cleanup(func() { slog.SetDefault(orig) })

	slog.Warn("[native] native host exited, restarting", "error", "exit status 2")
	slog.Info("[relay] not a warning")

	report := app.statusReport()
	found := false
	for _, line := range report.RecentWarnings {
		if strings.Contains(line, "not a warning") {
			t.Fatalf("info record captured: %q", line)
		}
		if strings.Contains(line, "native host exited") && strings.Contains(line, "exit status 2") {
			found = true
		}
	}
	if !found {
		t.Fatalf("RecentWarnings = %q, want the native host warning", report.RecentWarnings)
	}
}
