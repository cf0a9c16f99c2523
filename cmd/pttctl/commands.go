package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"webptt/internal/content"
	"webptt/internal/page"
	"webptt/internal/ptt"
	"webptt/internal/relay"
	"webptt/internal/shortcut"
	"webptt/internal/storewatch"
	"webptt/internal/wsserver"
)

const defaultTabURL = "https://discord.com/channels/@me"

// simulatedChannelID is the voice channel a simulated broadcasting tab sits in.
const simulatedChannelID = "1"

func dialBackground(ctx context.Context, addr string) (*content.Client, error) {
	// A unique id keeps concurrent pttctl runs from replacing each other.
	client, err := content.Dial(ctx, addr, wsserver.ConnectParams{TabID: "pttctl-" + uuid.NewString()[:8]}, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to webptt background at %s: %w", addr, err)
	}
	return client, nil
}

func request(addr string, timeout time.Duration, env relay.Envelope) (relay.Envelope, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	client, err := dialBackground(ctx, addr)
	if err != nil {
		return relay.Envelope{}, err
	}
	defer client.Close()
	return client.Request(ctx, env)
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs, common := newFlagSet("status", stderr)
	asJSON := fs.Bool("json", false, "print the raw report as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	_, addr := common.setup(stderr)

	reply, err := request(addr, common.timeout, relay.MustMessage(relay.MsgStatus, nil))
	if err != nil {
		fmt.Fprintf(stderr, "pttctl: status: %v\n", err)
		return 1
	}
	var report relay.StatusReport
	if err := reply.DecodeValue(&report); err != nil {
		fmt.Fprintf(stderr, "pttctl: status: %v\n", err)
		return 1
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(stderr, "pttctl: status: %v\n", err)
			return 1
		}
		return 0
	}
	writeStatus(stdout, report)
	return 0
}

func writeStatus(w io.Writer, r relay.StatusReport) {
	holder := r.BroadcastingTab
	if holder == "" {
		holder = "-"
	}
	native := "disconnected"
	if r.NativeConnected {
		native = "connected"
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "min ptt length:\t%s\n", time.Duration(r.MinLengthMS)*time.Millisecond)
	fmt.Fprintf(tw, "fanout:\t%s\n", r.Fanout)
	fmt.Fprintf(tw, "broadcasting tab:\t%s\n", holder)
	fmt.Fprintf(tw, "native host:\t%s\n", native)
	fmt.Fprintf(tw, "pulses relayed:\t%d\n", r.PulsesRelayed)
	_ = tw.Flush()

	fmt.Fprintf(w, "\ntabs (%d):\n", len(r.Tabs))
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tAPP\tURL")
	for _, tab := range r.Tabs {
		app := "no"
		if tab.IsApp {
			app = "yes"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", tab.ID, app, tab.URL)
	}
	_ = tw.Flush()

	if len(r.RecentWarnings) > 0 {
		fmt.Fprintln(w, "\nrecent warnings:")
		for _, line := range r.RecentWarnings {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
}

func runSetMinLength(args []string, stdout, stderr io.Writer) int {
	fs, common := newFlagSet("set-min-length", stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "pttctl: set-min-length: expected one value in milliseconds")
		return 2
	}
	ms, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil || ms <= 0 {
		fmt.Fprintf(stderr, "pttctl: set-min-length: %q is not a positive number of milliseconds\n", fs.Arg(0))
		return 2
	}
	_, addr := common.setup(stderr)

	reply, err := request(addr, common.timeout, relay.MustMessage(relay.MsgMinLengthChanged, ms))
	if err != nil {
		fmt.Fprintf(stderr, "pttctl: set-min-length: %v\n", err)
		return 1
	}
	d, err := reply.MinLength()
	if err != nil {
		fmt.Fprintf(stderr, "pttctl: set-min-length: unexpected reply: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "min ptt length set to %s\n", d)
	return 0
}

// printingDispatcher writes synthetic key events as lines.
type printingDispatcher struct {
	w io.Writer
}

func (p printingDispatcher) DispatchKey(ev ptt.KeyEvent) {
	fmt.Fprintf(p.w, "%s %s %s\n", time.Now().Format("15:04:05.000"), ev.Type, ev.Shortcut)
}

func runTab(args []string, stdout, stderr io.Writer) int {
	fs, common := newFlagSet("tab", stderr)
	pageURL := fs.String("url", defaultTabURL, "page URL to report")
	tabID := fs.String("id", "", "tab id (default: random)")
	keys := fs.String("keys", "17,80", "comma separated key codes of the PTT shortcut")
	broadcasting := fs.Bool("broadcasting", true, "report the tab as broadcasting")
	shortcutRecord := fs.String("shortcut-record", "", "raw "+storewatch.ShortcutRecord+" JSON (overrides -keys)")
	statusRecord := fs.String("status-record", "", "raw "+storewatch.StatusRecord+" JSON (overrides -broadcasting)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	codes, err := parseKeyCodes(*keys)
	if err != nil {
		fmt.Fprintf(stderr, "pttctl: tab: %v\n", err)
		return 2
	}
	cfg, addr := common.setup(stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return simulateTab(ctx, tabOptions{
		Addr:           addr,
		TabID:          *tabID,
		PageURL:        *pageURL,
		AppURLPrefixes: cfg.AppURLPrefixes,
		InitTimeout:    cfg.InitTimeout,
		KeyCodes:       codes,
		Broadcasting:   *broadcasting,
		ShortcutRecord: *shortcutRecord,
		StatusRecord:   *statusRecord,
	}, stdout, stderr)
}

type tabOptions struct {
	Addr           string
	TabID          string
	PageURL        string
	AppURLPrefixes []string
	InitTimeout    time.Duration
	KeyCodes       shortcut.KeyCodes
	Broadcasting   bool
	// Raw client records; empty means build one from KeyCodes/Broadcasting.
	ShortcutRecord string
	StatusRecord   string
}

// records returns the store records the simulated page writes.
func (o tabOptions) records() (shortcutRecord, statusRecord string) {
	shortcutRecord = o.ShortcutRecord
	if shortcutRecord == "" {
		shortcutRecord = shortcut.EncodeShortcut(o.KeyCodes)
	}
	statusRecord = o.StatusRecord
	if statusRecord == "" {
		if o.Broadcasting {
			statusRecord = shortcut.EncodeBroadcasting(simulatedChannelID, time.Now().UnixMilli())
		} else {
			statusRecord = shortcut.EncodeBroadcasting("", 0)
		}
	}
	return shortcutRecord, statusRecord
}

// simulateTab runs a content endpoint until ctx ends or the background goes
// away, printing every key event it would dispatch.
func simulateTab(ctx context.Context, opts tabOptions, stdout, stderr io.Writer) int {
	bus := page.NewBus()
	ep, err := content.Connect(ctx, content.Options{
		Background:     opts.Addr,
		TabID:          opts.TabID,
		PageURL:        opts.PageURL,
		AppURLPrefixes: opts.AppURLPrefixes,
		InitTimeout:    opts.InitTimeout,
		Bus:            bus,
		Dispatcher:     printingDispatcher{w: stdout},
	})
	if err != nil {
		fmt.Fprintf(stderr, "pttctl: tab: %v\n", err)
		return 1
	}
	defer ep.Close()

	// The content endpoint is subscribed before the page primes, as in a real tab.
	injected := page.Inject(storewatch.NewMemoryStore(), bus)
	shortcutRecord, statusRecord := opts.records()
	injected.Store().Set(storewatch.ShortcutRecord, shortcutRecord)
	injected.Store().Set(storewatch.StatusRecord, statusRecord)

	state := ep.State()
	fmt.Fprintf(stdout, "tab %s connected: shortcut %s, broadcasting %t, min ptt length %s\n",
		ep.TabID(), state.Shortcut, injected.Broadcasting(), state.MinLength)

	select {
	case <-ctx.Done():
		return 0
	case <-ep.Done():
		fmt.Fprintln(stderr, "pttctl: tab: background closed the connection")
		return 1
	}
}

func parseKeyCodes(raw string) (shortcut.KeyCodes, error) {
	var codes shortcut.KeyCodes
	for part := range strings.SplitSeq(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid key code %q", part)
		}
		codes = append(codes, n)
	}
	if len(codes) == 0 {
		return nil, errors.New("no key codes given")
	}
	slices.Sort(codes)
	return slices.Compact(codes), nil
}
