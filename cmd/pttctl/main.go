// Command pttctl inspects and drives a running webptt background through its
// localhost websocket hub.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"webptt/internal/config"
)

const defaultRequestTimeout = 3 * time.Second

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}
	switch args[0] {
	case "status":
		return runStatus(args[1:], stdout, stderr)
	case "set-min-length":
		return runSetMinLength(args[1:], stdout, stderr)
	case "tab":
		return runTab(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "pttctl: unknown command %q\n\n", args[0])
		printUsage(stderr)
		return 2
	}
}

// commonFlags are accepted by every command.
type commonFlags struct {
	addr    string
	timeout time.Duration
	verbose bool
}

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet("pttctl "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	c := &commonFlags{}
	fs.StringVar(&c.addr, "addr", "", "background hub address (default: listen_addr from the config file)")
	fs.DurationVar(&c.timeout, "timeout", defaultRequestTimeout, "request timeout")
	fs.BoolVar(&c.verbose, "v", false, "debug logging on stderr")
	return fs, c
}

// setup installs the stderr logger and resolves the hub address.
func (c *commonFlags) setup(stderr io.Writer) (config.Config, string) {
	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

	config.LoadDotEnv()
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		slog.Warn("[WARN-CONFIG] failed to load config, using defaults", "error", err)
	}
	addr := c.addr
	if addr == "" {
		addr = cfg.ListenAddr
	}
	return cfg, addr
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "pttctl: control a running webptt background")
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  pttctl status [-json]              show relay state")
	_, _ = fmt.Fprintln(w, "  pttctl set-min-length <ms>         change the minimum PTT length")
	_, _ = fmt.Fprintln(w, "  pttctl tab [-url u] [-keys 17,80]  act as a chat tab and print key events")
	_, _ = fmt.Fprintln(w, "      [-broadcasting] [-shortcut-record json] [-status-record json]")
	_, _ = fmt.Fprintln(w, "Common flags: -addr host:port  -timeout 3s  -v")
}
