// Command ptt-native-host is the native messaging host of the push-to-talk
// relay. Browsers and the webptt background start it with stdout attached to
// the native port; it writes one framed shortcut_pulse per pulse. Pulses come
// from the global hotkey in the config file, or from `ptt-native-host pulse`
// sent over the pulse pipe by any other hotkey tool.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"webptt/internal/config"
	"webptt/internal/ipc"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	command := ""
	if len(args) > 0 {
		command = args[0]
	}
	switch command {
	case "pulse":
		return sendCommand(ipc.CommandPulse, stdout, stderr)
	case "ping":
		return sendCommand(ipc.CommandPing, stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		// Browsers pass the caller origin or the manifest path as arguments.
		return serveMain(stdin, stdout, stderr)
	}
}

func serveMain(stdin io.Reader, stdout, stderr io.Writer) int {
	config.LoadDotEnv()
	configPath := config.DefaultPath()
	cfg, cfgErr := config.Load(configPath)

	// stdout carries the native protocol, so logs must go to stderr.
	level := new(slog.LevelVar)
	level.Set(cfg.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))
	if cfgErr != nil {
		slog.Warn("[WARN-CONFIG] failed to load config, running with defaults", "path", configPath, "error", cfgErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := serve(ctx, stdin, stdout, hostOptions{
		PipeName:   ipc.DefaultPipeName(),
		ConfigPath: configPath,
		Hotkey:     cfg.Hotkey,
		LogLevel:   level,
	})
	if err != nil {
		slog.Error("[native] host failed", "error", err)
		return 1
	}
	return 0
}

// sendCommand is the client side: it forwards one command to a running host.
func sendCommand(command string, stdout, stderr io.Writer) int {
	pipeName := ipc.DefaultPipeName()
	resp, err := ipc.Send(pipeName, ipc.Request{Command: command})
	if err != nil {
		if ipc.IsConnectionError(err) {
			fmt.Fprintf(stderr, "no native host listening on %s\n", pipeName)
			return 1
		}
		fmt.Fprintln(stderr, err)
		return 1
	}
	if !resp.OK {
		fmt.Fprintln(stderr, resp.Error)
		return 1
	}
	fmt.Fprintf(stdout, "ok pulses=%d\n", resp.Pulses)
	return 0
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "ptt-native-host: native messaging host for webptt")
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  ptt-native-host [origin]   serve the native port on stdin/stdout")
	_, _ = fmt.Fprintln(w, "  ptt-native-host pulse      send one pulse to the running host")
	_, _ = fmt.Fprintln(w, "  ptt-native-host ping       check that a host is running")
}
