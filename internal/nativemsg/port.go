package nativemsg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"webptt/internal/procutil"
	"webptt/internal/workerutil"
)

// stableRunTime is how long a native host must stay up before a later exit
// restarts the backoff sequence from the beginning.
const stableRunTime = 30 * time.Second

// PortOptions configures a Port.
type PortOptions struct {
	// Command is the native host argv. Empty disables the port.
	Command []string
	// OnPulse is called on the reader goroutine for every pulse.
	OnPulse func()
	// InitialBackoff and MaxBackoff bound the restart delay. Zero means
	// workerutil defaults.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Port owns the native host process. It spawns the host, reads pulse frames
// from its stdout and restarts it with backoff when it exits. Losing the host
// is never fatal to the caller.
type Port struct {
	opts PortOptions

	connected atomic.Bool
	pulses    atomic.Uint64
	starts    atomic.Uint64
}

// hostProcess is a running native host.
type hostProcess struct {
	stdout io.ReadCloser
	wait   func() error
}

// startProcessFn is replaced in tests.
var startProcessFn = startProcess

// NewPort creates a Port. Call Run to start it.
func NewPort(opts PortOptions) *Port {
	return &Port{opts: opts}
}

// Connected reports whether a native host is currently running.
func (p *Port) Connected() bool {
	return p.connected.Load()
}

// Pulses returns the number of pulses received so far.
func (p *Port) Pulses() uint64 {
	return p.pulses.Load()
}

// Starts returns how many times the native host has been launched.
func (p *Port) Starts() uint64 {
	return p.starts.Load()
}

// Run keeps a native host running until ctx is done.
func (p *Port) Run(ctx context.Context) {
	if len(p.opts.Command) == 0 {
		slog.Warn("[native] no native host command configured, pulses disabled")
		return
	}
	backoff := workerutil.NewBackoff(p.opts.InitialBackoff, p.opts.MaxBackoff)
	for {
		started := time.Now()
		err := p.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) >= stableRunTime {
			backoff.Reset()
		}
		delay := backoff.Next()
		slog.Warn("[native] native host exited, restarting",
			"command", p.opts.Command[0], "error", err, "restartDelay", delay)
		if !workerutil.Sleep(ctx, delay) {
			return
		}
	}
}

func (p *Port) runOnce(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	proc, err := startProcessFn(runCtx, p.opts.Command)
	if err != nil {
		return err
	}
	p.starts.Add(1)
	p.connected.Store(true)
	slog.Info("[native] native host started", "command", p.opts.Command[0])

	// Unblocks ReadMessage when ctx ends before the host does.
	go func() {
		<-runCtx.Done()
		proc.stdout.Close()
	}()

	readErr := p.readLoop(proc.stdout)
	p.connected.Store(false)
	cancel()
	waitErr := proc.wait()

	if readErr != nil {
		return readErr
	}
	if waitErr != nil {
		return fmt.Errorf("nativemsg: native host: %w", waitErr)
	}
	return errors.New("nativemsg: native host closed its output")
}

// readLoop consumes frames until EOF (nil) or a framing error.
func (p *Port) readLoop(r io.Reader) error {
	for {
		msg, err := ReadMessage(r)
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, ErrFrameTooLarge):
			// The stream cannot be resynchronised after a bad length prefix.
			return err
		case err != nil && isDecodeError(err):
			slog.Warn("[native] dropping malformed native message", "error", err)
			continue
		case err != nil:
			return err
		}
		if msg.ID != MsgShortcutPulse {
			slog.Debug("[native] ignoring unknown native message", "id", msg.ID)
			continue
		}
		p.pulses.Add(1)
		if p.opts.OnPulse != nil {
			p.opts.OnPulse()
		}
	}
}

func isDecodeError(err error) bool {
	return errors.Is(err, errDecode)
}

func startProcess(ctx context.Context, argv []string) (*hostProcess, error) {
	cmd, err := procutil.Command(ctx, argv)
	if err != nil {
		return nil, fmt.Errorf("nativemsg: start native host: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("nativemsg: stdout pipe: %w", err)
	}
	// Native hosts treat EOF on stdin as "browser went away", so stdin stays
	// open for the life of the process.
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("nativemsg: stdin pipe: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("nativemsg: start native host: %w", err)
	}
	return &hostProcess{
		stdout: stdout,
		wait: func() error {
			stdin.Close()
			return cmd.Wait()
		},
	}, nil
}
