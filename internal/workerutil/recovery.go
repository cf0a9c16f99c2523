// Package workerutil runs long-lived background goroutines with panic
// recovery and restart backoff.
package workerutil

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	// defaultInitialBackoff is the first restart delay after a worker panic.
	defaultInitialBackoff = 100 * time.Millisecond

	// defaultMaxBackoff caps the delay between restarts.
	defaultMaxBackoff = 5 * time.Second

	// defaultMaxRetries bounds consecutive restarts. With the defaults above
	// ten attempts span roughly 30 seconds.
	defaultMaxRetries = 10
)

// RecoveryOptions configures RunWithPanicRecovery.
// Zero values mean defaults: InitialBackoff=100ms, MaxBackoff=5s, MaxRetries=10.
// Set MaxRetries to 1 to run once and report OnFatal on the first panic.
type RecoveryOptions struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxRetries     int

	// OnPanic is called after each recovered panic, before the backoff wait.
	// attempt is 1-based. May be nil.
	OnPanic func(worker string, attempt int)

	// OnFatal is called once MaxRetries panics have been recovered and the
	// worker is stopped for good. May be nil.
	OnFatal func(worker string, maxRetries int)

	// IsShutdown reports that the process is tearing down; no restart is
	// attempted once it returns true. May be nil.
	IsShutdown func() bool
}

func (opts RecoveryOptions) applyDefaults() RecoveryOptions {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		slog.Warn("[DEBUG-PANIC] MaxBackoff < InitialBackoff, using InitialBackoff as MaxBackoff",
			"initialBackoff", opts.InitialBackoff,
			"maxBackoff", opts.MaxBackoff,
		)
		opts.MaxBackoff = opts.InitialBackoff
	}
	return opts
}

// RunWithPanicRecovery runs fn on a goroutine tracked by wg. A panic in fn is
// logged with its stack and fn is restarted after an exponential backoff, up
// to opts.MaxRetries times. A normal return or a cancelled ctx ends the worker.
func RunWithPanicRecovery(
	ctx context.Context,
	name string,
	wg *sync.WaitGroup,
	fn func(ctx context.Context),
	opts RecoveryOptions,
) {
	opts = opts.applyDefaults()
	wg.Go(func() {
		runRecoveryLoop(ctx, name, fn, opts)
	})
}

// runOnce runs fn and reports whether it panicked.
func runOnce(ctx context.Context, name string, fn func(ctx context.Context)) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[DEBUG-PANIC] background goroutine recovered from panic",
				"worker", name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			panicked = true
		}
	}()
	fn(ctx)
	return false
}

func runRecoveryLoop(
	ctx context.Context,
	name string,
	fn func(ctx context.Context),
	opts RecoveryOptions,
) {
	backoff := NewBackoff(opts.InitialBackoff, opts.MaxBackoff)

	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		if !runOnce(ctx, name, fn) || ctx.Err() != nil {
			return
		}

		// OnPanic is skipped during shutdown: the callbacks usually touch
		// state that is already being torn down.
		if opts.IsShutdown != nil && opts.IsShutdown() {
			slog.Info("[DEBUG-PANIC] worker shutdown detected, stopping restart", "worker", name)
			return
		}

		delay := backoff.Next()
		slog.Warn("[DEBUG-PANIC] restarting worker after panic",
			"worker", name,
			"restartDelay", delay,
			"attempt", attempt,
		)
		if opts.OnPanic != nil {
			opts.OnPanic(name, attempt)
		}

		// No restart follows the last attempt, so report OnFatal right away.
		if attempt == opts.MaxRetries {
			break
		}
		if !Sleep(ctx, delay) {
			return
		}
	}

	slog.Error("[DEBUG-PANIC] worker exceeded max retries, giving up",
		"worker", name,
		"maxRetries", opts.MaxRetries,
	)
	if opts.OnFatal != nil {
		opts.OnFatal(name, opts.MaxRetries)
	}
}
