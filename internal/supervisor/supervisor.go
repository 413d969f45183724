// Package supervisor keeps the bot process running, restarting it after a
// fixed delay whenever it exits with an error.
package supervisor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/oarc/ollamateacher/internal/logger"
)

const DefaultRestartDelay = 10 * time.Second

// Runner runs the supervised process once and returns its exit code. A
// non-nil error means the process could not be started at all.
type Runner func(ctx context.Context) (int, error)

type Options struct {
	Delay  time.Duration
	Logger *logger.Logger
	// After is the delay timer; tests replace it.
	After func(d time.Duration) <-chan time.Time
}

type Supervisor struct {
	run   Runner
	delay time.Duration
	log   *logger.Logger
	after func(d time.Duration) <-chan time.Time
}

func New(run Runner, opts Options) *Supervisor {
	if opts.Delay <= 0 {
		opts.Delay = DefaultRestartDelay
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.After == nil {
		opts.After = time.After
	}
	return &Supervisor{
		run:   run,
		delay: opts.Delay,
		log:   opts.Logger.Named("supervisor"),
		after: opts.After,
	}
}

// Run restarts the process until it exits cleanly or ctx is done. It
// returns the number of starts.
func (s *Supervisor) Run(ctx context.Context) (int, error) {
	starts := 0
	for {
		if err := ctx.Err(); err != nil {
			return starts, nil
		}
		starts++
		s.log.Info("starting bot", "attempt", starts)
		code, err := s.run(ctx)
		switch {
		case ctx.Err() != nil:
			s.log.Info("stopped by signal", "attempt", starts)
			return starts, nil
		case err != nil:
			s.log.Error("bot failed to start", "attempt", starts, "error", err)
		case code == 0:
			s.log.Info("bot exited cleanly", "attempt", starts)
			return starts, nil
		default:
			s.log.Warn("bot exited", "attempt", starts, "code", code)
		}

		s.log.Info("restarting", "delay", s.delay.String())
		select {
		case <-ctx.Done():
			return starts, nil
		case <-s.after(s.delay):
		}
	}
}

// CommandRunner runs name with args as a child process sharing this
// process's stdio. Cancelling ctx sends SIGTERM to the child.
func CommandRunner(name string, args ...string) Runner {
	return func(ctx context.Context) (int, error) {
		cmd := exec.CommandContext(ctx, name, args...)
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
		cmd.WaitDelay = DefaultRestartDelay

		err := cmd.Run()
		var exitErr *exec.ExitError
		switch {
		case err == nil:
			return 0, nil
		case errors.As(err, &exitErr):
			return exitErr.ExitCode(), nil
		default:
			return -1, err
		}
	}
}
