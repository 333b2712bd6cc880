// Package shutdown centralizes signal handling and ordered session
// teardown so logout and SIGTERM walk the same path.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"inboxsync/pkg/logger"
)

// Hooks is a LIFO list of teardown steps. Register order: the thing built
// first is closed last.
type Hooks struct {
	mu    sync.Mutex
	steps []step
	done  bool
}

type step struct {
	name string
	fn   func()
}

// Register adds a named teardown step.
func (h *Hooks) Register(name string, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.steps = append(h.steps, step{name: name, fn: fn})
}

// Run executes the steps newest-first. Safe to call more than once.
func (h *Hooks) Run() {
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		return
	}
	h.done = true
	steps := h.steps
	h.mu.Unlock()
	for i := len(steps) - 1; i >= 0; i-- {
		logger.Info("teardown_step", "name", steps[i].name)
		steps[i].fn()
	}
}

// SetupSignalHandler returns a context cancelled on SIGINT/SIGTERM.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	// handle interrupt/terminate for graceful shutdown
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigc
		logger.Info("signal_received", "signal", s.String(), "msg", "shutdown requested")
		cancel()
	}()

	// watch for SIGPIPE and dump goroutine stacks to aid diagnostics
	sigpipe := make(chan os.Signal, 1)
	signal.Notify(sigpipe, syscall.SIGPIPE)
	go func() {
		s := <-sigpipe
		logger.Info("signal_received", "signal", s.String(), "msg", "SIGPIPE - dumping goroutine stacks")
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		logger.Info("goroutine_stack_dump", "dump", string(buf[:n]))
		cancel()
	}()

	return ctx, cancel
}
