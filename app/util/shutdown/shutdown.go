// Package shutdown provides the cooperative stop flag checked by batch
// pipelines between units of work.
package shutdown

import (
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// Flag is set once a termination signal arrives. In-flight calls are left to
// finish; callers poll Requested before starting the next unit.
type Flag struct {
	requested atomic.Bool
	stop      chan struct{}
}

func NewFlag() *Flag {
	return &Flag{stop: make(chan struct{})}
}

// Watch sets the flag on SIGINT or SIGTERM until Close is called.
func (f *Flag) Watch() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sig)

		select {
		case s := <-sig:
			slog.Warn("Shutdown requested, finishing current unit", "signal", s.String())
			f.Request()
		case <-f.stop:
		}
	}()
}

func (f *Flag) Request() {
	f.requested.Store(true)
}

func (f *Flag) Requested() bool {
	if f == nil {
		return false
	}
	return f.requested.Load()
}

func (f *Flag) Close() {
	select {
	case <-f.stop:
	default:
		close(f.stop)
	}
}
