package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stemsi/exstem-proctor/internal/violation"
	"golang.org/x/term"
)

// Approximate cell size, so a resize in columns and rows is measured
// against the same pixel threshold as a browser window.
const (
	cellWidth  = 8
	cellHeight = 16
)

// terminal is the platform adapter for a TTY. Ctrl-C is the terminal's
// reload: it is reported instead of ending the process.
type terminal struct {
	fd       int
	interval time.Duration
}

var _ violation.Platform = (*terminal)(nil)

func newTerminal(fd int) *terminal {
	return &terminal{fd: fd, interval: 500 * time.Millisecond}
}

func (t *terminal) Watch(ctx context.Context, h violation.Handler) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTSTP)
	defer signal.Stop(sigs)

	var ticks <-chan time.Time
	var lastW, lastH int
	if term.IsTerminal(t.fd) {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		ticks = ticker.C

		if w, hgt, err := term.GetSize(t.fd); err == nil {
			lastW, lastH = w, hgt
			h.OnResize(w*cellWidth, hgt*cellHeight)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-sigs:
			if sig == syscall.SIGTSTP {
				h.OnFocusLost()
			} else {
				h.OnReloadAttempt()
			}
		case <-ticks:
			w, hgt, err := term.GetSize(t.fd)
			if err != nil {
				return err
			}
			if w == lastW && hgt == lastH {
				continue
			}
			lastW, lastH = w, hgt
			h.OnResize(w*cellWidth, hgt*cellHeight)
		}
	}
}
