package main

import (
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	progressUpdateInterval = 250 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// countdown keeps a "prefix (Ns)" status line up to date on a terminal
// while a timed command runs. A zero duration counts up instead.
type countdown struct {
	w        io.Writer
	prefix   string
	duration time.Duration

	once    sync.Once
	started bool
	stop    chan struct{}
	done    chan struct{}
}

func newCountdown(w io.Writer, prefix string, duration time.Duration) *countdown {
	return &countdown{
		w:        w,
		prefix:   prefix,
		duration: duration,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (c *countdown) line(elapsed time.Duration) string {
	if c.duration <= 0 {
		return fmt.Sprintf("\r%s (%ds)   ", c.prefix, int(elapsed.Seconds()))
	}
	// round to the nearest second
	remaining := max(c.duration-elapsed, 0)
	return fmt.Sprintf("\r%s (%ds left)   ", c.prefix, int(remaining.Seconds()+0.5))
}

func (c *countdown) Start() {
	c.started = true
	start := time.Now()
	fmt.Fprint(c.w, c.line(0))
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				fmt.Fprint(c.w, c.line(time.Since(start)))
			}
		}
	}()
}

// Stop clears the status line; it may be called more than once.
func (c *countdown) Stop() {
	c.once.Do(func() {
		close(c.stop)
		if c.started {
			<-c.done
			fmt.Fprint(c.w, clearLineSequence)
		}
	})
}
