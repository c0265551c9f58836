package mainthread

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Swind/go-mainthread/core"
)

// NotifyQuit quits d when one of signals arrives or ctx is done. With no
// signals it listens for SIGINT and SIGTERM. The returned function stops
// listening without quitting.
func NotifyQuit(ctx context.Context, d *core.Dispatcher, signals ...os.Signal) (stop func()) {
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)

	done := make(chan struct{})
	go func() {
		defer signal.Stop(ch)
		select {
		case <-ch:
			d.Quit()
		case <-ctx.Done():
			d.Quit()
		case <-d.Context().Done():
		case <-done:
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
