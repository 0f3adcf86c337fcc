package integration

import (
	"context"
	"time"
)

// engageThread is the dedicated goroutine of a connector that uses blocking
// calls. It calls Engage on its handler until stopped or until the stop date
// of the connector has passed, backing off while the connector is not
// running.
type engageThread struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startEngageThread(h *ConnectorHandler, backoff time.Duration) *engageThread {
	ctx, cancel := context.WithCancel(context.Background())
	t := &engageThread{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		t.run(ctx, h, backoff)
	}()
	return t
}

func (t *engageThread) run(ctx context.Context, h *ConnectorHandler, backoff time.Duration) {
	h.logger.Debug("engage goroutine started")
	defer h.logger.Debug("engage goroutine stopped")

	for ctx.Err() == nil {
		if h.Engage(ctx) {
			continue
		}
		// Engage disconnected the connector when the window closed
		if h.windowClosed() {
			return
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// stop cancels the goroutine and waits for it to exit. The caller may hold
// the handler lock: a goroutine waiting for the lock gives up once its
// context is cancelled.
func (t *engageThread) stop() {
	t.cancel()
	<-t.done
}
