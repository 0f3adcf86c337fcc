package integration

import "context"

// handlerLock is a mutex whose acquisition can be abandoned when a context
// is done. The dedicated engage goroutine relies on this: stopping it
// cancels its context, which releases it from a pending acquire, so a caller
// that holds the lock can wait for the goroutine to exit.
type handlerLock chan struct{}

func newHandlerLock() handlerLock {
	return make(handlerLock, 1)
}

func (l handlerLock) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l handlerLock) release() {
	<-l
}
