// Copyright (c) 2024 Tigera, Inc. All rights reserved.

package elastic

import (
	"context"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// Pending is a single in-flight asynchronous call with exactly one resolution:
// a value, an error, or cancellation. Resolution is guarded by a compare-and-
// swap so that a late callback can never resolve a call twice, and the
// underlying cancellation handle is invoked at most once no matter how the
// call ends.
type Pending[T any] struct {
	done     chan struct{}
	value    T
	err      error
	resolved int32

	cancel   context.CancelFunc
	released int32
}

func newPending[T any](cancel context.CancelFunc) *Pending[T] {
	return &Pending[T]{
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// goPending issues the underlying call on its own goroutine and returns the
// pending resolution. Any conversion work done inside issue runs on that
// goroutine, not on the waiter's.
func goPending[T any](ctx context.Context, issue func(ctx context.Context) (T, error)) *Pending[T] {
	callCtx, cancel := context.WithCancel(ctx)
	p := newPending[T](cancel)

	go func() {
		v, err := issue(callCtx)
		if err != nil {
			if !p.fail(err) {
				log.WithError(err).Debug("Discarding error for already resolved call")
			}
			return
		}
		if !p.resolve(v) {
			log.Debug("Discarding result for already resolved call")
		}
	}()

	return p
}

func (p *Pending[T]) resolve(v T) bool {
	if !atomic.CompareAndSwapInt32(&p.resolved, 0, 1) {
		return false
	}
	p.value = v
	close(p.done)
	p.release()
	return true
}

func (p *Pending[T]) fail(err error) bool {
	if !atomic.CompareAndSwapInt32(&p.resolved, 0, 1) {
		return false
	}
	p.err = err
	close(p.done)
	p.release()
	return true
}

// release invokes the underlying cancellation handle. Guarded separately from
// resolution so the handle fires exactly once whether the call completed,
// failed, or was cancelled by the waiter.
func (p *Pending[T]) release() {
	if atomic.CompareAndSwapInt32(&p.released, 0, 1) && p.cancel != nil {
		p.cancel()
	}
}

// Cancel aborts the in-flight request. The pending call resolves with the
// context error reported by the underlying transport.
func (p *Pending[T]) Cancel() {
	p.release()
}

// Done returns a channel closed once the call has resolved.
func (p *Pending[T]) Done() <-chan struct{} {
	return p.done
}

// Await blocks until the call resolves or ctx is done. On ctx expiry the
// underlying request is cancelled and the ctx error is returned; cancellation
// is therefore distinct from a failure reported by the transport.
func (p *Pending[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		p.Cancel()
		var zero T
		return zero, ctx.Err()
	}
}
