package upsrs

import (
	"context"
	"sync"

	"github.com/otcheredev/ris-ups-client/internal/models"
	"golang.org/x/sync/semaphore"
)

// Future is the pending result of an async operation
type Future struct {
	done chan struct{}
	res  Result
}

// Done is closed once the result is available
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the operation finishes or ctx is done. Cancelling ctx
// only stops the wait; the operation keeps its own context.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// pool runs submitted operations on at most size goroutines at a time
type pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newPool(size int) *pool {
	return &pool{sem: semaphore.NewWeighted(int64(size))}
}

func (p *pool) submit(ctx context.Context, fn func(ctx context.Context) Result) *Future {
	f := &Future{done: make(chan struct{})}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		f.res = failed(&Error{Kind: KindValidation, Message: "Client is closed", Err: ErrClientClosed}, 0)
		close(f.done)
		return f
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer close(f.done)

		if err := p.sem.Acquire(ctx, 1); err != nil {
			f.res = failed(&Error{Kind: KindTransient, Message: "Request error: " + err.Error(), Err: err}, 0)
			return
		}
		defer p.sem.Release(1)

		f.res = fn(ctx)
	}()
	return f
}

// close rejects new work and waits for queued work to finish
func (p *pool) close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// CreateWorkitemAsync runs CreateWorkitem on the worker pool
func (c *Client) CreateWorkitemAsync(ctx context.Context, data models.Dataset, workitemUID string) *Future {
	return c.pool.submit(ctx, func(ctx context.Context) Result {
		return c.CreateWorkitem(ctx, data, workitemUID)
	})
}

// RetrieveWorkitemAsync runs RetrieveWorkitem on the worker pool
func (c *Client) RetrieveWorkitemAsync(ctx context.Context, workitemUID string) *Future {
	return c.pool.submit(ctx, func(ctx context.Context) Result {
		return c.RetrieveWorkitem(ctx, workitemUID)
	})
}

// SearchWorkitemsAsync runs SearchWorkitems on the worker pool
func (c *Client) SearchWorkitemsAsync(ctx context.Context, params SearchParams) *Future {
	return c.pool.submit(ctx, func(ctx context.Context) Result {
		return c.SearchWorkitems(ctx, params)
	})
}

// UpdateWorkitemAsync runs UpdateWorkitem on the worker pool
func (c *Client) UpdateWorkitemAsync(ctx context.Context, workitemUID, transactionUID string, data models.Dataset) *Future {
	return c.pool.submit(ctx, func(ctx context.Context) Result {
		return c.UpdateWorkitem(ctx, workitemUID, transactionUID, data)
	})
}

// ChangeStateAsync runs ChangeState on the worker pool
func (c *Client) ChangeStateAsync(ctx context.Context, workitemUID string, state models.UPSState, transactionUID string) *Future {
	return c.pool.submit(ctx, func(ctx context.Context) Result {
		return c.ChangeState(ctx, workitemUID, state, transactionUID)
	})
}

// RequestCancellationAsync runs RequestCancellation on the worker pool
func (c *Client) RequestCancellationAsync(ctx context.Context, workitemUID string, req CancellationRequest) *Future {
	return c.pool.submit(ctx, func(ctx context.Context) Result {
		return c.RequestCancellation(ctx, workitemUID, req)
	})
}

// SubscribeAsync runs Subscribe on the worker pool
func (c *Client) SubscribeAsync(ctx context.Context, aeTitle string, sub Subscription) *Future {
	return c.pool.submit(ctx, func(ctx context.Context) Result {
		return c.Subscribe(ctx, aeTitle, sub)
	})
}

// UnsubscribeAsync runs Unsubscribe on the worker pool
func (c *Client) UnsubscribeAsync(ctx context.Context, aeTitle string, sub Subscription) *Future {
	return c.pool.submit(ctx, func(ctx context.Context) Result {
		return c.Unsubscribe(ctx, aeTitle, sub)
	})
}
