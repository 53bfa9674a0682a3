package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Pool runs independent tasks in their own goroutines and remembers them
// until they finish, so callers can launch and return while shutdown still
// waits for every task.
type Pool struct {
	sem chan struct{} // nil when unbounded
	wg  sync.WaitGroup
}

// NewPool caps in-flight tasks at size; size <= 0 means no cap.
func NewPool(size int) *Pool {
	p := &Pool{}
	if size > 0 {
		p.sem = make(chan struct{}, size)
	}
	return p
}

// Go starts fn without blocking the caller. fn receives a context that keeps
// ctx's values but is never cancelled: a started task runs to completion.
func (p *Pool) Go(ctx context.Context, name string, fn func(ctx context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if p.sem != nil {
			p.sem <- struct{}{}
			defer func() { <-p.sem }()
		}
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("task", name).Msg("task panicked")
			}
		}()
		fn(context.WithoutCancel(ctx))
	}()
}

// Wait blocks until every task started so far has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
