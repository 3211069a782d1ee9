package concurrency

import (
	"context"
	"errors"
	"sync"
)

var ErrBusy = errors.New("System is busy!")

type ConcurrencyGuard struct {
	mu     sync.Mutex
	isBusy bool
}

func NewConcurrencyGuard() *ConcurrencyGuard {
	return &ConcurrencyGuard{}
}

func (g *ConcurrencyGuard) Execute(task func() error) error {
	g.mu.Lock()
	if g.isBusy {
		g.mu.Unlock()
		return ErrBusy
	}
	g.isBusy = true
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.isBusy = false
		g.mu.Unlock()
	}()
	return task()
}

// ExecuteWithContext runs task under the guard, bailing out early when
// ctx is already done. The task receives ctx and is expected to honor
// its cancellation; the guard itself does not interrupt a running task.
func (g *ConcurrencyGuard) ExecuteWithContext(ctx context.Context, task func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.Execute(func() error {
		return task(ctx)
	})
}
