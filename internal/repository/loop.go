package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrLoopStopped is returned by Do after Run has returned.
var ErrLoopStopped = errors.New("repository loop stopped")

// Loop owns a Repository on a single goroutine. Closures submitted with Do
// run one at a time; after each one the queued events are emitted on the
// bus. Event handlers run on the loop goroutine and must not call Do.
type Loop struct {
	repo     *Repository
	bus      *EventBus
	commands chan func()
	done     chan struct{}
	logger   *slog.Logger
}

// NewLoop wraps repo. Events go to bus, which may be nil.
func NewLoop(repo *Repository, bus *EventBus, logger *slog.Logger) *Loop {
	return &Loop{
		repo:     repo,
		bus:      bus,
		commands: make(chan func(), 64),
		done:     make(chan struct{}),
		logger:   logger.With("component", "repository_loop"),
	}
}

// Run processes closures until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.commands:
			fn()
		}
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Do runs fn on the loop goroutine and waits for its result.
func (l *Loop) Do(ctx context.Context, fn func(*Repository) error) error {
	errc := make(chan error, 1)
	cmd := func() {
		defer func() {
			if rec := recover(); rec != nil {
				l.logger.Error("repository closure panic", "panic", rec)
				errc <- fmt.Errorf("repository closure panic: %v", rec)
			}
			l.publish()
		}()
		errc <- fn(l.repo)
	}
	select {
	case l.commands <- cmd:
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) publish() {
	events := l.repo.TakeEvents()
	if l.bus == nil {
		return
	}
	for _, ev := range events {
		l.bus.Emit(ev)
	}
}
