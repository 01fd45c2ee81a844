package call

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Task is a handle on one background audio job.
type Task struct {
	ID   uuid.UUID
	Name string

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func startTask(parent context.Context, wg *sync.WaitGroup, name string, fn func(context.Context) error) *Task {
	ctx, cancel := context.WithCancel(parent)
	t := &Task{
		ID:     uuid.New(),
		Name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(t.done)
		defer cancel()
		t.err = fn(ctx)
		switch {
		case t.err == nil, errors.Is(t.err, context.Canceled):
			log.Debug().Str("task", t.Name).Str("id", t.ID.String()).Msg("call.task done")
		default:
			log.Warn().Err(t.err).Str("task", t.Name).Str("id", t.ID.String()).Msg("call.task failed")
		}
	}()
	return t
}

// Cancel asks the task to stop. It does not wait.
func (t *Task) Cancel() {
	if t != nil {
		t.cancel()
	}
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task returns and reports its error.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

func (t *Task) Running() bool {
	if t == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}
