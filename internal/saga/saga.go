// Package saga keeps the undo steps of a multi-record operation so a
// partial failure can be rolled back in reverse order.
package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// CompensationTimeout bounds the whole rollback once the caller's context is detached
const CompensationTimeout = 10 * time.Second

// CompensationFunc reverts one applied step
type CompensationFunc func(ctx context.Context) error

type step struct {
	name string
	undo CompensationFunc
}

// Saga collects compensations in the order steps were applied
type Saga struct {
	mu    sync.Mutex
	steps []step
}

func New() *Saga {
	return &Saga{}
}

// AddCompensation registers the inverse of a step that has just succeeded
func (s *Saga) AddCompensation(name string, undo CompensationFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append([]step{{name: name, undo: undo}}, s.steps...)
}

// Len returns the number of registered compensations
func (s *Saga) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

// TriggerCompensation runs every compensation newest first.
// It runs on a context detached from ctx's cancellation, keeps going past
// failures and returns them joined. The saga is empty afterwards.
func (s *Saga) TriggerCompensation(ctx context.Context) error {
	s.mu.Lock()
	steps := s.steps
	s.steps = nil
	s.mu.Unlock()

	if len(steps) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), CompensationTimeout)
	defer cancel()

	var errs []error
	for _, st := range steps {
		if err := st.undo(ctx); err != nil {
			errs = append(errs, fmt.Errorf("compensate %s: %w", st.name, err))
		}
	}
	return errors.Join(errs...)
}
