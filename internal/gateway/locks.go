package gateway

import (
	"context"
	"sync"
)

// cardSlot admits one card operation at a time. The driver clamps an unknown
// reader index to the first reader, so two different indexes can name the same
// physical reader; a single slot is the only key every caller agrees on.
type cardSlot struct {
	once sync.Once
	ch   chan struct{}
}

// acquire waits for the slot or for ctx to end.
func (s *cardSlot) acquire(ctx context.Context) (func(), error) {
	s.once.Do(func() {
		s.ch = make(chan struct{}, 1)
	})
	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-s.ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
