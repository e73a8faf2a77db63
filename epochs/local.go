package epochs

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	Epoch     uint64
	AdvanceAt time.Time
}

// Local keeps epochs in-process (default).
// An optional loop forgets keys that stopped advancing.
type Local struct {
	mu     sync.RWMutex
	epochs map[string]localEntry
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

var _ Counter = (*Local)(nil)

// NewLocal builds a Local counter. When both durations are positive a
// background loop calls Forget(retention) every cleanupInterval.
//
// Forgetting resets a key to 0. The store floors fetch epochs with the entry's
// last epoch, so a reset never stalls a fetch.
func NewLocal(cleanupInterval, retention time.Duration) *Local {
	s := &Local{epochs: make(map[string]localEntry)}
	if cleanupInterval > 0 && retention > 0 {
		s.ticker = time.NewTicker(cleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Forget(retention)
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *Local) Current(_ context.Context, k string) (uint64, error) {
	s.mu.RLock()
	e := s.epochs[k]
	s.mu.RUnlock()
	return e.Epoch, nil
}

// CurrentMany takes the read lock once for all keys.
func (s *Local) CurrentMany(_ context.Context, ks []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(ks))
	s.mu.RLock()
	for _, k := range ks {
		out[k] = s.epochs[k].Epoch
	}
	s.mu.RUnlock()
	return out, nil
}

func (s *Local) Advance(_ context.Context, k string) (uint64, error) {
	now := time.Now()
	s.mu.Lock()
	e := s.epochs[k]
	e.Epoch++
	e.AdvanceAt = now
	s.epochs[k] = e
	s.mu.Unlock()
	return e.Epoch, nil
}

func (s *Local) Forget(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)

	s.mu.Lock()
	for k, e := range s.epochs {
		if !e.AdvanceAt.IsZero() && e.AdvanceAt.Before(cutoff) {
			delete(s.epochs, k)
		}
	}
	s.mu.Unlock()
}

func (s *Local) Close(_ context.Context) error {
	s.once.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			s.ticker.Stop()
			s.wg.Wait()
		}
	})
	return nil
}
