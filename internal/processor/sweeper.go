package processor

import (
	"context"
	"sync"
	"time"

	"github.com/nimasrn/number-market/pkg/logger"
)

type Sweepable interface {
	SweepExpired(ctx context.Context) (int, error)
	PollPending(ctx context.Context) (int, error)
}

// Sweeper frees lapsed reservations and polls external providers on a
// fixed interval.
type Sweeper struct {
	orders   Sweepable
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewSweeper(orders Sweepable, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{orders: orders, interval: interval}
}

func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

func (s *Sweeper) RunOnce(ctx context.Context) {
	freed, err := s.orders.SweepExpired(ctx)
	if err != nil {
		logger.Error("sweep failed", "error", err)
	} else if freed > 0 {
		logger.Info("sweep freed reservations", "count", freed)
	}

	changed, err := s.orders.PollPending(ctx)
	if err != nil {
		logger.Error("provider poll failed", "error", err)
	} else if changed > 0 {
		logger.Info("provider poll settled payments", "count", changed)
	}
}

func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
