// Package sweeper releases reservations whose payment never arrived.
package sweeper

import (
	"context"
	"time"

	"github.com/fjod/go_cart/inventory-service/internal/domain"
	"github.com/fjod/go_cart/inventory-service/internal/metrics"
	"github.com/fjod/go_cart/inventory-service/internal/repository"
	"github.com/fjod/go_cart/inventory-service/internal/reservation"
	"go.uber.org/zap"
)

const (
	DefaultInterval  = 5 * time.Minute
	DefaultBatchSize = 50

	// Source recorded on orders and audit entries released by the sweeper
	Source = "reservation-expiry"
)

// Releaser is the part of the reservation engine the sweeper drives
type Releaser interface {
	Release(ctx context.Context, order *domain.Order, source string) (reservation.Result, error)
}

type Config struct {
	Interval  time.Duration
	BatchSize int
}

// Report summarises one sweep. Skipped counts orders settled by someone
// else between the query and the release.
type Report struct {
	Scanned  int
	Released int
	Skipped  int
	Failed   int
}

type Sweeper struct {
	orders   repository.OrderRepository
	engine   Releaser
	metrics  *metrics.Metrics
	logger   *zap.Logger
	interval time.Duration
	batch    int
	now      func() time.Time
}

func New(orders repository.OrderRepository, engine Releaser, m *metrics.Metrics, logger *zap.Logger, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Sweeper{
		orders:   orders,
		engine:   engine,
		metrics:  m,
		logger:   logger,
		interval: cfg.Interval,
		batch:    cfg.BatchSize,
		now:      time.Now,
	}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("reservation sweeper started",
		zap.Duration("interval", s.interval),
		zap.Int("batch_size", s.batch))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("reservation sweep failed", zap.Error(err))
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			s.logger.Info("reservation sweeper stopped")
			return nil
		}
	}
}

// SweepOnce releases one batch of expired reservations. A failure on one
// order is logged and counted; only a failed batch query is returned.
func (s *Sweeper) SweepOnce(ctx context.Context) (Report, error) {
	var report Report

	orders, err := s.orders.FindExpiredReservations(ctx, s.now().UTC(), s.batch)
	if err != nil {
		return report, err
	}
	report.Scanned = len(orders)

	for _, order := range orders {
		if ctx.Err() != nil {
			break
		}
		released, err := s.releaseOne(ctx, order)
		if err != nil {
			report.Failed++
			s.metrics.SweeperFailures.Inc()
			s.logger.Warn("failed to release expired reservation",
				zap.String("order_id", order.ID),
				zap.String("error_code", domain.Code(err)),
				zap.Error(err))
			continue
		}
		if !released {
			report.Skipped++
			continue
		}
		report.Released++
		s.metrics.SweeperReleased.Inc()
	}

	if report.Scanned > 0 {
		s.logger.Info("reservation sweep finished",
			zap.Int("scanned", report.Scanned),
			zap.Int("released", report.Released),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed))
	}
	return report, nil
}

// releaseOne releases one expired reservation. The engine persists the
// order only if it is still reserved in storage, so an order confirmed or
// cancelled since the query comes back as a no-op with its stock untouched.
func (s *Sweeper) releaseOne(ctx context.Context, order *domain.Order) (bool, error) {
	res, err := s.engine.Release(ctx, order, Source)
	if err != nil {
		return false, err
	}
	if res.Status == reservation.StatusNoop {
		s.logger.Debug("expired reservation already settled",
			zap.String("order_id", order.ID),
			zap.String("reason", res.Reason))
		return false, nil
	}
	return true, nil
}
