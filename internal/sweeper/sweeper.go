// Package sweeper expires vouchers and revokes them on the hotspot router.
package sweeper

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/namandi6/sonic-wifi.net/internal/mikrotik"
	"github.com/namandi6/sonic-wifi.net/internal/store"
)

// revokeConcurrency bounds parallel router calls during a sweep.
const revokeConcurrency = 4

// Sweeper is the periodic consistency pass between voucher expiry and router
// state. Local truth is updated first; router revocation is best-effort.
type Sweeper struct {
	store       *store.Store
	provisioner mikrotik.Provisioner
	interval    time.Duration
	logger      *zap.Logger
}

// New creates a sweeper.
func New(st *store.Store, provisioner mikrotik.Provisioner, interval time.Duration, logger *zap.Logger) *Sweeper {
	if provisioner == nil {
		provisioner = &mikrotik.Noop{}
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sweeper{
		store:       st,
		provisioner: provisioner,
		interval:    interval,
		logger:      logger,
	}
}

// Summary reports what one sweep did.
type Summary struct {
	Expired int
	Revoked int
}

// Sweep marks all vouchers past expiry as expired, then revokes them on the
// router. Safe to run concurrently with itself: the status flip is an atomic
// conditional update, and RemoveUser tolerates already-absent users.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (*Summary, error) {
	expired, err := s.store.ListExpiredActive(now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired vouchers: %w", err)
	}

	summary := &Summary{}
	var revoked atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(revokeConcurrency)

	for _, v := range expired {
		if _, err := s.store.MarkVoucherExpired(v.ID); err != nil {
			s.logger.Warn("failed to mark voucher expired",
				zap.String("voucher_id", v.ID),
				zap.Error(err),
			)
			continue
		}
		summary.Expired++

		code := v.Code
		g.Go(func() error {
			removed, err := s.provisioner.RemoveUser(gctx, code)
			if err != nil {
				s.logger.Warn("router revocation failed",
					zap.String("code", code),
					zap.Error(err),
				)
				return nil
			}
			if removed {
				revoked.Add(1)
			}
			return nil
		})
	}

	_ = g.Wait()
	summary.Revoked = int(revoked.Load())

	if summary.Expired > 0 {
		s.logger.Info("sweep finished",
			zap.Int("expired", summary.Expired),
			zap.Int("revoked", summary.Revoked),
		)
	}

	return summary, nil
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if _, err := s.Sweep(ctx, time.Now().UTC()); err != nil {
		s.logger.Error("initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, time.Now().UTC()); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}
