package sweeper

import (
	"context"
	"time"

	"github.com/smallbiznis/railpost/internal/config"
	linkdomain "github.com/smallbiznis/railpost/internal/paymentlink/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Cfg     config.Config
	LinkSvc linkdomain.Service
}

// Worker periodically expires overdue OPEN links. It converges with the lazy
// check on validation: whichever sees the link first wins the guarded update.
type Worker struct {
	log       *zap.Logger
	linkSvc   linkdomain.Service
	interval  time.Duration
	batchSize int
}

func NewWorker(p Params) *Worker {
	interval := p.Cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	batch := p.Cfg.SweepBatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Worker{
		log:       p.Log.Named("sweeper"),
		linkSvc:   p.LinkSvc,
		interval:  interval,
		batchSize: batch,
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil {
			w.log.Warn("expiry sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) RunOnce(ctx context.Context) error {
	for {
		expired, err := w.linkSvc.ExpireDueBatch(ctx, w.batchSize)
		if err != nil {
			return err
		}
		if expired > 0 {
			w.log.Info("expired payment links", zap.Int("count", expired))
		}
		// Drain until the backlog is smaller than one batch.
		if expired < w.batchSize {
			return nil
		}
	}
}
