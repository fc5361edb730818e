package exporter

import (
	"context"
	"strconv"
	"time"

	"github.com/smallbiznis/railpost/internal/config"
	ledgerdomain "github.com/smallbiznis/railpost/internal/ledger/domain"
	"github.com/smallbiznis/railpost/internal/providers/acctsync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Pusher delivers one journal entry set to the accounting-sync provider.
// Pushes are idempotent on the external id, so redelivery after a lost
// MarkExported race or a crash is harmless.
type Pusher interface {
	PushJournal(ctx context.Context, scope string, push acctsync.JournalPush) error
}

type Params struct {
	fx.In

	Log    *zap.Logger
	Cfg    config.Config
	Ledger ledgerdomain.Service
	Pusher Pusher
}

// Worker drains posted journal entries to the accounting-sync provider.
type Worker struct {
	log       *zap.Logger
	ledger    ledgerdomain.Service
	pusher    Pusher
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
		log:       p.Log.Named("ledger.exporter"),
		ledger:    p.Ledger,
		pusher:    p.Pusher,
		interval:  interval,
		batchSize: batch,
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Warn("journal export run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce exports one batch, returning how many entries were delivered. A
// failing entry is skipped and retried on the next run.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	candidates, err := w.ledger.FindUnexported(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}

	exported := 0
	for _, candidate := range candidates {
		if err := w.export(ctx, candidate); err != nil {
			w.log.Warn("journal export failed",
				zap.Int64("journal_entry_id", int64(candidate.EntryID)),
				zap.Error(err),
			)
			continue
		}
		exported++
	}
	return exported, nil
}

func (w *Worker) export(ctx context.Context, candidate ledgerdomain.ExportCandidate) error {
	lines := make([]acctsync.JournalLine, 0, len(candidate.Lines))
	for _, line := range candidate.Lines {
		lines = append(lines, acctsync.JournalLine{
			AccountCode: line.AccountCode,
			Direction:   string(line.Direction),
			Amount:      line.Amount,
			Currency:    line.Currency,
			Description: line.Description,
		})
	}

	scope := strconv.FormatInt(int64(candidate.OrgID), 10)
	if err := w.pusher.PushJournal(ctx, scope, acctsync.JournalPush{
		ExternalID:    candidate.IdempotencyKey,
		PostedAt:      candidate.PostedAt,
		CorrelationID: candidate.CorrelationID,
		Lines:         lines,
	}); err != nil {
		return err
	}

	if _, err := w.ledger.MarkExported(ctx, candidate.EntryID); err != nil {
		return err
	}
	return nil
}
