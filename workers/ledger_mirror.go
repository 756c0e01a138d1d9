// workers/ledger_mirror.go
package workers

import (
	"context"
	"time"

	"jtrace-service/ledger"
	"jtrace-service/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerReader is the read side of the ledger client the mirror needs.
type LedgerReader interface {
	ReadTotalCount(ctx context.Context) uint64
	Enumerate(ctx context.Context, from, to uint64) ledger.Enumeration
}

// MirrorResult summarises one mirror pass.
type MirrorResult struct {
	From     uint64
	To       uint64
	Upserted int
	Skipped  []ledger.Skipped
}

// LedgerMirrorWorker copies anchored records from the ledger into the
// ledger_records table. The cursor only moves past ids that were read, so a
// skipped id and everything after it is read again on the next tick.
type LedgerMirrorWorker struct {
	db       *gorm.DB
	ledger   LedgerReader
	interval time.Duration
	logger   *zap.Logger

	cursor uint64 // highest sequence id mirrored without gaps
}

func NewLedgerMirrorWorker(db *gorm.DB, reader LedgerReader, interval time.Duration, logger *zap.Logger) *LedgerMirrorWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &LedgerMirrorWorker{
		db:       db,
		ledger:   reader,
		interval: interval,
		logger:   logger.Named("ledger_mirror"),
	}
}

func (w *LedgerMirrorWorker) Start(ctx context.Context) {
	w.logger.Info("starting ledger mirror", zap.Duration("interval", w.interval))
	go w.run(ctx)
}

func (w *LedgerMirrorWorker) run(ctx context.Context) {
	w.cursor = w.lastMirrored(ctx)
	if _, err := w.SyncOnce(ctx); err != nil {
		w.logger.Warn("initial mirror pass failed", zap.Error(err))
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.SyncOnce(ctx); err != nil {
				w.logger.Error("mirror pass failed", zap.Error(err))
			}
		case <-ctx.Done():
			w.logger.Info("ledger mirror stopped")
			return
		}
	}
}

// lastMirrored resumes from the stored rows when they form a gap-free
// prefix; otherwise the next pass starts over from id 1.
func (w *LedgerMirrorWorker) lastMirrored(ctx context.Context) uint64 {
	var stats struct {
		Max   uint64
		Count uint64
	}
	err := w.db.WithContext(ctx).Model(&models.LedgerRecord{}).
		Select("COALESCE(MAX(sequence_id), 0) AS max, COUNT(*) AS count").
		Scan(&stats).Error
	if err != nil || stats.Max != stats.Count {
		return 0
	}
	return stats.Max
}

// SyncOnce mirrors every id after the cursor up to the current total count.
func (w *LedgerMirrorWorker) SyncOnce(ctx context.Context) (MirrorResult, error) {
	total := w.ledger.ReadTotalCount(ctx)
	res := MirrorResult{From: w.cursor + 1, To: total}
	if total <= w.cursor {
		w.logger.Debug("ledger mirror up to date", zap.Uint64("cursor", w.cursor), zap.Uint64("total", total))
		return res, nil
	}

	en := w.ledger.Enumerate(ctx, res.From, total)
	res.Skipped = en.Skipped

	if len(en.Records) > 0 {
		err := w.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "sequence_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"subject", "submitter", "content_fingerprint", "record_type", "timestamp", "mirrored_at",
			}),
		}).CreateInBatches(&en.Records, 200).Error
		if err != nil {
			// Cursor stays put; the whole range is retried next tick.
			return res, err
		}
		res.Upserted = len(en.Records)
	}

	next := total
	if len(en.Skipped) > 0 {
		next = en.Skipped[0].SequenceID - 1
	}
	if next > w.cursor {
		w.cursor = next
	}

	w.logger.Info("ledger mirror pass",
		zap.Uint64("from", res.From),
		zap.Uint64("to", res.To),
		zap.Int("upserted", res.Upserted),
		zap.Int("skipped", len(res.Skipped)),
		zap.Uint64("cursor", w.cursor),
	)
	return res, nil
}

// Cursor reports the highest sequence id mirrored without gaps.
func (w *LedgerMirrorWorker) Cursor() uint64 { return w.cursor }

// GetMirroredRecords lists mirrored records in sequence order.
func GetMirroredRecords(ctx context.Context, db *gorm.DB) ([]models.LedgerRecord, error) {
	records := []models.LedgerRecord{}
	if err := db.WithContext(ctx).Order("sequence_id ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// GetMirroredRecord loads one mirrored record. found is false when the id
// has not been mirrored yet.
func GetMirroredRecord(ctx context.Context, db *gorm.DB, seq uint64) (models.LedgerRecord, bool, error) {
	var rec models.LedgerRecord
	if err := db.WithContext(ctx).Where("sequence_id = ?", seq).First(&rec).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return rec, false, nil
		}
		return rec, false, err
	}
	return rec, true, nil
}
