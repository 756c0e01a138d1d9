package ledger

import (
	"context"

	"jtrace-service/models"

	"go.uber.org/zap"
)

// Skipped reports a sequence id that could not be read during enumeration.
type Skipped struct {
	SequenceID uint64 `json:"sequence_id"`
	Reason     string `json:"reason"`
}

// Enumeration is the result of walking a range of sequence ids. Records are
// in ascending sequence order; unreadable ids land in Skipped instead of
// failing the walk.
type Enumeration struct {
	Records    []models.LedgerRecord `json:"records"`
	Skipped    []Skipped             `json:"skipped"`
	TotalCount uint64                `json:"total_count"`
}

// EnumerateAll reads every record from 1 to the current total count.
func (c *Client) EnumerateAll(ctx context.Context) Enumeration {
	total := c.ReadTotalCount(ctx)
	en := c.Enumerate(ctx, 1, total)
	en.TotalCount = total
	return en
}

// Enumerate reads ids from..to inclusive. A cancelled context stops the walk
// and reports the remaining ids as skipped.
func (c *Client) Enumerate(ctx context.Context, from, to uint64) Enumeration {
	en := Enumeration{Records: []models.LedgerRecord{}, Skipped: []Skipped{}, TotalCount: to}
	if from == 0 {
		from = 1
	}
	for seq := from; seq <= to; seq++ {
		if err := ctx.Err(); err != nil {
			for rest := seq; rest <= to; rest++ {
				en.Skipped = append(en.Skipped, Skipped{SequenceID: rest, Reason: err.Error()})
			}
			c.logger.Warn("enumeration interrupted", zap.Uint64("at", seq), zap.Error(err))
			break
		}
		rec, err := c.ReadRecord(ctx, seq)
		if err != nil {
			c.logger.Warn("ledger record unreadable, skipping", zap.Uint64("sequence_id", seq), zap.Error(err))
			en.Skipped = append(en.Skipped, Skipped{SequenceID: seq, Reason: err.Error()})
			continue
		}
		en.Records = append(en.Records, *rec)
	}
	return en
}
