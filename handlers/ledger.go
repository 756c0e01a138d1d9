// handlers/ledger.go
package handlers

import (
	"context"
	"strconv"

	"jtrace-service/fault"
	"jtrace-service/ledger"
	"jtrace-service/models"
	"jtrace-service/workers"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// LedgerReader is the read side of the ledger client.
type LedgerReader interface {
	ReadTotalCount(ctx context.Context) uint64
	ReadRecord(ctx context.Context, seq uint64) (*models.LedgerRecord, error)
	EnumerateAll(ctx context.Context) ledger.Enumeration
}

type ledgerHandler struct {
	ledger LedgerReader
	db     *gorm.DB
}

// SetupLedgerRoutes exposes anchored records. Passing ?source=mirror reads
// the local mirror instead of the ledger.
func SetupLedgerRoutes(app *fiber.App, reader LedgerReader, db *gorm.DB) {
	h := &ledgerHandler{ledger: reader, db: db}

	api := app.Group("/api/ledger")
	api.Get("/count", h.count)
	api.Get("/records", h.listRecords)
	api.Get("/records/:id", h.getRecord)
}

func (h *ledgerHandler) count(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"total_count": h.ledger.ReadTotalCount(c.UserContext())})
}

func (h *ledgerHandler) listRecords(c *fiber.Ctx) error {
	if c.Query("source") == "mirror" {
		records, err := workers.GetMirroredRecords(c.UserContext(), h.db)
		if err != nil {
			return writeError(c, fault.StoreError(err, "failed to list mirrored records"))
		}
		return c.JSON(fiber.Map{"records": records, "skipped": []ledger.Skipped{}, "total_count": len(records)})
	}
	return c.JSON(h.ledger.EnumerateAll(c.UserContext()))
}

func (h *ledgerHandler) getRecord(c *fiber.Ctx) error {
	seq, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return badRequest(c, "id must be a positive integer")
	}

	if c.Query("source") == "mirror" {
		rec, found, err := workers.GetMirroredRecord(c.UserContext(), h.db, seq)
		if err != nil {
			return writeError(c, fault.StoreError(err, "failed to load mirrored record"))
		}
		if !found {
			return writeError(c, fault.NotFoundError("ledger record %d not mirrored", seq))
		}
		return c.JSON(rec)
	}

	rec, err := h.ledger.ReadRecord(c.UserContext(), seq)
	if err != nil {
		if fault.KindOf(err) == "" {
			err = fault.LedgerReadError(err, "ledger read failed")
		}
		return writeError(c, err)
	}
	return c.JSON(rec)
}
