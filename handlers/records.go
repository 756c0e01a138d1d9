// handlers/records.go
package handlers

import (
	"strconv"

	"jtrace-service/middleware"
	"jtrace-service/services"

	"github.com/gofiber/fiber/v2"
)

type recordHandler struct {
	records     *services.RecordService
	submissions *services.SubmissionService
}

func SetupRecordRoutes(app *fiber.App, records *services.RecordService, submissions *services.SubmissionService) {
	h := &recordHandler{records: records, submissions: submissions}

	app.Post("/api/journal", h.createRecord)
	app.Get("/api/journal_block", h.listRecords)
	app.Get("/api/journal_block/:user_id", h.listRecordsByOwner)
	app.Post("/api/records/submit", h.submit)
}

// createRecordRequest also accepts the older journal field names
// (user_id, tx_hash, accounts[{no,name}]) sent by existing clients.
type createRecordRequest struct {
	OwnerUserID uint                `json:"owner_user_id"`
	ReferenceNo string              `json:"reference_no"`
	Attachment  string              `json:"attachment"`
	LedgerTxRef string              `json:"ledger_tx_ref"`
	Lines       []services.LineInput `json:"lines"`

	UserID   uint            `json:"user_id"`
	TxHash   string          `json:"tx_hash"`
	Accounts []legacyAccount `json:"accounts"`
}

type legacyAccount struct {
	No     string `json:"no"`
	Name   string `json:"name"`
	Debit  any    `json:"debit"`
	Credit any    `json:"credit"`
}

func (r createRecordRequest) input() services.CreateRecordInput {
	in := services.CreateRecordInput{
		OwnerUserID: r.OwnerUserID,
		ReferenceNo: r.ReferenceNo,
		Attachment:  r.Attachment,
		LedgerTxRef: r.LedgerTxRef,
		Lines:       r.Lines,
	}
	if in.OwnerUserID == 0 {
		in.OwnerUserID = r.UserID
	}
	if in.LedgerTxRef == "" {
		in.LedgerTxRef = r.TxHash
	}
	if len(in.Lines) == 0 {
		for _, a := range r.Accounts {
			in.Lines = append(in.Lines, services.LineInput{Code: a.No, Label: a.Name, Debit: a.Debit, Credit: a.Credit})
		}
	}
	return in
}

func (h *recordHandler) createRecord(c *fiber.Ctx) error {
	var req createRecordRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	rec, err := h.records.CreateRecord(c.UserContext(), req.input())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"message": "record saved", "record": rec})
}

func (h *recordHandler) listRecords(c *fiber.Ctx) error {
	records, err := h.records.ListRecords(c.UserContext(), nil)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(records)
}

func (h *recordHandler) listRecordsByOwner(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("user_id"), 10, 64)
	if err != nil || id == 0 {
		return badRequest(c, "user_id must be a positive integer")
	}
	owner := uint(id)

	records, err := h.records.ListRecords(c.UserContext(), &owner)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(records)
}

// submit pins, anchors and stores a record for the wallet in the body, or
// for the connected wallet when the body names none.
func (h *recordHandler) submit(c *fiber.Ctx) error {
	var in services.SubmitInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	if in.Wallet == "" {
		in.Wallet = middleware.WalletFrom(c)
	}

	res, err := h.submissions.Submit(c.UserContext(), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"message": "record anchored", "result": res})
}
