// handlers/errors.go
package handlers

import (
	"jtrace-service/fault"

	"github.com/gofiber/fiber/v2"
)

// writeError maps a fault kind to its HTTP status. Unclassified errors are
// reported as 500 without their detail.
func writeError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	kind := fault.KindOf(err)
	switch kind {
	case fault.KindValidation:
		status = fiber.StatusBadRequest
	case fault.KindNotFound:
		status = fiber.StatusNotFound
	case fault.KindForbidden:
		status = fiber.StatusForbidden
	case fault.KindLedgerSubmission, fault.KindLedgerRead:
		status = fiber.StatusBadGateway
	case fault.KindLedgerTimeout:
		status = fiber.StatusGatewayTimeout
	}

	body := fiber.Map{"error": err.Error(), "code": string(kind)}
	switch kind {
	case "":
		body["error"] = "internal error"
		body["code"] = "internal"
	case fault.KindStore:
		body["error"] = "storage error"
	}
	if ref := fault.TxRefOf(err); ref != "" {
		body["tx_ref"] = ref
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, format string, args ...any) error {
	return writeError(c, fault.ValidationError(format, args...))
}
