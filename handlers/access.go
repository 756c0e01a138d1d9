// handlers/access.go
package handlers

import (
	"context"

	"jtrace-service/fault"
	"jtrace-service/middleware"
	"jtrace-service/services"
	"jtrace-service/utils"

	"github.com/gofiber/fiber/v2"
)

type accessHandler struct {
	access *services.AccessService
}

func SetupAccessRoutes(app *fiber.App, access *services.AccessService) {
	h := &accessHandler{access: access}

	api := app.Group("/api/access")
	api.Post("/grant", h.grant)
	api.Post("/revoke", h.revoke)
	api.Post("/reconcile", h.reconcile)
	api.Get("/:owner", h.list)
}

type accessRequest struct {
	Owner    string `json:"owner"`
	Delegate string `json:"delegate"`
}

// ownerFor resolves the acting owner: the body's owner, defaulting to the
// connected wallet. A body owner that differs from the connected wallet is
// refused.
func ownerFor(c *fiber.Ctx, owner string) (string, error) {
	connected := middleware.WalletFrom(c)
	if owner == "" {
		return connected, nil
	}
	if connected == "" {
		return owner, nil
	}
	if addr, ok := utils.NormalizeAddress(owner); ok && addr != connected {
		return "", fault.ForbiddenError("owner %s does not match the connected wallet", addr)
	}
	return owner, nil
}

func (h *accessHandler) grant(c *fiber.Ctx) error {
	return h.change(c, h.access.Grant)
}

func (h *accessHandler) revoke(c *fiber.Ctx) error {
	return h.change(c, h.access.Revoke)
}

func (h *accessHandler) change(c *fiber.Ctx, apply func(ctx context.Context, owner, delegate string) (*services.AccessChange, error)) error {
	var req accessRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	owner, err := ownerFor(c, req.Owner)
	if err != nil {
		return writeError(c, err)
	}

	change, err := apply(c.UserContext(), owner, req.Delegate)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(change)
}

func (h *accessHandler) reconcile(c *fiber.Ctx) error {
	var req struct {
		Owner     string   `json:"owner"`
		Delegates []string `json:"delegates"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	// Reconciling only reads the ledger, so any caller may refresh any owner.
	owner := req.Owner
	if owner == "" {
		owner = middleware.WalletFrom(c)
	}

	access, err := h.access.Reconcile(c.UserContext(), owner, req.Delegates)
	if err != nil {
		return writeError(c, err)
	}
	normalized, _ := utils.NormalizeAddress(owner)
	return c.JSON(fiber.Map{"owner": normalized, "access": access})
}

func (h *accessHandler) list(c *fiber.Ctx) error {
	owner := c.Params("owner")
	entries, err := h.access.List(c.UserContext(), owner)
	if err != nil {
		return writeError(c, err)
	}
	normalized, _ := utils.NormalizeAddress(owner)
	return c.JSON(fiber.Map{"owner": normalized, "grants": entries})
}
