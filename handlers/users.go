// handlers/users.go
package handlers

import (
	"strconv"

	"jtrace-service/middleware"
	"jtrace-service/services"

	"github.com/gofiber/fiber/v2"
)

type userHandler struct {
	users *services.UserService
}

func SetupUserRoutes(app *fiber.App, users *services.UserService) {
	h := &userHandler{users: users}
	app.Post("/api/users", h.ensureUser)
	app.Get("/api/users/:id", h.getUser)
}

// ensureUser registers or returns the user behind a wallet. The body's
// wallet_address wins; the connected wallet header is the fallback.
func (h *userHandler) ensureUser(c *fiber.Ctx) error {
	var req struct {
		WalletAddress string `json:"wallet_address"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	if req.WalletAddress == "" {
		req.WalletAddress = middleware.WalletFrom(c)
	}

	user, err := h.users.EnsureUser(c.UserContext(), req.WalletAddress)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"message": "user saved", "user": user})
}

func (h *userHandler) getUser(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return badRequest(c, "id must be a positive integer")
	}
	user, err := h.users.GetUser(c.UserContext(), uint(id))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"user": user})
}
