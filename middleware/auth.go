// middleware/auth.go
package middleware

import (
	"jtrace-service/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	WalletHeader     = "X-Wallet-Address"
	walletContextKey = "wallet_address"
)

// WalletContextMiddleware attaches the connected wallet, taken from the
// X-Wallet-Address header, to the request. The header is optional; a
// malformed value is rejected. Signatures are not verified here.
func WalletContextMiddleware(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Get(WalletHeader)
		if raw == "" {
			return c.Next()
		}

		addr, ok := utils.NormalizeAddress(raw)
		if !ok {
			logger.Warn("malformed wallet header", zap.String("path", c.Path()), zap.String("value", raw))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": WalletHeader + " is not a valid wallet address",
				"code":  "validation",
			})
		}

		c.Locals(walletContextKey, addr)
		return c.Next()
	}
}

// WalletFrom returns the connected wallet for the request, or "" when none
// was sent.
func WalletFrom(c *fiber.Ctx) string {
	addr, _ := c.Locals(walletContextKey).(string)
	return addr
}
