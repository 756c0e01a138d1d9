package middleware

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newApp(handlers ...fiber.Handler) *fiber.App {
	app := fiber.New()
	for _, h := range handlers {
		app.Use(h)
	}
	app.Get("/whoami", func(c *fiber.Ctx) error { return c.SendString(WalletFrom(c)) })
	return app
}

func TestServiceToken(t *testing.T) {
	app := newApp(ServiceTokenMiddleware("s3cret", zap.NewNop()))

	cases := []struct {
		header string
		status int
	}{
		{"", fiber.StatusUnauthorized},
		{"Bearer wrong", fiber.StatusUnauthorized},
		{"Bearer s3cret", fiber.StatusOK},
		{"s3cret", fiber.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/whoami", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, tc.status, resp.StatusCode, "header %q", tc.header)
	}
}

func TestServiceToken_DisabledWhenUnset(t *testing.T) {
	app := newApp(ServiceTokenMiddleware("", zap.NewNop()))
	resp, err := app.Test(httptest.NewRequest("GET", "/whoami", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestWalletContext(t *testing.T) {
	app := newApp(WalletContextMiddleware(zap.NewNop()))

	req := httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set(WalletHeader, "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	resp, err := app.Test(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", string(body))

	req = httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set(WalletHeader, "not-a-wallet")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/whoami", nil))
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	assert.Empty(t, string(body))
}
