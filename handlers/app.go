// handlers/app.go
package handlers

import (
	"errors"
	"strings"

	"jtrace-service/middleware"
	"jtrace-service/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type AppConfig struct {
	AllowedOrigins string // comma separated; empty allows any origin
	APIToken       string
}

type Deps struct {
	Users       *services.UserService
	Records     *services.RecordService
	Submissions *services.SubmissionService
	Access      *services.AccessService
	Ledger      LedgerReader
	DB          *gorm.DB
}

// NewApp builds the fiber app with the global middleware and every route.
func NewApp(cfg AppConfig, deps Deps, logger *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "jtrace-service",
		BodyLimit:    4 * 1024 * 1024,
		ErrorHandler: errorHandler(logger),
	})

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))

	origins := strings.TrimSpace(cfg.AllowedOrigins)
	if origins == "" {
		origins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Request-ID, " + middleware.WalletHeader,
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString("jtrace-service is running")
	})

	app.Use("/api",
		middleware.ServiceTokenMiddleware(cfg.APIToken, logger.Named("auth")),
		middleware.WalletContextMiddleware(logger.Named("wallet")),
	)

	SetupUserRoutes(app, deps.Users)
	SetupRecordRoutes(app, deps.Records, deps.Submissions)
	SetupLedgerRoutes(app, deps.Ledger, deps.DB)
	SetupAccessRoutes(app, deps.Access)

	return app
}

func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message, "code": "http"})
		}
		logger.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
		return writeError(c, err)
	}
}
