package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/billpay/internal/catalog"
	"github.com/congo-pay/billpay/internal/config"
	"github.com/congo-pay/billpay/internal/funding"
	"github.com/congo-pay/billpay/internal/ledger"
	"github.com/congo-pay/billpay/internal/logging"
	"github.com/congo-pay/billpay/internal/middleware"
	"github.com/congo-pay/billpay/internal/notification"
	"github.com/congo-pay/billpay/internal/provider"
	"github.com/congo-pay/billpay/internal/provider/paystack"
	"github.com/congo-pay/billpay/internal/provider/simulated"
	"github.com/congo-pay/billpay/internal/provider/vtpass"
	"github.com/congo-pay/billpay/internal/settlement"
	"github.com/congo-pay/billpay/internal/transaction"
	"github.com/congo-pay/billpay/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	// Notifier receives settlement events. Nil logs them.
	Notifier notification.Notifier
	// Providers overrides the registry built from Cfg.
	Providers *provider.Registry
}

// Services are the domain services behind the HTTP surface. The sweeper shares
// the engine and transaction store with the handlers.
type Services struct {
	Wallets      ledger.Store
	Transactions transaction.Store
	Catalog      catalog.Repository
	Providers    *provider.Registry
	Engine       *settlement.Engine
	WalletSvc    *wallet.Service
	Funding      *funding.Service
}

// NewServices picks Postgres or in-memory backends and builds the engine.
func NewServices(d Deps) (*Services, error) {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Services{}
	var claims funding.ClaimStore
	if d.DB != nil {
		s.Wallets = ledger.NewPostgresStore(d.DB)
		s.Transactions = transaction.NewPostgresStore(d.DB)
		s.Catalog = catalog.NewPostgresRepository(d.DB)
		claims = funding.NewPostgresClaimStore(d.DB)
	} else {
		s.Wallets = ledger.NewInMemory()
		s.Transactions = transaction.NewMemoryStore()
		s.Catalog = catalog.NewMemoryRepository()
		claims = funding.NewMemoryClaimStore()
	}
	s.Catalog = catalog.NewCachedRepository(s.Catalog, d.Cache, d.Cfg.CatalogCacheTTL, logging.Component(logger, "catalog"))

	s.Providers = d.Providers
	if s.Providers == nil {
		registry, err := NewRegistry(d.Cfg, logger)
		if err != nil {
			return nil, err
		}
		s.Providers = registry
	}

	notifier := d.Notifier
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(logger)
	}

	s.Engine = settlement.New(settlement.Deps{
		Wallets:      s.Wallets,
		Transactions: s.Transactions,
		Catalog:      s.Catalog,
		Providers:    s.Providers,
		Notifier:     notifier,
		Logger:       logging.Component(logger, "settlement"),
	}, settlement.Options{
		DispatchTimeout:      d.Cfg.DispatchTimeout,
		StatusRequeryTimeout: d.Cfg.StatusRequeryTimeout,
	})
	s.WalletSvc = wallet.NewService(s.Wallets, d.Cfg.Currency)

	fundingSvc, err := funding.NewService(s.Wallets, claims, s.Providers, notifier, logging.Component(logger, "funding"), d.Cfg.TopUpCallbackURL)
	if err != nil {
		return nil, err
	}
	s.Funding = fundingSvc
	return s, nil
}

// NewRegistry registers the backends Cfg has credentials for and activates the
// configured fulfillment and collection providers.
func NewRegistry(cfg config.Config, logger *slog.Logger) (*provider.Registry, error) {
	registry := provider.NewRegistry()
	if cfg.IsDev() {
		registry.Register(simulated.New())
	}
	if cfg.VTPass.Username != "" {
		registry.Register(vtpass.New(cfg.VTPass.BaseURL, cfg.VTPass.Username, cfg.VTPass.Password, logging.Component(logger, "vtpass")))
	}
	if cfg.Paystack.SecretKey != "" {
		registry.Register(paystack.New(cfg.Paystack.BaseURL, cfg.Paystack.SecretKey))
	}
	if err := registry.SetFulfiller(cfg.FulfillmentProvider); err != nil {
		return nil, fmt.Errorf("fulfillment provider: %w", err)
	}
	if err := registry.SetCollector(cfg.CollectionProvider); err != nil {
		return nil, fmt.Errorf("collection provider: %w", err)
	}
	return registry, nil
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps, s *Services) {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(logging.Component(d.Logger, "http")))

	RegisterHealthRoutes(app, d, s.Providers)

	walletHandler := wallet.NewHandler(s.WalletSvc)
	fundingHandler := funding.NewHandler(s.Funding)
	purchaseHandler := settlement.NewHandler(s.Engine, s.Providers)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Service-to-service routes, reachable only inside the cluster.
	internal := api.Group("/internal")
	RegisterInternalRoutes(internal, walletHandler)

	// Caller routes; the gateway has authenticated the user.
	protected := api.Group("", middleware.GatewayUser())
	if d.Cache != nil {
		protected.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterWalletRoutes(protected, walletHandler)
	RegisterFundingRoutes(protected, fundingHandler)
	RegisterPurchaseRoutes(protected, purchaseHandler, middleware.PurchaseRateLimit(d.Cache, d.Cfg.PurchaseRateLimit))
}
