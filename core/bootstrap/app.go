package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/m3rciful/paybot/core/address"
	"github.com/m3rciful/paybot/core/bot"
	"github.com/m3rciful/paybot/core/commands"
	coreconfig "github.com/m3rciful/paybot/core/config"
	"github.com/m3rciful/paybot/core/identity"
	"github.com/m3rciful/paybot/core/ledger"
	"github.com/m3rciful/paybot/core/logger"
	"github.com/m3rciful/paybot/core/payment"
	"github.com/m3rciful/paybot/core/router"
	"github.com/m3rciful/paybot/core/session"
	"github.com/m3rciful/paybot/core/signal"
)

// App is the fully wired bot.
type App struct {
	Config      *coreconfig.Config
	Infra       *Infra
	Transport   *signal.Client
	Sender      *bot.Sender
	Sessions    session.Store
	Coordinator *payment.Coordinator
	Registry    *router.Registry
	Dispatcher  *bot.Dispatcher
}

// AppOption customizes optional collaborators at wiring time.
type AppOption func(*appOptions)

type appOptions struct {
	qr address.ImageCodec
}

// WithQRCodec installs the codec the address command uses to render and
// scan QR images. Without one the command falls back to text addresses.
func WithQRCodec(codec address.ImageCodec) AppOption {
	return func(o *appOptions) { o.qr = codec }
}

// BuildApp wires the application graph on top of initialized
// infrastructure.
func BuildApp(cfg *coreconfig.Config, infra *Infra, opts ...AppOption) (*App, error) {
	if cfg == nil || infra == nil {
		return nil, fmt.Errorf("bootstrap: nil config or infra")
	}

	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	transport := signal.NewClient(cfg.Signal)
	sender := bot.NewSender(transport, bot.SenderOptions{})
	sessions := session.NewPostgresStore(infra.DB)
	store := payment.NewPostgresStore(infra.DB)
	backend := ledger.NewClient(cfg.Ledger)

	var locks payment.Locker
	if infra.Cache != nil {
		locks = infra.Cache
	}

	coord := payment.NewCoordinator(store, backend, sender, locks, payment.Options{
		ConfirmTTL:    cfg.Payments.ConfirmTTL(),
		PollInterval:  cfg.Ledger.PollInterval(),
		PollTimeout:   cfg.Ledger.PollTimeout(),
		SweepInterval: cfg.Payments.SweepInterval(),
	})

	var admin identity.Identity
	if cfg.Signal.AdminNumber != "" {
		parsed, err := identity.Parse(cfg.Signal.AdminNumber, cfg.Signal.Region)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: bad admin number: %w", err)
		}
		admin = parsed
	}

	reg := router.NewRegistry()
	commands.Register(reg, commands.Deps{
		Sessions:    sessions,
		Coordinator: coord,
		Ledger:      backend,
		Cache:       infra.Cache,
		QR:          o.qr,
		Region:      cfg.Signal.Region,
		Admin:       admin,
		ConfirmTTL:  cfg.Payments.ConfirmTTL(),
		CASRetries:  cfg.Payments.CASRetries,
	})

	h := router.Dispatch(reg, sessions, router.Options{Admin: admin})
	h = bot.RateLimitMiddleware(bot.RateLimitOptions{
		Interval: cfg.RateLimit.RateInterval(),
		OnLimited: func(c *bot.Context) error {
			return c.Reply("Slow down a little.")
		},
	})(h)
	h = commands.WithNameCache(infra.Cache)(h)
	h = bot.LoggerMiddleware(h)
	h = bot.RecoverMiddleware(h)

	dispatcher := bot.NewDispatcher(transport, sender, h, bot.DispatchOptions{})

	logger.Info(context.Background(), "wire", "wire.complete",
		slog.Int("count", len(reg.Commands())),
		slog.Bool("cache", infra.Cache != nil),
		slog.Bool("qr", o.qr != nil),
	)

	return &App{
		Config:      cfg,
		Infra:       infra,
		Transport:   transport,
		Sender:      sender,
		Sessions:    sessions,
		Coordinator: coord,
		Registry:    reg,
		Dispatcher:  dispatcher,
	}, nil
}

// Run starts the payment coordinator and the dispatch loop, and blocks
// until ctx ends. Shutdown is graceful: intake stops first, in-flight
// handlers finish, then background payment work and the send queue drain.
func (a *App) Run(ctx context.Context) error {
	if err := a.Coordinator.Start(ctx); err != nil {
		return err
	}

	err := a.Dispatcher.Run(ctx)

	a.Coordinator.Close()
	a.Sender.Close()
	return err
}
