package cli

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/set-night/skylog"
	"github.com/set-night/skylog/internal/anomaly"
	"github.com/set-night/skylog/internal/config"
	"github.com/set-night/skylog/internal/handler"
	"github.com/set-night/skylog/internal/httpapi"
	"github.com/set-night/skylog/internal/middleware"
	"github.com/set-night/skylog/internal/repository"
	"github.com/set-night/skylog/internal/service"
	"github.com/set-night/skylog/internal/telegram"
	"github.com/set-night/skylog/internal/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and, when BOT_TOKEN is set, the Telegram bot",
	Long: `Run the HTTP API and, when BOT_TOKEN is set, the Telegram bot.

Configuration comes from the environment. DATABASE_URL enables the
PostgreSQL archive of uploads and conversation turns.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Bool("no-telegram", false, "Do not start the Telegram bot even if BOT_TOKEN is set")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	archive, closeArchive, err := openArchive(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeArchive()

	model := newModel(cfg)
	store := service.NewSessionStore(cfg.SessionIdleTimeout)
	detector := anomaly.NewDetector(cfg.Anomaly)
	reference := service.NewLogReference(cfg.LogReferenceURL)

	flights := service.NewFlightService(store, detector, archive, cfg.MaxUploadBytes(), cfg.DecodeTimeout)
	agent := service.NewAgent(store, model, tools.NewDispatcher(detector.Detect, reference), archive, service.AgentConfig{
		MaxToolRounds: cfg.MaxToolRounds,
		ModelTimeout:  cfg.ModelTimeout,
		Retries:       cfg.ModelRetries,
		RetryBackoff:  cfg.ModelRetryBackoff,
		Pricing:       service.NewPricing(cfg.ModelPromptPrice, cfg.ModelCompletionPrice),
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		store.Run(ctx, cfg.SessionSweepInterval)
		return nil
	})
	g.Go(func() error {
		reference.Run(ctx, config.ReferenceCacheDuration)
		return nil
	})

	server := httpapi.NewServer(flights, agent, store, httpapi.Options{
		CORSOrigins:    cfg.CORSOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Provider:       cfg.ModelProvider,
		Model:          model.Name(),
	})
	g.Go(func() error {
		return server.Run(ctx, cfg.HTTPAddr)
	})

	noTelegram, _ := cmd.Flags().GetBool("no-telegram")
	if cfg.BotToken != "" && !noTelegram {
		b, err := newBot(ctx, cfg, flights, agent)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			b.Start(ctx)
			slog.Info("bot stopped gracefully")
			return nil
		})
	}

	slog.Info("skylog started",
		"http_addr", cfg.HTTPAddr,
		"provider", cfg.ModelProvider,
		"model", model.Name(),
		"archive", cfg.DatabaseURL != "",
	)
	return g.Wait()
}

// openArchive connects to PostgreSQL and applies migrations when
// DATABASE_URL is set. Without it, the returned archive is nil and nothing is
// recorded.
func openArchive(ctx context.Context, cfg *config.Config) (service.Archive, func(), error) {
	if cfg.DatabaseURL == "" {
		return nil, func() {}, nil
	}

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	migrationsFS, err := fs.Sub(skylog.MigrationsFS, "migrations")
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("load embedded migrations: %w", err)
	}
	if err := repository.RunMigrations(cfg.DatabaseURL, migrationsFS); err != nil {
		pool.Close()
		return nil, nil, err
	}

	return repository.NewArchive(pool), pool.Close, nil
}

func newModel(cfg *config.Config) service.ChatModel {
	if cfg.ModelProvider == config.ProviderAnthropic {
		return service.NewAnthropicModel(cfg.ModelAPIKey(), cfg.BaseURL(), cfg.ModelName())
	}
	return service.NewOpenRouterModel(cfg.ModelAPIKey(), cfg.BaseURL(), cfg.ModelName())
}

func newBot(ctx context.Context, cfg *config.Config, flights *service.FlightService, agent *service.Agent) (*bot.Bot, error) {
	// Set once the bot exists; the middleware and default handler close over them.
	var (
		h        *handler.Handler
		tgLogger *telegram.TelegramLogger
	)
	chats := middleware.NewChatSessions()

	opts := []bot.Option{
		bot.WithMiddlewares(
			middleware.Recover(middleware.ErrorReporterFunc(func(err error, where string) {
				tgLogger.LogError(err, where)
			})),
			middleware.Logging(),
			middleware.RateLimit(middleware.NewChatLimiter(cfg.RateLimitPerMinute)),
			middleware.SessionLoader(chats),
		),
		bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, update *models.Update) {
			if h != nil {
				h.Default(ctx, b, update)
			}
		}),
	}
	b, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	me, err := b.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("get bot info: %w", err)
	}
	slog.Info("bot info retrieved", "id", me.ID, "username", me.Username)

	if cfg.DropPendingUpdates {
		if _, err := b.DeleteWebhook(ctx, &bot.DeleteWebhookParams{DropPendingUpdates: true}); err != nil {
			return nil, fmt.Errorf("drop pending updates: %w", err)
		}
	}

	tgLogger = telegram.NewTelegramLogger(b, cfg)
	h = handler.New(handler.Deps{
		Bot:      b,
		Cfg:      cfg,
		Flights:  flights,
		Agent:    agent,
		Chats:    chats,
		TgLogger: tgLogger,
	})
	h.Register()
	return b, nil
}
