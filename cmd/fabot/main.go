package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jensholdgaard/discord-fa-bot/internal/api"
	"github.com/jensholdgaard/discord-fa-bot/internal/bot"
	"github.com/jensholdgaard/discord-fa-bot/internal/bot/commands"
	"github.com/jensholdgaard/discord-fa-bot/internal/clock"
	"github.com/jensholdgaard/discord-fa-bot/internal/config"
	"github.com/jensholdgaard/discord-fa-bot/internal/freeagency"
	"github.com/jensholdgaard/discord-fa-bot/internal/health"
	"github.com/jensholdgaard/discord-fa-bot/internal/leader"
	"github.com/jensholdgaard/discord-fa-bot/internal/ledger"
	"github.com/jensholdgaard/discord-fa-bot/internal/notify"
	"github.com/jensholdgaard/discord-fa-bot/internal/resolve"
	"github.com/jensholdgaard/discord-fa-bot/internal/scheduler"
	"github.com/jensholdgaard/discord-fa-bot/internal/settlement"
	"github.com/jensholdgaard/discord-fa-bot/internal/store"
	"github.com/jensholdgaard/discord-fa-bot/internal/telemetry"
	"github.com/jensholdgaard/discord-fa-bot/internal/window"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/discord-fa-bot/internal/store/postgres"
	_ "github.com/jensholdgaard/discord-fa-bot/internal/store/sqlite"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load configuration.
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup telemetry.
	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}
	league := cfg.League

	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger.InfoContext(ctx, "connected to database", slog.String("driver", cfg.Database.Driver))

	if err := seed(ctx, repos, league); err != nil {
		return err
	}

	schedule, err := window.LoadSchedule(league.TimeZone, league.LockGrace)
	if err != nil {
		return fmt.Errorf("loading schedule: %w", err)
	}

	bids, err := ledger.New(repos.Bids, repos.Budgets, repos.Events, league.DefaultBudget,
		logger, tp.TracerProvider, tp.MeterProvider)
	if err != nil {
		return fmt.Errorf("creating ledger: %w", err)
	}
	resolver := resolve.New(repos.Players, repos.Aliases, logger, tp.TracerProvider)

	discordBot, err := bot.New(cfg.Discord, logger, tp.TracerProvider)
	if err != nil {
		return fmt.Errorf("creating bot: %w", err)
	}
	outbid := notify.NewOutbid(discordBot, logger, tp.TracerProvider)
	broadcaster := notify.NewBroadcaster(discordBot, bids, cfg.Discord.ChannelID, clk, schedule.Location(),
		logger, tp.TracerProvider)

	// Rosters changed, so the standings' coin column is stale.
	refresher := settlement.CapRefresherFunc(func(ctx context.Context, _ *settlement.Report) error {
		return broadcaster.Publish(ctx, schedule.At(clk.Now()).ID)
	})
	engine, err := settlement.New(repos, bids, resolver, schedule, settlement.NewGuard(league.GuardTTL), refresher,
		settlement.Rules{
			Teams:               league.Teams,
			DefaultBudget:       league.DefaultBudget,
			RosterLimit:         league.RosterLimit,
			ZeroCoinMaxOverall:  league.ZeroCoinMaxOverall,
			OverCapTotalOverall: league.OverCapTotalOverall,
			OverCapMaxOverall:   league.OverCapMaxOverall,
			Retries:             league.SettleRetries,
		},
		logger, tp.TracerProvider, tp.MeterProvider)
	if err != nil {
		return fmt.Errorf("creating settlement engine: %w", err)
	}

	svc, err := freeagency.New(cfg.Discord.ChannelID, league.Teams, repos.Assignments, resolver, bids, outbid,
		schedule, clk, logger, tp.TracerProvider, tp.MeterProvider)
	if err != nil {
		return fmt.Errorf("creating free agency service: %w", err)
	}
	handlers := commands.NewHandlers(engine, broadcaster, schedule, clk, cfg.Discord.AdminRoleID,
		logger, tp.TracerProvider)

	// Setup health checks.
	healthHandler := health.NewHandler(clk,
		health.Checker{
			Name:  "database",
			Check: repos.Ping,
		},
	)

	// The HTTP server runs on all replicas.
	apiServer := api.New(engine, schedule, repos.Windows, clk, cfg.Server.AdminToken, healthHandler,
		logger, tp.TracerProvider)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting http server",
			slog.Int("port", cfg.Server.Port),
			slog.Bool("admin_api", cfg.Server.AdminToken != ""),
		)
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
		}
	}()

	// Every replica reads bids; the scheduler runs on the leader only.
	if err := discordBot.Start(ctx, svc, handlers); err != nil {
		return fmt.Errorf("starting bot: %w", err)
	}
	healthHandler.SetReady(true)
	logger.InfoContext(ctx, "fabot is running",
		slog.String("version", version),
		slog.String("window", schedule.At(clk.Now()).ID),
	)

	sched := scheduler.New(schedule, repos.Windows, engine, broadcaster, clk, league.StatusInterval,
		logger, tp.TracerProvider)
	if cfg.LeaderElection.Enabled {
		logger.InfoContext(ctx, "leader election enabled, waiting for leadership...")
	}
	elector := leader.NewElector(cfg.LeaderElection, logger)
	leaderErr := elector.RunExclusive(ctx, func(ctx context.Context) error {
		healthHandler.SetLeader(true)
		defer healthHandler.SetLeader(false)
		return sched.Run(ctx)
	})
	if leaderErr != nil {
		logger.ErrorContext(ctx, "scheduler stopped", slog.Any("error", leaderErr))
	}

	// Wait for shutdown signal.
	<-ctx.Done()
	logger.Info("shutting down...")
	healthHandler.SetReady(false)

	if stopErr := discordBot.Stop(); stopErr != nil {
		logger.Error("bot shutdown error", slog.Any("error", stopErr))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}

// seed writes the alias table and configured team assignments.
func seed(ctx context.Context, repos *store.Repositories, league config.LeagueConfig) error {
	aliases := resolve.DefaultAliases()
	if league.AliasFile != "" {
		extra, err := resolve.LoadAliasFile(league.AliasFile)
		if err != nil {
			return fmt.Errorf("loading aliases: %w", err)
		}
		aliases = append(aliases, extra...)
	}
	if err := repos.Aliases.Upsert(ctx, aliases...); err != nil {
		return fmt.Errorf("seeding aliases: %w", err)
	}

	for user, team := range league.Assignments {
		if err := repos.Assignments.Set(ctx, user, team); err != nil {
			return fmt.Errorf("assigning %s to %s: %w", user, team, err)
		}
	}
	return nil
}
