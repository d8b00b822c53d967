package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"game_night_bot/internal/app"
	"game_night_bot/internal/infra/config"
	idb "game_night_bot/internal/infra/database"
	"game_night_bot/internal/infra/logger"
	"game_night_bot/internal/infra/scheduler"
	"game_night_bot/internal/infra/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("FATAL: Could not load application configuration: %v", err)
	}

	logger.Init(cfg)
	log := logger.Get().WithField("component", "main")
	log.WithFields(logrus.Fields{
		"log_level":   cfg.LogLevel,
		"environment": cfg.Environment,
		"admins":      len(cfg.AdminUserIDs),
	}).Info("Configuration loaded")

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.WithError(err).Fatalf("FATAL: Invalid timezone %q", cfg.Timezone)
	}

	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("FATAL: Could not connect to database")
	}
	defer db.Close()
	log.Info("Database connection established")

	votingRepo := idb.NewPostgresVotingRepository(db)
	voterRepo := idb.NewPostgresVoterRepository(db)

	pref := telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			entry := logger.Get().WithField("component", "telebot").WithError(err)
			if c != nil && c.Sender() != nil {
				entry = entry.WithFields(logrus.Fields{"sender_id": c.Sender().ID, "text": c.Text()})
			}
			entry.Error("Unhandled bot error")
		},
	}
	bot, err := telebot.NewBot(pref)
	if err != nil {
		log.WithError(err).Fatal("FATAL: Could not create Telegram bot")
	}

	gateway := telegram.NewTelebotAdapter(bot, cfg.AnnounceChannelID)
	dispatcher := app.NewDispatcher(gateway, logger.Get().WithField("component", "dispatch"), 8, 15*time.Second)

	nominationService := app.NewNominationService(votingRepo, cfg.NominationQuota, cfg.MaxTotalGames)
	runoffService := app.NewRunoffService(votingRepo, voterRepo, cfg.RunoffDuration)
	adminService := app.NewAdminService(voterRepo, cfg.AdminUserIDs)
	cycleService := app.NewCycleService(
		votingRepo,
		voterRepo,
		nominationService,
		runoffService,
		dispatcher,
		app.CycleConfig{
			MaxTotalGames:   cfg.MaxTotalGames,
			NominationQuota: cfg.NominationQuota,
			CarryOverCount:  cfg.CarryOverCount,
			Epsilon:         cfg.Epsilon,
			RunoffDuration:  cfg.RunoffDuration,
			LockTimeout:     cfg.LockTimeout,
		},
		logger.Get().WithField("component", "cycle"),
	)

	cycleScheduler := scheduler.NewCycleScheduler(
		cycleService,
		logger.Get().WithField("component", "scheduler"),
		location,
		cfg.CronSpecOpen,
		cfg.CronSpecRemind,
		cfg.CronSpecClose,
	)
	if err := cycleScheduler.Start(); err != nil {
		log.WithError(err).Fatal("FATAL: Could not start cycle scheduler")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telegram.RegisterBotCommands(ctx, bot, adminService, voterRepo, logger.Get().WithField("component", "bot_commands"))
	telegram.RegisterVoterHandlers(ctx, bot, cycleService, logger.Get().WithField("component", "voter_handlers"))
	telegram.RegisterAdminHandlers(ctx, bot, cycleService, adminService, logger.Get().WithField("component", "admin_handlers"))
	log.Info("Command handlers registered")

	go bot.Start()
	log.Info("Bot and scheduler are running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")
	cancel()
	bot.Stop()
	cycleScheduler.Stop()
	dispatcher.Wait()
	log.Info("Shut down gracefully")
}
