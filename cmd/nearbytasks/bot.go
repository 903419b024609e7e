package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nearby-tasks/internal/bot"
	"nearby-tasks/internal/httpapi"
	"nearby-tasks/internal/location"
	"nearby-tasks/internal/metrics"
	"nearby-tasks/internal/repository"
	"nearby-tasks/internal/service"
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the Telegram bot with proximity alerts for every user",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		defer rt.close()
		return runBot(rt)
	},
}

func init() {
	rootCmd.AddCommand(botCmd)
}

func runBot(rt *runtime) error {
	if err := rt.cfg.RequireTelegram(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, closeDB, err := openDB(rt)
	if err != nil {
		return err
	}
	defer closeDB()

	backend, err := openTasks(rt, db)
	if err != nil {
		return err
	}

	var owners bot.OwnerResolver = bot.LocalOwners{}
	if backend.identity != nil {
		owners = bot.SharedOwner{Identity: backend.identity}
	}

	collector := metrics.NewCollector(metricsNamespace(rt.cfg.AppName))
	book := location.NewBook(rt.cfg.Proximity.PositionMaxAge)

	scheduler := service.NewSchedulerService(time.Local, rt.log)
	scheduler.Start()
	defer scheduler.Stop()

	sessions := service.NewSessions(rt.sessionConfig(), func(userID string) service.Locator {
		return book.Locator(userID)
	}, backend.store, scheduler, collector, rt.log)

	api, err := tgbotapi.NewBotAPI(rt.cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	telegramBot := bot.New(api, bot.Deps{
		Users:         repository.NewUserRepository(db),
		Tasks:         service.NewTaskService(backend.store),
		Owners:        owners,
		Book:          book,
		Sessions:      sessions,
		Metrics:       collector,
		Logger:        rt.log,
		RadiusMeters:  rt.cfg.Proximity.RadiusMeters,
		AllowedChatID: rt.cfg.Telegram.ChatID,
	})

	if rt.cfg.HTTP.Addr != "" {
		server := httpapi.NewServer(book, collector, rt.cfg.HTTP.Token, rt.log)
		go func() {
			if err := server.Run(ctx, rt.cfg.HTTP.Addr); err != nil {
				rt.log.Error("http server stopped", zap.Error(err))
			}
		}()
	}

	rt.log.Info("nearby tasks bot started",
		zap.Float64("radius_m", rt.cfg.Proximity.RadiusMeters),
		zap.Duration("foreground_interval", rt.cfg.Proximity.ForegroundInterval),
		zap.Duration("background_interval", rt.cfg.Proximity.BackgroundInterval),
	)
	if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("bot stopped with error: %w", err)
	}
	rt.log.Info("shutdown complete")
	return nil
}
