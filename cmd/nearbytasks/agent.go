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
	"nearby-tasks/internal/notify"
	"nearby-tasks/internal/service"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run proximity checks for a single user fed by the HTTP position endpoint",
	Long: `agent runs one proximity session for the signed-in Supabase user (or
AGENT_USER_ID on the local store). A device posts its position to
/v1/users/{userID}/position; alerts go to TELEGRAM_CHAT_ID when set and to the
log otherwise.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		defer rt.close()
		return runAgent(rt)
	},
}

func init() {
	rootCmd.AddCommand(agentCmd)
}

func runAgent(rt *runtime) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeFn, err := openBackend(rt)
	if err != nil {
		return err
	}
	defer closeFn()

	identity := backend.userIdentity(rt.cfg.Agent.UserID)
	userID, err := identity.CurrentUserID(ctx)
	if err != nil {
		return fmt.Errorf("agent user: %w", err)
	}

	notifier, err := agentNotifier(rt)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(metricsNamespace(rt.cfg.AppName))
	book := location.NewBook(rt.cfg.Proximity.PositionMaxAge)

	scheduler := service.NewSchedulerService(time.Local, rt.log)
	scheduler.Start()
	defer scheduler.Stop()

	sc := rt.sessionConfig()
	ctrl := service.NewController(service.ControllerConfig{
		Name:               "proximity:agent",
		RadiusMeters:       sc.RadiusMeters,
		ForegroundInterval: sc.ForegroundInterval,
		BackgroundInterval: sc.BackgroundInterval,
		TickTimeout:        sc.TickTimeout,
		RenotifyAfter:      sc.RenotifyAfter,
	}, service.ControllerDeps{
		Identity:  identity,
		Locator:   book.Locator(userID),
		Notifier:  notifier,
		Tasks:     backend.store,
		Scheduler: scheduler,
		Metrics:   collector,
		Logger:    rt.log.With(zap.String("user_id", userID)),
	})
	defer ctrl.Stop()

	book.Subscribe(func(id string, fix location.Fix) {
		if id != userID || fix.Revoked {
			return
		}
		if err := ctrl.SetForeground(fix.Streaming()); err != nil {
			rt.log.Warn("switch interval", zap.Error(err))
		}
	})

	server := httpapi.NewServer(book, collector, rt.cfg.HTTP.Token, rt.log)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(ctx, rt.cfg.HTTP.Addr)
	}()

	rt.log.Info("agent started",
		zap.String("user_id", userID),
		zap.String("http_addr", rt.cfg.HTTP.Addr),
	)

	// Permissions show up with the first posted fix, so Start is retried
	// until it succeeds or registration is lost again.
	retry := time.NewTicker(rt.cfg.Proximity.ForegroundInterval)
	defer retry.Stop()
	tryStart(ctx, ctrl, rt.log)
	for {
		select {
		case <-ctx.Done():
			rt.log.Info("shutdown complete")
			return nil
		case err := <-errCh:
			return err
		case <-retry.C:
			if ctrl.State() == service.StateUnregistered {
				tryStart(ctx, ctrl, rt.log)
			}
		}
	}
}

func tryStart(ctx context.Context, ctrl *service.Controller, log *zap.Logger) {
	_, err := ctrl.Start(ctx)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrPermissionDenied):
		log.Debug("waiting for location permission", zap.Error(err))
	case errors.Is(err, service.ErrStartInProgress), errors.Is(err, service.ErrStartCanceled):
		log.Debug("proximity start skipped", zap.Error(err))
	default:
		log.Warn("start proximity checks", zap.Error(err))
	}
}

func agentNotifier(rt *runtime) (service.Notifier, error) {
	tg := rt.cfg.Telegram
	if tg.Token == "" || tg.ChatID == 0 {
		rt.log.Info("alerts go to the log")
		return notify.NewLog(rt.log), nil
	}
	api, err := tgbotapi.NewBotAPI(tg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	rt.log.Info("alerts go to telegram", zap.Int64("chat_id", tg.ChatID))
	return bot.NewChatNotifier(api, tg.ChatID), nil
}
