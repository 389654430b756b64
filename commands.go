package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danpilch/mrtbot/internal/api/stations"
	"github.com/danpilch/mrtbot/internal/catalog"
	"github.com/danpilch/mrtbot/internal/config"
	"github.com/danpilch/mrtbot/internal/conversation"
	"github.com/danpilch/mrtbot/internal/notify"
	"github.com/danpilch/mrtbot/internal/portal"
	"github.com/danpilch/mrtbot/internal/scheduler"
	"github.com/danpilch/mrtbot/internal/server"
	"github.com/danpilch/mrtbot/internal/telegram"
)

type ServeCmd struct{}

func (c *ServeCmd) Run(a *app) error {
	cfg, logger := a.cfg, a.logger

	// Get credentials from environment
	token := os.Getenv("TELEGRAM_TOKEN")
	if token == "" {
		return errors.New("TELEGRAM_TOKEN environment variable is required")
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig).Info("received signal, shutting down")
		cancel()
	}()

	cat, err := loadCatalog(ctx, cfg, logger)
	if err != nil {
		return err
	}

	removed, err := scheduler.PurgeDir(cfg.CaptchaDir, "", 0)
	if err != nil {
		return fmt.Errorf("purging captcha directory: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"dir":     cfg.CaptchaDir,
		"removed": removed,
	}).Info("captcha directory purged")

	browser, err := portal.LaunchRod(cfg.Portal)
	if err != nil {
		return err
	}
	session, err := portal.NewSession(browser, portal.Options{
		URL:         cfg.Portal.URL,
		Selectors:   cfg.Portal.Selectors,
		CaptchaDir:  cfg.CaptchaDir,
		SettleDelay: cfg.Portal.SettleDelay,
	}, logger)
	if err != nil {
		browser.Close()
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.WithField("error", err).Warn("failed to close browser")
		}
	}()

	var notifier *notify.Notifier
	pushoverToken := os.Getenv("PUSHOVER_TOKEN")
	pushoverUser := os.Getenv("PUSHOVER_USER")
	if pushoverToken != "" && pushoverUser != "" {
		notifier = notify.NewNotifier(pushoverToken, pushoverUser, cfg.AlertCooldown, logger)
	} else {
		logger.Warn("PUSHOVER_TOKEN or PUSHOVER_USER not set, operator alerts disabled")
	}

	bot, err := telegram.NewBot(token, logger)
	if err != nil {
		return err
	}
	if err := bot.RegisterCommands(cat.Stations()); err != nil {
		logger.WithField("error", err).Warn("failed to register bot commands")
	}

	machine := conversation.New(session, cat, bot, notifier, conversation.Options{
		MapImage:        cfg.MapImage,
		RefreshInterval: cfg.RefreshInterval,
		Location:        cfg.Location(),
	}, logger)

	janitor := scheduler.NewJanitor(cfg.CaptchaDir, session, machine, cfg.CleanupInterval, cfg.ChatIdleTTL, logger)
	janitor.Start(ctx)

	var ops *server.Server
	if cfg.MetricsAddr != "" {
		ops = server.New(cfg.MetricsAddr, session, machine, cat.Len(), logger)
		go func() {
			if err := ops.ListenAndServe(); err != nil {
				logger.WithField("error", err).Error("ops endpoint failed")
			}
		}()
	}

	logger.WithFields(logrus.Fields{
		"portal":   cfg.Portal.URL,
		"stations": cat.Len(),
		"timezone": cfg.Timezone,
	}).Info("starting mrtbot")

	// Blocks until the context is cancelled
	bot.Run(ctx, machine)

	janitor.Stop()
	if ops != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := ops.Shutdown(shutdownCtx); err != nil {
			logger.WithField("error", err).Warn("failed to stop ops endpoint")
		}
	}

	logger.Info("mrtbot stopped")
	return nil
}

type StationsCmd struct{}

func (c *StationsCmd) Run(a *app) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Stations.Timeout)
	defer cancel()

	cat, err := loadCatalog(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}

	for _, s := range cat.Stations() {
		fmt.Printf("/%-28s %-30s %v\n", s.Command(), s.Name, s.Codes)
	}
	return nil
}

func loadCatalog(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*catalog.Catalog, error) {
	client := stations.NewClient(cfg.Stations.URL, cfg.Stations.Referer, cfg.Stations.Timeout)
	resp, err := client.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching station list: %w", err)
	}

	cat := catalog.Build(resp.Results, catalog.Filter{
		SupportedLines:      cfg.Stations.SupportedLines,
		NonOperationalCodes: cfg.Stations.NonOperationalCodes,
	}, logger)

	logger.WithFields(logrus.Fields{
		"fetched":   len(resp.Results),
		"supported": cat.Len(),
	}).Info("station catalog built")

	return cat, nil
}
