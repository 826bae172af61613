package cmd

import (
	"context"
	"fmt"

	"affiliate-commission-system/config"
	"affiliate-commission-system/database"
	"affiliate-commission-system/logging"
	"affiliate-commission-system/services"
	"affiliate-commission-system/utils"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app holds every service built from one configuration.
type app struct {
	cfg         *config.Config
	db          *gorm.DB
	affiliates  *services.AffiliateService
	downline    *services.DownlineService
	calculator  *services.CommissionCalculator
	payouts     *services.PayoutProcessor
	withdrawals *services.WithdrawalService
	analytics   *services.CashflowAnalytics
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}

	money, err := utils.NewMoney(cfg.Currency)
	if err != nil {
		return nil, err
	}

	var gateway services.PayoutGateway
	if cfg.GatewayURL != "" {
		gateway = services.NewHTTPPayoutGateway(cfg.GatewayURL, cfg.GatewayToken, cfg.GatewayTimeout)
	} else {
		logging.Logger.Warn("[BOOT] gateway.url not set, payouts and withdrawals are disabled")
	}

	launch := services.LaunchWindow{Start: cfg.LaunchStart, Days: cfg.LaunchDays}
	payouts := services.NewPayoutProcessor(db, gateway, money, services.PayoutConfig{
		MinPayout:      money.ToMinor(cfg.MinPayout),
		MaturationDays: cfg.MaturationDays,
		Concurrency:    cfg.PayoutConcurrency,
		CallTimeout:    cfg.GatewayTimeout,
		PayoutHourUTC:  cfg.PayoutHourUTC,
		Launch:         launch,
	})

	if cfg.R2Bucket != "" {
		archive, err := utils.NewR2Archive(ctx, cfg.R2AccountID, cfg.R2AccessKey, cfg.R2SecretKey, cfg.R2Bucket, cfg.R2ReportPrefix)
		if err != nil {
			return nil, fmt.Errorf("init report archive: %w", err)
		}
		payouts.Archive = archive
	}
	if cfg.TelegramBotToken != "" {
		notifier, err := services.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			// Alerts are optional; payouts still run without them.
			logging.Logger.Warn("[BOOT] telegram notifier disabled", zap.Error(err))
		} else {
			payouts.Notifier = notifier
		}
	}

	return &app{
		cfg:         cfg,
		db:          db,
		affiliates:  services.NewAffiliateService(db, money, cfg.JoinBaseURL),
		downline:    services.NewDownlineService(db),
		calculator:  services.NewCommissionCalculator(db, money, cfg.TierBases),
		payouts:     payouts,
		withdrawals: services.NewWithdrawalService(db, gateway, money, cfg.MaturationDays, cfg.GatewayTimeout),
		analytics:   services.NewCashflowAnalytics(db, money, cfg.RetentionRatio, launch),
	}, nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
