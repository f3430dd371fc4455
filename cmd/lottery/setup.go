package main

import (
	"context"
	"fmt"
	"strings"

	"lottery/internal/blockchain"
	"lottery/internal/config"
	"lottery/internal/events"
	"lottery/internal/logger"
	"lottery/internal/lottery"
	"lottery/internal/metrics"
	"lottery/internal/storage"
	"lottery/internal/vrf"

	"github.com/benbjohnson/clock"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

type application struct {
	config      *config.Config
	storage     *storage.SqliteStorage
	coordinator *vrf.MockCoordinator
	metrics     *metrics.Metrics
	webhook     *events.WebhookSink
	lottery     *lottery.Lottery
}

func setup(ctx context.Context, c *cli.Context) (*application, error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}

	if err := logger.Initialize(cfg.LogConfiguration()); err != nil {
		return nil, fmt.Errorf("logger initialization: %w", err)
	}

	logger.Debug("application initialization: storage...", zap.String("path", cfg.DatabasePath))
	s, err := storage.NewSqliteStorage(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	app, err := wire(ctx, cfg, s, clock.New())
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	logger.Debug("application initialization... done")
	return app, nil
}

func wire(ctx context.Context, cfg *config.Config, s *storage.SqliteStorage, clk clock.Clock) (*application, error) {
	logger.Debug("application initialization: randomness coordinator...")
	coordinator := vrf.NewMockCoordinator(s, clk, cfg.VRF.BaseFee, cfg.VRF.GasPriceLink)
	subscriptionID, err := coordinator.EnsureSubscription(ctx, cfg.VRF.SubscriptionID, cfg.VRF.Fund, cfg.Lottery.Name)
	if err != nil {
		return nil, err
	}

	transferer, err := newTransferer(ctx, cfg)
	if err != nil {
		return nil, err
	}

	fee, err := cfg.EntranceFee()
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	sinks := events.Multi{events.LogSink{}, m}
	var webhook *events.WebhookSink
	if cfg.Events.WebhookURL != "" {
		webhook = events.NewWebhookSink(cfg.Events.WebhookURL, cfg.Events.WebhookTimeout.Duration, events.DefaultWebhookBuffer)
		sinks = append(sinks, webhook)
	}

	l, err := lottery.New(lottery.Config{
		Name:             cfg.Lottery.Name,
		EntranceFee:      fee,
		Interval:         cfg.Lottery.Interval.Duration,
		KeyHash:          cfg.VRF.KeyHash,
		SubscriptionID:   subscriptionID,
		CallbackGasLimit: cfg.VRF.CallbackGasLimit,
		DrawTimeout:      cfg.Lottery.DrawTimeout.Duration,
	}, s, coordinator, transferer, clk, sinks)
	if err != nil {
		if webhook != nil {
			webhook.Close()
		}
		return nil, err
	}

	return &application{
		config:      cfg,
		storage:     s,
		coordinator: coordinator,
		metrics:     m,
		webhook:     webhook,
		lottery:     l,
	}, nil
}

func newTransferer(ctx context.Context, cfg *config.Config) (blockchain.Transferer, error) {
	if !strings.EqualFold(cfg.Payout.Mode, config.PayoutTon) {
		logger.Debug("application initialization: ledger payouts")
		return blockchain.NewLedgerTransferer(), nil
	}

	logger.Debug("application initialization: ton wallet payouts...")
	transferer, err := blockchain.NewWalletTransferer(cfg.Wallet.Mnemonic, cfg.Wallet.Version)
	if err != nil {
		return nil, err
	}

	minBalance, err := cfg.MinWalletBalance()
	if err != nil {
		return nil, err
	}

	if minBalance > 0 {
		client, err := blockchain.NewTonapiClient(cfg.TonapiToken)
		if err != nil {
			return nil, err
		}

		balance, err := blockchain.VerifyPayoutWallet(ctx, client, transferer.Address().ToRaw(), minBalance)
		if err != nil {
			return nil, err
		}
		logger.Info("payout wallet verified", zap.String("balance", config.FormatAmount(uint64(balance), cfg.AmountDecimals)))
	}

	return transferer, nil
}

func (a *application) Close() {
	if a.webhook != nil {
		a.webhook.Close()
	}
	logger.Sync()
	if err := a.storage.Close(); err != nil {
		logger.Error("storage close failed", zap.Error(err))
	}
}
