package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lottery/internal/config"
	"lottery/internal/keeper"
	"lottery/internal/logger"
	"lottery/internal/storage"

	"github.com/urfave/cli"
	"go.uber.org/zap"
)

func main() {
	app := cli.NewApp()
	app.Name = "lottery"
	app.Usage = "periodic lottery draw with an asynchronous randomness provider"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "path to a TOML configuration file",
			EnvVar: "LOTTERY_CONFIG",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "run the upkeep keeper and the metrics endpoint until interrupted",
			Action: runAction,
		},
		{
			Name:  "enter",
			Usage: "enter the current draw",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "address", Usage: "entrant address"},
				cli.StringFlag{Name: "stake", Usage: "stake as a decimal amount, defaults to the entrance fee"},
			},
			Action: enterAction,
		},
		{
			Name:   "upkeep",
			Usage:  "show whether a draw may start",
			Action: upkeepAction,
		},
		{
			Name:   "perform",
			Usage:  "start a draw",
			Action: performAction,
		},
		{
			Name:  "fulfill",
			Usage: "deliver randomness for an outstanding request",
			Flags: []cli.Flag{
				cli.Uint64Flag{Name: "request", Usage: "request id, defaults to the outstanding one"},
				cli.StringFlag{Name: "value", Usage: "explicit random value instead of the coordinator's"},
			},
			Action: fulfillAction,
		},
		{
			Name:   "status",
			Usage:  "print the lottery state",
			Action: statusAction,
		},
		{
			Name:  "balance",
			Usage: "print the paid-out balance of an address",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "address", Usage: "winner address"},
			},
			Action: balanceAction,
		},
		{
			Name:  "draws",
			Usage: "list recent draws",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "limit", Value: 10, Usage: "number of draws"},
				cli.StringFlag{Name: "status", Usage: "only draws in this status, e.g. payout_failed"},
			},
			Action: drawsAction,
		},
		{
			Name:   "payouts",
			Usage:  "resend escrowed payouts that were never sent",
			Action: payoutsAction,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "lottery: %v\n", err)
		os.Exit(1)
	}
}

func runAction(c *cli.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer app.Close()

	errCh := make(chan error, 1)

	var server *http.Server
	if app.config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", app.metrics.Handler())
		server = &http.Server{Addr: app.config.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		go func() {
			logger.Info("metrics: listening", zap.String("addr", app.config.MetricsAddr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	options := keeper.Options{
		PollInterval: app.config.Keeper.PollInterval.Duration,
		Recover:      app.config.Keeper.Recover,
		Observer:     app.metrics,
	}
	if app.config.Keeper.AutoFulfill {
		options.Fulfiller = app.coordinator
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		keeper.New(app.lottery, options).Run(ctx)
	}()

	select {
	case err = <-errCh:
		logger.Error("stopping on error", zap.Error(err))
	case <-waitForInterrupt():
		logger.Info("interrupt received, stopping")
	}

	cancel()
	<-done

	if server != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = server.Shutdown(shutdownCtx)
	}

	return err
}

func waitForInterrupt() <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	return sigCh
}

func enterAction(c *cli.Context) error {
	ctx := context.Background()
	app, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer app.Close()

	address := c.String("address")
	stake := app.lottery.EntranceFee()
	if s := c.String("stake"); s != "" {
		if stake, err = config.ParseAmount(s, app.config.AmountDecimals); err != nil {
			return err
		}
	}

	if err := app.lottery.Enter(ctx, address, stake); err != nil {
		return err
	}

	fmt.Printf("entered %s with %s\n", address, app.format(stake))
	return nil
}

func upkeepAction(c *cli.Context) error {
	ctx := context.Background()
	app, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer app.Close()

	check, err := app.lottery.CheckUpkeep(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("needed:       %t\n", check.Needed)
	fmt.Printf("elapsed:      %s of %s\n", check.Elapsed.Truncate(time.Second), app.lottery.Interval())
	fmt.Printf("state:        %s\n", check.State)
	fmt.Printf("entrants:     %d\n", check.Entrants)
	fmt.Printf("pool:         %s\n", app.format(check.PoolBalance))
	for _, reason := range check.Failed() {
		fmt.Printf("failing:      %s\n", reason)
	}
	return nil
}

func performAction(c *cli.Context) error {
	ctx := context.Background()
	app, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer app.Close()

	requestID, err := app.lottery.PerformUpkeep(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("draw requested, request id %d\n", requestID)
	return nil
}

func fulfillAction(c *cli.Context) error {
	ctx := context.Background()
	app, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer app.Close()

	requestID := c.Uint64("request")
	if requestID == 0 {
		id, ok, err := app.lottery.OutstandingRequest(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("no outstanding request")
		}
		requestID = id
	}

	if v := c.String("value"); v != "" {
		if strings.EqualFold(app.config.Payout.Mode, config.PayoutTon) {
			return errors.New("explicit random values are only accepted with ledger payouts")
		}
		value, ok := new(big.Int).SetString(v, 0)
		if !ok {
			return fmt.Errorf("invalid random value %q", v)
		}
		err = app.lottery.Fulfill(ctx, requestID, value)
	} else {
		err = app.coordinator.FulfillRandomWords(ctx, requestID, app.lottery)
	}
	if err != nil {
		return err
	}

	winner, err := app.lottery.RecentWinner(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("request %d fulfilled, winner %s\n", requestID, winner)
	return nil
}

func statusAction(c *cli.Context) error {
	ctx := context.Background()
	app, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer app.Close()

	snapshot, err := app.lottery.Snapshot(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("lottery:      %s\n", snapshot.Name)
	fmt.Printf("state:        %s\n", snapshot.State)
	fmt.Printf("entrance fee: %s\n", app.format(snapshot.EntranceFee))
	fmt.Printf("interval:     %s\n", snapshot.Interval)
	fmt.Printf("pool:         %s\n", app.format(snapshot.PoolBalance))
	fmt.Printf("entrants:     %d\n", snapshot.Entrants)
	fmt.Printf("last draw:    %s\n", snapshot.LastDrawAt.Format(time.RFC3339))
	fmt.Printf("last winner:  %s\n", snapshot.RecentWinner)
	if snapshot.HasOutstandingRequest {
		fmt.Printf("request id:   %d\n", snapshot.OutstandingRequestID)
	}
	return nil
}

func balanceAction(c *cli.Context) error {
	ctx := context.Background()
	app, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer app.Close()

	balance, err := app.storage.GetBalance(c.String("address"))
	if err != nil {
		return err
	}

	fmt.Println(app.format(balance))
	return nil
}

func drawsAction(c *cli.Context) error {
	ctx := context.Background()
	app, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer app.Close()

	var draws []*storage.Draw
	if status := c.String("status"); status != "" {
		draws, err = app.lottery.DrawsByStatus(ctx, status)
	} else {
		draws, err = app.lottery.Draws(ctx, c.Int("limit"))
	}
	if err != nil {
		return err
	}

	for _, draw := range draws {
		fmt.Printf("%d\t%s\t%s\tentrants=%d\tpool=%s\twinner=%s",
			draw.RequestID,
			draw.RequestedAt.Format(time.RFC3339),
			draw.Status,
			draw.Entrants,
			app.format(draw.Pool),
			draw.Winner,
		)
		if draw.PayoutHash != "" {
			fmt.Printf("\thash=%s", draw.PayoutHash)
		}
		if draw.PayoutError != "" {
			fmt.Printf("\terror=%q", draw.PayoutError)
		}
		fmt.Println()
	}
	return nil
}

func payoutsAction(c *cli.Context) error {
	ctx := context.Background()
	app, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer app.Close()

	sent, err := app.lottery.RetryPayouts(ctx)
	fmt.Printf("payouts sent: %d\n", sent)
	return err
}

func (a *application) format(units uint64) string {
	return config.FormatAmount(units, a.config.AmountDecimals)
}
