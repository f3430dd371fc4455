package keeper

import (
	"context"
	"errors"
	"math/big"
	"time"

	"lottery/internal/logger"
	"lottery/internal/lottery"
	"lottery/internal/vrf"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	StepObserve = "observe"
	StepRecover = "recover"
	StepCheck   = "check"
	StepPerform = "perform"
	StepFulfill = "fulfill"
	StepPayout  = "payout"
)

type Lottery interface {
	Name() string
	Snapshot(ctx context.Context) (*lottery.Snapshot, error)
	CheckUpkeep(ctx context.Context) (lottery.UpkeepCheck, error)
	PerformUpkeep(ctx context.Context) (uint64, error)
	CancelStaleDraw(ctx context.Context) (uint64, error)
	FulfillRandomWords(ctx context.Context, requestID uint64, words []*big.Int) error
	RetryPayouts(ctx context.Context) (int, error)
}

// Fulfiller delivers randomness for a pending request. Only the development
// coordinator can do this on demand.
type Fulfiller interface {
	FulfillRandomWords(ctx context.Context, requestID uint64, consumer vrf.Consumer) error
}

type Observer interface {
	Observe(lottery string, state uint8, entrants int64, pool uint64)
	KeeperError(lottery string, step string)
}

type noopObserver struct{}

func (noopObserver) Observe(string, uint8, int64, uint64) {}
func (noopObserver) KeeperError(string, string)           {}

type Options struct {
	// PollInterval is the delay between ticks.
	PollInterval time.Duration
	// Fulfiller, when set, resolves the outstanding request right after it is made.
	Fulfiller Fulfiller
	// Recover calls CancelStaleDraw on every tick while a draw is in flight.
	Recover  bool
	Observer Observer
	Clock    clock.Clock
}

// Keeper drives a lottery through its draw cycle on a timer.
type Keeper struct {
	lottery  Lottery
	interval time.Duration
	fulfill  Fulfiller
	recover  bool
	observer Observer
	clock    clock.Clock
}

func New(l Lottery, options Options) *Keeper {
	k := &Keeper{
		lottery:  l,
		interval: options.PollInterval,
		fulfill:  options.Fulfiller,
		recover:  options.Recover,
		observer: options.Observer,
		clock:    options.Clock,
	}

	if k.interval <= 0 {
		k.interval = 10 * time.Second
	}
	if k.observer == nil {
		k.observer = noopObserver{}
	}
	if k.clock == nil {
		k.clock = clock.New()
	}

	return k
}

// Run ticks until ctx is done. Tick errors are logged, never fatal.
func (k *Keeper) Run(ctx context.Context) {
	logger.Info("keeper: started", zap.String("lottery", k.lottery.Name()), zap.Duration("poll interval", k.interval))

	ticker := k.clock.Ticker(k.interval)
	defer ticker.Stop()

	for {
		if err := k.Tick(ctx); err != nil {
			logger.Error("keeper: tick failed", zap.String("lottery", k.lottery.Name()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			logger.Info("keeper: stopped", zap.String("lottery", k.lottery.Name()))
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one pass: recover a stale draw, start a draw when upkeep is
// needed, fulfill the outstanding request if a fulfiller is set, then resend
// payouts that never left.
func (k *Keeper) Tick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var errs []error

	snapshot, err := k.lottery.Snapshot(ctx)
	if err != nil {
		return k.fail(StepObserve, err)
	}
	k.observe(snapshot)

	if k.recover && snapshot.State == lottery.StateCalculating {
		requestID, err := k.lottery.CancelStaleDraw(ctx)
		switch {
		case errors.Is(err, lottery.ErrDrawNotStale), errors.Is(err, lottery.ErrNotCalculating):
		case err != nil:
			errs = append(errs, k.fail(StepRecover, err))
		default:
			logger.Warn("keeper: stale draw cancelled", zap.String("lottery", k.lottery.Name()), zap.Uint64("request id", requestID))
		}
	}

	if err := k.performIfNeeded(ctx); err != nil {
		errs = append(errs, err)
	}

	if k.fulfill != nil {
		if err := k.fulfillOutstanding(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	sent, err := k.lottery.RetryPayouts(ctx)
	if err != nil {
		errs = append(errs, k.fail(StepPayout, err))
	}
	if sent > 0 {
		logger.Info("keeper: payouts resent", zap.String("lottery", k.lottery.Name()), zap.Int("sent", sent))
	}

	if snapshot, err = k.lottery.Snapshot(ctx); err == nil {
		k.observe(snapshot)
	}

	return errors.Join(errs...)
}

func (k *Keeper) performIfNeeded(ctx context.Context) error {
	check, err := k.lottery.CheckUpkeep(ctx)
	if err != nil {
		return k.fail(StepCheck, err)
	}

	if !check.Needed {
		logger.Debug("keeper: upkeep not needed", zap.String("lottery", k.lottery.Name()), zap.Strings("failed", check.Failed()))
		return nil
	}

	requestID, err := k.lottery.PerformUpkeep(ctx)
	if errors.Is(err, lottery.ErrUpkeepNotNeeded) {
		// raced with another keeper
		return nil
	}
	if err != nil {
		return k.fail(StepPerform, err)
	}

	logger.Info("keeper: draw started", zap.String("lottery", k.lottery.Name()), zap.Uint64("request id", requestID))
	return nil
}

func (k *Keeper) fulfillOutstanding(ctx context.Context) error {
	snapshot, err := k.lottery.Snapshot(ctx)
	if err != nil {
		return k.fail(StepFulfill, err)
	}

	if !snapshot.HasOutstandingRequest {
		return nil
	}

	logger.Debug("keeper: fulfilling outstanding request...", zap.String("lottery", k.lottery.Name()), zap.Uint64("request id", snapshot.OutstandingRequestID))
	if err := k.fulfill.FulfillRandomWords(ctx, snapshot.OutstandingRequestID, k.lottery); err != nil {
		return k.fail(StepFulfill, err)
	}

	logger.Debug("keeper: fulfilling outstanding request... done", zap.String("lottery", k.lottery.Name()))
	return nil
}

func (k *Keeper) observe(snapshot *lottery.Snapshot) {
	k.observer.Observe(snapshot.Name, uint8(snapshot.State), snapshot.Entrants, snapshot.PoolBalance)
}

func (k *Keeper) fail(step string, err error) error {
	k.observer.KeeperError(k.lottery.Name(), step)
	return err
}
