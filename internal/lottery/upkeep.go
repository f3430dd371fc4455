package lottery

import (
	"context"
	"fmt"
	"time"

	"lottery/internal/events"
	"lottery/internal/logger"
	"lottery/internal/storage"
	"lottery/internal/vrf"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UpkeepCheck is the outcome of the four draw conditions.
type UpkeepCheck struct {
	Needed      bool
	TimePassed  bool
	IsOpen      bool
	HasEntrants bool
	HasBalance  bool

	Elapsed     time.Duration
	State       State
	Entrants    int64
	PoolBalance uint64
}

func (u UpkeepCheck) Failed() []string {
	var failed []string
	if !u.TimePassed {
		failed = append(failed, "interval not elapsed")
	}
	if !u.IsOpen {
		failed = append(failed, "not open")
	}
	if !u.HasEntrants {
		failed = append(failed, "no entrants")
	}
	if !u.HasBalance {
		failed = append(failed, "empty pool")
	}
	return failed
}

func evaluateUpkeep(state *storage.LotteryState, entrants int64, now time.Time, interval time.Duration) UpkeepCheck {
	check := UpkeepCheck{
		Elapsed:     now.Sub(state.LastDrawAt),
		State:       State(state.State),
		Entrants:    entrants,
		PoolBalance: state.PoolBalance,
	}

	check.TimePassed = check.Elapsed >= interval
	check.IsOpen = check.State == StateOpen
	check.HasEntrants = entrants >= 1
	check.HasBalance = state.PoolBalance > 0
	check.Needed = check.TimePassed && check.IsOpen && check.HasEntrants && check.HasBalance
	return check
}

func (l *Lottery) checkUpkeep(s storage.Storage) (UpkeepCheck, *storage.LotteryState, error) {
	state, err := s.GetLotteryState(l.config.Name)
	if err != nil {
		return UpkeepCheck{}, nil, err
	}

	entrants, err := s.CountEntrants(l.config.Name)
	if err != nil {
		return UpkeepCheck{}, nil, err
	}

	return evaluateUpkeep(state, entrants, l.clock.Now(), l.config.Interval), state, nil
}

// CheckUpkeep evaluates the draw conditions without side effects.
func (l *Lottery) CheckUpkeep(_ context.Context) (UpkeepCheck, error) {
	check, _, err := l.checkUpkeep(l.storage)
	return check, err
}

func upkeepNotNeeded(check UpkeepCheck) error {
	return fmt.Errorf("%w: pool %d, entrants %d, state %s", ErrUpkeepNotNeeded, check.PoolBalance, check.Entrants, check.State)
}

// PerformUpkeep starts a draw: it re-checks the conditions, requests one
// random word and moves the lottery to CALCULATING.
func (l *Lottery) PerformUpkeep(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	requestID, now, err := l.performUpkeep(ctx)
	l.mu.Unlock()

	if err != nil {
		return 0, err
	}

	logger.Info("lottery: draw requested", zap.String("lottery", l.config.Name), zap.Uint64("request id", requestID))
	l.sink.Publish(events.DrawRequested(l.config.Name, requestID, now))
	return requestID, nil
}

func (l *Lottery) performUpkeep(ctx context.Context) (uint64, time.Time, error) {
	check, _, err := l.checkUpkeep(l.storage)
	if err != nil {
		return 0, time.Time{}, err
	}

	if !check.Needed {
		logger.Debug("lottery: upkeep not needed", zap.String("lottery", l.config.Name), zap.Strings("failed", check.Failed()))
		return 0, time.Time{}, upkeepNotNeeded(check)
	}

	requestID, err := l.coordinator.RequestRandomWords(ctx, vrf.RandomWordsRequest{
		KeyHash:              l.config.KeyHash,
		SubscriptionID:       l.config.SubscriptionID,
		RequestConfirmations: vrf.RequestConfirmations,
		CallbackGasLimit:     l.config.CallbackGasLimit,
		NumWords:             vrf.NumWords,
		Consumer:             l.config.Name,
	})
	if err != nil {
		logger.Error("lottery: randomness request failed", zap.String("lottery", l.config.Name), zap.Error(err))
		return 0, time.Time{}, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}

	now := l.clock.Now()
	err = l.storage.Transaction(func(tx storage.Storage) error {
		check, state, err := l.checkUpkeep(tx)
		if err != nil {
			return err
		}

		// another process may have started a draw since the first check
		if !check.IsOpen || state.HasOutstandingRequest {
			return upkeepNotNeeded(check)
		}

		state.State = storage.DrawStateCalculating
		state.LastDrawAt = now
		state.HasOutstandingRequest = true
		state.OutstandingRequestID = requestID
		if err := tx.UpdateLotteryState(state); err != nil {
			return err
		}

		return tx.CreateDraw(&storage.Draw{
			ID:          uuid.NewString(),
			Lottery:     l.config.Name,
			RequestID:   requestID,
			Status:      storage.DrawStatusRequested,
			Entrants:    check.Entrants,
			Pool:        state.PoolBalance,
			RequestedAt: now,
		})
	})
	if err != nil {
		logger.Warn("lottery: draw request not recorded, request orphaned", zap.String("lottery", l.config.Name), zap.Uint64("request id", requestID), zap.Error(err))
		return 0, time.Time{}, err
	}

	return requestID, now, nil
}
