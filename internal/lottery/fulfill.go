package lottery

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"lottery/internal/blockchain"
	"lottery/internal/events"
	"lottery/internal/logger"
	"lottery/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type resolution struct {
	winner string
	amount uint64
	at     time.Time
	// escrowed prizes are broadcast after the resolution commits
	escrowed bool
}

// winnerIndex reduces randomValue into [0, count). big.Int Mod is
// Euclidean, so negative values land in range too.
func winnerIndex(randomValue *big.Int, count int64) int64 {
	return new(big.Int).Mod(randomValue, big.NewInt(count)).Int64()
}

// FulfillRandomWords is the provider callback. Only the first word is used.
func (l *Lottery) FulfillRandomWords(ctx context.Context, requestID uint64, words []*big.Int) error {
	if len(words) == 0 {
		return fmt.Errorf("%w: no words for request %d", ErrInvalidRandomValue, requestID)
	}
	return l.Fulfill(ctx, requestID, words[0])
}

// Fulfill picks the winner of the outstanding draw, pays out the whole pool
// and reopens entry. With a ledger transferer every effect commits or none
// does. With a Broadcaster the resolution commits first and the prize stays
// in escrow on the draw until the broadcast outcome is recorded; a failed
// broadcast does not reopen the draw.
func (l *Lottery) Fulfill(ctx context.Context, requestID uint64, randomValue *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if randomValue == nil {
		return fmt.Errorf("%w: nil value for request %d", ErrInvalidRandomValue, requestID)
	}

	l.mu.Lock()
	result, err := l.fulfill(ctx, requestID, randomValue)
	l.mu.Unlock()

	if err != nil {
		logger.Warn("lottery: fulfillment rejected", zap.String("lottery", l.config.Name), zap.Uint64("request id", requestID), zap.Error(err))
		return err
	}

	logger.Info("lottery: winner resolved",
		zap.String("lottery", l.config.Name),
		zap.Uint64("request id", requestID),
		zap.String("winner", result.winner),
		zap.Uint64("amount", result.amount),
	)
	l.sink.Publish(events.WinnerResolved(l.config.Name, result.winner, requestID, result.amount, result.at))

	if result.escrowed {
		// recorded on the draw and logged by payOut
		_ = l.payOut(ctx, l.transferer.(blockchain.Broadcaster), requestID, result.winner, result.amount)
	}
	return nil
}

func (l *Lottery) fulfill(ctx context.Context, requestID uint64, randomValue *big.Int) (*resolution, error) {
	_, escrowed := l.transferer.(blockchain.Broadcaster)

	var result *resolution
	err := l.storage.Transaction(func(tx storage.Storage) error {
		state, err := tx.GetLotteryState(l.config.Name)
		if err != nil {
			return err
		}

		if !state.HasOutstandingRequest || state.OutstandingRequestID != requestID {
			return fmt.Errorf("%w: %d", ErrUnknownRequest, requestID)
		}

		count, err := tx.CountEntrants(l.config.Name)
		if err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: no entrants for request %d", ErrIndexOutOfRange, requestID)
		}

		entrant, err := tx.GetEntrantAt(l.config.Name, winnerIndex(randomValue, count))
		if err != nil {
			return err
		}

		now := l.clock.Now()
		amount := state.PoolBalance

		state.RecentWinner = entrant.Address
		state.State = storage.DrawStateOpen
		state.HasOutstandingRequest = false
		state.OutstandingRequestID = 0
		state.PoolBalance = 0
		if err := tx.UpdateLotteryState(state); err != nil {
			return err
		}

		if err := tx.ClearEntrants(l.config.Name); err != nil {
			return err
		}

		draw, err := tx.GetDrawByRequestID(l.config.Name, requestID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			logger.Warn("lottery: no draw row for request, recording one", zap.String("lottery", l.config.Name), zap.Uint64("request id", requestID))
			draw = &storage.Draw{
				ID:          uuid.NewString(),
				Lottery:     l.config.Name,
				RequestID:   requestID,
				Entrants:    count,
				Pool:        amount,
				RequestedAt: state.LastDrawAt,
			}
			if err := tx.CreateDraw(draw); err != nil {
				return err
			}
		case err != nil:
			return err
		}

		draw.Status = storage.DrawStatusResolved
		if escrowed {
			draw.Status = storage.DrawStatusPayoutPending
		}
		draw.Winner = entrant.Address
		draw.Amount = amount
		draw.RandomValue = randomValue.String()
		draw.ResolvedAt = &now
		if err := tx.UpdateDraw(draw); err != nil {
			return err
		}

		if !escrowed {
			if err := l.transferer.Transfer(ctx, tx, entrant.Address, amount); err != nil {
				return fmt.Errorf("%w: %w", ErrTransferFailed, err)
			}
		}

		result = &resolution{winner: entrant.Address, amount: amount, at: now, escrowed: escrowed}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// payOut broadcasts an escrowed prize and records the outcome on its draw.
// Failures that sent nothing leave the draw payout_failed for RetryPayouts;
// any other failure leaves it payout_unknown for an operator to reconcile.
func (l *Lottery) payOut(ctx context.Context, broadcaster blockchain.Broadcaster, requestID uint64, winner string, amount uint64) error {
	hash, sendErr := broadcaster.Broadcast(ctx, winner, amount)

	status := storage.DrawStatusPaid
	switch {
	case sendErr == nil:
	case errors.Is(sendErr, blockchain.ErrNotSent):
		status = storage.DrawStatusPayoutFailed
	default:
		status = storage.DrawStatusPayoutUnknown
	}

	err := l.storage.Transaction(func(tx storage.Storage) error {
		draw, err := tx.GetDrawByRequestID(l.config.Name, requestID)
		if err != nil {
			return err
		}

		draw.Status = status
		draw.PayoutHash = hash
		draw.PayoutError = ""
		if sendErr != nil {
			draw.PayoutError = sendErr.Error()
		}
		return tx.UpdateDraw(draw)
	})
	if err != nil {
		logger.Error("lottery: recording payout outcome failed",
			zap.String("lottery", l.config.Name),
			zap.Uint64("request id", requestID),
			zap.String("status", status),
			zap.Error(err),
		)
	}

	if sendErr != nil {
		logger.Error("lottery: payout failed",
			zap.String("lottery", l.config.Name),
			zap.Uint64("request id", requestID),
			zap.String("winner", winner),
			zap.Uint64("amount", amount),
			zap.String("status", status),
			zap.Error(sendErr),
		)
		l.sink.Publish(events.PayoutFailed(l.config.Name, winner, requestID, amount, l.clock.Now()))
		return errors.Join(fmt.Errorf("%w: %w", ErrTransferFailed, sendErr), err)
	}

	logger.Info("lottery: payout sent", zap.String("lottery", l.config.Name), zap.Uint64("request id", requestID), zap.String("hash", hash))
	return err
}

// RetryPayouts broadcasts again the escrowed prizes whose earlier attempt
// failed before anything was sent, and returns how many went out.
func (l *Lottery) RetryPayouts(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	broadcaster, ok := l.transferer.(blockchain.Broadcaster)
	if !ok {
		return 0, nil
	}

	l.mu.Lock()
	var claimed []*storage.Draw
	err := l.storage.Transaction(func(tx storage.Storage) error {
		draws, err := tx.GetDrawsByStatus(l.config.Name, storage.DrawStatusPayoutFailed)
		if err != nil {
			return err
		}

		for _, draw := range draws {
			draw.Status = storage.DrawStatusPayoutPending
			if err := tx.UpdateDraw(draw); err != nil {
				return err
			}
		}

		claimed = draws
		return nil
	})
	l.mu.Unlock()

	if err != nil {
		return 0, err
	}

	var sent int
	var errs []error
	for _, draw := range claimed {
		if err := l.payOut(ctx, broadcaster, draw.RequestID, draw.Winner, draw.Amount); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}

	return sent, errors.Join(errs...)
}

// CancelStaleDraw abandons a draw whose randomness never arrived within
// DrawTimeout. Entrants and pool carry over to the next draw.
func (l *Lottery) CancelStaleDraw(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if l.config.DrawTimeout <= 0 {
		return 0, ErrRecoveryDisabled
	}

	l.mu.Lock()
	var requestID uint64
	now := l.clock.Now()
	err := l.storage.Transaction(func(tx storage.Storage) error {
		state, err := tx.GetLotteryState(l.config.Name)
		if err != nil {
			return err
		}

		if State(state.State) != StateCalculating {
			return fmt.Errorf("%w: state %s", ErrNotCalculating, State(state.State))
		}

		pending := now.Sub(state.LastDrawAt)
		if pending < l.config.DrawTimeout {
			return fmt.Errorf("%w: pending %s, timeout %s", ErrDrawNotStale, pending, l.config.DrawTimeout)
		}

		requestID = state.OutstandingRequestID
		state.State = storage.DrawStateOpen
		state.HasOutstandingRequest = false
		state.OutstandingRequestID = 0
		if err := tx.UpdateLotteryState(state); err != nil {
			return err
		}

		draw, err := tx.GetDrawByRequestID(l.config.Name, requestID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		draw.Status = storage.DrawStatusCancelled
		draw.ResolvedAt = &now
		return tx.UpdateDraw(draw)
	})
	l.mu.Unlock()

	if err != nil {
		return 0, err
	}

	logger.Warn("lottery: stale draw cancelled", zap.String("lottery", l.config.Name), zap.Uint64("request id", requestID))
	l.sink.Publish(events.DrawCancelled(l.config.Name, requestID, now))
	return requestID, nil
}
