package lottery

import (
	"context"
	"errors"
	"fmt"

	"lottery/internal/events"
	"lottery/internal/logger"
	"lottery/internal/storage"

	"go.uber.org/zap"
)

// Enter records one entry for address and adds stake to the pool.
func (l *Lottery) Enter(ctx context.Context, address string, stake uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if address == "" {
		return ErrInvalidAddress
	}

	// a winner the transferer cannot pay would strand the pool
	if err := l.transferer.ValidateRecipient(address); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}

	if stake < l.config.EntranceFee {
		return fmt.Errorf("%w: sent %d, minimum %d", ErrInsufficientEntryFee, stake, l.config.EntranceFee)
	}

	l.mu.Lock()
	now := l.clock.Now()
	err := l.storage.Transaction(func(tx storage.Storage) error {
		state, err := tx.GetLotteryState(l.config.Name)
		if err != nil {
			return err
		}

		if State(state.State) != StateOpen {
			return fmt.Errorf("%w: state %s", ErrNotOpen, State(state.State))
		}

		if stake > maxPool || state.PoolBalance > maxPool-stake {
			return fmt.Errorf("%w: pool %d, stake %d", ErrPoolOverflow, state.PoolBalance, stake)
		}

		err = tx.AppendEntrant(&storage.Entrant{
			Lottery:   l.config.Name,
			Address:   address,
			Stake:     stake,
			EnteredAt: now,
		})
		if err != nil {
			return err
		}

		state.PoolBalance += stake
		return tx.UpdateLotteryState(state)
	})
	l.mu.Unlock()

	if err != nil {
		logger.Debug("lottery: entry rejected", zap.String("lottery", l.config.Name), zap.String("address", address), zap.Error(err))
		return err
	}

	logger.Info("lottery: entry accepted", zap.String("lottery", l.config.Name), zap.String("address", address), zap.Uint64("stake", stake))
	l.sink.Publish(events.EntryAccepted(l.config.Name, address, stake, now))
	return nil
}

func (l *Lottery) EntrantCount(_ context.Context) (int64, error) {
	return l.storage.CountEntrants(l.config.Name)
}

func (l *Lottery) EntrantAt(_ context.Context, index int64) (string, error) {
	if index < 0 {
		return "", fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}

	entrant, err := l.storage.GetEntrantAt(l.config.Name, index)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	if err != nil {
		return "", err
	}

	return entrant.Address, nil
}

func (l *Lottery) Entrants(_ context.Context) ([]string, error) {
	entrants, err := l.storage.GetEntrants(l.config.Name)
	if err != nil {
		return nil, err
	}

	addresses := make([]string, len(entrants))
	for i, entrant := range entrants {
		addresses[i] = entrant.Address
	}
	return addresses, nil
}
