package blockchain

import (
	"context"
	"errors"
	"fmt"

	"lottery/internal/logger"
	"lottery/internal/storage"

	"go.uber.org/zap"
)

var (
	ErrInvalidRecipient = errors.New("blockchain: invalid recipient")
	// ErrNotSent marks payout failures that happened before anything left
	// the process. Such a payout may be attempted again.
	ErrNotSent = errors.New("blockchain: payout not sent")
)

// Transferer delivers a payout. The ledger argument is the storage
// transaction the payout belongs to; local custody commits with it.
type Transferer interface {
	// ValidateRecipient rejects addresses a payout could never reach.
	ValidateRecipient(address string) error
	Transfer(ctx context.Context, ledger storage.Storage, to string, amount uint64) error
}

// Broadcaster is a Transferer whose payouts leave the process and cannot be
// rolled back with a storage transaction. Broadcast returns the message
// hash once the payout has been handed to the network.
type Broadcaster interface {
	Transferer
	Broadcast(ctx context.Context, to string, amount uint64) (string, error)
}

// LedgerTransferer keeps custody locally and credits the winner's balance
// in the same transaction that resolves the draw.
type LedgerTransferer struct{}

func NewLedgerTransferer() *LedgerTransferer {
	return &LedgerTransferer{}
}

func (LedgerTransferer) ValidateRecipient(address string) error {
	if address == "" {
		return ErrInvalidRecipient
	}
	return nil
}

func (t LedgerTransferer) Transfer(_ context.Context, ledger storage.Storage, to string, amount uint64) error {
	if err := t.ValidateRecipient(to); err != nil {
		return err
	}

	logger.Debug("ledger transfer: crediting winner...", zap.String("to", to), zap.Uint64("amount", amount))
	if err := ledger.Credit(to, amount); err != nil {
		return fmt.Errorf("ledger transfer: %w", err)
	}

	logger.Debug("ledger transfer: crediting winner... done")
	return nil
}
