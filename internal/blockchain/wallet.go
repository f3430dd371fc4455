package blockchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lottery/internal/logger"
	"lottery/internal/storage"

	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/liteapi"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"
	"github.com/tonkeeper/tongo/wallet"
	"go.uber.org/zap"
)

const PayoutComment = "lottery payout"

var WalletMap = map[string]int{
	"V1R1":         0,
	"V1R2":         1,
	"V1R3":         2,
	"V2R1":         3,
	"V2R2":         4,
	"V3R1":         5,
	"V3R2":         6,
	"V3R2Lockup":   7,
	"V4R1":         8,
	"V4R2":         9,
	"V5Beta":       10,
	"V5R1":         11,
	"HighLoadV1R1": 12,
	"HighLoadV1R2": 13,
	"HighLoadV2":   14,
	"HighLoadV2R1": 15,
	"HighLoadV2R2": 16,
}

type walletSender interface {
	GetAddress() ton.AccountID
	SendV2(ctx context.Context, waitingConfirmation time.Duration, messages ...wallet.Sendable) (ton.Bits256, error)
}

// WalletTransferer pays winners from a TON wallet. Payouts are handed to a
// lite server and not awaited; the returned message hash is the receipt.
type WalletTransferer struct {
	wallet walletSender
}

func NewWalletTransferer(mnemonic string, version string) (*WalletTransferer, error) {

	index, ok := WalletMap[version]
	if !ok {
		return nil, fmt.Errorf("wallet transferer: unknown wallet version %q", version)
	}

	logger.Debug("wallet transferer: lite client...")
	clientLite, err := liteapi.NewClientWithDefaultMainnet()
	if err != nil {
		return nil, err
	}

	pk, err := wallet.SeedToPrivateKey(mnemonic)
	if err != nil {
		return nil, err
	}

	logger.Debug("wallet transferer: wallet info", zap.String("version", version), zap.Int("version index", index))
	payoutWallet, err := wallet.New(pk, wallet.Version(index), clientLite)
	if err != nil {
		return nil, err
	}

	logger.Debug("wallet transferer: initializing... done", zap.String("address", payoutWallet.GetAddress().ToRaw()))
	return &WalletTransferer{
		wallet: &payoutWallet,
	}, nil
}

func (w *WalletTransferer) Address() ton.AccountID {
	return w.wallet.GetAddress()
}

func (w *WalletTransferer) ValidateRecipient(address string) error {
	if _, err := ton.ParseAccountID(address); err != nil {
		return errors.Join(ErrInvalidRecipient, err)
	}
	return nil
}

func (w *WalletTransferer) Transfer(ctx context.Context, _ storage.Storage, to string, amount uint64) error {
	_, err := w.Broadcast(ctx, to, amount)
	return err
}

// Broadcast sends the payout without waiting for the wallet seqno to move.
// Errors wrapping ErrNotSent happened before the message was built; any
// other error leaves the outcome unknown.
func (w *WalletTransferer) Broadcast(ctx context.Context, to string, amount uint64) (string, error) {
	logger.Debug("wallet transferer: sending payout to blockchain...", zap.String("to", to), zap.Uint64("amount", amount))

	message, err := payoutMessage(to, amount)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotSent, err)
	}

	hash, err := w.wallet.SendV2(ctx, 0, message)
	if err != nil {
		logger.Error("wallet transferer: payout failed", zap.String("to", to), zap.Error(err))
		return "", err
	}

	logger.Info("wallet transferer: payout sent", zap.String("to", to), zap.Uint64("amount", amount), zap.String("hash", hash.Hex()))
	return hash.Hex(), nil
}

func payoutMessage(to string, amount uint64) (wallet.Message, error) {

	accountID, err := ton.ParseAccountID(to)
	if err != nil {
		return wallet.Message{}, errors.Join(ErrInvalidRecipient, err)
	}

	cell := boc.NewCell()
	if err := cell.WriteUint(0, 32); err != nil {
		return wallet.Message{}, err
	}

	if err := cell.WriteBytes([]byte(PayoutComment)); err != nil {
		return wallet.Message{}, err
	}

	return wallet.Message{
		Amount:  tlb.Grams(amount),
		Address: accountID,
		Bounce:  false,
		Mode:    wallet.DefaultMessageMode,
		Body:    cell,
	}, nil
}
