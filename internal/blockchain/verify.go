package blockchain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"lottery/internal/logger"

	"github.com/tonkeeper/tonapi-go"
	"go.uber.org/zap"
)

var ErrPayoutWalletUnderfunded = errors.New("blockchain: payout wallet underfunded")

const rateLimitBackoff = 500 * time.Millisecond

type Func[T any] func() (T, error)

// rateLimitRetry repeats fn while tonapi answers 429, until ctx is done.
func rateLimitRetry[T any](ctx context.Context, fn Func[T]) (T, error) {
	for {
		result, err := fn()
		if err != nil {
			var e *tonapi.ErrorStatusCode
			if errors.As(err, &e) && e.StatusCode == http.StatusTooManyRequests {
				select {
				case <-ctx.Done():
					return result, ctx.Err()
				case <-time.After(rateLimitBackoff):
				}
				continue
			}
		}

		return result, err
	}
}

type accountGetter interface {
	GetAccount(ctx context.Context, params tonapi.GetAccountParams) (*tonapi.Account, error)
}

func NewTonapiClient(token string) (*tonapi.Client, error) {
	logger.Debug("tonapi client: initializing...", zap.Bool("token provided", token != ""))
	return tonapi.NewClient(tonapi.TonApiURL, tonapi.WithToken(token))
}

// VerifyPayoutWallet checks that address holds at least minBalance.
func VerifyPayoutWallet(ctx context.Context, client accountGetter, address string, minBalance uint64) (int64, error) {
	logger.Debug("verify payout wallet: fetching account...", zap.String("address", address))

	account, err := rateLimitRetry(ctx, func() (*tonapi.Account, error) {
		return client.GetAccount(ctx, tonapi.GetAccountParams{AccountID: address})
	})
	if err != nil {
		logger.Error("verify payout wallet: failed to get account state", zap.Error(err))
		return 0, err
	}

	balance := account.GetBalance()
	logger.Debug("verify payout wallet: account info", zap.Int64("balance", balance), zap.String("status", string(account.GetStatus())))

	if balance < 0 || uint64(balance) < minBalance {
		return balance, fmt.Errorf("%w: balance %d, required %d", ErrPayoutWalletUnderfunded, balance, minBalance)
	}

	logger.Debug("verify payout wallet: fetching account... done")
	return balance, nil
}
