package storage

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("storage: record not found")

type Storage interface {
	// Transaction runs fn against a transaction-scoped Storage; any error rolls back.
	Transaction(fn func(tx Storage) error) error

	// lottery state
	GetLotteryState(name string) (*LotteryState, error)
	EnsureLotteryState(initial *LotteryState) (*LotteryState, error)
	UpdateLotteryState(state *LotteryState) error

	// entrants
	AppendEntrant(entrant *Entrant) error
	CountEntrants(lottery string) (int64, error)
	GetEntrantAt(lottery string, index int64) (*Entrant, error)
	GetEntrants(lottery string) ([]*Entrant, error)
	ClearEntrants(lottery string) error

	// draw history
	CreateDraw(draw *Draw) error
	UpdateDraw(draw *Draw) error
	GetDrawByRequestID(lottery string, requestID uint64) (*Draw, error)
	GetDraws(lottery string, limit int) ([]*Draw, error)
	GetDrawsByStatus(lottery string, status DrawStatus) ([]*Draw, error)

	// local custody balances
	Credit(address string, amount uint64) error
	GetBalance(address string) (uint64, error)

	// randomness provider
	CreateSubscription(subscription *Subscription) error
	GetSubscription(id uint64) (*Subscription, error)
	UpdateSubscription(subscription *Subscription) error
	AddSubscriptionConsumer(subscriptionID uint64, consumer string) error
	RemoveSubscriptionConsumer(subscriptionID uint64, consumer string) error
	IsSubscriptionConsumer(subscriptionID uint64, consumer string) (bool, error)
	GetConsumerSubscriptions(consumer string) ([]uint64, error)
	CreateRandomnessRequest(request *RandomnessRequest) error
	GetRandomnessRequest(requestID uint64) (*RandomnessRequest, error)
	GetPendingRandomnessRequests(consumer string) ([]*RandomnessRequest, error)
	MarkRandomnessRequestFulfilled(requestID uint64, at time.Time) error

	Close() error
}
