package vrf

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
	"math/bits"
	"sync"

	"lottery/internal/logger"
	"lottery/internal/storage"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

const (
	DefaultBaseFee      uint64 = 250_000_000_000_000_000 // 0.25 LINK
	DefaultGasPriceLink uint64 = 1_000_000_000

	MaxSubscriptionBalance uint64 = math.MaxInt64

	seedSize = 32
)

// MockCoordinator is a subscription-billed provider backed by storage. Words
// come from a per-request secret seed, but whoever runs the coordinator can
// read the seed or override the words, so it is not a trust boundary.
type MockCoordinator struct {
	mu           sync.Mutex
	storage      storage.Storage
	clock        clock.Clock
	baseFee      uint64
	gasPriceLink uint64
}

func NewMockCoordinator(s storage.Storage, c clock.Clock, baseFee uint64, gasPriceLink uint64) *MockCoordinator {
	return &MockCoordinator{
		storage:      s,
		clock:        c,
		baseFee:      baseFee,
		gasPriceLink: gasPriceLink,
	}
}

func (m *MockCoordinator) CreateSubscription(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return createSubscription(m.storage)
}

func (m *MockCoordinator) FundSubscription(_ context.Context, subscriptionID uint64, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return fundSubscription(m.storage, subscriptionID, amount)
}

func (m *MockCoordinator) AddConsumer(_ context.Context, subscriptionID uint64, consumer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return addConsumer(m.storage, subscriptionID, consumer)
}

func (m *MockCoordinator) RemoveConsumer(_ context.Context, subscriptionID uint64, consumer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.subscription(subscriptionID); err != nil {
		return err
	}

	return m.storage.RemoveSubscriptionConsumer(subscriptionID, consumer)
}

func (m *MockCoordinator) Subscription(_ context.Context, subscriptionID uint64) (*storage.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.subscription(subscriptionID)
}

// EnsureSubscription registers consumer on subscriptionID. With a zero id it
// reuses the consumer's oldest subscription, or creates and funds a new one.
// It returns the subscription id in use. Nothing is persisted on failure.
func (m *MockCoordinator) EnsureSubscription(_ context.Context, subscriptionID uint64, fund uint64, consumer string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.storage.Transaction(func(tx storage.Storage) error {
		if subscriptionID == 0 {
			existing, err := tx.GetConsumerSubscriptions(consumer)
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				subscriptionID = existing[0]
			}
		}

		if subscriptionID == 0 {
			id, err := createSubscription(tx)
			if err != nil {
				return err
			}

			if err := fundSubscription(tx, id, fund); err != nil {
				return err
			}
			subscriptionID = id
		}

		return addConsumer(tx, subscriptionID, consumer)
	})
	if err != nil {
		return 0, err
	}

	return subscriptionID, nil
}

func (m *MockCoordinator) RequestRandomWords(_ context.Context, request RandomWordsRequest) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.subscription(request.SubscriptionID); err != nil {
		return 0, err
	}

	ok, err := m.storage.IsSubscriptionConsumer(request.SubscriptionID, request.Consumer)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrInvalidConsumer, request.Consumer)
	}

	if request.NumWords == 0 || request.NumWords > MaxNumWords {
		return 0, fmt.Errorf("%w: %d", ErrInvalidNumWords, request.NumWords)
	}

	seed := make([]byte, seedSize)
	if _, err := rand.Read(seed); err != nil {
		return 0, fmt.Errorf("vrf: request seed: %w", err)
	}

	record := &storage.RandomnessRequest{
		SubscriptionID:   request.SubscriptionID,
		Consumer:         request.Consumer,
		KeyHash:          request.KeyHash,
		MinConfirmations: request.RequestConfirmations,
		CallbackGasLimit: request.CallbackGasLimit,
		NumWords:         request.NumWords,
		Seed:             seed,
		CreatedAt:        m.clock.Now(),
	}
	if err := m.storage.CreateRandomnessRequest(record); err != nil {
		return 0, err
	}

	logger.Info("vrf: random words requested",
		zap.Uint64("request id", record.RequestID),
		zap.Uint64("subscription id", record.SubscriptionID),
		zap.String("consumer", record.Consumer),
	)
	return record.RequestID, nil
}

func (m *MockCoordinator) PendingRequests(_ context.Context, consumer string) ([]*storage.RandomnessRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.storage.GetPendingRandomnessRequests(consumer)
}

// FulfillRandomWords delivers the words derived from the request's seed.
func (m *MockCoordinator) FulfillRandomWords(ctx context.Context, requestID uint64, consumer Consumer) error {
	m.mu.Lock()
	request, err := m.pending(requestID)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	return m.FulfillRandomWordsWithOverride(ctx, requestID, consumer, Words(request.Seed, requestID, request.NumWords))
}

// FulfillRandomWordsWithOverride delivers caller-chosen words. A consumer
// error leaves the request pending and the subscription uncharged.
func (m *MockCoordinator) FulfillRandomWordsWithOverride(ctx context.Context, requestID uint64, consumer Consumer, words []*big.Int) error {
	m.mu.Lock()
	request, err := m.pending(requestID)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	payment, err := m.payment(request)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	subscription, err := m.subscription(request.SubscriptionID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	if subscription.Balance < payment {
		return fmt.Errorf("%w: subscription %d has %d, needs %d", ErrInsufficientBalance, subscription.ID, subscription.Balance, payment)
	}

	logger.Debug("vrf: fulfilling random words...", zap.Uint64("request id", requestID))
	if err := consumer.FulfillRandomWords(ctx, requestID, words); err != nil {
		logger.Warn("vrf: consumer rejected fulfillment", zap.Uint64("request id", requestID), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrConsumerFailed, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.storage.Transaction(func(tx storage.Storage) error {
		subscription, err := tx.GetSubscription(request.SubscriptionID)
		if err != nil {
			return err
		}

		if subscription.Balance < payment {
			subscription.Balance = 0
		} else {
			subscription.Balance -= payment
		}

		if err := tx.UpdateSubscription(subscription); err != nil {
			return err
		}

		if err := tx.MarkRandomnessRequestFulfilled(requestID, m.clock.Now()); err != nil {
			return err
		}

		logger.Debug("vrf: fulfilling random words... done", zap.Uint64("request id", requestID), zap.Uint64("payment", payment))
		return nil
	})
}

func (m *MockCoordinator) subscription(subscriptionID uint64) (*storage.Subscription, error) {
	return loadSubscription(m.storage, subscriptionID)
}

func loadSubscription(s storage.Storage, subscriptionID uint64) (*storage.Subscription, error) {
	sub, err := s.GetSubscription(subscriptionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSubscription, subscriptionID)
	}
	return sub, err
}

func createSubscription(s storage.Storage) (uint64, error) {
	sub := &storage.Subscription{}
	if err := s.CreateSubscription(sub); err != nil {
		return 0, err
	}

	logger.Info("vrf: subscription created", zap.Uint64("subscription id", sub.ID))
	return sub.ID, nil
}

// fundSubscription keeps the balance within a signed 64-bit column.
func fundSubscription(s storage.Storage, subscriptionID uint64, amount uint64) error {
	sub, err := loadSubscription(s, subscriptionID)
	if err != nil {
		return err
	}

	balance, carry := bits.Add64(sub.Balance, amount, 0)
	if carry != 0 || balance > MaxSubscriptionBalance {
		return fmt.Errorf("%w: subscription %d has %d, funding %d", ErrBalanceOverflow, subscriptionID, sub.Balance, amount)
	}
	sub.Balance = balance

	if err := s.UpdateSubscription(sub); err != nil {
		return err
	}

	logger.Info("vrf: subscription funded", zap.Uint64("subscription id", subscriptionID), zap.Uint64("balance", balance))
	return nil
}

func addConsumer(s storage.Storage, subscriptionID uint64, consumer string) error {
	if _, err := loadSubscription(s, subscriptionID); err != nil {
		return err
	}

	logger.Debug("vrf: adding consumer", zap.Uint64("subscription id", subscriptionID), zap.String("consumer", consumer))
	return s.AddSubscriptionConsumer(subscriptionID, consumer)
}

func (m *MockCoordinator) pending(requestID uint64) (*storage.RandomnessRequest, error) {
	request, err := m.storage.GetRandomnessRequest(requestID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNonexistentRequest, requestID)
	}
	if err != nil {
		return nil, err
	}

	if request.Fulfilled {
		return nil, fmt.Errorf("%w: %d", ErrNonexistentRequest, requestID)
	}

	return request, nil
}

func (m *MockCoordinator) payment(request *storage.RandomnessRequest) (uint64, error) {
	hi, gas := bits.Mul64(m.gasPriceLink, uint64(request.CallbackGasLimit))
	total, carry := bits.Add64(m.baseFee, gas, 0)
	if hi != 0 || carry != 0 {
		return 0, fmt.Errorf("vrf: payment overflow for request %d", request.RequestID)
	}
	return total, nil
}

// Words derives n uint256 words as keccak256(seed || requestID || index),
// with requestID and index encoded as 32-byte big-endian integers. The seed
// is drawn per request and never leaves storage, so entrants cannot
// precompute the outcome from the request id.
func Words(seed []byte, requestID uint64, n uint32) []*big.Int {
	words := make([]*big.Int, n)
	for i := range words {
		buf := make([]byte, len(seed)+64)
		copy(buf, seed)
		binary.BigEndian.PutUint64(buf[len(seed)+24:len(seed)+32], requestID)
		binary.BigEndian.PutUint64(buf[len(seed)+56:], uint64(i))
		words[i] = new(big.Int).SetBytes(crypto.Keccak256(buf))
	}
	return words
}
