package vrf

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"lottery/internal/config"
	"lottery/internal/storage"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

type recordingConsumer struct {
	calls []uint64
	words [][]*big.Int
	err   error
}

func (c *recordingConsumer) FulfillRandomWords(_ context.Context, requestID uint64, words []*big.Int) error {
	if c.err != nil {
		return c.err
	}
	c.calls = append(c.calls, requestID)
	c.words = append(c.words, words)
	return nil
}

func newTestCoordinator(t *testing.T) *MockCoordinator {
	t.Helper()
	s, err := storage.NewSqliteStorage(filepath.Join(t.TempDir(), "vrf.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewMockCoordinator(s, clock.NewMock(), DefaultBaseFee, DefaultGasPriceLink)
}

func request(subscriptionID uint64) RandomWordsRequest {
	return RandomWordsRequest{
		KeyHash:              "0xd89b2bf150e3b9e13446986e571fb9cab24b13cea0a43ea20a6049a85cc807cc",
		SubscriptionID:       subscriptionID,
		RequestConfirmations: RequestConfirmations,
		CallbackGasLimit:     500_000,
		NumWords:             NumWords,
		Consumer:             "main",
	}
}

func TestRequestAndFulfill(t *testing.T) {
	ctx := context.Background()
	m := newTestCoordinator(t)

	subscriptionID, err := m.EnsureSubscription(ctx, 0, 2_000_000_000_000_000_000, "main")
	require.NoError(t, err)

	requestID, err := m.RequestRandomWords(ctx, request(subscriptionID))
	require.NoError(t, err)
	require.Equal(t, uint64(1), requestID)

	pending, err := m.PendingRequests(ctx, "main")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	consumer := &recordingConsumer{}
	require.NoError(t, m.FulfillRandomWords(ctx, requestID, consumer))
	require.Equal(t, []uint64{1}, consumer.calls)
	require.Len(t, consumer.words[0], 1)

	stored, err := m.storage.GetRandomnessRequest(requestID)
	require.NoError(t, err)
	require.Len(t, stored.Seed, seedSize)
	require.Equal(t, Words(stored.Seed, 1, 1)[0], consumer.words[0][0])

	subscription, err := m.Subscription(ctx, subscriptionID)
	require.NoError(t, err)
	require.Equal(t, uint64(2_000_000_000_000_000_000)-DefaultBaseFee-DefaultGasPriceLink*500_000, subscription.Balance)

	err = m.FulfillRandomWords(ctx, requestID, consumer)
	require.ErrorIs(t, err, ErrNonexistentRequest)

	pending, err = m.PendingRequests(ctx, "main")
	require.NoError(t, err)
	require.Empty(t, pending)

	next, err := m.RequestRandomWords(ctx, request(subscriptionID))
	require.NoError(t, err)
	require.Equal(t, uint64(2), next)
}

func TestFulfillNonexistentRequest(t *testing.T) {
	ctx := context.Background()
	m := newTestCoordinator(t)

	for _, id := range []uint64{0, 1} {
		err := m.FulfillRandomWords(ctx, id, &recordingConsumer{})
		require.ErrorIs(t, err, ErrNonexistentRequest)
	}
}

func TestRequestValidation(t *testing.T) {
	ctx := context.Background()
	m := newTestCoordinator(t)

	_, err := m.RequestRandomWords(ctx, request(42))
	require.ErrorIs(t, err, ErrInvalidSubscription)

	subscriptionID, err := m.CreateSubscription(ctx)
	require.NoError(t, err)

	_, err = m.RequestRandomWords(ctx, request(subscriptionID))
	require.ErrorIs(t, err, ErrInvalidConsumer)

	require.NoError(t, m.AddConsumer(ctx, subscriptionID, "main"))
	tooMany := request(subscriptionID)
	tooMany.NumWords = MaxNumWords + 1
	_, err = m.RequestRandomWords(ctx, tooMany)
	require.ErrorIs(t, err, ErrInvalidNumWords)

	require.NoError(t, m.RemoveConsumer(ctx, subscriptionID, "main"))
	_, err = m.RequestRandomWords(ctx, request(subscriptionID))
	require.ErrorIs(t, err, ErrInvalidConsumer)
}

func TestFulfillUnfundedSubscription(t *testing.T) {
	ctx := context.Background()
	m := newTestCoordinator(t)

	subscriptionID, err := m.EnsureSubscription(ctx, 0, 0, "main")
	require.NoError(t, err)

	requestID, err := m.RequestRandomWords(ctx, request(subscriptionID))
	require.NoError(t, err)

	consumer := &recordingConsumer{}
	err = m.FulfillRandomWords(ctx, requestID, consumer)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Empty(t, consumer.calls)

	require.NoError(t, m.FundSubscription(ctx, subscriptionID, DefaultBaseFee+DefaultGasPriceLink*500_000))
	require.NoError(t, m.FulfillRandomWords(ctx, requestID, consumer))
}

func TestConsumerFailureKeepsRequestPending(t *testing.T) {
	ctx := context.Background()
	m := newTestCoordinator(t)

	subscriptionID, err := m.EnsureSubscription(ctx, 0, 1_000_000_000_000_000_000, "main")
	require.NoError(t, err)
	requestID, err := m.RequestRandomWords(ctx, request(subscriptionID))
	require.NoError(t, err)

	rejected := errors.New("transfer failed")
	err = m.FulfillRandomWords(ctx, requestID, &recordingConsumer{err: rejected})
	require.ErrorIs(t, err, ErrConsumerFailed)
	require.ErrorIs(t, err, rejected)

	subscription, err := m.Subscription(ctx, subscriptionID)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000_000_000_000_000), subscription.Balance)

	consumer := &recordingConsumer{}
	require.NoError(t, m.FulfillRandomWordsWithOverride(ctx, requestID, consumer, []*big.Int{big.NewInt(7)}))
	require.Equal(t, int64(7), consumer.words[0][0].Int64())
}

func TestWordsAreDistinctPerRequestAndIndex(t *testing.T) {
	seed := []byte("0123456789abcdef0123456789abcdef")
	a := Words(seed, 1, 2)
	b := Words(seed, 2, 2)
	require.NotEqual(t, a[0], a[1])
	require.NotEqual(t, a[0], b[0])
	require.Equal(t, a, Words(seed, 1, 2))
	require.LessOrEqual(t, a[0].BitLen(), 256)

	other := Words([]byte("fedcba9876543210fedcba9876543210"), 1, 2)
	require.NotEqual(t, a[0], other[0])
}

func TestRequestSeedsDiffer(t *testing.T) {
	ctx := context.Background()
	m := newTestCoordinator(t)

	subscriptionID, err := m.EnsureSubscription(ctx, 0, 1_000, "main")
	require.NoError(t, err)

	first, err := m.RequestRandomWords(ctx, request(subscriptionID))
	require.NoError(t, err)
	second, err := m.RequestRandomWords(ctx, request(subscriptionID))
	require.NoError(t, err)

	a, err := m.storage.GetRandomnessRequest(first)
	require.NoError(t, err)
	b, err := m.storage.GetRandomnessRequest(second)
	require.NoError(t, err)
	require.NotEqual(t, a.Seed, b.Seed)

	// the request id alone no longer determines the outcome
	require.NotEqual(t, Words(nil, first, 1)[0], Words(a.Seed, first, 1)[0])
}

func TestFundSubscriptionBoundedBySignedColumn(t *testing.T) {
	ctx := context.Background()
	m := newTestCoordinator(t)

	subscriptionID, err := m.CreateSubscription(ctx)
	require.NoError(t, err)

	require.NoError(t, m.FundSubscription(ctx, subscriptionID, MaxSubscriptionBalance))
	err = m.FundSubscription(ctx, subscriptionID, 1)
	require.ErrorIs(t, err, ErrBalanceOverflow)

	subscription, err := m.Subscription(ctx, subscriptionID)
	require.NoError(t, err)
	require.Equal(t, MaxSubscriptionBalance, subscription.Balance)
}

func TestEnsureSubscriptionLeavesNothingOnFailure(t *testing.T) {
	ctx := context.Background()
	m := newTestCoordinator(t)

	_, err := m.EnsureSubscription(ctx, 0, MaxSubscriptionBalance+1, "main")
	require.ErrorIs(t, err, ErrBalanceOverflow)

	existing, err := m.storage.GetConsumerSubscriptions("main")
	require.NoError(t, err)
	require.Empty(t, existing)

	_, err = m.Subscription(ctx, 1)
	require.ErrorIs(t, err, ErrInvalidSubscription)

	subscriptionID, err := m.EnsureSubscription(ctx, 0, 2_000_000_000_000_000_000, "main")
	require.NoError(t, err)

	subscription, err := m.Subscription(ctx, subscriptionID)
	require.NoError(t, err)
	require.Equal(t, uint64(2_000_000_000_000_000_000), subscription.Balance)
}

func TestEnsureSubscriptionReusesExisting(t *testing.T) {
	ctx := context.Background()
	m := newTestCoordinator(t)

	first, err := m.EnsureSubscription(ctx, 0, 1_000, "main")
	require.NoError(t, err)

	again, err := m.EnsureSubscription(ctx, 0, 1_000, "main")
	require.NoError(t, err)
	require.Equal(t, first, again)

	subscription, err := m.Subscription(ctx, first)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), subscription.Balance)

	other, err := m.EnsureSubscription(ctx, 0, 1_000, "weekly")
	require.NoError(t, err)
	require.NotEqual(t, first, other)
}

func TestEnsureSubscriptionWithDefaultFund(t *testing.T) {
	ctx := context.Background()
	m := newTestCoordinator(t)
	fund := config.Default().VRF.Fund

	subscriptionID, err := m.EnsureSubscription(ctx, 0, fund, "main")
	require.NoError(t, err)

	subscription, err := m.Subscription(ctx, subscriptionID)
	require.NoError(t, err)
	require.Equal(t, fund, subscription.Balance)
	require.LessOrEqual(t, fund, MaxSubscriptionBalance)
}
