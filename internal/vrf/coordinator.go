package vrf

import (
	"context"
	"errors"
	"math/big"
)

const (
	// NumWords is the count of random values a draw asks for.
	NumWords uint32 = 1
	// RequestConfirmations is the confirmation depth asked of the provider.
	RequestConfirmations uint16 = 3

	MaxNumWords uint32 = 500
)

var (
	ErrInvalidSubscription = errors.New("vrf: invalid subscription")
	ErrInvalidConsumer     = errors.New("vrf: invalid consumer")
	ErrInvalidNumWords     = errors.New("vrf: invalid number of words")
	ErrNonexistentRequest  = errors.New("vrf: nonexistent request")
	ErrInsufficientBalance = errors.New("vrf: insufficient balance")
	ErrConsumerFailed      = errors.New("vrf: consumer rejected fulfillment")
	ErrBalanceOverflow     = errors.New("vrf: subscription balance overflow")
)

type RandomWordsRequest struct {
	KeyHash              string
	SubscriptionID       uint64
	RequestConfirmations uint16
	CallbackGasLimit     uint32
	NumWords             uint32
	Consumer             string
}

// Coordinator accepts randomness requests synchronously and delivers the
// words later through the consumer's FulfillRandomWords.
type Coordinator interface {
	RequestRandomWords(ctx context.Context, request RandomWordsRequest) (uint64, error)
}

type Consumer interface {
	FulfillRandomWords(ctx context.Context, requestID uint64, words []*big.Int) error
}
