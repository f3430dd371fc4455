package lottery

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"lottery/internal/blockchain"
	"lottery/internal/events"
	"lottery/internal/logger"
	"lottery/internal/storage"
	"lottery/internal/vrf"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// maxPool bounds the pool so it always fits a signed sqlite integer.
const maxPool = math.MaxInt64

type State uint8

const (
	StateOpen        State = State(storage.DrawStateOpen)
	StateCalculating State = State(storage.DrawStateCalculating)
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateCalculating:
		return "CALCULATING"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

type Config struct {
	Name             string
	EntranceFee      uint64
	Interval         time.Duration
	KeyHash          string
	SubscriptionID   uint64
	CallbackGasLimit uint32
	// DrawTimeout enables CancelStaleDraw when positive.
	DrawTimeout time.Duration
}

func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidConfig)
	}
	if c.EntranceFee == 0 {
		return fmt.Errorf("%w: entrance fee must be positive", ErrInvalidConfig)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if c.DrawTimeout < 0 {
		return fmt.Errorf("%w: negative draw timeout", ErrInvalidConfig)
	}
	return nil
}

// Lottery is one draw instance. Mutations are serialized by mu and each is a
// single storage transaction; events are published after commit.
type Lottery struct {
	mu          sync.Mutex
	config      Config
	storage     storage.Storage
	coordinator vrf.Coordinator
	transferer  blockchain.Transferer
	clock       clock.Clock
	sink        events.Sink
}

func New(config Config, s storage.Storage, coordinator vrf.Coordinator, transferer blockchain.Transferer, c clock.Clock, sink events.Sink) (*Lottery, error) {

	if err := config.Validate(); err != nil {
		return nil, err
	}

	if c == nil {
		c = clock.New()
	}

	if sink == nil {
		sink = events.Noop{}
	}

	state, err := s.EnsureLotteryState(&storage.LotteryState{
		Name:       config.Name,
		State:      storage.DrawStateOpen,
		LastDrawAt: c.Now(),
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("lottery: initialized",
		zap.String("lottery", config.Name),
		zap.Uint64("entrance fee", config.EntranceFee),
		zap.Duration("interval", config.Interval),
		zap.String("state", State(state.State).String()),
	)

	return &Lottery{
		config:      config,
		storage:     s,
		coordinator: coordinator,
		transferer:  transferer,
		clock:       c,
		sink:        sink,
	}, nil
}

func (l *Lottery) Name() string {
	return l.config.Name
}

func (l *Lottery) EntranceFee() uint64 {
	return l.config.EntranceFee
}

func (l *Lottery) Interval() time.Duration {
	return l.config.Interval
}

func (l *Lottery) NumWords() uint32 {
	return vrf.NumWords
}

func (l *Lottery) RequestConfirmations() uint16 {
	return vrf.RequestConfirmations
}

func (l *Lottery) State(_ context.Context) (State, error) {
	state, err := l.storage.GetLotteryState(l.config.Name)
	if err != nil {
		return 0, err
	}
	return State(state.State), nil
}

func (l *Lottery) PoolBalance(_ context.Context) (uint64, error) {
	state, err := l.storage.GetLotteryState(l.config.Name)
	if err != nil {
		return 0, err
	}
	return state.PoolBalance, nil
}

func (l *Lottery) LastDrawAt(_ context.Context) (time.Time, error) {
	state, err := l.storage.GetLotteryState(l.config.Name)
	if err != nil {
		return time.Time{}, err
	}
	return state.LastDrawAt, nil
}

func (l *Lottery) RecentWinner(_ context.Context) (string, error) {
	state, err := l.storage.GetLotteryState(l.config.Name)
	if err != nil {
		return "", err
	}
	return state.RecentWinner, nil
}

// OutstandingRequest reports the in-flight request id, if any.
func (l *Lottery) OutstandingRequest(_ context.Context) (uint64, bool, error) {
	state, err := l.storage.GetLotteryState(l.config.Name)
	if err != nil {
		return 0, false, err
	}
	return state.OutstandingRequestID, state.HasOutstandingRequest, nil
}

func (l *Lottery) HasOutstandingRequest(ctx context.Context) (bool, error) {
	_, ok, err := l.OutstandingRequest(ctx)
	return ok, err
}

type Snapshot struct {
	Name                  string
	State                 State
	EntranceFee           uint64
	Interval              time.Duration
	PoolBalance           uint64
	Entrants              int64
	LastDrawAt            time.Time
	RecentWinner          string
	HasOutstandingRequest bool
	OutstandingRequestID  uint64
}

func (l *Lottery) Snapshot(_ context.Context) (*Snapshot, error) {
	var snapshot *Snapshot
	err := l.storage.Transaction(func(tx storage.Storage) error {
		state, err := tx.GetLotteryState(l.config.Name)
		if err != nil {
			return err
		}

		count, err := tx.CountEntrants(l.config.Name)
		if err != nil {
			return err
		}

		snapshot = &Snapshot{
			Name:                  l.config.Name,
			State:                 State(state.State),
			EntranceFee:           l.config.EntranceFee,
			Interval:              l.config.Interval,
			PoolBalance:           state.PoolBalance,
			Entrants:              count,
			LastDrawAt:            state.LastDrawAt,
			RecentWinner:          state.RecentWinner,
			HasOutstandingRequest: state.HasOutstandingRequest,
			OutstandingRequestID:  state.OutstandingRequestID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return snapshot, nil
}

func (l *Lottery) Draws(_ context.Context, limit int) ([]*storage.Draw, error) {
	return l.storage.GetDraws(l.config.Name, limit)
}

func (l *Lottery) DrawsByStatus(_ context.Context, status storage.DrawStatus) ([]*storage.Draw, error) {
	return l.storage.GetDrawsByStatus(l.config.Name, status)
}
