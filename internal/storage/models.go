package storage

import "time"

type DrawState = uint8

const (
	DrawStateOpen        DrawState = 0
	DrawStateCalculating DrawState = 1
)

type DrawStatus = string

const (
	DrawStatusRequested DrawStatus = "requested"
	DrawStatusResolved  DrawStatus = "resolved"
	DrawStatusCancelled DrawStatus = "cancelled"

	// external payouts: the draw is resolved first, the prize is held in
	// escrow until the broadcast outcome is known
	DrawStatusPayoutPending DrawStatus = "payout_pending"
	DrawStatusPaid          DrawStatus = "paid"
	DrawStatusPayoutFailed  DrawStatus = "payout_failed"
	DrawStatusPayoutUnknown DrawStatus = "payout_unknown"
)

type LotteryState struct {
	Name                  string    `gorm:"primaryKey"`
	State                 DrawState `gorm:"default:0"`
	PoolBalance           uint64    `gorm:"default:0"`
	LastDrawAt            time.Time `gorm:"not null"`
	HasOutstandingRequest bool      `gorm:"default:false"`
	OutstandingRequestID  uint64    `gorm:"default:0"`
	RecentWinner          string
}

type Entrant struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Lottery   string    `gorm:"index;not null"`
	Address   string    `gorm:"not null"`
	Stake     uint64    `gorm:"not null"`
	EnteredAt time.Time `gorm:"not null"`
}

type Draw struct {
	ID          string     `gorm:"primaryKey"`
	Lottery     string     `gorm:"uniqueIndex:idx_draw_lottery_request;not null"`
	RequestID   uint64     `gorm:"uniqueIndex:idx_draw_lottery_request;not null"`
	Status      DrawStatus `gorm:"not null"`
	Entrants    int64      `gorm:"default:0"`
	Pool        uint64     `gorm:"default:0"`
	Amount      uint64     `gorm:"default:0"`
	RequestedAt time.Time  `gorm:"not null"`
	Winner      string
	RandomValue string
	PayoutHash  string
	PayoutError string
	ResolvedAt  *time.Time
}

type Balance struct {
	Address string `gorm:"primaryKey"`
	Amount  uint64 `gorm:"default:0"`
}

type Subscription struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	Balance uint64 `gorm:"default:0"`
}

type SubscriptionConsumer struct {
	SubscriptionID uint64 `gorm:"primaryKey"`
	Consumer       string `gorm:"primaryKey"`
}

type RandomnessRequest struct {
	RequestID        uint64    `gorm:"primaryKey;autoIncrement"`
	SubscriptionID   uint64    `gorm:"index;not null"`
	Consumer         string    `gorm:"not null"`
	MinConfirmations uint16    `gorm:"default:0"`
	CallbackGasLimit uint32    `gorm:"default:0"`
	NumWords         uint32    `gorm:"not null"`
	Fulfilled        bool      `gorm:"index;default:false"`
	CreatedAt        time.Time `gorm:"not null"`
	KeyHash          string
	Seed             []byte
	FulfilledAt      *time.Time
}
