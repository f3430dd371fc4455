package events

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindEntryAccepted  Kind = "entry_accepted"
	KindDrawRequested  Kind = "draw_requested"
	KindWinnerResolved Kind = "winner_resolved"
	KindDrawCancelled  Kind = "draw_cancelled"
	KindPayoutFailed   Kind = "payout_failed"
)

// Event is a committed lottery state change. Only the fields relevant to
// Kind are set.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Lottery   string    `json:"lottery"`
	Address   string    `json:"address,omitempty"`
	Amount    uint64    `json:"amount,omitempty"`
	RequestID uint64    `json:"requestId,omitempty"`
	At        time.Time `json:"at"`
}

func newEvent(kind Kind, lottery string, at time.Time) Event {
	return Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		Lottery: lottery,
		At:      at,
	}
}

func EntryAccepted(lottery string, address string, stake uint64, at time.Time) Event {
	ev := newEvent(KindEntryAccepted, lottery, at)
	ev.Address = address
	ev.Amount = stake
	return ev
}

func DrawRequested(lottery string, requestID uint64, at time.Time) Event {
	ev := newEvent(KindDrawRequested, lottery, at)
	ev.RequestID = requestID
	return ev
}

func WinnerResolved(lottery string, winner string, requestID uint64, amount uint64, at time.Time) Event {
	ev := newEvent(KindWinnerResolved, lottery, at)
	ev.Address = winner
	ev.RequestID = requestID
	ev.Amount = amount
	return ev
}

func DrawCancelled(lottery string, requestID uint64, at time.Time) Event {
	ev := newEvent(KindDrawCancelled, lottery, at)
	ev.RequestID = requestID
	return ev
}

// PayoutFailed reports a resolved draw whose prize could not be broadcast.
func PayoutFailed(lottery string, winner string, requestID uint64, amount uint64, at time.Time) Event {
	ev := newEvent(KindPayoutFailed, lottery, at)
	ev.Address = winner
	ev.RequestID = requestID
	ev.Amount = amount
	return ev
}
