package lottery

import "errors"

var (
	ErrInsufficientEntryFee = errors.New("lottery: insufficient entry fee")
	ErrNotOpen              = errors.New("lottery: not open")
	ErrUpkeepNotNeeded      = errors.New("lottery: upkeep not needed")
	ErrUnknownRequest       = errors.New("lottery: unknown request")
	ErrTransferFailed       = errors.New("lottery: transfer failed")
	ErrIndexOutOfRange      = errors.New("lottery: index out of range")

	ErrInvalidAddress     = errors.New("lottery: invalid address")
	ErrInvalidRandomValue = errors.New("lottery: invalid random value")
	ErrPoolOverflow       = errors.New("lottery: pool overflow")
	ErrRequestFailed      = errors.New("lottery: randomness request failed")
	ErrRecoveryDisabled   = errors.New("lottery: draw recovery disabled")
	ErrNotCalculating     = errors.New("lottery: no draw in flight")
	ErrDrawNotStale       = errors.New("lottery: draw not stale yet")
	ErrInvalidConfig      = errors.New("lottery: invalid config")
)
