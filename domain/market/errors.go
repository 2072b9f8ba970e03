package market

import (
	"errors"
	"fmt"
)

// ErrRejected is the root of all pre-mutation rejections. A rejected
// transaction leaves every piece of engine state untouched.
var ErrRejected = errors.New("rejected")

var (
	ErrBadPrice          = fmt.Errorf("%w: non-positive price", ErrRejected)
	ErrBadAmount         = fmt.Errorf("%w: non-positive amount", ErrRejected)
	ErrBadAddress        = fmt.Errorf("%w: empty address", ErrRejected)
	ErrUnknownMarket     = fmt.Errorf("%w: unknown market", ErrRejected)
	ErrInsufficientFunds = fmt.Errorf("%w: insufficient available balance", ErrRejected)
	ErrOrderNotFound     = fmt.Errorf("%w: order not found", ErrRejected)
)
