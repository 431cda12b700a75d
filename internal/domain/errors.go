package domain

import "errors"

var (
	// ErrStateCountMismatch is returned when a security's payoff vector length
	// disagrees with the session's established number of states. Fatal at init.
	ErrStateCountMismatch = errors.New("payoff state count mismatch")

	// ErrInvalidPayoff is returned for malformed payoff descriptions.
	ErrInvalidPayoff = errors.New("invalid payoff")

	// ErrInvalidSecurity is returned for inconsistent price bounds or tick.
	ErrInvalidSecurity = errors.New("invalid security")

	// ErrUnknownMarket is returned when an event references a market the
	// session does not trade.
	ErrUnknownMarket = errors.New("unknown market")
)
