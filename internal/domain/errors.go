package domain

import "errors"

var (
	ErrTicketNotFound      = errors.New("ticket not found")
	ErrTicketClosed        = errors.New("ticket is not open")
	ErrAgentNotFound       = errors.New("agent not found")
	ErrAgentDisabled       = errors.New("agent disabled")
	ErrAssignmentConflict  = errors.New("assignment conflict")
	ErrCapacityExceeded    = errors.New("agent at capacity")
	ErrRuleNotFound        = errors.New("rule not found")
	ErrInvalidRule         = errors.New("invalid rule")
	ErrRebalanceInProgress = errors.New("rebalance already in progress")
)
